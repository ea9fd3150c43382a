// README: Bench cases; HTTP flow, DB/Redis consistency and throughput checks.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"ridecore/internal/modules/driver"
	"ridecore/internal/types"
)

const (
	statusPass = "PASS"
	statusFail = "FAIL"
	statusSkip = "SKIP"
)

type Runner struct {
	cfg   Config
	httpc *http.Client
	db    *pgxpool.Pool
	redis *redis.Client

	// state carried between flow cases
	rideID    string
	winnerTok string
	driverUID string
	riderBody map[string]any
}

type Result struct {
	Name    string
	Status  string
	Latency time.Duration
	Note    string
}

type TestCase struct {
	Name string
	Run  func(ctx context.Context, r *Runner) Result
}

func NewRunner(cfg Config) *Runner {
	return &Runner{
		cfg:   cfg,
		httpc: &http.Client{Timeout: 10 * time.Second},
		riderBody: map[string]any{
			"pickup":      map[string]float64{"lat": 25.033, "lng": 121.565},
			"destination": map[string]float64{"lat": 25.0478, "lng": 121.5318},
			// keeps the bench independent of the maps backend
			"distance_meters":  4200,
			"duration_seconds": 780,
		},
	}
}

func (r *Runner) RunAll(ctx context.Context) []Result {
	if r.cfg.DSN != "" {
		if db, err := pgxpool.New(ctx, r.cfg.DSN); err == nil {
			r.db = db
		}
	}
	if r.cfg.RedisAddr != "" {
		r.redis = redis.NewClient(&redis.Options{Addr: r.cfg.RedisAddr})
	}

	tests := r.cases()
	results := make([]Result, 0, len(tests))

	for _, tc := range tests {
		res := tc.Run(ctx, r)
		res.Name = tc.Name
		results = append(results, res)
		fmt.Printf("%-5s %s", res.Status, tc.Name)
		if res.Latency > 0 {
			fmt.Printf(" (%s)", res.Latency)
		}
		if res.Note != "" {
			fmt.Printf(" - %s", res.Note)
		}
		fmt.Println()
	}

	if r.db != nil {
		r.db.Close()
	}
	if r.redis != nil {
		_ = r.redis.Close()
	}
	return results
}

func (r *Runner) cases() []TestCase {
	return []TestCase{
		{Name: "Env: Postgres connect", Run: func(ctx context.Context, r *Runner) Result {
			if r.db == nil {
				return Result{Status: statusSkip, Note: "db not configured"}
			}
			ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
			defer cancel()
			if err := r.db.Ping(ctx); err != nil {
				return Result{Status: statusFail, Note: err.Error()}
			}
			return Result{Status: statusPass}
		}},
		{Name: "Env: Redis connect", Run: func(ctx context.Context, r *Runner) Result {
			if r.redis == nil {
				return Result{Status: statusSkip, Note: "redis not configured"}
			}
			ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
			defer cancel()
			if err := r.redis.Ping(ctx).Err(); err != nil {
				return Result{Status: statusFail, Note: err.Error()}
			}
			return Result{Status: statusPass}
		}},
		{Name: "Migration: apply", Run: applyMigration},
		{Name: "Migration: tables exist", Run: tablesExist},
		{Name: "API: health", Run: func(ctx context.Context, r *Runner) Result {
			code, _, latency, err := r.call(ctx, http.MethodGet, "/health", "", nil)
			return expect(code, latency, err, http.StatusOK)
		}},

		needTokens(TestCase{Name: "Driver: go online", Run: func(ctx context.Context, r *Runner) Result {
			code, _, latency, err := r.call(ctx, http.MethodPost, "/api/drivers/me/online", r.cfg.DriverToken, nil)
			if res := expect(code, latency, err, http.StatusOK); res.Status != statusPass {
				return res
			}
			code, _, latency, err = r.call(ctx, http.MethodPost, "/api/drivers/me/online", r.cfg.Driver2Token, nil)
			return expect(code, latency, err, http.StatusOK)
		}}),
		needTokens(TestCase{Name: "Driver: report location", Run: func(ctx context.Context, r *Runner) Result {
			code, body, latency, err := r.call(ctx, http.MethodPut, "/api/drivers/me/location", r.cfg.DriverToken,
				map[string]float64{"lat": 25.0335, "lng": 121.5651})
			if res := expect(code, latency, err, http.StatusOK); res.Status != statusPass {
				return res
			}
			code, body, _, err = r.call(ctx, http.MethodGet, "/api/drivers/me", r.cfg.DriverToken, nil)
			if err != nil || code != http.StatusOK {
				return Result{Status: statusFail, Note: fmt.Sprintf("me status=%d err=%v", code, err)}
			}
			var me struct {
				ID string `json:"driver_id"`
			}
			_ = json.Unmarshal(body, &me)
			r.driverUID = me.ID
			return Result{Status: statusPass, Latency: latency}
		}}),
		needTokens(TestCase{Name: "Driver: location out of range -> 400", Run: func(ctx context.Context, r *Runner) Result {
			code, _, latency, err := r.call(ctx, http.MethodPut, "/api/drivers/me/location", r.cfg.DriverToken,
				map[string]float64{"lat": 123, "lng": 456})
			return expect(code, latency, err, http.StatusBadRequest)
		}}),
		needTokens(TestCase{Name: "Directory: nearby finds driver", Run: func(ctx context.Context, r *Runner) Result {
			code, body, latency, err := r.call(ctx, http.MethodGet, "/api/drivers/nearby?lat=25.033&lng=121.565&radius_km=1", r.cfg.RiderToken, nil)
			if res := expect(code, latency, err, http.StatusOK); res.Status != statusPass {
				return res
			}
			if r.driverUID == "" || !bytes.Contains(body, []byte(`"driver_id":"`+r.driverUID+`"`)) {
				return Result{Status: statusFail, Latency: latency, Note: "driver missing from nearby"}
			}
			return Result{Status: statusPass, Latency: latency}
		}}),
		{Name: "Redis: driver in geo index", Run: func(ctx context.Context, r *Runner) Result {
			if r.redis == nil || r.driverUID == "" {
				return Result{Status: statusSkip, Note: "redis or driver not available"}
			}
			start := time.Now()
			ids, err := driver.NewGeoIndex(r.redis).NearbyIDs(ctx, types.Point{Lat: 25.033, Lng: 121.565}, 1)
			latency := time.Since(start)
			if err != nil {
				return Result{Status: statusFail, Latency: latency, Note: err.Error()}
			}
			for _, id := range ids {
				if string(id) == r.driverUID {
					return Result{Status: statusPass, Latency: latency}
				}
			}
			return Result{Status: statusFail, Latency: latency, Note: "driver not indexed near its reported fix"}
		}},

		needTokens(TestCase{Name: "Ride: request", Run: func(ctx context.Context, r *Runner) Result {
			code, body, latency, err := r.call(ctx, http.MethodPost, "/api/rides", r.cfg.RiderToken, r.riderBody)
			if res := expect(code, latency, err, http.StatusCreated); res.Status != statusPass {
				return res
			}
			var created struct {
				ID string `json:"id"`
			}
			if err := json.Unmarshal(body, &created); err != nil || created.ID == "" {
				return Result{Status: statusFail, Note: "no ride id in response"}
			}
			r.rideID = created.ID
			return Result{Status: statusPass, Latency: latency, Note: "ride=" + created.ID}
		}}),
		needTokens(TestCase{Name: "Ride: missing destination -> 400", Run: func(ctx context.Context, r *Runner) Result {
			code, _, latency, err := r.call(ctx, http.MethodPost, "/api/rides", r.cfg.RiderToken,
				map[string]any{"pickup": map[string]float64{"lat": 25.033, "lng": 121.565}})
			return expect(code, latency, err, http.StatusBadRequest)
		}}),
		needRide(TestCase{Name: "Ride: rider cannot accept -> 403", Run: func(ctx context.Context, r *Runner) Result {
			code, _, latency, err := r.call(ctx, http.MethodPost, "/api/rides/"+r.rideID+"/accept", r.cfg.RiderToken, nil)
			return expect(code, latency, err, http.StatusForbidden)
		}}),
		needRide(TestCase{Name: "Concurrency: multi accept same ride", Run: concurrentAccept}),
		needRide(TestCase{Name: "Ride: loser cannot start -> 403", Run: func(ctx context.Context, r *Runner) Result {
			loser := r.cfg.DriverToken
			if r.winnerTok == loser {
				loser = r.cfg.Driver2Token
			}
			code, _, latency, err := r.call(ctx, http.MethodPost, "/api/rides/"+r.rideID+"/start", loser, nil)
			return expect(code, latency, err, http.StatusForbidden)
		}}),
		needRide(TestCase{Name: "Ride: start and complete", Run: func(ctx context.Context, r *Runner) Result {
			var total time.Duration
			for _, step := range []string{"start", "complete"} {
				code, _, latency, err := r.call(ctx, http.MethodPost, "/api/rides/"+r.rideID+"/"+step, r.winnerTok, nil)
				if res := expect(code, latency, err, http.StatusOK); res.Status != statusPass {
					res.Note = step + ": " + res.Note
					return res
				}
				total += latency
			}
			return Result{Status: statusPass, Latency: total}
		}}),
		needRide(TestCase{Name: "Ride: completed cannot cancel -> 409", Run: func(ctx context.Context, r *Runner) Result {
			code, _, latency, err := r.call(ctx, http.MethodPost, "/api/rides/"+r.rideID+"/cancel", r.cfg.RiderToken,
				map[string]string{"reason": "change_plans"})
			return expect(code, latency, err, http.StatusConflict)
		}}),
		needRide(TestCase{Name: "Ride: history lists ride", Run: func(ctx context.Context, r *Runner) Result {
			code, body, latency, err := r.call(ctx, http.MethodGet, "/api/rides/history", r.cfg.RiderToken, nil)
			if res := expect(code, latency, err, http.StatusOK); res.Status != statusPass {
				return res
			}
			if !bytes.Contains(body, []byte(r.rideID)) {
				return Result{Status: statusFail, Latency: latency, Note: "ride missing from history"}
			}
			return Result{Status: statusPass, Latency: latency}
		}}),
		{Name: "Consistency: version and event log", Run: func(ctx context.Context, r *Runner) Result {
			if r.db == nil || r.rideID == "" {
				return Result{Status: statusSkip, Note: "db or ride not available"}
			}
			var version, events int
			err := r.db.QueryRow(ctx, `SELECT version FROM rides WHERE id = $1`, r.rideID).Scan(&version)
			if err != nil {
				return Result{Status: statusFail, Note: err.Error()}
			}
			err = r.db.QueryRow(ctx, `SELECT COUNT(*) FROM ride_state_events WHERE ride_id = $1`, r.rideID).Scan(&events)
			if err != nil {
				return Result{Status: statusFail, Note: err.Error()}
			}
			if version != 4 || events != 4 {
				return Result{Status: statusFail, Note: fmt.Sprintf("version=%d events=%d", version, events)}
			}
			return Result{Status: statusPass}
		}},

		needTokens(TestCase{Name: "Perf: location update throughput", Run: func(ctx context.Context, r *Runner) Result {
			return perfLoad(ctx, r, http.MethodPut, "/api/drivers/me/location", r.cfg.DriverToken,
				map[string]float64{"lat": 25.033, "lng": 121.565})
		}}),
		needTokens(TestCase{Name: "Perf: request ride throughput", Run: func(ctx context.Context, r *Runner) Result {
			return perfLoad(ctx, r, http.MethodPost, "/api/rides", r.cfg.RiderToken, r.riderBody)
		}}),
		needTokens(TestCase{Name: "Driver: go offline", Run: func(ctx context.Context, r *Runner) Result {
			code, _, latency, err := r.call(ctx, http.MethodPost, "/api/drivers/me/offline", r.cfg.DriverToken, nil)
			_, _, _, _ = r.call(ctx, http.MethodPost, "/api/drivers/me/offline", r.cfg.Driver2Token, nil)
			return expect(code, latency, err, http.StatusOK)
		}}),
	}
}

func needTokens(tc TestCase) TestCase {
	run := tc.Run
	tc.Run = func(ctx context.Context, r *Runner) Result {
		if r.cfg.RiderToken == "" || r.cfg.DriverToken == "" || r.cfg.Driver2Token == "" {
			return Result{Status: statusSkip, Note: "rider/driver tokens not set"}
		}
		return run(ctx, r)
	}
	return tc
}

func needRide(tc TestCase) TestCase {
	run := tc.Run
	tc.Run = func(ctx context.Context, r *Runner) Result {
		if r.rideID == "" {
			return Result{Status: statusSkip, Note: "no ride created"}
		}
		return run(ctx, r)
	}
	return needTokens(tc)
}

func (r *Runner) call(ctx context.Context, method, path, token string, body any) (int, []byte, time.Duration, error) {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return 0, nil, 0, err
		}
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, r.cfg.BaseURL+path, reader)
	if err != nil {
		return 0, nil, 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	start := time.Now()
	resp, err := r.httpc.Do(req)
	if err != nil {
		return 0, nil, 0, err
	}
	defer resp.Body.Close()
	out, err := io.ReadAll(resp.Body)
	return resp.StatusCode, out, time.Since(start), err
}

func expect(code int, latency time.Duration, err error, want int) Result {
	if err != nil {
		return Result{Status: statusFail, Note: err.Error()}
	}
	if code != want {
		return Result{Status: statusFail, Latency: latency, Note: fmt.Sprintf("status=%d want=%d", code, want)}
	}
	return Result{Status: statusPass, Latency: latency, Note: fmt.Sprintf("status=%d", code)}
}

// concurrentAccept races both drivers on the same ride; exactly one accept
// may succeed and every other attempt must see 409.
func concurrentAccept(ctx context.Context, r *Runner) Result {
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succ      int
		conflicts int
		other     []int
	)
	start := make(chan struct{})
	for i := 0; i < r.cfg.Concurrency; i++ {
		tok := r.cfg.DriverToken
		if i%2 == 1 {
			tok = r.cfg.Driver2Token
		}
		wg.Add(1)
		go func(tok string) {
			defer wg.Done()
			<-start
			code, _, _, err := r.call(ctx, http.MethodPost, "/api/rides/"+r.rideID+"/accept", tok, nil)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err != nil:
				other = append(other, 0)
			case code == http.StatusOK:
				succ++
				r.winnerTok = tok
			case code == http.StatusConflict:
				conflicts++
			default:
				other = append(other, code)
			}
		}(tok)
	}
	close(start)
	wg.Wait()

	note := fmt.Sprintf("success=%d conflicts=%d other=%v", succ, conflicts, other)
	if succ != 1 || len(other) > 0 {
		return Result{Status: statusFail, Note: note}
	}
	return Result{Status: statusPass, Note: note}
}

func perfLoad(ctx context.Context, r *Runner, method, path, token string, payload any) Result {
	end := time.Now().Add(r.cfg.Duration)
	var (
		count    int64
		errCount int64
		mu       sync.Mutex
		wg       sync.WaitGroup
	)
	for i := 0; i < r.cfg.Concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for time.Now().Before(end) && ctx.Err() == nil {
				code, _, _, err := r.call(ctx, method, path, token, payload)
				mu.Lock()
				if err != nil || code >= 500 {
					errCount++
				} else {
					count++
				}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if count == 0 {
		return Result{Status: statusFail, Note: "no requests completed"}
	}
	rps := float64(count) / r.cfg.Duration.Seconds()
	return Result{Status: statusPass, Note: fmt.Sprintf("rps=%.1f errors=%d", rps, errCount)}
}

func applyMigration(ctx context.Context, r *Runner) Result {
	if !r.cfg.ApplyMigration {
		return Result{Status: statusSkip, Note: "apply-migration=false"}
	}
	if r.db == nil {
		return Result{Status: statusFail, Note: "db not configured"}
	}
	sql, err := os.ReadFile(r.cfg.MigrationPath)
	if err != nil {
		return Result{Status: statusFail, Note: err.Error()}
	}
	for _, s := range splitSQL(string(sql)) {
		if _, err := r.db.Exec(ctx, s); err != nil {
			return Result{Status: statusFail, Note: err.Error()}
		}
	}
	return Result{Status: statusPass}
}

func tablesExist(ctx context.Context, r *Runner) Result {
	if r.db == nil {
		return Result{Status: statusSkip, Note: "db not configured"}
	}
	tables, err := extractTables(r.cfg.MigrationPath)
	if err != nil {
		return Result{Status: statusFail, Note: err.Error()}
	}
	for _, t := range tables {
		var exists bool
		err := r.db.QueryRow(ctx,
			"SELECT EXISTS (SELECT 1 FROM information_schema.tables WHERE table_name=$1)",
			t,
		).Scan(&exists)
		if err != nil {
			return Result{Status: statusFail, Note: err.Error()}
		}
		if !exists {
			return Result{Status: statusFail, Note: "missing table: " + t}
		}
	}
	return Result{Status: statusPass, Note: fmt.Sprintf("%d tables", len(tables))}
}

func extractTables(path string) ([]string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	re := regexp.MustCompile(`(?i)create\s+table\s+if\s+not\s+exists\s+([a-zA-Z0-9_]+)`)
	matches := re.FindAllStringSubmatch(string(b), -1)
	tables := make([]string, 0, len(matches))
	for _, m := range matches {
		tables = append(tables, m[1])
	}
	return tables, nil
}

func splitSQL(sql string) []string {
	lines := strings.Split(sql, "\n")
	filtered := make([]string, 0, len(lines))
	for _, line := range lines {
		l := strings.TrimSpace(line)
		if strings.HasPrefix(l, "--") || l == "" {
			continue
		}
		filtered = append(filtered, line)
	}
	parts := strings.Split(strings.Join(filtered, "\n"), ";")
	stmts := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			stmts = append(stmts, s)
		}
	}
	return stmts
}
