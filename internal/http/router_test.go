// README: End-to-end API tests over the full router with in-memory stores.
package http_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	httptransport "ridecore/internal/http"
	"ridecore/internal/infra"
	"ridecore/internal/modules/driver"
	"ridecore/internal/modules/pricing"
	"ridecore/internal/modules/ride"
	"ridecore/internal/modules/tracking"
	"ridecore/internal/storage/memory"
)

// tokenVerifier accepts tokens of the form "uid:role".
type tokenVerifier struct{}

func (tokenVerifier) VerifyIDToken(_ context.Context, raw string) (*infra.FirebaseToken, error) {
	uid, role, ok := strings.Cut(raw, ":")
	if !ok || uid == "" {
		return nil, errors.New("bad token")
	}
	return &infra.FirebaseToken{UID: uid, Claims: map[string]interface{}{"role": role}}, nil
}

type testAPI struct {
	router    *gin.Engine
	directory *driver.Directory
	tracking  *tracking.Manager
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	gin.SetMode(gin.TestMode)
	dir := driver.NewDirectory()
	mgr := tracking.NewManager(dir, tracking.Config{}, 16)
	t.Cleanup(mgr.StopAll)

	rides := ride.NewService(memory.NewRideStore(), pricing.NewService(nil), ride.Deps{Drivers: dir})
	r := httptransport.NewRouter(httptransport.RouterDeps{
		Rides:           rides,
		Directory:       dir,
		Tracking:        mgr,
		Verifier:        tokenVerifier{},
		DefaultRadiusKm: 5,
	})
	return &testAPI{router: r, directory: dir, tracking: mgr}
}

func (a *testAPI) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	a.router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(w.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %s: %v", w.Body.String(), err)
	}
	return v
}

const (
	riderToken   = "rider1:rider"
	strangerTok  = "rider2:rider"
	driverToken  = "d1:driver"
	driver2Token = "d2:driver"
)

var rideBody = map[string]any{
	"pickup":           map[string]float64{"lat": 37.7749, "lng": -122.4194},
	"destination":      map[string]float64{"lat": 37.8044, "lng": -122.2712},
	"distance_meters":  12000,
	"duration_seconds": 1500,
}

func TestHealth(t *testing.T) {
	a := newTestAPI(t)
	w := a.do(t, http.MethodGet, "/health", "", nil)
	if w.Code != http.StatusOK || w.Body.String() != "OK" {
		t.Errorf("health = %d %q", w.Code, w.Body.String())
	}
}

func TestAPI_RequiresAuth(t *testing.T) {
	a := newTestAPI(t)
	if w := a.do(t, http.MethodPost, "/api/rides", "", rideBody); w.Code != http.StatusUnauthorized {
		t.Errorf("no token: expected 401, got %d", w.Code)
	}
	if w := a.do(t, http.MethodPost, "/api/rides", "rider1:admin", rideBody); w.Code != http.StatusForbidden {
		t.Errorf("bad role: expected 403, got %d", w.Code)
	}
}

func TestAPI_RideFlow(t *testing.T) {
	a := newTestAPI(t)

	if w := a.do(t, http.MethodPost, "/api/drivers/me/online", driverToken, nil); w.Code != http.StatusOK {
		t.Fatalf("online: %d %s", w.Code, w.Body.String())
	}

	w := a.do(t, http.MethodPost, "/api/rides", riderToken, rideBody)
	if w.Code != http.StatusCreated {
		t.Fatalf("request: %d %s", w.Code, w.Body.String())
	}
	created := decode[ride.Ride](t, w)
	if created.Status != ride.StatusPending || created.Fare.TotalFare != 29.25 {
		t.Fatalf("unexpected ride: %+v", created)
	}
	path := "/api/rides/" + string(created.ID)

	if w := a.do(t, http.MethodGet, path, driver2Token, nil); w.Code != http.StatusOK {
		t.Errorf("pending ride should be visible to drivers, got %d", w.Code)
	}
	if w := a.do(t, http.MethodGet, path, strangerTok, nil); w.Code != http.StatusForbidden {
		t.Errorf("stranger get: expected 403, got %d", w.Code)
	}
	if w := a.do(t, http.MethodPost, path+"/accept", riderToken, nil); w.Code != http.StatusForbidden {
		t.Errorf("rider accept: expected 403, got %d", w.Code)
	}
	if w := a.do(t, http.MethodPost, path+"/accept", driver2Token, nil); w.Code != http.StatusForbidden {
		t.Errorf("offline driver accept: expected 403, got %d", w.Code)
	}

	w = a.do(t, http.MethodPost, path+"/accept", driverToken, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("accept: %d %s", w.Code, w.Body.String())
	}
	if got := decode[ride.Ride](t, w); got.Status != ride.StatusAccepted || got.DriverID == nil || *got.DriverID != "d1" {
		t.Errorf("unexpected accepted ride: %+v", got)
	}
	if w := a.do(t, http.MethodPost, path+"/accept", driverToken, nil); w.Code != http.StatusConflict {
		t.Errorf("second accept: expected 409, got %d", w.Code)
	}
	if w := a.do(t, http.MethodGet, path, driver2Token, nil); w.Code != http.StatusForbidden {
		t.Errorf("accepted ride hidden from other drivers, got %d", w.Code)
	}
	if w := a.do(t, http.MethodPost, path+"/start", driver2Token, nil); w.Code != http.StatusForbidden {
		t.Errorf("other driver start: expected 403, got %d", w.Code)
	}

	for _, step := range []string{"start", "complete"} {
		if w := a.do(t, http.MethodPost, path+"/"+step, driverToken, nil); w.Code != http.StatusOK {
			t.Fatalf("%s: %d %s", step, w.Code, w.Body.String())
		}
	}
	if w := a.do(t, http.MethodPost, path+"/cancel", riderToken, map[string]string{"reason": "late"}); w.Code != http.StatusConflict {
		t.Errorf("cancel completed: expected 409, got %d", w.Code)
	}

	w = a.do(t, http.MethodGet, "/api/rides/history", riderToken, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("history: %d", w.Code)
	}
	hist := decode[struct {
		Rides []ride.Ride `json:"rides"`
	}](t, w)
	if len(hist.Rides) != 1 || hist.Rides[0].Status != ride.StatusCompleted || hist.Rides[0].Version != 4 {
		t.Errorf("unexpected history: %+v", hist.Rides)
	}

	w = a.do(t, http.MethodGet, "/api/rides/history", driver2Token, nil)
	if hist := decode[struct {
		Rides []ride.Ride `json:"rides"`
	}](t, w); hist.Rides == nil || len(hist.Rides) != 0 {
		t.Errorf("expected empty history list, got %s", w.Body.String())
	}
}

func TestAPI_Cancel(t *testing.T) {
	a := newTestAPI(t)
	created := decode[ride.Ride](t, a.do(t, http.MethodPost, "/api/rides", riderToken, rideBody))
	path := "/api/rides/" + string(created.ID)

	if w := a.do(t, http.MethodPost, path+"/cancel", strangerTok, nil); w.Code != http.StatusForbidden {
		t.Errorf("stranger cancel: expected 403, got %d", w.Code)
	}
	w := a.do(t, http.MethodPost, path+"/cancel", riderToken, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("cancel: %d %s", w.Code, w.Body.String())
	}
	got := decode[ride.Ride](t, w)
	if got.Status != ride.StatusCancelled || got.CancellationReason == nil || *got.CancellationReason != ride.DefaultCancellationReason {
		t.Errorf("unexpected cancelled ride: %+v", got)
	}
}

func TestAPI_CancelChunkedBody(t *testing.T) {
	a := newTestAPI(t)
	created := decode[ride.Ride](t, a.do(t, http.MethodPost, "/api/rides", riderToken, rideBody))

	req := httptest.NewRequest(http.MethodPost, "/api/rides/"+string(created.ID)+"/cancel",
		io.NopCloser(strings.NewReader(`{"reason":"changed plans"}`)))
	req.ContentLength = -1
	req.TransferEncoding = []string{"chunked"}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+riderToken)
	w := httptest.NewRecorder()
	a.router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("cancel: %d %s", w.Code, w.Body.String())
	}
	got := decode[ride.Ride](t, w)
	if got.CancellationReason == nil || *got.CancellationReason != "changed plans" {
		t.Errorf("reason not kept for chunked body: %v", got.CancellationReason)
	}
}

func TestAPI_ErrorMapping(t *testing.T) {
	a := newTestAPI(t)
	tests := []struct {
		name   string
		method string
		path   string
		token  string
		body   any
		want   int
	}{
		{"unknown ride", http.MethodGet, "/api/rides/nope", riderToken, nil, http.StatusNotFound},
		{"invalid ride id", http.MethodGet, "/api/rides/bad.id", riderToken, nil, http.StatusBadRequest},
		{"missing points", http.MethodPost, "/api/rides", riderToken, map[string]any{}, http.StatusBadRequest},
		{"latitude out of range", http.MethodPost, "/api/rides", riderToken, map[string]any{
			"pickup":           map[string]float64{"lat": 91, "lng": 0},
			"destination":      map[string]float64{"lat": 0, "lng": 0},
			"distance_meters":  1,
			"duration_seconds": 1,
		}, http.StatusBadRequest},
		{"no router and no estimate", http.MethodPost, "/api/rides", riderToken, map[string]any{
			"pickup":      map[string]float64{"lat": 1, "lng": 1},
			"destination": map[string]float64{"lat": 2, "lng": 2},
		}, http.StatusBadRequest},
		{"driver requests ride", http.MethodPost, "/api/rides", driverToken, rideBody, http.StatusForbidden},
		{"accept unknown", http.MethodPost, "/api/rides/nope/accept", driverToken, nil, http.StatusNotFound},
		{"rider location", http.MethodPut, "/api/drivers/me/location", riderToken, map[string]float64{"lat": 1, "lng": 1}, http.StatusForbidden},
		{"nearby without origin", http.MethodGet, "/api/drivers/nearby", riderToken, nil, http.StatusBadRequest},
		{"nearby negative radius", http.MethodGet, "/api/drivers/nearby?lat=1&lng=1&radius_km=-1", riderToken, nil, http.StatusBadRequest},
		{"places not configured", http.MethodGet, "/api/places/autocomplete?q=main", riderToken, nil, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := a.do(t, tt.method, tt.path, tt.token, tt.body)
			if w.Code != tt.want {
				t.Errorf("expected %d, got %d: %s", tt.want, w.Code, w.Body.String())
			}
		})
	}
}

func TestAPI_Quote(t *testing.T) {
	a := newTestAPI(t)
	w := a.do(t, http.MethodPost, "/api/rides/estimate", riderToken, rideBody)
	if w.Code != http.StatusOK {
		t.Fatalf("estimate: %d %s", w.Code, w.Body.String())
	}
	got := decode[struct {
		Estimate ride.Estimate     `json:"estimate"`
		Fare     pricing.Breakdown `json:"fare"`
	}](t, w)
	if got.Estimate.DistanceMeters != 12000 || got.Fare.TotalFare != 29.25 {
		t.Errorf("unexpected quote: %+v", got)
	}

	w = a.do(t, http.MethodPost, "/api/rides/estimate", riderToken, withField(rideBody, "surge", 2.0))
	if w.Code != http.StatusOK {
		t.Fatalf("surged estimate: %d %s", w.Code, w.Body.String())
	}
	got = decode[struct {
		Estimate ride.Estimate     `json:"estimate"`
		Fare     pricing.Breakdown `json:"fare"`
	}](t, w)
	if got.Fare.TotalFare != 58.5 {
		t.Errorf("surged quote total = %v, want 58.5", got.Fare.TotalFare)
	}
}

func TestAPI_RequestIgnoresClientSurge(t *testing.T) {
	a := newTestAPI(t)
	w := a.do(t, http.MethodPost, "/api/rides", riderToken, withField(rideBody, "surge", 0.01))
	if w.Code != http.StatusCreated {
		t.Fatalf("request: %d %s", w.Code, w.Body.String())
	}
	created := decode[ride.Ride](t, w)
	if created.Fare.TotalFare != 29.25 || created.Fare.Surge != 1 {
		t.Errorf("client surge leaked into fare: %+v", created.Fare)
	}
}

func withField(body map[string]any, key string, v any) map[string]any {
	out := make(map[string]any, len(body)+1)
	for k, val := range body {
		out[k] = val
	}
	out[key] = v
	return out
}

func TestAPI_DriverLocationAndNearby(t *testing.T) {
	a := newTestAPI(t)
	at := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	w := a.do(t, http.MethodPut, "/api/drivers/me/location", driverToken, map[string]any{"lat": 37.7750, "lng": -122.4195, "at": at})
	if w.Code != http.StatusOK || !decode[struct {
		Accepted bool `json:"accepted"`
	}](t, w).Accepted {
		t.Fatalf("location: %d %s", w.Code, w.Body.String())
	}
	// older fix is ignored
	w = a.do(t, http.MethodPut, "/api/drivers/me/location", driverToken, map[string]any{"lat": 0, "lng": 0, "at": at.Add(-time.Minute)})
	if decode[struct {
		Accepted bool `json:"accepted"`
	}](t, w).Accepted {
		t.Errorf("stale fix should not be accepted")
	}

	w = a.do(t, http.MethodGet, "/api/drivers/nearby?lat=37.7749&lng=-122.4194", riderToken, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("nearby: %d %s", w.Code, w.Body.String())
	}
	hits := decode[struct {
		Drivers []driver.Nearby `json:"drivers"`
	}](t, w).Drivers
	if len(hits) != 1 || hits[0].Driver.ID != "d1" {
		t.Errorf("unexpected nearby: %+v", hits)
	}

	if w := a.do(t, http.MethodPost, "/api/drivers/me/offline", driverToken, nil); w.Code != http.StatusOK {
		t.Fatalf("offline: %d", w.Code)
	}
	w = a.do(t, http.MethodGet, "/api/drivers/me", driverToken, nil)
	if rec := decode[driver.Record](t, w); rec.Online {
		t.Errorf("driver should be offline: %+v", rec)
	}
}

func TestAPI_DriverStream(t *testing.T) {
	a := newTestAPI(t)
	srv := httptest.NewServer(a.router)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/drivers/me/stream?access_token=" + driverToken
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}

	type ack struct {
		OK    bool   `json:"ok"`
		Error string `json:"error"`
	}
	send := func(v any) ack {
		t.Helper()
		if err := conn.WriteJSON(v); err != nil {
			t.Fatalf("write: %v", err)
		}
		var got ack
		if err := conn.ReadJSON(&got); err != nil {
			t.Fatalf("read: %v", err)
		}
		return got
	}

	if got := send(map[string]float64{"lat": 37.7750, "lng": -122.4195}); !got.OK {
		t.Fatalf("fix rejected: %+v", got)
	}
	if got := send(map[string]float64{"lat": 120, "lng": 0}); got.OK || got.Error == "" {
		t.Errorf("out-of-range fix should be rejected: %+v", got)
	}

	waitUntil(t, func() bool {
		rec, err := a.directory.Get("d1")
		return err == nil && rec.Online && rec.Position != nil
	})

	conn.Close()
	waitUntil(t, func() bool {
		rec, err := a.directory.Get("d1")
		return err == nil && !rec.Online && !a.tracking.Active("d1")
	})
}

func waitUntil(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}
