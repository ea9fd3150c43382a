// README: Config loader with env defaults for HTTP, storage, integrations and tracking.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type TrackingConfig struct {
	MinInterval           time.Duration
	MinDisplacementMeters float64
	FeedBuffer            int
}

type Config struct {
	HTTP struct {
		Addr            string
		ShutdownTimeout time.Duration
	}
	// An empty DSN keeps rides and drivers in memory.
	DB struct {
		DSN string
	}
	Redis struct {
		Addr string
	}
	Kafka struct {
		Brokers []string
	}
	Firebase struct {
		ProjectID       string
		CredentialsFile string
		DatabaseURL     string
	}
	Maps struct {
		APIKey string
	}
	Pricing struct {
		RateName string
	}
	Directory struct {
		DefaultRadiusKm float64
	}
	Tracking TrackingConfig
}

func Load() (Config, error) {
	var cfg Config
	cfg.HTTP.Addr = envOrDefault("RIDECORE_HTTP_ADDR", ":8080")
	cfg.HTTP.ShutdownTimeout = envOrDefaultDuration("RIDECORE_SHUTDOWN_TIMEOUT", 10*time.Second)
	cfg.DB.DSN = envOrDefault("RIDECORE_DB_DSN", "")
	cfg.Redis.Addr = envOrDefault("RIDECORE_REDIS_ADDR", "")
	cfg.Kafka.Brokers = envOrDefaultList("RIDECORE_KAFKA_BROKERS", nil)
	cfg.Firebase.ProjectID = envOrDefault("RIDECORE_FIREBASE_PROJECT_ID", "")
	cfg.Firebase.CredentialsFile = envOrDefault("RIDECORE_FIREBASE_CREDENTIALS", "")
	cfg.Firebase.DatabaseURL = envOrDefault("RIDECORE_FIREBASE_DATABASE_URL", "")
	cfg.Maps.APIKey = envOrDefault("RIDECORE_MAPS_API_KEY", "")
	cfg.Pricing.RateName = envOrDefault("RIDECORE_PRICING_RATE", "standard")
	cfg.Directory.DefaultRadiusKm = envOrDefaultFloat("RIDECORE_NEARBY_RADIUS_KM", 5.0)
	cfg.Tracking.MinInterval = envOrDefaultDuration("RIDECORE_TRACK_MIN_INTERVAL", 5*time.Second)
	cfg.Tracking.MinDisplacementMeters = envOrDefaultFloat("RIDECORE_TRACK_MIN_DISPLACEMENT_M", 10)
	cfg.Tracking.FeedBuffer = envOrDefaultInt("RIDECORE_TRACK_FEED_BUFFER", 16)

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.Directory.DefaultRadiusKm <= 0 {
		return fmt.Errorf("config: RIDECORE_NEARBY_RADIUS_KM must be positive, got %v", c.Directory.DefaultRadiusKm)
	}
	if c.Tracking.MinInterval < 0 || c.Tracking.MinDisplacementMeters < 0 {
		return fmt.Errorf("config: tracking thresholds must not be negative")
	}
	if c.Tracking.FeedBuffer <= 0 {
		return fmt.Errorf("config: RIDECORE_TRACK_FEED_BUFFER must be positive, got %d", c.Tracking.FeedBuffer)
	}
	if c.Firebase.DatabaseURL != "" && c.Firebase.ProjectID == "" {
		return fmt.Errorf("config: RIDECORE_FIREBASE_DATABASE_URL requires RIDECORE_FIREBASE_PROJECT_ID")
	}
	return nil
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envOrDefaultInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envOrDefaultFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseFloat(v, 64); err == nil {
			return n
		}
	}
	return def
}

func envOrDefaultDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func envOrDefaultList(key string, def []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
