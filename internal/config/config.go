// README: Config loader with env defaults for HTTP, DB, Redis, brokers, auth and dispatch settings.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type DispatchConfig struct {
	// PendingTimeout auto-cancels pending rides older than this. Zero disables expiry.
	PendingTimeout  time.Duration
	ExpiryTick      time.Duration
	NearbyRadiusKm  float64
	AvgSpeedKmh     float64
	BroadcastFilter []string
	FilterRadiusKm  float64
}

type PricingConfig struct {
	Currency           string
	StudentDiscountPct int64
	SharedDiscountPct  int64
}

type WalletConfig struct {
	// MinOperatingBalance is the balance a worker needs to go online. Zero disables the check.
	MinOperatingBalance int64
}

type Config struct {
	HTTP struct {
		Addr            string
		ShutdownTimeout time.Duration
	}
	DB struct {
		DSN string
	}
	Redis struct {
		Addr   string
		GeoKey string
	}
	Firebase struct {
		ProjectID       string
		CredentialsFile string
	}
	Auth struct {
		Provider  string
		JWTSecret string
	}
	Kafka struct {
		Brokers       []string
		LocationTopic string
	}
	RabbitMQ struct {
		URL      string
		Exchange string
	}
	Maps struct {
		APIKey string
	}
	Log struct {
		Level  string
		Format string
	}
	Dispatch DispatchConfig
	Pricing  PricingConfig
	Wallet   WalletConfig
}

func Load() (Config, error) {
	var cfg Config
	var errs []error

	cfg.HTTP.Addr = envOrDefault("DISPATCH_HTTP_ADDR", ":8080")
	cfg.HTTP.ShutdownTimeout = envOrDefaultDuration("DISPATCH_SHUTDOWN_TIMEOUT", 15*time.Second, &errs)
	cfg.DB.DSN = os.Getenv("DISPATCH_DB_DSN")
	cfg.Redis.Addr = os.Getenv("DISPATCH_REDIS_ADDR")
	cfg.Redis.GeoKey = envOrDefault("DISPATCH_REDIS_GEO_KEY", "dispatch:workers")

	cfg.Firebase.ProjectID = os.Getenv("DISPATCH_FIREBASE_PROJECT_ID")
	cfg.Firebase.CredentialsFile = os.Getenv("DISPATCH_FIREBASE_CREDENTIALS")
	cfg.Auth.Provider = strings.ToLower(envOrDefault("DISPATCH_AUTH_PROVIDER", "jwt"))
	cfg.Auth.JWTSecret = os.Getenv("DISPATCH_JWT_SECRET")

	cfg.Kafka.Brokers = splitAndTrim(os.Getenv("DISPATCH_KAFKA_BROKERS"))
	cfg.Kafka.LocationTopic = envOrDefault("DISPATCH_KAFKA_LOCATION_TOPIC", "worker-locations")
	cfg.RabbitMQ.URL = os.Getenv("DISPATCH_RABBITMQ_URL")
	cfg.RabbitMQ.Exchange = envOrDefault("DISPATCH_RABBITMQ_EXCHANGE", "ride_topic")
	cfg.Maps.APIKey = os.Getenv("DISPATCH_MAPS_API_KEY")

	cfg.Log.Level = envOrDefault("DISPATCH_LOG_LEVEL", "info")
	cfg.Log.Format = envOrDefault("DISPATCH_LOG_FORMAT", "json")

	cfg.Dispatch.PendingTimeout = envOrDefaultDuration("DISPATCH_PENDING_TIMEOUT", 0, &errs)
	cfg.Dispatch.ExpiryTick = envOrDefaultDuration("DISPATCH_EXPIRY_TICK", 10*time.Second, &errs)
	cfg.Dispatch.NearbyRadiusKm = envOrDefaultFloat("DISPATCH_NEARBY_RADIUS_KM", 5.0)
	cfg.Dispatch.AvgSpeedKmh = envOrDefaultFloat("DISPATCH_AVG_SPEED_KMH", 30.0)
	cfg.Dispatch.BroadcastFilter = splitAndTrim(os.Getenv("DISPATCH_BROADCAST_FILTER"))
	cfg.Dispatch.FilterRadiusKm = envOrDefaultFloat("DISPATCH_FILTER_RADIUS_KM", 5.0)

	cfg.Pricing.Currency = envOrDefault("DISPATCH_CURRENCY", "XOF")
	cfg.Pricing.StudentDiscountPct = int64(envOrDefaultInt("DISPATCH_STUDENT_DISCOUNT_PCT", 30))
	cfg.Pricing.SharedDiscountPct = int64(envOrDefaultInt("DISPATCH_SHARED_DISCOUNT_PCT", 20))
	cfg.Wallet.MinOperatingBalance = int64(envOrDefaultInt("DISPATCH_MIN_OPERATING_BALANCE", 0))

	if cfg.Dispatch.PendingTimeout < 0 {
		errs = append(errs, errors.New("DISPATCH_PENDING_TIMEOUT must be >= 0"))
	}
	if cfg.Dispatch.AvgSpeedKmh <= 0 {
		errs = append(errs, errors.New("DISPATCH_AVG_SPEED_KMH must be > 0"))
	}
	if !validPct(cfg.Pricing.StudentDiscountPct) || !validPct(cfg.Pricing.SharedDiscountPct) {
		errs = append(errs, errors.New("discount percentages must be within 0..100"))
	}
	switch cfg.Auth.Provider {
	case "firebase":
		if cfg.Firebase.ProjectID == "" {
			errs = append(errs, errors.New("DISPATCH_FIREBASE_PROJECT_ID is required for firebase auth"))
		}
	case "jwt":
		if cfg.Auth.JWTSecret == "" {
			errs = append(errs, errors.New("DISPATCH_JWT_SECRET is required for jwt auth"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown DISPATCH_AUTH_PROVIDER %q", cfg.Auth.Provider))
	}
	for _, f := range cfg.Dispatch.BroadcastFilter {
		switch f {
		case "radius", "service_type", "women_only":
		default:
			errs = append(errs, fmt.Errorf("unknown broadcast filter %q", f))
		}
	}

	return cfg, errors.Join(errs...)
}

func validPct(v int64) bool {
	return v >= 0 && v <= 100
}

func envOrDefault(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
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

func envOrDefaultDuration(key string, def time.Duration, errs *[]error) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
		return def
	}
	return d
}

func splitAndTrim(v string) []string {
	if v == "" {
		return nil
	}
	raw := strings.Split(v, ",")
	out := make([]string, 0, len(raw))
	for _, r := range raw {
		r = strings.TrimSpace(r)
		if r == "" {
			continue
		}
		out = append(out, r)
	}
	return out
}
