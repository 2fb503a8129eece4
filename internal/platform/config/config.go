package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds everything the API process reads from the environment.
// No business logic depends on raw environment variables.
type Config struct {
	Port int

	Auth        AuthConfig
	Storage     StorageConfig
	Idempotency IdempotencyConfig
	Calendar    CalendarConfig

	// ReconcileCron, when set, enables the periodic sweep that retries
	// calendar event creation for degraded calls. Standard cron syntax.
	ReconcileCron string
}

// AuthMode selects how request identities are established.
type AuthMode string

const (
	// AuthModeDev trusts X-Debug-Subject / X-Debug-Role headers. Never
	// run this outside local development.
	AuthModeDev AuthMode = "dev"
	// AuthModeJWT verifies HS256 bearer tokens.
	AuthModeJWT AuthMode = "jwt"
)

type AuthConfig struct {
	Mode        AuthMode
	JWTSecret   string
	JWTIssuer   string
	JWTAudience string
}

// StorageBackend selects the call repository implementation.
type StorageBackend string

const (
	StorageMemory   StorageBackend = "memory"
	StoragePostgres StorageBackend = "postgres"
)

type StorageConfig struct {
	Backend     StorageBackend
	DatabaseURL string
}

// IdempotencyBackend selects where replayable responses are stored.
type IdempotencyBackend string

const (
	IdempotencyMemory   IdempotencyBackend = "memory"
	IdempotencyRedis    IdempotencyBackend = "redis"
	IdempotencyPostgres IdempotencyBackend = "postgres"
)

type IdempotencyConfig struct {
	Backend   IdempotencyBackend
	RedisAddr string
	TTL       time.Duration
}

// CalendarBackend selects the external calendar integration.
type CalendarBackend string

const (
	// CalendarNone runs without an external calendar; scheduling still
	// works but calls stay without calendar events and meeting links.
	CalendarNone   CalendarBackend = "none"
	CalendarGoogle CalendarBackend = "google"
)

type CalendarConfig struct {
	Backend         CalendarBackend
	GoogleCalendarID string
	CredentialsFile string
	Timeout         time.Duration
}

// Load reads the process configuration from the environment. Missing
// optional values fall back to defaults that make local development work
// out of the box; invalid values are errors, never silently ignored.
func Load() (Config, error) {
	cfg := Config{
		Port: 8080,
		Auth: AuthConfig{
			Mode:        AuthModeDev,
			JWTSecret:   os.Getenv("JWT_SECRET"),
			JWTIssuer:   strings.TrimSpace(os.Getenv("JWT_ISSUER")),
			JWTAudience: strings.TrimSpace(os.Getenv("JWT_AUDIENCE")),
		},
		Storage: StorageConfig{
			Backend:     StorageMemory,
			DatabaseURL: os.Getenv("DATABASE_URL"),
		},
		Idempotency: IdempotencyConfig{
			Backend:   IdempotencyMemory,
			RedisAddr: strings.TrimSpace(os.Getenv("REDIS_ADDR")),
			TTL:       24 * time.Hour,
		},
		Calendar: CalendarConfig{
			Backend:          CalendarNone,
			GoogleCalendarID: strings.TrimSpace(os.Getenv("GOOGLE_CALENDAR_ID")),
			CredentialsFile:  strings.TrimSpace(os.Getenv("GOOGLE_CREDENTIALS_FILE")),
			Timeout:          10 * time.Second,
		},
		ReconcileCron: strings.TrimSpace(os.Getenv("RECONCILE_CRON")),
	}

	if v := strings.TrimSpace(os.Getenv("PORT")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 65535 {
			return Config{}, fmt.Errorf("PORT must be a port number, got %q", v)
		}
		cfg.Port = n
	}

	if v := strings.TrimSpace(os.Getenv("AUTH_MODE")); v != "" {
		switch AuthMode(v) {
		case AuthModeDev, AuthModeJWT:
			cfg.Auth.Mode = AuthMode(v)
		default:
			return Config{}, fmt.Errorf("AUTH_MODE must be %q or %q, got %q", AuthModeDev, AuthModeJWT, v)
		}
	}
	if cfg.Auth.Mode == AuthModeJWT && cfg.Auth.JWTSecret == "" {
		return Config{}, fmt.Errorf("JWT_SECRET is required when AUTH_MODE=jwt")
	}

	if v := strings.TrimSpace(os.Getenv("STORAGE_BACKEND")); v != "" {
		switch StorageBackend(v) {
		case StorageMemory, StoragePostgres:
			cfg.Storage.Backend = StorageBackend(v)
		default:
			return Config{}, fmt.Errorf("STORAGE_BACKEND must be %q or %q, got %q", StorageMemory, StoragePostgres, v)
		}
	}
	if cfg.Storage.Backend == StoragePostgres && cfg.Storage.DatabaseURL == "" {
		return Config{}, fmt.Errorf("DATABASE_URL is required when STORAGE_BACKEND=postgres")
	}

	if v := strings.TrimSpace(os.Getenv("IDEMPOTENCY_BACKEND")); v != "" {
		switch IdempotencyBackend(v) {
		case IdempotencyMemory, IdempotencyRedis, IdempotencyPostgres:
			cfg.Idempotency.Backend = IdempotencyBackend(v)
		default:
			return Config{}, fmt.Errorf("IDEMPOTENCY_BACKEND must be one of %q, %q, %q, got %q",
				IdempotencyMemory, IdempotencyRedis, IdempotencyPostgres, v)
		}
	}
	if cfg.Idempotency.Backend == IdempotencyRedis && cfg.Idempotency.RedisAddr == "" {
		return Config{}, fmt.Errorf("REDIS_ADDR is required when IDEMPOTENCY_BACKEND=redis")
	}
	if cfg.Idempotency.Backend == IdempotencyPostgres && cfg.Storage.Backend != StoragePostgres {
		return Config{}, fmt.Errorf("IDEMPOTENCY_BACKEND=postgres requires STORAGE_BACKEND=postgres")
	}
	if v := strings.TrimSpace(os.Getenv("IDEMPOTENCY_TTL")); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return Config{}, fmt.Errorf("IDEMPOTENCY_TTL must be a positive duration (e.g. 24h), got %q", v)
		}
		cfg.Idempotency.TTL = d
	}

	if v := strings.TrimSpace(os.Getenv("CALENDAR_BACKEND")); v != "" {
		switch CalendarBackend(v) {
		case CalendarNone, CalendarGoogle:
			cfg.Calendar.Backend = CalendarBackend(v)
		default:
			return Config{}, fmt.Errorf("CALENDAR_BACKEND must be %q or %q, got %q", CalendarNone, CalendarGoogle, v)
		}
	}
	if cfg.Calendar.Backend == CalendarGoogle && cfg.Calendar.GoogleCalendarID == "" {
		return Config{}, fmt.Errorf("GOOGLE_CALENDAR_ID is required when CALENDAR_BACKEND=google")
	}
	if v := strings.TrimSpace(os.Getenv("CALENDAR_TIMEOUT")); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return Config{}, fmt.Errorf("CALENDAR_TIMEOUT must be a positive duration (e.g. 10s), got %q", v)
		}
		cfg.Calendar.Timeout = d
	}

	return cfg, nil
}
