package config

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// CookieConfig holds settings for HTTP cookies (session token and the
// auth-flow marker).
type CookieConfig struct {
	Domain   string // Cookie domain (empty = current domain)
	Secure   bool   // Require HTTPS
	SameSite string // "Strict", "Lax", or "None"
	Path     string // Cookie path
}

// SyncConfig tunes the bucket store's persistence loop.
type SyncConfig struct {
	DebounceWindow    time.Duration
	MaxSaveAttempts   int
	RetryInitialDelay time.Duration
	RetryMaxDelay     time.Duration
}

// PlanConfig holds entitlement settings.
type PlanConfig struct {
	FreeBucketLimit    int
	BillingReturnDelay time.Duration
	BillingReturnParam string
}

type GuardConfig struct {
	AuthFlowWindow time.Duration
}

// ReconcileConfig controls the scheduled bucket counter repair.
type ReconcileConfig struct {
	Enabled  bool
	Schedule string        // Cron expression (e.g., "30 3 * * *" for daily at 03:30)
	Timeout  time.Duration // Timeout for a complete reconcile cycle
}

type Config struct {
	// Server
	Port     string
	Env      string // "development", "production"
	LogLevel string

	// Document store
	StoreBackend       string // "memory", "postgres", "firestore"
	DatabaseURL        string
	FirestoreProjectID string

	// Auth
	JWTSecret string
	JWTIssuer string
	TokenTTL  time.Duration

	Cookie CookieConfig

	// CORS
	AllowedOrigins []string
	FrontendURL    string

	// Billing
	BillingWebhookSecret string

	Sync      SyncConfig
	Plan      PlanConfig
	Guard     GuardConfig
	Reconcile ReconcileConfig

	SessionIdleTimeout   time.Duration
	SessionEvictInterval time.Duration
}

func Load() *Config {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		slog.Warn("could not read .env file", "error", err)
	}

	env := getEnv("ENV", "development")
	isProduction := env == "production"

	return &Config{
		// Server
		Port:     getEnv("PORT", "8080"),
		Env:      env,
		LogLevel: getEnv("LOG_LEVEL", ""),

		// Document store
		StoreBackend:       strings.ToLower(getEnv("STORE_BACKEND", "memory")),
		DatabaseURL:        getEnv("DATABASE_URL", "postgres://localhost:5432/buckets?sslmode=disable"),
		FirestoreProjectID: os.Getenv("FIRESTORE_PROJECT_ID"),

		// Auth
		JWTSecret: getEnv("JWT_SECRET", "dev-secret-change-in-production"),
		JWTIssuer: getEnv("JWT_ISSUER", "buckets"),
		TokenTTL:  getDurationEnv("TOKEN_TTL", time.Hour),

		Cookie: CookieConfig{
			Domain:   getEnv("COOKIE_DOMAIN", ""),
			Secure:   getBoolEnv("COOKIE_SECURE", isProduction),
			SameSite: getEnv("COOKIE_SAME_SITE", "Lax"),
			Path:     getEnv("COOKIE_PATH", "/"),
		},

		// CORS
		AllowedOrigins: strings.Split(getEnv("ALLOWED_ORIGINS", "http://localhost:3000"), ","),
		FrontendURL:    getEnv("FRONTEND_URL", "http://localhost:3000"),

		BillingWebhookSecret: getEnv("BILLING_WEBHOOK_SECRET", "dev-webhook-secret"),

		Sync: SyncConfig{
			DebounceWindow:    getDurationEnv("SYNC_DEBOUNCE_WINDOW", 300*time.Millisecond),
			MaxSaveAttempts:   getIntEnv("SYNC_MAX_SAVE_ATTEMPTS", 3),
			RetryInitialDelay: getDurationEnv("SYNC_RETRY_INITIAL_DELAY", 500*time.Millisecond),
			RetryMaxDelay:     getDurationEnv("SYNC_RETRY_MAX_DELAY", 5*time.Second),
		},

		Plan: PlanConfig{
			FreeBucketLimit:    getIntEnv("FREE_BUCKET_LIMIT", 5),
			BillingReturnDelay: getDurationEnv("BILLING_RETURN_DELAY", 2*time.Second),
			BillingReturnParam: getEnv("BILLING_RETURN_PARAM", "billing"),
		},

		Guard: GuardConfig{
			AuthFlowWindow: getDurationEnv("AUTH_FLOW_WINDOW", 2*time.Minute),
		},

		Reconcile: ReconcileConfig{
			Enabled:  getBoolEnv("RECONCILE_ENABLED", true),
			Schedule: getEnv("RECONCILE_SCHEDULE", "30 3 * * *"),
			Timeout:  getDurationEnv("RECONCILE_TIMEOUT", 10*time.Minute),
		},

		SessionIdleTimeout:   getDurationEnv("SESSION_IDLE_TIMEOUT", 30*time.Minute),
		SessionEvictInterval: getDurationEnv("SESSION_EVICT_INTERVAL", time.Minute),
	}
}

func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
