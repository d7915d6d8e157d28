package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoad_Defaults(t *testing.T) {
	// Clear environment to test defaults
	_ = os.Unsetenv("PORT")
	_ = os.Unsetenv("ENV")
	_ = os.Unsetenv("DATABASE_URL")

	cfg := Load()

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "development", cfg.Env)
	assert.Contains(t, cfg.DatabaseURL, "postgres://")
	assert.NotEmpty(t, cfg.JWTSecret)
	assert.Contains(t, cfg.AllowedOrigins, "http://localhost:3000")
	assert.Equal(t, "memory", cfg.StoreBackend)
	assert.Equal(t, 300*time.Millisecond, cfg.Sync.DebounceWindow)
	assert.Equal(t, 3, cfg.Sync.MaxSaveAttempts)
	assert.Equal(t, 5, cfg.Plan.FreeBucketLimit)
	assert.Equal(t, "billing", cfg.Plan.BillingReturnParam)
	assert.Equal(t, 2*time.Second, cfg.Plan.BillingReturnDelay)
	assert.Equal(t, 2*time.Minute, cfg.Guard.AuthFlowWindow)
	assert.Equal(t, "30 3 * * *", cfg.Reconcile.Schedule)
	assert.Equal(t, 30*time.Minute, cfg.SessionIdleTimeout)
	assert.Equal(t, time.Minute, cfg.SessionEvictInterval)
}

func TestLoad_WithEnvVars(t *testing.T) {
	// Set test environment variables
	t.Setenv("PORT", "9090")
	t.Setenv("ENV", "production")
	t.Setenv("DATABASE_URL", "postgres://test:5432/testdb")
	t.Setenv("JWT_SECRET", "test-secret")
	t.Setenv("ALLOWED_ORIGINS", "http://example.com,http://test.com")
	t.Setenv("STORE_BACKEND", "Postgres")
	t.Setenv("SYNC_DEBOUNCE_WINDOW", "50ms")
	t.Setenv("FREE_BUCKET_LIMIT", "10")
	t.Setenv("RECONCILE_ENABLED", "false")

	cfg := Load()

	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, "production", cfg.Env)
	assert.Equal(t, "postgres://test:5432/testdb", cfg.DatabaseURL)
	assert.Equal(t, "test-secret", cfg.JWTSecret)
	assert.Len(t, cfg.AllowedOrigins, 2)
	assert.Equal(t, "postgres", cfg.StoreBackend)
	assert.Equal(t, 50*time.Millisecond, cfg.Sync.DebounceWindow)
	assert.Equal(t, 10, cfg.Plan.FreeBucketLimit)
	assert.False(t, cfg.Reconcile.Enabled)
	assert.True(t, cfg.Cookie.Secure)
}

func TestConfig_EnvPredicates(t *testing.T) {
	t.Parallel()

	tests := []struct {
		env  string
		dev  bool
		prod bool
	}{
		{"development", true, false},
		{"production", false, true},
		{"staging", false, false},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.env, func(t *testing.T) {
			t.Parallel()
			cfg := &Config{Env: tt.env}
			assert.Equal(t, tt.dev, cfg.IsDevelopment())
			assert.Equal(t, tt.prod, cfg.IsProduction())
		})
	}
}

func TestGetEnv(t *testing.T) {
	t.Setenv("TEST_VAR", "test_value")

	assert.Equal(t, "test_value", getEnv("TEST_VAR", "default"))
	assert.Equal(t, "default", getEnv("NON_EXISTENT_VAR", "default"))
}

func TestGetBoolEnv(t *testing.T) {
	tests := []struct {
		name         string
		envValue     string
		setEnv       bool
		defaultValue bool
		expected     bool
	}{
		{"true value", "true", true, false, true},
		{"false value", "false", true, true, false},
		{"1 value", "1", true, false, true},
		{"0 value", "0", true, true, false},
		{"invalid value uses default", "invalid", true, true, true},
		{"unset uses default true", "", false, true, true},
		{"unset uses default false", "", false, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.setEnv {
				t.Setenv("TEST_BOOL", tt.envValue)
			} else {
				_ = os.Unsetenv("TEST_BOOL")
			}
			assert.Equal(t, tt.expected, getBoolEnv("TEST_BOOL", tt.defaultValue))
		})
	}
}

func TestGetIntEnv(t *testing.T) {
	t.Setenv("TEST_INT", "42")
	assert.Equal(t, 42, getIntEnv("TEST_INT", 1))

	t.Setenv("TEST_INT", "forty-two")
	assert.Equal(t, 1, getIntEnv("TEST_INT", 1))
}

func TestGetDurationEnv(t *testing.T) {
	t.Setenv("TEST_DURATION", "1m30s")
	assert.Equal(t, 90*time.Second, getDurationEnv("TEST_DURATION", time.Second))

	t.Setenv("TEST_DURATION", "soon")
	assert.Equal(t, time.Second, getDurationEnv("TEST_DURATION", time.Second))
}
