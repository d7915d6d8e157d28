package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogger(t *testing.T) {
	l := Logger()
	assert.NotNil(t, l)
	assert.Same(t, l, OrDefault(nil))

	custom := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
	assert.Same(t, custom, OrDefault(custom))
}

func TestWithRequestID(t *testing.T) {
	t.Parallel()

	ctx := WithRequestID(context.Background(), "test-request-123")
	assert.Equal(t, "test-request-123", ctx.Value(requestIDKey))
}

func TestWithUserID(t *testing.T) {
	t.Parallel()

	ctx := WithUserID(context.Background(), "user-456")
	assert.Equal(t, "user-456", ctx.Value(userIDKey))
}

func TestWithBudgetID(t *testing.T) {
	t.Parallel()

	ctx := WithBudgetID(context.Background(), "budget-1")
	assert.Equal(t, "budget-1", ctx.Value(budgetIDKey))
}

func TestParseLevel(t *testing.T) {
	t.Parallel()

	tests := []struct {
		level string
		env   string
		want  slog.Level
	}{
		{"debug", "production", slog.LevelDebug},
		{" WARN ", "", slog.LevelWarn},
		{"error", "", slog.LevelError},
		{"", "production", slog.LevelInfo},
		{"", "development", slog.LevelDebug},
		{"loud", "", slog.LevelDebug},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.level+"/"+tt.env, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, parseLevel(tt.level, tt.env))
		})
	}
}

// Not parallel: Setup swaps the process logger.
func TestSetupProductionWritesJSONWithContext(t *testing.T) {
	prev := Logger()
	defer slog.SetDefault(prev)
	defer func() { defaultLogger = prev }()

	var buf bytes.Buffer
	Setup(&buf, "production", "info")

	ctx := WithUserID(WithBudgetID(context.Background(), "b1"), "u1")
	FromContext(ctx).Info("saved", "attempt", 1)
	Debug("hidden")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "saved", entry["msg"])
	assert.Equal(t, "u1", entry["user_id"])
	assert.Equal(t, "b1", entry["budget_id"])
	assert.EqualValues(t, 1, entry["attempt"])
}
