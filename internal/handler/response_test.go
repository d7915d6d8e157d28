package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wealthpath/buckets/internal/apperror"
	"github.com/wealthpath/buckets/internal/bucketstore"
)

func TestRespondJSON_Success(t *testing.T) {
	rr := httptest.NewRecorder()

	data := map[string]string{"message": "success"}
	respondJSON(rr, http.StatusOK, data)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Header().Get("Content-Type"), "application/json")
	assert.Contains(t, rr.Body.String(), "success")
}

func TestRespondJSON_EmptyData(t *testing.T) {
	rr := httptest.NewRecorder()

	respondJSON(rr, http.StatusOK, nil)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Empty(t, rr.Body.String())
}

func TestRespondError_Unauthorized(t *testing.T) {
	rr := httptest.NewRecorder()

	respondError(rr, http.StatusUnauthorized, "not authorized")

	assert.Equal(t, http.StatusUnauthorized, rr.Code)
	assert.Contains(t, rr.Body.String(), "not authorized")
}

func TestRespondErr(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		wantCode  int
		wantKind  apperror.Kind
		wantField string
		wantText  string
		hideText  string
	}{
		{
			name:     "plan limit",
			err:      apperror.PlanLimit(5),
			wantCode: http.StatusPaymentRequired,
			wantKind: apperror.KindEntitlement,
			wantText: "free plan limit of 5 buckets",
		},
		{
			name:      "validation keeps field",
			err:       apperror.ValidationError("name", "name is required"),
			wantCode:  http.StatusBadRequest,
			wantKind:  apperror.KindValidation,
			wantField: "name",
		},
		{
			name:     "wrapped conflict sentinel",
			err:      bucketstore.ErrConfirmRequired,
			wantCode: http.StatusConflict,
			wantText: "must be confirmed",
		},
		{
			name:     "server error hides detail",
			err:      fmt.Errorf("dial tcp 10.0.0.1:5432: %w", errors.New("secret host")),
			wantCode: http.StatusInternalServerError,
			wantKind: apperror.KindUnknown,
			hideText: "10.0.0.1",
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			rr := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodGet, "/api/budget", nil)

			respondErr(rr, req, tt.err)

			assert.Equal(t, tt.wantCode, rr.Code)
			var body ErrorResponse
			require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
			if tt.wantKind != "" {
				assert.Equal(t, tt.wantKind, body.Kind)
			}
			assert.Equal(t, tt.wantField, body.Field)
			if tt.wantText != "" {
				assert.Contains(t, body.Error, tt.wantText)
			}
			if tt.hideText != "" {
				assert.NotContains(t, body.Error, tt.hideText)
			}
		})
	}
}

func TestDecodeJSON(t *testing.T) {
	tests := []struct {
		name      string
		body      string
		wantErr   bool
		wantField string
	}{
		{name: "valid", body: `{"currency":"EUR","incomeCents":1000}`},
		{name: "empty patch", body: `{}`},
		{name: "malformed", body: `{"currency":`, wantErr: true},
		{name: "unknown field", body: `{"colour":"red"}`, wantErr: true},
		{name: "bad currency", body: `{"currency":"XXY"}`, wantErr: true, wantField: "currency"},
		{name: "bad frequency", body: `{"incomeFrequency":"Daily"}`, wantErr: true, wantField: "incomeFrequency"},
		{name: "negative income", body: `{"incomeCents":-1}`, wantErr: true, wantField: "incomeCents"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPut, "/api/budget/settings", strings.NewReader(tt.body))
			var input settingsInput

			err := decodeJSON(req, &input)

			if !tt.wantErr {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			var appErr *apperror.AppError
			require.ErrorAs(t, err, &appErr)
			assert.Equal(t, tt.wantField, appErr.Field)
		})
	}
}
