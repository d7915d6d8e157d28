package service

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/wealthpath/buckets/internal/apperror"
	"github.com/wealthpath/buckets/internal/model"
)

type MockPlanWriter struct {
	mock.Mock
}

func (m *MockPlanWriter) SetPlan(ctx context.Context, uid string, plan model.Plan, status string) error {
	args := m.Called(ctx, uid, plan, status)
	return args.Error(0)
}

type MockSessionRefresher struct {
	mock.Mock
}

func (m *MockSessionRefresher) Refresh(ctx context.Context, uid string) error {
	args := m.Called(ctx, uid)
	return args.Error(0)
}

const webhookSecret = "whsec"

func TestBillingService_HandleWebhook(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		body      string
		signature func(body []byte) string
		setupMock func(p *MockPlanWriter, r *MockSessionRefresher)
		wantPlan  model.Plan
		wantErr   error
		applied   bool
	}{
		{
			name:      "active grants plus",
			body:      `{"userId":"u1","status":"active"}`,
			signature: func(b []byte) string { return Sign([]byte(webhookSecret), b) },
			setupMock: func(p *MockPlanWriter, r *MockSessionRefresher) {
				p.On("SetPlan", mock.Anything, "u1", model.PlanPlus, "active").Return(nil)
				r.On("Refresh", mock.Anything, "u1").Return(nil)
			},
			wantPlan: model.PlanPlus,
		},
		{
			name:      "trialing grants plus with prefixed signature",
			body:      `{"userId":"u1","status":"Trialing"}`,
			signature: func(b []byte) string { return "sha256=" + Sign([]byte(webhookSecret), b) },
			setupMock: func(p *MockPlanWriter, r *MockSessionRefresher) {
				p.On("SetPlan", mock.Anything, "u1", model.PlanPlus, "trialing").Return(nil)
				r.On("Refresh", mock.Anything, "u1").Return(nil)
			},
			wantPlan: model.PlanPlus,
		},
		{
			name:      "canceled drops to free",
			body:      `{"userId":"u1","status":"canceled"}`,
			signature: func(b []byte) string { return Sign([]byte(webhookSecret), b) },
			setupMock: func(p *MockPlanWriter, r *MockSessionRefresher) {
				p.On("SetPlan", mock.Anything, "u1", model.PlanFree, "canceled").Return(nil)
				r.On("Refresh", mock.Anything, "u1").Return(nil)
			},
			wantPlan: model.PlanFree,
		},
		{
			name:      "refresh failure is not fatal",
			body:      `{"userId":"u1","status":"active"}`,
			signature: func(b []byte) string { return Sign([]byte(webhookSecret), b) },
			setupMock: func(p *MockPlanWriter, r *MockSessionRefresher) {
				p.On("SetPlan", mock.Anything, "u1", model.PlanPlus, "active").Return(nil)
				r.On("Refresh", mock.Anything, "u1").Return(errors.New("offline"))
			},
			wantPlan: model.PlanPlus,
		},
		{
			name:      "bad signature",
			body:      `{"userId":"u1","status":"active"}`,
			signature: func(b []byte) string { return Sign([]byte("wrong"), b) },
			setupMock: func(p *MockPlanWriter, r *MockSessionRefresher) {},
			wantErr:   apperror.ErrUnauthorized,
		},
		{
			name:      "missing signature",
			body:      `{"userId":"u1","status":"active"}`,
			signature: func(b []byte) string { return "" },
			setupMock: func(p *MockPlanWriter, r *MockSessionRefresher) {},
			wantErr:   apperror.ErrUnauthorized,
		},
		{
			name:      "malformed body",
			body:      `{not json`,
			signature: func(b []byte) string { return Sign([]byte(webhookSecret), b) },
			setupMock: func(p *MockPlanWriter, r *MockSessionRefresher) {},
			wantErr:   apperror.ErrBadRequest,
		},
		{
			name:      "missing user",
			body:      `{"status":"active"}`,
			signature: func(b []byte) string { return Sign([]byte(webhookSecret), b) },
			setupMock: func(p *MockPlanWriter, r *MockSessionRefresher) {},
			wantErr:   apperror.ErrValidation,
		},
		{
			name:      "store failure",
			body:      `{"userId":"u1","status":"active"}`,
			signature: func(b []byte) string { return Sign([]byte(webhookSecret), b) },
			setupMock: func(p *MockPlanWriter, r *MockSessionRefresher) {
				p.On("SetPlan", mock.Anything, "u1", model.PlanPlus, "active").Return(apperror.ErrNotFound)
			},
			wantErr: apperror.ErrNotFound,
			applied: true,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			plans := new(MockPlanWriter)
			sessions := new(MockSessionRefresher)
			tt.setupMock(plans, sessions)
			svc := NewBillingService(plans, sessions, webhookSecret, nil)

			body := []byte(tt.body)
			got, err := svc.HandleWebhook(context.Background(), body, tt.signature(body))
			if tt.wantErr != nil {
				require.Error(t, err)
				assert.ErrorIs(t, err, tt.wantErr)
				if !tt.applied {
					plans.AssertNotCalled(t, "SetPlan", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
				}
				sessions.AssertNotCalled(t, "Refresh", mock.Anything, mock.Anything)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantPlan, got)
			plans.AssertExpectations(t)
			sessions.AssertExpectations(t)
		})
	}
}
