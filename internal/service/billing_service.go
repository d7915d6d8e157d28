package service

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/wealthpath/buckets/internal/apperror"
	"github.com/wealthpath/buckets/internal/identity"
	"github.com/wealthpath/buckets/internal/logger"
	"github.com/wealthpath/buckets/internal/model"
)

// SignatureHeader carries the hex HMAC-SHA256 of the webhook body.
const SignatureHeader = "X-Billing-Signature"

// PlanWriter persists a billing outcome on the user document.
type PlanWriter interface {
	SetPlan(ctx context.Context, uid string, plan model.Plan, status string) error
}

// SessionRefresher forces a live session to pick up a changed plan.
type SessionRefresher interface {
	Refresh(ctx context.Context, uid string) error
}

type BillingEvent struct {
	UserID string `json:"userId"`
	Status string `json:"status"`
}

// BillingService applies subscription webhooks. The resulting plan reaches
// clients as a changed token claim.
type BillingService struct {
	plans    PlanWriter
	sessions SessionRefresher
	secret   []byte
	logger   *slog.Logger
}

func NewBillingService(plans PlanWriter, sessions SessionRefresher, secret string, l *slog.Logger) *BillingService {
	return &BillingService{plans: plans, sessions: sessions, secret: []byte(secret), logger: logger.OrDefault(l)}
}

// Sign returns the signature expected for body.
func Sign(secret, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks signature against body. A "sha256=" prefix is
// accepted.
func (s *BillingService) VerifySignature(body []byte, signature string) bool {
	signature = strings.TrimPrefix(strings.TrimSpace(signature), "sha256=")
	got, err := hex.DecodeString(signature)
	if err != nil || len(got) == 0 {
		return false
	}
	want, _ := hex.DecodeString(Sign(s.secret, body))
	return hmac.Equal(got, want)
}

// HandleWebhook verifies and applies one billing event and returns the plan
// it granted.
func (s *BillingService) HandleWebhook(ctx context.Context, body []byte, signature string) (model.Plan, error) {
	if !s.VerifySignature(body, signature) {
		return "", apperror.Unauthorized("invalid webhook signature")
	}

	var event BillingEvent
	if err := json.Unmarshal(body, &event); err != nil {
		return "", apperror.BadRequest("invalid webhook payload")
	}
	event.UserID = strings.TrimSpace(event.UserID)
	if event.UserID == "" {
		return "", apperror.ValidationError("userId", "userId is required")
	}

	plan := identity.PlanForStatus(event.Status)
	if err := s.plans.SetPlan(ctx, event.UserID, plan, strings.ToLower(strings.TrimSpace(event.Status))); err != nil {
		return "", fmt.Errorf("applying billing event: %w", err)
	}

	if err := s.sessions.Refresh(ctx, event.UserID); err != nil {
		s.logger.Warn("refreshing live session after billing event failed",
			"user_id", event.UserID,
			"error", err,
		)
	}

	s.logger.Info("billing event applied", "user_id", event.UserID, "status", event.Status, "plan", plan)
	return plan, nil
}
