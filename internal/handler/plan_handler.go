package handler

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/wealthpath/buckets/internal/apperror"
	"github.com/wealthpath/buckets/internal/model"
	"github.com/wealthpath/buckets/internal/service"
	"github.com/wealthpath/buckets/internal/session"
)

const maxWebhookBody = 64 << 10

// SessionSource hands out the live session of a user, creating it on
// demand. The caller releases it when the request is done.
type SessionSource interface {
	Acquire(ctx context.Context, uid string) (*session.Session, error)
}

// WebhookProcessor applies a signed billing event.
type WebhookProcessor interface {
	HandleWebhook(ctx context.Context, body []byte, signature string) (model.Plan, error)
}

// PlanResponse is the entitlement view of a session.
type PlanResponse struct {
	Plan            model.Plan `json:"plan"`
	BucketCount     int        `json:"bucketCount"`
	FreeBucketLimit int        `json:"freeBucketLimit"`
	CanCreateBucket bool       `json:"canCreateBucket"`
}

type PlanHandler struct {
	sessions    SessionSource
	billing     WebhookProcessor
	freeLimit   int
	frontendURL string
}

func NewPlanHandler(sessions SessionSource, billing WebhookProcessor, freeLimit int, frontendURL string) *PlanHandler {
	return &PlanHandler{
		sessions:    sessions,
		billing:     billing,
		freeLimit:   freeLimit,
		frontendURL: strings.TrimSuffix(frontendURL, "/"),
	}
}

func (h *PlanHandler) planResponse(s *session.Session) PlanResponse {
	return PlanResponse{
		Plan:            s.Plan.Current(),
		BucketCount:     s.Buckets.Counter(),
		FreeBucketLimit: h.freeLimit,
		CanCreateBucket: s.Buckets.CanCreateBucket(),
	}
}

// Get returns the current plan and bucket allowance.
func (h *PlanHandler) Get(w http.ResponseWriter, r *http.Request) {
	s, ok := currentSession(h.sessions, w, r)
	if !ok {
		return
	}
	defer s.Release()
	respondJSON(w, http.StatusOK, h.planResponse(s))
}

// Refresh forces a token refresh so a changed claim is picked up now.
func (h *PlanHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	s, ok := currentSession(h.sessions, w, r)
	if !ok {
		return
	}
	defer s.Release()
	if err := s.Plan.Refresh(r.Context()); err != nil {
		respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, h.planResponse(s))
}

// BillingReturn handles the redirect back from checkout. It schedules a
// delayed plan refresh and sends the browser to the app without the
// billing marker.
func (h *PlanHandler) BillingReturn(w http.ResponseWriter, r *http.Request) {
	s, ok := currentSession(h.sessions, w, r)
	if !ok {
		return
	}
	defer s.Release()

	cleaned, scheduled := s.Plan.HandleBillingReturn(r.URL.RequestURI())
	target := h.frontendURL + "/app"
	if u, err := url.Parse(cleaned); err == nil && u.RawQuery != "" {
		target += "?" + u.RawQuery
	}
	if scheduled {
		w.Header().Set("X-Plan-Refresh", "scheduled")
	}
	http.Redirect(w, r, target, http.StatusSeeOther)
}

// Webhook receives subscription events from the billing provider.
func (h *PlanHandler) Webhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		respondErr(w, r, apperror.BadRequest("unreadable webhook body"))
		return
	}

	plan, err := h.billing.HandleWebhook(r.Context(), body, r.Header.Get(service.SignatureHeader))
	if err != nil {
		respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]model.Plan{"plan": plan})
}

// currentSession acquires the session of the authenticated user and checks
// that it can still produce a token. It writes the error response when
// either fails; on success the caller must Release the session.
func currentSession(sessions SessionSource, w http.ResponseWriter, r *http.Request) (*session.Session, bool) {
	uid := GetUserID(r.Context())
	if uid == "" {
		respondError(w, http.StatusUnauthorized, "unauthorized")
		return nil, false
	}
	s, err := sessions.Acquire(r.Context(), uid)
	if err != nil {
		respondErr(w, r, err)
		return nil, false
	}
	if _, err := s.Guard.Token(r.Context()); err != nil {
		s.Release()
		respondErr(w, r, err)
		return nil, false
	}
	return s, true
}
