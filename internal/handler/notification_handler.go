package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/wealthpath/buckets/internal/apperror"
)

type NotificationHandler struct {
	sessions SessionSource
}

func NewNotificationHandler(sessions SessionSource) *NotificationHandler {
	return &NotificationHandler{sessions: sessions}
}

// List returns the notices that have not expired or been dismissed.
func (h *NotificationHandler) List(w http.ResponseWriter, r *http.Request) {
	s, ok := currentSession(h.sessions, w, r)
	if !ok {
		return
	}
	defer s.Release()
	respondJSON(w, http.StatusOK, s.Notices.Active())
}

func (h *NotificationHandler) Dismiss(w http.ResponseWriter, r *http.Request) {
	s, ok := currentSession(h.sessions, w, r)
	if !ok {
		return
	}
	defer s.Release()
	if !s.Notices.Dismiss(chi.URLParam(r, "id")) {
		respondErr(w, r, apperror.NotFound("notification"))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
