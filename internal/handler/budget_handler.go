package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/wealthpath/buckets/internal/apperror"
	"github.com/wealthpath/buckets/internal/bucketstore"
	"github.com/wealthpath/buckets/internal/calc"
	"github.com/wealthpath/buckets/internal/model"
	"github.com/wealthpath/buckets/internal/session"
)

// BudgetResponse is the loaded budget with its persistence state.
type BudgetResponse struct {
	Budget model.Budget           `json:"budget"`
	Sync   bucketstore.SyncStatus `json:"sync"`
}

type renameInput struct {
	Name string `json:"name" validate:"required,max=120"`
}

type settingsInput struct {
	IncomeCents     *int64           `json:"incomeCents" validate:"omitempty,gte=0"`
	IncomeFrequency *model.Frequency `json:"incomeFrequency" validate:"omitempty,oneof=Weekly Fortnightly Monthly Yearly"`
	Currency        *string          `json:"currency" validate:"omitempty,iso4217"`
}

type createBucketInput struct {
	Category model.Category `json:"category" validate:"required,oneof=expenses savings"`
	bucketstore.NewBucket
}

type reorderInput struct {
	Category model.Category `json:"category" validate:"required,oneof=expenses savings"`
	IDs      []string       `json:"ids" validate:"dive,required"`
}

type BudgetHandler struct {
	sessions SessionSource
	now      func() time.Time
}

func NewBudgetHandler(sessions SessionSource) *BudgetHandler {
	return &BudgetHandler{sessions: sessions, now: time.Now}
}

func (h *BudgetHandler) respondBudget(w http.ResponseWriter, r *http.Request, s *session.Session, status int) {
	b, err := s.Buckets.Budget()
	if err != nil {
		respondErr(w, r, err)
		return
	}
	respondJSON(w, status, BudgetResponse{Budget: b, Sync: s.Buckets.Status()})
}

// mutation runs fn against the caller's session and answers with the
// resulting budget.
func (h *BudgetHandler) mutation(status int, fn func(r *http.Request, s *session.Session) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s, ok := currentSession(h.sessions, w, r)
		if !ok {
			return
		}
		defer s.Release()
		if err := fn(r, s); err != nil {
			respondErr(w, r, err)
			return
		}
		h.respondBudget(w, r, s, status)
	}
}

// Get returns the loaded budget.
func (h *BudgetHandler) Get(w http.ResponseWriter, r *http.Request) {
	s, ok := currentSession(h.sessions, w, r)
	if !ok {
		return
	}
	defer s.Release()
	h.respondBudget(w, r, s, http.StatusOK)
}

// Summary returns totals and per-bucket derived values. An optional
// frequency query parameter converts the totals.
func (h *BudgetHandler) Summary(w http.ResponseWriter, r *http.Request) {
	s, ok := currentSession(h.sessions, w, r)
	if !ok {
		return
	}
	defer s.Release()
	b, err := s.Buckets.Budget()
	if err != nil {
		respondErr(w, r, err)
		return
	}

	summary := calc.Summarize(b, h.now())
	if raw := r.URL.Query().Get("frequency"); raw != "" {
		f := model.Frequency(raw)
		if !f.Valid() {
			respondErr(w, r, apperror.ValidationError("frequency", "unknown frequency"))
			return
		}
		summary = summary.In(f)
	}
	respondJSON(w, http.StatusOK, summary)
}

func (h *BudgetHandler) Rename(w http.ResponseWriter, r *http.Request) {
	h.mutation(http.StatusOK, func(r *http.Request, s *session.Session) error {
		var input renameInput
		if err := decodeJSON(r, &input); err != nil {
			return err
		}
		return s.Buckets.RenameBudget(input.Name)
	})(w, r)
}

func (h *BudgetHandler) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	h.mutation(http.StatusOK, func(r *http.Request, s *session.Session) error {
		var input settingsInput
		if err := decodeJSON(r, &input); err != nil {
			return err
		}
		return s.Buckets.UpdateSettings(bucketstore.SettingsPatch{
			IncomeCents:     input.IncomeCents,
			IncomeFrequency: input.IncomeFrequency,
			Currency:        input.Currency,
		})
	})(w, r)
}

// Flush writes pending edits now.
func (h *BudgetHandler) Flush(w http.ResponseWriter, r *http.Request) {
	h.mutation(http.StatusOK, func(r *http.Request, s *session.Session) error {
		return s.Buckets.Flush(r.Context())
	})(w, r)
}

func (h *BudgetHandler) CreateBucket(w http.ResponseWriter, r *http.Request) {
	s, ok := currentSession(h.sessions, w, r)
	if !ok {
		return
	}
	defer s.Release()
	var input createBucketInput
	if err := decodeJSON(r, &input); err != nil {
		respondErr(w, r, err)
		return
	}

	bucket, err := s.Buckets.CreateBucket(r.Context(), input.Category, input.NewBucket)
	if err != nil {
		respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, bucket)
}

func (h *BudgetHandler) UpdateBucket(w http.ResponseWriter, r *http.Request) {
	h.mutation(http.StatusOK, func(r *http.Request, s *session.Session) error {
		var patch bucketstore.BucketPatch
		if err := decodeJSON(r, &patch); err != nil {
			return err
		}
		return s.Buckets.UpdateBucket(chi.URLParam(r, "id"), patch)
	})(w, r)
}

func (h *BudgetHandler) ToggleBucket(w http.ResponseWriter, r *http.Request) {
	h.mutation(http.StatusOK, func(r *http.Request, s *session.Session) error {
		return s.Buckets.ToggleBucket(chi.URLParam(r, "id"))
	})(w, r)
}

func (h *BudgetHandler) DeleteBucket(w http.ResponseWriter, r *http.Request) {
	s, ok := currentSession(h.sessions, w, r)
	if !ok {
		return
	}
	defer s.Release()
	if err := s.Buckets.DeleteBucket(r.Context(), chi.URLParam(r, "id")); err != nil {
		respondErr(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *BudgetHandler) ReorderBuckets(w http.ResponseWriter, r *http.Request) {
	h.mutation(http.StatusOK, func(r *http.Request, s *session.Session) error {
		var input reorderInput
		if err := decodeJSON(r, &input); err != nil {
			return err
		}
		return s.Buckets.ReorderBuckets(input.Category, input.IDs)
	})(w, r)
}

func (h *BudgetHandler) AddItem(w http.ResponseWriter, r *http.Request) {
	s, ok := currentSession(h.sessions, w, r)
	if !ok {
		return
	}
	defer s.Release()
	item, err := s.Buckets.AddItem(chi.URLParam(r, "id"))
	if err != nil {
		respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, item)
}

func (h *BudgetHandler) UpdateItem(w http.ResponseWriter, r *http.Request) {
	h.mutation(http.StatusOK, func(r *http.Request, s *session.Session) error {
		var patch bucketstore.ItemPatch
		if err := decodeJSON(r, &patch); err != nil {
			return err
		}
		return s.Buckets.UpdateItem(chi.URLParam(r, "id"), chi.URLParam(r, "itemID"), patch)
	})(w, r)
}

// DeleteItem removes an item. Removing the last item of a bucket needs
// ?confirm=true.
func (h *BudgetHandler) DeleteItem(w http.ResponseWriter, r *http.Request) {
	s, ok := currentSession(h.sessions, w, r)
	if !ok {
		return
	}
	defer s.Release()
	confirmed, _ := strconv.ParseBool(r.URL.Query().Get("confirm"))
	if err := s.Buckets.DeleteItem(chi.URLParam(r, "id"), chi.URLParam(r, "itemID"), confirmed); err != nil {
		respondErr(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
