package handler

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/wealthpath/buckets/internal/config"
	"github.com/wealthpath/buckets/internal/identity"
)

// AccountService registers and signs in users.
type AccountService interface {
	Register(ctx context.Context, email, password string) (*identity.AuthResult, error)
	Login(ctx context.Context, email, password string) (*identity.AuthResult, error)
}

// SignOuter ends the live session of a user.
type SignOuter interface {
	SignOut(ctx context.Context, uid string) error
}

type credentialsInput struct {
	Email    string `json:"email" validate:"required,email,max=254"`
	Password string `json:"password" validate:"required,min=8,max=128"`
}

type AuthHandler struct {
	accounts AccountService
	sessions SignOuter
	cfg      *config.Config
}

func NewAuthHandler(accounts AccountService, sessions SignOuter, cfg *config.Config) *AuthHandler {
	return &AuthHandler{accounts: accounts, sessions: sessions, cfg: cfg}
}

// Register creates an account and signs it in.
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var input credentialsInput
	if err := decodeJSON(r, &input); err != nil {
		respondErr(w, r, err)
		return
	}

	resp, err := h.accounts.Register(r.Context(), input.Email, input.Password)
	if err != nil {
		respondErr(w, r, err)
		return
	}

	h.completeSignIn(w, resp)
	respondJSON(w, http.StatusCreated, resp)
}

// Login authenticates with email and password.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var input credentialsInput
	if err := decodeJSON(r, &input); err != nil {
		respondErr(w, r, err)
		return
	}

	resp, err := h.accounts.Login(r.Context(), input.Email, input.Password)
	if err != nil {
		respondErr(w, r, err)
		return
	}

	h.completeSignIn(w, resp)
	respondJSON(w, http.StatusOK, resp)
}

// SignOut flushes pending budget edits before ending the session.
func (h *AuthHandler) SignOut(w http.ResponseWriter, r *http.Request) {
	err := h.sessions.SignOut(r.Context(), GetUserID(r.Context()))
	h.setCookie(w, SessionCookieName, "", -1)
	if err != nil {
		respondErr(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *AuthHandler) completeSignIn(w http.ResponseWriter, resp *identity.AuthResult) {
	maxAge := int(time.Until(resp.ExpiresAt).Seconds())
	h.setCookie(w, SessionCookieName, resp.Token, maxAge)
	h.setCookie(w, AuthFlowCookieName, "", -1)
}

func (h *AuthHandler) setCookie(w http.ResponseWriter, name, value string, maxAge int) {
	setCookie(w, h.cfg, name, value, maxAge)
}

// setCookie writes an HttpOnly cookie using the configured attributes.
// A negative maxAge deletes the cookie.
func setCookie(w http.ResponseWriter, cfg *config.Config, name, value string, maxAge int) {
	cookie := &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	}
	if cfg != nil {
		if cfg.Cookie.Path != "" {
			cookie.Path = cfg.Cookie.Path
		}
		cookie.Domain = cfg.Cookie.Domain
		cookie.Secure = cfg.Cookie.Secure
		switch strings.ToLower(cfg.Cookie.SameSite) {
		case "strict":
			cookie.SameSite = http.SameSiteStrictMode
		case "none":
			cookie.SameSite = http.SameSiteNoneMode
		}
	}
	http.SetCookie(w, cookie)
}
