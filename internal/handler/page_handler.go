package handler

import (
	"net/http"
	"time"

	"github.com/wealthpath/buckets/internal/auth"
	"github.com/wealthpath/buckets/internal/config"
	"github.com/wealthpath/buckets/internal/identity"
	"github.com/wealthpath/buckets/internal/session"
)

// flowSubject is the subject of auth-flow markers.
const flowSubject = "auth-flow"

// PageGuard applies the routing rule to the app and sign-in pages. The
// pages themselves are served by the frontend; the guard only answers with
// the redirect or the go-ahead.
//
// The auth flow is tracked twice: a signed, expiring marker cookie covers a
// browser that has no session yet, and the session's own guard covers a
// signed-in one.
type PageGuard struct {
	sessions SessionSource
	cfg      *config.Config
	flow     *identity.Issuer
}

func NewPageGuard(sessions SessionSource, cfg *config.Config) *PageGuard {
	return &PageGuard{
		sessions: sessions,
		cfg:      cfg,
		flow:     identity.NewFlowIssuer(cfg.JWTSecret, cfg.JWTIssuer, cfg.Guard.AuthFlowWindow),
	}
}

// PageResponse is returned when a page may render.
type PageResponse struct {
	Page     auth.PageKind `json:"page"`
	Decision auth.Decision `json:"decision"`
	State    auth.State    `json:"state"`
}

func (g *PageGuard) App(w http.ResponseWriter, r *http.Request) {
	s := g.session(r)
	if s != nil {
		defer s.Release()
	}
	g.serve(w, r, s, auth.PageProtected, g.flowMarked(r))
}

// SignIn guards the sign-in page. ?flow=start opens the auth-flow window so
// redirects are held back until sign-in completes; ?flow=end closes it.
func (g *PageGuard) SignIn(w http.ResponseWriter, r *http.Request) {
	s := g.session(r)
	if s != nil {
		defer s.Release()
	}

	marked := g.flowMarked(r)
	switch r.URL.Query().Get("flow") {
	case "start":
		marker, expires, err := g.flow.Issue(flowSubject, "")
		if err != nil {
			respondErr(w, r, err)
			return
		}
		setCookie(w, g.cfg, AuthFlowCookieName, marker, int(time.Until(expires)/time.Second))
		if s != nil {
			s.Guard.BeginAuthFlow(g.cfg.Guard.AuthFlowWindow)
		}
		marked = true
	case "end":
		setCookie(w, g.cfg, AuthFlowCookieName, "", -1)
		if s != nil {
			s.Guard.EndAuthFlow()
		}
		marked = false
	}
	g.serve(w, r, s, auth.PageSignIn, marked)
}

func (g *PageGuard) serve(w http.ResponseWriter, r *http.Request, s *session.Session, page auth.PageKind, marked bool) {
	state := auth.StateUnauthenticated
	if s != nil {
		state = s.Guard.Wait(r.Context())
		marked = marked || s.Guard.AuthFlowActive()
	}

	decision := auth.Decide(state, page, marked)

	switch decision {
	case auth.RedirectSignIn:
		http.Redirect(w, r, "/signin", http.StatusFound)
	case auth.RedirectApp:
		http.Redirect(w, r, "/app", http.StatusFound)
	default:
		respondJSON(w, http.StatusOK, PageResponse{Page: page, Decision: decision, State: state})
	}
}

// flowMarked reports whether the request carries an unexpired marker
// issued by this server.
func (g *PageGuard) flowMarked(r *http.Request) bool {
	c, err := r.Cookie(AuthFlowCookieName)
	if err != nil || c.Value == "" {
		return false
	}
	claims, err := g.flow.Parse(c.Value)
	return err == nil && claims.Subject == flowSubject
}

// session acquires the session of the request's user. A missing token or a
// token whose session cannot be built counts as signed out.
func (g *PageGuard) session(r *http.Request) *session.Session {
	uid := GetUserID(r.Context())
	if uid == "" {
		return nil
	}
	s, err := g.sessions.Acquire(r.Context(), uid)
	if err != nil {
		return nil
	}
	return s
}

// Health reports liveness.
func Health(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
