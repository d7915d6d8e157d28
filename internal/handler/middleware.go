package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/wealthpath/buckets/internal/identity"
	"github.com/wealthpath/buckets/internal/logger"
)

// Cookie names.
const (
	SessionCookieName  = "session_token"
	AuthFlowCookieName = "auth_flow"
)

type contextKey string

// UserIDKey is the context key holding the authenticated user id.
const UserIDKey contextKey = "user_id"

// TokenParser validates a session token.
type TokenParser interface {
	Parse(token string) (*identity.Claims, error)
}

// GetUserID returns the authenticated user id, or "" when there is none.
func GetUserID(ctx context.Context) string {
	uid, _ := ctx.Value(UserIDKey).(string)
	return uid
}

func withUserID(ctx context.Context, uid string) context.Context {
	ctx = context.WithValue(ctx, UserIDKey, uid)
	return logger.WithUserID(ctx, uid)
}

// requestToken reads the bearer token, falling back to the session cookie.
func requestToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if token, ok := strings.CutPrefix(h, "Bearer "); ok {
			return strings.TrimSpace(token)
		}
		return ""
	}
	if c, err := r.Cookie(SessionCookieName); err == nil {
		return c.Value
	}
	return ""
}

// userFromRequest returns the subject of a valid token on the request.
func userFromRequest(parser TokenParser, r *http.Request) (string, bool) {
	token := requestToken(r)
	if token == "" {
		return "", false
	}
	claims, err := parser.Parse(token)
	if err != nil || claims.Subject == "" {
		return "", false
	}
	return claims.Subject, true
}

// AuthMiddleware rejects requests without a valid session token.
func AuthMiddleware(parser TokenParser) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			uid, ok := userFromRequest(parser, r)
			if !ok {
				respondError(w, http.StatusUnauthorized, "unauthorized")
				return
			}
			next.ServeHTTP(w, r.WithContext(withUserID(r.Context(), uid)))
		})
	}
}

// OptionalAuth attaches the user id when the request carries a valid token
// and passes anonymous requests through.
func OptionalAuth(parser TokenParser) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if uid, ok := userFromRequest(parser, r); ok {
				r = r.WithContext(withUserID(r.Context(), uid))
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequestContext copies chi's request id into the logging context.
func RequestContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if id := middleware.GetReqID(r.Context()); id != "" {
			r = r.WithContext(logger.WithRequestID(r.Context(), id))
		}
		next.ServeHTTP(w, r)
	})
}
