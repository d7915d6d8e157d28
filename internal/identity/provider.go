package identity

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/wealthpath/buckets/internal/apperror"
	"github.com/wealthpath/buckets/internal/logger"
	"github.com/wealthpath/buckets/pkg/broadcast"
)

// Provider is the identity contract consumed by the guard and the plan
// watcher. WaitForCurrentUser returns a nil user when nobody is signed in.
type Provider interface {
	WaitForCurrentUser(ctx context.Context) (*User, error)
	OnUserChanged(fn func(*User)) (unsubscribe func())
	Token(ctx context.Context, forceRefresh bool) (string, error)
	OnTokenChanged(fn func(token string)) (unsubscribe func())
	SignOut(ctx context.Context) error
}

// UserSource loads account documents.
type UserSource interface {
	User(ctx context.Context, uid string) (*User, error)
}

// tokenRefreshSkew renews cached tokens shortly before they expire.
const tokenRefreshSkew = 30 * time.Second

// SessionProvider is the Provider of one signed-in user on the server. Tokens
// are minted from the user document so a changed plan shows up as a changed
// claim on the next forced refresh.
type SessionProvider struct {
	uid    string
	users  UserSource
	issuer *Issuer
	logger *slog.Logger
	now    func() time.Time

	mu        sync.Mutex
	resolved  bool
	signedOut bool
	user      *User
	token     string
	expires   time.Time

	userListeners  broadcast.Set[*User]
	tokenListeners broadcast.Set[string]
}

var _ Provider = (*SessionProvider)(nil)

func NewSessionProvider(uid string, users UserSource, issuer *Issuer, l *slog.Logger) *SessionProvider {
	l = logger.OrDefault(l).With("user_id", uid)
	p := &SessionProvider{uid: uid, users: users, issuer: issuer, logger: l, now: time.Now}
	p.userListeners.Logger = l
	p.tokenListeners.Logger = l
	return p
}

// UserID is the subject of this provider.
func (p *SessionProvider) UserID() string { return p.uid }

func (p *SessionProvider) WaitForCurrentUser(ctx context.Context) (*User, error) {
	p.mu.Lock()
	if p.resolved {
		u := p.user
		p.mu.Unlock()
		return u, nil
	}
	p.mu.Unlock()

	user, err := p.users.User(ctx, p.uid)
	if err != nil && !errors.Is(err, ErrUserNotFound) {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.resolved {
		p.resolved = true
		if !p.signedOut {
			p.user = user
		}
	}
	return p.user, nil
}

func (p *SessionProvider) OnUserChanged(fn func(*User)) func() {
	return p.userListeners.Add(fn)
}

func (p *SessionProvider) OnTokenChanged(fn func(string)) func() {
	return p.tokenListeners.Add(fn)
}

// Token returns the cached token unless forceRefresh is set or it is about
// to expire. Refreshing reloads the user document.
func (p *SessionProvider) Token(ctx context.Context, forceRefresh bool) (string, error) {
	p.mu.Lock()
	if p.signedOut {
		p.mu.Unlock()
		return "", apperror.ErrReauthenticate
	}
	if !forceRefresh && p.token != "" && p.now().Add(tokenRefreshSkew).Before(p.expires) {
		token := p.token
		p.mu.Unlock()
		return token, nil
	}
	p.mu.Unlock()

	user, err := p.users.User(ctx, p.uid)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return "", apperror.ErrReauthenticate
		}
		return "", err
	}
	token, expires, err := p.issuer.Issue(user.ID, user.Plan)
	if err != nil {
		return "", err
	}

	p.mu.Lock()
	if p.signedOut {
		p.mu.Unlock()
		return "", apperror.ErrReauthenticate
	}
	changed := token != p.token
	p.token = token
	p.expires = expires
	p.user = user
	p.resolved = true
	p.mu.Unlock()

	if changed {
		p.tokenListeners.Emit(token)
	}
	return token, nil
}

// SignOut drops the cached token and reports a nil user to listeners.
func (p *SessionProvider) SignOut(ctx context.Context) error {
	p.mu.Lock()
	if p.signedOut {
		p.mu.Unlock()
		return nil
	}
	p.signedOut = true
	p.resolved = true
	p.user = nil
	p.token = ""
	p.mu.Unlock()

	p.logger.Info("signed out")
	p.userListeners.Emit(nil)
	return nil
}
