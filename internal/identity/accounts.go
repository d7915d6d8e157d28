package identity

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cast"
	"golang.org/x/crypto/bcrypt"

	"github.com/wealthpath/buckets/internal/apperror"
	"github.com/wealthpath/buckets/internal/docstore"
	"github.com/wealthpath/buckets/internal/logger"
	"github.com/wealthpath/buckets/internal/model"
)

var (
	ErrEmailTaken         = fmt.Errorf("email already taken: %w", apperror.ErrConflict)
	ErrInvalidCredentials = apperror.ErrInvalidCredentials
	ErrUserNotFound       = fmt.Errorf("user %w", apperror.ErrNotFound)
)

// Subscription statuses reported by the billing provider that grant plus.
const (
	StatusActive   = "active"
	StatusTrialing = "trialing"
)

const emailsCollection = "emails"

// User is the account document stored at users/{uid}.
type User struct {
	ID                 string     `json:"id"`
	Email              string     `json:"email"`
	Plan               model.Plan `json:"plan"`
	SubscriptionStatus string     `json:"subscriptionStatus,omitempty"`
	CreatedAt          time.Time  `json:"createdAt"`
}

type AuthResult struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
	User      *User     `json:"user"`
}

// Accounts registers and authenticates users against the document store.
type Accounts struct {
	store  docstore.Store
	issuer *Issuer
	logger *slog.Logger
}

func NewAccounts(store docstore.Store, issuer *Issuer, l *slog.Logger) *Accounts {
	return &Accounts{store: store, issuer: issuer, logger: logger.OrDefault(l)}
}

// Issuer returns the token issuer used for sign-in.
func (a *Accounts) Issuer() *Issuer { return a.issuer }

// Register creates an account for email. Email addresses are compared
// case-insensitively.
func (a *Accounts) Register(ctx context.Context, email, password string) (*AuthResult, error) {
	email = normalizeEmail(email)
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hashing password: %w", err)
	}

	user := &User{ID: uuid.NewString(), Email: email, Plan: model.PlanFree}
	err = a.store.RunTransaction(ctx, func(ctx context.Context, tx docstore.Tx) error {
		if _, err := tx.Get(emailPath(email)); err == nil {
			return ErrEmailTaken
		} else if !errors.Is(err, docstore.ErrNotFound) {
			return err
		}
		if err := tx.Set(emailPath(email), map[string]any{"userId": user.ID}, false); err != nil {
			return err
		}
		return tx.Set(docstore.UserPath(user.ID), map[string]any{
			"email":        email,
			"passwordHash": string(hash),
			"plan":         string(model.PlanFree),
		}, false)
	})
	if err != nil {
		return nil, fmt.Errorf("registering user: %w", err)
	}

	a.logger.Info("user registered", "user_id", user.ID)
	return a.authenticate(user)
}

// Login verifies the password and returns a fresh token.
func (a *Accounts) Login(ctx context.Context, email, password string) (*AuthResult, error) {
	email = normalizeEmail(email)
	idx, err := a.store.Get(ctx, emailPath(email))
	if err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("looking up email: %w", err)
	}

	doc, err := a.store.Get(ctx, docstore.UserPath(cast.ToString(idx["userId"])))
	if err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("fetching user: %w", err)
	}

	hash := cast.ToString(doc["passwordHash"])
	if hash == "" || bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) != nil {
		return nil, ErrInvalidCredentials
	}

	return a.authenticate(userFromDocument(cast.ToString(idx["userId"]), doc))
}

// User loads the account document for uid.
func (a *Accounts) User(ctx context.Context, uid string) (*User, error) {
	doc, err := a.store.Get(ctx, docstore.UserPath(uid))
	if err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("fetching user %s: %w", uid, err)
	}
	return userFromDocument(uid, doc), nil
}

// SetPlan records the billing outcome on the user document.
func (a *Accounts) SetPlan(ctx context.Context, uid string, plan model.Plan, status string) error {
	err := a.store.Update(ctx, docstore.UserPath(uid), map[string]any{
		"plan":               string(plan),
		"subscriptionStatus": status,
	})
	if err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return ErrUserNotFound
		}
		return fmt.Errorf("updating plan for %s: %w", uid, err)
	}
	a.logger.Info("plan updated", "user_id", uid, "plan", plan, "status", status)
	return nil
}

// SubscriptionPlan derives a plan from the stored subscription status. It is
// consulted when the token carries no plus claim.
func (a *Accounts) SubscriptionPlan(ctx context.Context, uid string) (model.Plan, error) {
	user, err := a.User(ctx, uid)
	if err != nil {
		return model.PlanFree, err
	}
	return PlanForStatus(user.SubscriptionStatus), nil
}

// PlanForStatus maps a billing subscription status onto a plan.
func PlanForStatus(status string) model.Plan {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case StatusActive, StatusTrialing:
		return model.PlanPlus
	}
	return model.PlanFree
}

func (a *Accounts) authenticate(user *User) (*AuthResult, error) {
	token, expires, err := a.issuer.Issue(user.ID, user.Plan)
	if err != nil {
		return nil, fmt.Errorf("generating token: %w", err)
	}
	return &AuthResult{Token: token, ExpiresAt: expires, User: user}, nil
}

func userFromDocument(uid string, doc map[string]any) *User {
	u := &User{
		ID:                 uid,
		Email:              cast.ToString(doc["email"]),
		Plan:               model.ParsePlan(cast.ToString(doc["plan"])),
		SubscriptionStatus: cast.ToString(doc["subscriptionStatus"]),
	}
	if t, err := cast.ToTimeE(doc[docstore.FieldCreatedAt]); err == nil {
		u.CreatedAt = t.UTC()
	}
	return u
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// emailPath keys the email index by a digest so any address is a valid
// document id.
func emailPath(email string) string {
	sum := sha256.Sum256([]byte(email))
	return emailsCollection + "/" + hex.EncodeToString(sum[:])
}
