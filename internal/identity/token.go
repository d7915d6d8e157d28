package identity

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/wealthpath/buckets/internal/apperror"
	"github.com/wealthpath/buckets/internal/model"
)

// ErrInvalidToken is returned for tokens that fail signature, issuer or
// expiry checks.
var ErrInvalidToken = fmt.Errorf("invalid token: %w", apperror.ErrUnauthorized)

// Claims is the payload of an identity token. Plan is empty when the user
// document carries no plan.
type Claims struct {
	Plan string `json:"plan,omitempty"`
	jwt.RegisteredClaims
}

// Issuer signs and verifies HS256 identity tokens.
type Issuer struct {
	secret []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

func NewIssuer(secret, issuer string, ttl time.Duration) *Issuer {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Issuer{secret: []byte(secret), issuer: issuer, ttl: ttl, now: time.Now}
}

// NewFlowIssuer signs short-lived auth-flow markers. Its key and issuer
// differ from the identity issuer built from the same secret, so a marker
// never verifies as an identity token and the other way round.
func NewFlowIssuer(secret, issuer string, window time.Duration) *Issuer {
	return NewIssuer(secret+":auth-flow", issuer+"/auth-flow", window)
}

// TTL is the lifetime of issued tokens.
func (i *Issuer) TTL() time.Duration { return i.ttl }

// Issue mints a token for uid. An empty plan leaves the claim out.
func (i *Issuer) Issue(uid string, plan model.Plan) (string, time.Time, error) {
	now := i.now()
	expires := now.Add(i.ttl)
	claims := Claims{
		Plan: string(plan),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   uid,
			Issuer:    i.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(i.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("signing token: %w", err)
	}
	return signed, expires, nil
}

// Parse verifies tokenString and returns its claims.
func (i *Issuer) Parse(tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return i.secret, nil
	},
		jwt.WithIssuer(i.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(i.now),
	)
	if err != nil || !token.Valid {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}
	return claims, nil
}

// PlanFromToken reads the plan claim without verifying the signature. The
// boolean is false when the token cannot be decoded or has no plan claim.
func PlanFromToken(tokenString string) (model.Plan, bool) {
	claims := &Claims{}
	if _, _, err := jwt.NewParser().ParseUnverified(tokenString, claims); err != nil {
		return model.PlanFree, false
	}
	if claims.Plan == "" {
		return model.PlanFree, false
	}
	return model.ParsePlan(claims.Plan), true
}
