package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/margo-sol/backend/internal/errs"
)

const issuerName = "margo-sol"

type Claims struct {
	UserID   uuid.UUID `json:"userId"`
	Username string    `json:"username"`
	Wallet   string    `json:"wallet,omitempty"`
	Email    string    `json:"email,omitempty"`
	jwt.RegisteredClaims
}

// Subject is the account a session token is issued for.
type Subject struct {
	UserID   uuid.UUID
	Username string
	Wallet   string
	Email    string
}

// Issuer signs and verifies HS256 session tokens.
type Issuer struct {
	secret        []byte
	ttl           time.Duration
	refreshWindow time.Duration
	now           func() time.Time
}

// NewIssuer создаёт Issuer. ttl <= 0 means 24h.
func NewIssuer(secret string, ttl, refreshWindow time.Duration) *Issuer {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Issuer{
		secret:        []byte(secret),
		ttl:           ttl,
		refreshWindow: refreshWindow,
		now:           time.Now,
	}
}

// WithClock returns a copy of the issuer that reads time from now.
func (i *Issuer) WithClock(now func() time.Time) *Issuer {
	cp := *i
	cp.now = now
	return &cp
}

func (i *Issuer) TTL() time.Duration { return i.ttl }

// Issue returns a signed token and its expiry.
func (i *Issuer) Issue(s Subject) (string, time.Time, error) {
	now := i.now()
	exp := now.Add(i.ttl)

	claims := Claims{
		UserID:   s.UserID,
		Username: s.Username,
		Wallet:   s.Wallet,
		Email:    s.Email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   s.UserID.String(),
			ExpiresAt: jwt.NewNumericDate(exp),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    issuerName,
		},
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return token, exp, nil
}

// Verify checks signature and expiry. Errors wrap errs.ErrBadSignature,
// errs.ErrTokenExpired or errs.ErrTokenMalformed.
func (i *Issuer) Verify(tokenStr string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		return i.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuerName),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(i.now),
	)
	switch {
	case err == nil:
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return nil, fmt.Errorf("%w: %v", errs.ErrBadSignature, err)
	case errors.Is(err, jwt.ErrTokenExpired):
		return nil, errs.ErrTokenExpired
	default:
		return nil, fmt.Errorf("%w: %v", errs.ErrTokenMalformed, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.UserID == uuid.Nil {
		return nil, fmt.Errorf("%w: missing user id", errs.ErrTokenMalformed)
	}
	return claims, nil
}

// NeedsRefresh reports whether less than the refresh window remains on c.
func (i *Issuer) NeedsRefresh(c *Claims) bool {
	if c.ExpiresAt == nil {
		return true
	}
	return c.ExpiresAt.Time.Sub(i.now()) < i.refreshWindow
}
