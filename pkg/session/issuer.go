// Package session issues signed session tokens, verifies them on incoming
// requests and keeps a list of revoked sessions.
package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-chi/jwtauth/v5"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/tendant/portal-auth/pkg/user"
)

const (
	DefaultTTL    = 8 * time.Hour
	DefaultIssuer = "portal-auth"
	algorithm     = "HS256"
	minSecretSize = 32
)

var ErrWeakSecret = errors.New("session secret must be at least 32 bytes")

// Claims is the payload of a session token.
type Claims struct {
	Email string `json:"email"`
	jwt.RegisteredClaims
}

// Session is an issued token and what it was issued for.
type Session struct {
	Token     string    `json:"token"`
	ID        string    `json:"-"`
	UserID    uuid.UUID `json:"-"`
	ExpiresAt time.Time `json:"expires_at"`
}

type Issuer struct {
	secret []byte
	ttl    time.Duration
	issuer string
	now    func() time.Time
	auth   *jwtauth.JWTAuth
}

type Option func(*Issuer)

func WithTTL(ttl time.Duration) Option {
	return func(i *Issuer) {
		if ttl > 0 {
			i.ttl = ttl
		}
	}
}

func WithIssuer(name string) Option {
	return func(i *Issuer) {
		if name != "" {
			i.issuer = name
		}
	}
}

func WithNow(now func() time.Time) Option {
	return func(i *Issuer) {
		i.now = now
	}
}

func NewIssuer(secret string, opts ...Option) (*Issuer, error) {
	if len(secret) < minSecretSize {
		return nil, ErrWeakSecret
	}
	i := &Issuer{
		secret: []byte(secret),
		ttl:    DefaultTTL,
		issuer: DefaultIssuer,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(i)
	}
	i.auth = jwtauth.New(algorithm, i.secret, nil)
	return i, nil
}

// JWTAuth returns the verifier for tokens signed by this issuer.
func (i *Issuer) JWTAuth() *jwtauth.JWTAuth {
	return i.auth
}

func (i *Issuer) TTL() time.Duration {
	return i.ttl
}

// Issue signs a new session token for u.
func (i *Issuer) Issue(_ context.Context, u user.User) (Session, error) {
	now := i.now()
	expiresAt := now.Add(i.ttl)
	jti := uuid.NewString()

	claims := Claims{
		Email: u.Email,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    i.issuer,
			Subject:   u.ID.String(),
			ID:        jti,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return Session{}, fmt.Errorf("failed to sign session token: %w", err)
	}

	return Session{Token: signed, ID: jti, UserID: u.ID, ExpiresAt: expiresAt}, nil
}

// Parse validates a token string and returns its claims.
func (i *Issuer) Parse(token string) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		return i.secret, nil
	},
		jwt.WithValidMethods([]string{algorithm}),
		jwt.WithIssuer(i.issuer),
		jwt.WithTimeFunc(i.now),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, err
	}
	return claims, nil
}
