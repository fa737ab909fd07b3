package auth

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// StaticToken is a fixed bearer token.
type StaticToken string

func (s StaticToken) Token(context.Context) (string, error) { return string(s), nil }

// MinterOptions are the registered claims put into every minted token.
type MinterOptions struct {
	Issuer   string
	Audience string
	Subject  string
	TTL      time.Duration
}

// Minter signs short-lived JWTs for replayed requests. A token is reused
// until less than a fifth of its lifetime remains.
type Minter struct {
	method jwt.SigningMethod
	key    any
	opts   MinterOptions
	now    func() time.Time

	mu      sync.Mutex
	token   string
	expires time.Time
}

// NewRSAMinter signs RS256 tokens with a PEM encoded RSA private key.
func NewRSAMinter(privateKeyPEM []byte, opts MinterOptions) (*Minter, error) {
	key, err := jwt.ParseRSAPrivateKeyFromPEM(privateKeyPEM)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	return newMinter(jwt.SigningMethodRS256, key, opts)
}

// NewHMACMinter signs HS256 tokens with a shared secret.
func NewHMACMinter(secret []byte, opts MinterOptions) (*Minter, error) {
	if len(secret) == 0 {
		return nil, errors.New("empty jwt secret")
	}
	return newMinter(jwt.SigningMethodHS256, secret, opts)
}

func newMinter(method jwt.SigningMethod, key any, opts MinterOptions) (*Minter, error) {
	if opts.TTL <= 0 {
		return nil, fmt.Errorf("jwt ttl must be positive, got %v", opts.TTL)
	}
	return &Minter{method: method, key: key, opts: opts, now: time.Now}, nil
}

// Token returns a cached token or mints a new one.
func (m *Minter) Token(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if m.token != "" && now.Before(m.expires.Add(-m.opts.TTL/5)) {
		return m.token, nil
	}

	expires := now.Add(m.opts.TTL)
	claims := jwt.RegisteredClaims{
		Issuer:    m.opts.Issuer,
		Subject:   m.opts.Subject,
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(expires),
		ID:        uuid.NewString(),
	}
	if m.opts.Audience != "" {
		claims.Audience = jwt.ClaimStrings{m.opts.Audience}
	}
	signed, err := jwt.NewWithClaims(m.method, claims).SignedString(m.key)
	if err != nil {
		return "", fmt.Errorf("sign jwt: %w", err)
	}
	m.token, m.expires = signed, expires
	return signed, nil
}
