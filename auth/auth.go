// Package auth is the Auth Gate (spec C5): HS256 bearer token issuance and
// validation, extended with a revocation check the original JWT middleware
// this is grounded on never performed — see cmd/agentflow/middleware.go's
// JWTAuth for the un-extended form.
package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/ultraai/orchestrator/blacklist"
	"github.com/ultraai/orchestrator/model"
)

// Errors returned by Validate; callers map these onto UNAUTHENTICATED.
var (
	ErrMalformed = errors.New("malformed or unparseable token")
	ErrExpired   = errors.New("token expired")
	ErrRevoked   = errors.New("token has been revoked")
	ErrWrongKind = errors.New("token kind mismatch")
)

// claims is the JWT claim set. TokenID doubles as the jti claim and the
// blacklist revocation key.
type claims struct {
	jwt.RegisteredClaims
	Kind model.AuthTokenKind `json:"kind"`
}

// Gate issues, validates, and revokes bearer tokens for one (access secret,
// refresh secret) pair, backed by a blacklist.Store for revocation.
type Gate struct {
	AccessSecret  []byte
	RefreshSecret []byte
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	Blacklist     blacklist.FailOpenGate
}

// NewGate builds a Gate from raw secrets. accessTTL/refreshTTL default to
// 15 minutes / 30 days when zero.
func NewGate(accessSecret, refreshSecret string, accessTTL, refreshTTL time.Duration, bl blacklist.FailOpenGate) *Gate {
	if accessTTL <= 0 {
		accessTTL = 15 * time.Minute
	}
	if refreshTTL <= 0 {
		refreshTTL = 30 * 24 * time.Hour
	}
	return &Gate{
		AccessSecret:  []byte(accessSecret),
		RefreshSecret: []byte(refreshSecret),
		AccessTTL:     accessTTL,
		RefreshTTL:    refreshTTL,
		Blacklist:     bl,
	}
}

func (g *Gate) secretFor(kind model.AuthTokenKind) []byte {
	if kind == model.TokenKindRefresh {
		return g.RefreshSecret
	}
	return g.AccessSecret
}

func (g *Gate) ttlFor(kind model.AuthTokenKind) time.Duration {
	if kind == model.TokenKindRefresh {
		return g.RefreshTTL
	}
	return g.AccessTTL
}

// Issue mints a signed token for subject of the given kind.
func (g *Gate) Issue(subject string, kind model.AuthTokenKind) (string, model.AuthToken, error) {
	now := time.Now()
	tok := model.AuthToken{
		TokenID:   newTokenID(),
		Subject:   subject,
		IssuedAt:  now,
		ExpiresAt: now.Add(g.ttlFor(kind)),
		Kind:      kind,
	}

	c := claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   tok.Subject,
			ID:        tok.TokenID,
			IssuedAt:  jwt.NewNumericDate(tok.IssuedAt),
			ExpiresAt: jwt.NewNumericDate(tok.ExpiresAt),
		},
		Kind: kind,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(g.secretFor(kind))
	if err != nil {
		return "", model.AuthToken{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, tok, nil
}

// Validate parses tokenStr as a token of the expected kind, checks its
// signature, expiry, and revocation status, and returns its claims.
func (g *Gate) Validate(ctx context.Context, tokenStr string, expectKind model.AuthTokenKind) (model.AuthToken, error) {
	var c claims
	parsed, err := jwt.ParseWithClaims(tokenStr, &c, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Method.Alg())
		}
		return g.secretFor(expectKind), nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return model.AuthToken{}, ErrExpired
		}
		return model.AuthToken{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if !parsed.Valid {
		return model.AuthToken{}, ErrMalformed
	}
	if c.Kind != expectKind {
		return model.AuthToken{}, ErrWrongKind
	}

	if g.Blacklist.IsRevoked(ctx, c.ID) {
		return model.AuthToken{}, ErrRevoked
	}

	return model.AuthToken{
		TokenID:   c.ID,
		Subject:   c.Subject,
		IssuedAt:  c.IssuedAt.Time,
		ExpiresAt: c.ExpiresAt.Time,
		Kind:      c.Kind,
	}, nil
}

// Revoke adds tokenID to the blacklist until expiresAt, making every
// outstanding copy of that token fail subsequent Validate calls even though
// its signature and expiry remain individually valid.
func (g *Gate) Revoke(ctx context.Context, tok model.AuthToken) error {
	return g.Blacklist.Store.Revoke(ctx, tok.TokenID, tok.ExpiresAt)
}

func newTokenID() string {
	b := make([]byte, 16)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
