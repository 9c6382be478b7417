// Package tokenprovider ships a reference eventlog.TokenProvider
// implementation for local development and tests. Grounded on
// internal/auth/auth.go's JWTManager: Ed25519-signed short-lived bearer
// tokens via golang-jwt/jwt/v5. Spec.md §6 scopes real OAuth/credential
// acquisition out of the delivery core — this is a dev/test convenience,
// not the production auth path.
package tokenprovider

import (
	"context"
	"crypto/ed25519"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// StaticKeyTokenProvider mints a fresh short-lived token once per TTL
// window and caches it in memory between calls, matching the caching
// responsibility spec.md §6 assigns to the provider ("Token caching ...
// are the provider's concern").
type StaticKeyTokenProvider struct {
	privateKey ed25519.PrivateKey
	subject    string
	ttl        time.Duration

	mu        sync.Mutex
	cached    string
	expiresAt time.Time
}

// NewStaticKeyTokenProvider returns a provider that signs tokens for
// subject using privateKey, each valid for ttl.
func NewStaticKeyTokenProvider(privateKey ed25519.PrivateKey, subject string, ttl time.Duration) *StaticKeyTokenProvider {
	return &StaticKeyTokenProvider{privateKey: privateKey, subject: subject, ttl: ttl}
}

// Token returns the cached token if it still has more than a few seconds
// of validity left, minting a new one otherwise.
func (p *StaticKeyTokenProvider) Token(_ context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cached != "" && time.Until(p.expiresAt) > 5*time.Second {
		return p.cached, nil
	}

	now := time.Now().UTC()
	exp := now.Add(p.ttl)
	claims := jwt.RegisteredClaims{
		Subject:   p.subject,
		Issuer:    "eventlog",
		Audience:  jwt.ClaimStrings{"eventlog"},
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(exp),
		ID:        uuid.NewString(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims)
	signed, err := token.SignedString(p.privateKey)
	if err != nil {
		return "", fmt.Errorf("tokenprovider: sign token: %w", err)
	}

	p.cached, p.expiresAt = signed, exp
	return signed, nil
}
