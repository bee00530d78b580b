// Package auth carries the caller's API key from the auth middleware to
// the turn handler and the rate limiter.
package auth

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"net/http"
	"strings"
)

// Principal is an authenticated caller. APIKey must never be logged; use
// Fingerprint instead.
type Principal struct {
	APIKey string
}

// Fingerprint is a short stable digest of the key for logs.
func (p *Principal) Fingerprint() string {
	if p == nil || p.APIKey == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(p.APIKey))
	return "key_" + hex.EncodeToString(sum[:6])
}

type ctxKey struct{}

func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, ctxKey{}, p)
}

func PrincipalFrom(ctx context.Context) (*Principal, bool) {
	p, ok := ctx.Value(ctxKey{}).(*Principal)
	return p, ok && p != nil
}

// ParseBearer reads "Authorization: Bearer <token>". The scheme is
// case-insensitive.
func ParseBearer(r *http.Request) (string, bool) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(r.Header.Get("Authorization")), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return "", false
	}
	return token, true
}

// LookupKey reports whether token is one of keys, comparing in constant
// time per candidate.
func LookupKey(keys map[string]struct{}, token string) bool {
	found := 0
	for k := range keys {
		found |= subtle.ConstantTimeCompare([]byte(k), []byte(token))
	}
	return found == 1
}
