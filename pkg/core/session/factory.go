package session

import (
	"fmt"
	"strings"
)

// Kind selects a Store driver.
type Kind string

const (
	KindMemory Kind = "memory"
	KindRedis  Kind = "redis"
)

// ParseKind accepts "memory" and "redis", case-insensitively. Empty means memory.
func ParseKind(s string) (Kind, error) {
	switch Kind(strings.ToLower(strings.TrimSpace(s))) {
	case "", KindMemory:
		return KindMemory, nil
	case KindRedis:
		return KindRedis, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidStoreType, s)
	}
}

// NewStore builds a Store for kind.
func NewStore(kind Kind, opts ...Option) (Store, error) {
	switch kind {
	case "", KindMemory:
		return NewMemoryStore(opts...), nil
	case KindRedis:
		return NewRedisStore(opts...)
	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidStoreType, kind)
	}
}
