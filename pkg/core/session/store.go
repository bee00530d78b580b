// Package session keeps short-lived conversation history keyed by an opaque,
// unguessable id so a stateless turn handler can hold multi-turn context.
package session

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/vango-go/vai-voice/pkg/core/types"
)

var (
	// ErrNotFound is returned by Get for unknown or expired sessions.
	ErrNotFound = errors.New("session not found")

	// ErrConflict is returned when a same-session write could not be applied
	// after repeated optimistic retries.
	ErrConflict = errors.New("session write conflict")

	// ErrInvalidConfig is returned by NewStore for incomplete driver options.
	ErrInvalidConfig = errors.New("invalid session store config")

	// ErrInvalidStoreType is returned by NewStore for an unknown driver.
	ErrInvalidStoreType = errors.New("invalid session store type")
)

// Store holds conversation history per session.
type Store interface {
	// Create allocates a new id and stores initial as its history.
	Create(ctx context.Context, initial []types.Turn) (string, error)

	// Get returns a copy of the history and refreshes the last-access time.
	// Unknown and expired sessions return ErrNotFound.
	Get(ctx context.Context, id string) ([]types.Turn, error)

	// Append adds one turn, evicting the oldest turns beyond the history cap.
	// Appending to an unknown or expired session is a logged no-op.
	Append(ctx context.Context, id string, turn types.Turn) error

	// Close releases driver resources.
	Close() error
}

const (
	DefaultTTL           = time.Hour
	DefaultSweepInterval = 10 * time.Minute
	DefaultMaxHistory    = 10
)

type storeConfig struct {
	ttl           time.Duration
	sweepInterval time.Duration
	maxHistory    int
	clock         func() time.Time
	logger        *slog.Logger
	newID         func() string

	redisClient redis.UniversalClient
	redisPrefix string
}

func newStoreConfig(opts []Option) storeConfig {
	cfg := storeConfig{
		ttl:           DefaultTTL,
		sweepInterval: DefaultSweepInterval,
		maxHistory:    DefaultMaxHistory,
		clock:         time.Now,
		logger:        slog.Default(),
		newID:         uuid.NewString,
		redisPrefix:   "voice:session:",
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// Option configures a session store.
type Option func(*storeConfig)

// WithTTL sets the inactivity window after which a session is unreachable.
func WithTTL(ttl time.Duration) Option {
	return func(c *storeConfig) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

// WithSweepInterval sets how often the memory driver reclaims expired entries.
func WithSweepInterval(d time.Duration) Option {
	return func(c *storeConfig) {
		if d > 0 {
			c.sweepInterval = d
		}
	}
}

// WithMaxHistory caps the number of turns kept per session.
func WithMaxHistory(n int) Option {
	return func(c *storeConfig) {
		if n > 0 {
			c.maxHistory = n
		}
	}
}

// WithClock replaces time.Now, mainly for tests.
func WithClock(clock func() time.Time) Option {
	return func(c *storeConfig) {
		if clock != nil {
			c.clock = clock
		}
	}
}

// WithLogger sets the logger used for dropped writes and sweeps.
func WithLogger(logger *slog.Logger) Option {
	return func(c *storeConfig) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithIDGenerator replaces the random id source. Generated ids must be
// unguessable; this exists for deterministic tests.
func WithIDGenerator(fn func() string) Option {
	return func(c *storeConfig) {
		if fn != nil {
			c.newID = fn
		}
	}
}

// WithRedisClient sets the client for the redis driver.
func WithRedisClient(client redis.UniversalClient) Option {
	return func(c *storeConfig) {
		c.redisClient = client
	}
}

// WithRedisPrefix sets the key prefix for the redis driver.
func WithRedisPrefix(prefix string) Option {
	return func(c *storeConfig) {
		if prefix != "" {
			c.redisPrefix = prefix
		}
	}
}

// trimHistory keeps the newest max turns, preserving order.
func trimHistory(history []types.Turn, max int) []types.Turn {
	if max <= 0 || len(history) <= max {
		return history
	}
	out := make([]types.Turn, max)
	copy(out, history[len(history)-max:])
	return out
}
