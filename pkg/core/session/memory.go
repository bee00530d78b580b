package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/vango-go/vai-voice/pkg/core/types"
)

// MemoryStore is a single-process Store.
//
// Entries live in a sync.Map so lookups for different ids never share a
// lock. Each entry has its own mutex; writes to one id are applied in the
// order their callers acquire it.
type MemoryStore struct {
	cfg      storeConfig
	sessions sync.Map // id -> *memoryEntry
}

type memoryEntry struct {
	mu           sync.Mutex
	history      []types.Turn
	lastAccessed time.Time
	removed      bool
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore(opts ...Option) *MemoryStore {
	return &MemoryStore{cfg: newStoreConfig(opts)}
}

func (s *MemoryStore) expired(e *memoryEntry, now time.Time) bool {
	return e.removed || now.Sub(e.lastAccessed) > s.cfg.ttl
}

// Create implements Store. It never fails.
func (s *MemoryStore) Create(_ context.Context, initial []types.Turn) (string, error) {
	e := &memoryEntry{
		history:      trimHistory(types.CloneTurns(initial), s.cfg.maxHistory),
		lastAccessed: s.cfg.clock(),
	}
	for {
		id := s.cfg.newID()
		if _, loaded := s.sessions.LoadOrStore(id, e); !loaded {
			return id, nil
		}
	}
}

// Get implements Store.
func (s *MemoryStore) Get(_ context.Context, id string) ([]types.Turn, error) {
	v, ok := s.sessions.Load(id)
	if !ok {
		return nil, ErrNotFound
	}
	e := v.(*memoryEntry)

	e.mu.Lock()
	defer e.mu.Unlock()

	now := s.cfg.clock()
	if s.expired(e, now) {
		return nil, ErrNotFound
	}
	e.lastAccessed = now
	return types.CloneTurns(e.history), nil
}

// Append implements Store.
func (s *MemoryStore) Append(_ context.Context, id string, turn types.Turn) error {
	v, ok := s.sessions.Load(id)
	if !ok {
		s.cfg.logger.Warn("append to unknown session dropped", "session_id", id)
		return nil
	}
	e := v.(*memoryEntry)

	e.mu.Lock()
	defer e.mu.Unlock()

	now := s.cfg.clock()
	if s.expired(e, now) {
		s.cfg.logger.Warn("append to expired session dropped", "session_id", id)
		return nil
	}
	e.history = trimHistory(append(e.history, turn), s.cfg.maxHistory)
	e.lastAccessed = now
	return nil
}

// Sweep removes expired entries and reports how many were reclaimed.
func (s *MemoryStore) Sweep() int {
	now := s.cfg.clock()
	removed := 0
	s.sessions.Range(func(key, value any) bool {
		e := value.(*memoryEntry)
		e.mu.Lock()
		if s.expired(e, now) {
			e.removed = true
			e.history = nil
			if s.sessions.CompareAndDelete(key, e) {
				removed++
			}
		}
		e.mu.Unlock()
		return true
	})
	return removed
}

// Run sweeps on the configured interval until ctx is done.
func (s *MemoryStore) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.Sweep(); n > 0 {
				s.cfg.logger.Debug("session sweep", slog.Int("removed", n))
			}
		}
	}
}

// Len reports the number of stored entries, including expired ones that
// have not been swept yet.
func (s *MemoryStore) Len() int {
	n := 0
	s.sessions.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

// Close implements Store.
func (s *MemoryStore) Close() error {
	s.sessions.Range(func(key, _ any) bool {
		s.sessions.Delete(key)
		return true
	})
	return nil
}
