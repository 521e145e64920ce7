package ratelimit

import (
	"context"
	"hash/fnv"
	"sync"
	"time"
)

const defaultShards = 32

// windowState is the fixed-window counter for one key.
type windowState struct {
	count       int
	windowStart time.Time
}

type shard struct {
	mu     sync.Mutex
	states map[string]*windowState
}

// MemoryStore keeps window state in process memory, split over shards so
// that unrelated keys do not contend on one lock. Entries live for the
// lifetime of the process.
type MemoryStore struct {
	shards []*shard
	now    func() time.Time
}

// MemoryOption configures a MemoryStore.
type MemoryOption func(*MemoryStore)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) MemoryOption {
	return func(s *MemoryStore) {
		s.now = now
	}
}

// WithShards sets the number of lock shards.
func WithShards(n int) MemoryOption {
	return func(s *MemoryStore) {
		if n > 0 {
			s.shards = newShards(n)
		}
	}
}

// NewMemoryStore creates an in-memory store.
func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	s := &MemoryStore{
		shards: newShards(defaultShards),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func newShards(n int) []*shard {
	shards := make([]*shard, n)
	for i := range shards {
		shards[i] = &shard{states: make(map[string]*windowState)}
	}
	return shards
}

func (s *MemoryStore) shardFor(key string) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return s.shards[h.Sum32()%uint32(len(s.shards))]
}

// Take implements Store.
func (s *MemoryStore) Take(_ context.Context, key string, limit Limit) (Decision, error) {
	sh := s.shardFor(key)

	sh.mu.Lock()
	defer sh.mu.Unlock()

	now := s.now()
	state, ok := sh.states[key]
	if !ok {
		state = &windowState{windowStart: now}
		sh.states[key] = state
	}

	elapsed := now.Sub(state.windowStart)
	if elapsed >= limit.Window {
		state.count = 0
		state.windowStart = now
		elapsed = 0
	}

	if state.count < limit.Quota {
		state.count++
		return allowed(), nil
	}

	return exceeded(limit.Window - elapsed), nil
}

// Len returns the number of tracked keys.
func (s *MemoryStore) Len() int {
	n := 0
	for _, sh := range s.shards {
		sh.mu.Lock()
		n += len(sh.states)
		sh.mu.Unlock()
	}
	return n
}
