package middleware

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// ChatThrottle paces outgoing Telegram calls per chat so that streamed
// edits stay under the Bot API's per-chat flood limits.
type ChatThrottle struct {
	limiters map[int64]*chatLimiter
	mu       sync.Mutex
	limit    rate.Limit
	burst    int
	idleTTL  time.Duration
}

type chatLimiter struct {
	limiter  *rate.Limiter
	lastUsed time.Time
}

// NewChatThrottle allows perSecond calls per chat with the given burst.
// A non-positive rate disables throttling.
func NewChatThrottle(perSecond float64, burst int) *ChatThrottle {
	limit := rate.Inf
	if perSecond > 0 {
		limit = rate.Limit(perSecond)
	}
	if burst < 1 {
		burst = 1
	}
	return &ChatThrottle{
		limiters: make(map[int64]*chatLimiter),
		limit:    limit,
		burst:    burst,
		idleTTL:  10 * time.Minute,
	}
}

// Wait blocks until a call to chatID may proceed or ctx is done.
func (t *ChatThrottle) Wait(ctx context.Context, chatID int64) error {
	return t.getLimiter(chatID).Wait(ctx)
}

// Allow reports whether a call to chatID may proceed right now, without waiting.
func (t *ChatThrottle) Allow(chatID int64) bool {
	return t.getLimiter(chatID).Allow()
}

func (t *ChatThrottle) getLimiter(chatID int64) *rate.Limiter {
	t.mu.Lock()
	defer t.mu.Unlock()

	entry, exists := t.limiters[chatID]
	if !exists {
		entry = &chatLimiter{limiter: rate.NewLimiter(t.limit, t.burst)}
		t.limiters[chatID] = entry
	}
	entry.lastUsed = time.Now()
	return entry.limiter
}

// Sweep drops limiters of chats idle for longer than the idle TTL.
func (t *ChatThrottle) Sweep() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	removed := 0
	cutoff := time.Now().Add(-t.idleTTL)
	for chatID, entry := range t.limiters {
		if entry.lastUsed.Before(cutoff) {
			delete(t.limiters, chatID)
			removed++
		}
	}
	return removed
}

// Len returns the number of tracked chats.
func (t *ChatThrottle) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.limiters)
}
