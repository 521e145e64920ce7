package ratelimit

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Limit is the quota a single user may spend on one command per window.
type Limit struct {
	Quota  int
	Window time.Duration
}

// Decision is the outcome of a Check.
type Decision struct {
	Allowed bool
	// RetryAfter is the time left in the current window when the request
	// was rejected. Zero for allowed requests.
	RetryAfter time.Duration
}

// SecondsRemaining returns RetryAfter in whole seconds, rounded down.
func (d Decision) SecondsRemaining() int {
	if d.Allowed || d.RetryAfter <= 0 {
		return 0
	}
	return int(d.RetryAfter / time.Second)
}

func allowed() Decision {
	return Decision{Allowed: true}
}

func exceeded(retryAfter time.Duration) Decision {
	if retryAfter < 0 {
		retryAfter = 0
	}
	return Decision{RetryAfter: retryAfter}
}

// Store keeps the per-key window state. Take must run the whole
// check-and-increment as one atomic step for a given key.
type Store interface {
	Take(ctx context.Context, key string, limit Limit) (Decision, error)
}

// Limiter admits or rejects (user, command) pairs against the policy
// registered for the command. Commands without a policy are unlimited.
type Limiter struct {
	mu     sync.RWMutex
	limits map[string]Limit
	store  Store
	logger *logrus.Logger
	onDeny func(command string)
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithStore replaces the default in-memory store.
func WithStore(store Store) Option {
	return func(l *Limiter) {
		l.store = store
	}
}

// WithLogger sets the logger used for rejections and store failures.
func WithLogger(logger *logrus.Logger) Option {
	return func(l *Limiter) {
		l.logger = logger
	}
}

// WithDenyHook registers a callback invoked for every rejected request.
func WithDenyHook(fn func(command string)) Option {
	return func(l *Limiter) {
		l.onDeny = fn
	}
}

// New creates a Limiter with no registered policies.
func New(opts ...Option) *Limiter {
	l := &Limiter{
		limits: make(map[string]Limit),
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.store == nil {
		l.store = NewMemoryStore()
	}
	if l.logger == nil {
		l.logger = logrus.New()
	}
	return l
}

// RegisterLimit associates a policy with a command. Registering the same
// command again replaces the previous policy.
func (l *Limiter) RegisterLimit(command string, quota int, window time.Duration) error {
	if command == "" {
		return fmt.Errorf("command name is required")
	}
	if quota <= 0 {
		return fmt.Errorf("quota for %q must be positive, got %d", command, quota)
	}
	if window <= 0 {
		return fmt.Errorf("window for %q must be positive, got %s", command, window)
	}

	l.mu.Lock()
	l.limits[command] = Limit{Quota: quota, Window: window}
	l.mu.Unlock()

	l.logger.WithFields(logrus.Fields{
		"command": command,
		"quota":   quota,
		"window":  window,
	}).Debug("Rate limit registered")
	return nil
}

// Limits returns a copy of the registered policies.
func (l *Limiter) Limits() map[string]Limit {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make(map[string]Limit, len(l.limits))
	for k, v := range l.limits {
		out[k] = v
	}
	return out
}

// Commands returns the names of rate-limited commands, sorted.
func (l *Limiter) Commands() []string {
	limits := l.Limits()
	names := make([]string, 0, len(limits))
	for name := range limits {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Check consumes one slot of the user's quota for command, if available.
func (l *Limiter) Check(ctx context.Context, userID int64, command string) Decision {
	l.mu.RLock()
	limit, ok := l.limits[command]
	l.mu.RUnlock()

	if !ok {
		return allowed()
	}

	decision, err := l.store.Take(ctx, Key(userID, command), limit)
	if err != nil {
		// A broken backend must not lock users out of the bot.
		l.logger.WithError(err).WithFields(logrus.Fields{
			"user_id": userID,
			"command": command,
		}).Error("Rate limit store failed, allowing request")
		return allowed()
	}

	if !decision.Allowed {
		l.logger.WithFields(logrus.Fields{
			"user_id":     userID,
			"command":     command,
			"retry_after": decision.RetryAfter,
		}).Warn("Rate limit exceeded")
		if l.onDeny != nil {
			l.onDeny(command)
		}
	}

	return decision
}

// Key builds the state key for a (user, command) pair.
func Key(userID int64, command string) string {
	return fmt.Sprintf("%d:%s", userID, command)
}
