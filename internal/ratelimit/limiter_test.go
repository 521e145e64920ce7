package ratelimit

import (
	"context"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func newTestLimiter(clock *fakeClock, opts ...Option) *Limiter {
	opts = append([]Option{
		WithStore(NewMemoryStore(WithClock(clock.Now))),
		WithLogger(quietLogger()),
	}, opts...)
	return New(opts...)
}

func TestCheck_QuotaBound(t *testing.T) {
	clock := newFakeClock()
	l := newTestLimiter(clock)
	require.NoError(t, l.RegisterLimit("ask", 3, time.Minute))

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		assert.True(t, l.Check(ctx, 42, "ask").Allowed, "call %d should be allowed", i+1)
	}

	d := l.Check(ctx, 42, "ask")
	assert.False(t, d.Allowed)
	assert.Equal(t, time.Minute, d.RetryAfter)
	assert.Equal(t, 60, d.SecondsRemaining())
}

func TestCheck_RetryAfterShrinksWithinWindow(t *testing.T) {
	clock := newFakeClock()
	l := newTestLimiter(clock)
	require.NoError(t, l.RegisterLimit("image", 1, time.Minute))

	ctx := context.Background()
	require.True(t, l.Check(ctx, 1, "image").Allowed)

	clock.Advance(15500 * time.Millisecond)
	d := l.Check(ctx, 1, "image")
	assert.False(t, d.Allowed)
	assert.Equal(t, 44500*time.Millisecond, d.RetryAfter)
	assert.Equal(t, 44, d.SecondsRemaining())
}

func TestCheck_WindowReset(t *testing.T) {
	clock := newFakeClock()
	l := newTestLimiter(clock)
	require.NoError(t, l.RegisterLimit("flux", 1, time.Second))

	ctx := context.Background()
	assert.True(t, l.Check(ctx, 7, "flux").Allowed)

	clock.Advance(500 * time.Millisecond)
	d := l.Check(ctx, 7, "flux")
	assert.False(t, d.Allowed)
	assert.Equal(t, 0, d.SecondsRemaining())

	clock.Advance(600 * time.Millisecond)
	assert.True(t, l.Check(ctx, 7, "flux").Allowed)
	assert.False(t, l.Check(ctx, 7, "flux").Allowed)
}

func TestCheck_ExactWindowBoundaryResets(t *testing.T) {
	clock := newFakeClock()
	l := newTestLimiter(clock)
	require.NoError(t, l.RegisterLimit("tts", 2, 10*time.Second))

	ctx := context.Background()
	assert.True(t, l.Check(ctx, 1, "tts").Allowed)
	assert.True(t, l.Check(ctx, 1, "tts").Allowed)
	assert.False(t, l.Check(ctx, 1, "tts").Allowed)

	clock.Advance(10 * time.Second)
	assert.True(t, l.Check(ctx, 1, "tts").Allowed)
}

func TestCheck_UnregisteredCommandIsUnlimited(t *testing.T) {
	l := newTestLimiter(newFakeClock())
	require.NoError(t, l.RegisterLimit("ask", 1, time.Hour))

	ctx := context.Background()
	for i := 0; i < 1000; i++ {
		require.True(t, l.Check(ctx, 5, "help").Allowed)
	}
}

func TestCheck_KeysAreIndependent(t *testing.T) {
	l := newTestLimiter(newFakeClock())
	require.NoError(t, l.RegisterLimit("ask", 1, time.Hour))
	require.NoError(t, l.RegisterLimit("groq", 1, time.Hour))

	ctx := context.Background()
	assert.True(t, l.Check(ctx, 1, "ask").Allowed)
	assert.True(t, l.Check(ctx, 2, "ask").Allowed)
	assert.True(t, l.Check(ctx, 1, "groq").Allowed)
	assert.False(t, l.Check(ctx, 1, "ask").Allowed)
}

func TestCheck_ConcurrentCallersShareOneSlot(t *testing.T) {
	l := newTestLimiter(newFakeClock())
	require.NoError(t, l.RegisterLimit("comfy", 1, time.Minute))

	const callers = 200
	var admitted, rejected int64
	var wg sync.WaitGroup
	start := make(chan struct{})

	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			if l.Check(context.Background(), 99, "comfy").Allowed {
				atomic.AddInt64(&admitted, 1)
			} else {
				atomic.AddInt64(&rejected, 1)
			}
		}()
	}
	close(start)
	wg.Wait()

	assert.Equal(t, int64(1), admitted)
	assert.Equal(t, int64(callers-1), rejected)
}

func TestRegisterLimit_LastWriteWins(t *testing.T) {
	l := newTestLimiter(newFakeClock())
	require.NoError(t, l.RegisterLimit("ask", 1, time.Minute))
	require.NoError(t, l.RegisterLimit("ask", 3, time.Minute))

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		assert.True(t, l.Check(ctx, 1, "ask").Allowed)
	}
	assert.False(t, l.Check(ctx, 1, "ask").Allowed)
	assert.Equal(t, Limit{Quota: 3, Window: time.Minute}, l.Limits()["ask"])
}

func TestRegisterLimit_RejectsInvalidPolicy(t *testing.T) {
	l := newTestLimiter(newFakeClock())
	require.NoError(t, l.RegisterLimit("ask", 2, time.Minute))

	assert.Error(t, l.RegisterLimit("ask", 0, time.Minute))
	assert.Error(t, l.RegisterLimit("ask", 1, 0))
	assert.Error(t, l.RegisterLimit("", 1, time.Minute))
	assert.Equal(t, Limit{Quota: 2, Window: time.Minute}, l.Limits()["ask"])
}

func TestCommands_Sorted(t *testing.T) {
	l := newTestLimiter(newFakeClock())
	require.NoError(t, l.RegisterLimit("tts", 1, time.Minute))
	require.NoError(t, l.RegisterLimit("ask", 1, time.Minute))
	require.NoError(t, l.RegisterLimit("image", 1, time.Minute))

	assert.Equal(t, []string{"ask", "image", "tts"}, l.Commands())
}

type failingStore struct{}

func (failingStore) Take(context.Context, string, Limit) (Decision, error) {
	return Decision{}, assert.AnError
}

func TestCheck_StoreFailureFailsOpen(t *testing.T) {
	l := New(WithStore(failingStore{}), WithLogger(quietLogger()))
	require.NoError(t, l.RegisterLimit("ask", 1, time.Minute))

	assert.True(t, l.Check(context.Background(), 1, "ask").Allowed)
	assert.True(t, l.Check(context.Background(), 1, "ask").Allowed)
}

func TestCheck_DenyHook(t *testing.T) {
	var denied []string
	l := newTestLimiter(newFakeClock(), WithDenyHook(func(command string) {
		denied = append(denied, command)
	}))
	require.NoError(t, l.RegisterLimit("hf", 1, time.Minute))

	ctx := context.Background()
	l.Check(ctx, 1, "hf")
	l.Check(ctx, 1, "hf")
	l.Check(ctx, 1, "hf")

	assert.Equal(t, []string{"hf", "hf"}, denied)
}

func TestMemoryStore_TracksKeysLazily(t *testing.T) {
	store := NewMemoryStore(WithShards(4))
	assert.Equal(t, 0, store.Len())

	limit := Limit{Quota: 1, Window: time.Minute}
	_, _ = store.Take(context.Background(), Key(1, "ask"), limit)
	_, _ = store.Take(context.Background(), Key(1, "ask"), limit)
	_, _ = store.Take(context.Background(), Key(2, "ask"), limit)

	assert.Equal(t, 2, store.Len())
}

func TestParseScriptResult(t *testing.T) {
	d, err := parseScriptResult("k", []interface{}{int64(1), int64(0)})
	require.NoError(t, err)
	assert.True(t, d.Allowed)

	d, err = parseScriptResult("k", []interface{}{int64(0), int64(2500)})
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, 2500*time.Millisecond, d.RetryAfter)
	assert.Equal(t, 2, d.SecondsRemaining())

	_, err = parseScriptResult("k", "nope")
	assert.Error(t, err)
	_, err = parseScriptResult("k", []interface{}{"1", int64(0)})
	assert.Error(t, err)
}

func newRedisStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisStore(client, "ratelimit"), mr
}

func TestRedisStore_FixedWindow(t *testing.T) {
	store, mr := newRedisStore(t)
	ctx := context.Background()
	limit := Limit{Quota: 2, Window: time.Minute}

	for i := 0; i < 2; i++ {
		d, err := store.Take(ctx, Key(1, "ask"), limit)
		require.NoError(t, err)
		assert.True(t, d.Allowed, "request %d", i+1)
	}

	d, err := store.Take(ctx, Key(1, "ask"), limit)
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, time.Minute, d.RetryAfter)

	mr.FastForward(20 * time.Second)
	d, err = store.Take(ctx, Key(1, "ask"), limit)
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, 40*time.Second, d.RetryAfter)
	assert.Equal(t, 40, d.SecondsRemaining())

	mr.FastForward(41 * time.Second)
	d, err = store.Take(ctx, Key(1, "ask"), limit)
	require.NoError(t, err)
	assert.True(t, d.Allowed)
}

func TestRedisStore_KeyLayout(t *testing.T) {
	store, mr := newRedisStore(t)
	ctx := context.Background()
	limit := Limit{Quota: 3, Window: time.Minute}

	_, err := store.Take(ctx, Key(1, "ask"), limit)
	require.NoError(t, err)
	_, err = store.Take(ctx, Key(1, "ask"), limit)
	require.NoError(t, err)

	assert.Equal(t, []string{"ratelimit:1:ask"}, mr.Keys())
	count, err := mr.Get("ratelimit:1:ask")
	require.NoError(t, err)
	assert.Equal(t, "2", count)
	assert.Equal(t, time.Minute, mr.TTL("ratelimit:1:ask"))

	// a trailing separator in the prefix is not doubled
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	_, err = NewRedisStore(client, "other:").Take(ctx, Key(2, "flux"), limit)
	require.NoError(t, err)
	assert.True(t, mr.Exists("other:2:flux"))
}

func TestRedisStore_KeysAreIndependent(t *testing.T) {
	store, _ := newRedisStore(t)
	ctx := context.Background()
	limit := Limit{Quota: 1, Window: time.Minute}

	d, _ := store.Take(ctx, Key(1, "ask"), limit)
	assert.True(t, d.Allowed)
	d, _ = store.Take(ctx, Key(1, "groq"), limit)
	assert.True(t, d.Allowed)
	d, _ = store.Take(ctx, Key(2, "ask"), limit)
	assert.True(t, d.Allowed)
	d, _ = store.Take(ctx, Key(1, "ask"), limit)
	assert.False(t, d.Allowed)
}

func TestRedisStore_CounterWithoutExpiryStartsNewWindow(t *testing.T) {
	store, mr := newRedisStore(t)
	ctx := context.Background()
	limit := Limit{Quota: 2, Window: time.Minute}

	// left behind by a crash between INCR and PEXPIRE
	require.NoError(t, mr.Set("ratelimit:1:ask", "5"))
	assert.Zero(t, mr.TTL("ratelimit:1:ask"))

	d, err := store.Take(ctx, Key(1, "ask"), limit)
	require.NoError(t, err)
	assert.True(t, d.Allowed)

	count, err := mr.Get("ratelimit:1:ask")
	require.NoError(t, err)
	assert.Equal(t, "1", count)
	assert.Equal(t, time.Minute, mr.TTL("ratelimit:1:ask"))
}

func TestRedisStore_ThroughLimiter(t *testing.T) {
	store, mr := newRedisStore(t)
	l := New(WithStore(store), WithLogger(quietLogger()))
	require.NoError(t, l.RegisterLimit("comfy", 1, 5*time.Minute))

	ctx := context.Background()
	assert.True(t, l.Check(ctx, 7, "comfy").Allowed)
	d := l.Check(ctx, 7, "comfy")
	assert.False(t, d.Allowed)
	assert.Equal(t, 300, d.SecondsRemaining())

	// a dead server fails open
	mr.Close()
	assert.True(t, l.Check(ctx, 7, "comfy").Allowed)
}
