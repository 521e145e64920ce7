package middleware

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChatThrottle_BurstThenDeny(t *testing.T) {
	throttle := NewChatThrottle(0.001, 2)

	assert.True(t, throttle.Allow(1))
	assert.True(t, throttle.Allow(1))
	assert.False(t, throttle.Allow(1))

	// other chats have their own budget
	assert.True(t, throttle.Allow(2))
	assert.Equal(t, 2, throttle.Len())
}

func TestChatThrottle_WaitHonoursContext(t *testing.T) {
	throttle := NewChatThrottle(0.001, 1)
	require.NoError(t, throttle.Wait(context.Background(), 1))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.Error(t, throttle.Wait(ctx, 1))
}

func TestChatThrottle_DisabledWhenRateNotPositive(t *testing.T) {
	throttle := NewChatThrottle(0, 0)
	for i := 0; i < 100; i++ {
		require.True(t, throttle.Allow(1))
	}
}

func TestChatThrottle_Sweep(t *testing.T) {
	throttle := NewChatThrottle(1, 1)
	throttle.Allow(1)
	throttle.idleTTL = -time.Second

	assert.Equal(t, 1, throttle.Sweep())
	assert.Equal(t, 0, throttle.Len())
}

func newSecurity() *SecurityMiddleware {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return NewSecurityMiddleware(logger)
}

func TestValidateInput(t *testing.T) {
	s := newSecurity()

	assert.NoError(t, s.ValidateInput("draw a cat"))
	assert.Error(t, s.ValidateInput("   "))
	assert.Error(t, s.ValidateInput(string([]byte{0xff, 0xfe})))
	assert.Error(t, s.ValidateInput(strings.Repeat("a", MaxPromptLength+1)))
}

func TestSanitizeOutput_Truncates(t *testing.T) {
	s := newSecurity()

	assert.Equal(t, "short", s.SanitizeOutput("short", 0))

	long := strings.Repeat("字", MaxMessageLength+10)
	out := s.SanitizeOutput(long, 0)
	assert.Equal(t, MaxMessageLength, utf8.RuneCountInString(out))
	assert.True(t, strings.HasSuffix(out, "…"))
}

func TestSanitizeOutput_CountsUTF16(t *testing.T) {
	s := newSecurity()

	assert.Equal(t, 1, TextLength("字"))
	assert.Equal(t, 2, TextLength("😀"))
	assert.Equal(t, 5, TextLength("a😀字b"))

	// 3000 emoji are 6000 code units although only 3000 runes
	out := s.SanitizeOutput(strings.Repeat("😀", 3000), 0)
	assert.LessOrEqual(t, TextLength(out), MaxMessageLength)
	assert.Equal(t, 2047, utf8.RuneCountInString(strings.TrimSuffix(out, "…")))
	assert.True(t, strings.HasSuffix(out, "…"))

	// a surrogate pair is never split at the cut
	out = s.SanitizeOutput("ab😀", 3)
	assert.Equal(t, "ab…", out)
}

func TestChatLocks_SerializePerChat(t *testing.T) {
	locks := NewChatLocks()

	release, err := locks.Acquire(context.Background(), 1)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = locks.Acquire(ctx, 1)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	other, err := locks.Acquire(context.Background(), 2)
	require.NoError(t, err)
	other()

	acquired := make(chan func())
	go func() {
		next, err := locks.Acquire(context.Background(), 1)
		if err == nil {
			acquired <- next
		}
	}()

	select {
	case <-acquired:
		t.Fatal("second holder entered before release")
	case <-time.After(20 * time.Millisecond):
	}

	release()
	release() // extra calls are no-ops

	select {
	case next := <-acquired:
		next()
	case <-time.After(time.Second):
		t.Fatal("waiter never acquired the chat")
	}
	assert.Equal(t, 0, locks.Len())
}

func TestMetricsRouter_Health(t *testing.T) {
	srv := httptest.NewServer(NewMetricsRouter("/metrics"))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "OK", string(body))

	NewMetrics().RecordCommand("ask", "success")
	resp, err = http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, _ = io.ReadAll(resp.Body)
	assert.Contains(t, string(body), "genai_bot_commands_executed_total")
}
