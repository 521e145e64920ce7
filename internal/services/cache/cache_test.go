package cache

import (
	"io"
	"testing"
	"time"

	"github.com/genai-tgbot-go/internal/config"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
)

func newTestCache(cfg config.CacheConfig) *Cache {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return NewCache(cfg, logger, nil)
}

func TestCache_GetSet(t *testing.T) {
	c := newTestCache(config.CacheConfig{Enabled: true, TTL: time.Minute, MaxSize: 10})

	_, ok := c.Get("q", "claude")
	assert.False(t, ok)

	c.Set("q", "claude", "answer")
	got, ok := c.Get("q", "claude")
	assert.True(t, ok)
	assert.Equal(t, "answer", got)

	// model is part of the key
	_, ok = c.Get("q", "other")
	assert.False(t, ok)

	c.Clear()
	assert.Equal(t, 0, c.Len())
}

func TestCache_Disabled(t *testing.T) {
	c := newTestCache(config.CacheConfig{Enabled: false})
	c.Set("q", "m", "a")
	_, ok := c.Get("q", "m")
	assert.False(t, ok)
	assert.Equal(t, 0, c.Len())
}

func TestCache_MaxSize(t *testing.T) {
	c := newTestCache(config.CacheConfig{Enabled: true, TTL: time.Minute, MaxSize: 2})
	c.Set("a", "m", "1")
	c.Set("b", "m", "2")
	c.Set("c", "m", "3")

	assert.Equal(t, 2, c.Len())
	_, ok := c.Get("c", "m")
	assert.False(t, ok)
}
