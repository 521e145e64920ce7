package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/genai-tgbot-go/internal/config"
	"github.com/genai-tgbot-go/internal/middleware"
	"github.com/genai-tgbot-go/internal/models"
	"github.com/patrickmn/go-cache"
	"github.com/sirupsen/logrus"
)

// Service caches single-shot answers keyed by model and question.
type Service interface {
	Get(question, model string) (string, bool)
	Set(question, model, answer string)
	Clear()
}

// Cache implements Service on top of go-cache.
type Cache struct {
	enabled bool
	cache   *cache.Cache
	logger  *logrus.Logger
	metrics *middleware.Metrics
	maxSize int
}

// NewCache creates a new cache service. metrics may be nil.
func NewCache(cfg config.CacheConfig, logger *logrus.Logger, metrics *middleware.Metrics) *Cache {
	if !cfg.Enabled {
		return &Cache{enabled: false, logger: logger}
	}

	return &Cache{
		enabled: true,
		cache:   cache.New(cfg.TTL, cfg.TTL*2),
		logger:  logger,
		metrics: metrics,
		maxSize: cfg.MaxSize,
	}
}

// Get retrieves a cached answer
func (c *Cache) Get(question, model string) (string, bool) {
	if !c.enabled {
		return "", false
	}

	if val, found := c.cache.Get(generateKey(question, model)); found {
		entry := val.(*models.CacheEntry)
		c.logger.WithFields(logrus.Fields{
			"model": model,
			"age":   time.Since(entry.CreatedAt),
		}).Debug("Cache hit")
		if c.metrics != nil {
			c.metrics.RecordCacheHit()
		}
		return entry.Answer, true
	}

	if c.metrics != nil {
		c.metrics.RecordCacheMiss()
	}
	return "", false
}

// Set stores an answer. When the cache is full, expired entries are
// dropped first and the write is skipped if that frees nothing.
func (c *Cache) Set(question, model, answer string) {
	if !c.enabled {
		return
	}

	if c.maxSize > 0 && c.cache.ItemCount() >= c.maxSize {
		c.cache.DeleteExpired()
		if c.cache.ItemCount() >= c.maxSize {
			c.logger.WithField("size", c.maxSize).Warn("Cache full, answer not cached")
			return
		}
	}

	c.cache.SetDefault(generateKey(question, model), &models.CacheEntry{
		Question:  question,
		Answer:    answer,
		Model:     model,
		CreatedAt: time.Now(),
	})
	c.logger.WithField("model", model).Debug("Answer cached")
}

// Clear removes all cached entries
func (c *Cache) Clear() {
	if !c.enabled {
		return
	}
	c.cache.Flush()
	c.logger.Info("Cache cleared")
}

// Len reports how many answers are cached.
func (c *Cache) Len() int {
	if !c.enabled {
		return 0
	}
	return c.cache.ItemCount()
}

func generateKey(question, model string) string {
	hash := sha256.Sum256([]byte(fmt.Sprintf("%s:%s", model, question)))
	return hex.EncodeToString(hash[:])
}
