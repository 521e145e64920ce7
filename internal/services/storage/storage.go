package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/genai-tgbot-go/internal/config"
	"github.com/genai-tgbot-go/internal/middleware"
	"github.com/genai-tgbot-go/internal/models"
	"github.com/go-redis/redis/v8"
	"github.com/patrickmn/go-cache"
	"github.com/sirupsen/logrus"
)

// Storage interface defines storage operations
type Storage interface {
	// Conversation context
	GetContext(ctx context.Context, chatID int64) (*models.ChatContext, error)
	SaveContext(ctx context.Context, chatCtx *models.ChatContext) error
	DeleteContext(ctx context.Context, chatID int64) error

	// User settings
	GetUserSettings(ctx context.Context, userID int64) (*models.UserSettings, error)
	SaveUserSettings(ctx context.Context, userID int64, settings *models.UserSettings) error

	// User stats
	GetUserStats(ctx context.Context, userID int64) (*models.UserStats, error)
	RecordCommand(ctx context.Context, userID int64, command string) error
}

// Manager wraps the configured backend and records per-operation metrics.
type Manager struct {
	storage     Storage
	logger      *logrus.Logger
	metrics     *middleware.Metrics
	redisClient *redis.Client
}

// NewManager creates a new storage manager
func NewManager(cfg *config.Config, logger *logrus.Logger, metrics *middleware.Metrics) (*Manager, error) {
	manager := &Manager{
		logger:  logger,
		metrics: metrics,
	}

	switch cfg.Storage.Type {
	case "redis":
		redisStorage, err := NewRedisStorage(cfg, logger)
		if err != nil {
			return nil, err
		}
		manager.storage = redisStorage
		manager.redisClient = redisStorage.client
	case "memory":
		manager.storage = NewMemoryStorage(cfg, logger)
	default:
		return nil, fmt.Errorf("unsupported storage type: %s", cfg.Storage.Type)
	}

	logger.WithField("type", cfg.Storage.Type).Info("Storage initialized")
	return manager, nil
}

// NewManagerWithStorage wraps an already constructed backend.
func NewManagerWithStorage(storage Storage, logger *logrus.Logger, metrics *middleware.Metrics) *Manager {
	return &Manager{
		storage: storage,
		logger:  logger,
		metrics: metrics,
	}
}

func (m *Manager) observe(op string, start time.Time, err error) {
	if m.metrics == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	m.metrics.RecordStorageOperation(op, status, time.Since(start))
}

func (m *Manager) GetContext(ctx context.Context, chatID int64) (chatCtx *models.ChatContext, err error) {
	defer func(start time.Time) { m.observe("get_context", start, err) }(time.Now())
	return m.storage.GetContext(ctx, chatID)
}

func (m *Manager) SaveContext(ctx context.Context, chatCtx *models.ChatContext) (err error) {
	defer func(start time.Time) { m.observe("save_context", start, err) }(time.Now())
	return m.storage.SaveContext(ctx, chatCtx)
}

func (m *Manager) DeleteContext(ctx context.Context, chatID int64) (err error) {
	defer func(start time.Time) { m.observe("delete_context", start, err) }(time.Now())
	return m.storage.DeleteContext(ctx, chatID)
}

func (m *Manager) GetUserSettings(ctx context.Context, userID int64) (settings *models.UserSettings, err error) {
	defer func(start time.Time) { m.observe("get_user_settings", start, err) }(time.Now())
	return m.storage.GetUserSettings(ctx, userID)
}

func (m *Manager) SaveUserSettings(ctx context.Context, userID int64, settings *models.UserSettings) (err error) {
	defer func(start time.Time) { m.observe("save_user_settings", start, err) }(time.Now())
	return m.storage.SaveUserSettings(ctx, userID, settings)
}

func (m *Manager) GetUserStats(ctx context.Context, userID int64) (stats *models.UserStats, err error) {
	defer func(start time.Time) { m.observe("get_user_stats", start, err) }(time.Now())
	return m.storage.GetUserStats(ctx, userID)
}

func (m *Manager) RecordCommand(ctx context.Context, userID int64, command string) (err error) {
	defer func(start time.Time) { m.observe("record_command", start, err) }(time.Now())
	return m.storage.RecordCommand(ctx, userID, command)
}

// GetRedisClient returns the Redis client if available
func (m *Manager) GetRedisClient() *redis.Client {
	return m.redisClient
}

// Close releases the backend connection, if any.
func (m *Manager) Close() error {
	if m.redisClient != nil {
		return m.redisClient.Close()
	}
	return nil
}

// RedisStorage implements storage using Redis
type RedisStorage struct {
	client     *redis.Client
	contextTTL time.Duration
	logger     *logrus.Logger
}

func NewRedisStorage(cfg *config.Config, logger *logrus.Logger) (*RedisStorage, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Storage.Redis.Addr,
		Password: cfg.Storage.Redis.Password,
		DB:       cfg.Storage.Redis.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &RedisStorage{
		client:     client,
		contextTTL: cfg.Context.TTL,
		logger:     logger,
	}, nil
}

func (r *RedisStorage) getJSON(ctx context.Context, key string, dst interface{}) (bool, error) {
	data, err := r.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return false, fmt.Errorf("failed to decode %s: %w", key, err)
	}
	return true, nil
}

func (r *RedisStorage) setJSON(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return r.client.Set(ctx, key, data, ttl).Err()
}

func (r *RedisStorage) GetContext(ctx context.Context, chatID int64) (*models.ChatContext, error) {
	var chatCtx models.ChatContext
	found, err := r.getJSON(ctx, contextKey(chatID), &chatCtx)
	if err != nil || !found {
		return nil, err
	}
	return &chatCtx, nil
}

func (r *RedisStorage) SaveContext(ctx context.Context, chatCtx *models.ChatContext) error {
	return r.setJSON(ctx, contextKey(chatCtx.ChatID), chatCtx, r.contextTTL)
}

func (r *RedisStorage) DeleteContext(ctx context.Context, chatID int64) error {
	return r.client.Del(ctx, contextKey(chatID)).Err()
}

func (r *RedisStorage) GetUserSettings(ctx context.Context, userID int64) (*models.UserSettings, error) {
	var settings models.UserSettings
	found, err := r.getJSON(ctx, userSettingsKey(userID), &settings)
	if err != nil || !found {
		return nil, err
	}
	return &settings, nil
}

func (r *RedisStorage) SaveUserSettings(ctx context.Context, userID int64, settings *models.UserSettings) error {
	return r.setJSON(ctx, userSettingsKey(userID), settings, 0)
}

func (r *RedisStorage) GetUserStats(ctx context.Context, userID int64) (*models.UserStats, error) {
	key := userStatsKey(userID)
	values, err := r.client.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, err
	}

	stats := &models.UserStats{UserID: userID, Commands: make(map[string]int)}
	for field, raw := range values {
		var n int
		if _, err := fmt.Sscanf(raw, "%d", &n); err != nil {
			continue
		}
		switch field {
		case "_total":
			stats.TotalMessages = n
		case "_last_seen":
			stats.LastSeen = time.Unix(int64(n), 0)
		default:
			stats.Commands[field] = n
		}
	}
	return stats, nil
}

// RecordCommand bumps the counters in one pipeline so concurrent
// commands from the same user do not lose increments.
func (r *RedisStorage) RecordCommand(ctx context.Context, userID int64, command string) error {
	key := userStatsKey(userID)
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HIncrBy(ctx, key, "_total", 1)
		pipe.HIncrBy(ctx, key, command, 1)
		pipe.HSet(ctx, key, "_last_seen", time.Now().Unix())
		return nil
	})
	return err
}

// MemoryStorage implements storage using in-memory cache
type MemoryStorage struct {
	contexts     *cache.Cache
	userSettings *cache.Cache
	userStats    *cache.Cache
	statsMu      sync.Mutex
	logger       *logrus.Logger
}

func NewMemoryStorage(cfg *config.Config, logger *logrus.Logger) *MemoryStorage {
	return &MemoryStorage{
		contexts:     cache.New(cfg.Context.TTL, cfg.Storage.Memory.CleanupInterval),
		userSettings: cache.New(cache.NoExpiration, cache.NoExpiration),
		userStats:    cache.New(cache.NoExpiration, cache.NoExpiration),
		logger:       logger,
	}
}

func (m *MemoryStorage) GetContext(ctx context.Context, chatID int64) (*models.ChatContext, error) {
	if val, found := m.contexts.Get(contextKey(chatID)); found {
		stored := val.(*models.ChatContext)
		copied := *stored
		copied.Messages = append([]models.Message(nil), stored.Messages...)
		return &copied, nil
	}
	return nil, nil
}

func (m *MemoryStorage) SaveContext(ctx context.Context, chatCtx *models.ChatContext) error {
	stored := *chatCtx
	stored.Messages = append([]models.Message(nil), chatCtx.Messages...)
	m.contexts.SetDefault(contextKey(chatCtx.ChatID), &stored)
	return nil
}

func (m *MemoryStorage) DeleteContext(ctx context.Context, chatID int64) error {
	m.contexts.Delete(contextKey(chatID))
	return nil
}

func (m *MemoryStorage) GetUserSettings(ctx context.Context, userID int64) (*models.UserSettings, error) {
	if val, found := m.userSettings.Get(userSettingsKey(userID)); found {
		settings := *val.(*models.UserSettings)
		return &settings, nil
	}
	return nil, nil
}

func (m *MemoryStorage) SaveUserSettings(ctx context.Context, userID int64, settings *models.UserSettings) error {
	stored := *settings
	m.userSettings.Set(userSettingsKey(userID), &stored, cache.NoExpiration)
	return nil
}

func (m *MemoryStorage) GetUserStats(ctx context.Context, userID int64) (*models.UserStats, error) {
	m.statsMu.Lock()
	defer m.statsMu.Unlock()

	stats := &models.UserStats{UserID: userID, Commands: make(map[string]int)}
	if val, found := m.userStats.Get(userStatsKey(userID)); found {
		stored := val.(*models.UserStats)
		stats.TotalMessages = stored.TotalMessages
		stats.LastSeen = stored.LastSeen
		for k, v := range stored.Commands {
			stats.Commands[k] = v
		}
	}
	return stats, nil
}

func (m *MemoryStorage) RecordCommand(ctx context.Context, userID int64, command string) error {
	m.statsMu.Lock()
	defer m.statsMu.Unlock()

	key := userStatsKey(userID)
	stats := &models.UserStats{UserID: userID, Commands: make(map[string]int)}
	if val, found := m.userStats.Get(key); found {
		stats = val.(*models.UserStats)
	}
	stats.TotalMessages++
	stats.Commands[command]++
	stats.LastSeen = time.Now()
	m.userStats.Set(key, stats, cache.NoExpiration)
	return nil
}

func contextKey(chatID int64) string {
	return fmt.Sprintf("context:%d", chatID)
}

func userSettingsKey(userID int64) string {
	return fmt.Sprintf("user_settings:%d", userID)
}

func userStatsKey(userID int64) string {
	return fmt.Sprintf("user_stats:%d", userID)
}
