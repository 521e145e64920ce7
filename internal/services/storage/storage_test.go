package storage

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/genai-tgbot-go/internal/config"
	"github.com/genai-tgbot-go/internal/models"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMemoryManager(t *testing.T) *Manager {
	t.Helper()
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	cfg := &config.Config{}
	cfg.Storage.Type = "memory"
	cfg.Storage.Memory.CleanupInterval = time.Minute
	cfg.Context.TTL = time.Hour

	m, err := NewManager(cfg, logger, nil)
	require.NoError(t, err)
	return m
}

func TestNewManager_RejectsUnknownType(t *testing.T) {
	cfg := &config.Config{}
	cfg.Storage.Type = "sqlite"
	_, err := NewManager(cfg, logrus.New(), nil)
	assert.Error(t, err)
}

func TestMemoryStorage_ContextRoundTrip(t *testing.T) {
	m := newMemoryManager(t)
	ctx := context.Background()

	got, err := m.GetContext(ctx, 10)
	require.NoError(t, err)
	assert.Nil(t, got)

	chatCtx := &models.ChatContext{
		ChatID:   10,
		Messages: []models.Message{{Role: models.RoleUser, Content: "hi"}},
	}
	require.NoError(t, m.SaveContext(ctx, chatCtx))

	// mutating the caller's copy must not leak into storage
	chatCtx.Messages = append(chatCtx.Messages, models.Message{Role: models.RoleAssistant, Content: "hey"})

	got, err = m.GetContext(ctx, 10)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Len(t, got.Messages, 1)

	require.NoError(t, m.DeleteContext(ctx, 10))
	got, err = m.GetContext(ctx, 10)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestMemoryStorage_UserSettings(t *testing.T) {
	m := newMemoryManager(t)
	ctx := context.Background()

	got, err := m.GetUserSettings(ctx, 1)
	require.NoError(t, err)
	assert.Nil(t, got)

	require.NoError(t, m.SaveUserSettings(ctx, 1, &models.UserSettings{UserID: 1, Language: "zh"}))
	got, err = m.GetUserSettings(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "zh", got.Language)
}

func TestMemoryStorage_RecordCommand(t *testing.T) {
	m := newMemoryManager(t)
	ctx := context.Background()

	require.NoError(t, m.RecordCommand(ctx, 5, "ask"))
	require.NoError(t, m.RecordCommand(ctx, 5, "ask"))
	require.NoError(t, m.RecordCommand(ctx, 5, "image"))

	stats, err := m.GetUserStats(ctx, 5)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.TotalMessages)
	assert.Equal(t, map[string]int{"ask": 2, "image": 1}, stats.Commands)
	assert.False(t, stats.LastSeen.IsZero())

	empty, err := m.GetUserStats(ctx, 6)
	require.NoError(t, err)
	assert.Equal(t, 0, empty.TotalMessages)
}
