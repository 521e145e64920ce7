package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadConfig_Defaults(t *testing.T) {
	t.Setenv("BOT_TOKEN", "")
	t.Setenv("OLLAMA_HOST", "")

	cfg, err := LoadConfig(writeConfig(t, "bot:\n  token: abc\n"))
	require.NoError(t, err)

	assert.Equal(t, "abc", cfg.Bot.Token)
	assert.Equal(t, 60, cfg.Bot.UpdateTimeout)
	assert.Equal(t, 3*time.Second, cfg.Stream.EditInterval)
	assert.Equal(t, " …", cfg.Stream.ProgressMarker)
	assert.True(t, cfg.RateLimit.Enabled)
	assert.Equal(t, "memory", cfg.RateLimit.Store)
	assert.Empty(t, cfg.RateLimit.Commands)
	assert.Equal(t, "https://api.groq.com/openai/v1", cfg.Providers.Groq.BaseURL)
	assert.Equal(t, "gpt-4o-mini", cfg.Providers.OpenAI.ChatModel)
	assert.Empty(t, cfg.Providers.Ollama.BaseURL)
	assert.Equal(t, "6", cfg.Providers.ComfyUI.PromptNode)
	assert.Equal(t, []string{"en"}, cfg.I18n.Languages)
}

func TestLoadConfig_RateLimitOverrides(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, `
bot:
  token: abc
rate_limit:
  commands:
    ask:
      quota: 2
      window: 30s
    flux:
      quota: 1
      window: 10m
`))
	require.NoError(t, err)

	assert.Equal(t, RateLimitRule{Quota: 2, Window: 30 * time.Second}, cfg.RateLimit.Commands["ask"])
	assert.Equal(t, RateLimitRule{Quota: 1, Window: 10 * time.Minute}, cfg.RateLimit.Commands["flux"])
	assert.Equal(t, []string{"ask", "flux"}, cfg.RateLimit.SortedCommands())
}

func TestLoadConfig_EnvOverrides(t *testing.T) {
	t.Setenv("BOT_TOKEN", "from-env")
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("OLLAMA_HOST", "http://localhost:11434")
	t.Setenv("REDIS_HOST", "redis")

	cfg, err := LoadConfig(writeConfig(t, "bot:\n  token: from-file\n"))
	require.NoError(t, err)

	assert.Equal(t, "from-env", cfg.Bot.Token)
	assert.Equal(t, "sk-test", cfg.Providers.OpenAI.APIKey)
	assert.Equal(t, "http://localhost:11434", cfg.Providers.Ollama.BaseURL)
	assert.Equal(t, "redis:6379", cfg.Storage.Redis.Addr)
}

func TestLoadConfig_ShippedConfig(t *testing.T) {
	t.Setenv("BOT_TOKEN", "abc")

	cfg, err := LoadConfig("../../configs/config.yaml")
	require.NoError(t, err)
	assert.Equal(t, []string{"en", "zh"}, cfg.I18n.Languages)
	assert.Equal(t, "configs/comfyui/workflow.json", cfg.Providers.ComfyUI.WorkflowPath)
}

func TestLoadConfig_Invalid(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{
			name: "missing token",
			body: "logging:\n  level: info\n",
			want: "bot token is required",
		},
		{
			name: "unknown store",
			body: "bot:\n  token: abc\nrate_limit:\n  store: etcd\n",
			want: "unsupported rate limit store",
		},
		{
			name: "zero quota",
			body: "bot:\n  token: abc\nrate_limit:\n  commands:\n    ask:\n      quota: 0\n      window: 1m\n",
			want: "quota must be positive",
		},
		{
			name: "zero window",
			body: "bot:\n  token: abc\nrate_limit:\n  commands:\n    ask:\n      quota: 1\n",
			want: "window must be positive",
		},
		{
			name: "redis limiter without redis storage",
			body: "bot:\n  token: abc\nrate_limit:\n  store: redis\n",
			want: "requires storage.type redis",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("BOT_TOKEN", "")
			_, err := LoadConfig(writeConfig(t, tt.body))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoadConfig_MissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}
