package i18n

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/genai-tgbot-go/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeBundle(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "en.json"),
		[]byte(`{"rate_limit_exceeded": "Try /{{.Command}} in {{.Seconds}}s", "error": "oops"}`), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "zh.json"),
		[]byte(`{"rate_limit_exceeded": "{{.Seconds}} 秒后再试 /{{.Command}}"}`), 0o644))
	return dir
}

func TestLocalizer_Get(t *testing.T) {
	l, err := NewLocalizer(&config.I18nConfig{
		DefaultLanguage: "en",
		Languages:       []string{"en", "zh"},
		Directory:       writeBundle(t),
	})
	require.NoError(t, err)

	data := map[string]interface{}{"Command": "ask", "Seconds": 7}
	assert.Equal(t, "Try /ask in 7s", l.Get("en", MsgRateLimitExceeded, data))
	assert.Equal(t, "7 秒后再试 /ask", l.Get("zh", MsgRateLimitExceeded, data))

	// unknown language uses the default
	assert.Equal(t, "oops", l.Get("fr", MsgError, nil))

	assert.Equal(t, "missing_id", l.Get("en", "missing_id", nil))
}

func TestLocalizer_Resolve(t *testing.T) {
	l, err := NewLocalizer(&config.I18nConfig{
		DefaultLanguage: "en",
		Languages:       []string{"zh"},
		Directory:       writeBundle(t),
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"en", "zh"}, l.Languages())
	assert.Equal(t, "en", l.Resolve(""))
	assert.Equal(t, "en", l.Resolve("en-US"))
	assert.Equal(t, "zh", l.Resolve("zh-hans"))
	assert.Equal(t, "en", l.Resolve("xx"))
	assert.True(t, l.Supported("zh"))
	assert.False(t, l.Supported("fr"))
}

func TestNewLocalizer_MissingFile(t *testing.T) {
	_, err := NewLocalizer(&config.I18nConfig{
		DefaultLanguage: "en",
		Languages:       []string{"de"},
		Directory:       writeBundle(t),
	})
	assert.Error(t, err)
}

func TestShippedBundles(t *testing.T) {
	l, err := NewLocalizer(&config.I18nConfig{
		DefaultLanguage: "en",
		Languages:       []string{"en", "zh"},
		Directory:       filepath.Join("..", "..", "configs", "i18n"),
	})
	require.NoError(t, err)

	for _, id := range []string{
		MsgWelcome, MsgHelp, MsgContextCleared, MsgStats, MsgLimits, MsgLimitsEmpty,
		MsgLanguageChanged, MsgLanguageInvalid, MsgUnknownCommand, MsgRateLimitExceeded,
		MsgProviderUnavailable, MsgError, MsgProcessing, MsgMissingPrompt, MsgPromptInvalid,
		MsgReplyToPhoto, MsgReplyToAudio, MsgNoResponse,
	} {
		for _, lang := range []string{"en", "zh"} {
			assert.NotEqual(t, id, l.Get(lang, id, map[string]interface{}{}), "%s/%s", lang, id)
		}
	}
}
