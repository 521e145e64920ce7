package logger

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/genai-tgbot-go/internal/config"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLogger_JSONFields(t *testing.T) {
	log, err := NewLogger(&config.LoggingConfig{Level: "debug", Format: "json", Output: "stdout"})
	require.NoError(t, err)
	assert.Equal(t, logrus.DebugLevel, log.GetLevel())

	var buf bytes.Buffer
	log.SetOutput(&buf)
	WithCommand(log, 1, 2, "ask").Info("hello")

	var line map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "hello", line["message"])
	assert.Equal(t, "ask", line["command"])
	assert.EqualValues(t, 1, line["chat_id"])
	assert.Contains(t, line, "timestamp")
}

func TestNewLogger_Errors(t *testing.T) {
	_, err := NewLogger(&config.LoggingConfig{Level: "loud"})
	assert.Error(t, err)

	_, err = NewLogger(&config.LoggingConfig{Level: "info", Output: "syslog"})
	assert.Error(t, err)

	_, err = NewLogger(&config.LoggingConfig{Level: "info", Output: "file"})
	assert.Error(t, err)
}

func TestNewLogger_FileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "bot.log")
	log, err := NewLogger(&config.LoggingConfig{
		Level:  "info",
		Output: "file",
		File:   config.FileConfig{Path: path, MaxSize: 1},
	})
	require.NoError(t, err)
	log.Info("written")
	assert.FileExists(t, path)
}
