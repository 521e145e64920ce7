package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runCLI(t *testing.T, config string, args ...string) (string, error) {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(config), 0o600))

	var out bytes.Buffer
	cmd := newRootCommand()
	cmd.SetOut(&out)
	cmd.SetArgs(append(args, "--config", path, "--env", filepath.Join(dir, "missing.env")))
	err := cmd.Execute()
	return out.String(), err
}

func TestLimitsCommand(t *testing.T) {
	t.Setenv("BOT_TOKEN", "")
	out, err := runCLI(t, "bot:\n  token: abc\nrate_limit:\n  commands:\n    ask:\n      quota: 2\n      window: 30s\n", "limits")
	require.NoError(t, err)

	assert.Contains(t, out, "/ask")
	assert.Regexp(t, `/ask\s+2 per 30s`, out)
	assert.Regexp(t, `/comfy\s+2 per 5m0s`, out)
	assert.NotContains(t, out, "/help")
}

func TestLimitsCommand_Disabled(t *testing.T) {
	t.Setenv("BOT_TOKEN", "")
	out, err := runCLI(t, "bot:\n  token: abc\nrate_limit:\n  enabled: false\n", "limits")
	require.NoError(t, err)
	assert.Equal(t, "rate limiting disabled\n", out)
}

func TestLimitsCommand_UnknownCommand(t *testing.T) {
	t.Setenv("BOT_TOKEN", "")
	_, err := runCLI(t, "bot:\n  token: abc\nrate_limit:\n  commands:\n    bogus:\n      quota: 1\n      window: 1m\n", "limits")
	assert.Error(t, err)
}
