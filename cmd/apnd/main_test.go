package main

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/cellwire/apnd/internal/buildinfo"
	"github.com/cellwire/apnd/internal/config"
	"github.com/cellwire/apnd/internal/secrets"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runCapture(args ...string) (int, string, string) {
	prev := slog.Default()
	defer slog.SetDefault(prev)
	var stdout, stderr bytes.Buffer
	code := run(args, &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func writeConfig(t *testing.T, body string, perm os.FileMode) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), perm))
	require.NoError(t, os.Chmod(path, perm))
	return path
}

func TestVersionFlag(t *testing.T) {
	code, stdout, _ := runCapture("--version")
	assert.Equal(t, 0, code)
	assert.Equal(t, buildinfo.String()+"\n", stdout)
}

func TestUnknownFlag(t *testing.T) {
	code, _, stderr := runCapture("--bogus")
	assert.Equal(t, 2, code)
	assert.Contains(t, stderr, "flag provided but not defined")
}

func TestGenerateAgeKey(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keys", "apnd.key")
	code, stdout, stderr := runCapture("--gen-age-key", path)
	require.Equal(t, 0, code, stderr)
	assert.Contains(t, stdout, "public key: age1")
	require.NoError(t, config.CheckKeyPermissions(path))

	sealer, err := secrets.LoadSealer(path)
	require.NoError(t, err)
	assert.True(t, sealer.Enabled())

	code, _, stderr = runCapture("--gen-age-key", path)
	assert.Equal(t, 1, code, "existing key is never overwritten")
	assert.Contains(t, stderr, "create age key")
}

func TestCheckConfig(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, "data_dir: "+dir+"\nrun_dir: "+filepath.Join(dir, "run")+"\nmodem_backend: fake\n", 0o600)

	code, stdout, stderr := runCapture("--config", path, "--check-config")
	require.Equal(t, 0, code, stderr)
	assert.Contains(t, stdout, "ok")
}

func TestConfigErrors(t *testing.T) {
	t.Run("missing explicit file", func(t *testing.T) {
		code, _, stderr := runCapture("--config", filepath.Join(t.TempDir(), "nope.yaml"), "--check-config")
		assert.Equal(t, 1, code)
		assert.Contains(t, stderr, "read config")
	})

	t.Run("invalid value", func(t *testing.T) {
		path := writeConfig(t, "modem_backend: qmi\n", 0o600)
		code, _, stderr := runCapture("--config", path, "--check-config")
		assert.Equal(t, 1, code)
		assert.Contains(t, stderr, "modem_backend")
	})

	t.Run("world readable", func(t *testing.T) {
		path := writeConfig(t, "modem_backend: fake\n", 0o644)
		code, _, stderr := runCapture("--config", path, "--check-config")
		assert.Equal(t, 1, code)
		assert.Contains(t, stderr, "must not be accessible by others")
	})

	t.Run("group readable warns", func(t *testing.T) {
		path := writeConfig(t, "modem_backend: fake\nlog_format: json\n", 0o640)
		code, _, stderr := runCapture("--config", path, "--check-config")
		assert.Equal(t, 0, code)
		assert.Contains(t, stderr, "group-readable")
	})
}

func TestNewLogger(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.LogFormat = config.LogFormatJSON
	cfg.LogLevel = "warn"

	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	var buf bytes.Buffer
	logger, err := newLogger(cfg, &buf)
	require.NoError(t, err)
	logger.Info("hidden")
	logger.Warn("shown", "k", "v")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "shown", entry["msg"])
	assert.Equal(t, "v", entry["k"])

	cfg.LogLevel = "loud"
	_, err = newLogger(cfg, &buf)
	assert.Error(t, err)
}
