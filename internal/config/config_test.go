package config

import (
	"log/slog"
	"path/filepath"
	"strings"
	"testing"

	testutil "github.com/cellwire/apnd/internal/testing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, ":6677", cfg.HTTPListen)
	assert.Equal(t, "/run/apnd/apnd.sock", cfg.SocketPath)
	assert.Equal(t, "/var/lib/apnd/apnd.db", cfg.DBPath)
	assert.Equal(t, 50, cfg.TemplateListLimit)
	assert.Equal(t, ModemBackendOfono, cfg.ModemBackend)
}

func TestLoadOverlaysFile(t *testing.T) {
	dir := t.TempDir()
	path := testutil.WriteFile(t, dir, "config.yaml", `
data_dir: /srv/apnd
run_dir: /tmp/apnd-run
metrics_listen: 127.0.0.1:9107
log_level: DEBUG
log_format: json
modem_backend: fake
ofono_modem_path: /ril_0
secrets_age_key_path: /etc/apnd/age.key
template_list_limit: 20
`, 0o600)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, path, cfg.ConfigPath)
	assert.Equal(t, "/srv/apnd/apnd.db", cfg.DBPath)
	assert.Equal(t, "/tmp/apnd-run/apnd.sock", cfg.SocketPath)
	assert.Equal(t, "127.0.0.1:9107", cfg.MetricsListen)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, LogFormatJSON, cfg.LogFormat)
	assert.Equal(t, ModemBackendFake, cfg.ModemBackend)
	assert.Equal(t, "/ril_0", cfg.OfonoModemPath)
	assert.Equal(t, "/etc/apnd/age.key", cfg.SecretsAgeKeyPath)
	assert.Equal(t, 20, cfg.TemplateListLimit)
	assert.Equal(t, ":6677", cfg.HTTPListen)
}

func TestLoadExplicitPaths(t *testing.T) {
	dir := t.TempDir()
	path := testutil.WriteFile(t, dir, "config.yaml", `
data_dir: /srv/apnd
db_path: /data/apn.db
socket_path: /tmp/ctl.sock
http_listen: ""
http_auth_token: " s3cret "
http_allow_cidrs:
  - 10.0.0.0/8
  - fd00::/8
http_rate_limit_qps: 2.5
http_rate_limit_burst: 5
`, 0o600)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/data/apn.db", cfg.DBPath)
	assert.Equal(t, "/tmp/ctl.sock", cfg.SocketPath)
	assert.Empty(t, cfg.HTTPListen, "explicit empty http_listen disables TCP")
	assert.Equal(t, "s3cret", cfg.HTTPAuthToken)
	assert.Equal(t, []string{"10.0.0.0/8", "fd00::/8"}, cfg.HTTPAllowCIDRs)
	assert.Equal(t, 2.5, cfg.HTTPRateLimitQPS)
	assert.Equal(t, 5, cfg.HTTPRateLimitBurst)
}

func TestLoadErrors(t *testing.T) {
	dir := t.TempDir()

	t.Run("missing explicit file", func(t *testing.T) {
		_, err := Load(filepath.Join(dir, "nope.yaml"))
		assert.ErrorContains(t, err, "read config")
	})

	t.Run("bad yaml", func(t *testing.T) {
		path := testutil.WriteFile(t, dir, "bad.yaml", "data_dir: [", 0o600)
		_, err := Load(path)
		assert.ErrorContains(t, err, "parse config")
	})

	t.Run("invalid value", func(t *testing.T) {
		path := testutil.WriteFile(t, dir, "backend.yaml", "modem_backend: qmi\n", 0o600)
		_, err := Load(path)
		assert.ErrorContains(t, err, "modem_backend")
	})
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"metrics wildcard", func(c *Config) { c.MetricsListen = "0.0.0.0:9107" }, "localhost-only"},
		{"metrics not host port", func(c *Config) { c.MetricsListen = "9107" }, "metrics_listen"},
		{"metrics localhost", func(c *Config) { c.MetricsListen = "localhost:9107" }, ""},
		{"metrics ipv6 loopback", func(c *Config) { c.MetricsListen = "[::1]:9107" }, ""},
		{"http bad", func(c *Config) { c.HTTPListen = "6677" }, "http_listen"},
		{"http disabled", func(c *Config) { c.HTTPListen = "" }, ""},
		{"allow cidr bad", func(c *Config) { c.HTTPAllowCIDRs = []string{"10.0.0.1"} }, "http_allow_cidrs"},
		{"allow cidr ok", func(c *Config) { c.HTTPAllowCIDRs = []string{"192.168.0.0/16"} }, ""},
		{"negative rate", func(c *Config) { c.HTTPRateLimitQPS = -1 }, "http_rate_limit"},
		{"log level", func(c *Config) { c.LogLevel = "trace" }, "log_level"},
		{"log format", func(c *Config) { c.LogFormat = "xml" }, "log_format"},
		{"modem path", func(c *Config) { c.OfonoModemPath = "ril_0" }, "ofono_modem_path"},
		{"list limit zero", func(c *Config) { c.TemplateListLimit = 0 }, "template_list_limit"},
		{"list limit huge", func(c *Config) { c.TemplateListLimit = 5000 }, "template_list_limit"},
		{"no socket", func(c *Config) { c.SocketPath = "" }, "socket_path"},
		{"no db", func(c *Config) { c.DBPath = "" }, "db_path"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, strings.Contains(err.Error(), tt.wantErr), "error %q missing %q", err, tt.wantErr)
		})
	}
}

func TestParseLogLevel(t *testing.T) {
	for in, want := range map[string]slog.Level{
		"":        slog.LevelInfo,
		"debug":   slog.LevelDebug,
		"WARN":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
	} {
		got, err := ParseLogLevel(in)
		require.NoError(t, err)
		assert.Equal(t, want, got, in)
	}
}
