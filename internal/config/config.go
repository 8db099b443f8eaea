// Package config loads apnd daemon settings from YAML.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// DefaultConfigPath is read when no path is given. A missing file at this
// path is not an error.
const DefaultConfigPath = "/etc/apnd/config.yaml"

// Modem backends.
const (
	ModemBackendOfono = "ofono"
	ModemBackendFake  = "fake"
)

// Log formats.
const (
	LogFormatText = "text"
	LogFormatJSON = "json"
)

const maxTemplateListLimit = 1000

// Config holds daemon paths, listeners and backend settings.
// HTTPRateLimitQPS and HTTPRateLimitBurst throttle the TCP listener per
// client IP; zero disables limiting.
type Config struct {
	ConfigPath         string
	DataDir            string
	RunDir             string
	SocketPath         string
	DBPath             string
	HTTPListen         string
	HTTPAuthToken      string
	HTTPAllowCIDRs     []string
	HTTPRateLimitQPS   float64
	HTTPRateLimitBurst int
	MetricsListen      string
	LogLevel           string
	LogFormat          string
	ModemBackend       string
	DBusAddress        string
	OfonoModemPath     string
	SecretsAgeKeyPath  string
	TemplateListLimit  int
}

// FileConfig represents supported YAML config overrides.
//
// HTTPListen is a pointer so that an explicit empty value can disable the
// TCP listener.
type FileConfig struct {
	DataDir            string   `yaml:"data_dir"`
	RunDir             string   `yaml:"run_dir"`
	SocketPath         string   `yaml:"socket_path"`
	DBPath             string   `yaml:"db_path"`
	HTTPListen         *string  `yaml:"http_listen"`
	HTTPAuthToken      string   `yaml:"http_auth_token"`
	HTTPAllowCIDRs     []string `yaml:"http_allow_cidrs"`
	HTTPRateLimitQPS   float64  `yaml:"http_rate_limit_qps"`
	HTTPRateLimitBurst int      `yaml:"http_rate_limit_burst"`
	MetricsListen      string   `yaml:"metrics_listen"`
	LogLevel           string   `yaml:"log_level"`
	LogFormat          string   `yaml:"log_format"`
	ModemBackend       string   `yaml:"modem_backend"`
	DBusAddress        string   `yaml:"dbus_address"`
	OfonoModemPath     string   `yaml:"ofono_modem_path"`
	SecretsAgeKeyPath  string   `yaml:"secrets_age_key_path"`
	TemplateListLimit  int      `yaml:"template_list_limit"`
}

func DefaultConfig() Config {
	dataDir := "/var/lib/apnd"
	runDir := "/run/apnd"
	return Config{
		ConfigPath:        DefaultConfigPath,
		DataDir:           dataDir,
		RunDir:            runDir,
		SocketPath:        filepath.Join(runDir, "apnd.sock"),
		DBPath:            filepath.Join(dataDir, "apnd.db"),
		HTTPListen:        ":6677",
		MetricsListen:     "",
		LogLevel:          "info",
		LogFormat:         LogFormatText,
		ModemBackend:      ModemBackendOfono,
		TemplateListLimit: 50,
	}
}

// Load reads the YAML config file and applies overrides to defaults.
// An empty path selects DefaultConfigPath, which may be absent.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()
	explicit := strings.TrimSpace(path) != ""
	if explicit {
		cfg.ConfigPath = path
	}
	data, err := os.ReadFile(cfg.ConfigPath)
	if err != nil {
		if !explicit && errors.Is(err, os.ErrNotExist) {
			return cfg, cfg.Validate()
		}
		return cfg, fmt.Errorf("read config %s: %w", cfg.ConfigPath, err)
	}
	var fileCfg FileConfig
	if err := yaml.Unmarshal(data, &fileCfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", cfg.ConfigPath, err)
	}
	applyFileConfig(&cfg, fileCfg)
	if fileCfg.DataDir != "" && fileCfg.DBPath == "" {
		cfg.DBPath = filepath.Join(cfg.DataDir, "apnd.db")
	}
	if fileCfg.RunDir != "" && fileCfg.SocketPath == "" {
		cfg.SocketPath = filepath.Join(cfg.RunDir, "apnd.sock")
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyFileConfig(cfg *Config, fileCfg FileConfig) {
	if fileCfg.DataDir != "" {
		cfg.DataDir = fileCfg.DataDir
	}
	if fileCfg.RunDir != "" {
		cfg.RunDir = fileCfg.RunDir
	}
	if fileCfg.SocketPath != "" {
		cfg.SocketPath = fileCfg.SocketPath
	}
	if fileCfg.DBPath != "" {
		cfg.DBPath = fileCfg.DBPath
	}
	if fileCfg.HTTPListen != nil {
		cfg.HTTPListen = strings.TrimSpace(*fileCfg.HTTPListen)
	}
	if fileCfg.HTTPAuthToken != "" {
		cfg.HTTPAuthToken = strings.TrimSpace(fileCfg.HTTPAuthToken)
	}
	if len(fileCfg.HTTPAllowCIDRs) > 0 {
		cfg.HTTPAllowCIDRs = append([]string(nil), fileCfg.HTTPAllowCIDRs...)
	}
	if fileCfg.HTTPRateLimitQPS != 0 {
		cfg.HTTPRateLimitQPS = fileCfg.HTTPRateLimitQPS
	}
	if fileCfg.HTTPRateLimitBurst != 0 {
		cfg.HTTPRateLimitBurst = fileCfg.HTTPRateLimitBurst
	}
	if fileCfg.MetricsListen != "" {
		cfg.MetricsListen = fileCfg.MetricsListen
	}
	if fileCfg.LogLevel != "" {
		cfg.LogLevel = strings.ToLower(fileCfg.LogLevel)
	}
	if fileCfg.LogFormat != "" {
		cfg.LogFormat = strings.ToLower(fileCfg.LogFormat)
	}
	if fileCfg.ModemBackend != "" {
		cfg.ModemBackend = strings.ToLower(fileCfg.ModemBackend)
	}
	if fileCfg.DBusAddress != "" {
		cfg.DBusAddress = fileCfg.DBusAddress
	}
	if fileCfg.OfonoModemPath != "" {
		cfg.OfonoModemPath = fileCfg.OfonoModemPath
	}
	if fileCfg.SecretsAgeKeyPath != "" {
		cfg.SecretsAgeKeyPath = fileCfg.SecretsAgeKeyPath
	}
	if fileCfg.TemplateListLimit != 0 {
		cfg.TemplateListLimit = fileCfg.TemplateListLimit
	}
}

// Validate performs basic validation without exposing secrets.
func (c Config) Validate() error {
	if c.ConfigPath == "" {
		return fmt.Errorf("config_path is required")
	}
	if c.RunDir == "" {
		return fmt.Errorf("run_dir is required")
	}
	if c.SocketPath == "" {
		return fmt.Errorf("socket_path is required")
	}
	if c.DBPath == "" {
		return fmt.Errorf("db_path is required")
	}
	if strings.TrimSpace(c.HTTPListen) != "" {
		if _, _, err := net.SplitHostPort(c.HTTPListen); err != nil {
			return fmt.Errorf("http_listen must be host:port: %w", err)
		}
	}
	for _, cidr := range c.HTTPAllowCIDRs {
		if _, _, err := net.ParseCIDR(strings.TrimSpace(cidr)); err != nil {
			return fmt.Errorf("http_allow_cidrs entry %q is invalid: %w", cidr, err)
		}
	}
	if c.HTTPRateLimitQPS < 0 || c.HTTPRateLimitBurst < 0 {
		return fmt.Errorf("http_rate_limit_qps and http_rate_limit_burst must not be negative")
	}
	if strings.TrimSpace(c.MetricsListen) != "" {
		host, _, err := net.SplitHostPort(c.MetricsListen)
		if err != nil {
			return fmt.Errorf("metrics_listen must be host:port: %w", err)
		}
		if !isLoopbackHost(host) {
			return fmt.Errorf("metrics_listen must be localhost-only (got %q)", host)
		}
	}
	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		return err
	}
	switch c.LogFormat {
	case LogFormatText, LogFormatJSON:
	default:
		return fmt.Errorf("log_format must be %q or %q (got %q)", LogFormatText, LogFormatJSON, c.LogFormat)
	}
	switch c.ModemBackend {
	case ModemBackendOfono, ModemBackendFake:
	default:
		return fmt.Errorf("modem_backend must be %q or %q (got %q)", ModemBackendOfono, ModemBackendFake, c.ModemBackend)
	}
	if c.OfonoModemPath != "" && !strings.HasPrefix(c.OfonoModemPath, "/") {
		return fmt.Errorf("ofono_modem_path must be an object path (got %q)", c.OfonoModemPath)
	}
	if c.TemplateListLimit <= 0 || c.TemplateListLimit > maxTemplateListLimit {
		return fmt.Errorf("template_list_limit must be between 1 and %d", maxTemplateListLimit)
	}
	return nil
}

// ParseLogLevel maps a log_level value to a slog level.
func ParseLogLevel(level string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("log_level must be debug, info, warn or error (got %q)", level)
	}
}

func isLoopbackHost(host string) bool {
	if strings.EqualFold(host, "localhost") {
		return true
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return false
	}
	return ip.IsLoopback()
}
