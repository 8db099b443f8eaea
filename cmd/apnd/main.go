package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/cellwire/apnd/internal/buildinfo"
	"github.com/cellwire/apnd/internal/config"
	"github.com/cellwire/apnd/internal/daemon"
	"github.com/cellwire/apnd/internal/secrets"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	var showVersion bool
	var checkConfig bool
	var configPath string
	var genKeyPath string

	fs := flag.NewFlagSet("apnd", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.BoolVar(&showVersion, "version", false, "print version and exit")
	fs.BoolVar(&checkConfig, "check-config", false, "validate the config file and exit")
	fs.StringVar(&configPath, "config", "", "path to config file (default "+config.DefaultConfigPath+")")
	fs.StringVar(&genKeyPath, "gen-age-key", "", "write a new age identity for password sealing to `path` and exit")
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}

	if showVersion {
		fmt.Fprintln(stdout, buildinfo.String())
		return 0
	}
	if genKeyPath != "" {
		recipient, err := secrets.GenerateKeyFile(genKeyPath)
		if err != nil {
			fmt.Fprintln(stderr, "apnd:", err)
			return 1
		}
		fmt.Fprintf(stdout, "wrote %s\npublic key: %s\n", genKeyPath, recipient)
		return 0
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintln(stderr, "apnd:", err)
		return 1
	}
	logger, err := newLogger(cfg, stderr)
	if err != nil {
		fmt.Fprintln(stderr, "apnd:", err)
		return 1
	}
	if err := checkConfigFile(cfg.ConfigPath, logger); err != nil {
		fmt.Fprintln(stderr, "apnd:", err)
		return 1
	}
	if checkConfig {
		fmt.Fprintf(stdout, "config %s ok\n", cfg.ConfigPath)
		return 0
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("apnd starting", "version", buildinfo.Version, "commit", buildinfo.Commit, "config", cfg.ConfigPath)
	if err := daemon.Run(ctx, cfg, logger); err != nil {
		logger.Error("apnd stopped", "err", err)
		return 1
	}
	logger.Info("apnd stopped")
	return 0
}

// newLogger builds the process logger from log_level and log_format and
// installs it as the slog default.
func newLogger(cfg config.Config, w io.Writer) (*slog.Logger, error) {
	level, err := config.ParseLogLevel(cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	switch strings.ToLower(cfg.LogFormat) {
	case config.LogFormatJSON:
		handler = slog.NewJSONHandler(w, opts)
	default:
		handler = slog.NewTextHandler(w, opts)
	}
	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger, nil
}

// checkConfigFile rejects a config readable by others. A missing default
// config is fine; Load already succeeded with defaults.
func checkConfigFile(path string, logger *slog.Logger) error {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	warning, err := config.CheckConfigPermissions(path)
	if err != nil {
		return err
	}
	if warning != "" {
		logger.Warn(warning)
	}
	return nil
}
