// Package daemon wires the apnd process: store, modem backend, engine,
// control API listeners and the metrics endpoint.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cellwire/apnd/internal/apn"
	"github.com/cellwire/apnd/internal/config"
	"github.com/cellwire/apnd/internal/db"
	"github.com/cellwire/apnd/internal/modem"
	"github.com/cellwire/apnd/internal/secrets"
)

const (
	shutdownTimeout = 5 * time.Second
	socketPerms     = 0o660
	runDirPerms     = 0o750
)

// listenerServer pairs a bound listener with the server that drains it.
type listenerServer struct {
	name     string
	listener net.Listener
	server   *http.Server
}

// Service owns the store, the modem backend, the engine and the listeners.
type Service struct {
	cfg       config.Config
	logger    *slog.Logger
	store     *db.Store
	backend   modem.Manager
	engine    *apn.Service
	metrics   *Metrics
	listeners []listenerServer
}

// Run opens the store, builds the engine, binds listeners and serves until
// ctx is canceled.
func Run(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	if logger == nil {
		logger = slog.Default()
	}
	sealer, err := loadSealer(cfg, logger)
	if err != nil {
		return err
	}
	store, err := db.Open(cfg.DBPath)
	if err != nil {
		return err
	}
	backend := newModemBackend(cfg, logger)
	service, err := NewService(ctx, cfg, store, backend, sealer, logger)
	if err != nil {
		_ = store.Close()
		closeBackend(backend)
		return err
	}
	return service.Serve(ctx)
}

// NewService initialises the engine and binds every configured listener.
// A modem that cannot be initialised is a warning: the engine retries on
// the next apply.
func NewService(ctx context.Context, cfg config.Config, store *db.Store, backend modem.Manager, sealer *secrets.Sealer, logger *slog.Logger) (*Service, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if store == nil {
		return nil, errors.New("db store is nil")
	}
	if backend == nil {
		return nil, errors.New("modem backend is nil")
	}
	if err := ensureDir(cfg.RunDir, runDirPerms); err != nil {
		return nil, err
	}
	version, err := store.SchemaVersion(ctx)
	if err != nil {
		return nil, err
	}
	logger.Info("store ready", "path", store.Path, "schema_version", version)
	if !backend.IsReady() {
		if err := backend.Initialize(ctx); err != nil {
			logger.Warn("modem initialise failed; will retry on apply", "backend", cfg.ModemBackend, "err", err)
		}
	}

	metrics := NewMetrics()
	engine := apn.NewService(store, backend, logger).
		WithSealer(sealer).
		WithRecorder(metrics)
	if err := engine.Init(ctx); err != nil {
		return nil, fmt.Errorf("init apn engine: %w", err)
	}

	s := &Service{
		cfg:     cfg,
		logger:  logger.With("component", "daemon"),
		store:   store,
		backend: backend,
		engine:  engine,
		metrics: metrics,
	}
	if err := s.bind(); err != nil {
		s.closeListeners()
		return nil, err
	}
	return s, nil
}

func (s *Service) bind() error {
	metricsEnabled := strings.TrimSpace(s.cfg.MetricsListen) != ""
	api := NewControlAPI(s.engine, s.logger).
		WithListLimit(s.cfg.TemplateListLimit).
		WithMetricsEnabled(metricsEnabled)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", healthHandler)
	api.Register(mux)
	handler := withRequestContext(mux, s.logger, s.metrics)

	unixListener, err := listenUnix(s.cfg.SocketPath)
	if err != nil {
		return err
	}
	s.listeners = append(s.listeners, listenerServer{name: "unix", listener: unixListener, server: newHTTPServer(handler)})

	if listen := strings.TrimSpace(s.cfg.HTTPListen); listen != "" {
		auth, err := NewControlAuth(s.cfg.HTTPAuthToken, s.cfg.HTTPAllowCIDRs)
		if err != nil {
			return fmt.Errorf("control auth: %w", err)
		}
		if auth == nil {
			s.logger.Warn("http listener has no auth token or allowlist", "listen", listen)
		}
		limiter := NewIPRateLimiter(s.cfg.HTTPRateLimitQPS, s.cfg.HTTPRateLimitBurst)
		tcpListener, err := net.Listen("tcp", listen)
		if err != nil {
			return fmt.Errorf("listen http %s: %w", listen, err)
		}
		s.listeners = append(s.listeners, listenerServer{name: "http", listener: tcpListener, server: newHTTPServer(limiter.Wrap(auth.Wrap(handler)))})
	}

	if metricsEnabled {
		metricsListener, err := net.Listen("tcp", s.cfg.MetricsListen)
		if err != nil {
			return fmt.Errorf("listen metrics %s: %w", s.cfg.MetricsListen, err)
		}
		metricsMux := http.NewServeMux()
		metricsMux.HandleFunc("/healthz", healthHandler)
		metricsMux.Handle("/metrics", s.metrics.Handler())
		s.listeners = append(s.listeners, listenerServer{name: "metrics", listener: metricsListener, server: newHTTPServer(metricsMux)})
	}
	return nil
}

// Serve blocks until shutdown or a listener error occurs.
func (s *Service) Serve(ctx context.Context) error {
	for _, ls := range s.listeners {
		s.logger.Info("listening", "listener", ls.name, "addr", ls.listener.Addr().String())
	}

	errCh := make(chan error, len(s.listeners))
	for _, ls := range s.listeners {
		go func() { errCh <- ls.server.Serve(ls.listener) }()
	}

	remaining := len(s.listeners)
	var serveErr error

	select {
	case <-ctx.Done():
		// graceful shutdown
	case err := <-errCh:
		remaining--
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr = err
		}
	}

	s.shutdown()
	for i := 0; i < remaining; i++ {
		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) && serveErr == nil {
			serveErr = err
		}
	}

	_ = os.Remove(s.cfg.SocketPath)
	s.logger.Info("stopped")
	return serveErr
}

func (s *Service) shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	for _, ls := range s.listeners {
		_ = ls.server.Shutdown(ctx)
	}
	if s.store != nil {
		_ = s.store.Close()
	}
	closeBackend(s.backend)
}

// closeListeners releases listeners bound before a failed startup.
func (s *Service) closeListeners() {
	for _, ls := range s.listeners {
		_ = ls.listener.Close()
	}
	s.listeners = nil
	if s.cfg.SocketPath != "" {
		_ = os.Remove(s.cfg.SocketPath)
	}
}

func newHTTPServer(handler http.Handler) *http.Server {
	return &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       2 * time.Minute,
	}
}

func newModemBackend(cfg config.Config, logger *slog.Logger) modem.Manager {
	if cfg.ModemBackend == config.ModemBackendFake {
		logger.Warn("using in-memory fake modem backend")
		return modem.NewReadyFakeBackend()
	}
	return modem.NewOfonoBackend(modem.OfonoOptions{
		BusAddress: cfg.DBusAddress,
		ModemPath:  cfg.OfonoModemPath,
		Logger:     logger,
	})
}

func closeBackend(backend modem.Manager) {
	if closer, ok := backend.(io.Closer); ok {
		_ = closer.Close()
	}
}

// loadSealer reads the age identity used to seal template passwords. No key
// path means passwords are stored in plaintext.
func loadSealer(cfg config.Config, logger *slog.Logger) (*secrets.Sealer, error) {
	path := strings.TrimSpace(cfg.SecretsAgeKeyPath)
	if path == "" {
		logger.Info("secrets_age_key_path not set; template passwords stored unsealed")
		return nil, nil
	}
	if err := config.CheckKeyPermissions(path); err != nil {
		logger.Warn("age key permissions", "err", err)
	}
	sealer, err := secrets.LoadSealer(path)
	if err != nil {
		return nil, fmt.Errorf("load age key: %w", err)
	}
	return sealer, nil
}

func ensureDir(path string, perms os.FileMode) error {
	if path == "" {
		return errors.New("run_dir is required")
	}
	if err := os.MkdirAll(path, perms); err != nil {
		return fmt.Errorf("create dir %s: %w", path, err)
	}
	return nil
}

func listenUnix(socketPath string) (net.Listener, error) {
	if socketPath == "" {
		return nil, errors.New("socket_path is required")
	}
	if err := os.MkdirAll(filepath.Dir(socketPath), runDirPerms); err != nil {
		return nil, fmt.Errorf("create socket dir %s: %w", filepath.Dir(socketPath), err)
	}
	if err := os.Remove(socketPath); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("remove stale socket %s: %w", socketPath, err)
	}
	listener, err := net.Listen("unix", socketPath)
	if err != nil {
		return nil, fmt.Errorf("listen unix %s: %w", socketPath, err)
	}
	if err := os.Chmod(socketPath, socketPerms); err != nil {
		_ = listener.Close()
		return nil, fmt.Errorf("chmod socket %s: %w", socketPath, err)
	}
	return listener, nil
}

func healthHandler(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}
