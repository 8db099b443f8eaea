// Package apn is the APN reconciliation engine.
//
// A Service owns the template repository, the cached mode configuration and
// the apply/verify protocol against the modem manager. Store statements and
// cache access are serialised by one mutex. Modem calls never run under that
// mutex, so a slow modem blocks only its caller; the resulting window where
// stored intent and live modem state disagree is what TemplateStatus reports.
package apn

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/cellwire/apnd/internal/modem"
	"github.com/cellwire/apnd/internal/secrets"
)

// Store is the statement surface the engine needs. *db.Store implements it.
type Store interface {
	Execute(ctx context.Context, stmt string, args ...any) (sql.Result, error)
	QueryScalar(ctx context.Context, stmt string, args ...any) (string, error)
	QueryRows(ctx context.Context, stmt string, args ...any) ([]string, error)
}

// Recorder receives engine measurements. The daemon's Prometheus metrics
// implement it.
type Recorder interface {
	ObserveApply(trigger string, err error, d time.Duration)
	IncClear()
	SetModeState(state ModeState)
}

// Apply triggers reported to the Recorder.
const (
	TriggerRequest   = "request"
	TriggerAutostart = "autostart"
)

var errNotConfigured = errors.New("apn service not configured")

// Service is the engine. The zero value is not usable; call NewService.
type Service struct {
	store    Store
	modem    modem.Manager
	sealer   *secrets.Sealer
	recorder Recorder
	logger   *slog.Logger
	now      func() time.Time

	mu          sync.Mutex
	cfg         ModeConfig
	initialized bool
}

// NewService builds a service with the default mode config cached. Call
// Init before serving requests.
func NewService(store Store, manager modem.Manager, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:  store,
		modem:  manager,
		logger: logger.With("component", "apn"),
		now:    time.Now,
		cfg:    DefaultModeConfig(),
	}
}

// WithSealer enables password sealing at rest.
func (s *Service) WithSealer(sealer *secrets.Sealer) *Service {
	if s == nil {
		return s
	}
	s.sealer = sealer
	return s
}

// WithRecorder wires optional metrics.
func (s *Service) WithRecorder(recorder Recorder) *Service {
	if s == nil {
		return s
	}
	s.recorder = recorder
	return s
}

// WithClock overrides the time source.
func (s *Service) WithClock(now func() time.Time) *Service {
	if s == nil || now == nil {
		return s
	}
	s.now = now
	return s
}

// Modem exposes the manager so callers can report readiness.
func (s *Service) Modem() modem.Manager {
	if s == nil {
		return nil
	}
	return s.modem
}

func (s *Service) ready() error {
	if s == nil || s.store == nil || s.modem == nil {
		return errNotConfigured
	}
	return nil
}

func (s *Service) observeApply(trigger string, err error, started time.Time) {
	if s.recorder != nil {
		s.recorder.ObserveApply(trigger, err, s.now().Sub(started))
	}
}

func (s *Service) observeMode(cfg ModeConfig) {
	if s.recorder != nil {
		s.recorder.SetModeState(cfg.State())
	}
}
