package apn

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

const upsertModeSQL = `INSERT INTO apn_config (id, mode, template_id, auto_start) VALUES (1, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET mode = excluded.mode, template_id = excluded.template_id, auto_start = excluded.auto_start`

// Config returns the cached mode configuration. It never reads the store.
func (s *Service) Config() ModeConfig {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg
}

// State returns the state derived from the cached configuration.
func (s *Service) State() ModeState {
	return s.Config().State()
}

// SetMode persists a new mode configuration and then updates the cache.
// MANUAL requires a positive template id; whether that template exists is
// checked by the caller. AUTO clears the template binding.
func (s *Service) SetMode(ctx context.Context, mode Mode, templateID int64, autoStart bool) error {
	if err := s.ready(); err != nil {
		return err
	}
	next := ModeConfig{Mode: mode, TemplateID: templateID, AutoStart: autoStart}
	switch mode {
	case ModeAuto:
		next.TemplateID = 0
	case ModeManual:
		if templateID <= 0 {
			return fmt.Errorf("%w: manual mode requires a template id", ErrInvalid)
		}
	default:
		return fmt.Errorf("%w: unknown mode %d", ErrInvalid, int(mode))
	}

	s.mu.Lock()
	prev := s.cfg
	if err := s.persistModeLocked(ctx, next); err != nil {
		s.mu.Unlock()
		return err
	}
	s.cfg = next
	s.appendEventLocked(ctx, Event{
		Kind:       EventModeChanged,
		TemplateID: next.TemplateID,
		Message:    fmt.Sprintf("%s -> %s", prev.State(), next.State()),
	})
	s.mu.Unlock()

	s.observeMode(next)
	s.logger.Info("mode changed", "mode", next.Mode.String(), "template_id", next.TemplateID, "auto_start", next.AutoStart)
	return nil
}

// Init loads the stored mode configuration into the cache. When the stored
// state is MANUAL with auto-start and a bound template, that template is
// applied once. Auto-apply failures are logged and recorded but never
// returned. Calling Init again is a no-op.
func (s *Service) Init(ctx context.Context) error {
	if err := s.ready(); err != nil {
		return err
	}
	s.mu.Lock()
	if s.initialized {
		s.mu.Unlock()
		return nil
	}
	cfg, err := s.loadModeLocked(ctx)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	s.cfg = cfg
	s.initialized = true
	s.mu.Unlock()

	s.observeMode(cfg)
	s.logger.Info("mode loaded", "mode", cfg.Mode.String(), "template_id", cfg.TemplateID, "auto_start", cfg.AutoStart)
	if cfg.State() == StateManualAutostart && cfg.TemplateID > 0 {
		s.autoApply(ctx, cfg.TemplateID)
	}
	return nil
}

func (s *Service) autoApply(ctx context.Context, id int64) {
	started := s.now()
	t, err := s.GetTemplate(ctx, id)
	if err != nil {
		s.observeApply(TriggerAutostart, err, started)
		s.logger.Warn("autostart template unavailable", "template_id", id, "err", err)
		s.recordEvent(ctx, Event{Kind: EventAutostartFailed, TemplateID: id, Message: err.Error()})
		return
	}
	path, err := s.apply(ctx, t)
	s.observeApply(TriggerAutostart, err, started)
	if err != nil {
		s.logger.Warn("autostart apply failed", "template_id", id, "err", err)
		s.recordEvent(ctx, Event{Kind: EventAutostartFailed, TemplateID: id, ContextPath: path, Message: err.Error()})
		return
	}
	s.logger.Info("autostart applied", "template_id", id, "apn", t.APN, "context", path)
	s.recordEvent(ctx, Event{Kind: EventAutostartApplied, TemplateID: id, ContextPath: path, Message: t.APN})
}

func (s *Service) loadModeLocked(ctx context.Context) (ModeConfig, error) {
	row, err := s.store.QueryScalar(ctx, `SELECT `+modeExpr+` FROM apn_config WHERE id = 1`)
	if errors.Is(err, sql.ErrNoRows) {
		return DefaultModeConfig(), nil
	}
	if err != nil {
		return ModeConfig{}, fmt.Errorf("load mode config: %w", err)
	}
	cfg, err := decodeModeConfig(row)
	if err != nil {
		s.logger.Warn("stored mode config unreadable, using AUTO", "row", row, "err", err)
		return DefaultModeConfig(), nil
	}
	return cfg, nil
}

func (s *Service) persistModeLocked(ctx context.Context, cfg ModeConfig) error {
	var templateID any
	if cfg.TemplateID > 0 {
		templateID = cfg.TemplateID
	}
	if _, err := s.store.Execute(ctx, upsertModeSQL, int(cfg.Mode), templateID, boolInt(cfg.AutoStart)); err != nil {
		return fmt.Errorf("persist mode config: %w", err)
	}
	return nil
}
