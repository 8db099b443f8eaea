package apn

import (
	"context"
	"fmt"
)

const (
	defaultEventLimit = 50
	maxEventLimit     = 1000
)

// ListEvents returns the newest events first. limit <= 0 selects the
// default; larger values are capped.
func (s *Service) ListEvents(ctx context.Context, limit int) ([]Event, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = defaultEventLimit
	}
	if limit > maxEventLimit {
		limit = maxEventLimit
	}
	s.mu.Lock()
	rows, err := s.store.QueryRows(ctx, `SELECT `+eventColumns+` FROM apn_events ORDER BY id DESC LIMIT ?`, limit)
	s.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	out := make([]Event, 0, len(rows))
	for _, row := range rows {
		ev, err := decodeEvent(row)
		if err != nil {
			s.logger.Warn("skipping event row", "err", err)
			continue
		}
		out = append(out, ev)
	}
	return out, nil
}

func (s *Service) recordEvent(ctx context.Context, ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.appendEventLocked(ctx, ev)
}

// appendEventLocked writes one event. Failures are logged only.
func (s *Service) appendEventLocked(ctx context.Context, ev Event) {
	var templateID any
	if ev.TemplateID > 0 {
		templateID = ev.TemplateID
	}
	_, err := s.store.Execute(ctx,
		`INSERT INTO apn_events (ts, kind, template_id, context_path, msg) VALUES (?, ?, ?, ?, ?)`,
		s.now().UTC().Unix(), ev.Kind, templateID, ev.ContextPath, ev.Message)
	if err != nil {
		s.logger.Warn("record event failed", "kind", ev.Kind, "err", err)
	}
}
