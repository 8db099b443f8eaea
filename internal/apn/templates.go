package apn

import (
	"context"
	"fmt"
	"strconv"
)

// CreateTemplate validates and stores a new template and returns its id.
func (s *Service) CreateTemplate(ctx context.Context, in TemplateInput) (int64, error) {
	if err := s.ready(); err != nil {
		return 0, err
	}
	norm, err := in.normalize()
	if err != nil {
		return 0, err
	}
	password, err := s.sealer.Seal(norm.Password)
	if err != nil {
		return 0, fmt.Errorf("seal password: %w", err)
	}
	createdAt := s.now().UTC().Unix()

	s.mu.Lock()
	defer s.mu.Unlock()
	res, err := s.store.Execute(ctx,
		`INSERT INTO apn_templates (name, apn, protocol, username, password, auth_method, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		norm.Name, norm.APN, norm.Protocol, norm.Username, password, norm.AuthMethod, createdAt)
	if err != nil {
		return 0, fmt.Errorf("insert template: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("insert template id: %w", err)
	}
	s.appendEventLocked(ctx, Event{Kind: EventTemplateCreated, TemplateID: id, Message: norm.Name})
	s.logger.Info("template created", "template_id", id, "name", norm.Name, "apn", norm.APN)
	return id, nil
}

// UpdateTemplate replaces the mutable fields of an existing template.
// created_at is never modified.
func (s *Service) UpdateTemplate(ctx context.Context, id int64, in TemplateInput) error {
	if err := s.ready(); err != nil {
		return err
	}
	if id <= 0 {
		return fmt.Errorf("%w: template id must be positive", ErrInvalid)
	}
	norm, err := in.normalize()
	if err != nil {
		return err
	}
	password, err := s.sealer.Seal(norm.Password)
	if err != nil {
		return fmt.Errorf("seal password: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	res, err := s.store.Execute(ctx,
		`UPDATE apn_templates
		 SET name = ?, apn = ?, protocol = ?, username = ?, password = ?, auth_method = ?
		 WHERE id = ?`,
		norm.Name, norm.APN, norm.Protocol, norm.Username, password, norm.AuthMethod, id)
	if err != nil {
		return fmt.Errorf("update template %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update template %d: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %d", ErrNotFound, id)
	}
	s.appendEventLocked(ctx, Event{Kind: EventTemplateUpdated, TemplateID: id, Message: norm.Name})
	s.logger.Info("template updated", "template_id", id, "apn", norm.APN)
	return nil
}

// DeleteTemplate removes a template. The template bound in MANUAL mode
// cannot be deleted; the binding check and the delete share one critical
// section so a concurrent SetMode cannot slip between them.
func (s *Service) DeleteTemplate(ctx context.Context, id int64) error {
	if err := s.ready(); err != nil {
		return err
	}
	if id <= 0 {
		return fmt.Errorf("%w: template id must be positive", ErrInvalid)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cfg.Mode == ModeManual && s.cfg.TemplateID == id {
		return fmt.Errorf("%w: %d", ErrTemplateInUse, id)
	}
	res, err := s.store.Execute(ctx, `DELETE FROM apn_templates WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete template %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete template %d: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %d", ErrNotFound, id)
	}
	s.appendEventLocked(ctx, Event{Kind: EventTemplateDeleted, TemplateID: id})
	s.logger.Info("template deleted", "template_id", id)
	return nil
}

// ListTemplates returns templates newest first. Rows that fail to decode
// are skipped. limit > 0 truncates the result; limit <= 0 returns everything.
func (s *Service) ListTemplates(ctx context.Context, limit int) ([]Template, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	rows, err := s.store.QueryRows(ctx, `SELECT `+templateColumns+` FROM apn_templates ORDER BY id DESC`)
	s.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("list templates: %w", err)
	}
	out := make([]Template, 0, len(rows))
	for _, row := range rows {
		t, err := s.readTemplate(row)
		if err != nil {
			s.logger.Warn("skipping template row", "err", err)
			continue
		}
		out = append(out, t)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// GetTemplate loads one template. A row that fails to decode is reported
// as not found.
func (s *Service) GetTemplate(ctx context.Context, id int64) (Template, error) {
	if err := s.ready(); err != nil {
		return Template{}, err
	}
	if id <= 0 {
		return Template{}, fmt.Errorf("%w: template id must be positive", ErrInvalid)
	}
	s.mu.Lock()
	rows, err := s.store.QueryRows(ctx, `SELECT `+templateColumns+` FROM apn_templates WHERE id = ?`, id)
	s.mu.Unlock()
	if err != nil {
		return Template{}, fmt.Errorf("get template %d: %w", id, err)
	}
	if len(rows) == 0 {
		return Template{}, fmt.Errorf("%w: %d", ErrNotFound, id)
	}
	t, err := s.readTemplate(rows[0])
	if err != nil {
		return Template{}, fmt.Errorf("%w: %d: %w", ErrNotFound, id, err)
	}
	return t, nil
}

// CountTemplates returns the number of stored templates.
func (s *Service) CountTemplates(ctx context.Context) (int, error) {
	if err := s.ready(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	v, err := s.store.QueryScalar(ctx, `SELECT COUNT(*) FROM apn_templates`)
	s.mu.Unlock()
	if err != nil {
		return 0, fmt.Errorf("count templates: %w", err)
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("count templates: %w", err)
	}
	return n, nil
}

func (s *Service) readTemplate(row string) (Template, error) {
	t, err := decodeTemplate(row)
	if err != nil {
		return Template{}, err
	}
	password, err := s.sealer.Open(t.Password)
	if err != nil {
		return Template{}, fmt.Errorf("%w: template %d password: %w", ErrCorruptRow, t.ID, err)
	}
	t.Password = password
	return t, nil
}
