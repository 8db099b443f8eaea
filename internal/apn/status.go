package apn

import (
	"context"
	"fmt"
	"strings"

	"github.com/cellwire/apnd/internal/modem"
)

// TemplateStatus reports whether a template's APN is live on the modem.
// Modem failures yield a not-applied view rather than an error.
func (s *Service) TemplateStatus(ctx context.Context, id int64) (StatusView, error) {
	t, err := s.GetTemplate(ctx, id)
	if err != nil {
		return StatusView{}, err
	}
	view := StatusView{Template: t}
	contexts, err := s.modem.ListDataContexts(ctx)
	if err != nil {
		s.logger.Debug("status: list contexts failed", "template_id", id, "err", err)
		return view, nil
	}
	for _, c := range contexts {
		if strings.EqualFold(c.APN, t.APN) {
			view.IsApplied = true
			view.AppliedContext = c.Path
			view.IsActive = c.Active
			break
		}
	}
	return view, nil
}

// Contexts returns the live data contexts.
func (s *Service) Contexts(ctx context.Context) ([]modem.DataContext, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	contexts, err := s.modem.ListDataContexts(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrModemUnavailable, err)
	}
	return contexts, nil
}
