package apn

import (
	"context"
	"fmt"

	"github.com/cellwire/apnd/internal/modem"
)

// Apply pushes t into the modem's target data context: the first internet
// context, or the first context when none is typed internet. The mode
// configuration is not touched.
func (s *Service) Apply(ctx context.Context, t Template) error {
	if err := s.ready(); err != nil {
		return err
	}
	started := s.now()
	path, err := s.apply(ctx, t)
	s.observeApply(TriggerRequest, err, started)
	if err != nil {
		s.logger.Warn("apply failed", "template_id", t.ID, "apn", t.APN, "err", err)
		s.recordEvent(ctx, Event{Kind: EventTemplateApplyFailed, TemplateID: t.ID, ContextPath: path, Message: err.Error()})
		return err
	}
	s.logger.Info("template applied", "template_id", t.ID, "apn", t.APN, "context", path)
	s.recordEvent(ctx, Event{Kind: EventTemplateApplied, TemplateID: t.ID, ContextPath: path, Message: t.APN})
	return nil
}

// ApplyTemplate loads a template by id and applies it.
func (s *Service) ApplyTemplate(ctx context.Context, id int64) error {
	t, err := s.GetTemplate(ctx, id)
	if err != nil {
		return err
	}
	return s.Apply(ctx, t)
}

// apply runs without the service mutex. It returns the target path when
// one was selected, even if the push failed.
func (s *Service) apply(ctx context.Context, t Template) (string, error) {
	if !s.modem.IsReady() {
		if err := s.modem.Initialize(ctx); err != nil {
			return "", fmt.Errorf("%w: %w", ErrModemUnavailable, err)
		}
	}
	contexts, err := s.modem.ListDataContexts(ctx)
	if err != nil {
		return "", fmt.Errorf("%w: list contexts: %w", ErrModemUnavailable, err)
	}
	target, ok := selectTarget(contexts)
	if !ok {
		return "", ErrNoContexts
	}
	props := modem.ContextProperties{
		APN:        t.APN,
		Protocol:   t.Protocol,
		Username:   t.Username,
		Password:   t.Password,
		AuthMethod: t.AuthMethod,
	}
	if err := s.modem.SetContextProperties(ctx, target.Path, props); err != nil {
		return target.Path, fmt.Errorf("push template %d to %s: %w", t.ID, target.Path, err)
	}
	return target.Path, nil
}

// ClearAll resets the mode configuration to AUTO and, when the modem is
// ready, blanks the APN of every internet context. Only the persisted reset
// can fail the call; modem errors are logged.
func (s *Service) ClearAll(ctx context.Context) error {
	if err := s.ready(); err != nil {
		return err
	}
	cleared := DefaultModeConfig()

	s.mu.Lock()
	if err := s.persistModeLocked(ctx, cleared); err != nil {
		s.mu.Unlock()
		return err
	}
	s.cfg = cleared
	s.appendEventLocked(ctx, Event{Kind: EventConfigCleared})
	s.mu.Unlock()

	s.observeMode(cleared)
	if s.recorder != nil {
		s.recorder.IncClear()
	}
	s.logger.Info("apn configuration cleared")

	if !s.modem.IsReady() {
		s.logger.Info("modem not ready, skipping context reset")
		return nil
	}
	contexts, err := s.modem.ListDataContexts(ctx)
	if err != nil {
		s.logger.Warn("list contexts for reset failed", "err", err)
		return nil
	}
	reset := modem.ContextProperties{Protocol: ProtocolDual, AuthMethod: AuthCHAP}
	for _, c := range contexts {
		if !c.IsInternet() {
			continue
		}
		if err := s.modem.SetContextProperties(ctx, c.Path, reset); err != nil {
			s.logger.Warn("reset context failed", "context", c.Path, "err", err)
		}
	}
	return nil
}

func selectTarget(contexts []modem.DataContext) (modem.DataContext, bool) {
	if len(contexts) == 0 {
		return modem.DataContext{}, false
	}
	for _, c := range contexts {
		if c.IsInternet() {
			return c, true
		}
	}
	return contexts[0], true
}
