package apn

import (
	"fmt"
	"strconv"
	"time"

	"github.com/cellwire/apnd/internal/rowcodec"
)

const (
	templateFields = 8
	modeFields     = 3
	eventFields    = 6
)

// Column lists kept next to their decoders so the field order cannot drift.
const (
	templateColumns = `id, name, apn, protocol, COALESCE(username, ''), COALESCE(password, ''), auth_method, created_at`
	modeExpr        = `mode || '|' || COALESCE(template_id, 0) || '|' || auto_start`
	eventColumns    = `id, ts, kind, COALESCE(template_id, 0), COALESCE(context_path, ''), COALESCE(msg, '')`
)

// decodeTemplate parses an 8-field template row. The password is returned
// as stored; unsealing happens in the service.
func decodeTemplate(line string) (Template, error) {
	f, err := rowcodec.SplitN(line, templateFields)
	if err != nil {
		return Template{}, fmt.Errorf("%w: %w", ErrCorruptRow, err)
	}
	id, err := parsePositive(f[0])
	if err != nil {
		return Template{}, fmt.Errorf("%w: template id: %w", ErrCorruptRow, err)
	}
	created, err := strconv.ParseInt(f[7], 10, 64)
	if err != nil {
		return Template{}, fmt.Errorf("%w: created_at: %w", ErrCorruptRow, err)
	}
	if f[1] == "" || f[2] == "" {
		return Template{}, fmt.Errorf("%w: template %d has empty name or apn", ErrCorruptRow, id)
	}
	return Template{
		ID:         id,
		Name:       f[1],
		APN:        f[2],
		Protocol:   f[3],
		Username:   f[4],
		Password:   f[5],
		AuthMethod: f[6],
		CreatedAt:  time.Unix(created, 0).UTC(),
	}, nil
}

// decodeModeConfig parses the 3-field mode row.
func decodeModeConfig(line string) (ModeConfig, error) {
	f, err := rowcodec.SplitN(line, modeFields)
	if err != nil {
		return ModeConfig{}, fmt.Errorf("%w: %w", ErrCorruptRow, err)
	}
	mode, err := strconv.Atoi(f[0])
	if err != nil || (Mode(mode) != ModeAuto && Mode(mode) != ModeManual) {
		return ModeConfig{}, fmt.Errorf("%w: mode %q", ErrCorruptRow, f[0])
	}
	templateID, err := strconv.ParseInt(f[1], 10, 64)
	if err != nil || templateID < 0 {
		return ModeConfig{}, fmt.Errorf("%w: template_id %q", ErrCorruptRow, f[1])
	}
	autoStart, err := strconv.Atoi(f[2])
	if err != nil {
		return ModeConfig{}, fmt.Errorf("%w: auto_start %q", ErrCorruptRow, f[2])
	}
	cfg := ModeConfig{Mode: Mode(mode), TemplateID: templateID, AutoStart: autoStart != 0}
	if cfg.Mode == ModeAuto {
		cfg.TemplateID = 0
	}
	return cfg, nil
}

func decodeEvent(line string) (Event, error) {
	f, err := rowcodec.SplitN(line, eventFields)
	if err != nil {
		return Event{}, fmt.Errorf("%w: %w", ErrCorruptRow, err)
	}
	id, err := parsePositive(f[0])
	if err != nil {
		return Event{}, fmt.Errorf("%w: event id: %w", ErrCorruptRow, err)
	}
	ts, err := strconv.ParseInt(f[1], 10, 64)
	if err != nil {
		return Event{}, fmt.Errorf("%w: event ts: %w", ErrCorruptRow, err)
	}
	templateID, err := strconv.ParseInt(f[3], 10, 64)
	if err != nil {
		return Event{}, fmt.Errorf("%w: event template_id: %w", ErrCorruptRow, err)
	}
	return Event{
		ID:          id,
		Timestamp:   time.Unix(ts, 0).UTC(),
		Kind:        f[2],
		TemplateID:  templateID,
		ContextPath: f[4],
		Message:     f[5],
	}, nil
}

func parsePositive(s string) (int64, error) {
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, err
	}
	if v <= 0 {
		return 0, fmt.Errorf("non-positive id %d", v)
	}
	return v, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
