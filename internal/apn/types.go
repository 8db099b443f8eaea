package apn

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrInvalid marks validation failures: empty required fields, unknown
	// enum values, non-positive ids.
	ErrInvalid = errors.New("invalid argument")

	// ErrNotFound is returned when a template id does not resolve to a
	// readable row.
	ErrNotFound = errors.New("template not found")

	// ErrTemplateInUse is returned when deleting the template bound in
	// MANUAL mode.
	ErrTemplateInUse = errors.New("template is bound in manual mode")

	// ErrCorruptRow is returned when a stored row does not decode.
	ErrCorruptRow = errors.New("corrupt row")

	// ErrModemUnavailable is returned when the modem manager cannot be
	// initialised or queried.
	ErrModemUnavailable = errors.New("modem manager unavailable")

	// ErrNoContexts is returned when the modem reports no data contexts.
	ErrNoContexts = errors.New("modem reported no data contexts")
)

// Protocol values accepted for a template.
const (
	ProtocolIP   = "ip"
	ProtocolIPv6 = "ipv6"
	ProtocolDual = "dual"
)

// Authentication methods accepted for a template.
const (
	AuthNone = "none"
	AuthPAP  = "pap"
	AuthCHAP = "chap"
)

// Template is a stored APN connection profile.
type Template struct {
	ID         int64
	Name       string
	APN        string
	Protocol   string
	Username   string
	Password   string
	AuthMethod string
	CreatedAt  time.Time
}

// TemplateInput carries the mutable fields of a template.
type TemplateInput struct {
	Name       string
	APN        string
	Protocol   string
	Username   string
	Password   string
	AuthMethod string
}

// normalize validates the input and fills defaults.
func (in TemplateInput) normalize() (TemplateInput, error) {
	out := TemplateInput{
		Name:       strings.TrimSpace(in.Name),
		APN:        strings.TrimSpace(in.APN),
		Protocol:   strings.ToLower(strings.TrimSpace(in.Protocol)),
		Username:   in.Username,
		Password:   in.Password,
		AuthMethod: strings.ToLower(strings.TrimSpace(in.AuthMethod)),
	}
	if out.Name == "" {
		return TemplateInput{}, fmt.Errorf("%w: name is required", ErrInvalid)
	}
	if out.APN == "" {
		return TemplateInput{}, fmt.Errorf("%w: apn is required", ErrInvalid)
	}
	switch out.Protocol {
	case "":
		out.Protocol = ProtocolDual
	case ProtocolIP, ProtocolIPv6, ProtocolDual:
	default:
		return TemplateInput{}, fmt.Errorf("%w: unknown protocol %q", ErrInvalid, in.Protocol)
	}
	switch out.AuthMethod {
	case "":
		out.AuthMethod = AuthCHAP
	case AuthNone, AuthPAP, AuthCHAP:
	default:
		return TemplateInput{}, fmt.Errorf("%w: unknown auth method %q", ErrInvalid, in.AuthMethod)
	}
	return out, nil
}

// Mode selects whether the device follows carrier defaults or a template.
type Mode int

const (
	ModeAuto Mode = iota
	ModeManual
)

func (m Mode) String() string {
	switch m {
	case ModeAuto:
		return "AUTO"
	case ModeManual:
		return "MANUAL"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

// ParseMode accepts "auto" or "manual" in any case.
func ParseMode(s string) (Mode, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "AUTO":
		return ModeAuto, nil
	case "MANUAL":
		return ModeManual, nil
	default:
		return 0, fmt.Errorf("%w: unknown mode %q", ErrInvalid, s)
	}
}

// ModeConfig is the persisted mode selection.
type ModeConfig struct {
	Mode       Mode
	TemplateID int64
	AutoStart  bool
}

// DefaultModeConfig is the configuration used when none is stored.
func DefaultModeConfig() ModeConfig {
	return ModeConfig{Mode: ModeAuto}
}

// ModeState is the state derived from a ModeConfig.
type ModeState string

const (
	StateAuto            ModeState = "AUTO"
	StateManualIdle      ModeState = "MANUAL_IDLE"
	StateManualAutostart ModeState = "MANUAL_AUTOSTART"
)

// State derives the state machine position from the config.
func (c ModeConfig) State() ModeState {
	if c.Mode != ModeManual {
		return StateAuto
	}
	if c.AutoStart {
		return StateManualAutostart
	}
	return StateManualIdle
}

// StatusView compares a template with the live modem contexts.
type StatusView struct {
	Template       Template
	IsApplied      bool
	AppliedContext string
	IsActive       bool
}

// Event kinds written to the event log.
const (
	EventTemplateApplied     = "template.applied"
	EventTemplateApplyFailed = "template.apply_failed"
	EventAutostartApplied    = "autostart.applied"
	EventAutostartFailed     = "autostart.failed"
	EventModeChanged         = "mode.changed"
	EventConfigCleared       = "config.cleared"
	EventTemplateCreated     = "template.created"
	EventTemplateUpdated     = "template.updated"
	EventTemplateDeleted     = "template.deleted"
)

// Event is one entry of the event log.
type Event struct {
	ID          int64
	Timestamp   time.Time
	Kind        string
	TemplateID  int64
	ContextPath string
	Message     string
}
