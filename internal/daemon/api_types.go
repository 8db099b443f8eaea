package daemon

import "time"

type V1ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code"`
	Details string `json:"details,omitempty"`
}

type V1StatusMetrics struct {
	Enabled bool `json:"enabled"`
}

type V1StatusResponse struct {
	Version    string          `json:"version"`
	Mode       V1ModeResponse  `json:"mode"`
	Templates  int             `json:"templates"`
	ModemReady bool            `json:"modem_ready"`
	Metrics    V1StatusMetrics `json:"metrics"`
}

type V1ModeRequest struct {
	Mode       string `json:"mode"`
	TemplateID int64  `json:"template_id,omitempty"`
	AutoStart  bool   `json:"auto_start,omitempty"`
}

type V1ModeResponse struct {
	Mode       string `json:"mode"`
	TemplateID int64  `json:"template_id,omitempty"`
	AutoStart  bool   `json:"auto_start"`
	State      string `json:"state"`
}

// V1TemplateRequest creates or replaces a template. On update a nil Password
// keeps the stored one; an empty string clears it.
type V1TemplateRequest struct {
	Name       string  `json:"name"`
	APN        string  `json:"apn"`
	Protocol   string  `json:"protocol,omitempty"`
	Username   string  `json:"username,omitempty"`
	Password   *string `json:"password,omitempty"`
	AuthMethod string  `json:"auth_method,omitempty"`
}

// V1Template never carries the password; HasPassword reports whether one is
// stored.
type V1Template struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	APN         string    `json:"apn"`
	Protocol    string    `json:"protocol"`
	Username    string    `json:"username,omitempty"`
	HasPassword bool      `json:"has_password"`
	AuthMethod  string    `json:"auth_method"`
	CreatedAt   time.Time `json:"created_at"`
}

type V1TemplatesResponse struct {
	Templates []V1Template `json:"templates"`
	Total     int          `json:"total"`
}

type V1TemplateStatusResponse struct {
	Template       V1Template `json:"template"`
	IsApplied      bool       `json:"is_applied"`
	AppliedContext string     `json:"applied_context,omitempty"`
	IsActive       bool       `json:"is_active"`
}

type V1Context struct {
	Path       string `json:"path"`
	Name       string `json:"name,omitempty"`
	Type       string `json:"type"`
	APN        string `json:"apn"`
	Protocol   string `json:"protocol,omitempty"`
	AuthMethod string `json:"auth_method,omitempty"`
	Active     bool   `json:"active"`
}

type V1ContextsResponse struct {
	Contexts []V1Context `json:"contexts"`
}

type V1Event struct {
	ID          int64     `json:"id"`
	Timestamp   time.Time `json:"ts"`
	Kind        string    `json:"kind"`
	TemplateID  int64     `json:"template_id,omitempty"`
	ContextPath string    `json:"context_path,omitempty"`
	Message     string    `json:"msg,omitempty"`
}

type V1EventsResponse struct {
	Events []V1Event `json:"events"`
}
