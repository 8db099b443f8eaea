// Package main implements apnctl, the operator CLI for apnd.
//
// The apiClient talks to the daemon over its unix socket, or over the
// optional TCP listener when --addr is given. All responses are JSON.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/cellwire/apnd/internal/buildinfo"
	"github.com/google/uuid"
)

const (
	defaultSocketPath     = "/run/apnd/apnd.sock"
	defaultRequestTimeout = 30 * time.Second
	maxJSONOutputBytes    = 4 << 20
	requestIDHeader       = "X-Request-ID"
)

type apiClient struct {
	target     string
	baseURL    string
	token      string
	userAgent  string
	httpClient *http.Client
	timeout    time.Duration
}

// apiError is a non-2xx daemon response.
type apiError struct {
	Status    int    `json:"-"`
	RequestID string `json:"-"`
	Message   string `json:"error"`
	Code      string `json:"code"`
	Details   string `json:"details,omitempty"`
}

func (e *apiError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = fmt.Sprintf("request failed with status %d", e.Status)
	}
	if e.Details != "" {
		msg += ": " + e.Details
	}
	if e.Code != "" {
		msg += " (" + e.Code + ")"
	}
	return msg
}

type statusResponse struct {
	Version    string       `json:"version"`
	Mode       modeResponse `json:"mode"`
	Templates  int          `json:"templates"`
	ModemReady bool         `json:"modem_ready"`
	Metrics    struct {
		Enabled bool `json:"enabled"`
	} `json:"metrics"`
}

type modeRequest struct {
	Mode       string `json:"mode"`
	TemplateID int64  `json:"template_id,omitempty"`
	AutoStart  bool   `json:"auto_start,omitempty"`
}

type modeResponse struct {
	Mode       string `json:"mode"`
	TemplateID int64  `json:"template_id,omitempty"`
	AutoStart  bool   `json:"auto_start"`
	State      string `json:"state"`
}

type templateRequest struct {
	Name       string  `json:"name"`
	APN        string  `json:"apn"`
	Protocol   string  `json:"protocol,omitempty"`
	Username   string  `json:"username,omitempty"`
	Password   *string `json:"password,omitempty"`
	AuthMethod string  `json:"auth_method,omitempty"`
}

type templateResponse struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	APN         string    `json:"apn"`
	Protocol    string    `json:"protocol"`
	Username    string    `json:"username,omitempty"`
	HasPassword bool      `json:"has_password"`
	AuthMethod  string    `json:"auth_method"`
	CreatedAt   time.Time `json:"created_at"`
}

type templatesResponse struct {
	Templates []templateResponse `json:"templates"`
	Total     int                `json:"total"`
}

type templateStatusResponse struct {
	Template       templateResponse `json:"template"`
	IsApplied      bool             `json:"is_applied"`
	AppliedContext string           `json:"applied_context,omitempty"`
	IsActive       bool             `json:"is_active"`
}

type contextResponse struct {
	Path       string `json:"path"`
	Name       string `json:"name,omitempty"`
	Type       string `json:"type"`
	APN        string `json:"apn"`
	Protocol   string `json:"protocol,omitempty"`
	AuthMethod string `json:"auth_method,omitempty"`
	Active     bool   `json:"active"`
}

type contextsResponse struct {
	Contexts []contextResponse `json:"contexts"`
}

type eventResponse struct {
	ID          int64     `json:"id"`
	Timestamp   time.Time `json:"ts"`
	Kind        string    `json:"kind"`
	TemplateID  int64     `json:"template_id,omitempty"`
	ContextPath string    `json:"context_path,omitempty"`
	Message     string    `json:"msg,omitempty"`
}

type eventsResponse struct {
	Events []eventResponse `json:"events"`
}

// newAPIClient dials the unix socket unless addr is set, in which case it
// uses plain HTTP to addr and sends token as a bearer credential.
func newAPIClient(socketPath, addr, token string, timeout time.Duration) *apiClient {
	c := &apiClient{
		token:     strings.TrimSpace(token),
		userAgent: buildinfo.UserAgent("apnctl"),
		timeout:   timeout,
	}
	addr = strings.TrimSpace(addr)
	if addr != "" {
		if !strings.Contains(addr, "://") {
			addr = "http://" + addr
		}
		c.target = addr
		c.baseURL = strings.TrimRight(addr, "/")
		c.httpClient = &http.Client{}
		return c
	}
	path := socketPath
	if path == "" {
		path = defaultSocketPath
	}
	transport := &http.Transport{
		DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
			var d net.Dialer
			return d.DialContext(ctx, "unix", path)
		},
	}
	c.target = path
	c.baseURL = "http://unix"
	c.httpClient = &http.Client{Transport: transport}
	return c
}

// doJSON sends payload as JSON and decodes a successful response into out.
// A nil out discards the body.
func (c *apiClient) doJSON(ctx context.Context, method, path string, payload, out any) error {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	var body io.Reader
	if payload != nil {
		buf := &bytes.Buffer{}
		if err := json.NewEncoder(buf).Encode(payload); err != nil {
			return err
		}
		body = buf
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	requestID := uuid.NewString()
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set(requestIDHeader, requestID)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request %s %s via %s: %w", method, path, c.target, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxJSONOutputBytes))
	if err != nil {
		return err
	}
	if resp.StatusCode >= 400 {
		return parseAPIError(resp.StatusCode, resp.Header.Get(requestIDHeader), data)
	}
	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode %s %s response: %w", method, path, err)
	}
	return nil
}

// parseAPIError converts an HTTP error response into an *apiError.
func parseAPIError(status int, requestID string, data []byte) error {
	apiErr := &apiError{Status: status, RequestID: requestID}
	if len(data) > 0 {
		if err := json.Unmarshal(data, apiErr); err != nil {
			apiErr.Message = ""
		}
	}
	return apiErr
}

func (c *apiClient) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c == nil || c.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, c.timeout)
}

func (c *apiClient) status(ctx context.Context) (statusResponse, error) {
	var out statusResponse
	err := c.doJSON(ctx, http.MethodGet, "/v1/status", nil, &out)
	return out, err
}

func (c *apiClient) mode(ctx context.Context) (modeResponse, error) {
	var out modeResponse
	err := c.doJSON(ctx, http.MethodGet, "/v1/mode", nil, &out)
	return out, err
}

func (c *apiClient) setMode(ctx context.Context, req modeRequest) (modeResponse, error) {
	var out modeResponse
	err := c.doJSON(ctx, http.MethodPut, "/v1/mode", req, &out)
	return out, err
}

func (c *apiClient) listTemplates(ctx context.Context, limit int) (templatesResponse, error) {
	path := "/v1/templates"
	if limit > 0 {
		path += fmt.Sprintf("?limit=%d", limit)
	}
	var out templatesResponse
	err := c.doJSON(ctx, http.MethodGet, path, nil, &out)
	return out, err
}

func (c *apiClient) getTemplate(ctx context.Context, id int64) (templateResponse, error) {
	var out templateResponse
	err := c.doJSON(ctx, http.MethodGet, templatePath(id, ""), nil, &out)
	return out, err
}

func (c *apiClient) createTemplate(ctx context.Context, req templateRequest) (templateResponse, error) {
	var out templateResponse
	err := c.doJSON(ctx, http.MethodPost, "/v1/templates", req, &out)
	return out, err
}

func (c *apiClient) updateTemplate(ctx context.Context, id int64, req templateRequest) (templateResponse, error) {
	var out templateResponse
	err := c.doJSON(ctx, http.MethodPut, templatePath(id, ""), req, &out)
	return out, err
}

func (c *apiClient) deleteTemplate(ctx context.Context, id int64) error {
	return c.doJSON(ctx, http.MethodDelete, templatePath(id, ""), nil, nil)
}

func (c *apiClient) applyTemplate(ctx context.Context, id int64) (templateStatusResponse, error) {
	var out templateStatusResponse
	err := c.doJSON(ctx, http.MethodPost, templatePath(id, "apply"), nil, &out)
	return out, err
}

func (c *apiClient) templateStatus(ctx context.Context, id int64) (templateStatusResponse, error) {
	var out templateStatusResponse
	err := c.doJSON(ctx, http.MethodGet, templatePath(id, "status"), nil, &out)
	return out, err
}

func (c *apiClient) clear(ctx context.Context) (modeResponse, error) {
	var out modeResponse
	err := c.doJSON(ctx, http.MethodPost, "/v1/clear", nil, &out)
	return out, err
}

func (c *apiClient) contexts(ctx context.Context) (contextsResponse, error) {
	var out contextsResponse
	err := c.doJSON(ctx, http.MethodGet, "/v1/contexts", nil, &out)
	return out, err
}

func (c *apiClient) events(ctx context.Context, limit int) (eventsResponse, error) {
	path := "/v1/events"
	if limit > 0 {
		path += fmt.Sprintf("?limit=%d", limit)
	}
	var out eventsResponse
	err := c.doJSON(ctx, http.MethodGet, path, nil, &out)
	return out, err
}

func templatePath(id int64, action string) string {
	path := fmt.Sprintf("/v1/templates/%d", id)
	if action != "" {
		path += "/" + action
	}
	return path
}
