package daemon

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/cellwire/apnd/internal/apn"
	"github.com/cellwire/apnd/internal/buildinfo"
	"github.com/cellwire/apnd/internal/modem"
)

const (
	maxJSONBytes         = 1 << 20
	defaultListLimit     = 50
	maxTemplateListLimit = 1000
	maxEventListLimit    = 1000
)

// ControlAPI serves the local control endpoints for apnd.
//
// Routes:
//   - GET         /v1/status                 - Daemon and mode summary
//   - GET, PUT    /v1/mode                   - Read or change the mode config
//   - GET, POST   /v1/templates              - List (?limit=) or create templates
//   - GET, PUT    /v1/templates/{id}         - Read or replace a template
//   - DELETE      /v1/templates/{id}         - Delete a template
//   - POST        /v1/templates/{id}/apply   - Push a template into the modem
//   - GET         /v1/templates/{id}/status  - Compare a template with the modem
//   - POST        /v1/clear                  - Reset to AUTO and default contexts
//   - GET         /v1/contexts               - Live modem data contexts
//   - GET         /v1/events                 - Event log (?limit=)
type ControlAPI struct {
	svc            *apn.Service
	listLimit      int
	metricsEnabled bool
	logger         *slog.Logger
}

// NewControlAPI creates a control API over the engine. A nil logger uses
// slog.Default.
func NewControlAPI(svc *apn.Service, logger *slog.Logger) *ControlAPI {
	if logger == nil {
		logger = slog.Default()
	}
	return &ControlAPI{
		svc:       svc,
		listLimit: defaultListLimit,
		logger:    logger.With("component", "api"),
	}
}

// WithListLimit sets the default page size for template listings.
func (api *ControlAPI) WithListLimit(limit int) *ControlAPI {
	if api == nil || limit <= 0 {
		return api
	}
	api.listLimit = limit
	return api
}

// WithMetricsEnabled annotates the status response with metrics listener state.
func (api *ControlAPI) WithMetricsEnabled(enabled bool) *ControlAPI {
	if api == nil {
		return api
	}
	api.metricsEnabled = enabled
	return api
}

// Register registers all control API handlers with the provided mux.
func (api *ControlAPI) Register(mux *http.ServeMux) {
	if mux == nil {
		return
	}
	mux.HandleFunc("/v1/status", api.handleStatus)
	mux.HandleFunc("/v1/mode", api.handleMode)
	mux.HandleFunc("/v1/templates", api.handleTemplates)
	mux.HandleFunc("/v1/templates/", api.handleTemplateByID)
	mux.HandleFunc("/v1/clear", api.handleClear)
	mux.HandleFunc("/v1/contexts", api.handleContexts)
	mux.HandleFunc("/v1/events", api.handleEvents)
}

func (api *ControlAPI) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w, []string{http.MethodGet})
		return
	}
	count, err := api.svc.CountTemplates(r.Context())
	if err != nil {
		api.writeServiceError(w, r, "failed to count templates", err)
		return
	}
	resp := V1StatusResponse{
		Version:   buildinfo.Version,
		Mode:      modeToV1(api.svc.Config()),
		Templates: count,
		Metrics:   V1StatusMetrics{Enabled: api.metricsEnabled},
	}
	if manager := api.svc.Modem(); manager != nil {
		resp.ModemReady = manager.IsReady()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (api *ControlAPI) handleMode(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, modeToV1(api.svc.Config()))
	case http.MethodPut:
		api.handleModeSet(w, r)
	default:
		writeMethodNotAllowed(w, []string{http.MethodGet, http.MethodPut})
	}
}

func (api *ControlAPI) handleModeSet(w http.ResponseWriter, r *http.Request) {
	var req V1ModeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	mode, err := apn.ParseMode(req.Mode)
	if err != nil {
		api.writeServiceError(w, r, "", err)
		return
	}
	ctx := r.Context()
	if mode == apn.ModeManual {
		// The engine stores whatever id it is given; binding a template
		// that does not exist is rejected here.
		if _, err := api.svc.GetTemplate(ctx, req.TemplateID); err != nil {
			api.writeServiceError(w, r, "", err)
			return
		}
	}
	if err := api.svc.SetMode(ctx, mode, req.TemplateID, req.AutoStart); err != nil {
		api.writeServiceError(w, r, "failed to set mode", err)
		return
	}
	writeJSON(w, http.StatusOK, modeToV1(api.svc.Config()))
}

func (api *ControlAPI) handleTemplates(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		api.handleTemplateList(w, r)
	case http.MethodPost:
		api.handleTemplateCreate(w, r)
	default:
		writeMethodNotAllowed(w, []string{http.MethodGet, http.MethodPost})
	}
}

func (api *ControlAPI) handleTemplateByID(w http.ResponseWriter, r *http.Request) {
	tail := strings.TrimPrefix(r.URL.Path, "/v1/templates/")
	parts := strings.Split(strings.Trim(tail, "/"), "/")
	if len(parts) == 0 || parts[0] == "" {
		writeError(w, http.StatusNotFound, "template not found")
		return
	}
	id, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid template id")
		return
	}

	switch len(parts) {
	case 1:
		switch r.Method {
		case http.MethodGet:
			api.handleTemplateGet(w, r, id)
		case http.MethodPut:
			api.handleTemplateUpdate(w, r, id)
		case http.MethodDelete:
			api.handleTemplateDelete(w, r, id)
		default:
			writeMethodNotAllowed(w, []string{http.MethodGet, http.MethodPut, http.MethodDelete})
		}
		return
	case 2:
		if parts[1] == "apply" {
			if r.Method != http.MethodPost {
				writeMethodNotAllowed(w, []string{http.MethodPost})
				return
			}
			api.handleTemplateApply(w, r, id)
			return
		}
		if parts[1] == "status" {
			if r.Method != http.MethodGet {
				writeMethodNotAllowed(w, []string{http.MethodGet})
				return
			}
			api.handleTemplateStatus(w, r, id)
			return
		}
	}

	writeError(w, http.StatusNotFound, "template not found")
}

func (api *ControlAPI) handleTemplateList(w http.ResponseWriter, r *http.Request) {
	limit, err := parseLimit(r, api.listLimit, maxTemplateListLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid limit", err)
		return
	}
	ctx := r.Context()
	templates, err := api.svc.ListTemplates(ctx, limit)
	if err != nil {
		api.writeServiceError(w, r, "failed to list templates", err)
		return
	}
	total, err := api.svc.CountTemplates(ctx)
	if err != nil {
		api.writeServiceError(w, r, "failed to count templates", err)
		return
	}
	resp := V1TemplatesResponse{
		Templates: make([]V1Template, 0, len(templates)),
		Total:     total,
	}
	for _, t := range templates {
		resp.Templates = append(resp.Templates, templateToV1(t))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (api *ControlAPI) handleTemplateCreate(w http.ResponseWriter, r *http.Request) {
	var req V1TemplateRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	ctx := r.Context()
	id, err := api.svc.CreateTemplate(ctx, templateInput(req, ""))
	if err != nil {
		api.writeServiceError(w, r, "failed to create template", err)
		return
	}
	t, err := api.svc.GetTemplate(ctx, id)
	if err != nil {
		api.writeServiceError(w, r, "failed to load template", err)
		return
	}
	writeJSON(w, http.StatusCreated, templateToV1(t))
}

func (api *ControlAPI) handleTemplateGet(w http.ResponseWriter, r *http.Request, id int64) {
	t, err := api.svc.GetTemplate(r.Context(), id)
	if err != nil {
		api.writeServiceError(w, r, "", err)
		return
	}
	writeJSON(w, http.StatusOK, templateToV1(t))
}

func (api *ControlAPI) handleTemplateUpdate(w http.ResponseWriter, r *http.Request, id int64) {
	var req V1TemplateRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	ctx := r.Context()
	current, err := api.svc.GetTemplate(ctx, id)
	if err != nil {
		api.writeServiceError(w, r, "", err)
		return
	}
	if err := api.svc.UpdateTemplate(ctx, id, templateInput(req, current.Password)); err != nil {
		api.writeServiceError(w, r, "failed to update template", err)
		return
	}
	updated, err := api.svc.GetTemplate(ctx, id)
	if err != nil {
		api.writeServiceError(w, r, "failed to load template", err)
		return
	}
	writeJSON(w, http.StatusOK, templateToV1(updated))
}

func (api *ControlAPI) handleTemplateDelete(w http.ResponseWriter, r *http.Request, id int64) {
	if err := api.svc.DeleteTemplate(r.Context(), id); err != nil {
		api.writeServiceError(w, r, "", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (api *ControlAPI) handleTemplateApply(w http.ResponseWriter, r *http.Request, id int64) {
	ctx := r.Context()
	if err := api.svc.ApplyTemplate(ctx, id); err != nil {
		api.writeServiceError(w, r, "", err)
		return
	}
	view, err := api.svc.TemplateStatus(ctx, id)
	if err != nil {
		api.writeServiceError(w, r, "failed to verify template", err)
		return
	}
	writeJSON(w, http.StatusOK, statusToV1(view))
}

func (api *ControlAPI) handleTemplateStatus(w http.ResponseWriter, r *http.Request, id int64) {
	view, err := api.svc.TemplateStatus(r.Context(), id)
	if err != nil {
		api.writeServiceError(w, r, "", err)
		return
	}
	writeJSON(w, http.StatusOK, statusToV1(view))
}

func (api *ControlAPI) handleClear(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w, []string{http.MethodPost})
		return
	}
	if err := api.svc.ClearAll(r.Context()); err != nil {
		api.writeServiceError(w, r, "failed to clear configuration", err)
		return
	}
	writeJSON(w, http.StatusOK, modeToV1(api.svc.Config()))
}

func (api *ControlAPI) handleContexts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w, []string{http.MethodGet})
		return
	}
	contexts, err := api.svc.Contexts(r.Context())
	if err != nil {
		api.writeServiceError(w, r, "", err)
		return
	}
	resp := V1ContextsResponse{Contexts: make([]V1Context, 0, len(contexts))}
	for _, c := range contexts {
		resp.Contexts = append(resp.Contexts, contextToV1(c))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (api *ControlAPI) handleEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w, []string{http.MethodGet})
		return
	}
	limit, err := parseLimit(r, 0, maxEventListLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid limit", err)
		return
	}
	events, err := api.svc.ListEvents(r.Context(), limit)
	if err != nil {
		api.writeServiceError(w, r, "failed to list events", err)
		return
	}
	resp := V1EventsResponse{Events: make([]V1Event, 0, len(events))}
	for _, ev := range events {
		resp.Events = append(resp.Events, eventToV1(ev))
	}
	writeJSON(w, http.StatusOK, resp)
}

// writeServiceError renders an engine error. Client-facing failures use the
// error text; internal failures send only msg and log the cause.
func (api *ControlAPI) writeServiceError(w http.ResponseWriter, r *http.Request, msg string, err error) {
	classified := classifyError(err)
	if classified.status >= http.StatusInternalServerError && classified.status != http.StatusServiceUnavailable {
		if msg == "" {
			msg = "internal error"
		}
		api.logger.Error(msg, "path", r.URL.Path, "request_id", requestIDFromContext(r.Context()), "err", err)
		writeErrorCode(w, classified.status, classified.code, msg)
		return
	}
	writeErrorCode(w, classified.status, classified.code, err.Error())
}

func templateInput(req V1TemplateRequest, currentPassword string) apn.TemplateInput {
	password := currentPassword
	if req.Password != nil {
		password = *req.Password
	}
	return apn.TemplateInput{
		Name:       req.Name,
		APN:        req.APN,
		Protocol:   req.Protocol,
		Username:   req.Username,
		Password:   password,
		AuthMethod: req.AuthMethod,
	}
}

func templateToV1(t apn.Template) V1Template {
	return V1Template{
		ID:          t.ID,
		Name:        t.Name,
		APN:         t.APN,
		Protocol:    t.Protocol,
		Username:    t.Username,
		HasPassword: t.Password != "",
		AuthMethod:  t.AuthMethod,
		CreatedAt:   t.CreatedAt.UTC(),
	}
}

func modeToV1(cfg apn.ModeConfig) V1ModeResponse {
	return V1ModeResponse{
		Mode:       cfg.Mode.String(),
		TemplateID: cfg.TemplateID,
		AutoStart:  cfg.AutoStart,
		State:      string(cfg.State()),
	}
}

func statusToV1(view apn.StatusView) V1TemplateStatusResponse {
	return V1TemplateStatusResponse{
		Template:       templateToV1(view.Template),
		IsApplied:      view.IsApplied,
		AppliedContext: view.AppliedContext,
		IsActive:       view.IsActive,
	}
}

func contextToV1(c modem.DataContext) V1Context {
	return V1Context{
		Path:       c.Path,
		Name:       c.Name,
		Type:       c.Type,
		APN:        c.APN,
		Protocol:   c.Protocol,
		AuthMethod: c.AuthMethod,
		Active:     c.Active,
	}
}

func eventToV1(ev apn.Event) V1Event {
	return V1Event{
		ID:          ev.ID,
		Timestamp:   ev.Timestamp.UTC(),
		Kind:        ev.Kind,
		TemplateID:  ev.TemplateID,
		ContextPath: ev.ContextPath,
		Message:     ev.Message,
	}
}

// parseLimit reads ?limit=. Absent yields def; values must be in [1, upper].
func parseLimit(r *http.Request, def, upper int) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get("limit"))
	if raw == "" {
		return def, nil
	}
	limit, err := strconv.Atoi(raw)
	if err != nil {
		return 0, err
	}
	if limit <= 0 || limit > upper {
		return 0, errors.New("limit must be between 1 and " + strconv.Itoa(upper))
	}
	return limit, nil
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dest any) error {
	if r.Body == nil || r.Body == http.NoBody {
		return errors.New("request body is required")
	}
	defer r.Body.Close()
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dest); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return errors.New("unexpected trailing data")
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string, err ...error) {
	code := daemonErrorCode(status, msg)
	if len(err) > 0 && err[0] != nil {
		if c := daemonErrorCodeFromMessage(strings.ToLower(err[0].Error())); c != "" {
			code = c
		}
	}
	writeErrorCode(w, status, code, msg, err...)
}

func writeErrorCode(w http.ResponseWriter, status int, code, msg string, err ...error) {
	payload := V1ErrorResponse{Error: msg, Code: code}
	if len(err) > 0 && err[0] != nil {
		payload.Details = err[0].Error()
	}
	var buf bytes.Buffer
	_ = json.NewEncoder(&buf).Encode(payload)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(buf.Bytes())
}

func writeMethodNotAllowed(w http.ResponseWriter, methods []string) {
	w.Header().Set("Allow", strings.Join(methods, ", "))
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}
