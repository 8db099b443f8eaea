package daemon

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	requestIDHeader    = "X-Request-ID"
	maxRequestIDLength = 128
)

type requestIDKey struct{}

func requestIDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey{}).(string); ok {
		return id
	}
	return ""
}

// statusRecorder captures the status written by a handler.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	if r.status == 0 {
		r.status = status
	}
	r.ResponseWriter.WriteHeader(status)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.ResponseWriter.Write(b)
}

// withRequestContext assigns a request id, echoes it in the response and
// records the request in the log and in metrics. An incoming X-Request-ID is
// kept when it is short and printable.
func withRequestContext(next http.Handler, logger *slog.Logger, metrics *Metrics) http.Handler {
	if next == nil {
		return next
	}
	if logger == nil {
		logger = slog.Default()
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()
		id := strings.TrimSpace(r.Header.Get(requestIDHeader))
		if !validRequestID(id) {
			id = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, id)
		rec := &statusRecorder{ResponseWriter: w}
		next.ServeHTTP(rec, r.WithContext(context.WithValue(r.Context(), requestIDKey{}, id)))

		status := rec.status
		if status == 0 {
			status = http.StatusOK
		}
		elapsed := time.Since(started)
		route := routeLabel(r.URL.Path)
		metrics.ObserveRequest(route, r.Method, status, elapsed)
		logger.Debug("request",
			"request_id", id,
			"method", r.Method,
			"route", route,
			"status", status,
			"duration", elapsed,
		)
	})
}

func validRequestID(id string) bool {
	if id == "" || len(id) > maxRequestIDLength {
		return false
	}
	for _, c := range id {
		if c < 0x21 || c > 0x7e {
			return false
		}
	}
	return true
}

const routeOther = "other"

// fixedRoutes are the registered paths that carry no template id.
var fixedRoutes = map[string]bool{
	"/healthz":      true,
	"/v1/status":    true,
	"/v1/mode":      true,
	"/v1/templates": true,
	"/v1/clear":     true,
	"/v1/contexts":  true,
	"/v1/events":    true,
}

// routeLabel maps a request path onto one of the registered route shapes.
// Anything else is "other", so unknown paths never mint new label values.
func routeLabel(path string) string {
	path = "/" + strings.Trim(path, "/")
	if fixedRoutes[path] {
		return path
	}
	rest, ok := strings.CutPrefix(path, "/v1/templates/")
	if !ok {
		return routeOther
	}
	id, action, _ := strings.Cut(rest, "/")
	if _, err := strconv.ParseInt(id, 10, 64); err != nil {
		return routeOther
	}
	switch action {
	case "":
		return "/v1/templates/{id}"
	case "apply", "status":
		return "/v1/templates/{id}/" + action
	default:
		return routeOther
	}
}
