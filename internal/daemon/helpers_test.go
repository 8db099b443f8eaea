package daemon

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/cellwire/apnd/internal/apn"
	"github.com/cellwire/apnd/internal/db"
	"github.com/cellwire/apnd/internal/modem"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type apiHarness struct {
	store   *db.Store
	modem   *modem.FakeBackend
	engine  *apn.Service
	metrics *Metrics
	handler http.Handler
}

func newAPIHarness(t *testing.T) *apiHarness {
	t.Helper()
	return newAPIHarnessWith(t, modem.NewReadyFakeBackend())
}

func newAPIHarnessWith(t *testing.T, backend *modem.FakeBackend) *apiHarness {
	t.Helper()
	store := db.OpenTestStore(t)
	metrics := NewMetrics()
	engine := apn.NewService(store, backend, discardLogger()).WithRecorder(metrics)
	require.NoError(t, engine.Init(context.Background()))

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", healthHandler)
	NewControlAPI(engine, discardLogger()).WithListLimit(2).Register(mux)
	return &apiHarness{
		store:   store,
		modem:   backend,
		engine:  engine,
		metrics: metrics,
		handler: withRequestContext(mux, discardLogger(), metrics),
	}
}

func (h *apiHarness) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	switch v := body.(type) {
	case nil:
	case string:
		reader = bytes.NewBufferString(v)
	default:
		data, err := json.Marshal(v)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func (h *apiHarness) createTemplate(t *testing.T, name, apnName string) V1Template {
	t.Helper()
	rec := h.do(t, http.MethodPost, "/v1/templates", V1TemplateRequest{Name: name, APN: apnName})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decodeBody[V1Template](t, rec)
}

func itoa(id int64) string {
	return strconv.FormatInt(id, 10)
}

func strPtr(s string) *string {
	return &s
}
