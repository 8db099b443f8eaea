package apn

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/cellwire/apnd/internal/db"
	"github.com/cellwire/apnd/internal/modem"
	testutil "github.com/cellwire/apnd/internal/testing"
	"github.com/stretchr/testify/require"
)

type harness struct {
	store *db.Store
	modem *modem.FakeBackend
	svc   *Service
	rec   *recordingRecorder
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	store := db.OpenTestStore(t)
	return newHarnessWith(t, store, modem.NewReadyFakeBackend())
}

func newHarnessWith(t *testing.T, store Store, manager *modem.FakeBackend) *harness {
	t.Helper()
	rec := &recordingRecorder{}
	svc := NewService(store, manager, discardLogger()).
		WithRecorder(rec).
		WithClock(func() time.Time { return testutil.FixedTime })
	h := &harness{modem: manager, svc: svc, rec: rec}
	if s, ok := store.(*db.Store); ok {
		h.store = s
	}
	require.NoError(t, svc.Init(context.Background()))
	return h
}

func (h *harness) createCT(t *testing.T) int64 {
	t.Helper()
	id, err := h.svc.CreateTemplate(context.Background(), TemplateInput{
		Name:       testutil.TestTemplateName,
		APN:        testutil.TestAPN,
		Protocol:   ProtocolDual,
		AuthMethod: AuthCHAP,
	})
	require.NoError(t, err)
	return id
}

type applyObservation struct {
	trigger string
	failed  bool
}

type recordingRecorder struct {
	mu      sync.Mutex
	applies []applyObservation
	clears  int
	states  []ModeState
}

func (r *recordingRecorder) ObserveApply(trigger string, err error, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.applies = append(r.applies, applyObservation{trigger: trigger, failed: err != nil})
}

func (r *recordingRecorder) IncClear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clears++
}

func (r *recordingRecorder) SetModeState(state ModeState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, state)
}

func (r *recordingRecorder) snapshot() ([]applyObservation, int, []ModeState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]applyObservation(nil), r.applies...), r.clears, append([]ModeState(nil), r.states...)
}

func eventKinds(t *testing.T, svc *Service) []string {
	t.Helper()
	events, err := svc.ListEvents(context.Background(), 0)
	require.NoError(t, err)
	kinds := make([]string, 0, len(events))
	for _, ev := range events {
		kinds = append(kinds, ev.Kind)
	}
	return kinds
}
