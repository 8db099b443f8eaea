package apn

import (
	"context"
	"errors"
	"testing"

	"github.com/cellwire/apnd/internal/db"
	"github.com/cellwire/apnd/internal/modem"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTemplateStatus(t *testing.T) {
	ctx := context.Background()

	cases := []struct {
		name        string
		template    string
		live        string
		wantApplied bool
	}{
		{"exact", "cmnet", "cmnet", true},
		{"upper template", "CMNET", "cmnet", true},
		{"upper live", "cmnet", "CMNET", true},
		{"mixed", "CmNeT", "cMnEt", true},
		{"different", "cmnet", "ctnet", false},
		{"prefix only", "cmnet", "cmnet.mnc", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			fake := modem.NewReadyFakeBackend()
			fake.AddContext("mms", "mms.example", false)
			path := fake.AddContext(modem.ContextTypeInternet, tc.live, true)
			h := newHarnessWith(t, db.OpenTestStore(t), fake)
			id, err := h.svc.CreateTemplate(ctx, TemplateInput{Name: "CT", APN: tc.template})
			require.NoError(t, err)

			view, err := h.svc.TemplateStatus(ctx, id)
			require.NoError(t, err)
			assert.Equal(t, id, view.Template.ID)
			assert.Equal(t, tc.wantApplied, view.IsApplied)
			if tc.wantApplied {
				assert.Equal(t, path, view.AppliedContext)
				assert.True(t, view.IsActive)
			} else {
				assert.Empty(t, view.AppliedContext)
				assert.False(t, view.IsActive)
			}
		})
	}
}

func TestTemplateStatusAfterApply(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	id := h.createCT(t)

	view, err := h.svc.TemplateStatus(ctx, id)
	require.NoError(t, err)
	assert.False(t, view.IsApplied)

	require.NoError(t, h.svc.ApplyTemplate(ctx, id))
	view, err = h.svc.TemplateStatus(ctx, id)
	require.NoError(t, err)
	assert.True(t, view.IsApplied)
	assert.False(t, view.IsActive)

	contexts, err := h.modem.ListDataContexts(ctx)
	require.NoError(t, err)
	h.modem.SetActive(contexts[0].Path, true)
	view, err = h.svc.TemplateStatus(ctx, id)
	require.NoError(t, err)
	assert.True(t, view.IsActive)
}

func TestTemplateStatusModeFailures(t *testing.T) {
	ctx := context.Background()

	t.Run("list failure", func(t *testing.T) {
		fake := modem.NewReadyFakeBackend()
		h := newHarnessWith(t, db.OpenTestStore(t), fake)
		id := h.createCT(t)
		fake.FailList(errors.New("bus gone"))
		view, err := h.svc.TemplateStatus(ctx, id)
		require.NoError(t, err)
		assert.False(t, view.IsApplied)
		assert.Equal(t, "cmnet", view.Template.APN)
	})

	t.Run("modem not ready", func(t *testing.T) {
		fake := modem.NewFakeBackend()
		h := newHarnessWith(t, db.OpenTestStore(t), fake)
		view, err := h.svc.TemplateStatus(ctx, h.createCT(t))
		require.NoError(t, err)
		assert.False(t, view.IsApplied)
		assert.Zero(t, fake.InitCalls())
	})

	t.Run("missing template", func(t *testing.T) {
		h := newHarness(t)
		_, err := h.svc.TemplateStatus(ctx, 31)
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestContexts(t *testing.T) {
	ctx := context.Background()
	fake := modem.NewFakeBackend()
	h := newHarnessWith(t, db.OpenTestStore(t), fake)

	_, err := h.svc.Contexts(ctx)
	assert.ErrorIs(t, err, ErrModemUnavailable)

	require.NoError(t, fake.Initialize(ctx))
	fake.AddContext(modem.ContextTypeInternet, "cmnet", true)
	got, err := h.svc.Contexts(ctx)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "cmnet", got[0].APN)
}
