package modem

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/godbus/dbus/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type setCall struct {
	path  dbus.ObjectPath
	name  string
	value any
}

type fakeBus struct {
	mu        sync.Mutex
	modems    []busObject
	contexts  map[dbus.ObjectPath][]busObject
	sets      []setCall
	failSet   string
	modemsErr error
	closed    bool
}

func (f *fakeBus) GetModems(context.Context) ([]busObject, error) {
	if f.modemsErr != nil {
		return nil, f.modemsErr
	}
	return f.modems, nil
}

func (f *fakeBus) GetContexts(_ context.Context, modem dbus.ObjectPath) ([]busObject, error) {
	objs, ok := f.contexts[modem]
	if !ok {
		return nil, errors.New("org.freedesktop.DBus.Error.UnknownObject")
	}
	return objs, nil
}

func (f *fakeBus) SetContextProperty(_ context.Context, path dbus.ObjectPath, name string, value any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if name == f.failSet {
		return errors.New("org.ofono.Error.InProgress")
	}
	f.sets = append(f.sets, setCall{path: path, name: name, value: value})
	return nil
}

func (f *fakeBus) Close() error {
	f.closed = true
	return nil
}

func newTestOfono(t *testing.T, bus *fakeBus, pinned string) *OfonoBackend {
	t.Helper()
	b := NewOfonoBackend(OfonoOptions{
		ModemPath: pinned,
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	b.dial = func(string) (ofonoBus, error) { return bus, nil }
	return b
}

func contextObject(path, ctxType, apn string, active bool) busObject {
	return busObject{
		Path: dbus.ObjectPath(path),
		Props: map[string]dbus.Variant{
			"Name":                 dbus.MakeVariant(ctxType),
			"Type":                 dbus.MakeVariant(ctxType),
			"AccessPointName":      dbus.MakeVariant(apn),
			"Protocol":             dbus.MakeVariant("dual"),
			"AuthenticationMethod": dbus.MakeVariant("chap"),
			"Active":               dbus.MakeVariant(active),
		},
	}
}

func standardBus() *fakeBus {
	return &fakeBus{
		modems: []busObject{
			{Path: "/hfp_0", Props: map[string]dbus.Variant{"Interfaces": dbus.MakeVariant([]string{"org.ofono.VoiceCallManager"})}},
			{Path: "/ril_0", Props: map[string]dbus.Variant{"Interfaces": dbus.MakeVariant([]string{"org.ofono.SimManager", "org.ofono.ConnectionManager"})}},
		},
		contexts: map[dbus.ObjectPath][]busObject{
			"/ril_0": {
				contextObject("/ril_0/context1", "mms", "mms.example", false),
				contextObject("/ril_0/context2", "internet", "CMNET", true),
			},
		},
	}
}

func TestOfonoInitialize(t *testing.T) {
	ctx := context.Background()

	t.Run("selects modem with connection manager", func(t *testing.T) {
		b := newTestOfono(t, standardBus(), "")
		assert.False(t, b.IsReady())
		require.NoError(t, b.Initialize(ctx))
		assert.True(t, b.IsReady())
		assert.Equal(t, dbus.ObjectPath("/ril_0"), b.modem)
	})

	t.Run("pinned modem", func(t *testing.T) {
		b := newTestOfono(t, standardBus(), "/hfp_0")
		require.NoError(t, b.Initialize(ctx))
		assert.Equal(t, dbus.ObjectPath("/hfp_0"), b.modem)
	})

	t.Run("pinned modem missing", func(t *testing.T) {
		b := newTestOfono(t, standardBus(), "/quectel_0")
		err := b.Initialize(ctx)
		assert.ErrorIs(t, err, ErrModemNotFound)
		assert.False(t, b.IsReady())
	})

	t.Run("no modems", func(t *testing.T) {
		b := newTestOfono(t, &fakeBus{}, "")
		assert.ErrorIs(t, b.Initialize(ctx), ErrModemNotFound)
	})

	t.Run("dial failure", func(t *testing.T) {
		b := newTestOfono(t, nil, "")
		b.dial = func(string) (ofonoBus, error) { return nil, errors.New("connect dbus: no bus") }
		assert.EqualError(t, b.Initialize(ctx), "connect dbus: no bus")
	})

	t.Run("get modems failure", func(t *testing.T) {
		bus := standardBus()
		bus.modemsErr = errors.New("org.freedesktop.DBus.Error.ServiceUnknown")
		b := newTestOfono(t, bus, "")
		assert.ErrorContains(t, b.Initialize(ctx), "ofono get modems")
	})
}

func TestOfonoListDataContexts(t *testing.T) {
	ctx := context.Background()

	t.Run("not ready", func(t *testing.T) {
		b := newTestOfono(t, standardBus(), "")
		_, err := b.ListDataContexts(ctx)
		assert.ErrorIs(t, err, ErrNotReady)
	})

	t.Run("decodes properties", func(t *testing.T) {
		b := newTestOfono(t, standardBus(), "")
		require.NoError(t, b.Initialize(ctx))
		got, err := b.ListDataContexts(ctx)
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, DataContext{
			Path:       "/ril_0/context2",
			Name:       "internet",
			Type:       "internet",
			APN:        "CMNET",
			Protocol:   "dual",
			AuthMethod: "chap",
			Active:     true,
		}, got[1])
		assert.True(t, got[1].IsInternet())
		assert.False(t, got[0].IsInternet())
	})

	t.Run("tolerates missing and mistyped properties", func(t *testing.T) {
		obj := busObject{Path: "/ril_0/context9", Props: map[string]dbus.Variant{
			"Active": dbus.MakeVariant("yes"),
		}}
		got := contextFromObject(obj)
		assert.Equal(t, "/ril_0/context9", got.Path)
		assert.False(t, got.Active)
		assert.Empty(t, got.APN)
	})
}

func TestOfonoSetContextProperties(t *testing.T) {
	ctx := context.Background()

	t.Run("writes set properties in order", func(t *testing.T) {
		bus := standardBus()
		b := newTestOfono(t, bus, "")
		require.NoError(t, b.Initialize(ctx))
		err := b.SetContextProperties(ctx, "/ril_0/context2", ContextProperties{
			APN:        "cmnet",
			Protocol:   "ipv6",
			Username:   "user",
			AuthMethod: "pap",
		})
		require.NoError(t, err)
		require.Len(t, bus.sets, 4)
		names := make([]string, 0, len(bus.sets))
		for _, c := range bus.sets {
			assert.Equal(t, dbus.ObjectPath("/ril_0/context2"), c.path)
			names = append(names, c.name)
		}
		assert.Equal(t, []string{"AccessPointName", "Protocol", "AuthenticationMethod", "Username"}, names)
		assert.Equal(t, "cmnet", bus.sets[0].value)
		assert.Equal(t, "user", bus.sets[3].value)
	})

	t.Run("empty credentials are not written", func(t *testing.T) {
		bus := standardBus()
		b := newTestOfono(t, bus, "")
		require.NoError(t, b.Initialize(ctx))
		err := b.SetContextProperties(ctx, "/ril_0/context2", ContextProperties{APN: "cmnet", Protocol: "dual", AuthMethod: "chap"})
		require.NoError(t, err)
		require.Len(t, bus.sets, 3)
		for _, c := range bus.sets {
			assert.NotEqual(t, "Username", c.name)
			assert.NotEqual(t, "Password", c.name)
		}
	})

	t.Run("reset push writes blank apn without credentials", func(t *testing.T) {
		bus := standardBus()
		b := newTestOfono(t, bus, "")
		require.NoError(t, b.Initialize(ctx))
		err := b.SetContextProperties(ctx, "/ril_0/context2", ContextProperties{Protocol: "dual", AuthMethod: "chap"})
		require.NoError(t, err)
		require.Len(t, bus.sets, 3)
		assert.Equal(t, "AccessPointName", bus.sets[0].name)
		assert.Equal(t, "", bus.sets[0].value)
		assert.Equal(t, "AuthenticationMethod", bus.sets[2].name)
	})

	t.Run("full credentials", func(t *testing.T) {
		bus := standardBus()
		b := newTestOfono(t, bus, "")
		require.NoError(t, b.Initialize(ctx))
		err := b.SetContextProperties(ctx, "/ril_0/context2", ContextProperties{APN: "cmnet", Protocol: "ip", AuthMethod: "pap", Username: "u", Password: "p"})
		require.NoError(t, err)
		require.Len(t, bus.sets, 5)
		assert.Equal(t, "Password", bus.sets[4].name)
		assert.Equal(t, "p", bus.sets[4].value)
	})

	t.Run("first failure aborts", func(t *testing.T) {
		bus := standardBus()
		bus.failSet = "Protocol"
		b := newTestOfono(t, bus, "")
		require.NoError(t, b.Initialize(ctx))
		err := b.SetContextProperties(ctx, "/ril_0/context2", ContextProperties{APN: "cmnet", Protocol: "dual", AuthMethod: "chap"})
		assert.ErrorContains(t, err, "ofono set Protocol on /ril_0/context2")
		assert.Len(t, bus.sets, 1)
	})

	t.Run("invalid path", func(t *testing.T) {
		b := newTestOfono(t, standardBus(), "")
		require.NoError(t, b.Initialize(ctx))
		assert.ErrorIs(t, b.SetContextProperties(ctx, "", ContextProperties{}), ErrContextNotFound)
		assert.Error(t, b.SetContextProperties(ctx, "not a path", ContextProperties{}))
	})

	t.Run("not ready", func(t *testing.T) {
		b := newTestOfono(t, standardBus(), "")
		assert.ErrorIs(t, b.SetContextProperties(ctx, "/ril_0/context2", ContextProperties{}), ErrNotReady)
	})
}

func TestOfonoClose(t *testing.T) {
	bus := standardBus()
	b := newTestOfono(t, bus, "")
	require.NoError(t, b.Initialize(context.Background()))
	require.NoError(t, b.Close())
	assert.True(t, bus.closed)
	assert.False(t, b.IsReady())
	assert.NoError(t, b.Close())
}
