// ABOUTME: OfonoBackend drives oFono over the system D-Bus. It discovers a modem
// through org.ofono.Manager, lists contexts through org.ofono.ConnectionManager
// and writes properties through org.ofono.ConnectionContext.
package modem

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/godbus/dbus/v5"
)

const (
	ofonoService          = "org.ofono"
	ofonoManagerIface     = "org.ofono.Manager"
	ofonoConnManagerIface = "org.ofono.ConnectionManager"
	ofonoConnContextIface = "org.ofono.ConnectionContext"
	ofonoRootPath         = dbus.ObjectPath("/")
	propAccessPointName   = "AccessPointName"
	propProtocol          = "Protocol"
	propAuthMethod        = "AuthenticationMethod"
	propUsername          = "Username"
	propPassword          = "Password"
	propType              = "Type"
	propName              = "Name"
	propActive            = "Active"
	propInterfaces        = "Interfaces"
)

// busObject is one (path, properties) pair as returned by oFono's Get* calls.
type busObject struct {
	Path  dbus.ObjectPath
	Props map[string]dbus.Variant
}

// ofonoBus is the subset of D-Bus traffic the backend needs. It exists so
// tests can replace the system bus.
type ofonoBus interface {
	GetModems(ctx context.Context) ([]busObject, error)
	GetContexts(ctx context.Context, modem dbus.ObjectPath) ([]busObject, error)
	SetContextProperty(ctx context.Context, path dbus.ObjectPath, name string, value any) error
	Close() error
}

// OfonoOptions configures an OfonoBackend.
type OfonoOptions struct {
	// BusAddress overrides the system bus address (empty = system bus).
	BusAddress string
	// ModemPath pins a modem object path; empty selects the first modem
	// that exposes a connection manager.
	ModemPath string
	Logger    *slog.Logger
}

// OfonoBackend implements Manager against oFono.
type OfonoBackend struct {
	opts   OfonoOptions
	logger *slog.Logger
	dial   func(address string) (ofonoBus, error)

	mu    sync.Mutex
	bus   ofonoBus
	modem dbus.ObjectPath
}

// NewOfonoBackend returns a backend that connects lazily on Initialize.
func NewOfonoBackend(opts OfonoOptions) *OfonoBackend {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &OfonoBackend{
		opts:   opts,
		logger: logger.With("component", "ofono"),
		dial:   dialSystemBus,
	}
}

func (b *OfonoBackend) IsReady() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.bus != nil && b.modem != ""
}

// Initialize connects to the bus if needed and selects the modem.
func (b *OfonoBackend) Initialize(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.bus == nil {
		bus, err := b.dial(b.opts.BusAddress)
		if err != nil {
			return err
		}
		b.bus = bus
	}
	modems, err := b.bus.GetModems(ctx)
	if err != nil {
		return fmt.Errorf("ofono get modems: %w", err)
	}
	path, err := selectModem(modems, b.opts.ModemPath)
	if err != nil {
		return err
	}
	b.modem = path
	b.logger.Info("modem selected", "modem", string(path), "modems", len(modems))
	return nil
}

// ListDataContexts returns the contexts of the selected modem.
func (b *OfonoBackend) ListDataContexts(ctx context.Context) ([]DataContext, error) {
	bus, modemPath, err := b.session()
	if err != nil {
		return nil, err
	}
	objects, err := bus.GetContexts(ctx, modemPath)
	if err != nil {
		return nil, fmt.Errorf("ofono get contexts %s: %w", modemPath, err)
	}
	out := make([]DataContext, 0, len(objects))
	for _, obj := range objects {
		out = append(out, contextFromObject(obj))
	}
	return out, nil
}

// SetContextProperties writes the APN, protocol, auth method and
// credentials of one context. oFono has no batch setter, so properties are
// written one at a time and the first failure aborts the push.
func (b *OfonoBackend) SetContextProperties(ctx context.Context, path string, props ContextProperties) error {
	bus, _, err := b.session()
	if err != nil {
		return err
	}
	if strings.TrimSpace(path) == "" {
		return ErrContextNotFound
	}
	objPath := dbus.ObjectPath(path)
	if !objPath.IsValid() {
		return fmt.Errorf("invalid context path %q", path)
	}
	for _, kv := range contextPropertyList(props) {
		if err := bus.SetContextProperty(ctx, objPath, kv.name, kv.value); err != nil {
			return fmt.Errorf("ofono set %s on %s: %w", kv.name, path, err)
		}
	}
	return nil
}

// Close drops the bus connection; the backend can be initialised again.
func (b *OfonoBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.bus == nil {
		return nil
	}
	err := b.bus.Close()
	b.bus = nil
	b.modem = ""
	return err
}

func (b *OfonoBackend) session() (ofonoBus, dbus.ObjectPath, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.bus == nil || b.modem == "" {
		return nil, "", ErrNotReady
	}
	return b.bus, b.modem, nil
}

type propertyValue struct {
	name  string
	value string
}

// contextPropertyList orders the writes for a push. Empty credentials are
// omitted rather than written as "".
func contextPropertyList(props ContextProperties) []propertyValue {
	list := []propertyValue{
		{name: propAccessPointName, value: props.APN},
		{name: propProtocol, value: props.Protocol},
		{name: propAuthMethod, value: props.AuthMethod},
	}
	if props.Username != "" {
		list = append(list, propertyValue{name: propUsername, value: props.Username})
	}
	if props.Password != "" {
		list = append(list, propertyValue{name: propPassword, value: props.Password})
	}
	return list
}

func selectModem(modems []busObject, pinned string) (dbus.ObjectPath, error) {
	if len(modems) == 0 {
		return "", ErrModemNotFound
	}
	if pinned != "" {
		for _, m := range modems {
			if string(m.Path) == pinned {
				return m.Path, nil
			}
		}
		return "", fmt.Errorf("%w: %s", ErrModemNotFound, pinned)
	}
	for _, m := range modems {
		for _, iface := range variantStrings(m.Props, propInterfaces) {
			if iface == ofonoConnManagerIface {
				return m.Path, nil
			}
		}
	}
	return modems[0].Path, nil
}

func contextFromObject(obj busObject) DataContext {
	return DataContext{
		Path:       string(obj.Path),
		Name:       variantString(obj.Props, propName),
		Type:       variantString(obj.Props, propType),
		APN:        variantString(obj.Props, propAccessPointName),
		Protocol:   variantString(obj.Props, propProtocol),
		AuthMethod: variantString(obj.Props, propAuthMethod),
		Active:     variantBool(obj.Props, propActive),
	}
}

func variantString(props map[string]dbus.Variant, key string) string {
	v, ok := props[key]
	if !ok {
		return ""
	}
	s, _ := v.Value().(string)
	return s
}

func variantBool(props map[string]dbus.Variant, key string) bool {
	v, ok := props[key]
	if !ok {
		return false
	}
	b, _ := v.Value().(bool)
	return b
}

func variantStrings(props map[string]dbus.Variant, key string) []string {
	v, ok := props[key]
	if !ok {
		return nil
	}
	ss, _ := v.Value().([]string)
	return ss
}

// systemBus adapts a godbus connection to ofonoBus.
type systemBus struct {
	conn *dbus.Conn
}

func dialSystemBus(address string) (ofonoBus, error) {
	var (
		conn *dbus.Conn
		err  error
	)
	if strings.TrimSpace(address) == "" {
		conn, err = dbus.ConnectSystemBus()
	} else {
		conn, err = dbus.Connect(address)
	}
	if err != nil {
		return nil, fmt.Errorf("connect dbus: %w", err)
	}
	return &systemBus{conn: conn}, nil
}

func (s *systemBus) GetModems(ctx context.Context) ([]busObject, error) {
	var out []busObject
	call := s.conn.Object(ofonoService, ofonoRootPath).CallWithContext(ctx, ofonoManagerIface+".GetModems", 0)
	if err := call.Store(&out); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *systemBus) GetContexts(ctx context.Context, modem dbus.ObjectPath) ([]busObject, error) {
	var out []busObject
	call := s.conn.Object(ofonoService, modem).CallWithContext(ctx, ofonoConnManagerIface+".GetContexts", 0)
	if err := call.Store(&out); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *systemBus) SetContextProperty(ctx context.Context, path dbus.ObjectPath, name string, value any) error {
	call := s.conn.Object(ofonoService, path).CallWithContext(ctx, ofonoConnContextIface+".SetProperty", 0, name, dbus.MakeVariant(value))
	return call.Err
}

func (s *systemBus) Close() error {
	return s.conn.Close()
}
