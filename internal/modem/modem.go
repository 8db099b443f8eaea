// Package modem abstracts the cellular modem management service.
//
// ABOUTME: The Manager interface exposes exactly what APN reconciliation
// needs: readiness, a one-shot initialisation, the list of packet data
// contexts, and a bulk property push for one context.
//
// ABOUTME: Two implementations are provided: OfonoBackend (oFono over the
// system D-Bus) and FakeBackend (deterministic in-memory state for tests and
// for running the daemon on hosts without a modem).
package modem

import (
	"context"
	"errors"
)

// ContextTypeInternet is the context type used for the default data bearer.
const ContextTypeInternet = "internet"

var (
	// ErrNotReady is returned when a call needs an initialised manager.
	ErrNotReady = errors.New("modem manager not ready")

	// ErrModemNotFound is returned when initialisation finds no usable modem.
	ErrModemNotFound = errors.New("modem not found")

	// ErrContextNotFound is returned when a property push targets an unknown
	// context path.
	ErrContextNotFound = errors.New("data context not found")
)

// DataContext is a live packet data context reported by the modem manager.
type DataContext struct {
	Path       string
	Name       string
	Type       string
	APN        string
	Protocol   string
	AuthMethod string
	Active     bool
}

// IsInternet reports whether the context carries the default data bearer.
func (c DataContext) IsInternet() bool {
	return c.Type == ContextTypeInternet
}

// ContextProperties is the parameter set pushed into one data context.
// An empty Username or Password means no credential is configured.
type ContextProperties struct {
	APN        string
	Protocol   string
	Username   string
	Password   string
	AuthMethod string
}

// Manager is the modem management surface used by the APN engine.
type Manager interface {
	// IsReady reports whether the manager is connected to a modem.
	IsReady() bool

	// Initialize connects to the modem service and selects a modem.
	Initialize(ctx context.Context) error

	// ListDataContexts returns the live contexts in the order reported by
	// the modem service.
	ListDataContexts(ctx context.Context) ([]DataContext, error)

	// SetContextProperties pushes props into the context at path.
	SetContextProperties(ctx context.Context, path string, props ContextProperties) error
}
