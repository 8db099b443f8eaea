// ABOUTME: This file provides a deterministic in-memory modem manager for tests
// and for running apnd without modem hardware.
package modem

import (
	"context"
	"fmt"
	"sync"
)

// PushRecord captures one SetContextProperties call on a FakeBackend.
type PushRecord struct {
	Path  string
	Props ContextProperties
}

// FakeBackend implements Manager with in-memory state.
// It is deterministic and safe for concurrent use.
type FakeBackend struct {
	mu           sync.Mutex
	ready        bool
	contexts     []DataContext
	pushes       []PushRecord
	initCalls    int
	initErr      error
	listErr      error
	pushErr      map[string]error
	readyOnInit  bool
	nextContexts int
}

// NewFakeBackend returns a FakeBackend that becomes ready on Initialize.
func NewFakeBackend() *FakeBackend {
	return &FakeBackend{
		readyOnInit:  true,
		pushErr:      make(map[string]error),
		nextContexts: 1,
	}
}

// NewReadyFakeBackend returns a ready FakeBackend seeded with one internet
// context, the shape most modems report after boot.
func NewReadyFakeBackend() *FakeBackend {
	b := NewFakeBackend()
	b.ready = true
	b.AddContext(ContextTypeInternet, "", false)
	return b
}

// AddContext appends a context and returns its path.
func (b *FakeBackend) AddContext(contextType, apn string, active bool) string {
	b.mu.Lock()
	defer b.mu.Unlock()
	path := fmt.Sprintf("/fake_0/context%d", b.nextContexts)
	b.nextContexts++
	b.contexts = append(b.contexts, DataContext{
		Path:       path,
		Name:       contextType,
		Type:       contextType,
		APN:        apn,
		Protocol:   "dual",
		AuthMethod: "chap",
		Active:     active,
	})
	return path
}

// SetActive flips the active flag of the context at path.
func (b *FakeBackend) SetActive(path string, active bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i := range b.contexts {
		if b.contexts[i].Path == path {
			b.contexts[i].Active = active
		}
	}
}

// SetReady forces the readiness flag.
func (b *FakeBackend) SetReady(ready bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.ready = ready
}

// FailInitialize makes Initialize return err (nil clears it).
func (b *FakeBackend) FailInitialize(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.initErr = err
}

// FailList makes ListDataContexts return err (nil clears it).
func (b *FakeBackend) FailList(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.listErr = err
}

// FailPush makes pushes to path return err (nil clears it).
func (b *FakeBackend) FailPush(path string, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err == nil {
		delete(b.pushErr, path)
		return
	}
	b.pushErr[path] = err
}

// Pushes returns every recorded property push in call order.
func (b *FakeBackend) Pushes() []PushRecord {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]PushRecord, len(b.pushes))
	copy(out, b.pushes)
	return out
}

// InitCalls returns how many times Initialize was called.
func (b *FakeBackend) InitCalls() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.initCalls
}

func (b *FakeBackend) IsReady() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.ready
}

func (b *FakeBackend) Initialize(_ context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.initCalls++
	if b.initErr != nil {
		return b.initErr
	}
	if b.readyOnInit {
		b.ready = true
	}
	return nil
}

func (b *FakeBackend) ListDataContexts(_ context.Context) ([]DataContext, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.listErr != nil {
		return nil, b.listErr
	}
	if !b.ready {
		return nil, ErrNotReady
	}
	out := make([]DataContext, len(b.contexts))
	copy(out, b.contexts)
	return out, nil
}

func (b *FakeBackend) SetContextProperties(_ context.Context, path string, props ContextProperties) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.ready {
		return ErrNotReady
	}
	if err, ok := b.pushErr[path]; ok {
		return err
	}
	for i := range b.contexts {
		if b.contexts[i].Path != path {
			continue
		}
		b.contexts[i].APN = props.APN
		b.contexts[i].Protocol = props.Protocol
		b.contexts[i].AuthMethod = props.AuthMethod
		b.pushes = append(b.pushes, PushRecord{Path: path, Props: props})
		return nil
	}
	return ErrContextNotFound
}
