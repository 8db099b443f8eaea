package testing

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"sync"
)

// ErrInjected is returned by FlakyStore when a failure is injected.
var ErrInjected = errors.New("injected store failure")

// StatementStore is the statement surface FlakyStore wraps. It mirrors the
// methods of db.Store without importing it.
type StatementStore interface {
	Execute(ctx context.Context, stmt string, args ...any) (sql.Result, error)
	QueryScalar(ctx context.Context, stmt string, args ...any) (string, error)
	QueryRows(ctx context.Context, stmt string, args ...any) ([]string, error)
}

// FlakyStore wraps a StatementStore and fails selected calls on demand.
//
// FailExecuteMatching fails Execute calls whose statement contains the
// substring; an empty value disables injection. ExtraRows are appended to
// every QueryRows result, which lets tests plant corrupt rows.
type FlakyStore struct {
	Inner StatementStore

	mu                  sync.Mutex
	FailExecuteMatching string
	FailQueries         bool
	ExtraRows           []string
	executed            []string
}

// NewFlakyStore wraps inner with no failures configured.
func NewFlakyStore(inner StatementStore) *FlakyStore {
	return &FlakyStore{Inner: inner}
}

// SetFailExecute configures the substring that makes Execute fail.
func (f *FlakyStore) SetFailExecute(substr string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.FailExecuteMatching = substr
}

// SetFailQueries toggles failure of QueryScalar and QueryRows.
func (f *FlakyStore) SetFailQueries(fail bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.FailQueries = fail
}

// Executed returns the statements passed to Execute so far.
func (f *FlakyStore) Executed() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.executed))
	copy(out, f.executed)
	return out
}

func (f *FlakyStore) Execute(ctx context.Context, stmt string, args ...any) (sql.Result, error) {
	f.mu.Lock()
	f.executed = append(f.executed, stmt)
	fail := f.FailExecuteMatching != "" && strings.Contains(stmt, f.FailExecuteMatching)
	f.mu.Unlock()
	if fail {
		return nil, ErrInjected
	}
	return f.Inner.Execute(ctx, stmt, args...)
}

func (f *FlakyStore) QueryScalar(ctx context.Context, stmt string, args ...any) (string, error) {
	f.mu.Lock()
	fail := f.FailQueries
	f.mu.Unlock()
	if fail {
		return "", ErrInjected
	}
	return f.Inner.QueryScalar(ctx, stmt, args...)
}

func (f *FlakyStore) QueryRows(ctx context.Context, stmt string, args ...any) ([]string, error) {
	f.mu.Lock()
	fail := f.FailQueries
	extra := append([]string(nil), f.ExtraRows...)
	f.mu.Unlock()
	if fail {
		return nil, ErrInjected
	}
	rows, err := f.Inner.QueryRows(ctx, stmt, args...)
	if err != nil {
		return nil, err
	}
	return append(rows, extra...), nil
}
