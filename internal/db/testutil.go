package db

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// OpenTestStore opens a fully migrated store under t.TempDir and closes it
// when the test ends.
func OpenTestStore(t testing.TB) *Store {
	t.Helper()
	store, err := OpenContext(context.Background(), filepath.Join(t.TempDir(), "apnd.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}
