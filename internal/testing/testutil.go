// ABOUTME: Package testing holds fixtures shared by the apnd test suites.
//
// It must not import any apnd package, so that the db, apn and config tests
// can all depend on it. Store doubles live in mocks.go.
package testing

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// FixedTime is the clock value engine tests pin their timestamps to.
var FixedTime = time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

// Template fixture values.
const (
	TestTemplateName = "CT"
	TestAPN          = "cmnet"
)

// WriteFile writes content to dir/name and forces mode, ignoring umask, so
// permission checks see exactly what the test asked for.
func WriteFile(t testing.TB, dir, name, content string, mode os.FileMode) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), mode))
	require.NoError(t, os.Chmod(path, mode))
	return path
}
