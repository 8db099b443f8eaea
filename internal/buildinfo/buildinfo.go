// Package buildinfo carries the release identifiers stamped into apnd and
// apnctl at link time.
package buildinfo

import "fmt"

// These values are overridden at build time via -ldflags.
var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

func String() string {
	return fmt.Sprintf("version=%s commit=%s date=%s", Version, Commit, Date)
}

// UserAgent returns the User-Agent value for a client binary.
func UserAgent(program string) string {
	return fmt.Sprintf("%s/%s", program, Version)
}
