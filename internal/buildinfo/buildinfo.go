// Package buildinfo exposes compile-time metadata shared across the server.
package buildinfo

import "fmt"

// The following variables are overridden via ldflags during release builds.
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

// Summary is the one-line version banner printed at startup and by -version.
func Summary() string {
	return fmt.Sprintf("CivitaiGallery Version: %s, Commit: %s, BuiltAt: %s", Version, Commit, BuildDate)
}

// UserAgent identifies this binary to the upstream API.
func UserAgent() string {
	return "CivitaiGallery/" + Version
}
