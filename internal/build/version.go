package build

import "runtime"

// These variables are set at build time via ldflags, e.g.:
//
//	go build -ldflags "-X github.com/roasbeef/edgerpc/internal/build.Commit=..."
var (
	// Commit is the full commit description, including any tag info.
	Commit string

	// CommitHash is the raw VCS commit hash.
	CommitHash string
)

// version holds the semantic version of the current release.
const version = "0.1.0"

// GoVersion is the version of the Go toolchain the binary was built with.
var GoVersion = runtime.Version()

// Version returns the semantic version string for the current build.
func Version() string {
	return version
}
