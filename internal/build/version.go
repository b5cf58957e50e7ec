package build

import "fmt"

var (
	// Commit stores the current commit of this build, set via ldflags at
	// build time (e.g. -X github.com/rcelha/grain/internal/build.Commit=...).
	Commit string

	// CommitHash stores the commit hash of this build, set via ldflags,
	// used as a fallback when Commit (which may include tag info) isn't
	// set.
	CommitHash string
)

const (
	// appMajor, appMinor and appPatch are the semver components Version
	// formats.
	appMajor uint = 0
	appMinor uint = 1
	appPatch uint = 0
)

// Version returns the application version as a properly formed string per
// the semantic versioning 2.0.0 spec (https://semver.org/).
func Version() string {
	return fmt.Sprintf("%d.%d.%d", appMajor, appMinor, appPatch)
}

// GoVersion is set at build time via ldflags to the `go version` output
// used to compile the binary. Left empty when built without ldflags.
var GoVersion string
