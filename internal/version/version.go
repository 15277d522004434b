package version

import (
	"fmt"
	"runtime"
)

var (
	// Version is the release of debpack, set with -ldflags "-X ...version.Version=".
	Version = "dev"
	// Commit is the short git SHA of the build.
	Commit = "none"
	// BuildTime is the UTC build timestamp.
	BuildTime = "unknown"
)

// Short returns only the version string.
func Short() string {
	return Version
}

// Full returns version, commit, build time and toolchain on one line.
func Full() string {
	return fmt.Sprintf("debpack %s (commit %s, built %s, %s %s/%s)",
		Version, Commit, BuildTime, runtime.Version(), runtime.GOOS, runtime.GOARCH)
}
