// Package version holds build metadata injected at link time.
package version

import "runtime"

// Populated via -ldflags at release build time, e.g.:
//
//	-X github.com/utlibraries/crate/version.GitRelease=v0.3.0
var (
	// GitRelease is the release tag or "dev" for local builds.
	GitRelease = "dev"

	// GitCommit is the short commit hash the binary was built from.
	GitCommit = "unknown"

	// GitCommitDate is the commit date of GitCommit.
	GitCommitDate = "unknown"

	// GoInfo is the Go toolchain version used for the build.
	GoInfo = runtime.Version()
)
