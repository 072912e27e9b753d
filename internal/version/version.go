// Package version holds build metadata injected at link time.
package version

var (
	// Version is the semantic version of the build, set via -ldflags.
	Version = "dev"

	// GitCommit is the git SHA the binary was built from.
	GitCommit = "unknown"

	// BuildDate is the UTC timestamp of the build.
	BuildDate = "unknown"
)
