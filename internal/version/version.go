// Package version carries build metadata stamped in with -ldflags.
package version

import "fmt"

var (
	// Version is the current application version
	Version = "dev"
	// GitSHA is the git commit SHA
	GitSHA = "unknown"
	// BuildTime is the build timestamp
	BuildTime = "unknown"
)

// String formats the build metadata for a named binary, as printed by -version.
func String(binary string) string {
	sha := GitSHA
	if len(sha) > 7 {
		sha = sha[:7]
	}
	return fmt.Sprintf("%s %s (%s, built %s)", binary, Version, sha, BuildTime)
}
