// Package version reports build information set through ldflags, e.g.
// -X github.com/cmwaters/verdict/internal/version.Version=v0.1.0
package version

import "fmt"

var (
	Version    = "devel"
	CommitHash = ""
)

func GetVersionString() string {
	if CommitHash == "" {
		return Version
	}
	return fmt.Sprintf("%s (commit %s)", Version, CommitHash)
}
