// Package version holds build metadata injected via ldflags.
package version

import "fmt"

//nolint:revive // Set via ldflags at build time.
var (
	Version = "dev"
	Commit  = "unknown"
	Date    = "unknown"
)

// UserAgent identifies streetdex in outbound provider requests.
func UserAgent() string {
	return fmt.Sprintf("streetdex/%s (+%s)", Version, Commit)
}
