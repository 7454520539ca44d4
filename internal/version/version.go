package version

import "fmt"

// Build metadata, set with -ldflags "-X stockwatcher/internal/version.Version=...".
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildDate = "unknown"
)

// String renders the build metadata one field per line.
func String() string {
	return fmt.Sprintf("stockwatcher %s\ncommit: %s\nbuilt: %s\n", Version, Commit, BuildDate)
}
