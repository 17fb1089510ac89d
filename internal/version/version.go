// Package version reports the foreman release.
package version

import (
	_ "embed"
	"fmt"
	"runtime"
	"runtime/debug"
	"strings"
)

//go:embed VERSION
var versionContent string

// Get returns the release version with whitespace trimmed.
func Get() string {
	return strings.TrimSpace(versionContent)
}

// Revision returns the VCS revision stamped into the binary, or "unknown".
func Revision() string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return "unknown"
	}
	rev, dirty := "", false
	for _, s := range info.Settings {
		switch s.Key {
		case "vcs.revision":
			rev = s.Value
		case "vcs.modified":
			dirty = s.Value == "true"
		}
	}
	if rev == "" {
		return "unknown"
	}
	if len(rev) > 12 {
		rev = rev[:12]
	}
	if dirty {
		rev += "-dirty"
	}
	return rev
}

// String is the one-line banner printed by `foreman version`.
func String() string {
	return fmt.Sprintf("foreman %s (%s, %s %s/%s)", Get(), Revision(), runtime.Version(), runtime.GOOS, runtime.GOARCH)
}
