// Package version exposes build identity for logs, health responses and
// user-agent strings.
//
// The commit comes from -ldflags when set (container builds without .git),
// otherwise from the VCS stamp in debug.BuildInfo, otherwise "dev".
package version

import "runtime/debug"

// AppName is the application name used in version strings.
const AppName = "flowforge"

// commitOverride is set via -ldflags at build time. Empty means no override.
var commitOverride string

// GitCommit is the short git commit hash, or "dev" when build info is
// unavailable (go test, non-git builds).
var GitCommit = resolveCommit()

func resolveCommit() string {
	if commitOverride != "" {
		return short(commitOverride)
	}
	info, ok := debug.ReadBuildInfo()
	if ok {
		for _, s := range info.Settings {
			if s.Key == "vcs.revision" && s.Value != "" {
				return short(s.Value)
			}
		}
	}
	return "dev"
}

func short(rev string) string {
	if len(rev) > 8 {
		return rev[:8]
	}
	return rev
}

// Full returns "flowforge/<commit>".
func Full() string {
	return AppName + "/" + GitCommit
}
