// Package version exposes the application version derived from build metadata.
//
// Priority: -ldflags override > VCS info from debug.BuildInfo > "dev" fallback.
//
// Usage:
//
//	version.Version  // "v0.3.1", "a3f8c2d1" or "dev"
//	version.Full()   // "trailtag/v0.3.1" or "trailtag/dev"
package version

import "runtime/debug"

// AppName is the application name used in version strings and user agents.
const AppName = "trailtag"

// versionOverride is set via -ldflags at build time for container builds
// where .git is unavailable. Empty string means no override.
var versionOverride string

// Version identifies the running build. It is the ldflags override when one
// was injected, otherwise the short VCS revision from build info, otherwise
// "dev" (e.g. `go test`, non-git builds).
var Version = initVersion()

func initVersion() string {
	if versionOverride != "" {
		return versionOverride
	}
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return "dev"
	}
	for _, s := range info.Settings {
		if s.Key == "vcs.revision" && s.Value != "" {
			if len(s.Value) > 8 {
				return s.Value[:8]
			}
			return s.Value
		}
	}
	return "dev"
}

// Full returns "trailtag/<version>" for use in user-agent strings and logs.
func Full() string {
	return AppName + "/" + Version
}
