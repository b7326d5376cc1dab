package buildtime

import (
	"runtime/debug"
)

// set with -ldflags "-X github.com/opst/modelsync/pkg/buildtime.version=..."
var (
	version  = ""
	revision = ""
)

// VERSION is the version of this build. "(devel)" when unknown.
func VERSION() string {
	if version != "" {
		return version
	}
	if bi, ok := debug.ReadBuildInfo(); ok && bi.Main.Version != "" {
		return bi.Main.Version
	}
	return "(devel)"
}

func GIT_REVISION() string {
	if revision != "" {
		return revision
	}
	if bi, ok := debug.ReadBuildInfo(); ok {
		for _, s := range bi.Settings {
			if s.Key == "vcs.revision" {
				return s.Value
			}
		}
	}
	return "unknown"
}

func VersionString() string {
	return VERSION() + " (commit: " + GIT_REVISION() + ")"
}
