// Package version reports what build of parkwatch is running.
//
// Release builds stamp the variables with ldflags:
//
//	go build -ldflags "-X github.com/rickgao/parkwatch/internal/version.Version=1.2.0 \
//	                   -X github.com/rickgao/parkwatch/internal/version.Commit=$(git rev-parse --short HEAD)" ./cmd/parkwatch
//
// Unstamped builds fall back to the VCS data the Go toolchain embeds.
package version

import "runtime/debug"

var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func init() {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return
	}
	if Version == "dev" && info.Main.Version != "" && info.Main.Version != "(devel)" {
		Version = info.Main.Version
	}
	for _, s := range info.Settings {
		switch {
		case s.Key == "vcs.revision" && Commit == "unknown" && len(s.Value) >= 7:
			Commit = s.Value[:7]
		case s.Key == "vcs.time" && BuildTime == "unknown":
			BuildTime = s.Value
		}
	}
}

// String is the long form printed by --version.
func String() string {
	return Version + " (" + Commit + ") built " + BuildTime
}

// UserAgent identifies this client to the backend, e.g. "parkwatch/1.2.0 (abc1234)".
func UserAgent() string {
	return "parkwatch/" + Version + " (" + Commit + ")"
}
