// Package version carries the build identity of the gamepilot binary.
package version

import (
	"fmt"
	"runtime"
)

// Set via ldflags:
//
//	go build -ldflags="-X github.com/andywolf/gamepilot/internal/version.Version=v0.3.0"
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildDate = "unknown"
)

// Name is the program name used in version strings and the User-Agent.
const Name = "gamepilot"

// Short returns the bare version, e.g. "v0.3.0" or "dev".
func Short() string {
	return Version
}

func shortCommit() string {
	if len(Commit) > 7 {
		return Commit[:7]
	}
	return Commit
}

// Info returns a one-line description of the build.
func Info() string {
	return fmt.Sprintf("%s %s (commit: %s, built: %s, go: %s)",
		Name, Version, shortCommit(), BuildDate, runtime.Version())
}

// Full returns the multi-line build description printed by `version -v`.
func Full() string {
	return fmt.Sprintf(`%s %s
  Commit:     %s
  Built:      %s
  Go version: %s
  OS/Arch:    %s/%s`,
		Name, Version, Commit, BuildDate, runtime.Version(), runtime.GOOS, runtime.GOARCH)
}

// UserAgent is sent by the model and bridge HTTP clients.
func UserAgent() string {
	return fmt.Sprintf("%s/%s (%s/%s)", Name, Version, runtime.GOOS, runtime.GOARCH)
}
