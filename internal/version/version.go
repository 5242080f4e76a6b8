// Package version reports build metadata for recall.
package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
)

// Overridden at build time:
//
//	go build -ldflags "-X github.com/soyeahso/recall/internal/version.Version=1.0.0
//	  -X github.com/soyeahso/recall/internal/version.Commit=abc123
//	  -X github.com/soyeahso/recall/internal/version.Date=2026-01-01"
var (
	Version = "dev"
	Commit  = "unknown"
	Date    = "unknown"
)

// Info is the one-line version banner printed by `recall version`.
func Info() string {
	commit, date := Commit, Date
	if commit == "unknown" {
		commit, date = fromBuildInfo(date)
	}
	return fmt.Sprintf("recall %s (commit: %s, built: %s, %s/%s)",
		Version, short(commit), date, runtime.GOOS, runtime.GOARCH)
}

// fromBuildInfo reads the VCS stamp `go build` embeds when ldflags were
// not set.
func fromBuildInfo(date string) (string, string) {
	commit := "unknown"
	bi, ok := debug.ReadBuildInfo()
	if !ok {
		return commit, date
	}
	for _, s := range bi.Settings {
		switch s.Key {
		case "vcs.revision":
			commit = s.Value
		case "vcs.time":
			if date == "unknown" {
				date = s.Value
			}
		}
	}
	return commit, date
}

func short(s string) string {
	if len(s) > 7 {
		return s[:7]
	}
	return s
}
