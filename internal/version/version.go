// Package version provides build-time version information for recanalyzer.
//
// Version, Commit, and Date are injected at build time via ldflags:
//
//	go build -ldflags "-X github.com/recanalyzer/recanalyzer/internal/version.Version=x.y.z \
//	                   -X github.com/recanalyzer/recanalyzer/internal/version.Commit=$(git rev-parse HEAD) \
//	                   -X github.com/recanalyzer/recanalyzer/internal/version.Date=$(date -u +%Y-%m-%dT%H:%M:%SZ)"
package version

import (
	"encoding/json"
	"fmt"
	"runtime"
)

// Build-time variables injected via ldflags.
var (
	// Version is the semantic version following SemVer 2.0.0.
	Version = "dev"

	// Commit is the full git commit SHA.
	Commit = "unknown"

	// Date is the build timestamp in RFC3339 format.
	Date = "unknown"
)

// GoVersion is the Go runtime version.
var GoVersion = runtime.Version()

// ApplicationName is the canonical name of this application.
const ApplicationName = "recanalyzer"

// Info contains structured version information.
type Info struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	Date      string `json:"date"`
	GoVersion string `json:"go_version"`
	Platform  string `json:"platform"`
}

// GetInfo returns all version information as a structured type.
func GetInfo() Info {
	return Info{
		Version:   Version,
		Commit:    Commit,
		Date:      Date,
		GoVersion: GoVersion,
		Platform:  fmt.Sprintf("%s/%s", runtime.GOOS, runtime.GOARCH),
	}
}

// String returns a human-readable version string.
func String() string {
	info := GetInfo()
	if Commit != "unknown" && len(Commit) >= 8 {
		return fmt.Sprintf("%s version %s (commit: %s, built: %s, %s, %s)",
			ApplicationName, info.Version, info.Commit[:8], info.Date, info.GoVersion, info.Platform)
	}
	return fmt.Sprintf("%s version %s (%s, %s)", ApplicationName, info.Version, info.GoVersion, info.Platform)
}

// Short returns a short version string suitable for CLI --version output.
func Short() string {
	if Commit != "unknown" && len(Commit) >= 8 {
		return fmt.Sprintf("%s %s (%s)", ApplicationName, Version, Commit[:8])
	}
	return fmt.Sprintf("%s %s", ApplicationName, Version)
}

// JSON returns the version information serialised as JSON.
func JSON() string {
	data, err := json.MarshalIndent(GetInfo(), "", "  ")
	if err != nil {
		return "{}"
	}
	return string(data)
}

// UserAgent returns a User-Agent string for HTTP requests.
func UserAgent() string {
	return fmt.Sprintf("%s/%s", ApplicationName, Version)
}
