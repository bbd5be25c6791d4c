// Package version provides build-time version information for dowser.
//
// Version, Commit, Date, Branch, and TreeState are injected at build time
// via ldflags:
//
//	go build -ldflags "-X dowser/internal/version.Version=x.y.z \
//	                   -X dowser/internal/version.Commit=$(git rev-parse HEAD) \
//	                   -X dowser/internal/version.Date=$(date -u +%Y-%m-%dT%H:%M:%SZ) \
//	                   -X dowser/internal/version.Branch=$(git rev-parse --abbrev-ref HEAD) \
//	                   -X dowser/internal/version.TreeState=clean"
package version

import (
	"encoding/json"
	"fmt"
	"runtime"
	"strings"
)

// Build-time variables injected via ldflags.
var (
	// Version is the semantic version following SemVer 2.0.0.
	// Release format: "1.2.3"
	// Prerelease format: "1.2.3-SNAPSHOT.abc1234" (next patch + SNAPSHOT + short SHA)
	Version = "dev"

	// Commit is the full git commit SHA.
	Commit = "unknown"

	// Date is the build timestamp in RFC3339 format.
	Date = "unknown"

	// Branch is the git branch the build came from.
	Branch = "unknown"

	// TreeState is "clean" or "dirty" depending on uncommitted changes.
	TreeState = "unknown"
)

// Runtime constants.
var (
	// GoVersion is the Go runtime version.
	GoVersion = runtime.Version()
)

// ApplicationName is the canonical name of this application.
const ApplicationName = "dowser"

// Info contains structured version information.
type Info struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	CommitSHA string `json:"commit_sha,omitempty"`
	Date      string `json:"date"`
	Branch    string `json:"branch,omitempty"`
	TreeState string `json:"tree_state,omitempty"`
	GoVersion string `json:"go_version"`
	Platform  string `json:"platform"`
	OS        string `json:"os"`
	Arch      string `json:"arch"`
}

// GetInfo returns all version information as a structured type.
func GetInfo() Info {
	return Info{
		Version:   Version,
		Commit:    Commit,
		CommitSHA: shortSHA(),
		Date:      Date,
		Branch:    Branch,
		TreeState: TreeState,
		GoVersion: GoVersion,
		Platform:  fmt.Sprintf("%s/%s", runtime.GOOS, runtime.GOARCH),
		OS:        runtime.GOOS,
		Arch:      runtime.GOARCH,
	}
}

// shortSHA returns the first 8 characters of the commit SHA, or "" when the
// commit is unknown.
func shortSHA() string {
	if Commit == "unknown" || len(Commit) < 8 {
		return ""
	}
	return Commit[:8]
}

// displaySHA is shortSHA with a "*" marker appended for dirty-tree builds.
func displaySHA() string {
	sha := shortSHA()
	if sha != "" && TreeState == "dirty" {
		sha += "*"
	}
	return sha
}

// String returns a human-readable version string.
func String() string {
	info := GetInfo()
	sha := displaySHA()
	if sha == "" {
		return fmt.Sprintf("%s version %s (%s, %s)",
			ApplicationName, info.Version, info.GoVersion, info.Platform)
	}
	parts := []string{
		fmt.Sprintf("commit: %s", sha),
		fmt.Sprintf("built: %s", info.Date),
	}
	if info.Branch != "" && info.Branch != "unknown" {
		parts = append(parts, fmt.Sprintf("branch: %s", info.Branch))
	}
	parts = append(parts, info.GoVersion, info.Platform)
	return fmt.Sprintf("%s version %s (%s)",
		ApplicationName, info.Version, strings.Join(parts, ", "))
}

// Short returns a short version string suitable for CLI --version output.
// The application name is omitted; cobra prefixes it.
func Short() string {
	sha := displaySHA()
	if sha == "" {
		return Version
	}
	return fmt.Sprintf("%s (%s)", Version, sha)
}

// JSON returns the version information as an indented JSON document.
func JSON() string {
	data, err := json.MarshalIndent(GetInfo(), "", "  ")
	if err != nil {
		return "{}"
	}
	return string(data)
}

// IsSnapshot returns true if this is a snapshot/prerelease build.
// Snapshots use SemVer prerelease format: X.Y.Z-SNAPSHOT.commitsha
func IsSnapshot() bool {
	return Version == "dev" || strings.Contains(Version, "-SNAPSHOT")
}
