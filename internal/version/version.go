// Package version holds build metadata for camgate.
//
// The variables below are set at link time:
//
//	go build -ldflags "-X github.com/jmylchreest/camgate/internal/version.Version=x.y.z \
//	                   -X github.com/jmylchreest/camgate/internal/version.Commit=$(git rev-parse HEAD) \
//	                   -X github.com/jmylchreest/camgate/internal/version.Date=$(date -u +%Y-%m-%dT%H:%M:%SZ)"
package version

import (
	"encoding/json"
	"fmt"
	"runtime"
)

var (
	// Version is the release version, "dev" for local builds.
	Version = "dev"

	// Commit is the full git commit SHA.
	Commit = "unknown"

	// Date is the build timestamp in RFC3339 format.
	Date = "unknown"

	// Branch is the git branch the binary was built from.
	Branch = "unknown"

	// TreeState is "clean" or "dirty".
	TreeState = "unknown"
)

// ApplicationName is the canonical name of this application.
const ApplicationName = "camgate"

const shortSHALen = 8

// Info is the structured form of the build metadata.
type Info struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	CommitSHA string `json:"commit_sha"`
	Date      string `json:"date"`
	Branch    string `json:"branch"`
	TreeState string `json:"tree_state"`
	GoVersion string `json:"go_version"`
	OS        string `json:"os"`
	Arch      string `json:"arch"`
}

// GetInfo returns the build metadata.
func GetInfo() Info {
	return Info{
		Version:   Version,
		Commit:    Commit,
		CommitSHA: shortSHA(),
		Date:      Date,
		Branch:    Branch,
		TreeState: TreeState,
		GoVersion: runtime.Version(),
		OS:        runtime.GOOS,
		Arch:      runtime.GOARCH,
	}
}

func shortSHA() string {
	if Commit == "unknown" || len(Commit) < shortSHALen {
		return ""
	}
	sha := Commit[:shortSHALen]
	if TreeState == "dirty" {
		sha += "*"
	}
	return sha
}

// String returns the long human-readable version line.
func String() string {
	info := GetInfo()
	platform := info.OS + "/" + info.Arch
	if info.CommitSHA == "" {
		return fmt.Sprintf("%s version %s (%s, %s)", ApplicationName, info.Version, info.GoVersion, platform)
	}
	s := fmt.Sprintf("%s version %s (commit: %s, built: %s", ApplicationName, info.Version, info.CommitSHA, info.Date)
	if Branch != "unknown" && Branch != "" {
		s += ", branch: " + Branch
	}
	return s + fmt.Sprintf(", %s, %s)", info.GoVersion, platform)
}

// Short returns the version for cobra's --version output, which prefixes
// the command name itself.
func Short() string {
	if sha := shortSHA(); sha != "" {
		return fmt.Sprintf("%s (%s)", Version, sha)
	}
	return Version
}

// UserAgent returns the User-Agent sent to the head-end and detector.
func UserAgent() string {
	return fmt.Sprintf("%s/%s", ApplicationName, Version)
}

// JSON returns the build metadata as indented JSON.
func JSON() string {
	b, err := json.MarshalIndent(GetInfo(), "", "  ")
	if err != nil {
		return "{}"
	}
	return string(b)
}
