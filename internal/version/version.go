// Package version reports the build identity of the regwatch binary.
package version

import (
	"fmt"
	"runtime/debug"
	"strconv"
	"strings"
)

// Set at build time, e.g.
//
//	go build -ldflags "-X regwatch/internal/version.Version=1.4.0 -X regwatch/internal/version.GitCommit=$(git rev-parse --short HEAD)"
//
// Major, Minor and Patch may be left unset; they are then derived from Version.
var (
	Version   = "dev"
	Major     = ""
	Minor     = ""
	Patch     = ""
	Built     = ""
	GitCommit = ""
)

type VersionInfo struct {
	Version   string `json:"version"`
	Major     int    `json:"major"`
	Minor     int    `json:"minor"`
	Patch     int    `json:"patch"`
	Built     string `json:"built"`
	GitCommit string `json:"git_commit,omitempty"`
}

func GetVersionInfo() VersionInfo {
	info := VersionInfo{Version: Version, Built: Built, GitCommit: GitCommit}
	info.Major, info.Minor, info.Patch = semverParts(Version)
	if Major != "" || Minor != "" || Patch != "" {
		info.Major, info.Minor, info.Patch = atoi(Major), atoi(Minor), atoi(Patch)
	}
	if info.GitCommit == "" {
		info.GitCommit = vcsRevision()
	}
	return info
}

// Banner renders the one-line version string printed by -version.
func (info VersionInfo) Banner(program string) string {
	var banner strings.Builder
	if info.Version == "" || info.Version == "dev" {
		banner.WriteString(program + " dev")
	} else {
		fmt.Fprintf(&banner, "%s version %s", program, info.Version)
	}
	if info.GitCommit != "" {
		fmt.Fprintf(&banner, " (%s)", info.GitCommit)
	}
	if info.Built != "" {
		banner.WriteString(" built " + info.Built)
	}
	return banner.String()
}

// semverParts reads "1.2.3", "v1.2.3" or "1.2.3-rc.1". Missing or
// non-numeric parts are zero.
func semverParts(version string) (major, minor, patch int) {
	version = strings.TrimPrefix(version, "v")
	if core, _, found := strings.Cut(version, "-"); found {
		version = core
	}
	parts := strings.SplitN(version, ".", 3)
	values := make([]int, 3)
	for i, part := range parts {
		values[i] = atoi(part)
	}
	return values[0], values[1], values[2]
}

func atoi(value string) int {
	parsed, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return 0
	}
	return parsed
}

// vcsRevision is the short commit stamped by the go tool, when available.
func vcsRevision() string {
	build, ok := debug.ReadBuildInfo()
	if !ok {
		return ""
	}
	for _, setting := range build.Settings {
		if setting.Key == "vcs.revision" && len(setting.Value) >= 7 {
			return setting.Value[:7]
		}
	}
	return ""
}
