// Package versions provides build information for the payload uploader.
package versions

import (
	"fmt"
	"runtime"
	"runtime/debug"
	"strings"
	"time"
)

const (
	unknownStr = "unknown"

	// Product is the name reported to collectors and in version output
	Product = "payload-uploader"
)

// Build information, set with -ldflags "-X ..."
var (
	// Version is the release version, "dev" for local builds
	Version = "dev"
	// Commit is the git commit of the build
	//nolint:goconst // placeholder until set by the linker
	Commit = unknownStr
	// BuildDate is the RFC 3339 time of the build
	//nolint:goconst // placeholder until set by the linker
	BuildDate = unknownStr
	// BuildType is "release" for official builds and "development" otherwise
	BuildType = "development"
)

// VersionInfo represents the version information
type VersionInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildDate string `json:"build_date"`
	GoVersion string `json:"go_version"`
	Platform  string `json:"platform"`
}

// GetVersionInfo returns the version information
func GetVersionInfo() VersionInfo {
	return getVersionInfoWithValues(Version, Commit, BuildDate)
}

// UserAgent returns the User-Agent sent to collectors when the configuration
// does not set one, e.g. "payload-uploader/v1.2.3 (linux/amd64)"
func UserAgent() string {
	info := GetVersionInfo()
	return fmt.Sprintf("%s/%s (%s)", Product, info.Version, info.Platform)
}

// IsRelease reports whether this is an official release build
func IsRelease() bool {
	return BuildType == "release"
}

func getVersionInfoWithValues(version, commit, buildDate string) VersionInfo {
	if strings.HasPrefix(version, "dev") {
		commit, buildDate = fromVCS(commit, buildDate)
	}

	if buildDate != unknownStr {
		if t, err := time.Parse(time.RFC3339, buildDate); err == nil {
			buildDate = t.UTC().Format("2006-01-02 15:04:05 MST")
		}
	}

	// local builds are named after the first 8 characters of the commit
	if version == "dev" {
		version = fmt.Sprintf("build-%.*s", 8, commit)
	}

	return VersionInfo{
		Version:   version,
		Commit:    commit,
		BuildDate: buildDate,
		GoVersion: runtime.Version(),
		Platform:  runtime.GOOS + "/" + runtime.GOARCH,
	}
}

// fromVCS fills unknown commit and build date from the module build info
func fromVCS(commit, buildDate string) (string, string) {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return commit, buildDate
	}
	for _, setting := range info.Settings {
		switch {
		case setting.Key == "vcs.revision" && commit == unknownStr:
			commit = setting.Value
		case setting.Key == "vcs.time" && buildDate == unknownStr:
			buildDate = setting.Value
		}
	}
	return commit, buildDate
}
