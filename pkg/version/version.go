// Copyright 2024 PingCAP, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// See the License for the specific language governing permissions and
// limitations under the License.

package version

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/coreos/go-semver/semver"
	"github.com/pingcap/log"
	"go.uber.org/zap"
)

// Version information, set by -ldflags at build time.
var (
	ReleaseVersion = "None"
	BuildTS        = "None"
	GitHash        = "None"
	GitBranch      = "None"
	GoVersion      = "None"
)

// versionHash matches the "-<commits>-g<hash>" suffix added by git describe.
var versionHash = regexp.MustCompile("-[0-9]+-g[0-9a-f]{7,}(-dev)?")

func removeVAndHash(v string) string {
	if v == "" {
		return v
	}
	v = versionHash.ReplaceAllLiteralString(v, "")
	v = strings.TrimSuffix(v, "-dirty")
	return strings.TrimPrefix(v, "v")
}

// ReleaseSemver returns a valid Semantic Versions or an empty if the
// ReleaseVersion is not set at compile time.
func ReleaseSemver() string {
	return parseSemver(ReleaseVersion)
}

func parseSemver(s string) string {
	v, err := semver.NewVersion(removeVAndHash(s))
	if err != nil {
		return ""
	}
	return v.String()
}

// Info is the version information of the binary.
type Info struct {
	ReleaseVersion string `json:"release_version"`
	GitHash        string `json:"git_hash"`
	GitBranch      string `json:"git_branch"`
	BuildTS        string `json:"utc_build_time"`
	GoVersion      string `json:"go_version"`
}

// GetInfo returns the version information.
func GetInfo() Info {
	return Info{
		ReleaseVersion: ReleaseVersion,
		GitHash:        GitHash,
		GitBranch:      GitBranch,
		BuildTS:        BuildTS,
		GoVersion:      GoVersion,
	}
}

// LogVersionInfo prints the version information.
func LogVersionInfo(app string) {
	log.Info("Welcome to "+app,
		zap.String("release-version", ReleaseVersion),
		zap.String("git-hash", GitHash),
		zap.String("git-branch", GitBranch),
		zap.String("utc-build-time", BuildTS),
		zap.String("go-version", GoVersion),
	)
}

// GetRawInfo returns basic version information string.
func GetRawInfo() string {
	var info string
	info += fmt.Sprintf("Release Version: %s\n", ReleaseVersion)
	info += fmt.Sprintf("Git Commit Hash: %s\n", GitHash)
	info += fmt.Sprintf("Git Branch: %s\n", GitBranch)
	info += fmt.Sprintf("UTC Build Time: %s\n", BuildTS)
	info += fmt.Sprintf("Go Version: %s\n", GoVersion)
	return info
}
