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
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseSemver(t *testing.T) {
	t.Parallel()

	cases := []struct {
		version  string
		expected string
	}{
		{"None", ""},
		{"", ""},
		{"v1.2.3", "1.2.3"},
		{"v1.2.3-dirty", "1.2.3"},
		{"v1.2.3-12-g3a4b5c6d", "1.2.3"},
		{"v1.3.0-alpha-12-g3a4b5c6d-dirty", "1.3.0-alpha"},
	}
	for _, c := range cases {
		require.Equal(t, c.expected, parseSemver(c.version), c.version)
	}
}

func TestGetRawInfo(t *testing.T) {
	t.Parallel()

	info := GetRawInfo()
	require.Contains(t, info, "Release Version: "+ReleaseVersion)
	require.Contains(t, info, "Git Commit Hash: "+GitHash)
	require.Equal(t, ReleaseVersion, GetInfo().ReleaseVersion)
}
