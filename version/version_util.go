//
// Copyright (c) 2014-2019 Cesanta Software Limited
// All rights reserved
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
//
package version

// Version and BuildId live in version.go, which release builds regenerate.

import (
	"fmt"
	"regexp"
	"runtime"

	"github.com/mongoose-os/tegraflash/cli/ourutil"
)

const (
	LatestVersionName = "latest"
)

var (
	regexpVersionNumber = regexp.MustCompile(`^\d+\.[0-9.]*$`)
	regexpBuildIdDistr  = regexp.MustCompile(`^(?P<version>[^+]+)\+(?P<hash>[^~]+)\~(?P<distr>[^\d]+)\d+$`)
)

// GetVersion returns this binary's version, or "latest" if it's not a release build.
func GetVersion() string {
	if LooksLikeVersionNumber(Version) {
		return Version
	}
	return LatestVersionName
}

func LooksLikeVersionNumber(s string) bool {
	return regexpVersionNumber.MatchString(s)
}

// Returns whether the build id looks like the tool was built in some distro
// environment (like, ubuntu or brew).
func LooksLikeDistrBuildId(s string) bool {
	return GetDistrBuildIDParts(s) != nil
}

// GetDistrBuildIDParts splits a distro build id into version, hash and distr.
func GetDistrBuildIDParts(buildId string) map[string]string {
	return ourutil.FindNamedSubmatches(regexpBuildIdDistr, buildId)
}

func GetUserAgent() string {
	return fmt.Sprintf("tegraflash/%s %s (%s; %s)", Version, BuildId, runtime.GOOS, runtime.GOARCH)
}
