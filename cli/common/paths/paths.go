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
package paths

import (
	"os"
	"path/filepath"
	"runtime"

	"github.com/juju/errors"
	flag "github.com/spf13/pflag"

	"github.com/mongoose-os/tegraflash/cli/flash/tegra/config"
)

var (
	StateDir    = ""
	ProfileFile = ""
)

func init() {
	flag.StringVar(&StateDir, "state-dir", "~/.tegraflash", "Directory for device locks and the defaults profile")
	flag.StringVar(&ProfileFile, "profile", "", "Defaults profile. Default is state_dir/"+config.ProfileFileName)
}

// Init() should be called after all flags are parsed
func Init() error {
	var err error
	StateDir, err = NormalizePath(StateDir)
	if err != nil {
		return errors.Trace(err)
	}

	ProfileFile, err = NormalizePath(ProfileFile)
	if err != nil {
		return errors.Trace(err)
	}
	if ProfileFile == "" && StateDir != "" {
		ProfileFile = config.DefaultProfilePath(StateDir)
	}

	if StateDir != "" {
		if err := os.MkdirAll(StateDir, 0777); err != nil {
			return errors.Trace(err)
		}
	}

	return nil
}

func NormalizePath(p string) (string, error) {
	var err error

	if p == "" {
		return "", nil
	}

	// Replace tilda with the actual path to home directory
	if p[0] == '~' {
		// Unfortunately user.Current() doesn't play nicely with static build, so
		// we have to get home directory from the environment
		homeEnvName := "HOME"
		if runtime.GOOS == "windows" {
			homeEnvName = "USERPROFILE"
		}
		p = os.Getenv(homeEnvName) + p[1:]
	}

	// Absolutize path
	p, err = filepath.Abs(p)
	if err != nil {
		return "", errors.Trace(err)
	}

	return p, nil
}
