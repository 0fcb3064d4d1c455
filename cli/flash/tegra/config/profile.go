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
package config

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/go-ini/ini"
	"github.com/golang/glog"
	"github.com/juju/errors"
)

const ProfileFileName = "defaults.ini"

// Profile holds per-user defaults for flags the user did not set.
type Profile struct {
	f *ini.File
}

// DefaultProfilePath is ~/.tegraflash/defaults.ini.
func DefaultProfilePath(stateDir string) string {
	return filepath.Join(stateDir, ProfileFileName)
}

// LoadProfile reads the profile. A missing file yields an empty profile.
func LoadProfile(fname string) (*Profile, error) {
	if _, err := os.Stat(fname); os.IsNotExist(err) {
		glog.V(1).Infof("no profile at %s", fname)
		return &Profile{f: ini.Empty()}, nil
	}
	f, err := ini.Load(fname)
	if err != nil {
		return nil, errors.Annotatef(err, "failed to load profile %s", fname)
	}
	return &Profile{f: f}, nil
}

// ParseProfile reads a profile from memory.
func ParseProfile(data []byte) (*Profile, error) {
	f, err := ini.Load(data)
	if err != nil {
		return nil, errors.Annotatef(err, "invalid profile")
	}
	return &Profile{f: f}, nil
}

// Get returns the value for a "section.key" path, and whether it is set.
func (p *Profile) Get(path string) (string, bool) {
	section, key := "", path
	if i := strings.LastIndex(path, "."); i >= 0 {
		section, key = path[:i], path[i+1:]
	}
	s, err := p.f.GetSection(section)
	if err != nil || !s.HasKey(key) {
		return "", false
	}
	return s.Key(key).String(), true
}

// Set stores a value under a "section.key" path.
func (p *Profile) Set(path, value string) {
	section, key := "", path
	if i := strings.LastIndex(path, "."); i >= 0 {
		section, key = path[:i], path[i+1:]
	}
	p.f.Section(section).Key(key).SetValue(value)
}

func (p *Profile) Save(fname string) error {
	if err := os.MkdirAll(filepath.Dir(fname), 0755); err != nil {
		return errors.Trace(err)
	}
	return errors.Trace(p.f.SaveTo(fname))
}
