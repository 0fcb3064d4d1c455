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
package ourio

import (
	"bytes"
	"io/ioutil"
	"os"

	"github.com/juju/errors"
	yaml "gopkg.in/yaml.v2"
)

// WriteResult tells what a conditional write did to the file.
type WriteResult int

const (
	Unchanged WriteResult = iota
	Created
	Updated
)

func (r WriteResult) String() string {
	switch r {
	case Created:
		return "created"
	case Updated:
		return "updated"
	}
	return "unchanged"
}

// Written is true unless the file already had the same contents.
func (r WriteResult) Written() bool {
	return r != Unchanged
}

// WriteFileIfDifferent writes data to filename unless the file already holds
// exactly data.
func WriteFileIfDifferent(filename string, data []byte, perm os.FileMode) (WriteResult, error) {
	old, err := ioutil.ReadFile(filename)
	switch {
	case err == nil && bytes.Equal(old, data):
		return Unchanged, nil
	case err != nil && !os.IsNotExist(err):
		return Unchanged, errors.Annotatef(err, "failed to read %s", filename)
	}
	res := Updated
	if err != nil {
		res = Created
	}
	if err := ioutil.WriteFile(filename, data, perm); err != nil {
		return Unchanged, errors.Trace(err)
	}
	return res, nil
}

// WriteYAMLFileIfDifferent marshals v as YAML and writes it with
// WriteFileIfDifferent.
func WriteYAMLFileIfDifferent(filename string, v interface{}, perm os.FileMode) (WriteResult, error) {
	data, err := yaml.Marshal(v)
	if err != nil {
		return Unchanged, errors.Trace(err)
	}
	return WriteFileIfDifferent(filename, data, perm)
}
