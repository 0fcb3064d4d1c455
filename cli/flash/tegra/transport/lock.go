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
package transport

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/golang/glog"
	"github.com/juju/errors"
	flock "github.com/theckman/go-flock"
)

// Lock is an advisory, per-instance lock that keeps two flashing sessions
// from talking to the same device.
type Lock struct {
	fl *flock.Flock
}

func LockPath(dir string, opts *Options) string {
	name := fmt.Sprintf("lock-%s-%d", opts.Kind, opts.Instance)
	if opts.Port != "" {
		name = fmt.Sprintf("lock-%s-%s", opts.Kind, filepath.Base(opts.Port))
	}
	return filepath.Join(dir, name)
}

// AcquireLock takes the lock at path without blocking.
func AcquireLock(path string) (*Lock, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, errors.Trace(err)
	}
	fl := flock.NewFlock(path)
	locked, err := fl.TryLock()
	if err != nil {
		return nil, errors.Annotatef(err, "failed to lock %s", path)
	}
	if !locked {
		return nil, errors.Errorf("device is in use by another session (%s)", path)
	}
	glog.V(1).Infof("locked %s", path)
	return &Lock{fl: fl}, nil
}

func (l *Lock) Release() error {
	if l == nil || l.fl == nil {
		return nil
	}
	glog.V(1).Infof("unlocking %s", l.fl.Path())
	err := l.fl.Unlock()
	l.fl = nil
	return errors.Trace(err)
}
