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

// Package bgtask runs one long operation on a worker goroutine while the
// caller polls for completion and renders progress.
package bgtask

import (
	"sync"
	"time"

	"github.com/golang/glog"
	"github.com/juju/errors"
)

const PollInterval = 100 * time.Millisecond

type ProgressFunc func(done, total int)

type Task struct {
	result chan error
	joined chan struct{}

	mu    sync.Mutex
	done  int
	total int

	finished bool
	err      error
}

// Start runs fn on a new goroutine. fn may report progress through the
// callback it is given.
func Start(fn func(progress ProgressFunc) error) *Task {
	t := &Task{
		result: make(chan error, 1),
		joined: make(chan struct{}),
	}
	go func() {
		defer close(t.joined)
		err := fn(t.setProgress)
		t.result <- err
	}()
	return t
}

func (t *Task) setProgress(done, total int) {
	t.mu.Lock()
	t.done, t.total = done, total
	t.mu.Unlock()
}

// Progress returns the last values reported by the worker.
func (t *Task) Progress() (done, total int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.done, t.total
}

// Poll waits up to timeout for the worker. Once it returns true, subsequent
// calls return the same result immediately.
func (t *Task) Poll(timeout time.Duration) (bool, error) {
	if t.finished {
		return true, t.err
	}
	select {
	case err := <-t.result:
		<-t.joined
		t.finished, t.err = true, err
		glog.V(2).Infof("task finished: %v", err)
		return true, errors.Trace(err)
	case <-time.After(timeout):
		return false, nil
	}
}

// Wait polls until the worker is done, calling spin between polls.
func (t *Task) Wait(spin func()) error {
	for {
		done, err := t.Poll(PollInterval)
		if done {
			return err
		}
		if spin != nil {
			spin()
		}
	}
}
