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
package tegra

import (
	"fmt"
	"strings"

	"github.com/juju/errors"

	"github.com/mongoose-os/tegraflash/common/multierror"
)

// TransportError is an open, read or write failure on the recovery or
// bootloader transport. It ends the session.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: %s", e.Op, e.Err)
}

func (e *TransportError) Underlying() error {
	return e.Err
}

func NewTransportError(op string, err error) error {
	return &TransportError{Op: op, Err: err}
}

// ProtocolError is a short or garbled response from the peer.
type ProtocolError struct {
	Msg string
}

func (e *ProtocolError) Error() string {
	return e.Msg
}

func NewProtocolError(format string, args ...interface{}) error {
	return &ProtocolError{Msg: fmt.Sprintf(format, args...)}
}

// ConfigurationError is raised for descriptor or option problems, normally
// before any wire traffic.
type ConfigurationError struct {
	Msg string
	Err error
}

func (e *ConfigurationError) Error() string {
	v := e.Violations()
	if len(v) == 1 {
		return v[0]
	}
	return fmt.Sprintf("%d problems:\n  %s", len(v), strings.Join(v, "\n  "))
}

func (e *ConfigurationError) Underlying() error {
	return e.Err
}

// Violations lists the individual problems, one line each. Nested
// configuration errors are expanded in place.
func (e *ConfigurationError) Violations() []string {
	if e.Err == nil {
		return []string{e.Msg}
	}
	var out []string
	for _, err := range multierror.Errors(e.Err) {
		if ce, ok := errors.Cause(err).(*ConfigurationError); ok {
			out = append(out, ce.Violations()...)
		} else {
			out = append(out, err.Error())
		}
	}
	if e.Msg != "" {
		for i := range out {
			out[i] = fmt.Sprintf("%s: %s", e.Msg, out[i])
		}
	}
	return out
}

func NewConfigurationError(format string, args ...interface{}) error {
	return &ConfigurationError{Msg: fmt.Sprintf(format, args...)}
}

func WrapConfigurationError(err error) error {
	if err == nil {
		return nil
	}
	return &ConfigurationError{Err: err}
}

func IsTransport(err error) bool {
	_, ok := errors.Cause(err).(*TransportError)
	return ok
}

func IsProtocol(err error) bool {
	_, ok := errors.Cause(err).(*ProtocolError)
	return ok
}

func IsConfiguration(err error) bool {
	_, ok := errors.Cause(err).(*ConfigurationError)
	return ok
}
