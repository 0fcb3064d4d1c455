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
	"io"

	"github.com/juju/errors"

	"github.com/mongoose-os/tegraflash/cli/flash/tegra"
)

var (
	ErrDeviceNotFound = errors.New("USB device not found")
	ErrAccessDenied   = errors.New("Permission Denied")
)

// Conn is an open channel to the device. Reads and writes block; timeouts,
// if any, are the transport's business.
type Conn interface {
	io.ReadWriteCloser
}

// Device is a connection to a recovery mode device that can report the
// product id it enumerated with.
type Device interface {
	Conn
	ProductID() uint16
}

// Opener opens recovery mode devices by instance number.
type Opener interface {
	OpenDevice(instance int) (Device, error)
}

type Options struct {
	Kind     tegra.TransportKind
	Instance int
	// Serial port name, for TransportSerial.
	Port     string
	BaudRate uint
}

// Open opens the bootloader side connection described by opts.
func Open(opts *Options) (Conn, error) {
	switch opts.Kind {
	case tegra.TransportUSB:
		d, err := (&USBOpener{}).OpenDevice(opts.Instance)
		if err != nil {
			return nil, errors.Trace(err)
		}
		return d, nil
	case tegra.TransportSerial:
		c, err := OpenSerial(opts.Port, opts.BaudRate)
		if err != nil {
			return nil, errors.Trace(err)
		}
		return c, nil
	}
	return nil, errors.NotSupportedf("transport %s", opts.Kind)
}

func rootCause(err error) error {
	c := errors.Cause(err)
	if te, ok := c.(*tegra.TransportError); ok {
		return rootCause(te.Err)
	}
	return c
}

// IsDeviceNotFound reports whether err means there was no device to open.
func IsDeviceNotFound(err error) bool {
	return rootCause(err) == ErrDeviceNotFound
}

// IsAccessDenied reports whether err means the device exists but could not be opened.
func IsAccessDenied(err error) bool {
	return rootCause(err) == ErrAccessDenied
}
