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
//go:build !no_libudev
// +build !no_libudev

package transport

import (
	"github.com/golang/glog"
	"github.com/google/gousb"
	"github.com/juju/errors"

	"github.com/mongoose-os/tegraflash/cli/flash/common"
	"github.com/mongoose-os/tegraflash/cli/flash/tegra"
)

const (
	usbConfig    = 1
	usbInterface = 0
	usbEndpoint  = 1
)

type USBOpener struct{}

type usbDevice struct {
	uctx *gousb.Context
	dev  *gousb.Device
	cfg  *gousb.Config
	intf *gousb.Interface
	in   *gousb.InEndpoint
	out  *gousb.OutEndpoint
	pid  uint16
}

func isRecoveryDevice(dd *gousb.DeviceDesc) bool {
	if dd.Vendor != tegra.USBVendorID {
		return false
	}
	_, err := tegra.VariantFor(tegra.ChipType(uint16(dd.Product) & 0xff))
	return err == nil
}

func (o *USBOpener) OpenDevice(instance int) (Device, error) {
	uctx, dev, err := common.OpenUSBDevice(isRecoveryDevice, instance)
	if err != nil {
		switch {
		case errors.IsNotFound(err):
			return nil, errors.Annotatef(ErrDeviceNotFound, "instance %d", instance)
		case errors.Cause(err) == gousb.ErrorAccess:
			return nil, errors.Annotatef(ErrAccessDenied, "instance %d", instance)
		}
		return nil, errors.Trace(err)
	}
	d := &usbDevice{uctx: uctx, dev: dev, pid: uint16(dev.Desc.Product)}
	if err := d.claim(); err != nil {
		d.Close()
		if errors.Cause(err) == gousb.ErrorAccess {
			return nil, errors.Annotatef(ErrAccessDenied, "instance %d", instance)
		}
		return nil, errors.Annotatef(err, "failed to claim interface")
	}
	glog.V(1).Infof("opened %s pid 0x%04x", dev, d.pid)
	return d, nil
}

func (d *usbDevice) claim() error {
	var err error
	d.dev.SetAutoDetach(true)
	if d.cfg, err = d.dev.Config(usbConfig); err != nil {
		return errors.Trace(err)
	}
	if d.intf, err = d.cfg.Interface(usbInterface, 0); err != nil {
		return errors.Trace(err)
	}
	if d.in, err = d.intf.InEndpoint(usbEndpoint); err != nil {
		return errors.Trace(err)
	}
	if d.out, err = d.intf.OutEndpoint(usbEndpoint); err != nil {
		return errors.Trace(err)
	}
	return nil
}

func (d *usbDevice) ProductID() uint16 {
	return d.pid
}

func (d *usbDevice) Read(buf []byte) (int, error) {
	n, err := d.in.Read(buf)
	glog.V(4).Infof("usb <- %d %v", n, err)
	return n, errors.Trace(err)
}

func (d *usbDevice) Write(buf []byte) (int, error) {
	n, err := d.out.Write(buf)
	glog.V(4).Infof("usb -> %d/%d %v", n, len(buf), err)
	return n, errors.Trace(err)
}

func (d *usbDevice) Close() error {
	if d.intf != nil {
		d.intf.Close()
		d.intf = nil
	}
	if d.cfg != nil {
		d.cfg.Close()
		d.cfg = nil
	}
	if d.dev != nil {
		d.dev.Close()
		d.dev = nil
	}
	if d.uctx != nil {
		d.uctx.Close()
		d.uctx = nil
	}
	return nil
}
