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

package common

import (
	"github.com/golang/glog"
	"github.com/google/gousb"
	"github.com/juju/errors"
)

// USBMatchFunc selects candidate devices by descriptor.
type USBMatchFunc func(dd *gousb.DeviceDesc) bool

// OpenUSBDevice opens the instance-th (zero-based, in bus order) USB device
// accepted by match. All other matching devices are closed.
// The returned error's cause is a gousb.Error when libusb reported one, so
// callers can tell access problems from absent devices.
func OpenUSBDevice(match USBMatchFunc, instance int) (*gousb.Context, *gousb.Device, error) {
	uctx := gousb.NewContext()
	devs, err := uctx.OpenDevices(func(dd *gousb.DeviceDesc) bool {
		result := match(dd)
		glog.V(1).Infof("Dev %+v match %t", dd, result)
		return result
	})
	// OpenDevices may fail overall but still return results. Only fail if no devices were returned.
	if err != nil && len(devs) == 0 {
		uctx.Close()
		return nil, nil, errors.Annotatef(err, "failed to enumerate USB devices")
	}
	var res *gousb.Device
	for i, dev := range devs {
		if i != instance {
			dev.Close()
			continue
		}
		glog.V(1).Infof("Dev %+v instance %d", dev, i)
		res = dev
	}
	if res == nil {
		uctx.Close()
		return nil, nil, errors.NotFoundf("USB device instance %d (%d matching)", instance, len(devs))
	}
	return uctx, res, nil
}
