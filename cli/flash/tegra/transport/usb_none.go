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
//go:build no_libudev
// +build no_libudev

package transport

import (
	"github.com/juju/errors"
)

type USBOpener struct{}

func (o *USBOpener) OpenDevice(instance int) (Device, error) {
	return nil, errors.NotSupportedf("USB support is not compiled in")
}
