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
package nv3p

import (
	"fmt"

	"github.com/juju/errors"
)

type Status uint32

const (
	StatusOk Status = iota
	StatusUnknown
	StatusNotImplemented
	StatusNotSupported
	StatusInvalidState
	StatusBadParameter
	StatusInvalidPartition
	StatusInvalidPartitionTable
	StatusInvalidBCT
	StatusInvalidBCTSize
	StatusInvalidDevice
	StatusMassStorageFailure
	StatusPartitionTableRequired
	StatusNotBootDevice
	StatusBctNotFound
	StatusBLValidationFailure
	StatusPartitionCreation
	StatusCryptoFailure
	StatusInvalidPartitionName
	StatusInvalidCmdAfterVerify
	StatusTooManyBootloaders
	StatusNoBootloader
	StatusPartitionNotFound
	StatusBootDevNotPresent
)

var statusDescs = map[Status]string{
	StatusOk:                     "success",
	StatusUnknown:                "unknown error",
	StatusNotImplemented:         "not implemented",
	StatusNotSupported:           "not supported",
	StatusInvalidState:           "invalid state",
	StatusBadParameter:           "bad parameter",
	StatusInvalidPartition:       "invalid partition",
	StatusInvalidPartitionTable:  "invalid partition table",
	StatusInvalidBCT:             "invalid bct",
	StatusInvalidBCTSize:         "invalid bct size",
	StatusInvalidDevice:          "invalid device",
	StatusMassStorageFailure:     "mass storage failure",
	StatusPartitionTableRequired: "partition table is required",
	StatusNotBootDevice:          "not a boot device",
	StatusBctNotFound:            "bct not found",
	StatusBLValidationFailure:    "bootloader validation failed",
	StatusPartitionCreation:      "partition creation failed",
	StatusCryptoFailure:          "crypto failure",
	StatusInvalidPartitionName:   "invalid partition name",
	StatusInvalidCmdAfterVerify:  "command not allowed after verify",
	StatusTooManyBootloaders:     "too many bootloaders",
	StatusNoBootloader:           "no bootloader",
	StatusPartitionNotFound:      "partition not found",
	StatusBootDevNotPresent:      "boot device not present",
}

func (s Status) String() string {
	if d, ok := statusDescs[s]; ok {
		return d
	}
	return fmt.Sprintf("unknown status %d", uint32(s))
}

// StatusError is a non-Ok status reported by the bootloader.
type StatusError struct {
	Code    Status
	Message string
	Flags   uint32
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("bootloader status: %s (code: %d) message: %s flags: %d",
		e.Code, uint32(e.Code), e.Message, e.Flags)
}

// NackError is a framing level rejection of one of our packets.
type NackError struct {
	Code NackCode
}

func (e *NackError) Error() string {
	return fmt.Sprintf("packet rejected by peer: %s", e.Code)
}

// StatusCode returns the bootloader status carried by err, if any.
func StatusCode(err error) (Status, bool) {
	if se, ok := errors.Cause(err).(*StatusError); ok {
		return se.Code, true
	}
	return StatusOk, false
}

func IsNack(err error) bool {
	_, ok := errors.Cause(err).(*NackError)
	return ok
}
