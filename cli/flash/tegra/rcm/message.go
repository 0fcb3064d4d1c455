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
package rcm

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io/ioutil"

	"github.com/juju/errors"

	"github.com/mongoose-os/tegraflash/cli/flash/tegra"
)

type Opcode uint32

const (
	OpcodeQueryRcmVersion Opcode = 1
	OpcodeDownloadExecute Opcode = 2
)

func (op Opcode) String() string {
	switch op {
	case OpcodeQueryRcmVersion:
		return "QueryRcmVersion"
	case OpcodeDownloadExecute:
		return "DownloadExecute"
	default:
		return fmt.Sprintf("???(%d)", uint32(op))
	}
}

type msgHeader struct {
	Length        uint32
	Opcode        uint32
	Mode          uint32
	EntryPoint    uint32
	PayloadLength uint32
	Reserved      [16]byte
}

const msgHeaderLen = 36

// BuildBootstrapMessage assembles an RCM message for production mode.
// The message is padded to a multiple of the hash block length and its
// length word covers the whole message, padding included.
func BuildBootstrapMessage(op Opcode, mode tegra.OperatingMode, entry uint32, payload []byte) []byte {
	total := msgHeaderLen + len(payload)
	if rem := total % tegra.HashBlockLen; rem != 0 {
		total += tegra.HashBlockLen - rem
	}
	hdr := msgHeader{
		Length:        uint32(total),
		Opcode:        uint32(op),
		Mode:          uint32(mode),
		EntryPoint:    entry,
		PayloadLength: uint32(len(payload)),
	}
	buf := bytes.NewBuffer(make([]byte, 0, total))
	binary.Write(buf, binary.LittleEndian, &hdr)
	buf.Write(payload)
	buf.Write(make([]byte, total-buf.Len()))
	return buf.Bytes()
}

// MessageSource supplies the two RCM messages of the handshake.
// Message 1 queries the RCM version, message 2 delivers the miniloader.
type MessageSource interface {
	Message(n int, v *tegra.Variant) ([]byte, error)
}

// ProductionMessages builds messages from a miniloader image.
type ProductionMessages struct {
	Mode       tegra.OperatingMode
	Miniloader func(v *tegra.Variant) ([]byte, error)
}

func (pm *ProductionMessages) Message(n int, v *tegra.Variant) ([]byte, error) {
	switch n {
	case 1:
		return BuildBootstrapMessage(OpcodeQueryRcmVersion, pm.Mode, 0, nil), nil
	case 2:
		if v.MiniloaderEntry == 0 {
			return nil, errors.NotSupportedf("UnKnown device found (%s)", v.Chip)
		}
		ml, err := pm.Miniloader(v)
		if err != nil {
			return nil, errors.Annotatef(err, "failed to load miniloader for %s", v.Chip)
		}
		return BuildBootstrapMessage(OpcodeDownloadExecute, pm.Mode, v.MiniloaderEntry, ml), nil
	}
	return nil, errors.Errorf("invalid RCM message number %d", n)
}

// SecureMessages returns pre-signed messages verbatim, either from files or
// from the RCM records of a blob.
type SecureMessages struct {
	Files []string
	Blob  *Blob
}

func (sm *SecureMessages) Message(n int, v *tegra.Variant) ([]byte, error) {
	if n != 1 && n != 2 {
		return nil, errors.Errorf("invalid RCM message number %d", n)
	}
	if sm.Blob != nil {
		bt := BlobRCM1
		if n == 2 {
			bt = BlobRCM2
		}
		data, err := sm.Blob.Lookup(bt)
		if err != nil {
			return nil, errors.Annotatef(err, "RCM message %d", n)
		}
		return data, nil
	}
	if len(sm.Files) < n || sm.Files[n-1] == "" {
		return nil, tegra.NewConfigurationError("RCM message %d file is required in secure mode", n)
	}
	data, err := ioutil.ReadFile(sm.Files[n-1])
	if err != nil {
		return nil, errors.Annotatef(err, "failed to read RCM message %d", n)
	}
	return data, nil
}
