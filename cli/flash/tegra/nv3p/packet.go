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
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/juju/errors"

	"github.com/mongoose-os/tegraflash/cli/flash/tegra"
)

const (
	ProtocolVersion = 1

	// Data phases are split into packets of at most this many bytes.
	MaxDataPacket = 64 * 1024

	// Largest argument record we are prepared to accept.
	maxArgsLen = 4096

	packetHeaderLen = 12
)

type PacketType uint32

const (
	PacketCommand PacketType = 1
	PacketData    PacketType = 2
	PacketAck     PacketType = 3
	PacketNack    PacketType = 4
)

func (pt PacketType) String() string {
	switch pt {
	case PacketCommand:
		return "Command"
	case PacketData:
		return "Data"
	case PacketAck:
		return "Ack"
	case PacketNack:
		return "Nack"
	default:
		return fmt.Sprintf("???(%d)", uint32(pt))
	}
}

type NackCode uint32

const (
	NackSuccess    NackCode = 0
	NackBadCommand NackCode = 1
	NackBadData    NackCode = 2
)

func (nc NackCode) String() string {
	switch nc {
	case NackSuccess:
		return "Success"
	case NackBadCommand:
		return "BadCommand"
	case NackBadData:
		return "BadData"
	default:
		return fmt.Sprintf("???(%d)", uint32(nc))
	}
}

type packetHeader struct {
	Version  uint32
	Type     uint32
	Sequence uint32
}

type packet struct {
	Type     PacketType
	Sequence uint32
	// Command id, for command packets.
	Command Command
	// Command arguments or data payload.
	Body []byte
	// For nack packets.
	Nack NackCode
}

// checksum returns the value that makes the byte sum of b plus the checksum
// wrap to zero.
func checksum(b []byte) uint32 {
	var sum uint32
	for _, c := range b {
		sum += uint32(c)
	}
	return ^sum + 1
}

func verifyChecksum(b []byte, cs uint32) bool {
	return checksum(b) == cs
}

func encodePacket(p *packet) []byte {
	buf := bytes.NewBuffer(nil)
	binary.Write(buf, binary.LittleEndian, &packetHeader{
		Version:  ProtocolVersion,
		Type:     uint32(p.Type),
		Sequence: p.Sequence,
	})
	switch p.Type {
	case PacketCommand:
		binary.Write(buf, binary.LittleEndian, uint32(len(p.Body)))
		binary.Write(buf, binary.LittleEndian, uint32(p.Command))
		buf.Write(p.Body)
	case PacketData:
		binary.Write(buf, binary.LittleEndian, uint32(len(p.Body)))
		buf.Write(p.Body)
	case PacketNack:
		binary.Write(buf, binary.LittleEndian, uint32(p.Nack))
		return buf.Bytes()
	case PacketAck:
		return buf.Bytes()
	}
	binary.Write(buf, binary.LittleEndian, checksum(buf.Bytes()))
	return buf.Bytes()
}

// errBadChecksum is returned by readPacket for an otherwise well-formed
// packet whose checksum does not match. The packet is still returned so the
// caller can nack it.
var errBadChecksum = errors.New("bad checksum")

func readPacket(r io.Reader) (*packet, error) {
	raw := bytes.NewBuffer(nil)
	tr := io.TeeReader(r, raw)
	var hdr packetHeader
	if err := binary.Read(tr, binary.LittleEndian, &hdr); err != nil {
		return nil, tegra.NewTransportError("nv3p read", err)
	}
	if hdr.Version != ProtocolVersion {
		return nil, tegra.NewProtocolError("unsupported packet version %d", hdr.Version)
	}
	p := &packet{Type: PacketType(hdr.Type), Sequence: hdr.Sequence}
	switch p.Type {
	case PacketAck:
		return p, nil
	case PacketNack:
		var code uint32
		if err := binary.Read(tr, binary.LittleEndian, &code); err != nil {
			return nil, tegra.NewTransportError("nv3p read", err)
		}
		p.Nack = NackCode(code)
		return p, nil
	case PacketCommand, PacketData:
	default:
		return nil, tegra.NewProtocolError("unknown packet type %d", hdr.Type)
	}
	var length uint32
	if err := binary.Read(tr, binary.LittleEndian, &length); err != nil {
		return nil, tegra.NewTransportError("nv3p read", err)
	}
	if p.Type == PacketCommand {
		if length > maxArgsLen {
			return nil, tegra.NewProtocolError("command args too long (%d)", length)
		}
		var cmd uint32
		if err := binary.Read(tr, binary.LittleEndian, &cmd); err != nil {
			return nil, tegra.NewTransportError("nv3p read", err)
		}
		p.Command = Command(cmd)
	} else if length > MaxDataPacket {
		return nil, tegra.NewProtocolError("data packet too long (%d)", length)
	}
	p.Body = make([]byte, length)
	if _, err := io.ReadFull(tr, p.Body); err != nil {
		return nil, tegra.NewTransportError("nv3p read", err)
	}
	var cs uint32
	if err := binary.Read(r, binary.LittleEndian, &cs); err != nil {
		return nil, tegra.NewTransportError("nv3p read", err)
	}
	if !verifyChecksum(raw.Bytes(), cs) {
		return p, errBadChecksum
	}
	return p, nil
}
