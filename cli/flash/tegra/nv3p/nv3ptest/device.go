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

// Package nv3ptest provides an in-memory bootloader that speaks Nv3p, for
// testing host side code without hardware.
package nv3ptest

import (
	"bytes"
	"encoding/binary"
	"io"
	"net"
	"sync"

	"github.com/juju/errors"

	"github.com/mongoose-os/tegraflash/cli/flash/tegra/nv3p"
)

type partition struct {
	info nv3p.PartitionInfo
	typ  uint32
	data []byte
}

// Device is a scripted bootloader. Set the exported fields before Start;
// read them back after the host is done.
type Device struct {
	Platform nv3p.PlatformInfo
	DevInfo  nv3p.DevInfo
	BCT      []byte
	BIT      []byte

	// Status to answer DeleteAll with. Zero means Ok.
	DeleteAllStatus nv3p.Status
	// Commands to fail with the given status instead of executing.
	Fail map[nv3p.Command]nv3p.Status
	// Returned by VerifySdram, in MB.
	SdramMB uint32

	mu       sync.Mutex
	commands []nv3p.Command
	parts    []*partition
	pending  []*partition
	device   nv3p.SetDeviceArgs
	cursor   uint32
	blHash   []byte
	bl       []byte
	odm      uint32
	verify   map[uint32]bool
	verified []uint32
	formats  []uint32
	time     uint32
	raw      map[uint32][]byte
}

// AddPartition seeds the partition table as if a previous session had
// created it.
func (d *Device) AddPartition(id uint32, name string, deviceID, start, sectors uint32, typ uint32) {
	d.mu.Lock()
	defer d.mu.Unlock()
	p := &partition{typ: typ}
	p.info.PartID = id
	p.info.SetName(name)
	p.info.DeviceID = deviceID
	p.info.StartLogicalAddress = start
	p.info.NumLogicalSectors = sectors
	p.info.BytesPerSector = d.DevInfo.BytesPerSector
	d.parts = append(d.parts, p)
}

// Commands returns the commands received so far, in order.
func (d *Device) Commands() []nv3p.Command {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]nv3p.Command(nil), d.commands...)
}

// PartitionData returns what was downloaded to partition id.
func (d *Device) PartitionData(id uint32) []byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	if p := d.find(id); p != nil {
		return p.data
	}
	return nil
}

// Table returns the current partition table.
func (d *Device) Table() []nv3p.PartitionInfo {
	d.mu.Lock()
	defer d.mu.Unlock()
	var res []nv3p.PartitionInfo
	for _, p := range d.parts {
		res = append(res, p.info)
	}
	return res
}

func (d *Device) Bootloader() (hash, data []byte) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.blHash, d.bl
}

func (d *Device) Verified() []uint32 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]uint32(nil), d.verified...)
}

func (d *Device) Formatted() []uint32 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]uint32(nil), d.formats...)
}

func (d *Device) Time() uint32 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.time
}

func (d *Device) OdmData() uint32 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.odm
}

func (d *Device) find(id uint32) *partition {
	for _, p := range d.parts {
		if p.info.PartID == id {
			return p
		}
	}
	return nil
}

// Start serves the device on one end of an in-memory pipe and returns the
// other end. The returned channel yields the serve result once the host
// sends Go or closes the connection.
func Start(d *Device) (net.Conn, <-chan error) {
	host, dev := net.Pipe()
	done := make(chan error, 1)
	go func() {
		err := d.Serve(dev)
		dev.Close()
		done <- err
	}()
	return host, done
}

// Serve runs the command loop until Go or EOF.
func (d *Device) Serve(rw io.ReadWriter) error {
	ch := nv3p.NewChannel(rw)
	for {
		cmd, body, err := ch.Receive()
		if err != nil {
			if isEOF(err) {
				return nil
			}
			return errors.Trace(err)
		}
		d.mu.Lock()
		d.commands = append(d.commands, cmd)
		st, fail := d.Fail[cmd]
		d.mu.Unlock()
		if fail {
			if err := ch.SendStatus(st, "injected failure", 0); err != nil {
				return errors.Trace(err)
			}
			continue
		}
		if err := d.handle(ch, cmd, body); err != nil {
			return errors.Annotatef(err, "%s", cmd)
		}
		if cmd == nv3p.CmdGo {
			return nil
		}
	}
}

func isEOF(err error) bool {
	for err != nil {
		c := errors.Cause(err)
		if c == io.EOF || c == io.ErrClosedPipe {
			return true
		}
		u, ok := c.(interface{ Underlying() error })
		if !ok {
			return false
		}
		err = u.Underlying()
	}
	return false
}

func (d *Device) receive(ch *nv3p.Channel, n uint64) ([]byte, error) {
	buf := make([]byte, n)
	if _, err := ch.DataReceive(buf); err != nil {
		return nil, errors.Trace(err)
	}
	return buf, nil
}

func (d *Device) sizeMultiple() uint32 {
	return d.DevInfo.BytesPerSector * d.DevInfo.SectorsPerBlock
}

func (d *Device) handle(ch *nv3p.Channel, cmd nv3p.Command, body []byte) error {
	ok := func() error { return ch.SendStatus(nv3p.StatusOk, "", 0) }
	switch cmd {
	case nv3p.CmdGetPlatformInfo:
		if err := ch.Reply(cmd, &d.Platform); err != nil {
			return err
		}
		return ok()

	case nv3p.CmdGetDevInfo:
		if err := ch.Reply(cmd, &d.DevInfo); err != nil {
			return err
		}
		return ok()

	case nv3p.CmdDownloadBct:
		var a nv3p.LengthArgs
		nv3p.DecodeArgs(body, &a)
		data, err := d.receive(ch, uint64(a.Length))
		if err != nil {
			return err
		}
		d.mu.Lock()
		d.BCT = data
		d.mu.Unlock()
		return ok()

	case nv3p.CmdUpdateBct:
		var a nv3p.UpdateBctArgs
		nv3p.DecodeArgs(body, &a)
		if _, err := d.receive(ch, uint64(a.Length)); err != nil {
			return err
		}
		return ok()

	case nv3p.CmdGetBct, nv3p.CmdGetBit:
		data := d.BCT
		if cmd == nv3p.CmdGetBit {
			data = d.BIT
		}
		a := nv3p.LengthArgs{Length: uint32(len(data))}
		if err := ch.Reply(cmd, &a); err != nil {
			return err
		}
		if err := ch.DataSend(data); err != nil {
			return err
		}
		return ok()

	case nv3p.CmdOdmOptions:
		var a nv3p.ValueArgs
		nv3p.DecodeArgs(body, &a)
		d.mu.Lock()
		d.odm = a.Value
		d.mu.Unlock()
		return ok()

	case nv3p.CmdDownloadBootloader:
		var a nv3p.DownloadBootloaderArgs
		nv3p.DecodeArgs(body, &a)
		hash, err := d.receive(ch, 16)
		if err != nil {
			return err
		}
		data, err := d.receive(ch, a.Length)
		if err != nil {
			return err
		}
		d.mu.Lock()
		d.blHash, d.bl = hash, data
		d.mu.Unlock()
		return ok()

	case nv3p.CmdStartPartitionConfiguration:
		d.mu.Lock()
		d.pending = nil
		d.cursor = 0
		d.mu.Unlock()
		return ok()

	case nv3p.CmdSetDevice:
		d.mu.Lock()
		nv3p.DecodeArgs(body, &d.device)
		d.mu.Unlock()
		return ok()

	case nv3p.CmdDeleteAll:
		d.mu.Lock()
		st := d.DeleteAllStatus
		if st == nv3p.StatusOk {
			d.parts = nil
		}
		d.mu.Unlock()
		return ch.SendStatus(st, "", 0)

	case nv3p.CmdCreatePartition:
		var a nv3p.CreatePartitionArgs
		nv3p.DecodeArgs(body, &a)
		d.mu.Lock()
		sm := uint64(d.sizeMultiple())
		size := (a.Size + sm - 1) / sm * sm
		p := &partition{typ: a.Type}
		p.info.PartID = a.ID
		p.info.SetName(nv3p.String(a.Name[:]))
		p.info.DeviceID = d.device.Type
		p.info.StartLogicalAddress = d.cursor
		p.info.NumLogicalSectors = uint32(size / uint64(d.DevInfo.BytesPerSector))
		p.info.BytesPerSector = d.DevInfo.BytesPerSector
		d.cursor += p.info.NumLogicalSectors
		d.pending = append(d.pending, p)
		d.mu.Unlock()
		return ok()

	case nv3p.CmdEndPartitionConfiguration:
		d.mu.Lock()
		for _, np := range d.pending {
			if op := d.find(np.info.PartID); op != nil {
				// Partitions that survived keep their data.
				op.info = np.info
				op.typ = np.typ
			} else {
				d.parts = append(d.parts, np)
			}
		}
		d.pending = nil
		d.mu.Unlock()
		return ok()

	case nv3p.CmdFormatPartition:
		var a nv3p.PartitionIDArgs
		nv3p.DecodeArgs(body, &a)
		d.mu.Lock()
		d.formats = append(d.formats, a.ID)
		if p := d.find(a.ID); p != nil {
			p.data = nil
		}
		d.mu.Unlock()
		return ok()

	case nv3p.CmdFormatAll, nv3p.CmdObliterate:
		d.mu.Lock()
		for _, p := range d.parts {
			p.data = nil
		}
		d.mu.Unlock()
		return ok()

	case nv3p.CmdQueryPartition:
		var a nv3p.QueryPartitionArgs
		nv3p.DecodeArgs(body, &a)
		d.mu.Lock()
		p := d.find(a.ID)
		d.mu.Unlock()
		if p == nil {
			return ch.SendStatus(nv3p.StatusInvalidPartition, "", 0)
		}
		a.Size = uint64(p.info.NumLogicalSectors) * uint64(p.info.BytesPerSector)
		a.Address = uint64(p.info.StartLogicalAddress) * uint64(p.info.BytesPerSector)
		a.PartType = p.typ
		if err := ch.Reply(cmd, &a); err != nil {
			return err
		}
		return ok()

	case nv3p.CmdDownloadPartition:
		var a nv3p.DownloadPartitionArgs
		nv3p.DecodeArgs(body, &a)
		data, err := d.receive(ch, a.Length)
		if err != nil {
			return err
		}
		d.mu.Lock()
		p := d.find(a.ID)
		if p != nil {
			p.data = data
		}
		d.mu.Unlock()
		if p == nil {
			return ch.SendStatus(nv3p.StatusInvalidPartition, "", 0)
		}
		return ok()

	case nv3p.CmdReadPartition:
		var a nv3p.ReadPartitionArgs
		nv3p.DecodeArgs(body, &a)
		d.mu.Lock()
		p := d.find(a.ID)
		d.mu.Unlock()
		if p == nil {
			return ch.SendStatus(nv3p.StatusInvalidPartition, "", 0)
		}
		data := p.data
		if a.Offset < uint64(len(data)) {
			data = data[a.Offset:]
		} else {
			data = nil
		}
		a.Length = uint64(len(data))
		if err := ch.Reply(cmd, &a); err != nil {
			return err
		}
		if err := ch.DataSend(data); err != nil {
			return err
		}
		return ok()

	case nv3p.CmdReadPartitionTable:
		var a nv3p.ReadPartitionTableArgs
		nv3p.DecodeArgs(body, &a)
		d.mu.Lock()
		buf := bytes.NewBuffer(nil)
		for _, p := range d.parts {
			binary.Write(buf, binary.LittleEndian, &p.info)
		}
		d.mu.Unlock()
		if buf.Len() == 0 {
			return ch.SendStatus(nv3p.StatusPartitionTableRequired, "", 0)
		}
		a.Length = uint64(buf.Len())
		if err := ch.Reply(cmd, &a); err != nil {
			return err
		}
		if err := ch.DataSend(buf.Bytes()); err != nil {
			return err
		}
		return ok()

	case nv3p.CmdRawDeviceRead, nv3p.CmdRawDeviceWrite:
		var a nv3p.RawDeviceArgs
		nv3p.DecodeArgs(body, &a)
		a.NoOfBytes = uint64(a.NoOfSectors) * uint64(d.DevInfo.BytesPerSector)
		if err := ch.Reply(cmd, &a); err != nil {
			return err
		}
		d.mu.Lock()
		if d.raw == nil {
			d.raw = map[uint32][]byte{}
		}
		d.mu.Unlock()
		if cmd == nv3p.CmdRawDeviceRead {
			d.mu.Lock()
			data := d.raw[a.StartSector]
			d.mu.Unlock()
			out := make([]byte, a.NoOfBytes)
			copy(out, data)
			if err := ch.DataSend(out); err != nil {
				return err
			}
		} else {
			data, err := d.receive(ch, a.NoOfBytes)
			if err != nil {
				return err
			}
			d.mu.Lock()
			d.raw[a.StartSector] = data
			d.mu.Unlock()
		}
		return ok()

	case nv3p.CmdSetBlHash, nv3p.CmdNvPrivData:
		var a nv3p.LengthArgs
		nv3p.DecodeArgs(body, &a)
		if _, err := d.receive(ch, uint64(a.Length)); err != nil {
			return err
		}
		return ok()

	case nv3p.CmdOdmCommand:
		var a nv3p.OdmCommandArgs
		nv3p.DecodeArgs(body, &a)
		if a.Cmd == nv3p.OdmCmdVerifySdram {
			a.Data = d.SdramMB
		}
		if err := ch.Reply(cmd, &a); err != nil {
			return err
		}
		if a.Cmd == nv3p.OdmCmdFuelGaugeFwUpgrade {
			if _, err := d.receive(ch, a.Length1); err != nil {
				return err
			}
			if _, err := d.receive(ch, a.Length2); err != nil {
				return err
			}
		}
		return ok()

	case nv3p.CmdVerifyPartitionEnable:
		var a nv3p.PartitionIDArgs
		nv3p.DecodeArgs(body, &a)
		d.mu.Lock()
		if d.verify == nil {
			d.verify = map[uint32]bool{}
		}
		d.verify[a.ID] = true
		d.mu.Unlock()
		return ok()

	case nv3p.CmdVerifyPartition:
		var a nv3p.PartitionIDArgs
		nv3p.DecodeArgs(body, &a)
		d.mu.Lock()
		enabled := d.verify[a.ID]
		d.verified = append(d.verified, a.ID)
		d.mu.Unlock()
		if !enabled {
			return ch.SendStatus(nv3p.StatusInvalidState, "verification not enabled", 0)
		}
		return ok()

	case nv3p.CmdSetTime:
		var a nv3p.SetTimeArgs
		nv3p.DecodeArgs(body, &a)
		d.mu.Lock()
		d.time = a.Seconds
		d.mu.Unlock()
		return ok()

	default:
		// SetBootPartition, SetBootDevType, SetBootDevConfig, EndVerifyPartition, Sync, Go.
		return ok()
	}
}
