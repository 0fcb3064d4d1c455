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
package flasher

import (
	"encoding/hex"
	"io/ioutil"
	"strings"

	"github.com/juju/errors"

	"github.com/mongoose-os/tegraflash/cli/flash/tegra/nv3p"
	"github.com/mongoose-os/tegraflash/cli/ourutil"
)

func readFile(what, fname string) ([]byte, error) {
	data, err := ioutil.ReadFile(fname)
	if err != nil {
		return nil, errors.Annotatef(err, "failed to read %s", what)
	}
	return data, nil
}

// sendWithData sends a command whose argument declares a length, followed by
// the data phase and the status.
func (s *Session) sendWithData(cmd nv3p.Command, arg interface{}, data []byte) error {
	if err := s.ch.Send(cmd, arg); err != nil {
		return errors.Trace(err)
	}
	if err := s.ch.DataSend(data); err != nil {
		return errors.Trace(err)
	}
	return errors.Annotatef(s.ch.WaitStatus(), "%s", cmd)
}

func (s *Session) SetBct(fname string) error {
	data, err := readFile("BCT", fname)
	if err != nil {
		return errors.Trace(err)
	}
	ourutil.Reportf("Sending BCT: %s", fname)
	if err := s.sendWithData(nv3p.CmdDownloadBct, &nv3p.LengthArgs{Length: uint32(len(data))}, data); err != nil {
		return errors.Annotatef(err, "failed to send BCT")
	}
	ourutil.Reportf("BCT sent successfully")
	return nil
}

func parseBctSection(s string) (nv3p.BctSection, error) {
	switch strings.ToUpper(s) {
	case "SDRAM":
		return nv3p.BctSectionSdram, nil
	case "DEVPARAM":
		return nv3p.BctSectionDevParam, nil
	case "BOOTDEVINFO":
		return nv3p.BctSectionBootDevInfo, nil
	}
	return 0, errors.NotValidf("BCT section %q (SDRAM, DEVPARAM or BOOTDEVINFO)", s)
}

// UpdateBct replaces one section of the BCT on the device.
func (s *Session) UpdateBct(fname, section string) error {
	sec, err := parseBctSection(section)
	if err != nil {
		return errors.Trace(err)
	}
	data, err := readFile("BCT", fname)
	if err != nil {
		return errors.Trace(err)
	}
	ourutil.Reportf("Updating BCT %s section from %s", strings.ToUpper(section), fname)
	return errors.Annotatef(
		s.sendWithData(nv3p.CmdUpdateBct, &nv3p.UpdateBctArgs{Length: uint32(len(data)), BctSection: sec}, data),
		"failed to update BCT")
}

func (s *Session) receiveTable(cmd nv3p.Command) ([]byte, error) {
	a := nv3p.LengthArgs{}
	if err := s.ch.Send(cmd, &a); err != nil {
		return nil, errors.Trace(err)
	}
	data := make([]byte, a.Length)
	if _, err := s.ch.DataReceive(data); err != nil {
		return nil, errors.Trace(err)
	}
	if err := s.ch.WaitStatus(); err != nil {
		return nil, errors.Annotatef(err, "%s", cmd)
	}
	return data, nil
}

func (s *Session) GetBct(out string) error {
	data, err := s.receiveTable(nv3p.CmdGetBct)
	if err != nil {
		return errors.Annotatef(err, "failed to get BCT")
	}
	if err := ioutil.WriteFile(out, data, 0644); err != nil {
		return errors.Trace(err)
	}
	ourutil.Reportf("BCT (%d bytes) saved to %s", len(data), out)
	return nil
}

func (s *Session) GetBit(out string) error {
	data, err := s.receiveTable(nv3p.CmdGetBit)
	if err != nil {
		return errors.Annotatef(err, "failed to get BIT")
	}
	if err := ioutil.WriteFile(out, data, 0644); err != nil {
		return errors.Trace(err)
	}
	ourutil.Reportf("BIT (%d bytes) saved to %s", len(data), out)
	return nil
}

// DumpBit prints a summary of the boot information table.
func (s *Session) DumpBit() error {
	data, err := s.receiveTable(nv3p.CmdGetBit)
	if err != nil {
		return errors.Annotatef(err, "failed to get BIT")
	}
	ourutil.Reportf("BIT: %d bytes", len(data))
	head := data
	if len(head) > 64 {
		head = head[:64]
	}
	ourutil.Reportf("%s", strings.TrimRight(hex.Dump(head), "\n"))
	return nil
}

func (s *Session) SetOdmData(v uint32) error {
	if err := s.ch.Send(nv3p.CmdOdmOptions, &nv3p.ValueArgs{Value: v}); err != nil {
		return errors.Trace(err)
	}
	if err := s.ch.WaitStatus(); err != nil {
		return errors.Annotatef(err, "failed to set ODM data")
	}
	ourutil.Reportf("ODM data set to 0x%x", v)
	return nil
}

func parseBootDevType(s string) (nv3p.BootDevType, error) {
	switch strings.ToLower(s) {
	case "nand_x8":
		return nv3p.BootDevTypeNandX8, nil
	case "nand_x16":
		return nv3p.BootDevTypeNandX16, nil
	case "emmc":
		return nv3p.BootDevTypeEmmc, nil
	case "spi":
		return nv3p.BootDevTypeSpi, nil
	}
	return 0, errors.NotValidf("boot device type %q (nand_x8, nand_x16, emmc or spi)", s)
}

func (s *Session) SetBootDevType(name string) error {
	bdt, err := parseBootDevType(name)
	if err != nil {
		return errors.Trace(err)
	}
	if err := s.ch.Send(nv3p.CmdSetBootDevType, &nv3p.ValueArgs{Value: uint32(bdt)}); err != nil {
		return errors.Trace(err)
	}
	return errors.Annotatef(s.ch.WaitStatus(), "failed to set boot device type")
}

func (s *Session) SetBootDevConfig(v uint32) error {
	if err := s.ch.Send(nv3p.CmdSetBootDevConfig, &nv3p.ValueArgs{Value: v}); err != nil {
		return errors.Trace(err)
	}
	return errors.Annotatef(s.ch.WaitStatus(), "failed to set boot device config")
}
