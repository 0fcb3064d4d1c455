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
	"github.com/golang/glog"
	"github.com/juju/errors"

	"github.com/mongoose-os/tegraflash/cli/flash/tegra"
	"github.com/mongoose-os/tegraflash/cli/flash/tegra/nv3p"
	"github.com/mongoose-os/tegraflash/cli/flash/tegra/rcm"
	"github.com/mongoose-os/tegraflash/cli/ourutil"
)

// AlignBootloader pads data to a multiple of the hash block length. The
// first pad byte is 0x80, the rest are zero. With pad set, an image whose
// padded length is a multiple of pageSize gets one more block, again
// starting with 0x80.
func AlignBootloader(data []byte, pad bool, pageSize int) []byte {
	res := data
	if rem := len(res) % tegra.HashBlockLen; rem != 0 {
		block := make([]byte, tegra.HashBlockLen-rem)
		block[0] = 0x80
		res = append(res[:len(res):len(res)], block...)
	}
	if pad && pageSize > 0 && len(res)%pageSize == 0 {
		block := make([]byte, tegra.HashBlockLen)
		block[0] = 0x80
		res = append(res[:len(res):len(res)], block...)
	}
	if n := len(res) - len(data); n > 0 {
		glog.V(1).Infof("padded %d bytes to bootloader", n)
	}
	return res
}

func (s *Session) pagePad() bool {
	return s.variant != nil && s.variant.PagePadWorkaround
}

func (s *Session) blobHash() ([]byte, error) {
	if s.opts.Blob == nil {
		return make([]byte, tegra.HashBlockLen), nil
	}
	h, err := s.opts.Blob.Lookup(rcm.BlobBlHash)
	if err != nil {
		return nil, errors.Annotatef(err, "bootloader hash")
	}
	if len(h) < tegra.HashBlockLen {
		return nil, tegra.NewProtocolError("bootloader hash too short (%d bytes)", len(h))
	}
	return h[:tegra.HashBlockLen], nil
}

// Bootloader downloads and starts the bootloader. The device answers once
// the bootloader is running.
func (s *Session) Bootloader(fname string, loadAddr, entry uint32) error {
	data, err := readFile("bootloader", fname)
	if err != nil {
		return errors.Trace(err)
	}
	hash, err := s.blobHash()
	if err != nil {
		return errors.Trace(err)
	}
	data = AlignBootloader(data, s.pagePad(), tegra.BootROMPageSize)
	ourutil.Reportf("load address: 0x%x entry point: 0x%x", loadAddr, entry)
	ourutil.Reportf("Downloading bootloader %s (%d bytes)...", fname, len(data))
	a := nv3p.DownloadBootloaderArgs{Length: uint64(len(data)), Address: loadAddr, EntryPoint: entry}
	if err := s.ch.Send(nv3p.CmdDownloadBootloader, &a); err != nil {
		return errors.Annotatef(err, "failed to send bootloader")
	}
	if err := s.ch.DataSend(hash); err != nil {
		return errors.Annotatef(err, "failed to send bootloader hash")
	}
	if err := s.sendChunked(data); err != nil {
		return errors.Annotatef(err, "failed to send bootloader")
	}
	if err := s.ch.WaitStatus(); err != nil {
		return errors.Annotatef(err, "bootloader download failed")
	}
	ourutil.Reportf("Bootloader downloaded successfully")
	return nil
}

// SetBlHash sends the bootloader hash used to validate secure downloads.
func (s *Session) SetBlHash(fname string, index uint32) error {
	data, err := readFile("bootloader hash", fname)
	if err != nil {
		return errors.Trace(err)
	}
	return errors.Trace(s.setBlHash(data, index))
}

func (s *Session) setBlHash(data []byte, index uint32) error {
	a := nv3p.SetBlHashArgs{Length: uint32(len(data)), BlIndex: index}
	if err := s.sendWithData(nv3p.CmdSetBlHash, &a, data); err != nil {
		return errors.Annotatef(err, "failed to set bootloader hash")
	}
	s.blHashSent = true
	return nil
}

// NvPrivData sends the private data blob.
func (s *Session) NvPrivData(fname string) error {
	data, err := readFile("private data", fname)
	if err != nil {
		return errors.Trace(err)
	}
	return errors.Annotatef(
		s.sendWithData(nv3p.CmdNvPrivData, &nv3p.LengthArgs{Length: uint32(len(data))}, data),
		"failed to send private data")
}
