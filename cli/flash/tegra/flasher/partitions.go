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
	"bytes"
	"encoding/binary"
	"io/ioutil"
	"os"
	"strconv"
	"strings"

	"github.com/golang/glog"
	"github.com/juju/errors"
	"github.com/ulikunitz/xz"

	"github.com/mongoose-os/tegraflash/cli/flash/tegra"
	"github.com/mongoose-os/tegraflash/cli/flash/tegra/bgtask"
	"github.com/mongoose-os/tegraflash/cli/flash/tegra/config"
	"github.com/mongoose-os/tegraflash/cli/flash/tegra/layout"
	"github.com/mongoose-os/tegraflash/cli/flash/tegra/nv3p"
	"github.com/mongoose-os/tegraflash/cli/ourutil"
	"github.com/mongoose-os/tegraflash/common/ourio"
)

func (s *Session) spinner() *ourutil.Spinner {
	return ourutil.NewSpinner(os.Stderr)
}

// sendChunked streams data in MaxDataPacket pieces.
func (s *Session) sendChunked(data []byte) error {
	sp := s.spinner()
	var err error
	for len(data) > 0 && err == nil {
		n := len(data)
		if n > nv3p.MaxDataPacket {
			n = nv3p.MaxDataPacket
		}
		err = s.ch.DataSend(data[:n])
		data = data[n:]
		sp.Spin()
	}
	sp.Done(err)
	return errors.Trace(err)
}

func (s *Session) DevInfo() (nv3p.DevInfo, error) {
	var di nv3p.DevInfo
	if err := s.ch.Send(nv3p.CmdGetDevInfo, &di); err != nil {
		return di, errors.Trace(err)
	}
	if err := s.ch.WaitStatus(); err != nil {
		return di, errors.Annotatef(err, "failed to get device info")
	}
	glog.V(1).Infof("device info: %+v", di)
	return di, nil
}

func decodePartitionTable(data []byte) ([]nv3p.PartitionInfo, error) {
	if len(data)%nv3p.PartitionInfoLen != 0 {
		return nil, tegra.NewProtocolError("partition table length %d is not a multiple of %d", len(data), nv3p.PartitionInfoLen)
	}
	pis := make([]nv3p.PartitionInfo, len(data)/nv3p.PartitionInfoLen)
	if err := binary.Read(bytes.NewReader(data), binary.LittleEndian, pis); err != nil {
		return nil, errors.Trace(err)
	}
	return pis, nil
}

// ReadPartitionTable fetches the device table. A zero span requests the
// whole table, which is then cached for the session.
func (s *Session) ReadPartitionTable(span layout.Span) (layout.Table, error) {
	full := span == layout.Span{}
	if full && s.deviceTable != nil {
		return s.deviceTable, nil
	}
	a := nv3p.ReadPartitionTableArgs{StartLogicalSector: span.StartSector, NumLogicalSectors: span.NumSectors}
	if err := s.ch.Send(nv3p.CmdReadPartitionTable, &a); err != nil {
		return nil, errors.Annotatef(err, "failed to read partition table")
	}
	if a.Length > nv3p.MaxPartitions*nv3p.PartitionInfoLen {
		return nil, tegra.NewProtocolError("partition table too large (%d bytes)", a.Length)
	}
	data := make([]byte, a.Length)
	if _, err := s.ch.DataReceive(data); err != nil {
		return nil, errors.Trace(err)
	}
	if err := s.ch.WaitStatus(); err != nil {
		return nil, errors.Annotatef(err, "failed to read partition table")
	}
	pis, err := decodePartitionTable(data)
	if err != nil {
		return nil, errors.Trace(err)
	}
	t := layout.FromPartitionInfo(pis)
	if full {
		s.deviceTable = t
	}
	return t, nil
}

// resolve maps a partition id or name to its id.
func (s *Session) resolve(target string) (uint32, string, error) {
	if id, err := strconv.ParseUint(target, 10, 32); err == nil {
		return uint32(id), target, nil
	}
	t, err := s.ReadPartitionTable(layout.Span{})
	if err != nil {
		return 0, "", errors.Trace(err)
	}
	e := t.Find(target)
	if e == nil {
		return 0, "", errors.NotFoundf("partition %s", target)
	}
	return e.ID, e.Name, nil
}

func (s *Session) queryPartition(id uint32) (*nv3p.QueryPartitionArgs, error) {
	qp := &nv3p.QueryPartitionArgs{ID: id}
	if err := s.ch.Send(nv3p.CmdQueryPartition, qp); err != nil {
		return nil, errors.Annotatef(err, "failed to query partition %d", id)
	}
	if err := s.ch.WaitStatus(); err != nil {
		return nil, errors.Annotatef(err, "failed to query partition %d", id)
	}
	return qp, nil
}

// loadImage reads a source image, decompressing .xz files.
func loadImage(fname string) ([]byte, error) {
	data, err := readFile("image", fname)
	if err != nil {
		return nil, errors.Trace(err)
	}
	if !strings.HasSuffix(fname, ".xz") {
		return data, nil
	}
	r, err := xz.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, errors.Annotatef(err, "%s: invalid xz data", fname)
	}
	data, err = ioutil.ReadAll(r)
	if err != nil {
		return nil, errors.Annotatef(err, "%s: failed to decompress", fname)
	}
	glog.V(1).Infof("%s: %d bytes uncompressed", fname, len(data))
	return data, nil
}

// Download writes a file to a partition given by id or name. A zero maxSize
// means the partition size reported by the device.
func (s *Session) Download(target, fname string, maxSize uint64) error {
	id, name, err := s.resolve(target)
	if err != nil {
		return errors.Trace(err)
	}
	return errors.Trace(s.download(id, name, fname, maxSize))
}

func (s *Session) download(id uint32, name, fname string, maxSize uint64) error {
	qp, err := s.queryPartition(id)
	if err != nil {
		return errors.Trace(err)
	}
	if maxSize == 0 {
		maxSize = qp.Size
	}
	data, err := loadImage(fname)
	if err != nil {
		return errors.Trace(err)
	}
	if config.PartitionType(qp.PartType).IsBootloader() {
		data = AlignBootloader(data, s.pagePad(), tegra.BootROMPageSize)
	}
	if uint64(len(data)) > maxSize {
		return tegra.NewConfigurationError("%s is too large for partition %s (%d > %d)", fname, name, len(data), maxSize)
	}
	if config.PartitionType(qp.PartType).IsBootloader() && s.opts.Secure() && !s.blHashSent {
		if s.opts.Blob == nil {
			return tegra.NewConfigurationError("--setblhash is required before downloading %s in secure mode", name)
		}
		h, err := s.blobHash()
		if err != nil {
			return errors.Trace(err)
		}
		if err := s.setBlHash(h, 0); err != nil {
			return errors.Trace(err)
		}
	}
	if s.verifyRequested(id) {
		if err := s.enableVerify(id); err != nil {
			return errors.Trace(err)
		}
	}
	ourutil.Reportf("Sending file %s to partition %d (%s), %d bytes", fname, id, name, len(data))
	a := nv3p.DownloadPartitionArgs{ID: id, Length: uint64(len(data))}
	if err := s.ch.Send(nv3p.CmdDownloadPartition, &a); err != nil {
		return errors.Annotatef(err, "failed to download %s", name)
	}
	if err := s.sendChunked(data); err != nil {
		return errors.Annotatef(err, "failed to download %s", name)
	}
	if err := s.ch.WaitStatus(); err != nil {
		return errors.Annotatef(err, "failed to download %s", name)
	}
	return nil
}

// Read saves the contents of a partition to out.
func (s *Session) Read(target, out string) error {
	id, name, err := s.resolve(target)
	if err != nil {
		return errors.Trace(err)
	}
	a := nv3p.ReadPartitionArgs{ID: id}
	if err := s.ch.Send(nv3p.CmdReadPartition, &a); err != nil {
		return errors.Annotatef(err, "failed to read %s", name)
	}
	f, err := os.Create(out)
	if err != nil {
		return errors.Trace(err)
	}
	defer f.Close()
	ourutil.Reportf("Receiving partition %d (%s), %d bytes, to %s", id, name, a.Length, out)
	sp := s.spinner()
	buf := make([]byte, nv3p.MaxDataPacket)
	for remaining := a.Length; remaining > 0; {
		n := uint64(len(buf))
		if n > remaining {
			n = remaining
		}
		var got int
		got, err = s.ch.DataReceive(buf[:n])
		if err != nil {
			break
		}
		if _, err = f.Write(buf[:got]); err != nil {
			err = errors.Trace(err)
			break
		}
		remaining -= uint64(got)
		sp.Spin()
	}
	if err == nil && s.ch.Buffered() > 0 {
		err = tegra.NewProtocolError("%d bytes past the declared length", s.ch.Buffered())
	}
	sp.Done(err)
	if err != nil {
		return errors.Annotatef(err, "failed to read %s", name)
	}
	if err := s.ch.WaitStatus(); err != nil {
		return errors.Annotatef(err, "failed to read %s", name)
	}
	return errors.Trace(f.Close())
}

// RawRead saves sectors [start, start+count) of the device to out.
func (s *Session) RawRead(start, count uint32, out string) error {
	a := nv3p.RawDeviceArgs{StartSector: start, NoOfSectors: count}
	if err := s.ch.Send(nv3p.CmdRawDeviceRead, &a); err != nil {
		return errors.Annotatef(err, "raw read failed")
	}
	data := make([]byte, a.NoOfBytes)
	if _, err := s.ch.DataReceive(data); err != nil {
		return errors.Annotatef(err, "raw read failed")
	}
	if err := s.ch.WaitStatus(); err != nil {
		return errors.Annotatef(err, "raw read failed")
	}
	if err := ioutil.WriteFile(out, data, 0644); err != nil {
		return errors.Trace(err)
	}
	ourutil.Reportf("Read %d sectors (%d bytes) at %d to %s", count, len(data), start, out)
	return nil
}

// RawWrite writes a file to sectors [start, start+count). A short file is
// zero padded.
func (s *Session) RawWrite(start, count uint32, in string) error {
	data, err := readFile("image", in)
	if err != nil {
		return errors.Trace(err)
	}
	di, err := s.DevInfo()
	if err != nil {
		return errors.Trace(err)
	}
	if size := uint64(count) * uint64(di.BytesPerSector); uint64(len(data)) > size {
		return tegra.NewConfigurationError("%s is too large for %d sectors (%d > %d)", in, count, len(data), size)
	}
	a := nv3p.RawDeviceArgs{StartSector: start, NoOfSectors: count}
	if err := s.ch.Send(nv3p.CmdRawDeviceWrite, &a); err != nil {
		return errors.Annotatef(err, "raw write failed")
	}
	buf := make([]byte, a.NoOfBytes)
	copy(buf, data)
	if err := s.sendChunked(buf); err != nil {
		return errors.Annotatef(err, "raw write failed")
	}
	return errors.Annotatef(s.ch.WaitStatus(), "raw write failed")
}

// GetPartitionTable writes the device table, or count entries of it
// starting at start, in the text dump format.
func (s *Session) GetPartitionTable(out string, start, count uint32) error {
	t, err := s.ReadPartitionTable(layout.Span{})
	if err != nil {
		return errors.Trace(err)
	}
	if count > 0 {
		if uint64(start)+uint64(count) > uint64(len(t)) {
			return errors.NotFoundf("partitions %d-%d (device has %d)", start, start+count-1, len(t))
		}
		t = t[start : start+count]
	}
	if err := ioutil.WriteFile(out, []byte(t.Text()), 0644); err != nil {
		return errors.Trace(err)
	}
	ourutil.Reportf("Partition table (%d entries) saved to %s", len(t), out)
	return nil
}

func (s *Session) SetBoot(target string) error {
	id, name, err := s.resolve(target)
	if err != nil {
		return errors.Trace(err)
	}
	a := nv3p.SetBootPartitionArgs{ID: id, Version: 1}
	if err := s.ch.Send(nv3p.CmdSetBootPartition, &a); err != nil {
		return errors.Trace(err)
	}
	if err := s.ch.WaitStatus(); err != nil {
		return errors.Annotatef(err, "failed to make %s bootable", name)
	}
	ourutil.Reportf("Partition %d (%s) set as boot partition", id, name)
	return nil
}

// runTask runs fn in the background with a spinner and reports the outcome.
func (s *Session) runTask(what string, fn func(progress bgtask.ProgressFunc) error) error {
	ourutil.Reportf("%s...", what)
	sp := s.spinner()
	err := bgtask.Start(fn).Wait(sp.Spin)
	sp.Done(err)
	return errors.Annotatef(err, "%s", strings.ToLower(what))
}

func (s *Session) formatOne(id uint32) error {
	if err := s.ch.Send(nv3p.CmdFormatPartition, &nv3p.PartitionIDArgs{ID: id}); err != nil {
		return errors.Trace(err)
	}
	return errors.Annotatef(s.ch.WaitStatus(), "failed to format partition %d", id)
}

func (s *Session) formatSweep(ids []uint32) error {
	return s.runTask("Formatting partitions", func(progress bgtask.ProgressFunc) error {
		for i, id := range ids {
			if err := s.formatOne(id); err != nil {
				return errors.Trace(err)
			}
			progress(i+1, len(ids))
		}
		return nil
	})
}

func (s *Session) FormatAll() error {
	return s.runTask("Formatting all partitions", func(progress bgtask.ProgressFunc) error {
		if err := s.ch.Send(nv3p.CmdFormatAll, nil); err != nil {
			return errors.Trace(err)
		}
		return errors.Trace(s.ch.WaitStatus())
	})
}

func (s *Session) FormatPartition(target string) error {
	id, name, err := s.resolve(target)
	if err != nil {
		return errors.Trace(err)
	}
	return s.runTask("Formatting partition "+name, func(progress bgtask.ProgressFunc) error {
		return errors.Trace(s.formatOne(id))
	})
}

// unskipped returns the ids of device partitions not on the skip list.
func (s *Session) unskipped() ([]uint32, error) {
	t, err := s.ReadPartitionTable(layout.Span{})
	if err != nil {
		return nil, errors.Trace(err)
	}
	var ids []uint32
	for _, e := range t {
		if !s.opts.skipped(e.Name) {
			ids = append(ids, e.ID)
		}
	}
	return ids, nil
}

// Obliterate erases every partition except the skipped ones.
func (s *Session) Obliterate() error {
	if len(s.opts.Skip) == 0 {
		err := s.runTask("Obliterating", func(progress bgtask.ProgressFunc) error {
			if err := s.ch.Send(nv3p.CmdObliterate, nil); err != nil {
				return errors.Trace(err)
			}
			return errors.Trace(s.ch.WaitStatus())
		})
		if code, ok := nv3p.StatusCode(err); !ok || code != nv3p.StatusNotSupported {
			return errors.Trace(err)
		}
		glog.Infof("obliterate is not supported, formatting partitions one by one")
	}
	ids, err := s.unskipped()
	if err != nil {
		return errors.Trace(err)
	}
	return errors.Trace(s.formatSweep(ids))
}

// CreatePartitions lays out the devices from the descriptor set and
// downloads all partitions that have files.
func (s *Session) CreatePartitions() error {
	cfg := s.opts.Config
	if cfg == nil {
		return tegra.NewConfigurationError("--configfile is required with --create")
	}
	if s.opts.Resume && s.opts.SetBct {
		if err := s.SetBct(s.opts.Bct); err != nil {
			return errors.Trace(err)
		}
		if s.opts.OdmDataSet {
			if err := s.SetOdmData(s.opts.OdmData); err != nil {
				return errors.Trace(err)
			}
		}
	}
	if s.opts.LayoutFile != "" {
		if err := s.dumpLayout(s.opts.LayoutFile); err != nil {
			return errors.Trace(err)
		}
	}
	if len(s.opts.Skip) > 0 {
		if err := s.checkSkipped(); err != nil {
			return errors.Trace(err)
		}
		s.formatPartitionsNeeded = true
	}

	a := nv3p.StartPartitionConfigurationArgs{NumPartitions: uint32(cfg.NumPartitions())}
	if err := s.ch.Send(nv3p.CmdStartPartitionConfiguration, &a); err != nil {
		return errors.Trace(err)
	}
	if err := s.ch.WaitStatus(); err != nil {
		return errors.Annotatef(err, "failed to start partition configuration")
	}
	for _, d := range cfg.Devices {
		if err := s.setDevice(d); err != nil {
			return errors.Trace(err)
		}
		for _, p := range d.Partitions {
			if err := s.createPartition(p); err != nil {
				return errors.Trace(err)
			}
		}
	}
	if err := s.ch.Send(nv3p.CmdEndPartitionConfiguration, nil); err != nil {
		return errors.Trace(err)
	}
	if err := s.ch.WaitStatus(); err != nil {
		return errors.Annotatef(err, "failed to end partition configuration")
	}
	s.deviceTable = nil

	if s.formatPartitionsNeeded {
		var ids []uint32
		for _, p := range cfg.Partitions() {
			if !s.opts.skipped(p.Name) {
				ids = append(ids, p.ID)
			}
		}
		if err := s.formatSweep(ids); err != nil {
			return errors.Trace(err)
		}
	}

	for _, p := range cfg.Partitions() {
		if p.Filename == "" || p.Type == config.PartitionTypeBct || p.Type == config.PartitionTypePartitionTable {
			continue
		}
		if s.opts.skipped(p.Name) {
			ourutil.Reportf("Skipping %s", p.Name)
			continue
		}
		if err := s.download(p.ID, p.Name, p.Filename, p.Size); err != nil {
			return errors.Trace(err)
		}
	}
	return nil
}

// checkSkipped makes sure partitions we are asked to preserve would stay
// where they are.
func (s *Session) checkSkipped() error {
	plan, err := s.plan()
	if err != nil {
		return errors.Trace(err)
	}
	t, err := s.ReadPartitionTable(plan.PT)
	if err != nil {
		return errors.Trace(err)
	}
	warnings, err := layout.Reconcile(plan, t, s.opts.Skip)
	for _, w := range warnings {
		ourutil.Reportf("Warning: %s", w)
	}
	return errors.Trace(err)
}

// plan lays out the descriptor set on the connected card.
func (s *Session) plan() (*layout.Plan, error) {
	di, err := s.DevInfo()
	if err != nil {
		return nil, errors.Trace(err)
	}
	plan, err := layout.Compute(s.opts.Config.Devices, di)
	return plan, errors.Trace(err)
}

func (s *Session) dumpLayout(fname string) error {
	plan, err := s.plan()
	if err != nil {
		return errors.Trace(err)
	}
	res, err := ourio.WriteYAMLFileIfDifferent(fname, plan, 0644)
	if err != nil {
		return errors.Annotatef(err, "failed to write layout")
	}
	if res.Written() {
		ourutil.Reportf("Layout written to %s (%s)", fname, res)
	} else {
		ourutil.Reportf("Layout in %s is up to date", fname)
	}
	return nil
}

func (s *Session) setDevice(d *config.Device) error {
	if err := s.ch.Send(nv3p.CmdSetDevice, &nv3p.SetDeviceArgs{Type: uint32(d.Type), Instance: d.Instance}); err != nil {
		return errors.Trace(err)
	}
	if err := s.ch.WaitStatus(); err != nil {
		return errors.Annotatef(err, "failed to select %s device %d", d.Type, d.Instance)
	}
	if s.formatPartitionsNeeded {
		return nil
	}
	if err := s.ch.Send(nv3p.CmdDeleteAll, nil); err != nil {
		return errors.Trace(err)
	}
	err := s.ch.WaitStatus()
	if code, ok := nv3p.StatusCode(err); ok && code == nv3p.StatusNotSupported {
		glog.Infof("DeleteAll is not supported, partitions will be formatted one by one")
		s.formatPartitionsNeeded = true
		return nil
	}
	return errors.Annotatef(err, "failed to erase %s device %d", d.Type, d.Instance)
}

func (s *Session) createPartition(p *config.Partition) error {
	a := nv3p.CreatePartitionArgs{
		Size:                p.Size,
		Address:             p.StartLocation,
		ID:                  p.ID,
		Type:                uint32(p.Type),
		FileSystem:          uint32(p.FileSystem),
		AllocationPolicy:    uint32(p.AllocationPolicy),
		FileSystemAttribute: p.FileSystemAttribute,
		PartitionAttribute:  p.PartitionAttribute,
		AllocationAttribute: p.AllocationAttribute,
		PercentReserved:     p.PercentReserved,
	}
	a.SetName(p.Name)
	if p.WriteProtect {
		a.IsWriteProtected = 1
	}
	ourutil.Reportf("Creating partition: %s", p.Name)
	if err := s.ch.Send(nv3p.CmdCreatePartition, &a); err != nil {
		return errors.Trace(err)
	}
	return errors.Annotatef(s.ch.WaitStatus(), "failed to create partition %s", p.Name)
}
