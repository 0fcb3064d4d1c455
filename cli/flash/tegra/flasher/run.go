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
	"context"
	"fmt"

	"github.com/golang/glog"
	"github.com/juju/errors"

	"github.com/mongoose-os/tegraflash/cli/flash/tegra"
	"github.com/mongoose-os/tegraflash/cli/flash/tegra/config"
	"github.com/mongoose-os/tegraflash/cli/flash/tegra/nv3p"
	"github.com/mongoose-os/tegraflash/cli/ourutil"
)

type Op int

const (
	OpCreate Op = iota
	OpDownload
	OpRead
	OpRawRead
	OpRawWrite
	OpGetBct
	OpGetBit
	OpDumpBit
	OpSetBoot
	OpFormatPartition
	OpFormatAll
	OpObliterate
	OpOdm
	OpSync
	OpGo
	OpGetPartitionTable
	OpUpdateBct
	OpSetBlHash
	OpNvPrivData
	OpSetTime
)

var opNames = map[Op]string{
	OpCreate:            "--create",
	OpDownload:          "--download",
	OpRead:              "--read",
	OpRawRead:           "--rawdeviceread",
	OpRawWrite:          "--rawdevicewrite",
	OpGetBct:            "--getbct",
	OpGetBit:            "--getbit",
	OpDumpBit:           "--dumpbit",
	OpSetBoot:           "--setboot",
	OpFormatPartition:   "--format_partition",
	OpFormatAll:         "--format_all",
	OpObliterate:        "--obliterate",
	OpOdm:               "--odm",
	OpSync:              "--sync",
	OpGo:                "--go",
	OpGetPartitionTable: "--getpartitiontable",
	OpUpdateBct:         "--updatebct",
	OpSetBlHash:         "--setblhash",
	OpNvPrivData:        "--nvprivdata",
	OpSetTime:           "--settime",
}

func (op Op) String() string {
	if n, ok := opNames[op]; ok {
		return n
	}
	return fmt.Sprintf("???(%d)", int(op))
}

// mutates reports whether op changes device state and needs a sync.
func (op Op) mutates() bool {
	switch op {
	case OpCreate, OpDownload, OpRawWrite, OpSetBoot, OpFormatPartition, OpFormatAll,
		OpObliterate, OpOdm, OpUpdateBct, OpSetBlHash, OpNvPrivData, OpSetTime:
		return true
	}
	return false
}

// Command is one operation of a flashing session.
type Command struct {
	Op Op
	// Partition id or name.
	Target string
	File   string
	// ODM command line or BCT section.
	Arg   string
	Start uint32
	Count uint32
}

func (c Command) String() string {
	s := c.Op.String()
	for _, a := range []string{c.Target, c.File, c.Arg} {
		if a != "" {
			s += " " + a
		}
	}
	return s
}

func (s *Session) exec(c Command) error {
	switch c.Op {
	case OpCreate:
		return s.CreatePartitions()
	case OpDownload:
		return s.Download(c.Target, c.File, 0)
	case OpRead:
		return s.Read(c.Target, c.File)
	case OpRawRead:
		return s.RawRead(c.Start, c.Count, c.File)
	case OpRawWrite:
		return s.RawWrite(c.Start, c.Count, c.File)
	case OpGetBct:
		return s.GetBct(c.File)
	case OpGetBit:
		return s.GetBit(c.File)
	case OpDumpBit:
		return s.DumpBit()
	case OpSetBoot:
		return s.SetBoot(c.Target)
	case OpFormatPartition:
		return s.FormatPartition(c.Target)
	case OpFormatAll:
		return s.FormatAll()
	case OpObliterate:
		return s.Obliterate()
	case OpOdm:
		return s.OdmCommand(c.Arg)
	case OpSync:
		return s.Sync()
	case OpGo:
		return s.Go()
	case OpGetPartitionTable:
		return s.GetPartitionTable(c.File, c.Start, c.Count)
	case OpUpdateBct:
		return s.UpdateBct(c.File, c.Arg)
	case OpSetBlHash:
		return s.SetBlHash(c.File, c.Start)
	case OpNvPrivData:
		return s.NvPrivData(c.File)
	case OpSetTime:
		return s.SetTime()
	}
	return errors.NotSupportedf("operation %s", c.Op)
}

// setup runs the steps that precede the bootloader download: BCT, ODM data
// and boot device settings, then the bootloader itself.
func (s *Session) setup() error {
	o := s.opts
	if o.SetBct {
		if err := s.SetBct(o.Bct); err != nil {
			return errors.Trace(err)
		}
	}
	if o.OdmDataSet {
		if err := s.SetOdmData(o.OdmData); err != nil {
			return errors.Trace(err)
		}
	}
	if o.BootDevType != "" {
		if err := s.SetBootDevType(o.BootDevType); err != nil {
			return errors.Trace(err)
		}
	}
	if o.BootDevConfigSet {
		if err := s.SetBootDevConfig(o.BootDevConfig); err != nil {
			return errors.Trace(err)
		}
	}
	return errors.Trace(s.Bootloader(o.Bootloader, o.BootloaderLoadAddress, o.BootloaderEntryPoint))
}

func (s *Session) finish() error {
	if err := s.Sync(); err != nil {
		return errors.Trace(err)
	}
	return errors.Trace(s.Verify())
}

// Run executes cmds in order. The bootloader is sent first unless resuming.
// A sync, followed by verification, concludes any command sequence that
// changed the device.
func (s *Session) Run(cmds []Command) error {
	if !s.opts.Resume && len(cmds) > 0 {
		if err := s.setup(); err != nil {
			return errors.Trace(s.failed("--bl", err, false))
		}
	}
	needSync, mutated := false, false
	for _, c := range cmds {
		if c.Op == OpGo && needSync {
			if err := s.finish(); err != nil {
				return errors.Trace(s.failed(OpSync.String(), err, false))
			}
			needSync = false
		}
		if err := s.exec(c); err != nil {
			return errors.Trace(s.failed(c.String(), err, mutated))
		}
		switch {
		case c.Op == OpGo:
			ourutil.Reportf("Device is booting")
			return nil
		case c.Op == OpSync:
			needSync = false
			if err := s.Verify(); err != nil {
				return errors.Trace(s.failed(c.String(), err, false))
			}
		case c.Op.mutates():
			needSync, mutated = true, true
		}
	}
	if needSync {
		if err := s.finish(); err != nil {
			return errors.Trace(s.failed(OpSync.String(), err, false))
		}
	}
	return nil
}

// failed collects what the bootloader can tell about a failed command.
func (s *Session) failed(what string, err error, mutated bool) error {
	glog.Errorf("%s: %+v", what, err)
	if nv3p.IsNack(err) {
		ourutil.Reportf("bootloader Nv3pStatus: %s", s.ch.LastNack())
		if werr := s.ch.WaitStatus(); werr != nil {
			ourutil.Reportf("%s", werr)
		}
	}
	if mutated && !tegra.IsTransport(err) {
		if serr := s.Sync(); serr != nil {
			ourutil.Reportf("%s", serr)
		}
	}
	return errors.Annotatef(err, "command failure: %s", what)
}

// Run validates opts, connects and executes cmds.
func Run(ctx context.Context, opts *Opts, cmds []Command) error {
	if err := opts.Validate(cmds); err != nil {
		return errors.Trace(err)
	}
	s, err := Connect(ctx, opts)
	if err != nil {
		return errors.Trace(err)
	}
	defer s.Close()
	return errors.Trace(s.Run(cmds))
}

// CheckPartitionTable returns an error unless the descriptor set has a
// partition table partition.
func CheckPartitionTable(cfg *config.Config) error {
	if cfg.PartitionByName(config.PartitionTableName) == nil {
		return tegra.NewConfigurationError("PT partition absent in the cfg file")
	}
	return nil
}
