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
package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/golang/glog"
	"github.com/juju/errors"
	flag "github.com/spf13/pflag"

	"github.com/mongoose-os/tegraflash/cli/common/paths"
	"github.com/mongoose-os/tegraflash/cli/flags"
	"github.com/mongoose-os/tegraflash/cli/flash/tegra"
	"github.com/mongoose-os/tegraflash/cli/flash/tegra/config"
	"github.com/mongoose-os/tegraflash/cli/flash/tegra/flasher"
	"github.com/mongoose-os/tegraflash/cli/flash/tegra/rcm"
	"github.com/mongoose-os/tegraflash/cli/flash/tegra/transport"
	"github.com/mongoose-os/tegraflash/cli/ourutil"
)

var (
	// Operations in command line order.
	ops []flasher.Command

	opFlagNames []string

	// Flags that can be defaulted from the profile; flag name -> "section.key".
	profileKeys = map[string]string{
		"instance":   "device.instance",
		"transport":  "device.transport",
		"port":       "device.port",
		"bl":         "boot.bl",
		"bct":        "boot.bct",
		"odmdata":    "boot.odmdata",
		"miniloader": "boot.miniloader",
	}
)

// opFlag is an operation flag. Every occurrence appends a command to ops.
type opFlag struct {
	op     flasher.Op
	isBool bool
	// Parses the flag value into c.
	parse func(c *flasher.Command, args []string) error
	nargs [2]int
}

func (f *opFlag) String() string { return "" }

func (f *opFlag) Type() string {
	if f.isBool {
		return "bool"
	}
	return "string"
}

func (f *opFlag) Set(v string) error {
	c := flasher.Command{Op: f.op}
	if f.isBool {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return errors.Trace(err)
		}
		if !b {
			return nil
		}
	} else {
		args := strings.Split(v, ",")
		if len(args) < f.nargs[0] || len(args) > f.nargs[1] {
			return errors.Errorf("%s takes %d to %d comma separated values, got %d", f.op, f.nargs[0], f.nargs[1], len(args))
		}
		if err := f.parse(&c, args); err != nil {
			return errors.Annotatef(err, "%s", f.op)
		}
	}
	ops = append(ops, c)
	return nil
}

func parseSector(what, s string) (uint32, error) {
	v, err := strconv.ParseUint(s, 0, 32)
	if err != nil {
		return 0, errors.NotValidf("%s %q", what, s)
	}
	return uint32(v), nil
}

func targetAndFile(c *flasher.Command, args []string) error {
	c.Target, c.File = args[0], args[1]
	return nil
}

func fileOnly(c *flasher.Command, args []string) error {
	c.File = args[0]
	return nil
}

func targetOnly(c *flasher.Command, args []string) error {
	c.Target = args[0]
	return nil
}

func rawArgs(c *flasher.Command, args []string) error {
	var err error
	if c.Start, err = parseSector("start sector", args[0]); err != nil {
		return errors.Trace(err)
	}
	if c.Count, err = parseSector("sector count", args[1]); err != nil {
		return errors.Trace(err)
	}
	c.File = args[2]
	return nil
}

func partitionTableArgs(c *flasher.Command, args []string) error {
	c.File = args[0]
	if len(args) == 1 {
		return nil
	}
	if len(args) != 3 {
		return errors.Errorf("expected file or file,start,count")
	}
	var err error
	if c.Start, err = parseSector("start index", args[1]); err != nil {
		return errors.Trace(err)
	}
	c.Count, err = parseSector("count", args[2])
	return errors.Trace(err)
}

func updateBctArgs(c *flasher.Command, args []string) error {
	c.File, c.Arg = args[0], args[1]
	return nil
}

func blHashArgs(c *flasher.Command, args []string) error {
	c.File = args[0]
	if len(args) == 2 {
		var err error
		c.Start, err = parseSector("bootloader index", args[1])
		return errors.Trace(err)
	}
	return nil
}

func init() {
	for _, o := range []struct {
		name  string
		usage string
		f     *opFlag
	}{
		{"create", "Create partitions from --configfile and download their files", &opFlag{op: flasher.OpCreate, isBool: true}},
		{"download", "Download a file to a partition: <id|name>,<file>", &opFlag{op: flasher.OpDownload, parse: targetAndFile, nargs: [2]int{2, 2}}},
		{"read", "Read a partition to a file: <id|name>,<file>", &opFlag{op: flasher.OpRead, parse: targetAndFile, nargs: [2]int{2, 2}}},
		{"rawdeviceread", "Read sectors to a file: <start>,<count>,<file>", &opFlag{op: flasher.OpRawRead, parse: rawArgs, nargs: [2]int{3, 3}}},
		{"rawdevicewrite", "Write a file to sectors: <start>,<count>,<file>", &opFlag{op: flasher.OpRawWrite, parse: rawArgs, nargs: [2]int{3, 3}}},
		{"getbct", "Save the device BCT to a file", &opFlag{op: flasher.OpGetBct, parse: fileOnly, nargs: [2]int{1, 1}}},
		{"getbit", "Save the boot information table to a file", &opFlag{op: flasher.OpGetBit, parse: fileOnly, nargs: [2]int{1, 1}}},
		{"dumpbit", "Print the boot information table", &opFlag{op: flasher.OpDumpBit, isBool: true}},
		{"setboot", "Make a partition bootable: <id|name>", &opFlag{op: flasher.OpSetBoot, parse: targetOnly, nargs: [2]int{1, 1}}},
		{"format_partition", "Format a partition: <id|name>", &opFlag{op: flasher.OpFormatPartition, parse: targetOnly, nargs: [2]int{1, 1}}},
		{"format_all", "Format all partitions", &opFlag{op: flasher.OpFormatAll, isBool: true}},
		{"obliterate", "Erase all partitions except those given with --skip", &opFlag{op: flasher.OpObliterate, isBool: true}},
		{"odm", "Run an ODM command, e.g. \"verifysdram 0\"", &opFlag{op: flasher.OpOdm, parse: func(c *flasher.Command, args []string) error {
			c.Arg = strings.Join(args, ",")
			return nil
		}, nargs: [2]int{1, 1 << 10}}},
		{"sync", "Flush pending writes", &opFlag{op: flasher.OpSync, isBool: true}},
		{"go", "Boot the device and exit", &opFlag{op: flasher.OpGo, isBool: true}},
		{"getpartitiontable", "Save the device partition table: <file>[,<start>,<count>]", &opFlag{op: flasher.OpGetPartitionTable, parse: partitionTableArgs, nargs: [2]int{1, 3}}},
		{"updatebct", "Update a BCT section: <file>,<SDRAM|DEVPARAM|BOOTDEVINFO>", &opFlag{op: flasher.OpUpdateBct, parse: updateBctArgs, nargs: [2]int{2, 2}}},
		{"setblhash", "Send the bootloader hash: <file>[,<index>]", &opFlag{op: flasher.OpSetBlHash, parse: blHashArgs, nargs: [2]int{1, 2}}},
		{"nvprivdata", "Send the private data file", &opFlag{op: flasher.OpNvPrivData, parse: fileOnly, nargs: [2]int{1, 1}}},
		{"settime", "Set the device clock to the host time", &opFlag{op: flasher.OpSetTime, isBool: true}},
	} {
		flag.Var(o.f, o.name, o.usage)
		if o.f.isBool {
			flag.Lookup(o.name).NoOptDefVal = "true"
		}
		opFlagNames = append(opFlagNames, o.name)
	}
	for i := range commands {
		if commands[i].name == "flash" {
			commands[i].optional = append(commands[i].optional, opFlagNames...)
		}
	}
}

// applyProfile fills flags the user did not set from the defaults profile.
func applyProfile(fs *flag.FlagSet, p *config.Profile) error {
	for name, key := range profileKeys {
		f := fs.Lookup(name)
		if f == nil || f.Changed {
			continue
		}
		v, ok := p.Get(key)
		if !ok {
			continue
		}
		if err := fs.Set(name, v); err != nil {
			return tegra.NewConfigurationError("profile %s: invalid value %q for --%s: %s", key, v, name, err)
		}
		glog.V(1).Infof("--%s=%s from profile", name, v)
	}
	return nil
}

func loadProfile() error {
	if paths.ProfileFile == "" {
		return nil
	}
	p, err := config.LoadProfile(paths.ProfileFile)
	if err != nil {
		return errors.Trace(err)
	}
	return errors.Trace(applyProfile(flag.CommandLine, p))
}

func flashOpts() (*flasher.Opts, error) {
	tk, err := tegra.ParseTransportKind(*flags.Transport)
	if err != nil {
		return nil, errors.Trace(err)
	}
	entry, addr, err := flags.EntryAndAddress()
	if err != nil {
		return nil, errors.Trace(err)
	}
	opts := &flasher.Opts{
		Transport: transport.Options{
			Kind:     tk,
			Instance: *flags.Instance,
			Port:     *flags.Port,
			BaudRate: *flags.BaudRate,
		},
		StateDir:     paths.StateDir,
		Wait:         *flags.Wait,
		WaitInterval: *flags.WaitInterval,
		Resume:       *flags.Resume,

		Miniloader: *flags.Miniloader,
		RCMFiles:   *flags.RCM,

		Bootloader:            *flags.Bl,
		BootloaderLoadAddress: addr,
		BootloaderEntryPoint:  entry,

		LayoutFile: *flags.DumpLayout,

		Bct:    *flags.Bct,
		SetBct: *flags.SetBct,

		OdmData:          *flags.OdmData,
		OdmDataSet:       flag.Lookup("odmdata").Changed,
		BootDevType:      *flags.BootDevType,
		BootDevConfig:    *flags.BootDevConfig,
		BootDevConfigSet: flag.Lookup("setbootdevconfig").Changed,

		Skip:   *flags.Skip,
		Verify: *flags.VerifyPart,
	}
	if *flags.ConfigFile != "" {
		if opts.Config, err = config.Load(*flags.ConfigFile); err != nil {
			return nil, errors.Trace(err)
		}
	}
	if *flags.Blob != "" {
		if opts.Blob, err = rcm.ReadBlobFile(*flags.Blob); err != nil {
			return nil, errors.Trace(err)
		}
	}
	return opts, nil
}

// confirmDestructive asks before erasing the device, unless --yes is given.
func confirmDestructive(cmds []flasher.Command) error {
	if *flags.Yes {
		return nil
	}
	for _, c := range cmds {
		if c.Op != flasher.OpObliterate && c.Op != flasher.OpFormatAll {
			continue
		}
		ans := ourutil.Prompt(fmt.Sprintf("%s will erase the device. Continue? [y/N]", c.Op))
		if !strings.EqualFold(ans, "y") && !strings.EqualFold(ans, "yes") {
			return errors.Errorf("aborted")
		}
	}
	return nil
}

func flash(ctx context.Context) error {
	if len(ops) == 0 {
		return errors.Errorf("no operations given, see \"%s help flash\"", os.Args[0])
	}
	opts, err := flashOpts()
	if err != nil {
		return errors.Trace(err)
	}
	if err := confirmDestructive(ops); err != nil {
		return errors.Trace(err)
	}
	if err := flasher.Run(ctx, opts, ops); err != nil {
		return errors.Trace(err)
	}
	ourutil.Reportf("All done!")
	return nil
}
