package main

import (
	"bytes"
	"strings"
	"testing"

	flag "github.com/spf13/pflag"
	"github.com/stretchr/testify/require"

	"github.com/mongoose-os/tegraflash/cli/flash/tegra"
	"github.com/mongoose-os/tegraflash/cli/flash/tegra/config"
	"github.com/mongoose-os/tegraflash/cli/flash/tegra/flasher"
	"github.com/mongoose-os/tegraflash/cli/flash/tegra/layout"
	"github.com/mongoose-os/tegraflash/cli/flash/tegra/rcm"
)

func TestOpFlagsKeepOrder(t *testing.T) {
	defer func() { ops = nil }()
	ops = nil
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	dl := &opFlag{op: flasher.OpDownload, parse: targetAndFile, nargs: [2]int{2, 2}}
	sync := &opFlag{op: flasher.OpSync, isBool: true}
	raw := &opFlag{op: flasher.OpRawRead, parse: rawArgs, nargs: [2]int{3, 3}}
	fs.Var(dl, "download", "")
	fs.Var(sync, "sync", "")
	fs.Lookup("sync").NoOptDefVal = "true"
	fs.Var(raw, "rawdeviceread", "")

	err := fs.Parse([]string{
		"--download=APP,app.bin", "--sync", "--rawdeviceread=0x10,8,out.bin", "--download", "5,x.img",
	})
	require.NoError(t, err)
	require.Equal(t, []flasher.Command{
		{Op: flasher.OpDownload, Target: "APP", File: "app.bin"},
		{Op: flasher.OpSync},
		{Op: flasher.OpRawRead, Start: 16, Count: 8, File: "out.bin"},
		{Op: flasher.OpDownload, Target: "5", File: "x.img"},
	}, ops)
}

func TestOpFlagArgs(t *testing.T) {
	defer func() { ops = nil }()
	ptFlag := &opFlag{op: flasher.OpGetPartitionTable, parse: partitionTableArgs, nargs: [2]int{1, 3}}
	for _, c := range []struct {
		f    *opFlag
		v    string
		ok   bool
		want []flasher.Command
	}{
		{&opFlag{op: flasher.OpDownload, parse: targetAndFile, nargs: [2]int{2, 2}}, "APP", false, nil},
		{&opFlag{op: flasher.OpRawWrite, parse: rawArgs, nargs: [2]int{3, 3}}, "x,1,f", false, nil},
		{ptFlag, "pt.txt", true, []flasher.Command{{Op: flasher.OpGetPartitionTable, File: "pt.txt"}}},
		{ptFlag, "pt.txt,2", false, nil},
		{ptFlag, "pt.txt,2,3", true, []flasher.Command{{Op: flasher.OpGetPartitionTable, File: "pt.txt", Start: 2, Count: 3}}},
		{&opFlag{op: flasher.OpSetBlHash, parse: blHashArgs, nargs: [2]int{1, 2}}, "h.bin,1", true,
			[]flasher.Command{{Op: flasher.OpSetBlHash, File: "h.bin", Start: 1}}},
		{&opFlag{op: flasher.OpUpdateBct, parse: updateBctArgs, nargs: [2]int{2, 2}}, "b.bct,SDRAM", true,
			[]flasher.Command{{Op: flasher.OpUpdateBct, File: "b.bct", Arg: "SDRAM"}}},
		{&opFlag{op: flasher.OpGo, isBool: true}, "false", true, nil},
		{&opFlag{op: flasher.OpGo, isBool: true}, "true", true, []flasher.Command{{Op: flasher.OpGo}}},
	} {
		ops = nil
		err := c.f.Set(c.v)
		if c.ok != (err == nil) {
			t.Errorf("%s %q: unexpected error %v", c.f.op, c.v, err)
			continue
		}
		if c.ok {
			require.Equal(t, c.want, ops, "%s %q", c.f.op, c.v)
		}
	}
}

func TestApplyProfile(t *testing.T) {
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	instance := fs.Int("instance", 0, "")
	port := fs.String("port", "", "")
	bl := fs.String("bl", "", "")
	require.NoError(t, fs.Parse([]string{"--port=/dev/ttyUSB1"}))

	p, err := config.ParseProfile([]byte("[device]\ninstance = 2\nport = /dev/ttyUSB0\n[boot]\nbl = fastboot.bin\n"))
	require.NoError(t, err)
	require.NoError(t, applyProfile(fs, p))

	require.Equal(t, 2, *instance)
	require.Equal(t, "/dev/ttyUSB1", *port)
	require.Equal(t, "fastboot.bin", *bl)
	require.True(t, fs.Lookup("bl").Changed)

	p, err = config.ParseProfile([]byte("[device]\ninstance = two\n"))
	require.NoError(t, err)
	fs = flag.NewFlagSet("test", flag.ContinueOnError)
	fs.Int("instance", 0, "")
	err = applyProfile(fs, p)
	require.Error(t, err)
	require.True(t, tegra.IsConfiguration(err))
}

func TestPrintPlan(t *testing.T) {
	p := &layout.Plan{
		Table: layout.Table{
			{ID: 2, Name: "BCT", DeviceID: 18, StartSector: 0, NumSectors: 8, BytesPerSector: 512},
			{ID: 0, Name: layout.RemainingName, DeviceID: 18, StartSector: 8, NumSectors: 100, BytesPerSector: 512, Synthetic: true},
		},
		PT:               layout.Span{StartSector: 8, NumSectors: 8},
		TotalCardSectors: 1000,
	}
	buf := bytes.NewBuffer(nil)
	printPlan(buf, p)
	out := buf.String()
	require.Contains(t, out, "(remaining)")
	require.Contains(t, out, "Used 108 of 1000 sectors")
	require.Equal(t, 3, strings.Count(strings.SplitN(out, "Partition table", 2)[0], "\n"))
}

func TestPrintBlob(t *testing.T) {
	b := rcm.NewBlob(rcm.BuildBlob([]rcm.BlobRecord{
		{Type: rcm.BlobVersion, Data: []byte("v3.1\x00")},
		{Type: rcm.BlobRCM1, Data: make([]byte, 100)},
	}))
	buf := bytes.NewBuffer(nil)
	require.NoError(t, printBlob(buf, b))
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 3)
	require.Contains(t, lines[2], "100")

	require.Error(t, printBlob(buf, rcm.NewBlob([]byte{1, 2, 3})))
}
