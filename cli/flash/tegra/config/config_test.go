package config

import (
	"io/ioutil"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/mongoose-os/tegraflash/cli/flash/tegra"
)

const testConfig = `
devices:
  - type: emmc
    instance: 3
    partitions:
      - {id: 2, name: BCT, type: bct, size: 3145728, allocation_policy: sequential, filesystem: basic}
      - {id: 3, name: PT, type: partition_table, size: 4096}
      - {id: 4, name: EBT, type: bootloader, size: 2097152, filename: bootloader.bin}
      - {id: 9, name: UDA, type: data, size: 104857600, allocation_attribute: 0x808, filename: /abs/data.img}
`

func TestParse(t *testing.T) {
	c, err := Parse([]byte(testConfig), "/cfg")
	if err != nil {
		t.Fatalf("Parse: %s", err)
	}
	if len(c.Devices) != 1 || c.NumPartitions() != 4 {
		t.Fatalf("got %d devices, %d partitions", len(c.Devices), c.NumPartitions())
	}
	d := c.Devices[0]
	if d.Type != DeviceEmmc || d.Instance != 3 {
		t.Errorf("device: got %s/%d", d.Type, d.Instance)
	}
	bct := c.PartitionByName("BCT")
	if bct == nil || bct.Type != PartitionTypeBct || bct.AllocationPolicy.String() != "sequential" || bct.FileSystem.String() != "basic" {
		t.Errorf("BCT: got %+v", bct)
	}
	ebt := c.PartitionByID(4)
	if ebt == nil || ebt.Filename != filepath.Join("/cfg", "bootloader.bin") || !ebt.Type.IsBootloader() {
		t.Errorf("EBT: got %+v", ebt)
	}
	uda := c.PartitionByName("UDA")
	if !uda.IsUDA() || uda.Filename != "/abs/data.img" {
		t.Errorf("UDA: got %+v", uda)
	}
	if c.PartitionByName("APP") != nil {
		t.Errorf("APP should not exist")
	}
}

func TestValidate(t *testing.T) {
	for i, c := range []struct {
		cfg  string
		want string
	}{
		{"devices: []", "no devices"},
		{`
devices:
  - type: emmc
    partitions:
      - {id: 2, name: BCT, type: bct, size: 1}
      - {id: 2, name: PT, type: partition_table, size: 1}
`, "duplicate partition id 2"},
		{`
devices:
  - type: emmc
    partitions:
      - {id: 2, name: BCT, type: bct, size: 1}
  - type: spi
    partitions:
      - {id: 3, name: BCT, type: bct, size: 1}
`, "BCT: duplicate partition name"},
		{`
devices:
  - type: emmc
    partitions:
      - {id: 2, name: BOOT, type: bct, size: 1}
`, "BOOT: name is too long (max 3)"},
		{`
devices:
  - type: nor
    partitions: []
`, "device type \"nor\" not valid"},
		{`
devices:
  - type: emmc
    partitions:
      - {id: 2, name: BCT, type: whatever, size: 1}
`, "partition type \"whatever\" not valid"},
		{`
devices:
  - type: emmc
    colour: red
`, "colour"},
	} {
		_, err := Parse([]byte(c.cfg), "")
		if err == nil {
			t.Errorf("%d: expected an error", i)
			continue
		}
		if !tegra.IsConfiguration(err) {
			t.Errorf("%d: expected a configuration error, got %T", i, err)
		}
		if !strings.Contains(err.Error(), c.want) {
			t.Errorf("%d: %q does not contain %q", i, err.Error(), c.want)
		}
	}
}

func TestLoad(t *testing.T) {
	dir, err := ioutil.TempDir("", "tegraflash")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(dir)
	fname := filepath.Join(dir, "flash.yaml")
	if err := ioutil.WriteFile(fname, []byte(testConfig), 0644); err != nil {
		t.Fatal(err)
	}
	c, err := Load(fname)
	if err != nil {
		t.Fatalf("Load: %s", err)
	}
	if got, want := c.PartitionByName("EBT").Filename, filepath.Join(dir, "bootloader.bin"); got != want {
		t.Errorf("got %q, want %q", got, want)
	}
	if _, err := Load(filepath.Join(dir, "nope.yaml")); err == nil {
		t.Errorf("expected an error for a missing file")
	}
}

func TestProfile(t *testing.T) {
	p, err := ParseProfile([]byte("[device]\ninstance = 2\ntransport = serial\n\n[boot]\nbl = fastboot.bin\n"))
	if err != nil {
		t.Fatalf("ParseProfile: %s", err)
	}
	for _, c := range []struct {
		path string
		want string
		ok   bool
	}{
		{"device.instance", "2", true},
		{"device.transport", "serial", true},
		{"boot.bl", "fastboot.bin", true},
		{"boot.bct", "", false},
		{"nosuch.key", "", false},
	} {
		got, ok := p.Get(c.path)
		if got != c.want || ok != c.ok {
			t.Errorf("%s: got %q %t, want %q %t", c.path, got, ok, c.want, c.ok)
		}
	}

	dir, err := ioutil.TempDir("", "tegraflash")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(dir)
	fname := DefaultProfilePath(filepath.Join(dir, "state"))
	empty, err := LoadProfile(fname)
	if err != nil {
		t.Fatalf("LoadProfile (missing): %s", err)
	}
	if _, ok := empty.Get("device.instance"); ok {
		t.Errorf("empty profile should have no values")
	}
	empty.Set("boot.odmdata", "0x300d8011")
	if err := empty.Save(fname); err != nil {
		t.Fatalf("Save: %s", err)
	}
	p2, err := LoadProfile(fname)
	if err != nil {
		t.Fatalf("LoadProfile: %s", err)
	}
	if got, _ := p2.Get("boot.odmdata"); got != "0x300d8011" {
		t.Errorf("got %q", got)
	}
}
