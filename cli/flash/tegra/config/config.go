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
package config

import (
	"fmt"
	"io/ioutil"
	"path/filepath"
	"strings"

	"github.com/juju/errors"
	yaml "gopkg.in/yaml.v2"

	"github.com/mongoose-os/tegraflash/cli/flash/tegra"
	"github.com/mongoose-os/tegraflash/cli/flash/tegra/nv3p"
	"github.com/mongoose-os/tegraflash/common/multierror"
)

const (
	// Allocation attribute of the catch-all user data area.
	AllocationAttributeUDA = 0x808

	// Name of the mandatory partition table partition.
	PartitionTableName = "PT"
)

type enumNames map[uint32]string

func (en enumNames) parse(kind, s string) (uint32, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for v, n := range en {
		if n == s {
			return v, nil
		}
	}
	return 0, errors.NotValidf("%s %q", kind, s)
}

func (en enumNames) name(v uint32) string {
	if n, ok := en[v]; ok {
		return n
	}
	return fmt.Sprintf("%d", v)
}

type DeviceType uint32

const (
	DeviceNand    DeviceType = DeviceType(nv3p.BootDeviceNand)
	DeviceEmmc    DeviceType = DeviceType(nv3p.BootDeviceEmmc)
	DeviceSpi     DeviceType = DeviceType(nv3p.BootDeviceSpi)
	DeviceIde     DeviceType = DeviceType(nv3p.BootDeviceIde)
	DeviceNandX16 DeviceType = DeviceType(nv3p.BootDeviceNandX16)
)

var deviceTypeNames = enumNames{
	uint32(DeviceNand):    "nand",
	uint32(DeviceEmmc):    "emmc",
	uint32(DeviceSpi):     "spi",
	uint32(DeviceIde):     "ide",
	uint32(DeviceNandX16): "nand_x16",
}

func (dt DeviceType) String() string { return deviceTypeNames.name(uint32(dt)) }

func (dt *DeviceType) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return errors.Trace(err)
	}
	v, err := deviceTypeNames.parse("device type", s)
	*dt = DeviceType(v)
	return err
}

func (dt DeviceType) MarshalYAML() (interface{}, error) { return dt.String(), nil }

type PartitionType uint32

const (
	PartitionTypeBct PartitionType = iota + 1
	PartitionTypeBootloader
	PartitionTypePartitionTable
	PartitionTypeNvData
	PartitionTypeData
	PartitionTypeMbr
	PartitionTypeEbr
	PartitionTypeGP1
	PartitionTypeGPT
	PartitionTypeBootloaderStage2
)

var partitionTypeNames = enumNames{
	uint32(PartitionTypeBct):              "bct",
	uint32(PartitionTypeBootloader):       "bootloader",
	uint32(PartitionTypePartitionTable):   "partition_table",
	uint32(PartitionTypeNvData):           "nvdata",
	uint32(PartitionTypeData):             "data",
	uint32(PartitionTypeMbr):              "mbr",
	uint32(PartitionTypeEbr):              "ebr",
	uint32(PartitionTypeGP1):              "gp1",
	uint32(PartitionTypeGPT):              "gpt",
	uint32(PartitionTypeBootloaderStage2): "bootloader_stage2",
}

func (pt PartitionType) String() string { return partitionTypeNames.name(uint32(pt)) }

func (pt *PartitionType) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return errors.Trace(err)
	}
	v, err := partitionTypeNames.parse("partition type", s)
	*pt = PartitionType(v)
	return err
}

func (pt PartitionType) MarshalYAML() (interface{}, error) { return pt.String(), nil }

// IsBootloader reports whether images of this type get the boot ROM padding.
func (pt PartitionType) IsBootloader() bool {
	return pt == PartitionTypeBootloader || pt == PartitionTypeBootloaderStage2
}

type FileSystem uint32

var fileSystemNames = enumNames{
	1: "basic",
	2: "yaffs2",
	3: "ext2",
	4: "ext3",
	5: "ext4",
	6: "qnx",
}

func (fs FileSystem) String() string { return fileSystemNames.name(uint32(fs)) }

func (fs *FileSystem) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return errors.Trace(err)
	}
	v, err := fileSystemNames.parse("filesystem", s)
	*fs = FileSystem(v)
	return err
}

func (fs FileSystem) MarshalYAML() (interface{}, error) { return fs.String(), nil }

type AllocationPolicy uint32

var allocationPolicyNames = enumNames{
	1: "absolute",
	2: "sequential",
}

func (ap AllocationPolicy) String() string { return allocationPolicyNames.name(uint32(ap)) }

func (ap *AllocationPolicy) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return errors.Trace(err)
	}
	v, err := allocationPolicyNames.parse("allocation policy", s)
	*ap = AllocationPolicy(v)
	return err
}

func (ap AllocationPolicy) MarshalYAML() (interface{}, error) { return ap.String(), nil }

type Partition struct {
	ID                  uint32           `yaml:"id"`
	Name                string           `yaml:"name"`
	Type                PartitionType    `yaml:"type"`
	Size                uint64           `yaml:"size"`
	StartLocation       uint64           `yaml:"start_location,omitempty"`
	FileSystem          FileSystem       `yaml:"filesystem,omitempty"`
	AllocationPolicy    AllocationPolicy `yaml:"allocation_policy,omitempty"`
	FileSystemAttribute uint32           `yaml:"filesystem_attribute,omitempty"`
	PartitionAttribute  uint32           `yaml:"partition_attribute,omitempty"`
	AllocationAttribute uint32           `yaml:"allocation_attribute,omitempty"`
	PercentReserved     uint32           `yaml:"percent_reserved,omitempty"`
	WriteProtect        bool             `yaml:"write_protect,omitempty"`
	Filename            string           `yaml:"filename,omitempty"`
}

func (p *Partition) IsUDA() bool {
	return p.AllocationAttribute == AllocationAttributeUDA
}

type Device struct {
	Type       DeviceType   `yaml:"type"`
	Instance   uint32       `yaml:"instance"`
	Partitions []*Partition `yaml:"partitions"`
}

type Config struct {
	Devices []*Device `yaml:"devices"`
}

// NumPartitions is the total across all devices.
func (c *Config) NumPartitions() int {
	n := 0
	for _, d := range c.Devices {
		n += len(d.Partitions)
	}
	return n
}

// Partitions returns all partitions in declared order.
func (c *Config) Partitions() []*Partition {
	var res []*Partition
	for _, d := range c.Devices {
		res = append(res, d.Partitions...)
	}
	return res
}

func (c *Config) PartitionByName(name string) *Partition {
	for _, p := range c.Partitions() {
		if p.Name == name {
			return p
		}
	}
	return nil
}

func (c *Config) PartitionByID(id uint32) *Partition {
	for _, p := range c.Partitions() {
		if p.ID == id {
			return p
		}
	}
	return nil
}

// Load reads a descriptor file. Relative filenames are resolved against the
// directory of the file.
func Load(fname string) (*Config, error) {
	data, err := ioutil.ReadFile(fname)
	if err != nil {
		return nil, errors.Annotatef(err, "failed to read config")
	}
	c, err := Parse(data, filepath.Dir(fname))
	if err != nil {
		return nil, errors.Annotatef(err, "%s", fname)
	}
	return c, nil
}

func Parse(data []byte, baseDir string) (*Config, error) {
	var c Config
	if err := yaml.UnmarshalStrict(data, &c); err != nil {
		return nil, tegra.WrapConfigurationError(errors.Annotatef(err, "invalid config"))
	}
	for _, p := range c.Partitions() {
		if p.Filename != "" && baseDir != "" && !filepath.IsAbs(p.Filename) {
			p.Filename = filepath.Join(baseDir, p.Filename)
		}
	}
	if err := c.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	return &c, nil
}

// Validate checks the invariants every later stage relies on.
func (c *Config) Validate() error {
	var errs error
	if len(c.Devices) == 0 {
		errs = multierror.Append(errs, errors.Errorf("no devices"))
	}
	names := map[string]bool{}
	for i, d := range c.Devices {
		if d.Type == 0 {
			errs = multierror.Append(errs, errors.Errorf("device %d: type is required", i))
		}
		ids := map[uint32]bool{}
		for _, p := range d.Partitions {
			if p.Name == "" {
				errs = multierror.Append(errs, errors.Errorf("device %d: partition %d has no name", i, p.ID))
				continue
			}
			if len(p.Name) > nv3p.PartitionNameLen-1 {
				errs = multierror.Append(errs, errors.Errorf("%s: name is too long (max %d)", p.Name, nv3p.PartitionNameLen-1))
			}
			if p.ID == 0 {
				errs = multierror.Append(errs, errors.Errorf("%s: id is required", p.Name))
			}
			if ids[p.ID] {
				errs = multierror.Append(errs, errors.Errorf("%s: duplicate partition id %d on device %d", p.Name, p.ID, i))
			}
			ids[p.ID] = true
			if names[p.Name] {
				errs = multierror.Append(errs, errors.Errorf("%s: duplicate partition name", p.Name))
			}
			names[p.Name] = true
			if p.Type == 0 {
				errs = multierror.Append(errs, errors.Errorf("%s: type is required", p.Name))
			}
		}
	}
	if errs != nil {
		return tegra.WrapConfigurationError(errs)
	}
	return nil
}
