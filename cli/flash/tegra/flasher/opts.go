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
	"time"

	"github.com/juju/errors"

	"github.com/mongoose-os/tegraflash/cli/flash/tegra"
	"github.com/mongoose-os/tegraflash/cli/flash/tegra/config"
	"github.com/mongoose-os/tegraflash/cli/flash/tegra/rcm"
	"github.com/mongoose-os/tegraflash/cli/flash/tegra/transport"
	"github.com/mongoose-os/tegraflash/common/multierror"
)

const (
	// Upper bound of the skip list.
	MaxSkipPartitions = 128

	// Verify list entry meaning "every partition with a file".
	VerifyAll = 0xFFFFFFFF
)

type Opts struct {
	Transport transport.Options
	// Directory for the per-device lock. Empty disables locking.
	StateDir string
	// Keep waiting for the device to appear.
	Wait         bool
	WaitInterval time.Duration
	// The device already runs the bootloader: skip RCM and the bootloader
	// download.
	Resume bool
	// Opens the recovery mode device. Defaults to USB.
	Opener transport.Opener

	// Miniloader image file. When empty, <exe dir>/miniloader/<chip>.bin
	// is used if present, else the built-in image.
	Miniloader string
	// Pre-signed RCM messages (secure mode).
	RCMFiles []string
	// Blob with pre-signed RCM messages and bootloader hash (secure mode).
	Blob *rcm.Blob

	Bootloader            string
	BootloaderLoadAddress uint32
	BootloaderEntryPoint  uint32

	Config *config.Config

	// Where create writes the planned layout, as YAML.
	LayoutFile string

	// BCT file, sent before the bootloader when SetBct is set, or used by
	// create on resume.
	Bct    string
	SetBct bool

	OdmData          uint32
	OdmDataSet       bool
	BootDevType      string
	BootDevConfig    uint32
	BootDevConfigSet bool

	Skip   []string
	Verify []string
}

// Secure reports whether RCM messages come pre-signed.
func (o *Opts) Secure() bool {
	return len(o.RCMFiles) > 0 || o.Blob != nil
}

func (o *Opts) skipped(name string) bool {
	for _, s := range o.Skip {
		if s == name {
			return true
		}
	}
	return false
}

// Validate checks option combinations. It runs before any wire traffic.
func (o *Opts) Validate(cmds []Command) error {
	var errs error
	bad := func(format string, args ...interface{}) {
		errs = multierror.Append(errs, errors.Errorf(format, args...))
	}
	has := map[Op]bool{}
	for _, c := range cmds {
		has[c.Op] = true
	}
	if has[OpCreate] {
		if !o.SetBct {
			bad("--setbct is required with --create")
		}
		if o.Config == nil {
			bad("--configfile is required with --create")
		} else if err := CheckPartitionTable(o.Config); err != nil {
			errs = multierror.Append(errs, err)
		}
	}
	if o.SetBct {
		if o.Bct == "" {
			bad("--bct is required with --setbct")
		}
		for _, op := range []Op{OpDownload, OpRead, OpFormatPartition, OpFormatAll} {
			if has[op] {
				bad("--setbct cannot be used with %s", op)
			}
		}
	}
	if o.Resume {
		if o.OdmDataSet {
			bad("--odmdata is not supported with --resume")
		}
		if o.BootDevType != "" || o.BootDevConfigSet {
			bad("--setboottype and --setbootdevconfig are not supported with --resume")
		}
	} else if len(cmds) > 0 && o.Bootloader == "" {
		bad("--bl is required unless resuming")
	}
	if o.BootDevType != "" {
		if _, err := parseBootDevType(o.BootDevType); err != nil {
			bad("%s", err)
		}
	}
	if o.Transport.Kind == tegra.TransportUSB && len(o.RCMFiles) > 0 && len(o.RCMFiles) != 2 {
		bad("--rcm takes exactly two files")
	}
	if len(o.Skip) > MaxSkipPartitions {
		bad("too many partitions to skip (%d, max %d)", len(o.Skip), MaxSkipPartitions)
	}
	if len(o.Verify) > 0 {
		if _, err := ValidateVerifyList(o.Config, o.Verify); err != nil {
			errs = multierror.Append(errs, err)
		}
	}
	if errs != nil {
		return tegra.WrapConfigurationError(errs)
	}
	return nil
}
