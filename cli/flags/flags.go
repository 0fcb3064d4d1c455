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
package flags

import (
	"strconv"
	"time"

	"github.com/juju/errors"
	flag "github.com/spf13/pflag"
)

var (
	Transport    = flag.String("transport", "usb", "Bootloader transport: usb or serial")
	Instance     = flag.Int("instance", 0, "USB device instance, in bus order")
	Port         = flag.String("port", "", "Serial port where the device is connected")
	BaudRate     = flag.Uint("baud-rate", 115200, "Serial port speed")
	Wait         = flag.Bool("wait", false, "Wait for the device to appear")
	WaitInterval = flag.Duration("wait-interval", 1*time.Second, "How often to look for the device when waiting")
	Resume       = flag.Bool("resume", false, "The device already runs the bootloader; skip RCM and the bootloader download")

	ConfigFile = flag.String("configfile", "", "Device descriptor file (YAML)")
	DumpLayout = flag.String("dump-layout", "", "Write the planned partition layout to this YAML file")
	Bl         = flag.String("bl", "", "Bootloader image")
	SetEntry   = flag.StringSlice("setentry", nil, "Bootloader entry point and load address, comma separated")
	Bct        = flag.String("bct", "", "BCT file")
	SetBct     = flag.Bool("setbct", false, "Send the BCT to the device before the bootloader")
	Miniloader = flag.String("miniloader", "", "Miniloader image file. Overrides the built-in image for the chip")
	RCM        = flag.StringSlice("rcm", nil, "Pre-signed RCM messages (secure mode): two files, comma separated")
	Blob       = flag.String("blob", "", "Blob with pre-signed RCM messages and the bootloader hash (secure mode)")

	OdmData       = flag.Uint32("odmdata", 0, "ODM data word to send before the bootloader")
	BootDevType   = flag.String("setboottype", "", "Boot device type: nand_x8, nand_x16, emmc or spi")
	BootDevConfig = flag.Uint32("setbootdevconfig", 0, "Boot device configuration word")

	Skip       = flag.StringSlice("skip", nil, "Partitions to preserve during create and obliterate. Can be used multiple times.")
	VerifyPart = flag.StringSlice("verifypart", nil, "Partitions to verify after download, by id or name, or \"all\". Can be used multiple times.")
	Yes        = flag.BoolP("yes", "y", false, "Do not ask for confirmation of destructive operations")

	// plan flags.
	BytesPerSector  = flag.Uint32("bytes-per-sector", 512, "Card sector size, for plan")
	SectorsPerBlock = flag.Uint32("sectors-per-block", 2048, "Card block size in sectors, for plan")
	TotalBlocks     = flag.Uint32("total-blocks", 0, "Card size in blocks, for plan")

	Verbose = flag.Bool("verbose", false, "Verbose output")
)

// EntryAndAddress returns the bootloader entry point and load address given
// with --setentry. Both are zero if it was not used.
func EntryAndAddress() (entry, addr uint32, err error) {
	if len(*SetEntry) == 0 {
		return 0, 0, nil
	}
	if len(*SetEntry) != 2 {
		return 0, 0, errors.Errorf("--setentry takes an entry point and a load address")
	}
	var v [2]uint64
	for i, s := range *SetEntry {
		if v[i], err = strconv.ParseUint(s, 0, 32); err != nil {
			return 0, 0, errors.NotValidf("--setentry value %q", s)
		}
	}
	return uint32(v[0]), uint32(v[1]), nil
}
