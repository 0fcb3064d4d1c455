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
package tegra

import (
	"fmt"
	"strings"

	"github.com/juju/errors"
)

type ChipType uint32

const (
	ChipAP15 ChipType = 0x15
	ChipAP16 ChipType = 0x16
	ChipAP20 ChipType = 0x20
	ChipT30  ChipType = 0x30
)

const (
	// NVIDIA USB vendor id; recovery mode devices enumerate with it.
	USBVendorID = 0x0955

	// Bootloader hash and image alignment unit (AES block).
	HashBlockLen = 16

	// Boot ROM reads the bootloader in pages of this size.
	BootROMPageSize = 512
)

func (ct ChipType) String() string {
	switch ct {
	case ChipAP15:
		return "ap15"
	case ChipAP16:
		return "ap16"
	case ChipAP20:
		return "ap20"
	case ChipT30:
		return "t30"
	default:
		return fmt.Sprintf("???(0x%x)", uint32(ct))
	}
}

// Variant describes chip family behavior that differs between SoC generations.
type Variant struct {
	Chip ChipType
	// Width of the unique id read back from the boot ROM, in bytes.
	UIDLen int
	// Entry point of the miniloader delivered over RCM. Zero if the chip
	// cannot be bootstrapped by this tool.
	MiniloaderEntry uint32
	// The boot ROM of these chips mishandles bootloaders whose length is an
	// exact multiple of BootROMPageSize.
	PagePadWorkaround bool
	// SKU to marketing name.
	Names map[uint32]string
}

var variants = []*Variant{
	{
		Chip:   ChipAP15,
		UIDLen: 16,
		Names:  map[uint32]string{0x0: "development", 0x1: "apx 2600", 0x6: "tegra 600", 0x7: "tegra 600", 0x8: "tegra 650"},
	},
	{
		Chip:   ChipAP16,
		UIDLen: 16,
		Names:  map[uint32]string{0x0: "development", 0x1: "apx 2600", 0x6: "tegra 600", 0x7: "tegra 600", 0x8: "tegra 650"},
	},
	{
		Chip:              ChipAP20,
		UIDLen:            8,
		MiniloaderEntry:   0x40008000,
		PagePadWorkaround: true,
		Names:             map[uint32]string{0x0: "development", 0x8: "ap20", 0x18: "t20"},
	},
	{
		Chip:              ChipT30,
		UIDLen:            8,
		MiniloaderEntry:   0x4000A000,
		PagePadWorkaround: true,
		Names:             map[uint32]string{0x0: "development"},
	},
}

// VariantFor returns the variant for the given chip id.
func VariantFor(ct ChipType) (*Variant, error) {
	for _, v := range variants {
		if v.Chip == ct {
			return v, nil
		}
	}
	return nil, errors.NotFoundf("UnKnown device found (chip id 0x%x)", uint32(ct))
}

// ChipName returns the marketing name of the chip. T30 parts report
// "development" regardless of SKU.
func (v *Variant) ChipName(sku uint32) string {
	if v.Chip == ChipT30 {
		return "development"
	}
	if n, ok := v.Names[sku]; ok {
		return n
	}
	return "unknown"
}

type TransportKind int

const (
	TransportUSB TransportKind = iota
	TransportSerial
)

func (tk TransportKind) String() string {
	switch tk {
	case TransportUSB:
		return "usb"
	case TransportSerial:
		return "serial"
	default:
		return fmt.Sprintf("???(%d)", int(tk))
	}
}

func ParseTransportKind(s string) (TransportKind, error) {
	switch strings.ToLower(s) {
	case "", "usb":
		return TransportUSB, nil
	case "serial", "uart":
		return TransportSerial, nil
	}
	return 0, errors.NotSupportedf("transport %q", s)
}

type OperatingMode uint32

const (
	ModeNvProduction        OperatingMode = 1
	ModeOdmProductionSecure OperatingMode = 2
)

func (m OperatingMode) String() string {
	switch m {
	case ModeNvProduction:
		return "NvProduction"
	case ModeOdmProductionSecure:
		return "OdmProductionSecure"
	default:
		return fmt.Sprintf("???(%d)", uint32(m))
	}
}
