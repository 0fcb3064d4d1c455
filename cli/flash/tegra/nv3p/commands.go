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
package nv3p

import (
	"bytes"
	"fmt"
)

type Command uint32

const (
	CmdGetPlatformInfo Command = iota + 1
	CmdGetDevInfo
	CmdStartPartitionConfiguration
	CmdEndPartitionConfiguration
	CmdSetDevice
	CmdDeleteAll
	CmdCreatePartition
	CmdFormatPartition
	CmdFormatAll
	CmdQueryPartition
	CmdDownloadPartition
	CmdReadPartition
	CmdReadPartitionTable
	CmdRawDeviceRead
	CmdRawDeviceWrite
	CmdDownloadBct
	CmdUpdateBct
	CmdGetBct
	CmdGetBit
	CmdSetBootPartition
	CmdOdmOptions
	CmdSetBootDevType
	CmdSetBootDevConfig
	CmdOdmCommand
	CmdDownloadBootloader
	CmdSetBlHash
	CmdNvPrivData
	CmdVerifyPartitionEnable
	CmdVerifyPartition
	CmdEndVerifyPartition
	CmdSync
	CmdGo
	CmdObliterate
	CmdSetTime
	CmdStatus
)

var commandNames = map[Command]string{
	CmdGetPlatformInfo:             "GetPlatformInfo",
	CmdGetDevInfo:                  "GetDevInfo",
	CmdStartPartitionConfiguration: "StartPartitionConfiguration",
	CmdEndPartitionConfiguration:   "EndPartitionConfiguration",
	CmdSetDevice:                   "SetDevice",
	CmdDeleteAll:                   "DeleteAll",
	CmdCreatePartition:             "CreatePartition",
	CmdFormatPartition:             "FormatPartition",
	CmdFormatAll:                   "FormatAll",
	CmdQueryPartition:              "QueryPartition",
	CmdDownloadPartition:           "DownloadPartition",
	CmdReadPartition:               "ReadPartition",
	CmdReadPartitionTable:          "ReadPartitionTable",
	CmdRawDeviceRead:               "RawDeviceRead",
	CmdRawDeviceWrite:              "RawDeviceWrite",
	CmdDownloadBct:                 "DownloadBct",
	CmdUpdateBct:                   "UpdateBct",
	CmdGetBct:                      "GetBct",
	CmdGetBit:                      "GetBit",
	CmdSetBootPartition:            "SetBootPartition",
	CmdOdmOptions:                  "OdmOptions",
	CmdSetBootDevType:              "SetBootDevType",
	CmdSetBootDevConfig:            "SetBootDevConfig",
	CmdOdmCommand:                  "OdmCommand",
	CmdDownloadBootloader:          "DownloadBootloader",
	CmdSetBlHash:                   "SetBlHash",
	CmdNvPrivData:                  "NvPrivData",
	CmdVerifyPartitionEnable:       "VerifyPartitionEnable",
	CmdVerifyPartition:             "VerifyPartition",
	CmdEndVerifyPartition:          "EndVerifyPartition",
	CmdSync:                        "Sync",
	CmdGo:                          "Go",
	CmdObliterate:                  "Obliterate",
	CmdSetTime:                     "SetTime",
	CmdStatus:                      "Status",
}

func (c Command) String() string {
	if n, ok := commandNames[c]; ok {
		return n
	}
	return fmt.Sprintf("???(%d)", uint32(c))
}

// Known reports whether c is a command this protocol version defines.
func (c Command) Known() bool {
	_, ok := commandNames[c]
	return ok
}

// HasInlineReply reports whether the peer answers c with a filled copy of
// the argument record before any data phase or status.
func (c Command) HasInlineReply() bool {
	switch c {
	case CmdGetPlatformInfo, CmdGetDevInfo, CmdQueryPartition, CmdReadPartition,
		CmdReadPartitionTable, CmdRawDeviceRead, CmdRawDeviceWrite, CmdGetBct,
		CmdGetBit, CmdOdmCommand:
		return true
	}
	return false
}

const (
	// Fixed string field width.
	StringMax = 32
	// Partition names on the wire, NUL included.
	PartitionNameLen = 4
	// The device reports at most this many partitions.
	MaxPartitions = 128
)

// String decodes a NUL-padded fixed string field.
func String(b []byte) string {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		b = b[:i]
	}
	return string(b)
}

func putString(dst []byte, s string) {
	n := copy(dst[:len(dst)-1], s)
	for i := n; i < len(dst); i++ {
		dst[i] = 0
	}
}

type ChipID struct {
	ID    uint16
	Major uint8
	Minor uint8
}

type DkStatus uint32

const (
	DkNotBurned DkStatus = 0
	DkBurned    DkStatus = 1
)

func (s DkStatus) String() string {
	switch s {
	case DkNotBurned:
		return "NotBurned"
	case DkBurned:
		return "Burned"
	default:
		return "unknown"
	}
}

type BootDevice uint32

const (
	BootDeviceNand    BootDevice = 1
	BootDeviceEmmc    BootDevice = 2
	BootDeviceSpi     BootDevice = 3
	BootDeviceIde     BootDevice = 4
	BootDeviceNandX16 BootDevice = 5
)

func (bd BootDevice) String() string {
	switch bd {
	case BootDeviceNand:
		return "nand"
	case BootDeviceEmmc:
		return "emmc"
	case BootDeviceSpi:
		return "spi"
	case BootDeviceIde:
		return "ide"
	case BootDeviceNandX16:
		return "nand_x16"
	default:
		return "unknown"
	}
}

type PlatformInfo struct {
	ChipUID           [2]uint64
	ChipID            ChipID
	ChipSku           uint32
	BootRomVersion    uint32
	BootDevice        BootDevice
	OperatingMode     uint32
	DeviceConfigStrap uint32
	DeviceConfigFuse  uint32
	SdramConfigStrap  uint32
	DkBurned          DkStatus
	SbkBurned         uint32
	JtagEnable        uint32
	HdmiEnable        uint32
	MacrovisionEnable uint32
}

type CmdStatusArgs struct {
	Code    Status
	Message [StringMax]byte
	Flags   uint32
}

type DevInfo struct {
	BytesPerSector  uint32
	SectorsPerBlock uint32
	TotalBlocks     uint32
}

type StartPartitionConfigurationArgs struct {
	NumPartitions uint32
}

type SetDeviceArgs struct {
	Type     uint32
	Instance uint32
}

type CreatePartitionArgs struct {
	Name                [StringMax]byte
	Size                uint64
	Address             uint64
	ID                  uint32
	Type                uint32
	FileSystem          uint32
	AllocationPolicy    uint32
	FileSystemAttribute uint32
	PartitionAttribute  uint32
	AllocationAttribute uint32
	PercentReserved     uint32
	IsWriteProtected    uint32
}

func (a *CreatePartitionArgs) SetName(name string) {
	putString(a.Name[:], name)
}

type PartitionIDArgs struct {
	ID uint32
}

type QueryPartitionArgs struct {
	ID       uint32
	Size     uint64
	Address  uint64
	PartType uint32
}

type DownloadPartitionArgs struct {
	ID     uint32
	Length uint64
}

type ReadPartitionArgs struct {
	ID     uint32
	Offset uint64
	Length uint64
}

// ReadPartitionTableArgs with a zero range requests the full table;
// a non-zero range tells the device where to load the table from.
type ReadPartitionTableArgs struct {
	StartLogicalSector uint32
	NumLogicalSectors  uint32
	Length             uint64
}

type RawDeviceArgs struct {
	StartSector uint32
	NoOfSectors uint32
	NoOfBytes   uint64
}

type LengthArgs struct {
	Length uint32
}

type BctSection uint32

const (
	BctSectionSdram       BctSection = 1
	BctSectionDevParam    BctSection = 2
	BctSectionBootDevInfo BctSection = 3
)

type UpdateBctArgs struct {
	Length     uint32
	BctSection BctSection
}

type SetBootPartitionArgs struct {
	ID          uint32
	LoadAddress uint32
	EntryPoint  uint32
	Version     uint32
	Slot        uint32
}

type ValueArgs struct {
	Value uint32
}

type BootDevType uint32

const (
	BootDevTypeNandX8  BootDevType = 1
	BootDevTypeNandX16 BootDevType = 2
	BootDevTypeEmmc    BootDevType = 3
	BootDevTypeSpi     BootDevType = 4
)

type OdmCmd uint32

const (
	OdmCmdFuelGaugeFwUpgrade OdmCmd = 1
	OdmCmdRunSdDiag          OdmCmd = 2
	OdmCmdVerifySdram        OdmCmd = 3
	OdmCmdRunSeDiag          OdmCmd = 4
	OdmCmdRunPwmDiag         OdmCmd = 5
	OdmCmdRunDsiDiag         OdmCmd = 6
)

// OdmCommandArgs is shared by all ODM commands; unused fields are zero.
// FuelGaugeFwUpgrade carries two file lengths, each followed by a data phase.
// VerifySdram returns the verified size in MB in Data.
type OdmCommandArgs struct {
	Cmd      OdmCmd
	Value    uint32
	TestType uint32
	Length1  uint64
	Length2  uint64
	Data     uint32
}

type DownloadBootloaderArgs struct {
	Length     uint64
	Address    uint32
	EntryPoint uint32
}

type SetBlHashArgs struct {
	Length  uint32
	BlIndex uint32
}

type SetTimeArgs struct {
	Seconds      uint32
	Milliseconds uint32
}

// PartitionInfo is one record of the ReadPartitionTable data phase.
type PartitionInfo struct {
	PartID               uint32
	PartName             [PartitionNameLen]byte
	DeviceID             uint32
	StartLogicalAddress  uint32
	NumLogicalSectors    uint32
	BytesPerSector       uint32
	StartPhysicalAddress uint32
	EndPhysicalAddress   uint32
}

const PartitionInfoLen = 32

func (pi *PartitionInfo) Name() string {
	return String(pi.PartName[:])
}

func (pi *PartitionInfo) SetName(name string) {
	putString(pi.PartName[:], name)
}
