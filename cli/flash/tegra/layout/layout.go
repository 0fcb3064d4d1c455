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

// Package layout computes the partition table a device should end up with
// and checks it against what the device reports.
package layout

import (
	"bytes"
	"fmt"

	"github.com/golang/glog"
	"github.com/juju/errors"

	"github.com/mongoose-os/tegraflash/cli/flash/tegra"
	"github.com/mongoose-os/tegraflash/cli/flash/tegra/config"
	"github.com/mongoose-os/tegraflash/cli/flash/tegra/nv3p"
)

// RemainingName names the slot synthesized in front of the user data area.
const RemainingName = "remaining"

type Entry struct {
	ID             uint32 `yaml:"id"`
	Name           string `yaml:"name"`
	DeviceID       uint32 `yaml:"device_id"`
	StartSector    uint32 `yaml:"start_sector"`
	NumSectors     uint32 `yaml:"num_sectors"`
	BytesPerSector uint32 `yaml:"bytes_per_sector"`
	Synthetic      bool   `yaml:"synthetic,omitempty"`
}

type Table []Entry

// Find returns the first non-synthetic entry with the given name.
func (t Table) Find(name string) *Entry {
	for i := range t {
		if !t[i].Synthetic && t[i].Name == name {
			return &t[i]
		}
	}
	return nil
}

// TotalSectors is the sum of all entry sizes.
func (t Table) TotalSectors() uint64 {
	var n uint64
	for _, e := range t {
		n += uint64(e.NumSectors)
	}
	return n
}

// Text renders the table in the partition table dump format.
func (t Table) Text() string {
	buf := bytes.NewBuffer(nil)
	for _, e := range t {
		fmt.Fprintf(buf, "PartitionId=%d\r\nName=%s\r\nDeviceId=%d\r\nStartSector=%d\r\nNumSectors=%d\r\nBytesPerSector=%d\r\n\r\n\r\n",
			e.ID, e.Name, e.DeviceID, e.StartSector, e.NumSectors, e.BytesPerSector)
	}
	return buf.String()
}

// FromPartitionInfo converts records received from the device.
func FromPartitionInfo(pis []nv3p.PartitionInfo) Table {
	t := make(Table, 0, len(pis))
	for i := range pis {
		pi := &pis[i]
		t = append(t, Entry{
			ID:             pi.PartID,
			Name:           pi.Name(),
			DeviceID:       pi.DeviceID,
			StartSector:    pi.StartLogicalAddress,
			NumSectors:     pi.NumLogicalSectors,
			BytesPerSector: pi.BytesPerSector,
		})
	}
	return t
}

// Span is a (start, length) pair in logical sectors.
type Span struct {
	StartSector uint32 `yaml:"start_sector"`
	NumSectors  uint32 `yaml:"num_sectors"`
}

type Plan struct {
	Table            Table  `yaml:"table"`
	PT               Span   `yaml:"pt"`
	TotalCardSectors uint64 `yaml:"total_card_sectors"`
	SizeMultiple     uint64 `yaml:"size_multiple"`
}

func roundUp(n, m uint64) uint64 {
	if m == 0 {
		return n
	}
	return (n + m - 1) / m * m
}

// Compute lays out devices on a card described by di. The result depends on
// the arguments only.
func Compute(devices []*config.Device, di nv3p.DevInfo) (*Plan, error) {
	if di.BytesPerSector == 0 {
		return nil, tegra.NewConfigurationError("device reports zero bytes per sector")
	}
	plan := &Plan{
		SizeMultiple:     uint64(di.BytesPerSector) * uint64(di.SectorsPerBlock),
		TotalCardSectors: uint64(di.SectorsPerBlock) * uint64(di.TotalBlocks),
	}
	bps := uint64(di.BytesPerSector)
	var cursor uint64
	havePT := false
	for _, d := range devices {
		for _, p := range d.Partitions {
			sectors := roundUp(p.Size, plan.SizeMultiple) / bps
			if p.IsUDA() {
				var remaining uint64
				if used := cursor + sectors; used < plan.TotalCardSectors {
					remaining = plan.TotalCardSectors - used
				}
				plan.Table = append(plan.Table, Entry{
					ID:             p.ID,
					Name:           RemainingName,
					DeviceID:       uint32(d.Type),
					StartSector:    uint32(cursor),
					NumSectors:     uint32(remaining),
					BytesPerSector: di.BytesPerSector,
					Synthetic:      true,
				})
				cursor += remaining
			}
			e := Entry{
				ID:             p.ID,
				Name:           p.Name,
				DeviceID:       uint32(d.Type),
				StartSector:    uint32(cursor),
				NumSectors:     uint32(sectors),
				BytesPerSector: di.BytesPerSector,
			}
			plan.Table = append(plan.Table, e)
			cursor += sectors
			if p.Name == config.PartitionTableName {
				plan.PT = Span{StartSector: e.StartSector, NumSectors: e.NumSectors}
				havePT = true
			}
		}
	}
	if !havePT {
		return nil, tegra.NewConfigurationError("PT partition absent in the cfg file")
	}
	glog.V(1).Infof("planned %d entries, %d of %d sectors, PT at %d+%d",
		len(plan.Table), cursor, plan.TotalCardSectors, plan.PT.StartSector, plan.PT.NumSectors)
	return plan, nil
}

// ReconciliationError is a skip-listed partition whose boundaries on the
// device differ from the computed ones.
type ReconciliationError struct {
	Name string
}

func (e *ReconciliationError) Error() string {
	return fmt.Sprintf("Partition boundaries mismatch for %s partition", e.Name)
}

func IsReconciliation(err error) bool {
	_, ok := errors.Cause(err).(*ReconciliationError)
	return ok
}

// Reconcile checks that every skip-listed partition occupies the same span
// in the plan and on the device. Entries are checked in plan order and the
// first mismatch is returned. Skip names absent from the plan are returned
// as warnings.
func Reconcile(plan *Plan, device Table, skip []string) ([]string, error) {
	want := map[string]bool{}
	for _, s := range skip {
		want[s] = true
	}
	for _, e := range plan.Table {
		if e.Synthetic || !want[e.Name] {
			continue
		}
		delete(want, e.Name)
		de := device.Find(e.Name)
		if de == nil {
			glog.Errorf("%s: not present on the device", e.Name)
			return nil, &ReconciliationError{Name: e.Name}
		}
		if de.StartSector != e.StartSector || de.NumSectors != e.NumSectors {
			glog.Errorf("%s: planned %d+%d, device has %d+%d",
				e.Name, e.StartSector, e.NumSectors, de.StartSector, de.NumSectors)
			return nil, &ReconciliationError{Name: e.Name}
		}
	}
	var warnings []string
	for _, s := range skip {
		if want[s] {
			warnings = append(warnings, fmt.Sprintf("skip: partition %s is not in the layout", s))
			delete(want, s)
		}
	}
	return warnings, nil
}
