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
	"strconv"
	"strings"

	"github.com/golang/glog"
	"github.com/juju/errors"

	"github.com/mongoose-os/tegraflash/cli/flash/tegra"
	"github.com/mongoose-os/tegraflash/cli/flash/tegra/config"
	"github.com/mongoose-os/tegraflash/cli/flash/tegra/nv3p"
	"github.com/mongoose-os/tegraflash/cli/ourutil"
	"github.com/mongoose-os/tegraflash/common/multierror"
)

func isVerifyAll(s string) bool {
	if strings.EqualFold(s, "all") {
		return true
	}
	v, err := strconv.ParseUint(s, 0, 32)
	return err == nil && v == VerifyAll
}

// ValidateVerifyList resolves verify list entries, by id or by name, to
// partition ids. Every entry must name a partition that has a file.
func ValidateVerifyList(cfg *config.Config, list []string) ([]uint32, error) {
	if len(list) == 0 {
		return nil, nil
	}
	if cfg == nil {
		return nil, tegra.NewConfigurationError("--verifypart requires --configfile")
	}
	var errs error
	var ids []uint32
	seen := map[uint32]bool{}
	add := func(p *config.Partition) {
		if !seen[p.ID] {
			ids = append(ids, p.ID)
			seen[p.ID] = true
		}
	}
	for _, e := range list {
		if isVerifyAll(e) {
			for _, p := range cfg.Partitions() {
				if p.Filename != "" {
					add(p)
				}
			}
			continue
		}
		var p *config.Partition
		if id, err := strconv.ParseUint(e, 10, 32); err == nil {
			p = cfg.PartitionByID(uint32(id))
		} else {
			p = cfg.PartitionByName(e)
		}
		if p == nil {
			errs = multierror.Append(errs, errors.NotFoundf("partition %s to verify", e))
			continue
		}
		if p.Filename == "" {
			errs = multierror.Append(errs, errors.Errorf("%s: verification requested but the partition has no file", p.Name))
			continue
		}
		add(p)
	}
	if errs != nil {
		return nil, tegra.WrapConfigurationError(errs)
	}
	return ids, nil
}

func (s *Session) verifyRequested(id uint32) bool {
	for _, v := range s.verifyIDs {
		if v == id {
			return true
		}
	}
	return false
}

// enableVerify marks a partition for verification. Must precede its download.
func (s *Session) enableVerify(id uint32) error {
	if err := s.ch.Send(nv3p.CmdVerifyPartitionEnable, &nv3p.PartitionIDArgs{ID: id}); err != nil {
		return errors.Trace(err)
	}
	if err := s.ch.WaitStatus(); err != nil {
		return errors.Annotatef(err, "failed to enable verification of partition %d", id)
	}
	s.verifyEnabled = append(s.verifyEnabled, id)
	return nil
}

// Verify asks the bootloader to check every partition enabled so far.
func (s *Session) Verify() error {
	if len(s.verifyEnabled) == 0 {
		return nil
	}
	for _, id := range s.verifyEnabled {
		ourutil.Reportf("Verifying partition %d...", id)
		if err := s.ch.Send(nv3p.CmdVerifyPartition, &nv3p.PartitionIDArgs{ID: id}); err != nil {
			return errors.Trace(err)
		}
		if err := s.ch.WaitStatus(); err != nil {
			return errors.Annotatef(err, "verification of partition %d failed", id)
		}
		glog.V(1).Infof("partition %d verified", id)
	}
	if err := s.ch.Send(nv3p.CmdEndVerifyPartition, nil); err != nil {
		return errors.Trace(err)
	}
	if err := s.ch.WaitStatus(); err != nil {
		return errors.Trace(err)
	}
	s.verifyEnabled = nil
	ourutil.Reportf("Verification successful")
	return nil
}
