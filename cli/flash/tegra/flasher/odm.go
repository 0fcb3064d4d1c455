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
	"time"

	"github.com/juju/errors"
	shellwords "github.com/mattn/go-shellwords"

	"github.com/mongoose-os/tegraflash/cli/flash/tegra"
	"github.com/mongoose-os/tegraflash/cli/flash/tegra/nv3p"
	"github.com/mongoose-os/tegraflash/cli/ourutil"
)

// odmRequest is a parsed --odm command line.
type odmRequest struct {
	args  nv3p.OdmCommandArgs
	files []string
}

func parseUint32(what, s string) (uint32, error) {
	v, err := strconv.ParseUint(s, 0, 32)
	if err != nil {
		return 0, errors.NotValidf("%s %q", what, s)
	}
	return uint32(v), nil
}

func parseOdmCommand(cmdline string) (*odmRequest, error) {
	words, err := shellwords.Parse(cmdline)
	if err != nil {
		return nil, errors.Annotatef(err, "invalid ODM command %q", cmdline)
	}
	if len(words) == 0 {
		return nil, tegra.NewConfigurationError("empty ODM command")
	}
	req := &odmRequest{}
	nargs := func(min, max int) error {
		if n := len(words) - 1; n < min || n > max {
			return tegra.NewConfigurationError("%s takes %d to %d arguments, got %d", words[0], min, max, n)
		}
		return nil
	}
	switch strings.ToLower(words[0]) {
	case "fuelgaugefwupgrade":
		if err := nargs(1, 2); err != nil {
			return nil, err
		}
		req.args.Cmd = nv3p.OdmCmdFuelGaugeFwUpgrade
		req.files = words[1:]
	case "runsdiag":
		if err := nargs(2, 2); err != nil {
			return nil, err
		}
		req.args.Cmd = nv3p.OdmCmdRunSdDiag
		if req.args.Value, err = parseUint32("value", words[1]); err != nil {
			return nil, errors.Trace(err)
		}
		if req.args.TestType, err = parseUint32("test type", words[2]); err != nil {
			return nil, errors.Trace(err)
		}
	case "verifysdram":
		if err := nargs(1, 1); err != nil {
			return nil, err
		}
		req.args.Cmd = nv3p.OdmCmdVerifySdram
		if req.args.Value, err = parseUint32("value", words[1]); err != nil {
			return nil, errors.Trace(err)
		}
		if req.args.Value > 1 {
			return nil, tegra.NewConfigurationError("verifysdram takes 0 or 1, got %d", req.args.Value)
		}
	case "runsediag":
		req.args.Cmd = nv3p.OdmCmdRunSeDiag
	case "runpwmdiag":
		req.args.Cmd = nv3p.OdmCmdRunPwmDiag
	case "rundsidiag":
		req.args.Cmd = nv3p.OdmCmdRunDsiDiag
	default:
		return nil, errors.NotSupportedf("ODM command %q", words[0])
	}
	return req, nil
}

// OdmCommand runs a board specific diagnostic or upgrade command.
func (s *Session) OdmCommand(cmdline string) error {
	req, err := parseOdmCommand(cmdline)
	if err != nil {
		return errors.Trace(err)
	}
	var data [][]byte
	for i, f := range req.files {
		d, err := readFile("fuel gauge firmware", f)
		if err != nil {
			return errors.Trace(err)
		}
		if i == 0 {
			req.args.Length1 = uint64(len(d))
		} else {
			req.args.Length2 = uint64(len(d))
		}
		data = append(data, d)
	}
	a := req.args
	if err := s.ch.Send(nv3p.CmdOdmCommand, &a); err != nil {
		return errors.Annotatef(err, "ODM command failed")
	}
	for _, d := range data {
		if err := s.ch.DataSend(d); err != nil {
			return errors.Annotatef(err, "ODM command failed")
		}
	}
	if err := s.ch.WaitStatus(); err != nil {
		return errors.Annotatef(err, "ODM command failed")
	}
	if a.Cmd == nv3p.OdmCmdVerifySdram {
		ourutil.Reportf("Verified %d MB SDRAM", a.Data)
	}
	return nil
}

func (s *Session) SetTime() error {
	now := time.Now()
	a := nv3p.SetTimeArgs{Seconds: uint32(now.Unix()), Milliseconds: uint32(now.Nanosecond() / 1e6)}
	if err := s.ch.Send(nv3p.CmdSetTime, &a); err != nil {
		return errors.Trace(err)
	}
	return errors.Annotatef(s.ch.WaitStatus(), "failed to set time")
}

func (s *Session) Sync() error {
	ourutil.Reportf("Syncing...")
	if err := s.ch.Send(nv3p.CmdSync, nil); err != nil {
		return errors.Trace(err)
	}
	return errors.Annotatef(s.ch.WaitStatus(), "sync failed")
}

// Go tells the bootloader to continue booting. The session is unusable
// afterwards.
func (s *Session) Go() error {
	if err := s.ch.Send(nv3p.CmdGo, nil); err != nil {
		return errors.Trace(err)
	}
	return errors.Annotatef(s.ch.WaitStatus(), "failed to start")
}
