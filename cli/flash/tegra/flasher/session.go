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

// Package flasher drives a device running the Nv3p bootloader through a
// flashing session: partition creation, downloads, reads and verification.
package flasher

import (
	"context"
	"io"
	"io/ioutil"
	"path/filepath"

	"github.com/golang/glog"
	"github.com/juju/errors"
	"github.com/kardianos/osext"

	"github.com/mongoose-os/tegraflash/cli/flash/tegra"
	"github.com/mongoose-os/tegraflash/cli/flash/tegra/layout"
	"github.com/mongoose-os/tegraflash/cli/flash/tegra/nv3p"
	"github.com/mongoose-os/tegraflash/cli/flash/tegra/rcm"
	"github.com/mongoose-os/tegraflash/cli/flash/tegra/transport"
	"github.com/mongoose-os/tegraflash/cli/ourutil"
	"github.com/mongoose-os/tegraflash/version"
)

// Session is one connection to a device running the Nv3p bootloader.
type Session struct {
	opts *Opts
	conn io.ReadWriteCloser
	ch   *nv3p.Channel
	lock *transport.Lock

	platform nv3p.PlatformInfo
	variant  *tegra.Variant
	rcm      *rcm.Result

	// Partition table as reported by the device, fetched on first use.
	deviceTable layout.Table

	formatPartitionsNeeded bool
	blHashSent             bool
	verifyIDs              []uint32
	verifyEnabled          []uint32
}

// NewSession wraps an established bootloader connection.
func NewSession(conn io.ReadWriteCloser, opts *Opts) (*Session, error) {
	ids, err := ValidateVerifyList(opts.Config, opts.Verify)
	if err != nil {
		return nil, errors.Trace(err)
	}
	return &Session{
		opts:      opts,
		conn:      conn,
		ch:        nv3p.NewChannel(conn),
		verifyIDs: ids,
	}, nil
}

func (s *Session) PlatformInfo() nv3p.PlatformInfo {
	return s.platform
}

// Close releases the connection and the device lock. It is safe to call
// more than once.
func (s *Session) Close() error {
	var err error
	if s.conn != nil {
		err = s.conn.Close()
		s.conn = nil
	}
	if lerr := s.lock.Release(); lerr != nil {
		glog.Warningf("%s", lerr)
	}
	s.lock = nil
	return errors.Trace(err)
}

// installedMiniloader returns where a miniloader shipped next to the
// executable would be.
func installedMiniloader(ct tegra.ChipType) (string, error) {
	dir, err := osext.ExecutableFolder()
	if err != nil {
		return "", errors.Annotatef(err, "failed to locate executable")
	}
	return filepath.Join(dir, "miniloader", ct.String()+".bin"), nil
}

// loadMiniloader picks the --miniloader file if given, then an image
// installed next to the executable, then the compiled-in one.
func (o *Opts) loadMiniloader(v *tegra.Variant) ([]byte, error) {
	if o.Miniloader != "" {
		glog.V(1).Infof("miniloader: %s", o.Miniloader)
		data, err := ioutil.ReadFile(o.Miniloader)
		if err != nil {
			return nil, errors.Annotatef(err, "failed to read miniloader")
		}
		return data, nil
	}
	if fname, err := installedMiniloader(v.Chip); err == nil {
		if data, err := ioutil.ReadFile(fname); err == nil {
			glog.V(1).Infof("miniloader: %s", fname)
			return data, nil
		}
	}
	glog.V(1).Infof("miniloader: built-in %s image", v.Chip)
	return rcm.EmbeddedMiniloader(v.Chip)
}

func (o *Opts) messages() rcm.MessageSource {
	if o.Secure() {
		return &rcm.SecureMessages{Files: o.RCMFiles, Blob: o.Blob}
	}
	return &rcm.ProductionMessages{Mode: tegra.ModeNvProduction, Miniloader: o.loadMiniloader}
}

// Connect locks the device, bootstraps it over RCM unless resuming, opens
// the bootloader connection and reads the platform info.
func Connect(ctx context.Context, opts *Opts) (*Session, error) {
	var lock *transport.Lock
	if opts.StateDir != "" {
		var err error
		if lock, err = transport.AcquireLock(transport.LockPath(opts.StateDir, &opts.Transport)); err != nil {
			return nil, errors.Trace(err)
		}
	}
	s, err := connect(ctx, opts)
	if err != nil {
		lock.Release()
		return nil, errors.Trace(err)
	}
	s.lock = lock
	return s, nil
}

func connect(ctx context.Context, opts *Opts) (*Session, error) {
	if opts.Blob != nil {
		if bv, err := opts.Blob.Version(); err == nil {
			if tv := version.GetVersion(); tv != version.LatestVersionName {
				if w := rcm.CheckCompatibility(tv, bv); w != "" {
					ourutil.Reportf("%s", w)
				}
			}
		} else {
			glog.Warningf("blob has no version: %s", err)
		}
	}

	opener := opts.Opener
	if opener == nil {
		opener = &transport.USBOpener{}
	}
	var res *rcm.Result
	var conn io.ReadWriteCloser
	switch {
	case opts.Transport.Kind != tegra.TransportUSB:
		c, err := transport.Open(&opts.Transport)
		if err != nil {
			return nil, errors.Trace(err)
		}
		conn = c
	default:
		wait := opts.Wait
		if !opts.Resume {
			var err error
			res, err = rcm.Bootstrap(ctx, &rcm.Config{
				Opener:       opener,
				Instance:     opts.Transport.Instance,
				Wait:         opts.Wait,
				WaitInterval: opts.WaitInterval,
				Messages:     opts.messages(),
			})
			if err != nil {
				return nil, errors.Annotatef(err, "RCM bootstrap failed (reached %s)", res.Reached)
			}
			// The miniloader re-enumerates; give it time.
			wait = true
		}
		d, err := rcm.OpenDevice(ctx, opener, opts.Transport.Instance, wait, opts.WaitInterval)
		if err != nil {
			return nil, errors.Annotatef(err, "failed to open bootloader connection")
		}
		conn = d
	}
	s, err := NewSession(conn, opts)
	if err != nil {
		conn.Close()
		return nil, errors.Trace(err)
	}
	s.rcm = res
	if err := s.Handshake(); err != nil {
		s.Close()
		return nil, errors.Trace(err)
	}
	return s, nil
}

// Handshake reads and reports the platform info.
func (s *Session) Handshake() error {
	pi := &s.platform
	if err := s.ch.Send(nv3p.CmdGetPlatformInfo, pi); err != nil {
		return errors.Annotatef(err, "failed to get platform info")
	}
	if err := s.ch.WaitStatus(); err != nil {
		return errors.Annotatef(err, "failed to get platform info")
	}
	if pi.BootRomVersion != 1 {
		return tegra.NewProtocolError("Unsupported boot rom version (%d)", pi.BootRomVersion)
	}
	if v, err := tegra.VariantFor(tegra.ChipType(pi.ChipID.ID)); err == nil {
		s.variant = v
	} else {
		glog.Warningf("%s", err)
	}
	if s.rcm != nil {
		ourutil.Reportf("rcm version 0x%x", s.rcm.RCMVersion)
	}
	s.reportPlatformInfo()
	return nil
}

func (s *Session) reportPlatformInfo() {
	pi := &s.platform
	name := "unknown"
	if s.variant != nil {
		name = s.variant.ChipName(pi.ChipSku)
	}
	ourutil.Reportf("System Information:")
	ourutil.Reportf("   chip name: %s", name)
	ourutil.Reportf("   chip id: 0x%x major: %d minor: %d", pi.ChipID.ID, pi.ChipID.Major, pi.ChipID.Minor)
	ourutil.Reportf("   chip sku: 0x%x", pi.ChipSku)
	ourutil.Reportf("   chip uid: 0x%016x%016x", pi.ChipUID[1], pi.ChipUID[0])
	ourutil.Reportf("   macrovision: %s", enDis(pi.MacrovisionEnable != 0))
	ourutil.Reportf("   hdmi: %s", enDis(pi.HdmiEnable != 0))
	ourutil.Reportf("   jtag: %s", enDis(pi.JtagEnable != 0))
	ourutil.Reportf("   sbk burned: %t", pi.SbkBurned != 0)
	ourutil.Reportf("   dk burned: %s", pi.DkBurned)
	ourutil.Reportf("   boot device: %s", pi.BootDevice)
	ourutil.Reportf("   operating mode: %d", pi.OperatingMode)
	ourutil.Reportf("   device config strap: %d", pi.DeviceConfigStrap)
	ourutil.Reportf("   device config fuse: %d", pi.DeviceConfigFuse)
	ourutil.Reportf("   sdram config strap: %d", pi.SdramConfigStrap)
}

func enDis(enabled bool) string {
	if enabled {
		return "enabled"
	}
	return "disabled"
}
