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
package rcm

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/golang/glog"
	"github.com/juju/errors"

	"github.com/mongoose-os/tegraflash/cli/flash/tegra"
	"github.com/mongoose-os/tegraflash/cli/flash/tegra/transport"
	"github.com/mongoose-os/tegraflash/cli/ourutil"
)

const defaultWaitInterval = 1 * time.Second

// UID is the chip unique id as read from the boot ROM (little endian).
type UID []byte

func (u UID) String() string {
	sb := strings.Builder{}
	sb.WriteString("0x")
	for i := len(u) - 1; i >= 0; i-- {
		fmt.Fprintf(&sb, "%02x", u[i])
	}
	return sb.String()
}

type State int

const (
	StateClosed State = iota
	StateOpened
	StateUIDRead
	StateVersionQueried
	StateMiniloaderSent
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "Closed"
	case StateOpened:
		return "Opened"
	case StateUIDRead:
		return "UidRead"
	case StateVersionQueried:
		return "VersionQueried"
	case StateMiniloaderSent:
		return "MiniloaderSent"
	default:
		return fmt.Sprintf("???(%d)", int(s))
	}
}

// OpenDevice opens the recovery mode device. With wait set, it keeps trying
// every interval until the device shows up or ctx is done.
func OpenDevice(ctx context.Context, o transport.Opener, instance int, wait bool, interval time.Duration) (transport.Device, error) {
	if interval <= 0 {
		interval = defaultWaitInterval
	}
	announced := false
	for {
		dev, err := o.OpenDevice(instance)
		if err == nil {
			return dev, nil
		}
		glog.V(1).Infof("open %d: %s", instance, err)
		if !wait {
			if transport.IsAccessDenied(err) {
				return nil, tegra.NewTransportError("open", transport.ErrAccessDenied)
			}
			if transport.IsDeviceNotFound(err) {
				return nil, tegra.NewTransportError("open", transport.ErrDeviceNotFound)
			}
			return nil, tegra.NewTransportError("open", err)
		}
		if !announced {
			ourutil.Reportf("Waiting for device...")
			announced = true
		}
		select {
		case <-ctx.Done():
			return nil, errors.Trace(ctx.Err())
		case <-time.After(interval):
		}
	}
}

// ReadUniqueId reads the chip unique id, which the boot ROM sends unprompted
// after enumeration.
func ReadUniqueId(r io.Reader, v *tegra.Variant) (UID, error) {
	buf := make([]byte, v.UIDLen)
	n, err := r.Read(buf)
	if err != nil {
		return nil, tegra.NewTransportError("uid read", err)
	}
	if n != len(buf) {
		return nil, tegra.NewProtocolError("uid read failed (truncated): %d of %d bytes", n, len(buf))
	}
	return UID(buf), nil
}

// SendAndAwaitResponse writes an RCM message and reads the 32-bit response.
// A response of any other length is fatal.
func SendAndAwaitResponse(rw io.ReadWriter, msg []byte) (uint32, error) {
	n, err := rw.Write(msg)
	if err != nil {
		return 0, tegra.NewTransportError("rcm write", err)
	}
	if n != len(msg) {
		return 0, tegra.NewTransportError("rcm write", errors.Errorf("short write (%d of %d)", n, len(msg)))
	}
	var resp [4]byte
	n, err = rw.Read(resp[:])
	if err != nil {
		return 0, tegra.NewTransportError("rcm read", err)
	}
	if n != len(resp) {
		return 0, tegra.NewProtocolError("response truncated: %d bytes", n)
	}
	return binary.LittleEndian.Uint32(resp[:]), nil
}

func CloseDevice(c io.Closer) error {
	if err := c.Close(); err != nil {
		return tegra.NewTransportError("close", err)
	}
	return nil
}

type Config struct {
	Opener       transport.Opener
	Instance     int
	Wait         bool
	WaitInterval time.Duration
	Messages     MessageSource
}

type Result struct {
	Chip       tegra.ChipType
	UID        UID
	RCMVersion uint32
	// Response to the miniloader message.
	Response uint32
	// Last state reached before the device was closed.
	Reached State
}

// Bootstrap runs the boot ROM handshake: read the UID, query the RCM version,
// deliver the miniloader and close. The device re-enumerates as the
// miniloader once this returns.
func Bootstrap(ctx context.Context, cfg *Config) (*Result, error) {
	res := &Result{Reached: StateClosed}
	dev, err := OpenDevice(ctx, cfg.Opener, cfg.Instance, cfg.Wait, cfg.WaitInterval)
	if err != nil {
		return res, errors.Trace(err)
	}
	res.Reached = StateOpened
	defer func() {
		if cerr := CloseDevice(dev); cerr != nil {
			glog.Warningf("%s", cerr)
		}
	}()

	res.Chip = tegra.ChipType(dev.ProductID() & 0xff)
	v, err := tegra.VariantFor(res.Chip)
	if err != nil {
		return res, errors.Trace(err)
	}
	glog.V(1).Infof("chip %s, pid 0x%04x", res.Chip, dev.ProductID())

	if res.UID, err = ReadUniqueId(dev, v); err != nil {
		return res, errors.Trace(err)
	}
	res.Reached = StateUIDRead
	ourutil.Reportf("Chip UID: %s", res.UID)

	msg1, err := cfg.Messages.Message(1, v)
	if err != nil {
		return res, errors.Trace(err)
	}
	if res.RCMVersion, err = SendAndAwaitResponse(dev, msg1); err != nil {
		return res, errors.Annotatef(err, "RCM version query failed")
	}
	res.Reached = StateVersionQueried
	ourutil.Reportf("rcm version 0x%x", res.RCMVersion)

	msg2, err := cfg.Messages.Message(2, v)
	if err != nil {
		return res, errors.Trace(err)
	}
	if res.Response, err = SendAndAwaitResponse(dev, msg2); err != nil {
		return res, errors.Annotatef(err, "miniloader download failed")
	}
	res.Reached = StateMiniloaderSent
	glog.V(1).Infof("miniloader sent, response 0x%x", res.Response)
	return res, nil
}
