package rcm

import (
	"bytes"
	"context"
	"encoding/binary"
	"testing"
	"time"

	"github.com/juju/errors"

	"github.com/mongoose-os/tegraflash/cli/flash/tegra"
	"github.com/mongoose-os/tegraflash/cli/flash/tegra/transport"
)

// mockDevice replays queued reads and records writes.
type mockDevice struct {
	pid    uint16
	reads  [][]byte
	writes [][]byte
	closed int
}

func (d *mockDevice) Read(buf []byte) (int, error) {
	if len(d.reads) == 0 {
		return 0, errors.New("no more data")
	}
	n := copy(buf, d.reads[0])
	d.reads = d.reads[1:]
	return n, nil
}

func (d *mockDevice) Write(buf []byte) (int, error) {
	d.writes = append(d.writes, append([]byte(nil), buf...))
	return len(buf), nil
}

func (d *mockDevice) Close() error {
	d.closed++
	return nil
}

func (d *mockDevice) ProductID() uint16 { return d.pid }

type mockOpener struct {
	dev      *mockDevice
	failures int
	err      error
	attempts int
}

func (o *mockOpener) OpenDevice(instance int) (transport.Device, error) {
	o.attempts++
	if o.attempts <= o.failures {
		return nil, o.err
	}
	return o.dev, nil
}

func u32(v uint32) []byte {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	return b[:]
}

func TestBootstrapProduction(t *testing.T) {
	uid := []byte{0x11, 0x22, 0x33, 0x44, 0x55, 0x66, 0x77, 0x88}
	dev := &mockDevice{pid: 0x7820, reads: [][]byte{uid, u32(0x20001), u32(0)}}
	miniloader := bytes.Repeat([]byte{0xab}, 100)
	cfg := &Config{
		Opener: &mockOpener{dev: dev},
		Messages: &ProductionMessages{
			Mode:       tegra.ModeNvProduction,
			Miniloader: func(v *tegra.Variant) ([]byte, error) { return miniloader, nil },
		},
	}
	res, err := Bootstrap(context.Background(), cfg)
	if err != nil {
		t.Fatalf("bootstrap: %s", err)
	}
	if res.Chip != tegra.ChipAP20 || res.RCMVersion != 0x20001 || res.Reached != StateMiniloaderSent {
		t.Errorf("unexpected result %+v", res)
	}
	if got, want := res.UID.String(), "0x8877665544332211"; got != want {
		t.Errorf("uid: got %s, want %s", got, want)
	}
	if dev.closed != 1 {
		t.Errorf("device closed %d times", dev.closed)
	}
	if len(dev.writes) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(dev.writes))
	}
	msg2 := dev.writes[1]
	if got := binary.LittleEndian.Uint32(msg2[4:]); got != uint32(OpcodeDownloadExecute) {
		t.Errorf("msg2 opcode %d", got)
	}
	if got := binary.LittleEndian.Uint32(msg2[12:]); got != 0x40008000 {
		t.Errorf("msg2 entry 0x%x", got)
	}
	if !bytes.Equal(msg2[msgHeaderLen:msgHeaderLen+100], miniloader) {
		t.Errorf("msg2 payload mismatch")
	}
}

func TestBootstrapSecureBlob(t *testing.T) {
	rcm1 := []byte("signed message one")
	rcm2 := []byte("signed message two")
	blob := NewBlob(BuildBlob([]BlobRecord{{Type: BlobRCM1, Data: rcm1}, {Type: BlobRCM2, Data: rcm2}}))
	uid := bytes.Repeat([]byte{1}, 8)
	dev := &mockDevice{pid: 0x7330, reads: [][]byte{uid, u32(1), u32(0)}}
	res, err := Bootstrap(context.Background(), &Config{Opener: &mockOpener{dev: dev}, Messages: &SecureMessages{Blob: blob}})
	if err != nil {
		t.Fatalf("bootstrap: %s", err)
	}
	if res.Chip != tegra.ChipT30 {
		t.Errorf("chip %s", res.Chip)
	}
	if !bytes.Equal(dev.writes[0], rcm1) || !bytes.Equal(dev.writes[1], rcm2) {
		t.Errorf("secure messages not sent verbatim: %q", dev.writes)
	}
}

func TestBootstrapTruncated(t *testing.T) {
	// Short UID.
	dev := &mockDevice{pid: 0x7820, reads: [][]byte{{1, 2, 3}}}
	res, err := Bootstrap(context.Background(), &Config{Opener: &mockOpener{dev: dev}, Messages: &SecureMessages{Files: []string{"a", "b"}}})
	if !tegra.IsProtocol(err) {
		t.Errorf("short uid: expected protocol error, got %v", err)
	}
	if res.Reached != StateOpened || dev.closed != 1 {
		t.Errorf("short uid: state %s, closed %d", res.Reached, dev.closed)
	}

	// Short response: not retried, device closed exactly once.
	dev = &mockDevice{pid: 0x7820, reads: [][]byte{bytes.Repeat([]byte{1}, 8), {1, 2}}}
	ml := func(v *tegra.Variant) ([]byte, error) { return []byte{1}, nil }
	res, err = Bootstrap(context.Background(), &Config{Opener: &mockOpener{dev: dev}, Messages: &ProductionMessages{Miniloader: ml}})
	if !tegra.IsProtocol(err) {
		t.Errorf("short response: expected protocol error, got %v", err)
	}
	if len(dev.writes) != 1 || dev.closed != 1 || res.Reached != StateUIDRead {
		t.Errorf("short response: %d writes, closed %d, state %s", len(dev.writes), dev.closed, res.Reached)
	}
}

func TestBootstrapUnknownDevice(t *testing.T) {
	dev := &mockDevice{pid: 0x7016, reads: [][]byte{bytes.Repeat([]byte{1}, 16), u32(1)}}
	ml := func(v *tegra.Variant) ([]byte, error) { return []byte{1}, nil }
	_, err := Bootstrap(context.Background(), &Config{Opener: &mockOpener{dev: dev}, Messages: &ProductionMessages{Miniloader: ml}})
	if !errors.IsNotSupported(err) {
		t.Errorf("expected not supported, got %v", err)
	}
}

func TestOpenDevice(t *testing.T) {
	o := &mockOpener{dev: &mockDevice{}, failures: 1, err: transport.ErrAccessDenied}
	if _, err := OpenDevice(context.Background(), o, 0, false, 0); !transport.IsAccessDenied(err) || !tegra.IsTransport(err) {
		t.Errorf("expected access denied transport error, got %v", err)
	}

	o = &mockOpener{dev: &mockDevice{}, failures: 3, err: errors.Annotatef(transport.ErrDeviceNotFound, "x")}
	if _, err := OpenDevice(context.Background(), o, 0, false, 0); !transport.IsDeviceNotFound(err) {
		t.Errorf("expected not found, got %v", err)
	}

	o = &mockOpener{dev: &mockDevice{}, failures: 3, err: transport.ErrDeviceNotFound}
	d, err := OpenDevice(context.Background(), o, 0, true, time.Millisecond)
	if err != nil || d == nil {
		t.Errorf("wait: %v", err)
	}
	if o.attempts != 4 {
		t.Errorf("wait: %d attempts", o.attempts)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	o = &mockOpener{dev: &mockDevice{}, failures: 100, err: transport.ErrDeviceNotFound}
	if _, err := OpenDevice(ctx, o, 0, true, time.Millisecond); errors.Cause(err) != context.Canceled {
		t.Errorf("cancelled: got %v", err)
	}
}

func TestBuildBootstrapMessage(t *testing.T) {
	m := BuildBootstrapMessage(OpcodeQueryRcmVersion, tegra.ModeNvProduction, 0, nil)
	if len(m)%tegra.HashBlockLen != 0 || len(m) != 48 {
		t.Errorf("length %d", len(m))
	}
	if got := binary.LittleEndian.Uint32(m); got != uint32(len(m)) {
		t.Errorf("length word %d", got)
	}
	if got := binary.LittleEndian.Uint32(m[8:]); got != uint32(tegra.ModeNvProduction) {
		t.Errorf("mode %d", got)
	}
}
