package transport

import (
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"

	"github.com/mongoose-os/tegraflash/cli/flash/tegra"
)

func TestLockPath(t *testing.T) {
	if got, want := LockPath("/tmp/x", &Options{Kind: tegra.TransportUSB, Instance: 2}), "/tmp/x/lock-usb-2"; got != want {
		t.Errorf("got %q, want %q", got, want)
	}
	if got, want := LockPath("/tmp/x", &Options{Kind: tegra.TransportSerial, Port: "/dev/ttyUSB0"}), "/tmp/x/lock-serial-ttyUSB0"; got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestAcquireRelease(t *testing.T) {
	dir, err := ioutil.TempDir("", "tegraflash-lock")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(dir)
	path := filepath.Join(dir, "sub", "lock-usb-0")
	l, err := AcquireLock(path)
	if err != nil {
		t.Fatalf("acquire: %s", err)
	}
	if err := l.Release(); err != nil {
		t.Errorf("release: %s", err)
	}
	// Released twice is a no-op.
	if err := l.Release(); err != nil {
		t.Errorf("second release: %s", err)
	}
	l2, err := AcquireLock(path)
	if err != nil {
		t.Fatalf("re-acquire: %s", err)
	}
	l2.Release()
}
