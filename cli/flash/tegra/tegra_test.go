package tegra

import (
	"testing"

	"github.com/juju/errors"
)

func TestVariantFor(t *testing.T) {
	for _, c := range []struct {
		chip       ChipType
		uidLen     int
		entry      uint32
		workaround bool
	}{
		{ChipAP15, 16, 0, false},
		{ChipAP20, 8, 0x40008000, true},
		{ChipT30, 8, 0x4000A000, true},
	} {
		v, err := VariantFor(c.chip)
		if err != nil {
			t.Fatalf("%s: %s", c.chip, err)
		}
		if v.UIDLen != c.uidLen || v.MiniloaderEntry != c.entry || v.PagePadWorkaround != c.workaround {
			t.Errorf("%s: got %+v", c.chip, v)
		}
	}
	if _, err := VariantFor(ChipType(0x99)); !errors.IsNotFound(err) {
		t.Errorf("expected not found, got %v", err)
	}
}

func TestChipName(t *testing.T) {
	v, _ := VariantFor(ChipAP20)
	if got := v.ChipName(0x18); got != "t20" {
		t.Errorf("got %q", got)
	}
	if got := v.ChipName(0x77); got != "unknown" {
		t.Errorf("got %q", got)
	}
	v, _ = VariantFor(ChipT30)
	if got := v.ChipName(0x18); got != "development" {
		t.Errorf("got %q", got)
	}
}

func TestParseTransportKind(t *testing.T) {
	if tk, err := ParseTransportKind("USB"); err != nil || tk != TransportUSB {
		t.Errorf("usb: %v %v", tk, err)
	}
	if tk, err := ParseTransportKind("serial"); err != nil || tk != TransportSerial {
		t.Errorf("serial: %v %v", tk, err)
	}
	if _, err := ParseTransportKind("jtag"); err == nil {
		t.Errorf("jtag must be rejected")
	}
}
