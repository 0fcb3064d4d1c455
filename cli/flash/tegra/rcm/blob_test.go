package rcm

import (
	"bytes"
	"testing"

	"github.com/juju/errors"

	"github.com/mongoose-os/tegraflash/cli/flash/tegra"
)

func TestBlobRoundTrip(t *testing.T) {
	bytesA := []byte{1, 2, 3, 4, 5}
	bytesB := bytes.Repeat([]byte{0xaa}, 100)
	b := NewBlob(BuildBlob([]BlobRecord{
		{Type: BlobVersion, Data: append([]byte("1.3.0"), 0)},
		{Type: BlobRCM1, Data: bytesA},
		{Type: BlobRCM2, Data: bytesB},
	}))
	if got, err := b.Lookup(BlobRCM1); err != nil || !bytes.Equal(got, bytesA) {
		t.Errorf("RCM1: got %v %v", got, err)
	}
	if got, err := b.Lookup(BlobRCM2); err != nil || !bytes.Equal(got, bytesB) {
		t.Errorf("RCM2: got %v %v", got, err)
	}
	if v, err := b.Version(); err != nil || v != "1.3.0" {
		t.Errorf("version: got %q %v", v, err)
	}
	if got, err := b.Lookup(BlobBlHash); !errors.IsNotFound(err) || got != nil {
		t.Errorf("BlHash: expected not found, got %v %v", got, err)
	}
	recs, err := b.Records()
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 3 || recs[2].Type != BlobRCM2 {
		t.Errorf("records: %+v", recs)
	}
}

func TestBlobTruncated(t *testing.T) {
	data := BuildBlob([]BlobRecord{
		{Type: BlobRCM1, Data: []byte{1, 2, 3}},
		{Type: BlobRCM2, Data: bytes.Repeat([]byte{1}, 64)},
	})
	b := NewBlob(data[:len(data)-10])
	// Records before the damage are still reachable.
	if _, err := b.Lookup(BlobRCM1); err != nil {
		t.Errorf("RCM1: %s", err)
	}
	if _, err := b.Lookup(BlobRCM2); !tegra.IsProtocol(err) {
		t.Errorf("RCM2: expected protocol error, got %v", err)
	}
	if _, err := NewBlob(data[:10]).Lookup(BlobRCM1); !tegra.IsProtocol(err) {
		t.Errorf("short header: expected protocol error, got %v", err)
	}
}

func TestCheckCompatibility(t *testing.T) {
	for _, c := range []struct {
		tool, blob string
		ok         bool
	}{
		{"1.3.0", "v1.3.0", true},
		{"v1.5.2", "1.0", true},
		{"2.0.0", "v1.3.0", false},
	} {
		w := CheckCompatibility(c.tool, c.blob)
		if (w == "") != c.ok {
			t.Errorf("%s vs %s: got warning %q", c.tool, c.blob, w)
		}
	}
}
