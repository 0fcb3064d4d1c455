package rcm

import (
	"io/ioutil"
	"testing"

	"github.com/juju/errors"

	"github.com/mongoose-os/tegraflash/cli/flash/tegra"
)

func TestEmbeddedMiniloader(t *testing.T) {
	for _, ct := range []tegra.ChipType{tegra.ChipAP20, tegra.ChipT30} {
		data, err := EmbeddedMiniloader(ct)
		if err != nil {
			t.Fatalf("%s: %s", ct, err)
		}
		if len(data) == 0 || len(data)%4 != 0 {
			t.Errorf("%s: bad image length %d", ct, len(data))
		}
		// The compiled-in copy must match the checked-in source image.
		src, err := ioutil.ReadFile(miniloaderAsset(ct))
		if err != nil {
			t.Fatal(err)
		}
		if string(src) != string(data) {
			t.Errorf("%s: miniloader_bindata.go is stale, run go generate", ct)
		}
	}
	if _, err := EmbeddedMiniloader(tegra.ChipAP15); !errors.IsNotFound(err) {
		t.Errorf("expected not found for ap15, got %v", err)
	}
}

func TestProductionMessagesEmbedded(t *testing.T) {
	v, err := tegra.VariantFor(tegra.ChipT30)
	if err != nil {
		t.Fatal(err)
	}
	pm := &ProductionMessages{Mode: tegra.ModeNvProduction, Miniloader: func(v *tegra.Variant) ([]byte, error) {
		return EmbeddedMiniloader(v.Chip)
	}}
	msg, err := pm.Message(2, v)
	if err != nil {
		t.Fatal(err)
	}
	ml, _ := EmbeddedMiniloader(tegra.ChipT30)
	if len(msg) <= len(ml) {
		t.Errorf("message of %d bytes cannot carry a %d byte miniloader", len(msg), len(ml))
	}
}
