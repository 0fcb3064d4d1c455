package layout

import (
	"reflect"
	"testing"

	"github.com/sergi/go-diff/diffmatchpatch"
	yaml "gopkg.in/yaml.v2"

	"github.com/mongoose-os/tegraflash/cli/flash/tegra"
	"github.com/mongoose-os/tegraflash/cli/flash/tegra/config"
	"github.com/mongoose-os/tegraflash/cli/flash/tegra/nv3p"
)

const (
	mib = 1024 * 1024
	gib = 1024 * mib
)

// 4 GiB card, 512 byte sectors, 1 MiB blocks.
var card4G = nv3p.DevInfo{BytesPerSector: 512, SectorsPerBlock: 2048, TotalBlocks: 4 * gib / mib}

func scenarioA() []*config.Device {
	return []*config.Device{{
		Type: config.DeviceEmmc,
		Partitions: []*config.Partition{
			{ID: 3, Name: "PT", Type: config.PartitionTypePartitionTable, Size: 4096},
			{ID: 2, Name: "BCT", Type: config.PartitionTypeBct, Size: 3 * mib},
			{ID: 9, Name: "UDA", Type: config.PartitionTypeData, Size: 100 * mib, AllocationAttribute: config.AllocationAttributeUDA},
		},
	}}
}

func TestComputeScenarioA(t *testing.T) {
	plan, err := Compute(scenarioA(), card4G)
	if err != nil {
		t.Fatalf("Compute: %s", err)
	}
	total := uint32(4 * gib / 512)
	emmc := uint32(config.DeviceEmmc)
	want := Table{
		{ID: 3, Name: "PT", DeviceID: emmc, StartSector: 0, NumSectors: 2048, BytesPerSector: 512},
		{ID: 2, Name: "BCT", DeviceID: emmc, StartSector: 2048, NumSectors: 6144, BytesPerSector: 512},
		{ID: 9, Name: RemainingName, DeviceID: emmc, StartSector: 8192, NumSectors: total - 8192 - 204800, BytesPerSector: 512, Synthetic: true},
		{ID: 9, Name: "UDA", DeviceID: emmc, StartSector: total - 204800, NumSectors: 204800, BytesPerSector: 512},
	}
	if !reflect.DeepEqual(plan.Table, want) {
		t.Errorf("got\n%+v\nwant\n%+v", plan.Table, want)
	}
	if plan.PT != (Span{StartSector: 0, NumSectors: 2048}) {
		t.Errorf("PT: got %+v", plan.PT)
	}
	if plan.TotalCardSectors != uint64(total) || plan.SizeMultiple != mib {
		t.Errorf("got total %d, multiple %d", plan.TotalCardSectors, plan.SizeMultiple)
	}
	if got := plan.Table.TotalSectors(); got != uint64(total) {
		t.Errorf("allocated %d sectors, card has %d", got, total)
	}
}

func TestComputeIdempotent(t *testing.T) {
	p1, err := Compute(scenarioA(), card4G)
	if err != nil {
		t.Fatal(err)
	}
	p2, err := Compute(scenarioA(), card4G)
	if err != nil {
		t.Fatal(err)
	}
	y1, _ := yaml.Marshal(p1)
	y2, _ := yaml.Marshal(p2)
	if string(y1) != string(y2) {
		dmp := diffmatchpatch.New()
		t.Errorf("plans differ:\n%s", dmp.DiffPrettyText(dmp.DiffMain(string(y1), string(y2), false)))
	}
}

func TestComputeNeverExceedsCard(t *testing.T) {
	small := nv3p.DevInfo{BytesPerSector: 512, SectorsPerBlock: 64, TotalBlocks: 1000}
	for _, udaSize := range []uint64{0, 1, 32 * 1024, 10 * mib, 100 * mib} {
		devs := []*config.Device{{
			Type: config.DeviceNand,
			Partitions: []*config.Partition{
				{ID: 1, Name: "BCT", Type: config.PartitionTypeBct, Size: 100000},
				{ID: 2, Name: "PT", Type: config.PartitionTypePartitionTable, Size: 1},
				{ID: 3, Name: "UDA", Type: config.PartitionTypeData, Size: udaSize, AllocationAttribute: config.AllocationAttributeUDA},
			},
		}}
		plan, err := Compute(devs, small)
		if err != nil {
			t.Fatalf("%d: %s", udaSize, err)
		}
		var before uint64
		for i, e := range plan.Table {
			if e.Synthetic {
				next := plan.Table[i+1]
				if next.Name != "UDA" || next.StartSector != e.StartSector+e.NumSectors {
					t.Errorf("%d: remaining slot is not followed by UDA: %+v", udaSize, next)
				}
				if before+uint64(e.NumSectors)+uint64(next.NumSectors) > plan.TotalCardSectors && e.NumSectors != 0 {
					t.Errorf("%d: remaining slot overruns the card", udaSize)
				}
				break
			}
			before += uint64(e.NumSectors)
		}
		if udaSize <= 10*mib {
			if got := plan.Table.TotalSectors(); got > plan.TotalCardSectors {
				t.Errorf("%d: allocated %d > %d", udaSize, got, plan.TotalCardSectors)
			}
		}
		for _, e := range plan.Table {
			if uint64(e.NumSectors)*512%(512*64) != 0 && !e.Synthetic {
				t.Errorf("%d: %s is not block aligned (%d)", udaSize, e.Name, e.NumSectors)
			}
		}
	}
}

func TestComputeMissingPT(t *testing.T) {
	devs := []*config.Device{{
		Type:       config.DeviceEmmc,
		Partitions: []*config.Partition{{ID: 2, Name: "BCT", Type: config.PartitionTypeBct, Size: 1}},
	}}
	_, err := Compute(devs, card4G)
	if !tegra.IsConfiguration(err) {
		t.Fatalf("expected a configuration error, got %v", err)
	}
	if got, want := err.Error(), "PT partition absent in the cfg file"; got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestReconcile(t *testing.T) {
	plan, err := Compute(scenarioA(), card4G)
	if err != nil {
		t.Fatal(err)
	}
	device := func(mod func(Table)) Table {
		var dt Table
		for _, e := range plan.Table {
			if !e.Synthetic {
				dt = append(dt, e)
			}
		}
		if mod != nil {
			mod(dt)
		}
		return dt
	}

	warnings, err := Reconcile(plan, device(nil), []string{"BCT", "UDA", "XYZ"})
	if err != nil {
		t.Errorf("identical tables: %s", err)
	}
	if len(warnings) != 1 {
		t.Errorf("expected one warning, got %q", warnings)
	}

	for i, c := range []struct {
		skip []string
		mod  func(Table)
		want string
	}{
		{[]string{"BCT"}, func(dt Table) { dt[1].StartSector++ }, "BCT"},
		{[]string{"UDA", "BCT"}, func(dt Table) { dt[1].NumSectors--; dt[2].NumSectors-- }, "BCT"},
		{[]string{"UDA"}, func(dt Table) { dt[2].Name = "APP" }, "UDA"},
		{[]string{"PT"}, func(dt Table) { dt[1].NumSectors = 0 }, ""},
	} {
		_, err := Reconcile(plan, device(c.mod), c.skip)
		if c.want == "" {
			if err != nil {
				t.Errorf("%d: unexpected error %s", i, err)
			}
			continue
		}
		if !IsReconciliation(err) {
			t.Errorf("%d: expected a reconciliation error, got %v", i, err)
			continue
		}
		if got := err.(*ReconciliationError).Name; got != c.want {
			t.Errorf("%d: got %s, want %s", i, got, c.want)
		}
	}
}

func TestText(t *testing.T) {
	tbl := FromPartitionInfo([]nv3p.PartitionInfo{
		{PartID: 2, PartName: [4]byte{'B', 'C', 'T', 0}, DeviceID: 2, StartLogicalAddress: 0, NumLogicalSectors: 6144, BytesPerSector: 512},
		{PartID: 3, PartName: [4]byte{'P', 'T', 0, 0}, DeviceID: 2, StartLogicalAddress: 6144, NumLogicalSectors: 2048, BytesPerSector: 512},
	})
	want := "PartitionId=2\r\nName=BCT\r\nDeviceId=2\r\nStartSector=0\r\nNumSectors=6144\r\nBytesPerSector=512\r\n\r\n\r\n" +
		"PartitionId=3\r\nName=PT\r\nDeviceId=2\r\nStartSector=6144\r\nNumSectors=2048\r\nBytesPerSector=512\r\n\r\n\r\n"
	if got := tbl.Text(); got != want {
		dmp := diffmatchpatch.New()
		t.Errorf("table text incorrect:\n%s", dmp.DiffPrettyText(dmp.DiffMain(want, got, false)))
	}
	if e := tbl.Find("PT"); e == nil || e.ID != 3 {
		t.Errorf("Find(PT): got %+v", e)
	}
}
