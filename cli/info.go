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
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/fatih/color"
	"github.com/juju/errors"

	"github.com/mongoose-os/tegraflash/cli/flags"
	"github.com/mongoose-os/tegraflash/cli/flash/tegra/config"
	"github.com/mongoose-os/tegraflash/cli/flash/tegra/layout"
	"github.com/mongoose-os/tegraflash/cli/flash/tegra/nv3p"
	"github.com/mongoose-os/tegraflash/cli/flash/tegra/rcm"
	"github.com/mongoose-os/tegraflash/cli/ourutil"
	"github.com/mongoose-os/tegraflash/common/ourio"
	"github.com/mongoose-os/tegraflash/version"
)

func printPlan(w io.Writer, p *layout.Plan) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "ID\tNAME\tDEVICE\tSTART\tSECTORS\n")
	for _, e := range p.Table {
		name := e.Name
		if e.Synthetic {
			name = fmt.Sprintf("(%s)", e.Name)
		}
		fmt.Fprintf(tw, "%d\t%s\t%d\t%d\t%d\n", e.ID, name, e.DeviceID, e.StartSector, e.NumSectors)
	}
	tw.Flush()
	fmt.Fprintf(w, "Partition table: start %d, %d sectors\n", p.PT.StartSector, p.PT.NumSectors)
	fmt.Fprintf(w, "Used %d of %d sectors\n", p.Table.TotalSectors(), p.TotalCardSectors)
}

func plan(ctx context.Context) error {
	cfg, err := config.Load(*flags.ConfigFile)
	if err != nil {
		return errors.Trace(err)
	}
	di := nv3p.DevInfo{
		BytesPerSector:  *flags.BytesPerSector,
		SectorsPerBlock: *flags.SectorsPerBlock,
		TotalBlocks:     *flags.TotalBlocks,
	}
	p, err := layout.Compute(cfg.Devices, di)
	if err != nil {
		return errors.Trace(err)
	}
	printPlan(os.Stdout, p)
	if *flags.DumpLayout != "" {
		res, err := ourio.WriteYAMLFileIfDifferent(*flags.DumpLayout, p, 0644)
		if err != nil {
			return errors.Annotatef(err, "failed to write layout")
		}
		ourutil.Reportf("Layout %s: %s", *flags.DumpLayout, res)
	}
	return nil
}

func printBlob(w io.Writer, b *rcm.Blob) error {
	recs, err := b.Records()
	if err != nil {
		return errors.Trace(err)
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "#\tTYPE\tSIZE\n")
	for i, r := range recs {
		fmt.Fprintf(tw, "%d\t%s\t%d\n", i, r.Type, len(r.Data))
	}
	return errors.Trace(tw.Flush())
}

func blobInfo(ctx context.Context) error {
	b, err := rcm.ReadBlobFile(*flags.Blob)
	if err != nil {
		return errors.Trace(err)
	}
	if err := printBlob(os.Stdout, b); err != nil {
		return errors.Trace(err)
	}
	bv, err := b.Version()
	if err != nil {
		if errors.IsNotFound(err) {
			ourutil.Reportf("Blob has no version record")
			return nil
		}
		return errors.Trace(err)
	}
	fmt.Printf("Blob version: %s\n", bv)
	if tv := version.GetVersion(); tv != version.LatestVersionName {
		if w := rcm.CheckCompatibility(tv, bv); w != "" {
			color.New(color.FgYellow).Fprintf(os.Stderr, "%s\n", w)
		}
	}
	return nil
}
