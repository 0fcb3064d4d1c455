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
	goflag "flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/golang/glog"
	"github.com/juju/errors"
	flag "github.com/spf13/pflag"

	"github.com/mongoose-os/tegraflash/cli/common/paths"
	"github.com/mongoose-os/tegraflash/cli/flags"
	"github.com/mongoose-os/tegraflash/common/pflagenv"
	"github.com/mongoose-os/tegraflash/version"
)

const (
	envPrefix = "TEGRAFLASH_"
)

var (
	versionFlag = flag.Bool("version", false, "Print version and exit")
	helpFull    = flag.Bool("helpfull", false, "Show full help, including advanced flags")
)

var (
	// put all commands here
	commands = []command{
		{"flash", flash, `Run flashing operations on a device in recovery mode, in command line order`, nil, []string{
			"transport", "instance", "port", "baud-rate", "wait", "resume", "configfile", "dump-layout",
			"bl", "setentry", "bct", "setbct", "miniloader", "rcm", "blob", "odmdata", "setboottype",
			"setbootdevconfig", "skip", "verifypart", "yes",
		}},
		{"plan", plan, `Show the partition layout the device descriptor produces for a card`, []string{"configfile", "total-blocks"}, []string{"bytes-per-sector", "sectors-per-block", "dump-layout"}},
		{"blob-info", blobInfo, `List the records of a secure mode blob`, []string{"blob"}, nil},
		{"version", showVersion, `Print version`, nil, nil},
	}
)

type command struct {
	name     string
	handler  handler
	short    string
	required []string
	optional []string
}

type handler func(ctx context.Context) error

func showVersion(ctx context.Context) error {
	fmt.Printf(
		"%s\nVersion: %s\nBuild ID: %s\n",
		"The Tegra flashing tool", version.GetVersion(), version.BuildId,
	)
	if version.LooksLikeDistrBuildId(version.BuildId) {
		fmt.Printf("Packaged for: %s\n", version.GetDistrBuildIDParts(version.BuildId)["distr"])
	}
	return nil
}

func run(ctx context.Context) error {
	for _, c := range commands {
		if c.name == flag.Arg(0) {
			// check required flags
			if err := checkFlags(c.required); err != nil {
				return errors.Trace(err)
			}
			// run the handler
			if err := c.handler(ctx); err != nil {
				return errors.Trace(err)
			}
			return nil
		}
	}
	// not found
	if flag.NArg() > 0 && flag.Arg(0) != "help" {
		return errors.NotFoundf("command %q", flag.Arg(0))
	}
	usage()
	return nil
}

func main() {
	initFlags()
	flag.Parse()

	if *helpFull {
		unhideFlags()
		usage()
		return
	} else if *versionFlag {
		showVersion(context.Background())
		return
	}
	if *flags.Verbose {
		goflag.Set("v", "1")
	}
	glog.V(1).Infof("%s", version.GetUserAgent())

	err := paths.Init()
	if err == nil {
		err = loadProfile()
	}
	if err == nil {
		pflagenv.Parse(envPrefix, opFlagNames...)
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		err = run(ctx)
		stop()
	}

	if err != nil {
		glog.Infof("Error: %+v", err)
		color.New(color.FgRed).Fprintf(os.Stderr, "Error: %s\n", err)
		glog.Flush()
		os.Exit(1)
	}
	glog.Flush()
}
