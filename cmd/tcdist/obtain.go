// Copyright 2026 The LUCI Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"context"

	"github.com/maruel/subcommands"

	"go.chromium.org/luci/common/cli"
	"go.chromium.org/luci/common/data/text"

	"go.chromium.org/tcdist/install"
)

var cmdObtain = &subcommands.Command{
	UsageLine: "obtain -request <path> [options]",
	ShortDesc: "installs a toolchain distribution and its dependencies",
	LongDesc: text.Doc(`
		Installs archives listed in the request, skipping ones already installed
		and unchanged since. Prints the base installation directory.
	`),
	CommandRun: func() subcommands.CommandRun {
		r := &obtainRun{}
		r.registerRequestFlags()
		r.Flags.IntVar(&r.workers, "workers", install.DefaultWorkers, "Maximum number of archives to install in parallel.")
		r.Flags.StringVar(&r.lockFile, "lock-file", "", "If set, a file to use as a cross-process lock while installing.")
		r.Flags.BoolVar(&r.strictSymlinks, "strict-symlinks", false, "Reject symlinks pointing outside of installation directories.")
		return r
	},
}

type obtainRun struct {
	requestCommandRun

	workers        int
	lockFile       string
	strictSymlinks bool
}

func (r *obtainRun) Run(a subcommands.Application, args []string, env subcommands.Env) int {
	ctx := r.modifyContext(cli.GetContext(a, r, env))
	return r.done(ctx, r.exec(ctx, args))
}

func (r *obtainRun) exec(ctx context.Context, args []string) error {
	specs, err := r.loadSpecs(args)
	if err != nil {
		return err
	}
	installer := install.NewInstaller(install.Options{
		Workers:        r.workers,
		LockFile:       r.lockFile,
		StrictSymlinks: r.strictSymlinks,
	})
	base, err := installer.Obtain(ctx, specs)
	if err != nil {
		return err
	}
	r.printf("%s\n", base)
	return nil
}
