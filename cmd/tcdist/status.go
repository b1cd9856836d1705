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
	"go.chromium.org/luci/common/errors"
	"go.chromium.org/luci/common/sync/parallel"

	"go.chromium.org/tcdist/install"
)

var cmdStatus = &subcommands.Command{
	UsageLine: "status -request <path> [options]",
	ShortDesc: "prints the state of installations without changing them",
	LongDesc: text.Doc(`
		Prints one line per archive of the request: whether it is up-to-date,
		needs to be installed or looks partially installed.
	`),
	CommandRun: func() subcommands.CommandRun {
		r := &statusRun{}
		r.registerRequestFlags()
		return r
	},
}

type statusRun struct {
	requestCommandRun
}

func (r *statusRun) Run(a subcommands.Application, args []string, env subcommands.Env) int {
	ctx := r.modifyContext(cli.GetContext(a, r, env))
	return r.done(ctx, r.exec(ctx, args))
}

func (r *statusRun) exec(ctx context.Context, args []string) error {
	specs, err := r.loadSpecs(args)
	if err != nil {
		return err
	}
	checker := &install.Checker{}
	states := make([]install.State, len(specs))
	err = parallel.FanOutIn(func(work chan<- func() error) {
		for i, spec := range specs {
			work <- func() (err error) {
				states[i], err = checker.Check(ctx, spec)
				return
			}
		}
	})
	if err != nil {
		return errors.Annotate(err, "checking installations").Err()
	}
	for i, spec := range specs {
		r.printf("%-20s %s\n", states[i].Verdict(), spec.InstallDir)
		for _, m := range states[i].Missing {
			r.printf("%-20s   missing %s\n", "", m)
		}
	}
	return nil
}
