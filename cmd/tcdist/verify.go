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
	"os"
	"strings"

	"github.com/maruel/subcommands"

	"go.chromium.org/luci/common/cli"
	"go.chromium.org/luci/common/data/text"
	"go.chromium.org/luci/common/errors"

	"go.chromium.org/tcdist/common/tcerr"
	"go.chromium.org/tcdist/verify"
)

var cmdVerify = &subcommands.Command{
	UsageLine: "verify -request <path> [options]",
	ShortDesc: "checks installations match their stored checksums",
	LongDesc: text.Doc(`
		Recomputes checksums of installation directories of the request and
		compares them to the stored ones. Exits with code 5 if some
		installation is invalid.
	`),
	CommandRun: func() subcommands.CommandRun {
		r := &verifyRun{}
		r.registerRequestFlags()
		r.Flags.StringVar(&r.jsonOutput, "json-output", "", "Path to write the report to as JSON.")
		return r
	},
}

type verifyRun struct {
	requestCommandRun

	jsonOutput string
}

func (r *verifyRun) Run(a subcommands.Application, args []string, env subcommands.Env) int {
	ctx := r.modifyContext(cli.GetContext(a, r, env))
	report, err := r.exec(ctx, args)
	if err != nil {
		return r.done(ctx, err)
	}
	if !report.Valid() {
		return exitInvalid
	}
	return 0
}

func (r *verifyRun) exec(ctx context.Context, args []string) (*verify.Report, error) {
	specs, err := r.loadSpecs(args)
	if err != nil {
		return nil, err
	}
	report := verify.Check(ctx, specs)

	for _, d := range report.Dependencies {
		if d.Status.Valid {
			r.printf("OK       %s\n", d.InstallDir)
			continue
		}
		r.printf("INVALID  %s: %s\n", d.InstallDir, d.Status.Reason)
		if d.Status.Details != "" {
			r.printf("%s\n", indent(d.Status.Details, "    "))
		}
	}

	if r.jsonOutput != "" {
		if err := writeJSON(r.jsonOutput, report); err != nil {
			return nil, err
		}
	}
	return report, nil
}

func indent(s, prefix string) string {
	return prefix + strings.ReplaceAll(strings.TrimRight(s, "\n"), "\n", "\n"+prefix)
}

func writeJSON(path string, report *verify.Report) error {
	f, err := os.Create(path)
	if err != nil {
		return tcerr.IO.Apply(errors.Annotate(err, "writing JSON output").Err())
	}
	err = report.WriteJSON(f)
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return tcerr.IO.Apply(errors.Annotate(err, "writing JSON output").Err())
	}
	return nil
}
