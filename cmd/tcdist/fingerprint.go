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
	luciflag "go.chromium.org/luci/common/flag"

	"go.chromium.org/tcdist/common/tcerr"
	"go.chromium.org/tcdist/fingerprint"
)

var cmdFingerprint = &subcommands.Command{
	UsageLine: "fingerprint [options] <path> [<path>...]",
	ShortDesc: "prints a checksum of files",
	LongDesc: text.Doc(`
		Prints a checksum of the given files as computed for checksum sidecars.

		By default hashes file contents. With -metadata hashes names, sizes and
		modification times instead. With -base-dir paths are hashed relative
		to it, so renames change the checksum.
	`),
	CommandRun: func() subcommands.CommandRun {
		r := &fingerprintRun{}
		r.registerBaseFlags()
		r.Flags.StringVar(&r.baseDir, "base-dir", "", "Directory to hash paths relative to.")
		r.Flags.BoolVar(&r.metadata, "metadata", false, "Hash metadata instead of contents.")
		r.Flags.Var(luciflag.StringSlice(&r.extra), "extra", "Extra string to mix into the checksum. Can be repeated.")
		return r
	},
}

type fingerprintRun struct {
	baseCommandRun

	baseDir  string
	metadata bool
	extra    []string
}

func (r *fingerprintRun) Run(a subcommands.Application, args []string, env subcommands.Env) int {
	ctx := r.modifyContext(cli.GetContext(a, r, env))
	return r.done(ctx, r.exec(ctx, args))
}

func (r *fingerprintRun) exec(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return tcerr.BadArgument.Apply(errors.Reason("expecting at least one path").Err())
	}
	mode := fingerprint.Content
	if r.metadata {
		mode = fingerprint.Metadata
	}
	digest, err := fingerprint.Compute(ctx, args, fingerprint.Options{
		BaseDir:       r.baseDir,
		Mode:          mode,
		ExtraMetadata: r.extra,
	})
	if err != nil {
		return err
	}
	r.printf("%s\n", digest)
	return nil
}
