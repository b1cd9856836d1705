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
	"fmt"
	"io"
	"os"

	"github.com/maruel/subcommands"

	"go.chromium.org/luci/common/errors"
	"go.chromium.org/luci/common/logging"

	"go.chromium.org/tcdist/common/tcerr"
	"go.chromium.org/tcdist/install"
	"go.chromium.org/tcdist/request"
)

// exitInvalid is returned by 'verify' when some installation is invalid.
const exitInvalid = 5

// baseCommandRun carries flags shared by all subcommands.
type baseCommandRun struct {
	subcommands.CommandRunBase

	logConfig logging.Config
	out       io.Writer
}

func (r *baseCommandRun) registerBaseFlags() {
	r.logConfig.Level = logging.Info
	r.logConfig.AddFlags(&r.Flags)
	r.out = os.Stdout
}

func (r *baseCommandRun) modifyContext(ctx context.Context) context.Context {
	return r.logConfig.Set(ctx)
}

// done prints the error and returns an exit code for it.
func (r *baseCommandRun) done(ctx context.Context, err error) int {
	if err == nil {
		return 0
	}
	var merr errors.MultiError
	if errors.As(err, &merr) {
		for _, e := range merr {
			if e != nil {
				logging.Errorf(ctx, "%s", e)
			}
		}
	} else {
		logging.Errorf(ctx, "%s", err)
	}
	return tcerr.ToCode(err).ExitCode()
}

func (r *baseCommandRun) printf(format string, args ...any) {
	fmt.Fprintf(r.out, format, args...)
}

// requestCommandRun is a command that works with a request file.
type requestCommandRun struct {
	baseCommandRun

	requestPath string
	dataDir     string
}

func (r *requestCommandRun) registerRequestFlags() {
	r.registerBaseFlags()
	r.Flags.StringVar(&r.requestPath, "request", "", "Path to a YAML file with the install request.")
	r.Flags.StringVar(&r.dataDir, "data-dir", "",
		fmt.Sprintf("Base installation directory if the request doesn't have one. Defaults to $%s or ~/.tcdist.", request.DataDirEnv))
}

// loadSpecs loads the request and resolves installation specs.
func (r *requestCommandRun) loadSpecs(args []string) ([]*install.Spec, error) {
	if len(args) != 0 {
		return nil, tcerr.BadArgument.Apply(errors.Reason("unexpected positional arguments %q", args).Err())
	}
	if r.requestPath == "" {
		return nil, tcerr.BadArgument.Apply(errors.Reason("-request is required").Err())
	}
	req, err := request.Load(r.requestPath)
	if err != nil {
		return nil, err
	}
	if req.BaseInstallDir == "" {
		if req.BaseInstallDir, err = request.DataDir(r.dataDir); err != nil {
			return nil, err
		}
	}
	return req.Specs()
}
