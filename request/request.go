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

// Package request describes what to install: a toolchain distribution, its
// dependencies and where to put them.
package request

import (
	"os"
	"path/filepath"

	"github.com/mitchellh/go-homedir"
	"gopkg.in/yaml.v2"

	"go.chromium.org/luci/common/errors"

	"go.chromium.org/tcdist/common/tcerr"
	"go.chromium.org/tcdist/exclude"
	"go.chromium.org/tcdist/install"
)

// DataDirEnv is the environment variable with the default base installation
// directory.
const DataDirEnv = "TCDIST_DATA_DIR"

// Request is a request to install a distribution and its dependencies.
//
// It is usually loaded from a YAML file:
//
//	base_install_dir: /opt/toolchains
//	distribution: downloads/tc-1.9-linux-x86_64.tar.gz
//	dependencies:
//	  - downloads/lldb-4-linux-x86_64.zip
//	  - downloads/sysroot.tgz
//	exclude:
//	  - "docs/**"
//
// Relative archive paths are relative to the directory of the file.
type Request struct {
	// BaseInstallDir is the root of all installations. If empty, DataDir is
	// used.
	BaseInstallDir string `yaml:"base_install_dir"`
	// ChecksumsDir is where checksum sidecars are kept. Defaults to
	// <BaseInstallDir>/checksums.
	ChecksumsDir string `yaml:"checksums_dir"`
	// Distribution is the archive with the toolchain itself.
	Distribution string `yaml:"distribution"`
	// Dependencies are archives with extra binary dependencies.
	Dependencies []string `yaml:"dependencies"`
	// Excludes are globs of files not to install.
	Excludes []string `yaml:"exclude"`
}

// Load reads and parses a request file.
func Load(path string) (*Request, error) {
	body, err := os.ReadFile(path)
	if err != nil {
		return nil, tcerr.BadArgument.Apply(errors.Annotate(err, "reading request").Err())
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, tcerr.BadArgument.Apply(errors.Annotate(err, "bad request path").Err())
	}
	r, err := Parse(body, filepath.Dir(abs))
	if err != nil {
		return nil, errors.Annotate(err, "in %q", path).Err()
	}
	return r, nil
}

// Parse parses a YAML request. Relative paths are resolved against 'dir'.
func Parse(body []byte, dir string) (*Request, error) {
	r := &Request{}
	if err := yaml.UnmarshalStrict(body, r); err != nil {
		return nil, tcerr.BadArgument.Apply(errors.Annotate(err, "bad request").Err())
	}
	r.makeAbs(dir)
	return r, nil
}

func (r *Request) makeAbs(dir string) {
	abs := func(p string) string {
		if p == "" || filepath.IsAbs(p) {
			return p
		}
		return filepath.Join(dir, filepath.FromSlash(p))
	}
	r.BaseInstallDir = abs(r.BaseInstallDir)
	r.ChecksumsDir = abs(r.ChecksumsDir)
	r.Distribution = abs(r.Distribution)
	for i, d := range r.Dependencies {
		r.Dependencies[i] = abs(d)
	}
}

// Validate checks the request is complete and consistent.
func (r *Request) Validate() error {
	bad := func(format string, args ...any) error {
		return tcerr.BadArgument.Apply(errors.Reason(format, args...).Err())
	}
	if r.Distribution == "" && len(r.Dependencies) == 0 {
		return bad("nothing to install: no distribution and no dependencies")
	}
	if r.BaseInstallDir == "" {
		return bad("base_install_dir is required")
	}
	paths := append([]string{r.BaseInstallDir, r.ChecksumsDir, r.Distribution}, r.Dependencies...)
	for _, p := range paths {
		if p != "" && !filepath.IsAbs(p) {
			return bad("%q: expecting an absolute path", p)
		}
	}
	for _, d := range r.Dependencies {
		if d == "" {
			return bad("empty dependency path")
		}
	}
	if _, err := exclude.New(r.Excludes...); err != nil {
		return err
	}
	return nil
}

// Specs validates the request and returns installation specs for it.
func (r *Request) Specs() ([]*install.Spec, error) {
	if err := r.Validate(); err != nil {
		return nil, err
	}
	excludes, err := exclude.New(r.Excludes...)
	if err != nil {
		return nil, err
	}
	layout := install.Layout{
		BaseInstallDir: filepath.Clean(r.BaseInstallDir),
		ChecksumsDir:   r.ChecksumsDir,
	}
	specs := install.ResolveSpecs(r.Distribution, r.Dependencies, layout, excludes)
	if err := install.CheckLayout(specs); err != nil {
		return nil, err
	}
	return specs, nil
}

// DataDir returns the default base installation directory.
//
// Priority: 'flagValue' > $TCDIST_DATA_DIR > ~/.tcdist.
func DataDir(flagValue string) (string, error) {
	dir := flagValue
	if dir == "" {
		dir = os.Getenv(DataDirEnv)
	}
	if dir == "" {
		home, err := homedir.Dir()
		if err != nil {
			return "", errors.Annotate(err, "failed to resolve home directory").Err()
		}
		dir = filepath.Join(home, ".tcdist")
	}
	dir, err := homedir.Expand(dir)
	if err != nil {
		return "", tcerr.BadArgument.Apply(errors.Annotate(err, "bad data directory %q", dir).Err())
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", tcerr.BadArgument.Apply(errors.Annotate(err, "bad data directory %q", dir).Err())
	}
	return abs, nil
}
