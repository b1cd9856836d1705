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

package archive

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"go.chromium.org/luci/common/errors"

	"go.chromium.org/tcdist/common/tcerr"
	"go.chromium.org/tcdist/fs"
)

// Format is a supported archive format.
type Format int

const (
	// Zip is a zip archive, ".zip".
	Zip Format = iota + 1
	// TarGz is a gzipped tarball, ".tar.gz" or ".tgz".
	TarGz
)

// String implements fmt.Stringer.
func (f Format) String() string {
	switch f {
	case Zip:
		return "zip"
	case TarGz:
		return "tar.gz"
	default:
		return fmt.Sprintf("Format(%d)", int(f))
	}
}

// strategy implements reading of some archive format.
type strategy struct {
	exts []string
	open func(ctx context.Context, path string) (reader, error)
}

// reader is an opened archive.
type reader interface {
	// entries returns headers of all entries in the archive, in archive order.
	entries() []Entry
	// validate checks the content of entries without writing anything.
	validate(ctx context.Context, opts *Options) error
	// extract writes included entries into the staging directory.
	extract(ctx context.Context, st *fs.Staging, opts *Options, progress *progressReporter) error
	// Close releases the underlying file.
	Close() error
}

var strategies = map[Format]strategy{
	Zip:   {exts: []string{".zip"}, open: openZip},
	TarGz: {exts: []string{".tar.gz", ".tgz"}, open: openTarGz},
}

// formatOrder is the order extensions are tried in.
var formatOrder = []Format{Zip, TarGz}

// DetectFormat returns the format of the archive based on its file name.
func DetectFormat(path string) (Format, error) {
	name := strings.ToLower(filepath.Base(path))
	for _, f := range formatOrder {
		for _, ext := range strategies[f].exts {
			if strings.HasSuffix(name, ext) {
				return f, nil
			}
		}
	}
	return 0, tcerr.BadArgument.Apply(errors.Reason("unsupported archive format of %q, expecting .zip, .tar.gz or .tgz", path).Err())
}

// TrimExt returns the base name of the archive without its format extension.
//
// The name is returned as is if it doesn't have a supported extension.
func TrimExt(path string) string {
	name := filepath.Base(path)
	lower := strings.ToLower(name)
	for _, f := range formatOrder {
		for _, ext := range strategies[f].exts {
			if strings.HasSuffix(lower, ext) {
				return name[:len(name)-len(ext)]
			}
		}
	}
	return name
}

func (f Format) open(ctx context.Context, path string) (reader, error) {
	s, ok := strategies[f]
	if !ok {
		return nil, tcerr.BadArgument.Apply(errors.Reason("unknown archive format %s", f).Err())
	}
	return s.open(ctx, path)
}
