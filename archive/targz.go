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
	"archive/tar"
	"context"
	"io"
	"os"

	"github.com/klauspost/compress/gzip"

	"go.chromium.org/luci/common/data/stringset"
	"go.chromium.org/luci/common/errors"
	"go.chromium.org/luci/common/logging"

	"go.chromium.org/tcdist/common/tcerr"
	"go.chromium.org/tcdist/fs"
)

// tarGzReader reads a tarball twice: once when opened to collect the headers
// and once more when extracting.
type tarGzReader struct {
	path string
	list []Entry
}

func openTarGz(ctx context.Context, path string) (reader, error) {
	r := &tarGzReader{path: path}
	err := r.scan(func(hdr *tar.Header, e Entry, _ io.Reader) error {
		r.list = append(r.list, e)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return r, nil
}

// scan calls the callback for each entry of the tarball, in order.
//
// The callback may read the body of a regular file.
func (r *tarGzReader) scan(cb func(hdr *tar.Header, e Entry, body io.Reader) error) error {
	f, err := os.Open(r.path)
	if err != nil {
		return tcerr.IO.Apply(errors.Annotate(err, "opening tarball").Err())
	}
	defer f.Close()
	gz, err := gzip.NewReader(f)
	if err != nil {
		return tcerr.IO.Apply(errors.Annotate(err, "opening gzip stream").Err())
	}
	defer gz.Close()

	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return tcerr.IO.Apply(errors.Annotate(err, "reading tarball").Err())
		}
		e := tarEntry(hdr)
		if e.Name == "" {
			continue
		}
		if err := cb(hdr, e, tr); err != nil {
			return err
		}
	}
}

func tarEntry(hdr *tar.Header) Entry {
	e := Entry{
		Name: cleanName(hdr.Name),
		Mode: os.FileMode(hdr.Mode).Perm(),
		Size: hdr.Size,
	}
	switch hdr.Typeflag {
	case tar.TypeReg:
		e.Type = TypeFile
	case tar.TypeDir:
		e.Type = TypeDir
	case tar.TypeSymlink:
		e.Type = TypeSymlink
	case tar.TypeLink:
		e.Type = TypeHardlink
		e.Linkname = cleanName(hdr.Linkname)
	default:
		e.Type = TypeOther
	}
	return e
}

func (r *tarGzReader) entries() []Entry { return r.list }

func (r *tarGzReader) Close() error { return nil }

// validate is a noop: tarballs are streamed, the compressed size of
// individual entries is unknown.
func (r *tarGzReader) validate(ctx context.Context, opts *Options) error {
	return nil
}

func (r *tarGzReader) extract(ctx context.Context, st *fs.Staging, opts *Options, progress *progressReporter) error {
	var links []Entry
	extracted := stringset.New(len(r.list))

	err := r.scan(func(hdr *tar.Header, e Entry, body io.Reader) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if !opts.included(e) {
			return nil
		}
		var err error
		switch e.Type {
		case TypeDir:
			err = st.CreateDir(ctx, e.Name, e.Mode)
		case TypeSymlink:
			err = createSymlink(ctx, st, e.Name, hdr.Linkname, opts)
		case TypeFile:
			err = extractFile(ctx, st, e, opts, fs.CreateFileOptions{}, func() (io.ReadCloser, error) {
				return io.NopCloser(body), nil
			})
		case TypeHardlink:
			// The target may appear later in the tarball.
			links = append(links, e)
			return nil
		default:
			progress.skip(e)
			return nil
		}
		if err != nil {
			return err
		}
		extracted.Add(e.Name)
		progress.advance(e)
		return nil
	})
	if err != nil {
		return err
	}

	for _, e := range links {
		if !extracted.Has(e.Linkname) {
			logging.Warningf(ctx, "Skipping hard link %q: its target %q was not extracted", e.Name, e.Linkname)
			continue
		}
		if err := st.CreateHardlink(ctx, e.Name, e.Linkname); err != nil {
			return err
		}
		extracted.Add(e.Name)
		progress.advance(e)
	}
	return nil
}
