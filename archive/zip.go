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
	"io"
	"os"
	"strings"

	"github.com/klauspost/compress/zip"

	"go.chromium.org/luci/common/errors"
	"go.chromium.org/luci/common/iotools"

	"go.chromium.org/tcdist/common/tcerr"
	"go.chromium.org/tcdist/fs"
)

// maxSymlinkTarget is a limit on the size of a zip entry with a symlink
// target.
const maxSymlinkTarget = 4096

type zipReader struct {
	zr    *zip.ReadCloser
	files []*zip.File // parallel to list
	list  []Entry
}

func openZip(ctx context.Context, path string) (reader, error) {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return nil, tcerr.IO.Apply(errors.Annotate(err, "opening zip").Err())
	}
	r := &zipReader{zr: zr}
	for _, f := range zr.File {
		name := cleanName(strings.ReplaceAll(f.Name, "\\", "/"))
		if name == "" {
			continue
		}
		mode := f.Mode()
		e := Entry{
			Name: name,
			Mode: mode.Perm(),
			Size: int64(f.UncompressedSize64),
		}
		switch {
		case mode&os.ModeSymlink != 0:
			e.Type = TypeSymlink
		case mode.IsDir() || strings.HasSuffix(f.Name, "/"):
			e.Type = TypeDir
		case mode.IsRegular():
			e.Type = TypeFile
		default:
			e.Type = TypeOther
		}
		r.files = append(r.files, f)
		r.list = append(r.list, e)
	}
	return r, nil
}

func (r *zipReader) entries() []Entry { return r.list }

func (r *zipReader) Close() error { return r.zr.Close() }

// validate decompresses all entries, looking for zip bombs.
func (r *zipReader) validate(ctx context.Context, opts *Options) error {
	buf := make([]byte, 64*1024)
	for i, f := range r.files {
		if r.list[i].Type != TypeFile {
			continue
		}
		if err := checkBomb(f, r.list[i].Name, buf, opts.maxRatio(), opts.bombThreshold()); err != nil {
			return err
		}
	}
	return nil
}

// checkBomb streams the entry through its decompressor and fails if it
// decompresses into much more than it takes in the archive.
func checkBomb(f *zip.File, name string, buf []byte, maxRatio float64, threshold int64) error {
	rc, err := f.Open()
	if err != nil {
		return tcerr.IO.Apply(errors.Annotate(err, "%q: opening entry", name).Err())
	}
	defer rc.Close()

	compressed := float64(f.CompressedSize64)
	if compressed < 1 {
		compressed = 1
	}
	cr := &iotools.CountingReader{Reader: rc}
	for {
		_, err := cr.Read(buf)
		if cr.Count >= threshold && float64(cr.Count)/compressed > maxRatio {
			return tcerr.Security.Apply(errors.Reason(
				"%q: compression ratio exceeds %.0f (%d bytes compressed, more than %d decompressed), possible zip bomb",
				name, maxRatio, f.CompressedSize64, cr.Count).Err())
		}
		switch {
		case err == io.EOF:
			return nil
		case err != nil:
			return tcerr.IO.Apply(errors.Annotate(err, "%q: reading entry", name).Err())
		}
	}
}

func (r *zipReader) extract(ctx context.Context, st *fs.Staging, opts *Options, progress *progressReporter) error {
	for i, f := range r.files {
		if err := ctx.Err(); err != nil {
			return err
		}
		e := r.list[i]
		if !opts.included(e) {
			continue
		}
		var err error
		switch e.Type {
		case TypeDir:
			err = st.CreateDir(ctx, e.Name, e.Mode)
		case TypeSymlink:
			err = r.extractSymlink(ctx, st, f, e, opts)
		case TypeFile:
			err = extractFile(ctx, st, e, opts, fs.CreateFileOptions{Exclusive: true}, f.Open)
		default:
			progress.skip(e)
		}
		if err != nil {
			return err
		}
		progress.advance(e)
	}
	return nil
}

func (r *zipReader) extractSymlink(ctx context.Context, st *fs.Staging, f *zip.File, e Entry, opts *Options) error {
	rc, err := f.Open()
	if err != nil {
		return tcerr.IO.Apply(errors.Annotate(err, "%q: opening entry", e.Name).Err())
	}
	defer rc.Close()
	target, err := io.ReadAll(io.LimitReader(rc, maxSymlinkTarget+1))
	if err != nil {
		return tcerr.IO.Apply(errors.Annotate(err, "%q: reading symlink", e.Name).Err())
	}
	if len(target) > maxSymlinkTarget {
		return tcerr.IO.Apply(errors.Reason("%q: symlink target is too long", e.Name).Err())
	}
	return createSymlink(ctx, st, e.Name, string(target), opts)
}

// createSymlink is shared by all formats.
func createSymlink(ctx context.Context, st *fs.Staging, name, target string, opts *Options) error {
	if opts.StrictSymlinks {
		if err := st.CheckSymlinkTarget(name, target); err != nil {
			return err
		}
	}
	return st.CreateSymlink(ctx, name, target, opts.ModTime)
}

// extractFile streams a regular file into the staging directory.
func extractFile(ctx context.Context, st *fs.Staging, e Entry, opts *Options, fopts fs.CreateFileOptions, open func() (io.ReadCloser, error)) (err error) {
	fopts.Mode = e.Mode
	fopts.ModTime = opts.ModTime
	out, err := st.CreateFile(ctx, e.Name, fopts)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := out.Close(); err == nil {
			err = closeErr
		}
	}()
	in, err := open()
	if err != nil {
		return tcerr.IO.Apply(errors.Annotate(err, "%q: opening entry", e.Name).Err())
	}
	defer in.Close()
	if _, err = io.Copy(out, in); err != nil {
		return tcerr.IO.Apply(errors.Annotate(err, "%q: extracting", e.Name).Err())
	}
	return nil
}
