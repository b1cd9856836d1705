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

// Package archivetest builds zip and tar.gz archives for tests.
package archivetest

import (
	"archive/tar"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zip"
)

// Type is a type of an entry to put into an archive.
type Type int

const (
	File Type = iota
	Dir
	Symlink
	Hardlink // tar only
)

// Entry is an entry to put into an archive.
type Entry struct {
	Name     string
	Body     string // file body
	Mode     os.FileMode
	Type     Type
	Linkname string // symlink or hard link target
}

// ModTime is the mtime of all entries of generated archives.
var ModTime = time.Date(2019, 3, 4, 5, 6, 7, 0, time.UTC)

// WriteZip writes a zip archive with the given entries.
func WriteZip(t testing.TB, path string, entries []Entry) string {
	t.Helper()
	out := create(t, path)
	zw := zip.NewWriter(out)
	for _, e := range entries {
		fh := zip.FileHeader{Name: e.Name, Method: zip.Deflate, Modified: ModTime}
		body := e.Body
		switch e.Type {
		case Dir:
			if e.Name[len(e.Name)-1] != '/' {
				fh.Name += "/"
			}
			fh.Method = zip.Store
			fh.SetMode(os.ModeDir | mode(e, 0755))
		case Symlink:
			fh.SetMode(os.ModeSymlink | 0777)
			body = e.Linkname
		case Hardlink:
			t.Fatalf("zip doesn't support hard links: %q", e.Name)
		default:
			fh.SetMode(mode(e, 0644))
		}
		w, err := zw.CreateHeader(&fh)
		if err != nil {
			t.Fatalf("adding %q: %s", e.Name, err)
		}
		if _, err := io.WriteString(w, body); err != nil {
			t.Fatalf("writing %q: %s", e.Name, err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("closing zip: %s", err)
	}
	closeFile(t, out)
	return path
}

// WriteTarGz writes a gzipped tarball with the given entries.
func WriteTarGz(t testing.TB, path string, entries []Entry) string {
	t.Helper()
	out := create(t, path)
	gz := gzip.NewWriter(out)
	tw := tar.NewWriter(gz)
	for _, e := range entries {
		hdr := &tar.Header{Name: e.Name, ModTime: ModTime, Format: tar.FormatPAX}
		switch e.Type {
		case Dir:
			hdr.Typeflag = tar.TypeDir
			hdr.Mode = int64(mode(e, 0755))
		case Symlink:
			hdr.Typeflag = tar.TypeSymlink
			hdr.Linkname = e.Linkname
			hdr.Mode = 0777
		case Hardlink:
			hdr.Typeflag = tar.TypeLink
			hdr.Linkname = e.Linkname
		default:
			hdr.Typeflag = tar.TypeReg
			hdr.Mode = int64(mode(e, 0644))
			hdr.Size = int64(len(e.Body))
		}
		if err := tw.WriteHeader(hdr); err != nil {
			t.Fatalf("adding %q: %s", e.Name, err)
		}
		if hdr.Typeflag == tar.TypeReg {
			if _, err := io.WriteString(tw, e.Body); err != nil {
				t.Fatalf("writing %q: %s", e.Name, err)
			}
		}
	}
	if err := tw.Close(); err != nil {
		t.Fatalf("closing tar: %s", err)
	}
	if err := gz.Close(); err != nil {
		t.Fatalf("closing gzip: %s", err)
	}
	closeFile(t, out)
	return path
}

// Toolchain returns entries of a small toolchain-like archive with a single
// top-level directory.
func Toolchain(root string) []Entry {
	return []Entry{
		{Name: root + "/", Type: Dir},
		{Name: root + "/bin/", Type: Dir},
		{Name: root + "/bin/compiler", Body: "#!/bin/sh\necho compiling\n", Mode: 0755},
		{Name: root + "/lib/libruntime.a", Body: "runtime"},
		{Name: root + "/docs/README.md", Body: "# " + root},
	}
}

func mode(e Entry, def os.FileMode) os.FileMode {
	if e.Mode != 0 {
		return e.Mode.Perm()
	}
	return def
}

func create(t testing.TB, path string) *os.File {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0777); err != nil {
		t.Fatalf("creating parent of %q: %s", path, err)
	}
	out, err := os.Create(path)
	if err != nil {
		t.Fatalf("creating %q: %s", path, err)
	}
	return out
}

func closeFile(t testing.TB, f *os.File) {
	t.Helper()
	if err := f.Close(); err != nil {
		t.Fatalf("closing %q: %s", f.Name(), err)
	}
}
