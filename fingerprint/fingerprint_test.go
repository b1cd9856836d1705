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

package fingerprint

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"go.chromium.org/luci/common/testing/ftt"
	"go.chromium.org/luci/common/testing/truth/assert"
	"go.chromium.org/luci/common/testing/truth/should"

	"go.chromium.org/tcdist/common/tcerr"
	"go.chromium.org/tcdist/exclude"
)

var testTime = time.Date(2021, 5, 6, 7, 8, 9, 0, time.UTC)

func put(t testing.TB, root, rel, body string) string {
	t.Helper()
	path := filepath.Join(root, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(path), 0777); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.Chtimes(path, testTime, testTime); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestCompute(t *testing.T) {
	t.Parallel()

	ftt.Run("With files", t, func(t *ftt.Test) {
		ctx := context.Background()
		root := t.TempDir()
		a := put(t, root, "a.txt", "aaa")
		b := put(t, root, "dir/b.txt", "bbb")

		compute := func(paths []string, opts Options) Digest {
			d, err := Compute(ctx, paths, opts)
			assert.Loosely(t, err, should.BeNil)
			assert.Loosely(t, d, should.HaveLength(32))
			return d
		}

		t.Run("Is deterministic and order independent", func(t *ftt.Test) {
			for _, mode := range []Mode{Content, Metadata} {
				opts := Options{BaseDir: root, Mode: mode}
				d1 := compute([]string{a, b}, opts)
				d2 := compute([]string{b, a}, opts)
				d3 := compute([]string{"dir/b.txt", "a.txt"}, opts)
				assert.Loosely(t, d1.Equal(d2), should.BeTrue)
				assert.Loosely(t, d1.Equal(d3), should.BeTrue)
			}
		})

		t.Run("Digest round trip", func(t *ftt.Test) {
			d := compute([]string{a}, Options{})
			parsed, err := ParseDigest(d.String())
			assert.Loosely(t, err, should.BeNil)
			assert.Loosely(t, parsed.Equal(d), should.BeTrue)

			_, err = ParseDigest("AAAA")
			assert.Loosely(t, err, should.ErrLike("expecting 32 bytes"))
			_, err = ParseDigest("not base64!")
			assert.Loosely(t, err, should.ErrLike("malformed digest"))
		})

		t.Run("Content mode ignores mtime", func(t *ftt.Test) {
			before := compute([]string{a, b}, Options{BaseDir: root})
			later := testTime.Add(time.Hour)
			assert.Loosely(t, os.Chtimes(a, later, later), should.BeNil)
			after := compute([]string{a, b}, Options{BaseDir: root})
			assert.Loosely(t, after.Equal(before), should.BeTrue)
		})

		t.Run("Metadata mode sees mtime", func(t *ftt.Test) {
			before := compute([]string{a, b}, Options{BaseDir: root, Mode: Metadata})
			later := testTime.Add(time.Hour)
			assert.Loosely(t, os.Chtimes(a, later, later), should.BeNil)
			after := compute([]string{a, b}, Options{BaseDir: root, Mode: Metadata})
			assert.Loosely(t, after.Equal(before), should.BeFalse)
		})

		t.Run("Content mode sees content", func(t *ftt.Test) {
			before := compute([]string{a}, Options{})
			put(t, root, "a.txt", "AAA")
			after := compute([]string{a}, Options{})
			assert.Loosely(t, after.Equal(before), should.BeFalse)
		})

		t.Run("Renames are detected only with BaseDir", func(t *ftt.Test) {
			withBase := compute([]string{a}, Options{BaseDir: root})
			noBase := compute([]string{a}, Options{})

			assert.Loosely(t, os.Rename(a, filepath.Join(root, "renamed.txt")), should.BeNil)
			renamed := filepath.Join(root, "renamed.txt")

			assert.Loosely(t, compute([]string{renamed}, Options{BaseDir: root}).Equal(withBase), should.BeFalse)
			assert.Loosely(t, compute([]string{renamed}, Options{}).Equal(noBase), should.BeTrue)
		})

		t.Run("Is relocatable", func(t *ftt.Test) {
			other := t.TempDir()
			put(t, other, "a.txt", "aaa")
			put(t, other, "dir/b.txt", "bbb")
			for _, mode := range []Mode{Content, Metadata} {
				d1 := compute([]string{"a.txt", "dir/b.txt"}, Options{BaseDir: root, Mode: mode})
				d2 := compute([]string{"a.txt", "dir/b.txt"}, Options{BaseDir: other, Mode: mode})
				assert.Loosely(t, d1.Equal(d2), should.BeTrue)
			}
		})

		t.Run("Extra metadata changes the digest", func(t *ftt.Test) {
			d1 := compute([]string{a}, Options{})
			d2 := compute([]string{a}, Options{ExtraMetadata: []string{"**/*.pdb"}})
			d3 := compute([]string{a}, Options{ExtraMetadata: []string{"**/*.pdb"}})
			assert.Loosely(t, d1.Equal(d2), should.BeFalse)
			assert.Loosely(t, d2.Equal(d3), should.BeTrue)
		})

		t.Run("Symlinks are hashed by target", func(t *ftt.Test) {
			if runtime.GOOS == "windows" {
				t.Skip("symlinks need privileges on Windows")
			}
			link := filepath.Join(root, "link")
			assert.Loosely(t, os.Symlink("a.txt", link), should.BeNil)
			d1 := compute([]string{link}, Options{BaseDir: root})

			assert.Loosely(t, os.Remove(link), should.BeNil)
			assert.Loosely(t, os.Symlink("dir/b.txt", link), should.BeNil)
			d2 := compute([]string{link}, Options{BaseDir: root})
			assert.Loosely(t, d1.Equal(d2), should.BeFalse)
		})

		t.Run("Empty path set", func(t *ftt.Test) {
			_, err := Compute(ctx, nil, Options{})
			assert.Loosely(t, err, should.ErrLike("no paths to fingerprint"))
			assert.Loosely(t, tcerr.ToCode(err), should.Equal(tcerr.BadArgument))
		})

		t.Run("BaseDir is not a directory", func(t *ftt.Test) {
			_, err := Compute(ctx, []string{a}, Options{BaseDir: a})
			assert.Loosely(t, err, should.ErrLike("is not a directory"))
			assert.Loosely(t, tcerr.ToCode(err), should.Equal(tcerr.BadArgument))
		})

		t.Run("Path outside of BaseDir", func(t *ftt.Test) {
			_, err := Compute(ctx, []string{a}, Options{BaseDir: filepath.Join(root, "dir")})
			assert.Loosely(t, err, should.ErrLike("is not under the base directory"))
			assert.Loosely(t, tcerr.ToCode(err), should.Equal(tcerr.BadArgument))
		})

		t.Run("Missing file", func(t *ftt.Test) {
			_, err := Compute(ctx, []string{filepath.Join(root, "missing")}, Options{})
			assert.Loosely(t, tcerr.ToCode(err), should.Equal(tcerr.IO))
		})
	})
}

func TestTree(t *testing.T) {
	t.Parallel()

	ftt.Run("With a tree", t, func(t *ftt.Test) {
		ctx := context.Background()
		root := t.TempDir()
		put(t, root, "bin/tool", "tool")
		put(t, root, "lib/libx.so", "libx")
		put(t, root, "docs/index.html", "docs")
		put(t, root, "CACHEDIR.TAG", "Signature: ...")

		t.Run("Listing", func(t *ftt.Test) {
			_, listing, err := Tree(ctx, root, nil, Metadata, nil)
			assert.Loosely(t, err, should.BeNil)

			var names []string
			for _, e := range listing {
				names = append(names, e.Path)
			}
			assert.Loosely(t, names, should.Match([]string{
				"bin", "bin/tool", "docs", "docs/index.html", "lib", "lib/libx.so",
			}))
			assert.Loosely(t, listing[1], should.Match(Entry{
				Path:    "bin/tool",
				Size:    4,
				Kind:    KindFile,
				ModTime: testTime,
			}))
			assert.Loosely(t, listing[1].String(), should.Equal(
				`"bin/tool" size=4 kind=file symlink=false mtime=2021-05-06T07:08:09Z`))
			assert.Loosely(t, listing[0].String(), should.Equal(
				`"bin" size=0 kind=dir symlink=false mtime=-`))
		})

		t.Run("Cache tag is ignored", func(t *ftt.Test) {
			d1, _, err := Tree(ctx, root, nil, Metadata, nil)
			assert.Loosely(t, err, should.BeNil)
			later := testTime.Add(time.Hour)
			assert.Loosely(t, os.Chtimes(filepath.Join(root, "CACHEDIR.TAG"), later, later), should.BeNil)
			d2, _, err := Tree(ctx, root, nil, Metadata, nil)
			assert.Loosely(t, err, should.BeNil)
			assert.Loosely(t, d1.Equal(d2), should.BeTrue)
		})

		t.Run("Excludes", func(t *ftt.Test) {
			excl := exclude.Must("docs/**", "docs")
			d1, listing, err := Tree(ctx, root, excl, Metadata, excl.Patterns())
			assert.Loosely(t, err, should.BeNil)
			assert.Loosely(t, listing, should.HaveLength(4))

			// Excluded files don't affect the digest.
			put(t, root, "docs/more.html", "more")
			d2, _, err := Tree(ctx, root, excl, Metadata, excl.Patterns())
			assert.Loosely(t, err, should.BeNil)
			assert.Loosely(t, d1.Equal(d2), should.BeTrue)

			// Included ones do.
			put(t, root, "bin/other", "other")
			d3, _, err := Tree(ctx, root, excl, Metadata, excl.Patterns())
			assert.Loosely(t, err, should.BeNil)
			assert.Loosely(t, d1.Equal(d3), should.BeFalse)
		})

		t.Run("Empty tree", func(t *ftt.Test) {
			empty := t.TempDir()
			_, _, err := Tree(ctx, empty, nil, Metadata, nil)
			assert.Loosely(t, err, should.ErrLike("nothing to fingerprint"))
		})

		t.Run("Missing tree", func(t *ftt.Test) {
			_, _, err := Tree(ctx, filepath.Join(root, "missing"), nil, Metadata, nil)
			assert.Loosely(t, tcerr.ToCode(err), should.Equal(tcerr.IO))
		})
	})
}
