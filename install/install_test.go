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

package install

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"go.chromium.org/luci/common/clock/testclock"
	"go.chromium.org/luci/common/errors"
	"go.chromium.org/luci/common/logging"
	"go.chromium.org/luci/common/logging/memlogger"
	"go.chromium.org/luci/common/testing/ftt"
	"go.chromium.org/luci/common/testing/truth/assert"
	"go.chromium.org/luci/common/testing/truth/should"

	"go.chromium.org/tcdist/archive/archivetest"
	"go.chromium.org/tcdist/common/tcerr"
	"go.chromium.org/tcdist/exclude"
)

func hasLog(logs *memlogger.MemLogger, substr string) bool {
	for _, m := range logs.Messages() {
		if strings.Contains(m.Msg, substr) {
			return true
		}
	}
	return false
}

func listDir(t testing.TB, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("listing %q: %s", dir, err)
	}
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names
}

func readBody(t testing.TB, path string) string {
	t.Helper()
	body, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading %q: %s", path, err)
	}
	return string(body)
}

func TestResolveSpecs(t *testing.T) {
	t.Parallel()

	ftt.Run("ResolveSpecs", t, func(t *ftt.Test) {
		base := filepath.FromSlash("/data/tc")

		specs := ResolveSpecs(
			"/dl/tc-1.9-linux.tar.gz",
			[]string{"/dl/lldb-4.zip", "/dl/sysroot.tgz", "/mirror/lldb-4.zip", "/dl/tc-1.9-linux.zip"},
			Layout{BaseInstallDir: base},
			nil)

		assert.Loosely(t, specs, should.HaveLength(3))
		assert.Loosely(t, specs[0], should.Match(&Spec{
			SourceArchive:          "/dl/tc-1.9-linux.tar.gz",
			Primary:                true,
			BaseInstallDir:         base,
			InstallDir:             filepath.Join(base, "tc-1.9-linux"),
			ArchiveChecksumFile:    filepath.Join(base, "checksums", "tc-1.9-linux.tar.gz.hash"),
			InstallDirChecksumFile: filepath.Join(base, "checksums", "tc-1.9-linux.hash"),
			InstallDirCacheTagFile: filepath.Join(base, "tc-1.9-linux", "CACHEDIR.TAG"),
		}))
		assert.Loosely(t, specs[1].SourceArchive, should.Equal("/dl/lldb-4.zip"))
		assert.Loosely(t, specs[1].Primary, should.BeFalse)
		assert.Loosely(t, specs[1].InstallDir, should.Equal(filepath.Join(base, "dependencies", "lldb-4")))
		assert.Loosely(t, specs[1].InstallDirChecksumFile, should.Equal(filepath.Join(base, "checksums", "dependencies_lldb-4.hash")))
		assert.Loosely(t, specs[2].InstallDir, should.Equal(filepath.Join(base, "dependencies", "sysroot")))
	})

	ftt.Run("Custom checksums dir", t, func(t *ftt.Test) {
		specs := ResolveSpecs("/dl/tc.zip", nil, Layout{
			BaseInstallDir: filepath.FromSlash("/data/tc"),
			ChecksumsDir:   filepath.FromSlash("/state/sums"),
		}, nil)
		assert.Loosely(t, specs, should.HaveLength(1))
		assert.Loosely(t, specs[0].ArchiveChecksumFile, should.Equal(filepath.FromSlash("/state/sums/tc.zip.hash")))
	})

	ftt.Run("CheckLayout", t, func(t *ftt.Test) {
		layout := Layout{BaseInstallDir: filepath.FromSlash("/data/tc")}

		t.Run("OK", func(t *ftt.Test) {
			specs := ResolveSpecs("/dl/tc.zip", []string{"/dl/lldb.zip", "/dl/sysroot.tgz"}, layout, nil)
			assert.Loosely(t, CheckLayout(specs), should.BeNil)
		})

		t.Run("Shared tree checksum", func(t *ftt.Test) {
			specs := ResolveSpecs("/dl/dependencies_x.tar.gz", []string{"/dl/x.zip"}, layout, nil)
			err := CheckLayout(specs)
			assert.Loosely(t, err, should.ErrLike(`would share the checksum file`))
			assert.Loosely(t, err, should.ErrLike("dependencies_x.hash"))
			assert.Loosely(t, tcerr.ToCode(err), should.Equal(tcerr.BadArgument))
		})

		t.Run("Primary over the dependencies directory", func(t *ftt.Test) {
			specs := ResolveSpecs("/dl/dependencies.zip", nil, layout, nil)
			assert.Loosely(t, CheckLayout(specs), should.ErrLike(`installed into the "dependencies" directory`))
		})

		t.Run("Primary over the checksums directory", func(t *ftt.Test) {
			specs := ResolveSpecs("/dl/checksums.tar.gz", nil, layout, nil)
			assert.Loosely(t, CheckLayout(specs), should.ErrLike("is inside the installation directory of checksums.tar.gz"))
		})

		t.Run("Custom checksums directory inside an installation", func(t *ftt.Test) {
			custom := layout
			custom.ChecksumsDir = filepath.FromSlash("/data/tc/tc/sums")
			specs := ResolveSpecs("/dl/tc.zip", nil, custom, nil)
			assert.Loosely(t, CheckLayout(specs), should.ErrLike("is inside the installation directory"))
		})
	})

	ftt.Run("No distribution", t, func(t *ftt.Test) {
		specs := ResolveSpecs("", []string{"/dl/a.zip"}, Layout{BaseInstallDir: "/b"}, nil)
		assert.Loosely(t, specs, should.HaveLength(1))
		assert.Loosely(t, specs[0].Primary, should.BeFalse)
	})
}

func TestObtain(t *testing.T) {
	t.Parallel()

	ftt.Run("With archives", t, func(t *ftt.Test) {
		ctx := memlogger.Use(context.Background())
		ctx, _ = testclock.UseTime(ctx, testclock.TestRecentTimeUTC)
		logs := logging.Get(ctx).(*memlogger.MemLogger)

		tmp := t.TempDir()
		downloads := filepath.Join(tmp, "downloads")
		base := filepath.Join(tmp, "data")
		layout := Layout{BaseInstallDir: base}

		dist := archivetest.WriteTarGz(t, filepath.Join(downloads, "tc-1.9-linux.tar.gz"), archivetest.Toolchain("tc-1.9"))
		lldb := archivetest.WriteZip(t, filepath.Join(downloads, "lldb-4.zip"), archivetest.Toolchain("lldb-4"))
		sysroot := archivetest.WriteTarGz(t, filepath.Join(downloads, "sysroot.tgz"), []archivetest.Entry{
			{Name: "usr/include/stdio.h", Body: "int printf();"},
			{Name: "usr/lib/libc.so", Body: "libc"},
		})

		installer := NewInstaller(Options{Lock: &sync.Mutex{}})
		specs := ResolveSpecs(dist, []string{lldb, sysroot}, layout, nil)

		obtain := func(specs []*Spec) {
			got, err := installer.Obtain(ctx, specs)
			assert.Loosely(t, err, should.BeNil)
			assert.Loosely(t, got, should.Equal(base))
		}

		t.Run("Installs everything", func(t *ftt.Test) {
			obtain(specs)

			assert.Loosely(t, listDir(t, base), should.Match([]string{"checksums", "dependencies", "tc-1.9-linux"}))
			assert.Loosely(t, listDir(t, filepath.Join(base, "dependencies")), should.Match([]string{"lldb-4", "sysroot"}))
			assert.Loosely(t, listDir(t, filepath.Join(base, "checksums")), should.Match([]string{
				"dependencies_lldb-4.hash",
				"dependencies_sysroot.hash",
				"lldb-4.zip.hash",
				"sysroot.tgz.hash",
				"tc-1.9-linux.hash",
				"tc-1.9-linux.tar.gz.hash",
			}))
			for _, spec := range specs {
				assert.Loosely(t, readBody(t, spec.InstallDirCacheTagFile), should.HavePrefix(CacheTagSignature))
			}

			assert.Loosely(t, readBody(t, filepath.Join(base, "tc-1.9-linux", "bin", "compiler")), should.ContainSubstring("compiling"))
			assert.Loosely(t, readBody(t, filepath.Join(base, "dependencies", "lldb-4", "lib", "libruntime.a")), should.Equal("runtime"))
			assert.Loosely(t, readBody(t, filepath.Join(base, "dependencies", "sysroot", "lib", "libc.so")), should.Equal("libc"))

			treeSum := readBody(t, specs[0].InstallDirChecksumFile)
			assert.Loosely(t, treeSum, should.ContainSubstring(`"bin/compiler" size=`))
			assert.Loosely(t, treeSum, should.NotContainSubstring("CACHEDIR.TAG"))

			assert.Loosely(t, hasLog(logs, "no pending installs"), should.BeFalse)
		})

		t.Run("Is idempotent", func(t *ftt.Test) {
			obtain(specs)
			before := map[string]string{}
			for _, spec := range specs {
				before[spec.ArchiveChecksumFile] = readBody(t, spec.ArchiveChecksumFile)
				before[spec.InstallDirChecksumFile] = readBody(t, spec.InstallDirChecksumFile)
			}
			marker := filepath.Join(base, "tc-1.9-linux", "marker")
			assert.Loosely(t, os.WriteFile(marker, nil, 0644), should.BeNil)
			logs.Reset()

			obtain(ResolveSpecs(dist, []string{lldb, sysroot}, layout, nil))

			assert.Loosely(t, hasLog(logs, "no pending installs"), should.BeTrue)
			for path, body := range before {
				assert.Loosely(t, readBody(t, path), should.Equal(body))
			}
			// Not reinstalled.
			_, err := os.Stat(marker)
			assert.Loosely(t, err, should.BeNil)
		})

		t.Run("Touches cache tags", func(t *ftt.Test) {
			obtain(specs)
			for _, spec := range specs {
				old := testclock.TestRecentTimeUTC.Add(-48 * time.Hour)
				assert.Loosely(t, os.Chtimes(spec.InstallDirCacheTagFile, old, old), should.BeNil)
			}
			obtain(specs)
			for _, spec := range specs {
				st, err := os.Stat(spec.InstallDirCacheTagFile)
				assert.Loosely(t, err, should.BeNil)
				assert.Loosely(t, st.ModTime().Truncate(time.Second).Equal(testclock.TestRecentTimeUTC.Truncate(time.Second)), should.BeTrue)
			}
		})

		t.Run("Reinstalls changed archives", func(t *ftt.Test) {
			obtain(specs)
			archivetest.WriteZip(t, lldb, []archivetest.Entry{
				{Name: "lldb-5/bin/lldb", Body: "new lldb"},
			})
			logs.Reset()

			obtain(specs)

			lldbDir := filepath.Join(base, "dependencies", "lldb-4")
			assert.Loosely(t, readBody(t, filepath.Join(lldbDir, "bin", "lldb")), should.Equal("new lldb"))
			_, err := os.Stat(filepath.Join(lldbDir, "lib"))
			assert.Loosely(t, os.IsNotExist(err), should.BeTrue)
			assert.Loosely(t, hasLog(logs, "Installing 1 of 3 archives"), should.BeTrue)
		})

		t.Run("Reinstalls when excludes change", func(t *ftt.Test) {
			obtain(specs)
			logs.Reset()

			obtain(ResolveSpecs(dist, []string{lldb, sysroot}, layout, exclude.Must("docs/**")))

			assert.Loosely(t, hasLog(logs, "Installing 3 of 3 archives"), should.BeTrue)
			_, err := os.Stat(filepath.Join(base, "tc-1.9-linux", "docs"))
			assert.Loosely(t, os.IsNotExist(err), should.BeTrue)
		})

		t.Run("Reinstalls deleted installations", func(t *ftt.Test) {
			obtain(specs)
			assert.Loosely(t, os.RemoveAll(specs[2].InstallDir), should.BeNil)
			logs.Reset()

			obtain(specs)
			assert.Loosely(t, hasLog(logs, "Installing 1 of 3 archives"), should.BeTrue)
			assert.Loosely(t, readBody(t, filepath.Join(specs[2].InstallDir, "lib", "libc.so")), should.Equal("libc"))
		})

		t.Run("Detects partial installs", func(t *ftt.Test) {
			obtain(specs)
			assert.Loosely(t, os.Remove(specs[0].InstallDirCacheTagFile), should.BeNil)
			assert.Loosely(t, os.Remove(specs[1].ArchiveChecksumFile), should.BeNil)

			checker := &Checker{}
			state, err := checker.Check(ctx, specs[0])
			assert.Loosely(t, err, should.BeNil)
			assert.Loosely(t, state.Verdict(), should.Equal(PartiallyInstalled))
			assert.Loosely(t, state.Required, should.BeFalse)
			assert.Loosely(t, state.Missing, should.Match([]string{specs[0].InstallDirCacheTagFile}))

			state, err = checker.Check(ctx, specs[1])
			assert.Loosely(t, err, should.BeNil)
			assert.Loosely(t, state.Verdict(), should.Equal(PartiallyInstalled))
			assert.Loosely(t, state.Required, should.BeTrue)

			state, err = checker.Check(ctx, specs[2])
			assert.Loosely(t, err, should.BeNil)
			assert.Loosely(t, state.Verdict(), should.Equal(UpToDate))

			logs.Reset()
			obtain(specs)
			assert.Loosely(t, hasLog(logs, "partial installs detected"), should.BeTrue)
			assert.Loosely(t, hasLog(logs, "Installing 1 of 3 archives"), should.BeTrue)
		})

		t.Run("Fresh state", func(t *ftt.Test) {
			checker := &Checker{}
			for _, spec := range specs {
				state, err := checker.Check(ctx, spec)
				assert.Loosely(t, err, should.BeNil)
				assert.Loosely(t, state.Verdict(), should.Equal(NeedsInstall))

				present, err := checker.IsInstallDirPresent(ctx, spec)
				assert.Loosely(t, err, should.BeNil)
				assert.Loosely(t, present, should.BeFalse)
			}
		})

		t.Run("Empty install dir is not present", func(t *ftt.Test) {
			assert.Loosely(t, os.MkdirAll(filepath.Join(specs[0].InstallDir, "empty", "dirs"), 0777), should.BeNil)
			present, err := (&Checker{}).IsInstallDirPresent(ctx, specs[0])
			assert.Loosely(t, err, should.BeNil)
			assert.Loosely(t, present, should.BeFalse)
		})

		t.Run("Failures are isolated", func(t *ftt.Test) {
			broken := filepath.Join(downloads, "broken.zip")
			assert.Loosely(t, os.WriteFile(broken, []byte("not a zip"), 0644), should.BeNil)
			bomb := archivetest.WriteZip(t, filepath.Join(downloads, "bomb.zip"), []archivetest.Entry{
				{Name: "bomb.bin", Body: strings.Repeat("\x00", 4<<20)},
			})

			specs := ResolveSpecs(dist, []string{broken, lldb, bomb}, layout, nil)
			_, err := installer.Obtain(ctx, specs)
			assert.Loosely(t, err, should.NotBeNil)

			var merr errors.MultiError
			assert.Loosely(t, errors.As(err, &merr), should.BeTrue)
			assert.Loosely(t, merr, should.HaveLength(2))
			assert.Loosely(t, merr[0], should.ErrLike("broken.zip"))
			assert.Loosely(t, tcerr.ToCode(merr[1]), should.Equal(tcerr.Security))

			// Healthy archives are still installed.
			for _, spec := range []*Spec{specs[0], specs[2]} {
				_, err := os.Stat(spec.InstallDirChecksumFile)
				assert.Loosely(t, err, should.BeNil)
			}
			_, err = os.Stat(specs[1].ArchiveChecksumFile)
			assert.Loosely(t, os.IsNotExist(err), should.BeTrue)
		})

		t.Run("Check failures don't block other installs", func(t *ftt.Test) {
			obtain(specs)
			archivetest.WriteZip(t, lldb, []archivetest.Entry{
				{Name: "lldb-5/bin/lldb", Body: "new lldb"},
			})
			assert.Loosely(t, os.Remove(sysroot), should.BeNil)
			assert.Loosely(t, os.Chtimes(specs[0].InstallDirCacheTagFile, time.Unix(0, 0), time.Unix(0, 0)), should.BeNil)
			logs.Reset()

			_, err := installer.Obtain(ctx, specs)
			var merr errors.MultiError
			assert.Loosely(t, errors.As(err, &merr), should.BeTrue)
			assert.Loosely(t, merr, should.HaveLength(1))
			assert.Loosely(t, merr[0], should.ErrLike("sysroot.tgz"))

			assert.Loosely(t, hasLog(logs, "Installing 1 of 3 archives"), should.BeTrue)
			assert.Loosely(t, readBody(t, filepath.Join(specs[1].InstallDir, "bin", "lldb")), should.Equal("new lldb"))
			st, err := os.Stat(specs[0].InstallDirCacheTagFile)
			assert.Loosely(t, err, should.BeNil)
			assert.Loosely(t, st.ModTime().Truncate(time.Second).Equal(testclock.TestRecentTimeUTC.Truncate(time.Second)), should.BeTrue)
		})

		t.Run("Failed reinstall drops stale checksums", func(t *ftt.Test) {
			obtain(specs)
			archivetest.WriteZip(t, lldb, []archivetest.Entry{
				{Name: "bomb.bin", Body: strings.Repeat("\x00", 4<<20)},
			})

			_, err := installer.Obtain(ctx, specs)
			var merr errors.MultiError
			assert.Loosely(t, errors.As(err, &merr), should.BeTrue)
			assert.Loosely(t, merr, should.HaveLength(1))
			assert.Loosely(t, tcerr.ToCode(merr[0]), should.Equal(tcerr.Security))

			for _, path := range []string{specs[1].ArchiveChecksumFile, specs[1].InstallDirChecksumFile} {
				_, err := os.Stat(path)
				assert.Loosely(t, os.IsNotExist(err), should.BeTrue)
			}
			state, err := (&Checker{}).Check(ctx, specs[1])
			assert.Loosely(t, err, should.BeNil)
			assert.Loosely(t, state.Verdict(), should.Equal(NeedsInstall))

			// Same as a run killed after writing the cache tag and the archive
			// checksum: the tree checksum is gone, so the install is partial.
			assert.Loosely(t, os.WriteFile(filepath.Join(specs[1].InstallDir, "lldb"), []byte("x"), 0644), should.BeNil)
			assert.Loosely(t, writeCacheTag(specs[1]), should.BeNil)
			archivetest.WriteZip(t, lldb, archivetest.Toolchain("lldb-4"))
			d, err := (&Checker{}).ArchiveChecksum(ctx, specs[1])
			assert.Loosely(t, err, should.BeNil)
			assert.Loosely(t, writeSidecar(specs[1].ArchiveChecksumFile, &Sidecar{Digest: d}), should.BeNil)

			state, err = (&Checker{}).Check(ctx, specs[1])
			assert.Loosely(t, err, should.BeNil)
			assert.Loosely(t, state.Verdict(), should.Equal(PartiallyInstalled))
			assert.Loosely(t, state.Missing, should.Match([]string{specs[1].InstallDirChecksumFile}))
		})

		t.Run("Warns about missing distribution", func(t *ftt.Test) {
			obtain(ResolveSpecs("", []string{lldb}, layout, nil))
			assert.Loosely(t, hasLog(logs, "No primary distribution"), should.BeTrue)
		})

		t.Run("Holds the lock file", func(t *ftt.Test) {
			lockFile := filepath.Join(tmp, "locks", "install.lock")
			installer := NewInstaller(Options{Lock: &sync.Mutex{}, LockFile: lockFile})
			got, err := installer.Obtain(ctx, specs)
			assert.Loosely(t, err, should.BeNil)
			assert.Loosely(t, got, should.Equal(base))
			assert.Loosely(t, hasLog(logs, "no pending installs"), should.BeFalse)
		})

		t.Run("Rejects mixed base directories", func(t *ftt.Test) {
			other := ResolveSpecs(lldb, nil, Layout{BaseInstallDir: filepath.Join(tmp, "other")}, nil)
			_, err := installer.Obtain(ctx, append(specs, other...))
			assert.Loosely(t, tcerr.ToCode(err), should.Equal(tcerr.BadArgument))
		})

		t.Run("Rejects clashing layouts", func(t *ftt.Test) {
			clash := archivetest.WriteZip(t, filepath.Join(downloads, "dependencies.zip"), archivetest.Toolchain("x"))
			_, err := installer.Obtain(ctx, ResolveSpecs(clash, []string{lldb}, layout, nil))
			assert.Loosely(t, tcerr.ToCode(err), should.Equal(tcerr.BadArgument))
			_, err = os.Stat(base)
			assert.Loosely(t, os.IsNotExist(err), should.BeTrue)
		})

		t.Run("Rejects empty requests", func(t *ftt.Test) {
			_, err := installer.Obtain(ctx, nil)
			assert.Loosely(t, tcerr.ToCode(err), should.Equal(tcerr.BadArgument))
		})
	})
}

func TestSidecar(t *testing.T) {
	t.Parallel()

	ftt.Run("Sidecars", t, func(t *ftt.Test) {
		path := filepath.Join(t.TempDir(), "sums", "x.hash")

		_, err := ReadSidecar(path)
		assert.Loosely(t, err, should.Equal(ErrNoSidecar))

		digest := make([]byte, 32)
		digest[0] = 1
		sc := &Sidecar{Digest: digest, Listing: []string{"a", "b"}}
		assert.Loosely(t, writeSidecar(path, sc), should.BeNil)

		got, err := ReadSidecar(path)
		assert.Loosely(t, err, should.BeNil)
		assert.Loosely(t, got.Digest.Equal(sc.Digest), should.BeTrue)
		assert.Loosely(t, got.Listing, should.Match([]string{"a", "b"}))

		assert.Loosely(t, os.WriteFile(path, []byte("garbage\na\n"), 0644), should.BeNil)
		got, err = ReadSidecar(path)
		assert.Loosely(t, err, should.ErrLike("is corrupted"))
		assert.Loosely(t, got.Digest, should.HaveLength(0))
		assert.Loosely(t, got.Listing, should.Match([]string{"a"}))

		assert.Loosely(t, os.WriteFile(path, nil, 0644), should.BeNil)
		_, err = ReadSidecar(path)
		assert.Loosely(t, err, should.ErrLike("is empty"))
	})
}
