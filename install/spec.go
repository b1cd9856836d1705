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

// Package install installs toolchain archives into a local directory and
// tracks whether installed copies are still valid.
//
// Every archive of a request gets an installation directory named after the
// archive and two sidecar files in the checksums directory: one with a
// checksum of the archive (to notice when it changes) and one with a checksum
// of the installed tree (to notice when the installation is damaged).
package install

import (
	"path/filepath"
	"strings"

	"go.chromium.org/luci/common/data/stringset"
	"go.chromium.org/luci/common/errors"

	"go.chromium.org/tcdist/archive"
	"go.chromium.org/tcdist/common/tcerr"
	"go.chromium.org/tcdist/exclude"
	"go.chromium.org/tcdist/fs"
)

const (
	// DependenciesDir is the subdirectory of the base installation directory
	// with dependency archives.
	DependenciesDir = "dependencies"
	// ChecksumsDir is the default subdirectory of the base installation
	// directory with checksum sidecars.
	ChecksumsDir = "checksums"
	// ChecksumExt is the extension of checksum sidecars.
	ChecksumExt = ".hash"
)

// Layout describes where installations and their sidecars live.
type Layout struct {
	// BaseInstallDir is the root of all installations.
	BaseInstallDir string
	// ChecksumsDir is where sidecars are stored. Defaults to
	// <BaseInstallDir>/checksums.
	ChecksumsDir string
}

func (l Layout) checksumsDir() string {
	if l.ChecksumsDir != "" {
		return l.ChecksumsDir
	}
	return filepath.Join(l.BaseInstallDir, ChecksumsDir)
}

// Spec describes an installation of a single archive.
type Spec struct {
	// SourceArchive is the archive to install. It is never modified.
	SourceArchive string
	// Primary is true for the toolchain distribution itself.
	Primary bool
	// BaseInstallDir is the root of all installations.
	BaseInstallDir string
	// InstallDir is where the archive is extracted to.
	InstallDir string
	// ArchiveChecksumFile stores the checksum of SourceArchive.
	ArchiveChecksumFile string
	// InstallDirChecksumFile stores the checksum and the listing of InstallDir.
	InstallDirChecksumFile string
	// InstallDirCacheTagFile is CACHEDIR.TAG inside InstallDir.
	InstallDirCacheTagFile string
	// Excludes are globs of files not extracted and not checksummed.
	Excludes *exclude.Set
}

// ArchiveName is the file name of the source archive.
func (s *Spec) ArchiveName() string {
	return filepath.Base(s.SourceArchive)
}

// String is used in logs.
func (s *Spec) String() string {
	return s.ArchiveName()
}

// ResolveSpecs computes installation specs for a distribution archive and
// its dependencies.
//
// The distribution (if not empty) comes first. Archives that map to the same
// installation directory are collapsed into one, the first one wins.
func ResolveSpecs(distribution string, dependencies []string, layout Layout, excludes *exclude.Set) []*Spec {
	seen := stringset.New(len(dependencies) + 1)
	specs := make([]*Spec, 0, len(dependencies)+1)

	add := func(archivePath string, primary bool) {
		name := archive.TrimExt(archivePath)
		if !seen.Add(name) {
			return
		}
		installDir := filepath.Join(layout.BaseInstallDir, name)
		if !primary {
			installDir = filepath.Join(layout.BaseInstallDir, DependenciesDir, name)
		}
		specs = append(specs, &Spec{
			SourceArchive:          archivePath,
			Primary:                primary,
			BaseInstallDir:         layout.BaseInstallDir,
			InstallDir:             installDir,
			ArchiveChecksumFile:    filepath.Join(layout.checksumsDir(), filepath.Base(archivePath)+ChecksumExt),
			InstallDirChecksumFile: filepath.Join(layout.checksumsDir(), treeChecksumName(layout.BaseInstallDir, installDir)),
			InstallDirCacheTagFile: filepath.Join(installDir, CacheTagName),
			Excludes:               excludes,
		})
	}

	if distribution != "" {
		add(distribution, true)
	}
	for _, dep := range dependencies {
		add(dep, false)
	}
	return specs
}

// CheckLayout returns a BadArgument error if specs would share a checksum
// file or if an installation directory would take over the dependencies or
// the checksums directory.
func CheckLayout(specs []*Spec) error {
	bad := func(format string, args ...any) error {
		return tcerr.BadArgument.Apply(errors.Reason(format, args...).Err())
	}
	sidecars := make(map[string]*Spec, 2*len(specs))
	for _, s := range specs {
		for _, path := range []string{s.ArchiveChecksumFile, s.InstallDirChecksumFile} {
			if other := sidecars[path]; other != nil {
				return bad("%s and %s would share the checksum file %q", other, s, path)
			}
			sidecars[path] = s
		}
	}
	for _, s := range specs {
		if s.Primary && s.InstallDir == filepath.Join(s.BaseInstallDir, DependenciesDir) {
			return bad("%s would be installed into the %q directory", s, DependenciesDir)
		}
		sums := filepath.Dir(s.ArchiveChecksumFile)
		for _, other := range specs {
			if fs.IsSubpath(sums, other.InstallDir) {
				return bad("checksums directory %q is inside the installation directory of %s", sums, other)
			}
		}
	}
	return nil
}

// treeChecksumName is the name of the tree checksum sidecar: the path of the
// installation directory relative to the base directory with separators
// replaced by "_".
func treeChecksumName(base, installDir string) string {
	rel, err := filepath.Rel(base, installDir)
	if err != nil {
		rel = filepath.Base(installDir)
	}
	return strings.ReplaceAll(filepath.ToSlash(rel), "/", "_") + ChecksumExt
}
