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

// Package archive implements extraction of toolchain archives.
//
// Archives come from the network and are not trusted. Before anything is
// written, all entry names are checked to stay within the destination
// directory (zip-slip) and zip entries are checked to not decompress into
// something absurdly large (zip-bomb). Extraction happens in a staging
// directory next to the destination, which is then renamed into place.
package archive

import (
	"context"
	"path/filepath"
	"sort"
	"time"

	"go.chromium.org/luci/common/errors"
	"go.chromium.org/luci/common/logging"

	"go.chromium.org/tcdist/common/tcerr"
	"go.chromium.org/tcdist/exclude"
	"go.chromium.org/tcdist/fs"
)

const (
	// DefaultMaxCompressionRatio is the default ceiling on the ratio between
	// decompressed and compressed sizes of a zip entry.
	DefaultMaxCompressionRatio = 100
	// DefaultBombThreshold is how many bytes of a zip entry must be
	// decompressed before the compression ratio is checked.
	DefaultBombThreshold = 1 << 20
)

// Options are optional arguments for Extract.
type Options struct {
	// Excludes are globs of entries to skip. Each entry name is tried as is and
	// with its top-level directory stripped.
	Excludes *exclude.Set
	// ModTime, if non-zero, is set as mtime of every extracted entry.
	ModTime time.Time
	// MaxCompressionRatio overrides DefaultMaxCompressionRatio if positive.
	MaxCompressionRatio float64
	// BombThreshold overrides DefaultBombThreshold if positive.
	BombThreshold int64
	// StrictSymlinks makes extraction fail on symlinks pointing outside of the
	// destination directory. By default symlink targets are not checked.
	StrictSymlinks bool
}

func (o *Options) maxRatio() float64 {
	if o.MaxCompressionRatio > 0 {
		return o.MaxCompressionRatio
	}
	return DefaultMaxCompressionRatio
}

func (o *Options) bombThreshold() int64 {
	if o.BombThreshold > 0 {
		return o.BombThreshold
	}
	return DefaultBombThreshold
}

func (o *Options) included(e Entry) bool {
	return !o.Excludes.MatchesEntry(e.Name)
}

// Extract unpacks the archive into the destination directory.
//
// The destination is replaced entirely. If the archive has a single top-level
// directory, its content becomes the content of the destination.
//
// Security violations are detected before anything is written. If extraction
// fails midway, the destination is left untouched and partially extracted
// files stay in a staging directory next to it.
func Extract(ctx context.Context, archivePath, destDir string, opts Options) (err error) {
	format, err := DetectFormat(archivePath)
	if err != nil {
		return err
	}
	destDir, err = filepath.Abs(destDir)
	if err != nil {
		return tcerr.BadArgument.Apply(errors.Annotate(err, "bad destination %q", destDir).Err())
	}

	r, err := format.open(ctx, archivePath)
	if err != nil {
		return errors.Annotate(err, "opening %q", archivePath).Err()
	}
	defer r.Close()

	entries := r.entries()
	if err := validateNames(entries, destDir); err != nil {
		logging.Errorf(ctx, "Refusing to extract %s: %s", archivePath, err)
		return errors.Annotate(err, "validating %q", archivePath).Err()
	}
	if err := r.validate(ctx, &opts); err != nil {
		logging.Errorf(ctx, "Refusing to extract %s: %s", archivePath, err)
		return errors.Annotate(err, "validating %q", archivePath).Err()
	}

	staging, err := fs.NewStaging(ctx, destDir)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			staging.Abandon(ctx)
		}
	}()

	progress := newProgressReporter(ctx, archivePath, entries, &opts)
	if err := r.extract(ctx, staging, &opts, progress); err != nil {
		return errors.Annotate(err, "extracting %q", archivePath).Err()
	}
	if err := staging.Commit(ctx, true, opts.ModTime); err != nil {
		return errors.Annotate(err, "extracting %q", archivePath).Err()
	}
	return nil
}

// ListEntries returns sorted names of entries of the archive not matched by
// the excludes.
func ListEntries(ctx context.Context, archivePath string, excludes *exclude.Set) ([]string, error) {
	format, err := DetectFormat(archivePath)
	if err != nil {
		return nil, err
	}
	r, err := format.open(ctx, archivePath)
	if err != nil {
		return nil, errors.Annotate(err, "opening %q", archivePath).Err()
	}
	defer r.Close()

	opts := Options{Excludes: excludes}
	var names []string
	for _, e := range r.entries() {
		if opts.included(e) {
			names = append(names, e.Name)
		}
	}
	sort.Strings(names)
	return names, nil
}

// validateNames checks all entries stay within the destination directory.
func validateNames(entries []Entry, root string) error {
	for _, e := range entries {
		if filepath.IsAbs(filepath.FromSlash(e.Name)) || hasVolume(e.Name) {
			return tcerr.Security.Apply(errors.Reason("%q: absolute entry name", e.Name).Err())
		}
		if !fs.IsSubpath(filepath.Join(root, filepath.FromSlash(e.Name)), root) {
			return tcerr.Security.Apply(errors.Reason("%q: entry is outside of the target directory (zip-slip)", e.Name).Err())
		}
		if e.Type == TypeHardlink && !fs.IsSubpath(filepath.Join(root, filepath.FromSlash(e.Linkname)), root) {
			return tcerr.Security.Apply(errors.Reason("%q: hard link to %q is outside of the target directory", e.Name, e.Linkname).Err())
		}
	}
	return nil
}

func hasVolume(name string) bool {
	return filepath.VolumeName(filepath.FromSlash(name)) != ""
}
