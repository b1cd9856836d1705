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
	"sync"

	"go.chromium.org/luci/common/errors"
	"go.chromium.org/luci/common/logging"

	"go.chromium.org/tcdist/archive"
	"go.chromium.org/tcdist/common/tcerr"
	"go.chromium.org/tcdist/fingerprint"
)

// Verdict summarizes the state of an installation.
type Verdict int

const (
	// UpToDate means the installation matches the archive.
	UpToDate Verdict = iota
	// NeedsInstall means the archive changed or was never installed.
	NeedsInstall
	// PartiallyInstalled means the installation directory exists, but some of
	// its bookkeeping files are missing, e.g. because an earlier install was
	// interrupted or is still running in another process.
	PartiallyInstalled
)

// String implements fmt.Stringer.
func (v Verdict) String() string {
	switch v {
	case UpToDate:
		return "up-to-date"
	case NeedsInstall:
		return "needs-install"
	case PartiallyInstalled:
		return "partially-installed"
	default:
		return "unknown"
	}
}

// State is the state of an installation as seen by Checker.Check.
type State struct {
	// Required is true if the archive needs to be (re)installed.
	Required bool
	// Partial is true if the installation directory exists, but some of the
	// bookkeeping files are missing.
	Partial bool
	// Missing lists bookkeeping files missing in a partial install.
	Missing []string
}

// Verdict returns the summary of the state.
func (s State) Verdict() Verdict {
	switch {
	case s.Partial:
		return PartiallyInstalled
	case s.Required:
		return NeedsInstall
	default:
		return UpToDate
	}
}

// Checker inspects installations without modifying them.
//
// It remembers checksums of archives it has computed, so the installer doesn't
// need to rehash them when persisting the checksum. The zero value is ready
// to use. Safe for concurrent use.
type Checker struct {
	m       sync.Mutex
	digests map[string]fingerprint.Digest
}

// ArchiveChecksum computes the checksum of the spec's archive.
//
// It covers the archive bytes, the names of entries that pass the exclude
// filters and the filters themselves, so changing the filters invalidates it.
func (c *Checker) ArchiveChecksum(ctx context.Context, spec *Spec) (fingerprint.Digest, error) {
	key := spec.SourceArchive + "\n" + spec.Excludes.String()
	c.m.Lock()
	d, ok := c.digests[key]
	c.m.Unlock()
	if ok {
		return d, nil
	}

	names, err := archive.ListEntries(ctx, spec.SourceArchive, spec.Excludes)
	if err != nil {
		return nil, err
	}
	extra := make([]string, 0, len(names)+len(spec.Excludes.Patterns()))
	for _, n := range names {
		extra = append(extra, "entry:"+n)
	}
	for _, p := range spec.Excludes.Patterns() {
		extra = append(extra, "exclude:"+p)
	}
	d, err = fingerprint.Compute(ctx, []string{spec.SourceArchive}, fingerprint.Options{
		Mode:          fingerprint.Content,
		ExtraMetadata: extra,
	})
	if err != nil {
		return nil, err
	}

	c.m.Lock()
	if c.digests == nil {
		c.digests = map[string]fingerprint.Digest{}
	}
	c.digests[key] = d
	c.m.Unlock()
	return d, nil
}

// TreeChecksum computes the checksum and the listing of the installation
// directory.
func TreeChecksum(ctx context.Context, spec *Spec) (fingerprint.Digest, fingerprint.Listing, error) {
	return fingerprint.Tree(ctx, spec.InstallDir, spec.Excludes, fingerprint.Metadata, spec.Excludes.Patterns())
}

// IsArchiveChanged is true if there's no stored archive checksum or it
// doesn't match the archive.
func (c *Checker) IsArchiveChanged(ctx context.Context, spec *Spec) (bool, error) {
	stored, err := ReadSidecar(spec.ArchiveChecksumFile)
	switch {
	case err == ErrNoSidecar:
		return true, nil
	case tcerr.IO.In(err):
		return false, err
	case err != nil:
		logging.Warningf(ctx, "Ignoring broken archive checksum of %s: %s", spec, err)
		return true, nil
	}
	current, err := c.ArchiveChecksum(ctx, spec)
	if err != nil {
		return false, err
	}
	return !current.Equal(stored.Digest), nil
}

// IsInstallDirPresent is true if the installation directory has at least one
// regular file somewhere in it.
func (c *Checker) IsInstallDirPresent(ctx context.Context, spec *Spec) (bool, error) {
	found := false
	err := filepath.WalkDir(spec.InstallDir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.Type().IsRegular() {
			found = true
			return filepath.SkipAll
		}
		return nil
	})
	switch {
	case found:
		return true, nil
	case os.IsNotExist(err):
		return false, nil
	case err != nil:
		return false, tcerr.IO.Apply(errors.Annotate(err, "scanning %q", spec.InstallDir).Err())
	}
	return false, nil
}

// IsInstallationRequired is true if the archive changed or the installation
// directory is missing.
func (c *Checker) IsInstallationRequired(ctx context.Context, spec *Spec) (bool, error) {
	changed, err := c.IsArchiveChanged(ctx, spec)
	if err != nil || changed {
		return changed, err
	}
	present, err := c.IsInstallDirPresent(ctx, spec)
	if err != nil {
		return false, err
	}
	return !present, nil
}

// InstallStatus returns bookkeeping files missing from an existing
// installation directory.
//
// Returns nil if the directory doesn't exist or is complete.
func (c *Checker) InstallStatus(ctx context.Context, spec *Spec) ([]string, error) {
	present, err := c.IsInstallDirPresent(ctx, spec)
	if err != nil || !present {
		return nil, err
	}
	var missing []string
	for _, path := range []string{spec.InstallDirCacheTagFile, spec.ArchiveChecksumFile, spec.InstallDirChecksumFile} {
		switch _, err := os.Stat(path); {
		case os.IsNotExist(err):
			missing = append(missing, path)
		case err != nil:
			return nil, tcerr.IO.Apply(errors.Annotate(err, "checking %q", path).Err())
		}
	}
	return missing, nil
}

// Check returns the full state of the installation.
func (c *Checker) Check(ctx context.Context, spec *Spec) (State, error) {
	required, err := c.IsInstallationRequired(ctx, spec)
	if err != nil {
		return State{}, errors.Annotate(err, "checking %s", spec).Err()
	}
	missing, err := c.InstallStatus(ctx, spec)
	if err != nil {
		return State{}, errors.Annotate(err, "checking %s", spec).Err()
	}
	return State{
		Required: required,
		Partial:  len(missing) != 0,
		Missing:  missing,
	}, nil
}
