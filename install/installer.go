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
	"time"

	"github.com/danjacques/gofslock/fslock"
	"github.com/dustin/go-humanize"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"go.chromium.org/luci/common/clock"
	"go.chromium.org/luci/common/errors"
	"go.chromium.org/luci/common/logging"
	"go.chromium.org/luci/common/sync/parallel"
	"go.chromium.org/luci/common/tsmon/distribution"
	"go.chromium.org/luci/common/tsmon/field"
	"go.chromium.org/luci/common/tsmon/metric"
	"go.chromium.org/luci/common/tsmon/types"

	"go.chromium.org/tcdist/archive"
	"go.chromium.org/tcdist/common/tcerr"
	"go.chromium.org/tcdist/fs"
)

// DefaultWorkers is the default number of archives installed in parallel.
const DefaultWorkers = 10

// lockPollInterval is how often a held LockFile is retried.
const lockPollInterval = 500 * time.Millisecond

// ProcessLock serializes Obtain calls within the process.
//
// All installers in a process should share it (it is the default), unless
// they install into unrelated directories.
var ProcessLock sync.Mutex

var (
	installCounter = metric.NewCounter(
		"tcdist/install/count",
		"Count of attempted archive installations",
		nil,
		field.String("result"), // OK | error
	)

	installDurationMS = metric.NewCumulativeDistribution(
		"tcdist/install/duration",
		"Duration of extraction and checksumming of an archive",
		&types.MetricMetadata{Units: types.Milliseconds},
		distribution.DefaultBucketer,
		field.String("result"), // OK | error
	)
)

var tracer = otel.Tracer("go.chromium.org/tcdist/install")

// Options configure an Installer.
type Options struct {
	// Workers is the maximum number of archives installed in parallel.
	// Defaults to DefaultWorkers.
	Workers int
	// Lock serializes Obtain calls. Defaults to &ProcessLock.
	Lock sync.Locker
	// LockFile, if set, is a file used as an advisory cross-process lock held
	// for the duration of Obtain.
	LockFile string
	// MaxCompressionRatio overrides the zip bomb detection ratio.
	MaxCompressionRatio float64
	// StrictSymlinks rejects symlinks pointing outside of the installation.
	StrictSymlinks bool
}

// Installer installs archives described by specs.
type Installer struct {
	opts Options
}

// NewInstaller returns an installer with the given options.
func NewInstaller(opts Options) *Installer {
	if opts.Workers <= 0 {
		opts.Workers = DefaultWorkers
	}
	if opts.Lock == nil {
		opts.Lock = &ProcessLock
	}
	return &Installer{opts: opts}
}

// Obtain makes sure all specs are installed and returns the base installation
// directory.
//
// Specs that are up-to-date are left alone. The rest are installed in
// parallel. A failure to install one archive doesn't stop installation of the
// others: Obtain returns errors.MultiError with all failures after all
// installations have finished.
//
// Cache tags of all existing installations are touched in the end.
func (in *Installer) Obtain(ctx context.Context, specs []*Spec) (base string, err error) {
	ctx, span := tracer.Start(ctx, "tcdist.install.Obtain")
	span.SetAttributes(attribute.Int("tcdist.specs", len(specs)))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	if len(specs) == 0 {
		return "", tcerr.BadArgument.Apply(errors.Reason("nothing to install").Err())
	}
	base = specs[0].BaseInstallDir
	for _, s := range specs {
		if s.BaseInstallDir != base {
			return "", tcerr.BadArgument.Apply(errors.Reason(
				"all archives must be installed into the same directory, got %q and %q", base, s.BaseInstallDir).Err())
		}
	}
	if err := CheckLayout(specs); err != nil {
		return "", err
	}
	warnOnPrimaries(ctx, specs)

	in.opts.Lock.Lock()
	defer in.opts.Lock.Unlock()

	if in.opts.LockFile == "" {
		return base, in.obtainLocked(ctx, specs)
	}
	if err := fs.EnsureDirectory(ctx, filepath.Dir(in.opts.LockFile)); err != nil {
		return "", err
	}
	blocker := func() error {
		logging.Debugf(ctx, "Lock %s is held by another process, waiting...", in.opts.LockFile)
		if r := <-clock.After(ctx, lockPollInterval); r.Err != nil {
			return r.Err
		}
		return nil
	}
	err = fslock.WithBlocking(in.opts.LockFile, blocker, func() error {
		return in.obtainLocked(ctx, specs)
	})
	if err != nil {
		return "", err
	}
	return base, nil
}

func (in *Installer) obtainLocked(ctx context.Context, specs []*Spec) error {
	checker := &Checker{}

	// errs is indexed by spec. A spec that failed the check is not installed,
	// but doesn't prevent installation of the others.
	errs := make(errors.MultiError, len(specs))
	states := make([]State, len(specs))
	_ = parallel.FanOutIn(func(work chan<- func() error) {
		for i, spec := range specs {
			work <- func() error {
				if states[i], errs[i] = checker.Check(ctx, spec); errs[i] != nil {
					logging.Errorf(ctx, "Failed to check %s: %s", spec, errs[i])
				}
				return nil
			}
		}
	})

	var pending []int
	var partial []*Spec
	for i, spec := range specs {
		if errs[i] != nil {
			continue
		}
		if states[i].Partial {
			partial = append(partial, spec)
		}
		if states[i].Required {
			pending = append(pending, i)
		}
	}
	if len(partial) != 0 {
		logging.Warningf(ctx, "partial installs detected: %v", partial)
		logging.Warningf(ctx, "They may be left by an interrupted run or another process installing into the same directory")
	}

	if len(pending) == 0 {
		logging.Infof(ctx, "no pending installs")
	} else {
		names := make([]*Spec, len(pending))
		for j, i := range pending {
			names[j] = specs[i]
		}
		logging.Infof(ctx, "Installing %d of %d archives: %v", len(pending), len(specs), names)
		in.installAll(ctx, checker, specs, pending, errs)
	}

	// Touch everything installed, even if some installs failed.
	for _, spec := range specs {
		if _, err := os.Stat(spec.InstallDirCacheTagFile); err != nil {
			continue
		}
		if err := touchCacheTag(ctx, spec); err != nil {
			logging.Warningf(ctx, "Failed to touch cache tag of %s: %s", spec, err)
		}
	}

	if errs.First() == nil {
		return nil
	}
	var out errors.MultiError
	for _, err := range errs {
		if err != nil {
			out = append(out, err)
		}
	}
	return out
}

// installAll installs specs[i] for every i in pending in parallel, storing
// errors into errs[i].
func (in *Installer) installAll(ctx context.Context, checker *Checker, specs []*Spec, pending []int, errs errors.MultiError) {
	_ = parallel.WorkPool(in.opts.Workers, func(work chan<- func() error) {
		for _, i := range pending {
			work <- func() error {
				if errs[i] = in.installOne(ctx, checker, specs[i]); errs[i] != nil {
					logging.Errorf(ctx, "Failed to install %s: %s", specs[i], errs[i])
				}
				return nil
			}
		}
	})
}

// installOne extracts the archive into a clean installation directory and
// writes its sidecars.
func (in *Installer) installOne(ctx context.Context, checker *Checker, spec *Spec) (err error) {
	ctx, span := tracer.Start(ctx, "tcdist.install.Install")
	span.SetAttributes(
		attribute.String("tcdist.archive", spec.ArchiveName()),
		attribute.Bool("tcdist.primary", spec.Primary),
	)
	start := clock.Now(ctx)
	defer func() {
		result := "OK"
		if err != nil {
			result = "error"
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		installCounter.Add(ctx, 1, result)
		installDurationMS.Add(ctx, float64(clock.Since(ctx, start).Milliseconds()), result)
		span.End()
	}()

	st, err := os.Stat(spec.SourceArchive)
	if err != nil {
		return tcerr.IO.Apply(errors.Annotate(err, "installing %s", spec).Err())
	}
	logging.Infof(ctx, "Installing %s (%s) into %s", spec, humanize.Bytes(uint64(st.Size())), spec.InstallDir)

	// Drop stale checksums first, so an interrupted install never looks
	// complete.
	for _, path := range []string{spec.InstallDirChecksumFile, spec.ArchiveChecksumFile} {
		if err := removeSidecar(path); err != nil {
			return errors.Annotate(err, "installing %s", spec).Err()
		}
	}
	if err := fs.EnsureDirectoryGone(ctx, spec.InstallDir); err != nil {
		return errors.Annotate(err, "installing %s", spec).Err()
	}
	if err := fs.EnsureDirectory(ctx, spec.InstallDir); err != nil {
		return errors.Annotate(err, "installing %s", spec).Err()
	}
	err = archive.Extract(ctx, spec.SourceArchive, spec.InstallDir, archive.Options{
		Excludes:            spec.Excludes,
		ModTime:             st.ModTime(),
		MaxCompressionRatio: in.opts.MaxCompressionRatio,
		StrictSymlinks:      in.opts.StrictSymlinks,
	})
	if err != nil {
		return errors.Annotate(err, "installing %s", spec).Err()
	}
	if err := writeCacheTag(spec); err != nil {
		return errors.Annotate(err, "installing %s", spec).Err()
	}

	archiveDigest, err := checker.ArchiveChecksum(ctx, spec)
	if err != nil {
		return errors.Annotate(err, "checksumming %s", spec).Err()
	}
	if err := writeSidecar(spec.ArchiveChecksumFile, &Sidecar{Digest: archiveDigest}); err != nil {
		return errors.Annotate(err, "installing %s", spec).Err()
	}
	treeDigest, listing, err := TreeChecksum(ctx, spec)
	if err != nil {
		return errors.Annotate(err, "checksumming %s", spec.InstallDir).Err()
	}
	if err := writeSidecar(spec.InstallDirChecksumFile, &Sidecar{Digest: treeDigest, Listing: listing.Lines()}); err != nil {
		return errors.Annotate(err, "installing %s", spec).Err()
	}

	logging.Infof(ctx, "Installed %s (%d entries) in %s", spec, len(listing), clock.Since(ctx, start).Round(time.Millisecond))
	return nil
}

// warnOnPrimaries logs a warning if there isn't exactly one primary
// distribution.
func warnOnPrimaries(ctx context.Context, specs []*Spec) {
	var primaries []string
	for _, s := range specs {
		if s.Primary {
			primaries = append(primaries, s.InstallDir)
		}
	}
	switch len(primaries) {
	case 0:
		logging.Warningf(ctx, "No primary distribution among %d archives", len(specs))
	case 1:
	default:
		logging.Warningf(ctx, "Found %d primary distributions: %v", len(primaries), primaries)
	}
}
