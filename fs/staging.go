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

package fs

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"sync"
	"time"

	securejoin "github.com/cyphar/filepath-securejoin"

	"go.chromium.org/luci/common/errors"
	"go.chromium.org/luci/common/logging"

	"go.chromium.org/tcdist/common/tcerr"
)

// StagingPrefix is a prefix of temp directories created by NewStaging.
const StagingPrefix = ".tcdist-staging-"

// CreateFileOptions provides arguments to Staging.CreateFile.
type CreateFileOptions struct {
	// Mode is the permission bits to restore. Zero means 0644. Ignored on
	// file systems without POSIX permissions.
	Mode os.FileMode
	// ModTime, when non-zero, sets the mtime of the file when it is closed.
	ModTime time.Time
	// Exclusive makes CreateFile fail if the file already exists.
	Exclusive bool
}

// Staging is a temporary directory created next to some destination
// directory. Files are written into it and it is moved into the destination
// when Commit is called.
//
// A failed extraction never touches the destination: the staging directory is
// just left behind (see Abandon).
//
// All names passed to Staging methods are slash separated and relative to the
// staging root. They are resolved with securejoin, so a symlink created
// earlier can't be used to write outside of the staging root.
//
// 'CreateFile' and 'CreateSymlink' can be called concurrently.
type Staging struct {
	dir  string // the staging directory
	dest string // the final destination

	lock      sync.Mutex
	openFiles map[string]struct{}
	dirs      []string
}

// NewStaging creates a staging directory for the given absolute destination.
//
// The staging directory is created in the parent of 'dest' to guarantee that
// it can be renamed into 'dest' later.
func NewStaging(ctx context.Context, dest string) (*Staging, error) {
	if !filepath.IsAbs(dest) {
		return nil, tcerr.BadArgument.Apply(errors.Reason("expecting absolute destination path, got %q", dest).Err())
	}
	dest = filepath.Clean(dest)
	if err := EnsureDirectory(ctx, filepath.Dir(dest)); err != nil {
		return nil, err
	}
	dir, err := TempDir(filepath.Dir(dest), StagingPrefix, 0777)
	if err != nil {
		return nil, tcerr.IO.Apply(errors.Annotate(err, "creating staging directory").Err())
	}
	return &Staging{
		dir:       dir,
		dest:      dest,
		openFiles: map[string]struct{}{},
	}, nil
}

// Dir is the absolute path to the staging directory.
func (s *Staging) Dir() string { return s.dir }

// Dest is the absolute path to the final destination.
func (s *Staging) Dest() string { return s.dest }

// Resolve returns an absolute path of 'name' inside the staging directory.
//
// Fails if 'name' lexically escapes the staging directory. Symlinks in the
// already extracted part of the tree are resolved within the staging root.
func (s *Staging) Resolve(name string) (string, error) {
	lexical := filepath.Join(s.dir, filepath.FromSlash(name))
	if !IsSubpath(lexical, s.dir) {
		return "", tcerr.Security.Apply(errors.Reason("%q: the path escapes the destination directory", name).Err())
	}
	rel, err := filepath.Rel(s.dir, lexical)
	if err != nil {
		return "", tcerr.IO.Apply(errors.Annotate(err, "resolving %q", name).Err())
	}
	if rel == "." {
		return s.dir, nil
	}
	// Only the parent is resolved: the last component may legitimately be an
	// existing symlink that is about to be replaced.
	parent, err := securejoin.SecureJoin(s.dir, filepath.Dir(rel))
	if err != nil {
		return "", tcerr.IO.Apply(errors.Annotate(err, "resolving %q", name).Err())
	}
	return filepath.Join(parent, filepath.Base(rel)), nil
}

// prepareFilePath resolves 'name' and creates its parent directories.
func (s *Staging) prepareFilePath(ctx context.Context, name string) (string, error) {
	path, err := s.Resolve(name)
	if err != nil {
		return "", err
	}
	if path == s.dir {
		return "", tcerr.BadArgument.Apply(errors.Reason("%q: not a file name", name).Err())
	}
	if err := EnsureDirectory(ctx, filepath.Dir(path)); err != nil {
		return "", err
	}
	return path, nil
}

// CreateDir creates a directory (with parents) with the given permissions.
func (s *Staging) CreateDir(ctx context.Context, name string, mode os.FileMode) error {
	path, err := s.Resolve(name)
	if err != nil {
		return err
	}
	if err := EnsureDirectory(ctx, path); err != nil {
		return err
	}
	if mode != 0 && runtime.GOOS != "windows" {
		// Keep the directory writable by us, we still need to put files there.
		if err := os.Chmod(path, mode.Perm()|0700); err != nil {
			return tcerr.IO.Apply(errors.Annotate(err, "setting permissions of %q", name).Err())
		}
	}
	s.lock.Lock()
	s.dirs = append(s.dirs, path)
	s.lock.Unlock()
	return nil
}

// CreateFile opens a writer to extract some file to.
//
// The file gets its permissions and mtime when the writer is closed.
func (s *Staging) CreateFile(ctx context.Context, name string, opts CreateFileOptions) (io.WriteCloser, error) {
	path, err := s.prepareFilePath(ctx, name)
	if err != nil {
		return nil, err
	}

	s.lock.Lock()
	if _, ok := s.openFiles[path]; ok {
		s.lock.Unlock()
		return nil, tcerr.IO.Apply(errors.Reason("%q: already open", name).Err())
	}
	s.openFiles[path] = struct{}{}
	s.lock.Unlock()

	forget := func() {
		s.lock.Lock()
		delete(s.openFiles, path)
		s.lock.Unlock()
	}

	mode := opts.Mode.Perm()
	if mode == 0 {
		mode = 0644
	}
	flags := os.O_CREATE | os.O_WRONLY
	if opts.Exclusive {
		flags |= os.O_EXCL
	} else {
		// Duplicate entries override earlier ones. The old file may be read-only.
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			forget()
			return nil, tcerr.IO.Apply(errors.Annotate(err, "replacing %q", name).Err())
		}
	}
	// Create the file user-writable, the final mode is applied on close.
	file, err := os.OpenFile(path, flags, 0600)
	if err != nil {
		forget()
		if os.IsExist(err) {
			return nil, tcerr.IO.Apply(errors.Reason("%q: the file already exists, the archive is probably corrupted", name).Err())
		}
		return nil, tcerr.IO.Apply(errors.Annotate(err, "creating destination file").Err())
	}

	return &hookedWriter{
		Writer: file,
		closeCb: func() (err error) {
			defer forget()
			err = file.Close()
			if err == nil && runtime.GOOS != "windows" {
				// os.Chmod is not affected by umask, unlike os.OpenFile.
				err = os.Chmod(path, mode)
			}
			if err == nil && !opts.ModTime.IsZero() {
				err = SetModTime(path, opts.ModTime, false)
			}
			if err != nil {
				err = tcerr.IO.Apply(errors.Annotate(err, "closing the destination file %q", name).Err())
			}
			return
		},
	}, nil
}

type hookedWriter struct {
	io.Writer
	closeCb func() error
}

func (w *hookedWriter) Close() error { return w.closeCb() }

// CreateSymlink creates a symlink pointing to 'target' (given as is, slash
// separated).
//
// The target is not checked: the archive defines where its symlinks point.
// Callers that don't trust the archive should use CheckSymlinkTarget first.
func (s *Staging) CreateSymlink(ctx context.Context, name, target string, modTime time.Time) error {
	path, err := s.prepareFilePath(ctx, name)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return tcerr.IO.Apply(errors.Annotate(err, "replacing %q", name).Err())
	}
	if err := os.Symlink(filepath.FromSlash(target), path); err != nil {
		return tcerr.IO.Apply(errors.Annotate(err, "creating symlink %q", name).Err())
	}
	if !modTime.IsZero() {
		if err := SetModTime(path, modTime, true); err != nil {
			logging.Warningf(ctx, "[data-loss] cannot set mtime for symlink %s: %s", path, err)
		}
	}
	return nil
}

// CheckSymlinkTarget returns an error if a symlink 'name' pointing to 'target'
// would point outside of the staging directory.
func (s *Staging) CheckSymlinkTarget(name, target string) error {
	target = filepath.FromSlash(target)
	if filepath.IsAbs(target) {
		return tcerr.Security.Apply(errors.Reason("%q: absolute symlink target %q", name, target).Err())
	}
	abs := filepath.Join(s.dir, filepath.Dir(filepath.FromSlash(name)), target)
	if !IsSubpath(abs, s.dir) {
		return tcerr.Security.Apply(errors.Reason("%q: symlink is pointing outside of the destination dir", name).Err())
	}
	return nil
}

// CreateHardlink creates a hard link 'name' to an already extracted file
// 'target' (both relative to the staging root).
func (s *Staging) CreateHardlink(ctx context.Context, name, target string) error {
	targetPath, err := s.Resolve(target)
	if err != nil {
		return err
	}
	path, err := s.prepareFilePath(ctx, name)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return tcerr.IO.Apply(errors.Annotate(err, "replacing %q", name).Err())
	}
	if err := os.Link(targetPath, path); err != nil {
		return tcerr.IO.Apply(errors.Annotate(err, "linking %q to %q", name, target).Err())
	}
	return nil
}

// Commit moves the staged content into the destination, replacing it.
//
// If 'promoteSingleDir' is true and the staging directory contains exactly
// one directory (and nothing else), the content of that directory becomes the
// destination. Directories get 'modTime' as their mtime, if it is non-zero.
func (s *Staging) Commit(ctx context.Context, promoteSingleDir bool, modTime time.Time) error {
	s.lock.Lock()
	leaking := len(s.openFiles)
	dirs := s.dirs
	s.lock.Unlock()
	if leaking != 0 {
		return tcerr.IO.Apply(errors.Reason("not all files were closed (leaking %d files)", leaking).Err())
	}

	if !modTime.IsZero() {
		// Deepest first, since touching a child updates the parent mtime.
		sort.Slice(dirs, func(i, j int) bool { return len(dirs[i]) > len(dirs[j]) })
		for _, d := range dirs {
			if err := SetModTime(d, modTime, false); err != nil {
				logging.Warningf(ctx, "[data-loss] cannot set mtime for %s: %s", d, err)
			}
		}
	}

	src := s.dir
	if promoteSingleDir {
		entries, err := os.ReadDir(s.dir)
		if err != nil {
			return tcerr.IO.Apply(errors.Annotate(err, "listing staging directory").Err())
		}
		if len(entries) == 1 && entries[0].IsDir() {
			src = filepath.Join(s.dir, entries[0].Name())
		}
	}

	if err := Replace(ctx, src, s.dest); err != nil {
		return errors.Annotate(err, "moving staged files into %q", s.dest).Err()
	}
	if src != s.dir {
		// Only the empty shell of the staging directory is left.
		if err := os.Remove(s.dir); err != nil {
			logging.Warningf(ctx, "Failed to remove staging directory %s: %s", s.dir, err)
		}
	}
	return nil
}

// Abandon is called when the extraction fails. The staging directory is kept
// on disk for postmortem inspection.
func (s *Staging) Abandon(ctx context.Context) {
	logging.Warningf(ctx, "Leaving partially extracted files in %s", s.dir)
}
