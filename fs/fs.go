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

// Package fs contains file system helpers shared by the extractor and the
// installer.
package fs

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"go.chromium.org/luci/common/errors"
	"go.chromium.org/luci/common/logging"

	"go.chromium.org/tcdist/common/tcerr"
)

// IsSubpath returns true if 'path' is 'root' or is inside a subdirectory of
// 'root'. Both 'path' and 'root' should be given as a native paths. If any of
// paths can't be converted to an absolute path returns false.
func IsSubpath(path, root string) bool {
	path, err := filepath.Abs(filepath.Clean(path))
	if err != nil {
		return false
	}
	root, err = filepath.Abs(filepath.Clean(root))
	if err != nil {
		return false
	}
	if root == path {
		return true
	}
	if root[len(root)-1] != filepath.Separator {
		root += string(filepath.Separator)
	}
	return strings.HasPrefix(path, root)
}

// IsDir returns true if the path exists and is a directory (symlinks are
// followed).
func IsDir(path string) (bool, error) {
	st, err := os.Stat(path)
	switch {
	case err == nil:
		return st.IsDir(), nil
	case os.IsNotExist(err):
		return false, nil
	default:
		return false, err
	}
}

// EnsureDirectory creates a directory (with all parents) if it doesn't exist
// yet. Concurrent calls for the same path are fine.
func EnsureDirectory(ctx context.Context, path string) error {
	if err := os.MkdirAll(path, 0777); err != nil {
		return tcerr.IO.Apply(errors.Annotate(err, "creating directory %q", path).Err())
	}
	return nil
}

// EnsureDirectoryGone removes the directory with all its content.
//
// Extracted packages may contain read-only directories. If the first attempt
// to remove the tree fails, makes all directories in it user-writable and
// tries again. Missing directory is not an error.
func EnsureDirectoryGone(ctx context.Context, path string) error {
	err := os.RemoveAll(path)
	if err == nil {
		return nil
	}
	if runtime.GOOS != "windows" {
		filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
			if err == nil && d.IsDir() {
				if info, err := d.Info(); err == nil {
					os.Chmod(p, info.Mode().Perm()|0700)
				}
			}
			return nil
		})
		if err = os.RemoveAll(path); err == nil {
			return nil
		}
	}
	logging.Warningf(ctx, "Failed to remove %q: %s", path, err)
	return tcerr.IO.Apply(errors.Annotate(err, "removing %q", path).Err())
}

// Replace moves 'oldpath' into 'newpath', replacing whatever is at 'newpath'
// (a file or an entire directory).
//
// Both paths must be on the same file system.
func Replace(ctx context.Context, oldpath, newpath string) error {
	if err := os.Rename(oldpath, newpath); err == nil {
		return nil
	}
	// The rename fails if 'newpath' is a non-empty directory (or any directory on
	// Windows). Get rid of it and try again.
	if err := EnsureDirectoryGone(ctx, newpath); err != nil {
		return err
	}
	if err := os.Rename(oldpath, newpath); err != nil {
		return tcerr.IO.Apply(errors.Annotate(err, "renaming %q to %q", oldpath, newpath).Err())
	}
	return nil
}

// TempDir creates a new temp directory in the given directory, with the given
// prefix.
//
// Unlike os.MkdirTemp the permissions of the created directory are 'mode'
// (trimmed by umask), not 0700. It matters when the directory is later renamed
// into some public location.
func TempDir(dir, prefix string, mode os.FileMode) (string, error) {
	tmp, err := os.MkdirTemp(dir, prefix)
	if err != nil {
		return "", err
	}
	if runtime.GOOS != "windows" {
		if err := os.Chmod(tmp, mode&^currentUmask()); err != nil {
			os.Remove(tmp)
			return "", err
		}
	}
	return tmp, nil
}

// SetModTime sets atime and mtime of a file, a directory or a symlink itself
// (symlinks are not followed).
func SetModTime(path string, t time.Time, symlink bool) error {
	if symlink {
		return lutimes(path, t)
	}
	return os.Chtimes(path, t, t)
}
