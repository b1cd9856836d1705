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

// Package fingerprint computes deterministic digests of files and directory
// trees.
//
// Two flavors are supported. Content mode hashes what the files contain and
// is used to detect changes of input archives. Metadata mode hashes file
// names, sizes, kinds and modification times and is cheap enough to run over
// an entire installed toolchain on every build.
package fingerprint

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"hash"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"go.chromium.org/luci/common/errors"
	"go.chromium.org/luci/common/logging"

	"go.chromium.org/tcdist/common/tcerr"
	"go.chromium.org/tcdist/fs"
)

// Mode defines what is hashed for each path.
type Mode int

const (
	// Content mode hashes the kind and the content of each path (file bytes,
	// symlink targets). With BaseDir it also hashes relative paths.
	Content Mode = iota
	// Metadata mode hashes relative paths, sizes, kinds, symlink flags and
	// modification times of files.
	Metadata
)

// String implements fmt.Stringer.
func (m Mode) String() string {
	switch m {
	case Content:
		return "content"
	case Metadata:
		return "metadata"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

// Options are arguments for Compute.
type Options struct {
	// BaseDir, if set, makes all paths hashed relative to it. All paths must be
	// inside of it.
	BaseDir string
	// Mode defines what to hash for each path.
	Mode Mode
	// ExtraMetadata is appended to the digest as is, in the given order.
	ExtraMetadata []string
}

// Digest is a SHA256 digest.
type Digest []byte

// String returns the standard base64 encoding of the digest.
func (d Digest) String() string {
	return base64.StdEncoding.EncodeToString(d)
}

// Equal is true if two digests are the same.
func (d Digest) Equal(other Digest) bool {
	return string(d) == string(other)
}

// ParseDigest parses a digest produced by Digest.String.
func ParseDigest(s string) (Digest, error) {
	raw, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, errors.Annotate(err, "malformed digest %q", s).Err()
	}
	if len(raw) != sha256.Size {
		return nil, errors.Reason("malformed digest %q: expecting %d bytes, got %d", s, sha256.Size, len(raw)).Err()
	}
	return raw, nil
}

// pathItem is a path being hashed.
type pathItem struct {
	abs string // absolute path on disk
	key string // slash separated path relative to BaseDir or cleaned absolute path
}

// Compute calculates a digest of the given paths.
//
// Relative paths are resolved against BaseDir if it is set, or against the
// current directory otherwise. The order of 'paths' doesn't matter.
func Compute(ctx context.Context, paths []string, opts Options) (Digest, error) {
	items, err := canonicalize(paths, opts.BaseDir)
	if err != nil {
		return nil, err
	}
	h := sha256.New()
	for _, item := range items {
		if err := hashPath(h, item, opts); err != nil {
			return nil, err
		}
	}
	for _, extra := range opts.ExtraMetadata {
		fmt.Fprintf(h, "extra\t%s\n", strconv.Quote(extra))
	}
	digest := Digest(h.Sum(nil))
	logging.Debugf(ctx, "Fingerprint of %d paths (%s mode): %s", len(items), opts.Mode, digest)
	return digest, nil
}

// canonicalize validates and sorts the paths.
func canonicalize(paths []string, baseDir string) ([]pathItem, error) {
	if len(paths) == 0 {
		return nil, tcerr.BadArgument.Apply(errors.Reason("no paths to fingerprint").Err())
	}

	if baseDir != "" {
		abs, err := filepath.Abs(baseDir)
		if err != nil {
			return nil, tcerr.BadArgument.Apply(errors.Annotate(err, "bad base directory %q", baseDir).Err())
		}
		switch isDir, err := fs.IsDir(abs); {
		case err != nil:
			return nil, tcerr.IO.Apply(errors.Annotate(err, "checking base directory").Err())
		case !isDir:
			return nil, tcerr.BadArgument.Apply(errors.Reason("base directory %q is not a directory", baseDir).Err())
		}
		baseDir = abs
	}

	items := make([]pathItem, 0, len(paths))
	for _, p := range paths {
		var abs string
		switch {
		case filepath.IsAbs(p):
			abs = filepath.Clean(p)
		case baseDir != "":
			abs = filepath.Join(baseDir, p)
		default:
			var err error
			if abs, err = filepath.Abs(p); err != nil {
				return nil, tcerr.BadArgument.Apply(errors.Annotate(err, "bad path %q", p).Err())
			}
		}
		key := abs
		if baseDir != "" {
			if !fs.IsSubpath(abs, baseDir) {
				return nil, tcerr.BadArgument.Apply(errors.Reason("path %q is not under the base directory %q", p, baseDir).Err())
			}
			rel, err := filepath.Rel(baseDir, abs)
			if err != nil {
				return nil, tcerr.BadArgument.Apply(errors.Annotate(err, "bad path %q", p).Err())
			}
			key = filepath.ToSlash(rel)
		}
		items = append(items, pathItem{abs: abs, key: key})
	}

	sort.Slice(items, func(i, j int) bool { return items[i].key < items[j].key })
	return items, nil
}

func hashPath(h hash.Hash, item pathItem, opts Options) error {
	fi, err := os.Lstat(item.abs)
	if err != nil {
		return tcerr.IO.Apply(errors.Annotate(err, "fingerprinting %q", item.abs).Err())
	}

	if opts.Mode == Metadata {
		name := item.key
		if opts.BaseDir == "" {
			name = filepath.ToSlash(item.key)
		}
		fmt.Fprintf(h, "%s\n", entryFromInfo(name, fi))
		return nil
	}

	kind := kindOf(fi)
	if opts.BaseDir != "" {
		fmt.Fprintf(h, "path\t%s\n", strconv.Quote(item.key))
	}
	switch {
	case fi.Mode()&os.ModeSymlink != 0:
		target, err := os.Readlink(item.abs)
		if err != nil {
			return tcerr.IO.Apply(errors.Annotate(err, "reading symlink %q", item.abs).Err())
		}
		fmt.Fprintf(h, "symlink\t%s\n", strconv.Quote(filepath.ToSlash(target)))
	case kind == KindFile:
		sum, size, err := hashFile(item.abs)
		if err != nil {
			return err
		}
		fmt.Fprintf(h, "file\t%d\t%x\n", size, sum)
	default:
		fmt.Fprintf(h, "%s\n", kind)
	}
	return nil
}

// hashFile returns SHA256 of the file body and its size.
func hashFile(path string) ([]byte, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, tcerr.IO.Apply(errors.Annotate(err, "opening %q", path).Err())
	}
	defer f.Close()
	h := sha256.New()
	size, err := io.Copy(h, f)
	if err != nil {
		return nil, 0, tcerr.IO.Apply(errors.Annotate(err, "reading %q", path).Err())
	}
	return h.Sum(nil), size, nil
}
