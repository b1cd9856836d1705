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
	"sort"

	"go.chromium.org/luci/common/errors"

	"go.chromium.org/tcdist/common/tcerr"
	"go.chromium.org/tcdist/exclude"
)

// cacheTagName is skipped when listing trees: its mtime is touched each time
// an installation is used.
const cacheTagName = "CACHEDIR.TAG"

// Tree fingerprints all entries of a directory tree.
//
// Symlinks are not followed. Entries matching 'excludes' are skipped, as well
// as CACHEDIR.TAG in the root of the tree. Returns the digest (computed in the
// given mode) and the metadata listing of all hashed entries.
func Tree(ctx context.Context, dir string, excludes *exclude.Set, mode Mode, extra []string) (Digest, Listing, error) {
	dir, err := filepath.Abs(dir)
	if err != nil {
		return nil, nil, tcerr.BadArgument.Apply(errors.Annotate(err, "bad directory %q", dir).Err())
	}

	var paths []string
	var listing Listing
	err = filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if path == dir {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if rel == cacheTagName || excludes.Matches(rel) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		paths = append(paths, path)
		listing = append(listing, entryFromInfo(rel, info))
		return nil
	})
	if err != nil {
		return nil, nil, tcerr.IO.Apply(errors.Annotate(err, "walking %q", dir).Err())
	}
	if len(paths) == 0 {
		return nil, nil, tcerr.BadArgument.Apply(errors.Reason("nothing to fingerprint in %q", dir).Err())
	}
	sort.Slice(listing, func(i, j int) bool { return listing[i].Path < listing[j].Path })

	digest, err := Compute(ctx, paths, Options{
		BaseDir:       dir,
		Mode:          mode,
		ExtraMetadata: extra,
	})
	if err != nil {
		return nil, nil, err
	}
	return digest, listing, nil
}
