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

	"go.chromium.org/luci/common/clock"
	"go.chromium.org/luci/common/errors"

	"go.chromium.org/tcdist/common/tcerr"
)

// CacheTagName is the name of the file marking an installation directory as a
// cache, see https://bford.info/cachedir/.
const CacheTagName = "CACHEDIR.TAG"

// CacheTagSignature is the required first line of a cache tag.
const CacheTagSignature = "Signature: 8a477f597d28d172789f06886806bc55"

const cacheTagBody = CacheTagSignature + `
# This file is a cache directory tag created by tcdist.
# For information about cache directory tags see https://bford.info/cachedir/
`

// writeCacheTag creates the cache tag in the installation directory.
func writeCacheTag(spec *Spec) error {
	if err := writeFileAtomic(spec.InstallDirCacheTagFile, []byte(cacheTagBody), 0644); err != nil {
		return tcerr.IO.Apply(errors.Annotate(err, "writing cache tag").Err())
	}
	return nil
}

// touchCacheTag bumps the mtime of the cache tag, marking the installation as
// recently used.
func touchCacheTag(ctx context.Context, spec *Spec) error {
	now := clock.Now(ctx)
	if err := os.Chtimes(spec.InstallDirCacheTagFile, now, now); err != nil {
		return tcerr.IO.Apply(errors.Annotate(err, "touching cache tag").Err())
	}
	return nil
}
