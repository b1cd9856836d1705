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

// Package exclude implements glob based filters for files extracted from
// archives and for files included into tree checksums.
//
// Patterns use the doublestar syntax ("**" crosses directory boundaries) and
// are matched against slash separated paths relative to the root of an
// archive or an installation directory.
package exclude

import (
	"path"
	"strings"

	"github.com/bmatcuk/doublestar"

	"go.chromium.org/luci/common/data/stringset"
	"go.chromium.org/luci/common/errors"

	"go.chromium.org/tcdist/common/tcerr"
)

// Set is an immutable set of exclude patterns.
//
// The zero value (and nil) excludes nothing.
type Set struct {
	patterns []string
}

// New validates the patterns and returns a Set with them.
//
// Duplicates and empty patterns are dropped.
func New(patterns ...string) (*Set, error) {
	uniq := stringset.New(len(patterns))
	for _, p := range patterns {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		p = strings.TrimPrefix(p, "./")
		// doublestar reports malformed patterns only when it gets to them while
		// matching, path.Match always scans the whole pattern.
		if _, err := path.Match(p, p); err != nil {
			return nil, tcerr.BadArgument.Apply(errors.Annotate(err, "bad exclude pattern %q", p).Err())
		}
		uniq.Add(p)
	}
	return &Set{patterns: uniq.ToSortedSlice()}, nil
}

// Must is like New, but panics on bad patterns.
func Must(patterns ...string) *Set {
	s, err := New(patterns...)
	if err != nil {
		panic(err)
	}
	return s
}

// Empty is true if the set has no patterns.
func (s *Set) Empty() bool {
	return s == nil || len(s.patterns) == 0
}

// Patterns returns a sorted copy of the patterns.
func (s *Set) Patterns() []string {
	if s.Empty() {
		return nil
	}
	return append([]string(nil), s.patterns...)
}

// Matches is true if the slash separated relative path matches any pattern.
func (s *Set) Matches(rel string) bool {
	if s.Empty() {
		return false
	}
	rel = strings.TrimPrefix(strings.TrimPrefix(rel, "./"), "/")
	for _, p := range s.patterns {
		if ok, _ := doublestar.Match(p, rel); ok {
			return true
		}
	}
	return false
}

// MatchesEntry is true if an archive entry name matches the set either as is
// or with its top-level directory stripped.
//
// Archives of toolchains usually have everything under a single directory
// named after the version, which is dropped during extraction. Patterns are
// written against the installed layout, so both forms are tried.
func (s *Set) MatchesEntry(name string) bool {
	if s.Matches(name) {
		return true
	}
	name = strings.TrimPrefix(strings.TrimPrefix(name, "./"), "/")
	if i := strings.IndexByte(name, '/'); i != -1 && i+1 < len(name) {
		return s.Matches(name[i+1:])
	}
	return false
}

// String returns the patterns in a canonical form, suitable for checksums.
func (s *Set) String() string {
	if s.Empty() {
		return ""
	}
	return strings.Join(s.patterns, "\n")
}
