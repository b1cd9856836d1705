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
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Kind is a kind of a file system entry.
type Kind string

const (
	KindFile  Kind = "file"
	KindDir   Kind = "dir"
	KindOther Kind = "other"
)

func kindOf(fi os.FileInfo) Kind {
	switch {
	case fi.Mode().IsRegular():
		return KindFile
	case fi.IsDir():
		return KindDir
	default:
		return KindOther
	}
}

// Entry is metadata of a single file system entry in a Listing.
type Entry struct {
	Path    string // slash separated, relative to the listed directory
	Size    int64
	Kind    Kind
	Symlink bool
	ModTime time.Time // zero for directories
}

func entryFromInfo(path string, fi os.FileInfo) Entry {
	e := Entry{
		Path:    path,
		Kind:    kindOf(fi),
		Symlink: fi.Mode()&os.ModeSymlink != 0,
	}
	// The size and mtime of a directory depend on the file system and on the
	// order its children were created in.
	if e.Kind != KindDir {
		e.Size = fi.Size()
		e.ModTime = fi.ModTime().UTC()
	}
	return e
}

// String formats the entry as a single listing line.
func (e Entry) String() string {
	mtime := "-"
	if !e.ModTime.IsZero() {
		mtime = e.ModTime.UTC().Format(time.RFC3339Nano)
	}
	return fmt.Sprintf("%s size=%d kind=%s symlink=%t mtime=%s",
		strconv.Quote(e.Path), e.Size, e.Kind, e.Symlink, mtime)
}

// Listing is a sorted list of entries of a directory tree.
type Listing []Entry

// Lines returns the listing formatted one entry per line.
func (l Listing) Lines() []string {
	out := make([]string, len(l))
	for i, e := range l {
		out[i] = e.String()
	}
	return out
}

// String returns all lines joined with "\n".
func (l Listing) String() string {
	return strings.Join(l.Lines(), "\n")
}
