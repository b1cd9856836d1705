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

package archive

import (
	"os"
	"path"
	"strings"
)

// EntryType is a type of an archive entry.
type EntryType int

const (
	TypeFile EntryType = iota
	TypeDir
	TypeSymlink
	TypeHardlink
	// TypeOther is for devices, FIFOs and other entries that are skipped.
	TypeOther
)

// String implements fmt.Stringer.
func (t EntryType) String() string {
	switch t {
	case TypeFile:
		return "file"
	case TypeDir:
		return "dir"
	case TypeSymlink:
		return "symlink"
	case TypeHardlink:
		return "hardlink"
	default:
		return "other"
	}
}

// Entry is a header of an entry in an archive.
type Entry struct {
	Name     string // slash separated, cleaned, relative
	Type     EntryType
	Mode     os.FileMode
	Size     int64  // uncompressed size
	Linkname string // target of a hard link, cleaned
}

// cleanName normalizes an entry name. Returns "" for the root entry.
//
// The name is not checked to be within the root, see validateNames.
func cleanName(name string) string {
	clean := path.Clean(name)
	if strings.HasPrefix(name, "/") {
		// Keep it absolute to fail validation.
		return clean
	}
	if clean == "." {
		return ""
	}
	return clean
}
