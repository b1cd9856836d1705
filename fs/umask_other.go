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

//go:build !unix

package fs

import (
	"os"
	"time"
)

func currentUmask() os.FileMode { return 0 }

// lutimes is a noop: there's no portable way to change mtime of a symlink
// itself here. Readers of the mtime should not depend on it.
func lutimes(path string, t time.Time) error { return nil }
