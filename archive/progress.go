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
	"context"
	"sync"
	"time"

	"github.com/dustin/go-humanize"

	"go.chromium.org/luci/common/clock"
	"go.chromium.org/luci/common/logging"
)

// progressReporter periodically logs progress of the extraction.
type progressReporter struct {
	sync.Mutex

	ctx  context.Context
	name string

	totalCount     uint64    // total number of entries to extract
	totalSize      uint64    // total expected uncompressed size of files
	extractedCount uint64    // number of entries extracted so far
	extractedSize  uint64    // bytes uncompressed so far
	prevReport     time.Time // time when we did the last progress report
}

func newProgressReporter(ctx context.Context, name string, entries []Entry, opts *Options) *progressReporter {
	r := &progressReporter{ctx: ctx, name: name}
	for _, e := range entries {
		if !opts.included(e) {
			continue
		}
		r.totalCount++
		if e.Type == TypeFile {
			r.totalSize += uint64(e.Size)
		}
	}
	if r.totalCount != 0 {
		logging.Infof(ctx, "About to extract %s from %s (%d entries)",
			humanize.Bytes(r.totalSize), name, r.totalCount)
	}
	return r
}

// skip logs an entry of an unsupported type.
func (r *progressReporter) skip(e Entry) {
	logging.Warningf(r.ctx, "Skipping %q in %s: unsupported entry type", e.Name, r.name)
	r.advance(Entry{Type: TypeOther})
}

// advance moves the progress indicator, occasionally logging it.
func (r *progressReporter) advance(e Entry) {
	if r.totalCount == 0 {
		return
	}

	now := clock.Now(r.ctx)
	reportNow := false
	progress := 0

	var size uint64
	if e.Type == TypeFile {
		size = uint64(e.Size)
	}

	// Report progress on first and last 'advance' calls and each 2 sec.
	r.Lock()
	r.extractedSize += size
	r.extractedCount++
	if r.extractedCount == 1 || r.extractedCount == r.totalCount || now.Sub(r.prevReport) > 2*time.Second {
		reportNow = true
		if r.totalSize != 0 {
			progress = int(float64(r.extractedSize) * 100 / float64(r.totalSize))
		} else {
			progress = int(float64(r.extractedCount) * 100 / float64(r.totalCount))
		}
		r.prevReport = now
	}
	r.Unlock()

	if reportNow {
		logging.Debugf(r.ctx, "Extracting %s - %d%%", r.name, progress)
	}
}
