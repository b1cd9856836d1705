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

// Package verify checks that installations still match their stored
// checksums.
package verify

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"strings"

	"github.com/pmezard/go-difflib/difflib"

	"go.chromium.org/luci/common/errors"
	"go.chromium.org/luci/common/logging"
	"go.chromium.org/luci/common/sync/parallel"

	"go.chromium.org/tcdist/install"
)

// Status is the result of verification of a single installation.
type Status struct {
	Valid   bool   `json:"valid"`
	Reason  string `json:"reason,omitempty"`
	Details string `json:"details,omitempty"`
}

// DependencyInfo describes a single verified installation.
type DependencyInfo struct {
	ArchiveName string `json:"archive_name"`
	InstallDir  string `json:"install_dir"`
	Status      Status `json:"status"`
}

// Report is the result of verification of all installations of a request.
type Report struct {
	BaseInstallDir string           `json:"base_install_dir"`
	Dependencies   []DependencyInfo `json:"dependencies"`
}

// Valid is true if all installations are valid.
func (r *Report) Valid() bool {
	for _, d := range r.Dependencies {
		if !d.Status.Valid {
			return false
		}
	}
	return true
}

// Invalid returns all invalid installations.
func (r *Report) Invalid() []DependencyInfo {
	var out []DependencyInfo
	for _, d := range r.Dependencies {
		if !d.Status.Valid {
			out = append(out, d)
		}
	}
	return out
}

// WriteJSON writes the report as indented JSON.
func (r *Report) WriteJSON(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(r)
}

// Check verifies installations of all specs.
//
// It never stops early: every spec gets a status.
func Check(ctx context.Context, specs []*install.Spec) *Report {
	report := &Report{Dependencies: make([]DependencyInfo, len(specs))}
	if len(specs) != 0 {
		report.BaseInstallDir = specs[0].BaseInstallDir
	}
	_ = parallel.FanOutIn(func(work chan<- func() error) {
		for i, spec := range specs {
			work <- func() error {
				report.Dependencies[i] = DependencyInfo{
					ArchiveName: spec.ArchiveName(),
					InstallDir:  spec.InstallDir,
					Status:      checkOne(ctx, spec),
				}
				return nil
			}
		}
	})
	for _, d := range report.Invalid() {
		logging.Warningf(ctx, "Installation %s is invalid: %s", d.InstallDir, d.Status.Reason)
	}
	return report
}

func invalid(reason, details string) Status {
	return Status{Reason: reason, Details: details}
}

func checkOne(ctx context.Context, spec *install.Spec) Status {
	switch st, err := os.Stat(spec.InstallDir); {
	case os.IsNotExist(err):
		return invalid("directory does not exist", "")
	case err != nil:
		return invalid("directory is not accessible", err.Error())
	case !st.IsDir():
		return invalid("not a directory", "")
	}

	digest, listing, err := install.TreeChecksum(ctx, spec)
	if err != nil {
		return invalid("failed to compute the checksum", err.Error())
	}

	stored, err := install.ReadSidecar(spec.InstallDirChecksumFile)
	switch {
	case err == install.ErrNoSidecar:
		return invalid("checksum file does not exist", diff(nil, listing.Lines(), spec))
	case err != nil:
		logging.Warningf(ctx, "Broken checksum file of %s: %s", spec.InstallDir, err)
		var listed []string
		if stored != nil {
			listed = stored.Listing
		}
		return invalid("checksum file is corrupted", diff(listed, listing.Lines(), spec))
	}

	if stored.Digest.Equal(digest) {
		return Status{Valid: true}
	}
	return invalid("checksum mismatch", diff(stored.Listing, listing.Lines(), spec))
}

// diff returns a unified diff between the stored and the current listings.
func diff(stored, current []string, spec *install.Spec) string {
	out, err := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        withNewlines(stored),
		B:        withNewlines(current),
		FromFile: spec.InstallDirChecksumFile,
		ToFile:   spec.InstallDir,
		Context:  1,
	})
	if err != nil {
		return errors.Annotate(err, "failed to diff").Err().Error()
	}
	if out == "" {
		// Same listing, but different digest: the exclude set or the checksum
		// format changed.
		return "listings are identical, the checksum parameters differ"
	}
	return out
}

func withNewlines(lines []string) []string {
	out := make([]string, len(lines))
	for i, l := range lines {
		out[i] = strings.TrimRight(l, "\n") + "\n"
	}
	return out
}
