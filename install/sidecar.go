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
	"bufio"
	"bytes"
	"os"
	"path/filepath"
	"strings"

	"go.chromium.org/luci/common/errors"

	"go.chromium.org/tcdist/common/tcerr"
	"go.chromium.org/tcdist/fingerprint"
)

// Sidecar is the content of a checksum file.
//
// The first line is the digest, the rest is an optional listing.
type Sidecar struct {
	Digest  fingerprint.Digest
	Listing []string
}

// ErrNoSidecar is returned by ReadSidecar if the file doesn't exist.
var ErrNoSidecar = errors.New("checksum file doesn't exist")

// ReadSidecar reads and parses a checksum file.
//
// If only the digest line is corrupted, the error comes with a Sidecar that
// has the listing and no digest.
func ReadSidecar(path string) (*Sidecar, error) {
	body, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
		return nil, ErrNoSidecar
	case err != nil:
		return nil, tcerr.IO.Apply(errors.Annotate(err, "reading %q", path).Err())
	}

	var lines []string
	scanner := bufio.NewScanner(bytes.NewReader(body))
	scanner.Buffer(nil, 1<<20)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Annotate(err, "reading %q", path).Err()
	}
	if len(lines) == 0 {
		return nil, errors.Reason("checksum file %q is empty", path).Err()
	}
	digest, err := fingerprint.ParseDigest(strings.TrimSpace(lines[0]))
	if err != nil {
		return &Sidecar{Listing: lines[1:]}, errors.Annotate(err, "checksum file %q is corrupted", path).Err()
	}
	return &Sidecar{Digest: digest, Listing: lines[1:]}, nil
}

// writeSidecar atomically writes a checksum file, creating its directory.
func writeSidecar(path string, sc *Sidecar) error {
	if err := os.MkdirAll(filepath.Dir(path), 0777); err != nil {
		return tcerr.Checksum.Apply(errors.Annotate(err, "creating checksums directory").Err())
	}
	var buf bytes.Buffer
	buf.WriteString(sc.Digest.String())
	buf.WriteByte('\n')
	for _, l := range sc.Listing {
		buf.WriteString(l)
		buf.WriteByte('\n')
	}
	if err := writeFileAtomic(path, buf.Bytes(), 0644); err != nil {
		return tcerr.Checksum.Apply(errors.Annotate(err, "writing %q", path).Err())
	}
	return nil
}

// removeSidecar deletes a checksum file if it exists.
func removeSidecar(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return tcerr.Checksum.Apply(errors.Annotate(err, "removing %q", path).Err())
	}
	return nil
}
