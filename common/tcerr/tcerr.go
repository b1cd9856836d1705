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

// Package tcerr contains an enumeration with tcdist error kinds as well as
// functions for attaching them to errors and reading them back.
package tcerr

import (
	"go.chromium.org/luci/common/errors"
)

// Code is a kind of a tcdist error.
//
// Codes are attached to errors with Apply and read back with ToCode. The CLI
// uses them to pick an exit code, tests use them to check a failure happened
// for the expected reason.
type Code string

const (
	// Unknown indicates the error has no code attached.
	Unknown Code = ""

	// BadArgument indicates a configuration error: unsupported archive
	// extension, an empty set of files to checksum, a relative destination path
	// and similar. Never retried.
	BadArgument Code = "bad_argument_error"

	// Security indicates an archive tried to escape the destination directory
	// or to exhaust the disk (zip-slip, zip-bomb).
	Security Code = "security_error"

	// IO indicates some local disk error or a broken archive.
	IO Code = "io_error"

	// Checksum indicates a checksum sidecar could not be persisted. Such an
	// installation would be indistinguishable from a corrupted one on the next
	// run, so the whole request fails.
	Checksum Code = "checksum_error"
)

// codedError attaches a Code to an error without changing its message.
type codedError struct {
	code Code
	err  error
}

func (e *codedError) Error() string     { return e.err.Error() }
func (e *codedError) Unwrap() error     { return e.err }
func (e *codedError) InnerError() error { return e.err }

// Apply attaches the code to the error.
//
// Returns nil if err is nil. The outermost code wins when an error is tagged
// multiple times.
func (c Code) Apply(err error) error {
	if err == nil {
		return nil
	}
	return &codedError{code: c, err: err}
}

// In returns true if the error (or any of the errors it wraps) carries the
// code.
func (c Code) In(err error) bool {
	found := false
	errors.Walk(err, func(err error) bool {
		if ce, ok := err.(*codedError); ok && ce.code == c {
			found = true
			return false
		}
		return true
	})
	return found
}

// ToCode returns the outermost error code attached to the error or Unknown if
// there's none.
//
// For errors.MultiError returns the code of the first coded error in it.
func ToCode(err error) Code {
	var ce *codedError
	if errors.As(err, &ce) {
		return ce.code
	}
	var merr errors.MultiError
	if errors.As(err, &merr) {
		for _, e := range merr {
			if code := ToCode(e); code != Unknown {
				return code
			}
		}
	}
	return Unknown
}

// ExitCode returns a process exit code for an error of the given kind.
func (c Code) ExitCode() int {
	switch c {
	case BadArgument:
		return 2
	case Security:
		return 3
	case Checksum:
		return 4
	default:
		return 1
	}
}
