// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package errtax names the error taxonomy spec.md §7 requires (Usage,
// Metadata, Read, Write, Geometry, Invariant) and maps each to the CLI
// exit code spec.md §6 specifies. Invariant violations are panic-class
// (§7e) and never flow through this package.
package errtax

import "github.com/grailbio/base/errors"

// Category is one of the classes spec.md §7 defines.
type Category int

const (
	Usage    Category = iota // bad flags, bad input-list syntax (§7a) — exit 1
	Metadata                 // probing failure: missing/unreadable input (§7b) — exit 2
	Read                     // read worker failure during the run (§7c) — exit 2
	Write                    // writer/output failure (§7d) — exit 2
	Geometry                 // projection/geometry resolution failure (§4.2) — exit 3
)

// Err wraps an underlying *errors.Error with the category that decides
// its exit code, keeping the exit-code mapping independent of
// base/errors.Kind's own (smaller, general-purpose) enum.
type Err struct {
	Category Category
	*errors.Error
}

// E builds a categorized error. args follow errors.E's own convention
// (an error to wrap, then message/detail values), matching the call
// shape used throughout the teacher's codebase.
func E(cat Category, args ...interface{}) error {
	return &Err{Category: cat, Error: errors.E(args...).(*errors.Error)}
}

// ExitCode maps err to the process exit code spec.md §6 defines: 0
// success, 1 usage error, 2 I/O error (Metadata/Read/Write), 3
// geometry/projection error.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	e, ok := err.(*Err)
	if !ok {
		return 2
	}
	switch e.Category {
	case Usage:
		return 1
	case Geometry:
		return 3
	default:
		return 2
	}
}
