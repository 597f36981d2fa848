/*******************************************************************************
*
* Copyright 2015 Stefan Majewsky <majewsky@gmx.net>
*
* This file is part of Holo.
*
* Holo is free software: you can redistribute it and/or modify it under the
* terms of the GNU General Public License as published by the Free Software
* Foundation, either version 3 of the License, or (at your option) any later
* version.
*
* Holo is distributed in the hope that it will be useful, but WITHOUT ANY
* WARRANTY; without even the implied warranty of MERCHANTABILITY or FITNESS FOR
* A PARTICULAR PURPOSE. See the GNU General Public License for more details.
*
* You should have received a copy of the GNU General Public License along with
* Holo. If not, see <http://www.gnu.org/licenses/>.
*
*******************************************************************************/

// Package sas decodes SAS7BDAT files: header, metadata subheaders, pages
// and rows.
package sas

import (
	"errors"
	"fmt"
)

// Kind classifies the errors this package can return. Callers that need to
// distinguish a truncated read from a corrupt header should use errors.Is
// against the sentinel values below rather than string-matching.
type Kind int

const (
	// KindIO covers a failed or truncated underlying read.
	KindIO Kind = iota
	// KindInvalidHeader covers a magic mismatch or an impossible page/header size.
	KindInvalidHeader
	// KindInvalidCompressed covers an RLE/RDC stream that over/underran its buffer.
	KindInvalidCompressed
	// KindSchemaMismatch covers column-count/attribute disagreement or a truncated text heap.
	KindSchemaMismatch
	// KindUnsupportedEncoding covers a declared encoding outside the closed table
	// whose bytes also fail UTF-8 validation.
	KindUnsupportedEncoding
	// KindWriterNotClosed indicates a Parquet sink invariant failure (a bug, not a data problem).
	KindWriterNotClosed
)

func (k Kind) String() string {
	switch k {
	case KindIO:
		return "io"
	case KindInvalidHeader:
		return "invalid header"
	case KindInvalidCompressed:
		return "invalid compressed stream"
	case KindSchemaMismatch:
		return "schema mismatch"
	case KindUnsupportedEncoding:
		return "unsupported encoding"
	case KindWriterNotClosed:
		return "writer not closed"
	default:
		return "unknown"
	}
}

// Error is the concrete error type returned by this package's public entry
// points. All errors bubble up unmodified; none are retried inside the core.
type Error struct {
	Kind Kind
	msg  string
	err  error
}

func (e *Error) Error() string {
	if e.err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.msg, e.err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.msg)
}

func (e *Error) Unwrap() error { return e.err }

// Is lets errors.Is(err, ErrInvalidHeader) work against a bare Kind check,
// since the sentinels below are Kind values wrapped in a zero-message Error.
func (e *Error) Is(target error) bool {
	var other *Error
	if errors.As(target, &other) {
		return e.Kind == other.Kind
	}
	return false
}

func newErr(kind Kind, msg string, cause error) *Error {
	return &Error{Kind: kind, msg: msg, err: cause}
}

// NewError builds an Error of the given kind for use outside this package
// (internal/parquetsink and internal/textsink report sink-side failures
// through the same taxonomy rather than inventing their own).
func NewError(kind Kind, msg string, cause error) *Error {
	return newErr(kind, msg, cause)
}

// Sentinel errors for errors.Is comparisons against a bare kind.
var (
	ErrInvalidHeader      = &Error{Kind: KindInvalidHeader, msg: "sentinel"}
	ErrInvalidCompressed  = &Error{Kind: KindInvalidCompressed, msg: "sentinel"}
	ErrSchemaMismatch     = &Error{Kind: KindSchemaMismatch, msg: "sentinel"}
	ErrUnsupportedEncoding = &Error{Kind: KindUnsupportedEncoding, msg: "sentinel"}
	ErrWriterNotClosed    = &Error{Kind: KindWriterNotClosed, msg: "sentinel"}
)

// Collector aggregates non-fatal findings (unknown page kinds, skipped
// truncated-row pointers) so they can be logged once per kind per file by
// the caller instead of spamming per occurrence. Modeled on holo-build's
// ErrorCollector, extended with a dedupe set.
type Collector struct {
	seen  map[string]bool
	Notes []string
}

// Notef records a note the first time its formatted text is seen; later
// calls with the same text are silently dropped.
func (c *Collector) Notef(format string, args ...interface{}) {
	if c.seen == nil {
		c.seen = make(map[string]bool)
	}
	note := format
	if len(args) > 0 {
		note = fmt.Sprintf(format, args...)
	}
	if c.seen[note] {
		return
	}
	c.seen[note] = true
	c.Notes = append(c.Notes, note)
}
