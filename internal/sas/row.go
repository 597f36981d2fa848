/*******************************************************************************
*
* Copyright 2016 Stefan Majewsky <majewsky@gmx.net>
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

package sas

import "math"

// Presence discriminates a cell's three-valued state (spec.md §3).
type Presence int

const (
	Present Presence = iota
	Missing
	NotCollected
)

// CellView is a view over one decoded cell. String holds a copy of the
// trimmed cell text (one allocation per present string cell); the other
// fields are stack-copied scalars. The cell slice is reused, so the view is
// valid only until the next row is decoded (spec.md §3, §4.4, §9).
type CellView struct {
	Presence Presence
	Kind     ValueKind
	String   string
	Number   float64
	// Date is days since 1960-01-01 (the SAS epoch, not yet converted to the
	// Parquet-facing 1970 epoch; that conversion happens in staging, C7).
	Date int
	// DateTimeMicros is microseconds since 1960-01-01 00:00:00 UTC.
	DateTimeMicros int64
	// TimeMicros is microseconds since midnight.
	TimeMicros int64
}

// specialNaNPayload extracts the tag byte of a SAS special-missing NaN
// (spec.md §4.4: `.`, `._`, `.A`-`.Z`) and reports whether it matches one of
// SAS's reserved payloads. The byte itself isn't used anywhere yet — SAS
// never writes a numeric missing value other than these — but is returned
// so a caller that needs to tell `.A` from `.` apart (e.g. surfacing the
// specific missing-value letter) has it without re-deriving the bit layout.
func specialNaNPayload(bits uint64, bigEndian bool) (byte, bool) {
	var top byte
	if bigEndian {
		top = byte(bits >> 56)
	} else {
		top = byte(bits & 0xFF)
	}
	if top == 0x00 || top == 0x5F || (top >= 0x41 && top <= 0x5A) {
		return top, true
	}
	return 0, false
}

func isMissingNumeric(v float64, bigEndian bool) bool {
	if !math.IsNaN(v) {
		return false
	}
	_, ok := specialNaNPayload(math.Float64bits(v), bigEndian)
	return ok
}

// DecodeRow produces one CellView per column of the frozen schema from a
// row slice. Numeric, date and time cells decode without allocating; each
// present String cell allocates its decoded text (spec.md §4.4). Exported so
// the columnar staging layer (internal/column) can reuse the exact same
// per-cell decoding the streaming row iterator uses.
func DecodeRow(row []byte, schema *Schema, bigEndian bool, cells []CellView) error {
	for i := range schema.Columns {
		col := &schema.Columns[i]
		cell := &cells[i]
		cell.Kind = col.Kind

		if col.Offset+col.Width > len(row) {
			return newErr(KindSchemaMismatch, "column window exceeds row length", nil)
		}
		window := row[col.Offset : col.Offset+col.Width]

		if col.SubType == SubTypeCharacter {
			trimmed := bytesTrimRightSpacesNUL(window)
			if len(trimmed) == 0 {
				cell.Presence = Missing
				cell.String = ""
				continue
			}
			s, err := decodeText(trimmed, schema.Encoding)
			if err != nil {
				return err
			}
			cell.Presence = Present
			cell.String = s
			continue
		}

		v := floatFromPartialWidth(window, bigEndian)
		if isMissingNumeric(v, bigEndian) {
			cell.Presence = Missing
			continue
		}
		cell.Presence = Present

		switch col.Kind {
		case KindDate:
			cell.Date = int(v)
		case KindDateTime:
			cell.DateTimeMicros = int64(math.Round(v * 1e6))
		case KindTime:
			cell.TimeMicros = int64(math.Round(v * 1e6))
		default:
			cell.Number = v
		}
	}
	return nil
}
