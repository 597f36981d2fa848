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

// Package textsink writes a StagedBatch out as delimited text, the
// human-inspectable alternative to internal/parquetsink (sasconvert's
// "--sink csv|tsv"). Delimited text has no ecosystem library in the
// retrieval pack worth pulling in over encoding/csv, which already
// handles quoting, embedded delimiters and CRLF correctly; see DESIGN.md.
package textsink

import (
	"encoding/csv"
	"io"
	"strconv"
	"time"

	"github.com/holocm/sas7bdat-go/internal/column"
	"github.com/holocm/sas7bdat-go/internal/sas"
)

// Delimiter selects the field separator (spec.md §6: csv or tsv).
type Delimiter rune

const (
	DelimiterComma Delimiter = ','
	DelimiterTab   Delimiter = '\t'
)

// Sink writes staged batches as delimited text, emitting a header row from
// the schema before the first batch.
type Sink struct {
	w            *csv.Writer
	schema       *sas.Schema
	wroteHeader  bool
}

// Open wraps w in a delimited-text sink bound to schema.
func Open(w io.Writer, schema *sas.Schema, delim Delimiter) *Sink {
	cw := csv.NewWriter(w)
	cw.Comma = rune(delim)
	return &Sink{w: cw, schema: schema}
}

// WriteBatch appends every row of a staged batch, writing the header row
// first if this is the first call.
func (s *Sink) WriteBatch(batch *column.StagedBatch) error {
	if !s.wroteHeader {
		header := make([]string, len(s.schema.Columns))
		for i, col := range s.schema.Columns {
			header[i] = col.Name
		}
		if err := s.w.Write(header); err != nil {
			return sas.NewError(sas.KindIO, "failed to write header row", err)
		}
		s.wroteHeader = true
	}

	record := make([]string, len(s.schema.Columns))
	for i := 0; i < batch.RowCount; i++ {
		for ci := range s.schema.Columns {
			record[ci] = cellText(&batch.Columns[ci], i)
		}
		if err := s.w.Write(record); err != nil {
			return sas.NewError(sas.KindIO, "failed to write data row", err)
		}
	}
	return nil
}

// Close flushes buffered output. encoding/csv reports a deferred write
// error only through Flush, so it must be checked even though nothing else
// was written here.
func (s *Sink) Close() error {
	s.w.Flush()
	if err := s.w.Error(); err != nil {
		return sas.NewError(sas.KindIO, "failed to flush output", err)
	}
	return nil
}

func cellText(col *column.StagedColumn, i int) string {
	switch col.Kind {
	case sas.KindString:
		sc := col.String
		if !sc.Validity[i] {
			return ""
		}
		return string(sc.Arena[sc.Offsets[i]:sc.Offsets[i+1]])
	case sas.KindDate:
		dc := col.Date
		if !dc.Validity[i] {
			return ""
		}
		return time.Unix(int64(dc.Values[i])*86400, 0).UTC().Format("2006-01-02")
	case sas.KindDateTime:
		tc := col.DateTime
		if !tc.Validity[i] {
			return ""
		}
		return time.UnixMicro(tc.Values[i]).UTC().Format("2006-01-02T15:04:05.000000")
	case sas.KindTime:
		tc := col.Time
		if !tc.Validity[i] {
			return ""
		}
		d := time.Duration(tc.Values[i]) * time.Microsecond
		return (time.Time{}).Add(d).Format("15:04:05.000000")
	default:
		nc := col.Numeric
		if !nc.Validity[i] {
			return ""
		}
		return strconv.FormatFloat(nc.Values[i], 'g', -1, 64)
	}
}
