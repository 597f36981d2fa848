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

// Package column stages decoded rows into column arenas suitable for a
// single-pass flush to a columnar sink (spec.md §4.6). It is the bridge
// between the row-wise decoder (internal/sas) and a Parquet/CSV writer.
package column

import (
	"io"

	"github.com/holocm/sas7bdat-go/internal/sas"
)

// DefaultRowGroupSize is the default number of rows staged per batch
// (spec.md §4.6).
const DefaultRowGroupSize = 65536

// maxDictionaryEntries bounds the per-column small-cardinality dictionary
// (spec.md §4.6).
const maxDictionaryEntries = 4096

// StringColumn holds a byte arena plus an offsets vector for one String
// column, and a bounded dictionary when cardinality permits.
type StringColumn struct {
	Arena       []byte
	Offsets     []int // len RowCount+1into Arena; Offsets[i]==Offsets[i+1] for missing/empty
	Validity    []bool
	Dictionary  []string // distinct values in first-seen order, only valid if !DictDisabled
	DictIndex   []int32  // index into Dictionary for each present row in row order (missing rows have no entry), only valid if !DictDisabled
	DictDisabled bool
	dictLookup  map[string]int32
}

// NumericColumn holds a materialised []float64 vector with validity.
type NumericColumn struct {
	Values   []float64
	Validity []bool
}

// Int32Column holds a materialised []int32 vector (Date columns, days since
// 1970-01-01) with validity.
type Int32Column struct {
	Values   []int32
	Validity []bool
}

// Int64Column holds a materialised []int64 vector (DateTime/Time columns,
// microsecond resolution) with validity.
type Int64Column struct {
	Values   []int64
	Validity []bool
}

// StagedColumn is a tagged union over the four materialised representations
// spec.md §4.6 calls for; exactly one of the pointer fields is non-nil,
// matching Kind.
type StagedColumn struct {
	Kind     sas.ValueKind
	String   *StringColumn
	Numeric  *NumericColumn
	Date     *Int32Column
	DateTime *Int64Column
	Time     *Int64Column
}

// StagedBatch exclusively owns its arenas, dictionaries, and materialised
// vectors; it is consumed by a sink and not mutated further once returned
// (spec.md §3 "Ownership").
type StagedBatch struct {
	Schema   *sas.Schema
	Columns  []StagedColumn
	RowCount int
}

func newStagedColumn(col *sas.Column, capacity int) StagedColumn {
	switch col.Kind {
	case sas.KindString:
		return StagedColumn{Kind: col.Kind, String: &StringColumn{
			Offsets:    make([]int, 1, capacity+1),
			Validity:   make([]bool, 0, capacity),
			dictLookup: make(map[string]int32, maxDictionaryEntries),
		}}
	case sas.KindDate:
		return StagedColumn{Kind: col.Kind, Date: &Int32Column{
			Values:   make([]int32, 0, capacity),
			Validity: make([]bool, 0, capacity),
		}}
	case sas.KindDateTime:
		return StagedColumn{Kind: col.Kind, DateTime: &Int64Column{
			Values:   make([]int64, 0, capacity),
			Validity: make([]bool, 0, capacity),
		}}
	case sas.KindTime:
		return StagedColumn{Kind: col.Kind, Time: &Int64Column{
			Values:   make([]int64, 0, capacity),
			Validity: make([]bool, 0, capacity),
		}}
	default:
		return StagedColumn{Kind: sas.KindNumber, Numeric: &NumericColumn{
			Values:   make([]float64, 0, capacity),
			Validity: make([]bool, 0, capacity),
		}}
	}
}

func newStagedBatch(schema *sas.Schema, capacity int) *StagedBatch {
	cols := make([]StagedColumn, len(schema.Columns))
	for i := range schema.Columns {
		cols[i] = newStagedColumn(&schema.Columns[i], capacity)
	}
	return &StagedBatch{Schema: schema, Columns: cols}
}

// unixFromSASEpochDays is the day offset between the SAS epoch
// (1960-01-01) and the Unix epoch (1970-01-01), matching spec.md §4.6.
const unixFromSASEpochDays = 3653

// unixFromSASEpochSeconds is the same offset expressed in seconds, for
// converting SAS datetime (seconds since 1960) to a Unix-epoch value.
const unixFromSASEpochSeconds = int64(unixFromSASEpochDays) * 86400

func (c *StringColumn) append(cell *sas.CellView) {
	if cell.Presence != sas.Present {
		c.Validity = append(c.Validity, false)
		c.Offsets = append(c.Offsets, len(c.Arena))
		return
	}
	c.Validity = append(c.Validity, true)
	c.Arena = append(c.Arena, cell.String...)
	c.Offsets = append(c.Offsets, len(c.Arena))

	if c.DictDisabled {
		return
	}
	if idx, ok := c.dictLookup[cell.String]; ok {
		c.DictIndex = append(c.DictIndex, idx)
		return
	}
	if len(c.Dictionary) >= maxDictionaryEntries {
		c.DictDisabled = true
		c.Dictionary = nil
		c.DictIndex = nil
		c.dictLookup = nil
		return
	}
	idx := int32(len(c.Dictionary))
	c.Dictionary = append(c.Dictionary, cell.String)
	c.dictLookup[cell.String] = idx
	c.DictIndex = append(c.DictIndex, idx)
}

func (b *StagedBatch) appendRow(cells []sas.CellView) {
	for i := range cells {
		cell := &cells[i]
		col := &b.Columns[i]
		switch col.Kind {
		case sas.KindString:
			col.String.append(cell)
		case sas.KindDate:
			if cell.Presence != sas.Present {
				col.Date.Validity = append(col.Date.Validity, false)
				col.Date.Values = append(col.Date.Values, 0)
				continue
			}
			col.Date.Validity = append(col.Date.Validity, true)
			col.Date.Values = append(col.Date.Values, int32(cell.Date-unixFromSASEpochDays))
		case sas.KindDateTime:
			if cell.Presence != sas.Present {
				col.DateTime.Validity = append(col.DateTime.Validity, false)
				col.DateTime.Values = append(col.DateTime.Values, 0)
				continue
			}
			col.DateTime.Validity = append(col.DateTime.Validity, true)
			col.DateTime.Values = append(col.DateTime.Values, cell.DateTimeMicros-unixFromSASEpochSeconds*1_000_000)
		case sas.KindTime:
			if cell.Presence != sas.Present {
				col.Time.Validity = append(col.Time.Validity, false)
				col.Time.Values = append(col.Time.Values, 0)
				continue
			}
			col.Time.Validity = append(col.Time.Validity, true)
			col.Time.Values = append(col.Time.Values, cell.TimeMicros)
		default:
			if cell.Presence != sas.Present {
				col.Numeric.Validity = append(col.Numeric.Validity, false)
				col.Numeric.Values = append(col.Numeric.Values, 0)
				continue
			}
			col.Numeric.Validity = append(col.Numeric.Validity, true)
			col.Numeric.Values = append(col.Numeric.Values, cell.Number)
		}
	}
}

// RowSource pulls the next row's raw bytes, returning io.EOF when exhausted.
// sas.Reader.RawRowSource() produces one.
type RowSource func() ([]byte, error)

// BatchIterator stages batches of rows from a RowSource into StagedBatch
// values, one row-group at a time (spec.md §4.6).
type BatchIterator struct {
	schema    *sas.Schema
	bigEndian bool
	source    RowSource
	batchSize int
	cells     []sas.CellView
	done      bool
}

// NewBatchIterator builds the columnar-staging counterpart of
// Reader.Rows(): conceptually Reader::columnar_batches(size). It lives in
// this package rather than as a method on sas.Reader to avoid a package
// import cycle between internal/sas and internal/column.
func NewBatchIterator(schema *sas.Schema, bigEndian bool, source RowSource, batchSize int) *BatchIterator {
	if batchSize <= 0 {
		batchSize = DefaultRowGroupSize
	}
	return &BatchIterator{
		schema:    schema,
		bigEndian: bigEndian,
		source:    source,
		batchSize: batchSize,
		cells:     make([]sas.CellView, len(schema.Columns)),
	}
}

// Next stages up to batchSize rows into one StagedBatch. Each visited row's
// bytes are copied exactly once, into a batch-local scratch buffer, before
// being decoded column-by-column into the batch's arenas (spec.md §4.6: no
// per-row-beyond-the-first copy). Returns io.EOF once no more rows remain;
// a partially-filled final batch is returned before EOF, never silently
// dropped.
func (it *BatchIterator) Next() (*StagedBatch, error) {
	if it.done {
		return nil, io.EOF
	}

	batch := newStagedBatch(it.schema, it.batchSize)
	scratch := make([]byte, it.batchSize*it.schema.RowLength)
	n := 0

	for n < it.batchSize {
		raw, err := it.source()
		if err == io.EOF {
			it.done = true
			break
		}
		if err != nil {
			return nil, err
		}

		dst := scratch[n*it.schema.RowLength : (n+1)*it.schema.RowLength]
		copy(dst, raw)

		if err := sas.DecodeRow(dst, it.schema, it.bigEndian, it.cells); err != nil {
			return nil, err
		}
		batch.appendRow(it.cells)
		n++
	}

	if n == 0 {
		return nil, io.EOF
	}
	batch.RowCount = n
	return batch, nil
}
