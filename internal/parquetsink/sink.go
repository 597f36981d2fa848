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

// Package parquetsink streams a StagedBatch into a Parquet file, keeping
// column writers alive for the full row group (spec.md §4.7).
package parquetsink

import (
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/parquet-go/parquet-go"

	"github.com/holocm/sas7bdat-go/internal/column"
	"github.com/holocm/sas7bdat-go/internal/sas"
)

// Compression selects the row-group codec (spec.md §6).
type Compression int

const (
	CompressionSnappy Compression = iota
	CompressionGzip
	CompressionNone
)

// Config configures the sink's row-group sizing and codec.
type Config struct {
	Compression  Compression
	RowGroupSize int   // spec.md §4.7 "commit when row count exceeds threshold"
	TargetBytes  int64 // spec.md §6 "--parquet-target-bytes": commit early once a row group's estimated size crosses this
}

// DefaultConfig matches spec.md §4.6's default row-group size.
func DefaultConfig() Config {
	return Config{Compression: CompressionSnappy, RowGroupSize: column.DefaultRowGroupSize}
}

func (c Compression) codec() parquet.Compression {
	switch c {
	case CompressionGzip:
		return &parquet.Gzip
	case CompressionNone:
		return &parquet.Uncompressed
	default:
		return &parquet.Snappy
	}
}

// buildSchema maps a frozen sas.Schema onto a parquet.Schema using the
// logical-type table in spec.md §4.7.
func buildSchema(schema *sas.Schema) *parquet.Schema {
	group := make(parquet.Group, len(schema.Columns))
	for _, col := range schema.Columns {
		group[col.Name] = parquet.Optional(columnNode(col.Kind))
	}
	return parquet.NewSchema("row", group)
}

func columnNode(kind sas.ValueKind) parquet.Node {
	switch kind {
	case sas.KindString:
		return parquet.String()
	case sas.KindDate:
		return parquet.Date()
	case sas.KindDateTime:
		return parquet.Timestamp(parquet.Microsecond)
	case sas.KindTime:
		return parquet.Time(parquet.Microsecond)
	default:
		return parquet.Leaf(parquet.DoubleType)
	}
}

// Sink streams staged batches into an open Parquet writer. Begin a row
// group implicitly by constructing a Sink, feed every staged batch through
// WriteBatch, and always call Close — on the success path and on error — so
// every begun column writer is closed on every exit path (spec.md §4.7).
type Sink struct {
	w           *parquet.GenericWriter[any]
	schema      *sas.Schema
	closed      bool
	RunID       uuid.UUID
	targetBytes int64
	groupBytes  int64
}

// Open begins a Parquet writer bound to schema. The caller is responsible
// for calling Close exactly once, even after a failed WriteBatch. Every file
// carries a random run ID in its Parquet key-value metadata, so a file
// produced by one sasconvert invocation can always be told apart from one
// produced by a re-run over the same input.
func Open(w io.Writer, schema *sas.Schema, cfg Config) *Sink {
	pqSchema := buildSchema(schema)
	opts := []parquet.WriterOption{
		pqSchema,
		parquet.Compression(cfg.Compression.codec()),
	}
	if cfg.RowGroupSize > 0 {
		opts = append(opts, parquet.MaxRowsPerRowGroup(int64(cfg.RowGroupSize)))
	}
	runID := uuid.New()
	opts = append(opts, parquet.KeyValueMetadata("sasconvert.run-id", runID.String()))
	return &Sink{
		w:           parquet.NewGenericWriter[any](w, opts...),
		schema:      schema,
		RunID:       runID,
		targetBytes: cfg.TargetBytes,
	}
}

// WriteBatch feeds every row of a staged batch through the matching column
// writers, in schema order (spec.md §4.7). When targetBytes is set, it also
// flushes the current row group early once the estimated on-disk size of
// the rows written since the last flush crosses that budget, so
// --parquet-target-bytes bounds row-group size independently of row count.
func (s *Sink) WriteBatch(batch *column.StagedBatch) error {
	rows := make([]any, batch.RowCount)
	for i := 0; i < batch.RowCount; i++ {
		rows[i] = s.buildRow(batch, i)
		if s.targetBytes > 0 {
			s.groupBytes += estimateRowBytes(batch, i)
		}
	}
	if _, err := s.w.Write(rows); err != nil {
		return sasErr("failed to write batch", err)
	}
	if s.targetBytes > 0 && s.groupBytes >= s.targetBytes {
		if err := s.w.Flush(); err != nil {
			return sasErr("failed to flush row group at target size", err)
		}
		s.groupBytes = 0
	}
	return nil
}

// estimateRowBytes approximates one row's encoded size: the literal byte
// length for String cells and a flat 8 bytes for every other kind (the
// widest materialised scalar; Date values are stored as 4-byte int32). It is an estimate, not the post-compression size, since the
// codec isn't chosen until the row group is flushed.
func estimateRowBytes(batch *column.StagedBatch, i int) int64 {
	var n int64
	for ci := range batch.Columns {
		staged := &batch.Columns[ci]
		if staged.Kind == sas.KindString {
			sc := staged.String
			n += int64(sc.Offsets[i+1] - sc.Offsets[i])
			continue
		}
		n += 8
	}
	return n
}

func (s *Sink) buildRow(batch *column.StagedBatch, i int) map[string]any {
	row := make(map[string]any, len(s.schema.Columns))
	for ci, col := range s.schema.Columns {
		staged := &batch.Columns[ci]
		switch staged.Kind {
		case sas.KindString:
			sc := staged.String
			if !sc.Validity[i] {
				row[col.Name] = nil
				continue
			}
			row[col.Name] = string(sc.Arena[sc.Offsets[i]:sc.Offsets[i+1]])
		case sas.KindDate:
			dc := staged.Date
			if !dc.Validity[i] {
				row[col.Name] = nil
				continue
			}
			row[col.Name] = dc.Values[i]
		case sas.KindDateTime:
			tc := staged.DateTime
			if !tc.Validity[i] {
				row[col.Name] = nil
				continue
			}
			row[col.Name] = time.UnixMicro(tc.Values[i]).UTC()
		case sas.KindTime:
			tc := staged.Time
			if !tc.Validity[i] {
				row[col.Name] = nil
				continue
			}
			row[col.Name] = tc.Values[i]
		default:
			nc := staged.Numeric
			if !nc.Validity[i] {
				row[col.Name] = nil
				continue
			}
			row[col.Name] = nc.Values[i]
		}
	}
	return row
}

// Close closes the underlying column writers and finalizes the file. An
// internal invariant failure here (rather than a data problem) is reported
// as KindWriterNotClosed.
func (s *Sink) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	if err := s.w.Close(); err != nil {
		return sasErr("parquet writer failed to close cleanly", err)
	}
	return nil
}

func sasErr(msg string, cause error) error {
	return sas.NewError(sas.KindWriterNotClosed, msg, cause)
}
