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

package parquetsink

import (
	"bytes"
	"encoding/binary"
	"io"
	"math"
	"testing"

	"github.com/holocm/sas7bdat-go/internal/column"
	"github.com/holocm/sas7bdat-go/internal/sas"
)

func testSchema() *sas.Schema {
	return &sas.Schema{
		Columns: []sas.Column{
			{Index: 0, Name: "NAME", Kind: sas.KindString, SubType: sas.SubTypeCharacter, Offset: 0, Width: 8},
			{Index: 1, Name: "AMOUNT", Kind: sas.KindNumber, SubType: sas.SubTypeFloat, Offset: 8, Width: 8},
			{Index: 2, Name: "WHEN", Kind: sas.KindDate, SubType: sas.SubTypeFloat, Offset: 16, Width: 8},
			{Index: 3, Name: "SEEN_AT", Kind: sas.KindDateTime, SubType: sas.SubTypeFloat, Offset: 24, Width: 8},
			{Index: 4, Name: "CLOCK", Kind: sas.KindTime, SubType: sas.SubTypeFloat, Offset: 32, Width: 8},
		},
		RowLength: 40,
		RowCount:  1,
	}
}

func putFloat(buf []byte, v float64) {
	binary.LittleEndian.PutUint64(buf, math.Float64bits(v))
}

func buildRow(name string, amount, when, seenAt, clock float64) []byte {
	row := make([]byte, 40)
	copy(row[0:8], name)
	for i := len(name); i < 8; i++ {
		row[i] = ' '
	}
	putFloat(row[8:16], amount)
	putFloat(row[16:24], when)
	putFloat(row[24:32], seenAt)
	putFloat(row[32:40], clock)
	return row
}

func stageRows(t *testing.T, schema *sas.Schema, rows [][]byte) *column.StagedBatch {
	t.Helper()
	i := 0
	source := func() ([]byte, error) {
		if i >= len(rows) {
			return nil, io.EOF
		}
		r := rows[i]
		i++
		return r, nil
	}
	it := column.NewBatchIterator(schema, false, source, len(rows))
	batch, err := it.Next()
	if err != nil {
		t.Fatalf("staging test rows: %v", err)
	}
	return batch
}

func TestBuildSchemaCoversEveryColumn(t *testing.T) {
	schema := testSchema()
	pqSchema := buildSchema(schema)
	fields := pqSchema.Fields()
	if len(fields) != len(schema.Columns) {
		t.Fatalf("expected %d top-level fields, got %d", len(schema.Columns), len(fields))
	}
}

func TestCompressionCodecSelection(t *testing.T) {
	for _, comp := range []Compression{CompressionSnappy, CompressionGzip, CompressionNone} {
		if comp.codec() == nil {
			t.Fatalf("expected a non-nil codec for %v", comp)
		}
	}
}

func TestSinkWriteBatchAndCloseRoundTrip(t *testing.T) {
	schema := testSchema()
	batch := stageRows(t, schema, [][]byte{buildRow("ACME", 1.5, 100, 3600, 3600)})

	var buf bytes.Buffer
	sink := Open(&buf, schema, DefaultConfig())
	if sink.RunID.String() == "00000000-0000-0000-0000-000000000000" {
		t.Fatal("expected Open to assign a random run ID")
	}
	if err := sink.WriteBatch(batch); err != nil {
		t.Fatalf("WriteBatch: %v", err)
	}
	if err := sink.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if buf.Len() == 0 {
		t.Fatal("expected the Parquet writer to produce output bytes")
	}
}

func TestSinkCloseIsIdempotent(t *testing.T) {
	schema := testSchema()
	var buf bytes.Buffer
	sink := Open(&buf, schema, DefaultConfig())
	if err := sink.Close(); err != nil {
		t.Fatalf("first Close: %v", err)
	}
	if err := sink.Close(); err != nil {
		t.Fatalf("second Close should be a no-op, got: %v", err)
	}
}

func TestBuildRowCarriesMissingCellsAsNil(t *testing.T) {
	schema := testSchema()
	// A blank NAME field trims to empty and decodes as Missing (spec.md §4.4).
	batch := stageRows(t, schema, [][]byte{buildRow("", 42, 100, 3600, 3600)})

	sink := &Sink{schema: schema}
	row := sink.buildRow(batch, 0)
	if row["NAME"] != nil {
		t.Fatalf("expected a missing String cell to map to nil, got %v", row["NAME"])
	}
	if row["AMOUNT"] != float64(42) {
		t.Fatalf("unexpected AMOUNT: %v", row["AMOUNT"])
	}
}
