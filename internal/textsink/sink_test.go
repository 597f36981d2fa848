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

package textsink

import (
	"bytes"
	"encoding/binary"
	"io"
	"math"
	"strings"
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
		},
		RowLength: 24,
		RowCount:  2,
	}
}

func putFloat(buf []byte, v float64) {
	binary.LittleEndian.PutUint64(buf, math.Float64bits(v))
}

func buildRow(name string, amount, when float64) []byte {
	row := make([]byte, 24)
	copy(row[0:8], name)
	for i := len(name); i < 8; i++ {
		row[i] = ' '
	}
	putFloat(row[8:16], amount)
	putFloat(row[16:24], when)
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

func TestSinkWritesHeaderThenRows(t *testing.T) {
	schema := testSchema()
	batch := stageRows(t, schema, [][]byte{
		buildRow("ACME", 1.5, 100),
		buildRow("", 2.5, 101),
	})

	var buf bytes.Buffer
	sink := Open(&buf, schema, DelimiterComma)
	if err := sink.WriteBatch(batch); err != nil {
		t.Fatalf("WriteBatch: %v", err)
	}
	if err := sink.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected a header row plus 2 data rows, got %d: %q", len(lines), lines)
	}
	if lines[0] != "NAME,AMOUNT,WHEN" {
		t.Fatalf("unexpected header: %q", lines[0])
	}
	if lines[1] != "ACME,1.5,1960-04-10" {
		t.Fatalf("unexpected first row: %q", lines[1])
	}
	if lines[2] != ",2.5,1960-04-11" {
		t.Fatalf("expected a blank NAME cell for a missing value, got: %q", lines[2])
	}
}

func TestSinkUsesTabDelimiter(t *testing.T) {
	schema := testSchema()
	batch := stageRows(t, schema, [][]byte{buildRow("ACME", 1.5, 100)})

	var buf bytes.Buffer
	sink := Open(&buf, schema, DelimiterTab)
	if err := sink.WriteBatch(batch); err != nil {
		t.Fatalf("WriteBatch: %v", err)
	}
	if err := sink.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if !strings.Contains(buf.String(), "NAME\tAMOUNT\tWHEN") {
		t.Fatalf("expected a tab-delimited header, got: %q", buf.String())
	}
}

func TestCellTextFormatsDateTimeAndTime(t *testing.T) {
	schema := &sas.Schema{
		Columns: []sas.Column{
			{Index: 0, Name: "SEEN_AT", Kind: sas.KindDateTime, SubType: sas.SubTypeFloat, Offset: 0, Width: 8},
			{Index: 1, Name: "CLOCK", Kind: sas.KindTime, SubType: sas.SubTypeFloat, Offset: 8, Width: 8},
		},
		RowLength: 16,
		RowCount:  1,
	}
	row := make([]byte, 16)
	putFloat(row[0:8], 3600)  // one hour past the SAS epoch
	putFloat(row[8:16], 3661) // 01:01:01

	batch := stageRows(t, schema, [][]byte{row})

	got := cellText(&batch.Columns[0], 0)
	if got != "1960-01-01T01:00:00.000000" {
		t.Fatalf("unexpected SEEN_AT text: %q", got)
	}
	got = cellText(&batch.Columns[1], 0)
	if got != "01:01:01.000000" {
		t.Fatalf("unexpected CLOCK text: %q", got)
	}
}
