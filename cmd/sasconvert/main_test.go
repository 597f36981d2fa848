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

package main

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/holocm/sas7bdat-go/internal/sas"
)

func testSchema() *sas.Schema {
	return &sas.Schema{
		Columns: []sas.Column{
			{Index: 0, Name: "NAME", Kind: sas.KindString},
			{Index: 1, Name: "AMOUNT", Kind: sas.KindNumber},
		},
		RowCount: 1,
	}
}

func TestSelectedColumnsDefaultsToAll(t *testing.T) {
	schema := testSchema()
	out, err := selectedColumns(schema, nil, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("expected all 2 columns, got %d", len(out))
	}
}

func TestSelectedColumnsByNameAndIndex(t *testing.T) {
	schema := testSchema()
	out, err := selectedColumns(schema, []string{"AMOUNT"}, []int{0})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(out) != 2 || out[0].Name != "AMOUNT" || out[1].Name != "NAME" {
		t.Fatalf("unexpected selection: %+v", out)
	}
}

func TestSelectedColumnsRejectsUnknownName(t *testing.T) {
	schema := testSchema()
	_, err := selectedColumns(schema, []string{"NOPE"}, nil)
	var sasErr *sas.Error
	if !errors.As(err, &sasErr) || sasErr.Kind != sas.KindSchemaMismatch {
		t.Fatalf("expected KindSchemaMismatch, got %v", err)
	}
}

func TestSelectedColumnsRejectsOutOfRangeIndex(t *testing.T) {
	schema := testSchema()
	_, err := selectedColumns(schema, nil, []int{5})
	var sasErr *sas.Error
	if !errors.As(err, &sasErr) || sasErr.Kind != sas.KindSchemaMismatch {
		t.Fatalf("expected KindSchemaMismatch, got %v", err)
	}
}

func TestExitCodeForMapsKindsToSpecCodes(t *testing.T) {
	cases := map[sas.Kind]int{
		sas.KindIO:                 exitIOError,
		sas.KindInvalidHeader:      exitInvalidInput,
		sas.KindInvalidCompressed:  exitInvalidInput,
		sas.KindUnsupportedEncoding: exitInvalidInput,
		sas.KindSchemaMismatch:     exitSchemaMismatch,
		sas.KindWriterNotClosed:    exitSchemaMismatch,
	}
	for kind, want := range cases {
		err := sas.NewError(kind, "boom", nil)
		if got := exitCodeFor(err); got != want {
			t.Errorf("exitCodeFor(%v) = %d, want %d", kind, got, want)
		}
	}
	if got := exitCodeFor(errors.New("not a sas.Error")); got != exitIOError {
		t.Errorf("exitCodeFor(plain error) = %d, want %d", got, exitIOError)
	}
}

func TestLoadJobFileParsesTOML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "job.toml")
	contents := `
out = "/tmp/out.parquet"
sink = "csv"
columns = ["NAME", "AMOUNT"]
skip = 5
max_rows = 100
parquet_row_group_size = 2048
parquet_target_bytes = 1048576
`
	if err := os.WriteFile(path, []byte(contents), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	job, err := loadJobFile(path)
	if err != nil {
		t.Fatalf("loadJobFile: %v", err)
	}
	if job.Out != "/tmp/out.parquet" || job.Sink != "csv" {
		t.Fatalf("unexpected job: %+v", job)
	}
	if len(job.Columns) != 2 || job.Columns[0] != "NAME" {
		t.Fatalf("unexpected columns: %+v", job.Columns)
	}
	if job.Skip != 5 || job.MaxRows != 100 {
		t.Fatalf("unexpected skip/max_rows: %+v", job)
	}
	if job.ParquetRowGroupSize != 2048 || job.ParquetTargetBytes != 1048576 {
		t.Fatalf("unexpected parquet settings: %+v", job)
	}
}

func TestLoadJobFileRejectsMissingFile(t *testing.T) {
	_, err := loadJobFile(filepath.Join(t.TempDir(), "does-not-exist.toml"))
	var sasErr *sas.Error
	if !errors.As(err, &sasErr) || sasErr.Kind != sas.KindIO {
		t.Fatalf("expected KindIO, got %v", err)
	}
}
