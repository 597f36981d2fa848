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

import (
	"bytes"
	"encoding/binary"
	"io"
	"testing"
)

// putSubheader writes a 4-byte signature followed by payload at dst[0:],
// returning the byte count written.
func putSubheader(dst []byte, sig uint32, payload []byte) int {
	binary.LittleEndian.PutUint32(dst[0:4], sig)
	copy(dst[4:], payload)
	return 4 + len(payload)
}

// putPointer writes one 32-bit subheader pointer entry (offset, length,
// compression, shType) at dst[0:pointerSize].
func putPointer(dst []byte, offset, length uint32, compression, shType byte) {
	binary.LittleEndian.PutUint32(dst[0:4], offset)
	binary.LittleEndian.PutUint32(dst[4:8], length)
	dst[10] = compression
	dst[11] = shType
}

// buildSyntheticFile assembles a complete, internally-consistent one-page
// SAS7BDAT file: a 32-bit little-endian header followed by a single MIX
// page carrying the full column metadata and one data row.
func buildSyntheticFile(t *testing.T) []byte {
	t.Helper()

	const headerLength = 1024
	const pageSize = 1024

	file := make([]byte, headerLength+pageSize)
	copy(file[0:headerProbeSize], buildHeaderProbe(headerLength, pageSize, 1))

	page := file[headerLength : headerLength+pageSize]
	binary.LittleEndian.PutUint16(page[0:2], uint16(PageKindMix))
	binary.LittleEndian.PutUint16(page[2:4], 1) // blockCount: one row on this page
	binary.LittleEndian.PutUint16(page[4:6], 5) // subheaderCount

	// Subheader payloads, packed from offset 156 onward (well clear of the
	// row data region, which the MIX dataBase formula places at [96,112)).
	rowSize := make([]byte, 32)
	binary.LittleEndian.PutUint32(rowSize[20:24], 16) // row length
	binary.LittleEndian.PutUint32(rowSize[24:28], 1)  // row count
	binary.LittleEndian.PutUint32(rowSize[28:32], 1)  // mix-page rows

	colSize := make([]byte, 4)
	binary.LittleEndian.PutUint32(colSize[0:4], 2)

	textHeap := []byte("NAMEAMOUNT")

	attrs := make([]byte, 6+2*12)
	putAttrRecord(attrs[6:18], 0, 8, 2)  // NAME: char
	putAttrRecord(attrs[18:30], 8, 8, 1) // AMOUNT: numeric

	names := make([]byte, 8+2*8)
	putNameRecord(names[8:16], 0, 0, 4)  // NAME
	putNameRecord(names[16:24], 0, 4, 6) // AMOUNT

	off := 156
	off += putSubheader(page[off:], 0xF7F7F7F7, rowSize)
	ptr0Off, ptr0Len := 156, 4+len(rowSize)

	ptr1Off := off
	off += putSubheader(page[off:], 0xF6F6F6F6, colSize)
	ptr1Len := off - ptr1Off

	ptr2Off := off
	off += putSubheader(page[off:], 0xFFFFFFFD, textHeap)
	ptr2Len := off - ptr2Off

	ptr3Off := off
	off += putSubheader(page[off:], 0xFFFFFFFC, attrs)
	ptr3Len := off - ptr3Off

	ptr4Off := off
	off += putSubheader(page[off:], 0xFFFFFFFF, names)
	ptr4Len := off - ptr4Off

	if off > pageSize {
		t.Fatalf("synthetic page overflowed: %d > %d", off, pageSize)
	}

	const pointerSize = 12
	ptrTable := page[32:]
	putPointer(ptrTable[0*pointerSize:], uint32(ptr0Off), uint32(ptr0Len), 0, 0)
	putPointer(ptrTable[1*pointerSize:], uint32(ptr1Off), uint32(ptr1Len), 0, 0)
	putPointer(ptrTable[2*pointerSize:], uint32(ptr2Off), uint32(ptr2Len), 0, 0)
	putPointer(ptrTable[3*pointerSize:], uint32(ptr3Off), uint32(ptr3Len), 0, 0)
	putPointer(ptrTable[4*pointerSize:], uint32(ptr4Off), uint32(ptr4Len), 0, 0)

	// Row data at the MIX page's aligned data base (page-relative [96,112)).
	copy(page[96:104], []byte("ACME    "))
	putFloat(page[104:112], 99.5, false)

	return file
}

func TestReaderEndToEnd(t *testing.T) {
	file := buildSyntheticFile(t)
	reader, err := NewReader(bytes.NewReader(file))
	if err != nil {
		t.Fatalf("NewReader: %v", err)
	}

	schema := reader.Metadata()
	if len(schema.Columns) != 2 {
		t.Fatalf("expected 2 columns, got %d", len(schema.Columns))
	}
	if schema.Columns[0].Name != "NAME" || schema.Columns[1].Name != "AMOUNT" {
		t.Fatalf("unexpected column names: %+v", schema.Columns)
	}

	it := reader.Rows()
	cells, err := it.Next()
	if err != nil {
		t.Fatalf("unexpected error decoding first row: %v", err)
	}
	if cells[0].String != "ACME" {
		t.Fatalf("unexpected NAME cell: %+v", cells[0])
	}
	if cells[1].Number != 99.5 {
		t.Fatalf("unexpected AMOUNT cell: %+v", cells[1])
	}

	_, err = it.Next()
	if err != io.EOF {
		t.Fatalf("expected io.EOF after the declared row count, got %v", err)
	}
}

func TestReaderRawRowSourceFeedsColumnarStaging(t *testing.T) {
	file := buildSyntheticFile(t)
	reader, err := NewReader(bytes.NewReader(file))
	if err != nil {
		t.Fatalf("NewReader: %v", err)
	}

	raw, err := reader.RawRowSource()()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(raw) != reader.Metadata().RowLength {
		t.Fatalf("unexpected raw row length: %d", len(raw))
	}
}
