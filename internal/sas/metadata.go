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
	"encoding/binary"
	"strings"
)

// Subheader signatures, sign-extended to 64 bits regardless of file word
// size (spec.md §4.2). These are the well-known values from community
// reverse-engineering of the format (BioStatMatt, ReadStat).
const (
	sigRowSize          uint64 = 0xFFFFFFFFF7F7F7F7
	sigColumnSize       uint64 = 0xFFFFFFFFF6F6F6F6
	sigSubheaderCounts  uint64 = 0xFFFFFFFFFFFFFC00
	sigColumnFormat     uint64 = 0xFFFFFFFFFFFFFBFE
	sigColumnText       uint64 = 0xFFFFFFFFFFFFFFFD
	sigColumnName       uint64 = 0xFFFFFFFFFFFFFFFF
	sigColumnAttributes uint64 = 0xFFFFFFFFFFFFFFFC
	sigColumnList       uint64 = 0xFFFFFFFFFFFFFFFE
)

// textRef is a (block, offset, length) tuple into the text heap, exactly as
// column-name/format/label subheaders reference it (spec.md §4.2, §9
// "Ownership of text heap").
type textRef struct {
	block  int
	offset int
	length int
}

type colAttrRecord struct {
	offset int
	width  int
	isChar bool
}

type colNameRecord struct {
	ref textRef
}

type colFormatRecord struct {
	formatRef textRef
	labelRef  textRef
}

// metaWalker accumulates subheader fragments across pages until the schema
// can be frozen. It holds no file handle; pages are handed to it by the
// pager as they are classified.
type metaWalker struct {
	textBlocks   [][]byte
	rowLength    int
	rowCount     uint64
	mixPageRows  int
	columnCount  int
	compression  CompressionKind
	attrs        []colAttrRecord
	names        []colNameRecord
	formats      []colFormatRecord
	order        binary.ByteOrder
	is64Bit      bool
	encoding     Encoding
	notes        *Collector
}

func newMetaWalker(h *Header, notes *Collector) *metaWalker {
	return &metaWalker{
		order:    h.byteOrder(),
		is64Bit:  h.Is64Bit,
		encoding: h.Encoding,
		notes:    notes,
	}
}

func (w *metaWalker) ptrWidth() int {
	if w.is64Bit {
		return 8
	}
	return 4
}

// readSignature reads a subheader signature at off, sign-extending 32-bit
// signatures to 64 bits the way the rest of the dispatch table expects.
func (w *metaWalker) readSignature(buf []byte, off int) uint64 {
	if w.is64Bit {
		return readUint64(buf[off:off+8], w.order)
	}
	v := readUint32(buf[off:off+4], w.order)
	return uint64(int64(int32(v)))
}

// handleSubheader dispatches one subheader payload by signature. Unknown
// signatures are not errors (spec.md §7): they are noted once and skipped.
func (w *metaWalker) handleSubheader(sig uint64, payload []byte) error {
	switch sig {
	case sigRowSize:
		return w.handleRowSize(payload)
	case sigColumnSize:
		return w.handleColumnSize(payload)
	case sigSubheaderCounts:
		// Aggregate hints only (spec.md §4.2); not needed to build the schema.
		return nil
	case sigColumnText:
		w.textBlocks = append(w.textBlocks, payload)
		return nil
	case sigColumnName:
		return w.handleColumnName(payload)
	case sigColumnAttributes:
		return w.handleColumnAttributes(payload)
	case sigColumnFormat:
		return w.handleColumnFormat(payload)
	case sigColumnList:
		// Optional ordering override; the default (declaration) order is used
		// since no SPEC_FULL.md scenario depends on list-subheader reordering.
		return nil
	default:
		w.notes.Notef("unknown subheader signature %#x", sig)
		return nil
	}
}

func (w *metaWalker) handleRowSize(payload []byte) error {
	pw := w.ptrWidth()
	// Layout (relative to the pointer-width-dependent base used throughout
	// the row-size subheader): row length and row count sit at fixed offsets
	// following a run of pointer-width fields used for other bookkeeping.
	base := pw * 5
	if len(payload) < base+3*pw {
		return newErr(KindSchemaMismatch, "row-size subheader truncated", nil)
	}
	if pw == 8 {
		w.rowLength = int(readUint64(payload[base:base+8], w.order))
		w.rowCount = readUint64(payload[base+8:base+16], w.order)
		w.mixPageRows = int(readUint64(payload[base+16:base+24], w.order))
	} else {
		w.rowLength = int(readUint32(payload[base:base+4], w.order))
		w.rowCount = uint64(readUint32(payload[base+4:base+8], w.order))
		w.mixPageRows = int(readUint32(payload[base+8:base+12], w.order))
	}

	if len(payload) >= base+3*pw+8 {
		tag := strings.TrimRight(string(payload[base+3*pw:base+3*pw+8]), "\x00 ")
		switch tag {
		case "SASYZCRL":
			w.compression = CompressionRLE
		case "SASYZCR2":
			w.compression = CompressionRDC
		}
	}
	return nil
}

func (w *metaWalker) handleColumnSize(payload []byte) error {
	pw := w.ptrWidth()
	if len(payload) < pw {
		return newErr(KindSchemaMismatch, "column-size subheader truncated", nil)
	}
	if pw == 8 {
		w.columnCount = int(readUint64(payload[0:8], w.order))
	} else {
		w.columnCount = int(readUint32(payload[0:4], w.order))
	}
	return nil
}

const colAttrRecordSize32 = 4 + 4 + 2 + 1 + 1 // offset,width,nameIdx(unused),type,pad
const colAttrRecordSize64 = 8 + 4 + 2 + 1 + 1

func (w *metaWalker) handleColumnAttributes(payload []byte) error {
	pw := w.ptrWidth()
	recSize := colAttrRecordSize32
	if pw == 8 {
		recSize = colAttrRecordSize64
	}
	// First pw+2 bytes are a vector-length prefix in real files; skip it.
	body := payload
	if len(body) > pw+2 {
		body = body[pw+2:]
	}
	for off := 0; off+recSize <= len(body); off += recSize {
		var offset, width int
		if pw == 8 {
			offset = int(readUint64(body[off:off+8], w.order))
			width = int(readUint32(body[off+8:off+12], w.order))
		} else {
			offset = int(readUint32(body[off:off+4], w.order))
			width = int(readUint32(body[off+4:off+8], w.order))
		}
		typeOff := off + pw + 4 + 2
		isChar := typeOff < len(body) && body[typeOff] == 2
		w.attrs = append(w.attrs, colAttrRecord{offset: offset, width: width, isChar: isChar})
	}
	return nil
}

const colNameRecordSize = 8

func (w *metaWalker) handleColumnName(payload []byte) error {
	body := payload
	if len(body) > 8 {
		body = body[8:]
	}
	for off := 0; off+colNameRecordSize <= len(body); off += colNameRecordSize {
		block := int(readUint16(body[off:off+2], w.order))
		textOff := int(readUint16(body[off+2:off+4], w.order))
		length := int(readUint16(body[off+4:off+6], w.order))
		w.names = append(w.names, colNameRecord{ref: textRef{block: block, offset: textOff, length: length}})
	}
	return nil
}

const colFormatRecordTail = 4*2 + 2*6

func (w *metaWalker) handleColumnFormat(payload []byte) error {
	if len(payload) < colFormatRecordTail {
		return nil
	}
	tail := payload[len(payload)-colFormatRecordTail:]
	formatBlock := int(readUint16(tail[2:4], w.order))
	formatOff := int(readUint16(tail[4:6], w.order))
	formatLen := int(readUint16(tail[6:8], w.order))
	labelBlock := int(readUint16(tail[8:10], w.order))
	labelOff := int(readUint16(tail[10:12], w.order))
	labelLen := int(readUint16(tail[12:14], w.order))

	w.formats = append(w.formats, colFormatRecord{
		formatRef: textRef{block: formatBlock, offset: formatOff, length: formatLen},
		labelRef:  textRef{block: labelBlock, offset: labelOff, length: labelLen},
	})
	return nil
}

func (w *metaWalker) resolveText(ref textRef) (string, error) {
	if ref.block < 0 || ref.block >= len(w.textBlocks) {
		return "", newErr(KindSchemaMismatch, "text-heap block index out of range", nil)
	}
	block := w.textBlocks[ref.block]
	if ref.offset < 0 || ref.offset+ref.length > len(block) {
		return "", newErr(KindSchemaMismatch, "text-heap reference out of range", nil)
	}
	raw := block[ref.offset : ref.offset+ref.length]
	return decodeText(bytesTrimRightSpacesNUL(raw), w.encoding)
}

func bytesTrimRightSpacesNUL(b []byte) []byte {
	end := len(b)
	for end > 0 && (b[end-1] == 0x20 || b[end-1] == 0x00) {
		end--
	}
	return b[:end]
}

// freeze joins attrs/names/formats by 0-based column index and produces the
// immutable Schema (spec.md §4.2).
func (w *metaWalker) freeze() (*Schema, error) {
	if w.columnCount <= 0 {
		return nil, newErr(KindSchemaMismatch, "declared column count is zero or negative", nil)
	}
	if len(w.attrs) != w.columnCount {
		return nil, newErr(KindSchemaMismatch, "column attribute count disagrees with declared column count", nil)
	}

	columns := make([]Column, w.columnCount)
	for i, a := range w.attrs {
		col := Column{
			Index:  i,
			Offset: a.offset,
			Width:  a.width,
		}
		if a.isChar {
			col.SubType = SubTypeCharacter
		} else {
			col.SubType = SubTypeFloat
		}

		if i < len(w.names) {
			name, err := w.resolveText(w.names[i].ref)
			if err != nil {
				return nil, err
			}
			col.Name = name
		}
		if i < len(w.formats) {
			format, err := w.resolveText(w.formats[i].formatRef)
			if err != nil {
				return nil, err
			}
			label, err := w.resolveText(w.formats[i].labelRef)
			if err != nil {
				return nil, err
			}
			col.Format = format
			col.Label = label
		}
		col.Kind = deriveKind(col.SubType, col.Format)

		if col.Offset < 0 || col.Offset+col.Width > w.rowLength {
			return nil, newErr(KindSchemaMismatch, "column offset/width exceeds row length", nil)
		}
		columns[i] = col
	}

	return &Schema{
		Columns:     columns,
		RowLength:   w.rowLength,
		RowCount:    w.rowCount,
		MixPageRows: w.mixPageRows,
		Compressed:  w.compression,
		Encoding:    w.encoding,
	}, nil
}
