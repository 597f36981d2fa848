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
	"io"
)

// PageKind is a page's classification after masking the high bit
// (spec.md §4.3).
type PageKind int16

const (
	PageKindMeta      PageKind = 0
	PageKindData      PageKind = 256
	PageKindMix       PageKind = 512
	PageKindAMD       PageKind = 1024
	PageKindMeta2     PageKind = 16384
	PageKindComp      PageKind = -28672
	PageKindCompTable PageKind = -28671
)

// pageKindHighBit is an orthogonal flag, never a distinct kind (spec.md
// §4.2 "High-bit page flags").
const pageKindHighBit = 0x8000

// trapSubheaderCount is the bogus-looking pointer-table count certain pages
// carry (spec.md §4.2); such pages are classified by their base kind and
// their pointer table is ignored for metadata.
const trapSubheaderCount = 0x0CC8
const trapPageHeaderSize = 24
const trapPointerSize = 12

// maskPageKind clears the high-bit flag from a raw page-kind word. COMP and
// COMP_TABLE are matched on the raw word first, because their values carry
// the high bit as part of the kind itself.
func maskPageKind(raw int16) PageKind {
	switch PageKind(raw) {
	case PageKindComp, PageKindCompTable:
		return PageKind(raw)
	}
	return PageKind(uint16(raw) &^ pageKindHighBit)
}

// relevantForMetadata reports whether a page kind is scanned for metadata
// subheaders (spec.md §4.3: only META, MIX, META2, AMD).
func (k PageKind) relevantForMetadata() bool {
	switch k {
	case PageKindMeta, PageKindMix, PageKindMeta2, PageKindAMD:
		return true
	default:
		return false
	}
}

// carriesRows reports whether a page kind yields data rows during row
// iteration (spec.md §4.3: all non-COMP known kinds; COMP_TABLE is always
// skipped).
func (k PageKind) carriesRows() bool {
	switch k {
	case PageKindMeta, PageKindData, PageKindMix, PageKindAMD, PageKindMeta2:
		return true
	default:
		return false
	}
}

type pageHeaderSize struct {
	headerSize  int // bytes before the subheader pointer table
	pointerSize int // bytes per subheader pointer entry
}

func (w *metaWalker) pageHeaderSize() pageHeaderSize {
	if w.is64Bit {
		return pageHeaderSize{headerSize: 40, pointerSize: 24}
	}
	return pageHeaderSize{headerSize: 32, pointerSize: 12}
}

type rawPageHeader struct {
	kind           int16
	blockCount     uint16
	subheaderCount uint16
}

func (w *metaWalker) readPageHeader(buf []byte) rawPageHeader {
	return rawPageHeader{
		kind:           int16(readUint16(buf[0:2], w.order)),
		blockCount:     readUint16(buf[2:4], w.order),
		subheaderCount: readUint16(buf[4:6], w.order),
	}
}

type subheaderPointer struct {
	offset      int
	length      int
	compression byte
	shType      byte
}

// subheaderPointers decodes the pointer table for a page, honoring the
// trap pages described in spec.md §4.2.
func (w *metaWalker) subheaderPointers(buf []byte, hdr rawPageHeader, sizes pageHeaderSize) []subheaderPointer {
	if int(hdr.subheaderCount) == trapSubheaderCount && sizes.headerSize == trapPageHeaderSize && sizes.pointerSize == trapPointerSize {
		return nil
	}
	out := make([]subheaderPointer, 0, hdr.subheaderCount)
	base := sizes.headerSize
	for i := 0; i < int(hdr.subheaderCount); i++ {
		off := base + i*sizes.pointerSize
		if off+sizes.pointerSize > len(buf) {
			break
		}
		var offset, length int
		if w.is64Bit {
			offset = int(readUint64(buf[off:off+8], w.order))
			length = int(readUint64(buf[off+8:off+16], w.order))
		} else {
			offset = int(readUint32(buf[off:off+4], w.order))
			length = int(readUint32(buf[off+4:off+8], w.order))
		}
		compOff := off + sizes.pointerSize - 2
		typeOff := off + sizes.pointerSize - 1
		out = append(out, subheaderPointer{
			offset:      offset,
			length:      length,
			compression: buf[compOff],
			shType:      buf[typeOff],
		})
	}
	return out
}

// alignUp8 rounds n up to the next multiple of 8 (spec.md §4.3).
func alignUp8(n int) int {
	if n%8 == 0 {
		return n
	}
	return n + (8 - n%8)
}

// Pager iterates pages of a SAS7BDAT file, classifying them and yielding row
// slices. It owns the current page buffer, decompression scratch, and row
// buffer (spec.md §3 "Ownership").
type Pager struct {
	r          io.ReaderAt
	header     *Header
	schema     *Schema
	notes       *Collector
	pageSize    int
	pageCount   uint64
	pageIndex   uint64
	rowBuf      []byte
	rowsEmitted uint64
	curComp     [][]byte
	curIsBlocks bool // true: curComp holds compressed blocks to expand; false: plain RowLength-sized rows
	curIdx      int
	eof         bool
}

func newPager(r io.ReaderAt, header *Header, schema *Schema, notes *Collector) *Pager {
	return &Pager{
		r:         r,
		header:    header,
		schema:    schema,
		notes:     notes,
		pageSize:  int(header.PageSize),
		pageCount: header.PageCount,
		rowBuf:    make([]byte, schema.RowLength),
	}
}

// readPage reads exactly PageSize bytes for page index idx.
func (p *Pager) readPage(idx uint64) ([]byte, error) {
	buf := make([]byte, p.pageSize)
	offset := int64(p.header.HeaderLength) + int64(idx)*int64(p.pageSize)
	n, err := p.r.ReadAt(buf, offset)
	if err != nil && err != io.EOF {
		return nil, newErr(KindIO, "failed to read page", err)
	}
	if n < len(buf) {
		return nil, newErr(KindIO, "short page read", io.ErrUnexpectedEOF)
	}
	return buf, nil
}

// NextRow returns the next row's bytes (borrowing the pager's row buffer;
// the view is valid only until the next call), or (nil, io.EOF) once the
// declared row count has been emitted or pages are exhausted.
func (p *Pager) NextRow() ([]byte, error) {
	for {
		if p.rowsEmitted >= p.schema.RowCount {
			return nil, io.EOF
		}
		if p.curIdx < len(p.curComp) {
			raw := p.curComp[p.curIdx]
			p.curIdx++
			if raw == nil {
				continue // truncated-row pointer entry: skipped, row absent
			}
			if err := p.decodeRowInto(raw, p.curIsBlocks); err != nil {
				return nil, err
			}
			p.rowsEmitted++
			return p.rowBuf, nil
		}

		more, err := p.advancePage()
		if err != nil {
			return nil, err
		}
		if !more {
			return nil, io.EOF
		}
	}
}

// decodeRowInto fills rowBuf from raw. blocks is true when raw is a
// compressed block pulled from the page's subheader pointer table and must
// be expanded to RowLength; it is false for a plain row slice already of
// RowLength (or shorter, in which case the remainder is space-padded).
func (p *Pager) decodeRowInto(raw []byte, blocks bool) error {
	if !blocks || p.schema.Compressed == CompressionNone {
		copy(p.rowBuf, raw)
		if len(raw) < len(p.rowBuf) {
			for i := len(raw); i < len(p.rowBuf); i++ {
				p.rowBuf[i] = 0x20
			}
		}
		return nil
	}
	switch p.schema.Compressed {
	case CompressionRLE:
		return decompressRLE(raw, p.rowBuf)
	case CompressionRDC:
		return decompressRDC(raw, p.rowBuf)
	default:
		copy(p.rowBuf, raw)
		return nil
	}
}

// advancePage loads the next page carrying rows into curComp, skipping
// pages that carry none (unknown kinds are noted once per kind). Returns
// false once pages are exhausted, or the error of a page that could not be
// read.
func (p *Pager) advancePage() (bool, error) {
	for p.pageIndex < p.pageCount {
		idx := p.pageIndex
		p.pageIndex++

		buf, err := p.readPage(idx)
		if err != nil {
			p.eof = true
			return false, err
		}

		w := newMetaWalker(p.header, p.notes)
		hdr := w.readPageHeader(buf)
		kind := maskPageKind(hdr.kind)
		if !kind.carriesRows() {
			if kind != PageKindComp && kind != PageKindCompTable {
				p.notes.Notef("unknown page kind %d skipped", kind)
			}
			continue
		}

		rows, isBlocks := p.extractRows(buf, hdr, kind, w)
		if len(rows) == 0 {
			continue
		}
		p.curComp = rows
		p.curIsBlocks = isBlocks
		p.curIdx = 0
		return true, nil
	}
	return false, nil
}

// extractRows pulls the data-row byte slices out of one page, honoring
// truncated-row pointers (skipped, represented as nil) and the mix-page
// row-count cap against the file's declared total (spec.md §4.3). The
// second return value reports whether the slices are compressed blocks
// (true) or plain RowLength-sized rows (false).
func (p *Pager) extractRows(buf []byte, hdr rawPageHeader, kind PageKind, w *metaWalker) ([][]byte, bool) {
	sizes := w.pageHeaderSize()
	pointers := w.subheaderPointers(buf, hdr, sizes)

	var dataPointers []subheaderPointer
	for _, ptr := range pointers {
		if ptr.shType == 0 {
			continue // subheader, already consumed during metadata walk
		}
		if ptr.compression == 1 {
			p.notes.Notef("truncated-row pointer skipped")
			dataPointers = append(dataPointers, subheaderPointer{offset: -1}) // truncated row: absent
			continue
		}
		dataPointers = append(dataPointers, ptr)
	}
	if len(dataPointers) > 0 {
		rows := make([][]byte, 0, len(dataPointers))
		for _, ptr := range dataPointers {
			if ptr.offset < 0 {
				rows = append(rows, nil)
				continue
			}
			if ptr.offset+ptr.length > len(buf) {
				rows = append(rows, nil)
				continue
			}
			rows = append(rows, buf[ptr.offset:ptr.offset+ptr.length])
		}
		return rows, true
	}

	// Plain DATA/MIX page: rows are laid out contiguously starting at
	// data_base, one every RowLength bytes, for blockCount rows (capped by
	// the remaining declared row count).
	if kind != PageKindData && kind != PageKindMix {
		return nil, false
	}
	dataBase := sizes.headerSize
	if kind == PageKindMix {
		dataBase = alignUp8(sizes.headerSize + int(hdr.subheaderCount)*sizes.pointerSize)
	}
	rowLen := p.schema.RowLength
	count := int(hdr.blockCount)
	remaining := p.schema.RowCount - p.rowsEmitted
	if uint64(count) > remaining {
		count = int(remaining)
	}
	rows := make([][]byte, 0, count)
	for i := 0; i < count; i++ {
		start := dataBase + i*rowLen
		if start+rowLen > len(buf) {
			break
		}
		rows = append(rows, buf[start:start+rowLen])
	}
	return rows, false
}
