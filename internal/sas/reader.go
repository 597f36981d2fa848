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
	"os"
)

// Reader is the public façade: open(path) -> Reader, Reader.Metadata(),
// Reader.Rows() (streaming row iterator). It exclusively owns the file
// handle, page buffer, decompression scratch, and row buffer (spec.md §3).
type Reader struct {
	f      *os.File
	owned  bool
	header *Header
	schema *Schema
	pager  *Pager
	notes  Collector
	cells  []CellView
}

// Open decodes the header and metadata of the SAS7BDAT file at path and
// returns a Reader ready to stream rows. Fails with ErrInvalidHeader or
// ErrSchemaMismatch before any row is produced.
func Open(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, newErr(KindIO, "failed to open file", err)
	}
	r, err := newReader(f)
	if err != nil {
		f.Close()
		return nil, err
	}
	r.owned = true
	return r, nil
}

// NewReader decodes a SAS7BDAT file already available through r. The caller
// retains ownership of r and must close it after the Reader is done.
func NewReader(r io.ReaderAt) (*Reader, error) {
	return newReaderAt(r)
}

func newReader(f *os.File) (*Reader, error) {
	reader, err := newReaderAt(f)
	if err != nil {
		return nil, err
	}
	reader.f = f
	return reader, nil
}

func newReaderAt(ra io.ReaderAt) (*Reader, error) {
	probe := make([]byte, headerProbeSize)
	if _, err := ra.ReadAt(probe, 0); err != nil && err != io.EOF {
		return nil, newErr(KindIO, "failed to read header probe", err)
	}
	header, err := parseHeader(probe)
	if err != nil {
		return nil, err
	}

	reader := &Reader{header: header}
	schema, err := reader.walkMetadata(ra)
	if err != nil {
		return nil, err
	}
	reader.schema = schema
	reader.pager = newPager(ra, header, schema, &reader.notes)
	reader.cells = make([]CellView, len(schema.Columns))
	return reader, nil
}

// walkMetadata iterates pages from index 0 until a DATA or MIX page is
// reached, dispatching every metadata subheader pointer along the way
// (spec.md §4.2).
func (r *Reader) walkMetadata(ra io.ReaderAt) (*Schema, error) {
	w := newMetaWalker(r.header, &r.notes)
	sizes := w.pageHeaderSize()
	pageSize := int(r.header.PageSize)

	for idx := uint64(0); idx < r.header.PageCount; idx++ {
		buf := make([]byte, pageSize)
		offset := int64(r.header.HeaderLength) + int64(idx)*int64(pageSize)
		n, err := ra.ReadAt(buf, offset)
		if err != nil && err != io.EOF {
			return nil, newErr(KindIO, "failed to read metadata page", err)
		}
		if n < len(buf) {
			return nil, newErr(KindIO, "short metadata page read", io.ErrUnexpectedEOF)
		}

		hdr := w.readPageHeader(buf)
		kind := maskPageKind(hdr.kind)

		if kind.relevantForMetadata() {
			pointers := w.subheaderPointers(buf, hdr, sizes)
			for _, ptr := range pointers {
				if ptr.shType != 0 || ptr.offset < 0 {
					continue
				}
				pw := w.ptrWidth()
				if ptr.length < pw || ptr.offset+ptr.length > len(buf) {
					continue
				}
				sig := w.readSignature(buf, ptr.offset)
				payload := buf[ptr.offset+pw : ptr.offset+ptr.length]
				if err := w.handleSubheader(sig, payload); err != nil {
					return nil, err
				}
			}
		}

		if kind == PageKindData || kind == PageKindMix {
			break
		}
	}

	return w.freeze()
}

// Metadata returns the frozen, immutable schema.
func (r *Reader) Metadata() *Schema { return r.schema }

// DatasetName returns the dataset name recorded in the file header.
func (r *Reader) DatasetName() string { return r.header.DatasetName }

// Notes returns the non-fatal findings accumulated so far (unknown page
// kinds, skipped truncated-row pointers), each recorded once per kind.
func (r *Reader) Notes() []string { return r.notes.Notes }

// Close releases the file handle if Open was used to create this Reader.
func (r *Reader) Close() error {
	if r.owned && r.f != nil {
		return r.f.Close()
	}
	return nil
}

// RowIterator pulls rows from a Reader one at a time (spec.md §5: a pull
// model where the caller controls pacing).
type RowIterator struct {
	r    *Reader
	done bool
}

// Rows returns a streaming row iterator. Rows are emitted in file order;
// releasing the iterator (simply ceasing to call Next) terminates without
// further I/O (spec.md §5).
func (r *Reader) Rows() *RowIterator {
	return &RowIterator{r: r}
}

// Next decodes the next row into the reader's reused per-column cell
// views; the returned slice is valid only until the next call
// to Next (spec.md §9). Returns io.EOF once the file is exhausted or a
// terminal error after which no further rows are produced (spec.md §7).
func (it *RowIterator) Next() ([]CellView, error) {
	if it.done {
		return nil, io.EOF
	}
	raw, err := it.r.pager.NextRow()
	if err != nil {
		it.done = true
		return nil, err
	}
	if err := DecodeRow(raw, it.r.schema, it.r.header.BigEndian, it.r.cells); err != nil {
		it.done = true
		return nil, err
	}
	return it.r.cells, nil
}

// RawRowSource exposes the pager's pull-model row slices for the columnar
// staging layer (internal/column), which needs the row buffer view without
// per-cell decoding.
func (r *Reader) RawRowSource() func() ([]byte, error) {
	return r.pager.NextRow
}

// ByteOrderIsBigEndian reports the file's declared endianness, needed by the
// columnar staging layer to reconstruct numeric cells the same way the row
// decoder does.
func (r *Reader) ByteOrderIsBigEndian() bool { return r.header.BigEndian }
