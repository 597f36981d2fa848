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
	"strings"
	"time"
)

// magic is the fixed 32-byte prefix every SAS7BDAT file begins with.
var magic = [32]byte{
	0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
	0x00, 0x00, 0x00, 0x00, 0xc2, 0xea, 0x81, 0x60,
	0xb3, 0x14, 0x11, 0xcf, 0xbd, 0x92, 0x08, 0x00,
	0x09, 0xc7, 0x31, 0x8c, 0x18, 0x1f, 0x10, 0x11,
}

const headerProbeSize = 288

// sasEpoch is 1960-01-01 00:00:00 UTC, the reference point for every SAS
// date/time/datetime value (GLOSSARY).
var sasEpoch = time.Date(1960, time.January, 1, 0, 0, 0, 0, time.UTC)

// unixFromSASEpochDays is the day offset between the SAS epoch and the Unix
// epoch (spec.md §4.6: "subtracts 3653 days").
const unixFromSASEpochDays = 3653

// Header is the fixed-layout file header (spec.md §3, §4.1).
type Header struct {
	Is64Bit         bool
	BigEndian       bool
	Platform        byte
	Encoding        Encoding
	DatasetName     string
	FileType        string
	DateCreated     time.Time
	DateModified    time.Time
	HeaderLength    uint32
	PageSize        uint32
	PageCount       uint64
	ExtendedCounter bool
}

func (h *Header) byteOrder() binary.ByteOrder {
	if h.BigEndian {
		return binary.BigEndian
	}
	return binary.LittleEndian
}

// parseHeader validates and decodes the first 288 bytes of a SAS7BDAT file.
func parseHeader(buf []byte) (*Header, error) {
	if len(buf) < headerProbeSize {
		return nil, newErr(KindIO, "header probe shorter than 288 bytes", nil)
	}
	if !bytes.Equal(buf[0:32], magic[:]) {
		return nil, newErr(KindInvalidHeader, "magic mismatch", nil)
	}

	h := &Header{}

	// offset 32: alignment/format byte; 0x33 in these bits selects 64-bit
	// offsets, bit 0x80 selects the extended (64-bit) observation counter
	// (spec.md §9 open question, resolved in SPEC_FULL.md).
	formatByte := buf[32]
	h.Is64Bit = formatByte&0x33 == 0x33
	h.ExtendedCounter = formatByte&0x80 != 0

	// offset 37: 0x01 little-endian, 0x00 big-endian.
	h.BigEndian = buf[37] == 0x00

	order := h.byteOrder()

	// offset 39: platform byte ('1' AIX/Unix, '2' Windows, conventionally).
	h.Platform = buf[39]

	h.Encoding = encodingFromIndex(buf[70])

	nameOffset := 92
	name, err := decodeText(bytes.TrimRight(buf[nameOffset:nameOffset+64], "\x00 "), h.Encoding)
	if err != nil {
		return nil, err
	}
	h.DatasetName = strings.TrimSpace(name)

	fileTypeOffset := nameOffset + 64
	fileType, err := decodeText(bytes.TrimRight(buf[fileTypeOffset:fileTypeOffset+8], "\x00 "), h.Encoding)
	if err != nil {
		return nil, err
	}
	h.FileType = strings.TrimSpace(fileType)

	tsOffset := fileTypeOffset + 8
	alignOffset := 0
	if h.Is64Bit {
		alignOffset = 4
	}
	createdSeconds := floatFromPartialWidth(buf[tsOffset+alignOffset:tsOffset+alignOffset+8], h.BigEndian)
	modifiedSeconds := floatFromPartialWidth(buf[tsOffset+alignOffset+8:tsOffset+alignOffset+16], h.BigEndian)
	h.DateCreated = sasEpoch.Add(time.Duration(createdSeconds * float64(time.Second)))
	h.DateModified = sasEpoch.Add(time.Duration(modifiedSeconds * float64(time.Second)))

	tailOffset := tsOffset + alignOffset + 16 + 16 // two timestamps plus padding block
	if h.Is64Bit {
		h.HeaderLength = readUint32(buf[tailOffset+8:tailOffset+12], order)
		h.PageSize = readUint32(buf[tailOffset+12:tailOffset+16], order)
		if h.ExtendedCounter {
			h.PageCount = readUint64(buf[tailOffset+16:tailOffset+24], order)
		} else {
			h.PageCount = uint64(readUint32(buf[tailOffset+16:tailOffset+20], order))
		}
	} else {
		h.HeaderLength = readUint32(buf[tailOffset:tailOffset+4], order)
		h.PageSize = readUint32(buf[tailOffset+4:tailOffset+8], order)
		if h.ExtendedCounter {
			h.PageCount = readUint64(buf[tailOffset+8:tailOffset+16], order)
		} else {
			h.PageCount = uint64(readUint32(buf[tailOffset+8:tailOffset+12], order))
		}
	}

	if h.PageSize < 1024 {
		return nil, newErr(KindInvalidHeader, "page size below 1024", nil)
	}
	if h.HeaderLength < 1024 {
		return nil, newErr(KindInvalidHeader, "header length below 1024", nil)
	}
	if h.PageCount == 0 {
		return nil, newErr(KindInvalidHeader, "page count is zero", nil)
	}

	return h, nil
}
