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
	"math"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
)

// Encoding names the closed set of character encodings a SAS7BDAT header can
// declare. Unknown encoding indices map to EncodingWindows1252.
type Encoding string

// The closed encoding table (spec.md §4.1, §9: "a fixed array, not global
// mutable state"). Entries beyond this set are not producible by the header
// parser; ErrUnsupportedEncoding only fires when bytes additionally fail
// UTF-8 validation.
const (
	EncodingWindows1252 Encoding = "WINDOWS-1252"
	EncodingUTF8        Encoding = "UTF-8"
	EncodingEUCJP       Encoding = "EUC-JP"
	EncodingShiftJIS    Encoding = "SHIFT_JIS"
	EncodingGB18030     Encoding = "GB18030"
	EncodingBig5        Encoding = "BIG5"
	EncodingISO88591    Encoding = "ISO-8859-1"
	EncodingISO885915   Encoding = "ISO-8859-15"
	EncodingUSASCII     Encoding = "US-ASCII"
)

// encodingIndex maps the header's default-encoding byte to a named encoding.
// Values not present here (and value 0, "undefined") fall back to
// EncodingWindows1252, matching community reverse-engineering of the format.
var encodingIndex = map[byte]Encoding{
	29: EncodingISO88591,
	20: EncodingUTF8,
	33: EncodingUSASCII,
	62: EncodingWindows1252,
	123: EncodingGB18030,
	134: EncodingBig5,
	136: EncodingShiftJIS,
	162: EncodingEUCJP,
}

func encodingFromIndex(idx byte) Encoding {
	if enc, ok := encodingIndex[idx]; ok {
		return enc
	}
	return EncodingWindows1252
}

// legacyDecoders is the closed table of fallback decoders used when a string
// cell fails the UTF-8 fast path. It is a fixed array, never extended at
// runtime (spec.md §9).
var legacyDecoders = map[Encoding]*charmap.Charmap{
	EncodingWindows1252: charmap.Windows1252,
	EncodingISO88591:    charmap.ISO8859_1,
	EncodingISO885915:   charmap.ISO8859_15,
}

// decodeText validates raw as UTF-8 via the fast path; on failure it decodes
// using the file's declared encoding from the closed legacy table. Encodings
// outside both the UTF-8 fast path and the legacy table yield
// ErrUnsupportedEncoding.
func decodeText(raw []byte, enc Encoding) (string, error) {
	if utf8.Valid(raw) {
		return string(raw), nil
	}
	cm, ok := legacyDecoders[enc]
	if !ok {
		return "", newErr(KindUnsupportedEncoding, "encoding "+string(enc)+" has no legacy decoder and bytes are not valid UTF-8", nil)
	}
	decoded, err := cm.NewDecoder().Bytes(raw)
	if err != nil {
		return "", newErr(KindUnsupportedEncoding, "legacy decode under "+string(enc)+" failed", err)
	}
	return string(decoded), nil
}

func readUint16(b []byte, order binary.ByteOrder) uint16 { return order.Uint16(b) }
func readUint32(b []byte, order binary.ByteOrder) uint32 { return order.Uint32(b) }
func readUint64(b []byte, order binary.ByteOrder) uint64 { return order.Uint64(b) }

func readInt16(b []byte, order binary.ByteOrder) int16 {
	return int16(order.Uint16(b))
}

// floatFromPartialWidth reconstructs an IEEE-754 double from a 3-8 byte
// window of a row, left-padding with zeros according to endianness
// (spec.md §3). Big-endian storage keeps the most significant bytes first,
// so the missing low-order mantissa bytes are appended as zeros; little-
// endian storage keeps the most significant byte last, so the zeros are
// prepended.
func floatFromPartialWidth(raw []byte, bigEndian bool) float64 {
	var buf [8]byte
	if bigEndian {
		copy(buf[:], raw)
		return math.Float64frombits(binary.BigEndian.Uint64(buf[:]))
	}
	copy(buf[8-len(raw):], raw)
	return math.Float64frombits(binary.LittleEndian.Uint64(buf[:]))
}
