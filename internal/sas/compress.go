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

// decompressRLE expands src into dst, which must already be sized to the
// row's declared length. dst is filled with 0x20 (ASCII space) before any
// byte is written so that any implementation bug leaves printable padding,
// never uninitialized garbage (spec.md §4.5(c)).
func decompressRLE(src []byte, dst []byte) error {
	for i := range dst {
		dst[i] = 0x20
	}

	si, di := 0, 0
	for si < len(src) {
		if di >= len(dst) {
			return newErr(KindInvalidCompressed, "RLE output overran row buffer", nil)
		}

		opcode := src[si]
		si++
		op := opcode >> 4
		n := int(opcode & 0x0F)

		switch op {
		case 0x0:
			if si >= len(src) {
				return newErr(KindInvalidCompressed, "RLE truncated before length byte", nil)
			}
			length := n*256 + int(src[si]) + 64
			si++
			if si+length > len(src) || di+length > len(dst) {
				return newErr(KindInvalidCompressed, "RLE literal copy overruns buffer", nil)
			}
			copy(dst[di:di+length], src[si:si+length])
			si += length
			di += length

		case 0x6:
			di = fillRun(dst, di, n+17, 0x00)

		case 0x7:
			di = fillRun(dst, di, n+17, 0x20)

		case 0x8, 0x9:
			length := n + 1
			if op == 0x9 {
				length = n + 17
			}
			if si+length > len(src) || di+length > len(dst) {
				return newErr(KindInvalidCompressed, "RLE literal run overruns buffer", nil)
			}
			copy(dst[di:di+length], src[si:si+length])
			si += length
			di += length

		case 0xA:
			di = fillRun(dst, di, n+17, 0x40)

		case 0xB:
			di = fillRun(dst, di, n+2, 0x20)

		case 0xC:
			di = fillRun(dst, di, n+2, 0x00)

		case 0xD:
			di = fillRun(dst, di, n+2, 0xFF)

		case 0xE:
			if si >= len(src) {
				return newErr(KindInvalidCompressed, "RLE truncated before 0xE fill byte", nil)
			}
			fillByte := src[si]
			si++
			di = fillRun(dst, di, n+2, fillByte)

		case 0xF:
			return newErr(KindInvalidCompressed, "RLE reserved opcode 0xF", nil)

		default:
			return newErr(KindInvalidCompressed, "RLE unknown opcode", nil)
		}
		if di < 0 {
			return newErr(KindInvalidCompressed, "RLE produced negative cursor", nil)
		}
	}

	if di != len(dst) {
		return newErr(KindInvalidCompressed, "RLE output length mismatch", nil)
	}
	return nil
}

// fillRun writes count copies of b starting at di, returning the advanced
// cursor. It does not itself report an error; the caller compares the
// returned cursor against len(dst) once all opcodes are processed, and an
// over-long run followed by more input is caught by the overrun check at
// the top of the next opcode.
func fillRun(dst []byte, di int, count int, b byte) int {
	end := di + count
	if end > len(dst) {
		end = len(dst)
	}
	for i := di; i < end; i++ {
		dst[i] = b
	}
	return di + count
}

// decompressRDC expands src into dst (already sized and blanked to
// row_length). RDC is a stream of two-byte markers, each holding 16 one-bit
// control flags read most significant bit first; each flag selects either a literal copy or a back-reference whose
// offset/length are read from subsequent bytes. Every back-reference must
// point strictly within [0, cursor); cursor end must equal len(dst) exactly.
func decompressRDC(src []byte, dst []byte) error {
	for i := range dst {
		dst[i] = 0x20
	}

	si, di := 0, 0
	ctrlBits := uint16(0)
	ctrlMask := uint16(0)

	nextBit := func() (bool, error) {
		if ctrlMask == 0 {
			if si+2 > len(src) {
				return false, newErr(KindInvalidCompressed, "RDC truncated control marker", nil)
			}
			ctrlBits = uint16(src[si])<<8 | uint16(src[si+1])
			si += 2
			ctrlMask = 0x8000
		}
		bit := ctrlBits&ctrlMask != 0
		ctrlMask >>= 1
		return bit, nil
	}

	for di < len(dst) {
		isRef, err := nextBit()
		if err != nil {
			return err
		}

		if !isRef {
			if si >= len(src) || di >= len(dst) {
				return newErr(KindInvalidCompressed, "RDC truncated literal", nil)
			}
			dst[di] = src[si]
			si++
			di++
			continue
		}

		if si+1 >= len(src) {
			return newErr(KindInvalidCompressed, "RDC truncated back-reference", nil)
		}
		b0 := src[si]
		b1 := src[si+1]
		si += 2

		length := int(b0 >> 4)
		var offset, extraLen int
		switch length {
		case 0:
			if si >= len(src) {
				return newErr(KindInvalidCompressed, "RDC truncated extended length", nil)
			}
			extraLen = int(src[si]) + 16
			si++
			offset = (int(b0&0x0F) << 8) | int(b1)
			length = extraLen + 2
		default:
			offset = (int(b0&0x0F) << 8) | int(b1)
			length += 2
		}

		refStart := di - offset - 1
		if refStart < 0 || refStart >= di {
			return newErr(KindInvalidCompressed, "RDC back-reference out of range", nil)
		}
		if di+length > len(dst) {
			return newErr(KindInvalidCompressed, "RDC back-reference overruns buffer", nil)
		}
		for k := 0; k < length; k++ {
			dst[di] = dst[refStart+k]
			di++
		}
	}

	if di != len(dst) {
		return newErr(KindInvalidCompressed, "RDC output length mismatch", nil)
	}
	return nil
}
