// Package leb128 decodes the variable-length integer encodings used
// throughout DWARF: unsigned (ULEB128) and signed (SLEB128) base-128
// values, seven payload bits per byte with the high bit marking
// continuation.
package leb128

// DecodeUint decodes an unsigned LEB128 value starting at buf[off].
// It returns the decoded value and the number of bytes consumed. If
// buf is exhausted before a terminating byte (high bit clear) is
// found, ok is false and off should not be advanced.
func DecodeUint(buf []byte, off int) (val uint64, n int, ok bool) {
	var shift uint
	for off+n < len(buf) {
		b := buf[off+n]
		n++
		val |= uint64(b&0x7f) << shift
		if b&0x80 == 0 {
			return val, n, true
		}
		shift += 7
	}
	return 0, 0, false
}

// DecodeInt decodes a signed LEB128 value starting at buf[off], sign
// extending the result once the terminating byte is consumed.
func DecodeInt(buf []byte, off int) (val int64, n int, ok bool) {
	var result int64
	var shift uint
	var b byte
	for {
		if off+n >= len(buf) {
			return 0, 0, false
		}
		b = buf[off+n]
		n++
		result |= int64(b&0x7f) << shift
		shift += 7
		if b&0x80 == 0 {
			break
		}
	}
	if shift < 64 && b&0x40 != 0 {
		result |= -1 << shift
	}
	return result, n, true
}
