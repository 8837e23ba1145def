package accel

import (
	"encoding/binary"
	"fmt"

	"github.com/hitzhangjie/dwarfaccel/pkg/dwarf/leb128"
)

// Extractor is a bounds-checked cursor-based reader over an immutable
// byte blob, with an optional side table of relocations applied to
// 32-bit reads. It owns no bytes: the blob and the relocation map are
// borrowed from the caller (typically an object-file loader) and must
// outlive any Table built on top of this Extractor.
//
// Every read takes the current cursor by pointer, advances it on
// success, and leaves it untouched on failure -- mirroring the
// DWARFDataExtractor contract the accelerator-table formats were
// designed against.
type Extractor struct {
	data  []byte
	order binary.ByteOrder
	relocs map[uint32]uint32
}

// NewExtractor builds an Extractor over data. relocs may be nil, in
// which case relocated reads behave exactly like unrelocated ones.
func NewExtractor(data []byte, relocs map[uint32]uint32, littleEndian bool) *Extractor {
	order := binary.ByteOrder(binary.BigEndian)
	if littleEndian {
		order = binary.LittleEndian
	}
	return &Extractor{data: data, order: order, relocs: relocs}
}

// Len reports the size of the underlying blob.
func (e *Extractor) Len() uint32 { return uint32(len(e.data)) }

// IsValidOffset reports whether off is a readable byte position, i.e.
// strictly less than the blob's length. A zero-length blob has no
// valid offsets.
func (e *Extractor) IsValidOffset(off uint32) bool {
	return off < e.Len()
}

// IsValidRange reports whether the half-open span [off, off+n) lies
// entirely within the blob.
func (e *Extractor) IsValidRange(off, n uint32) bool {
	if n == 0 {
		return off <= e.Len()
	}
	end := off + n
	if end < off { // overflow
		return false
	}
	return end <= e.Len()
}

func (e *Extractor) checkRange(off, n uint32) error {
	if !e.IsValidRange(off, n) {
		return fmt.Errorf("%w: offset %#x, size %d, section length %#x", ErrOutOfBounds, off, n, e.Len())
	}
	return nil
}

// ReadU8 reads one byte at *cursor and advances it by 1.
func (e *Extractor) ReadU8(cursor *uint32) (uint8, error) {
	if err := e.checkRange(*cursor, 1); err != nil {
		return 0, err
	}
	v := e.data[*cursor]
	*cursor++
	return v, nil
}

// ReadU16 reads a 16-bit integer at *cursor and advances it by 2.
func (e *Extractor) ReadU16(cursor *uint32) (uint16, error) {
	if err := e.checkRange(*cursor, 2); err != nil {
		return 0, err
	}
	v := e.order.Uint16(e.data[*cursor : *cursor+2])
	*cursor += 2
	return v, nil
}

// ReadU32 reads a 32-bit integer at *cursor and advances it by 4.
func (e *Extractor) ReadU32(cursor *uint32) (uint32, error) {
	if err := e.checkRange(*cursor, 4); err != nil {
		return 0, err
	}
	v := e.order.Uint32(e.data[*cursor : *cursor+4])
	*cursor += 4
	return v, nil
}

// ReadU64 reads a 64-bit integer at *cursor and advances it by 8.
func (e *Extractor) ReadU64(cursor *uint32) (uint64, error) {
	if err := e.checkRange(*cursor, 8); err != nil {
		return 0, err
	}
	v := e.order.Uint64(e.data[*cursor : *cursor+8])
	*cursor += 8
	return v, nil
}

// ReadULEB128 decodes a variable-length unsigned integer at *cursor
// and advances it past the encoding.
func (e *Extractor) ReadULEB128(cursor *uint32) (uint64, error) {
	val, n, ok := leb128.DecodeUint(e.data, int(*cursor))
	if !ok {
		return 0, fmt.Errorf("%w: ULEB128 at offset %#x", ErrOutOfBounds, *cursor)
	}
	*cursor += uint32(n)
	return val, nil
}

// ReadSLEB128 decodes a variable-length signed integer at *cursor and
// advances it past the encoding.
func (e *Extractor) ReadSLEB128(cursor *uint32) (int64, error) {
	val, n, ok := leb128.DecodeInt(e.data, int(*cursor))
	if !ok {
		return 0, fmt.Errorf("%w: SLEB128 at offset %#x", ErrOutOfBounds, *cursor)
	}
	*cursor += uint32(n)
	return val, nil
}

// ReadBytes copies n raw bytes starting at *cursor and advances it by n.
func (e *Extractor) ReadBytes(cursor *uint32, n uint32) ([]byte, error) {
	if err := e.checkRange(*cursor, n); err != nil {
		return nil, err
	}
	out := make([]byte, n)
	copy(out, e.data[*cursor:*cursor+n])
	*cursor += n
	return out, nil
}

// ReadRelocatedU32 reads a 32-bit word at *cursor, substituting the
// relocated value if a relocation is registered at the pre-read
// cursor position, and advances the cursor by 4 regardless.
func (e *Extractor) ReadRelocatedU32(cursor *uint32) (uint32, error) {
	site := *cursor
	raw, err := e.ReadU32(cursor)
	if err != nil {
		return 0, err
	}
	if e.relocs == nil {
		return raw, nil
	}
	if v, ok := e.relocs[site]; ok {
		return v, nil
	}
	return raw, nil
}

// CStringAt reads a NUL-terminated string from data (typically the
// string section, not the accelerator section) starting at *offset,
// advancing *offset past the terminating NUL.
func CStringAt(data []byte, offset *uint32) (string, error) {
	start := *offset
	if start > uint32(len(data)) {
		return "", fmt.Errorf("%w: string offset %#x beyond section of length %#x", ErrOutOfBounds, start, len(data))
	}
	i := start
	for i < uint32(len(data)) && data[i] != 0 {
		i++
	}
	s := string(data[start:i])
	if i < uint32(len(data)) {
		i++ // consume the NUL
	}
	*offset = i
	return s, nil
}
