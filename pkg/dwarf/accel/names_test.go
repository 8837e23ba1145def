package accel

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type namesBuilder struct {
	buf []byte
}

func (b *namesBuilder) u16(v uint16) *namesBuilder {
	b.buf = binary.LittleEndian.AppendUint16(b.buf, v)
	return b
}

func (b *namesBuilder) u32(v uint32) *namesBuilder {
	b.buf = binary.LittleEndian.AppendUint32(b.buf, v)
	return b
}

func (b *namesBuilder) byte(v byte) *namesBuilder {
	b.buf = append(b.buf, v)
	return b
}

func (b *namesBuilder) raw(bs ...byte) *namesBuilder {
	b.buf = append(b.buf, bs...)
	return b
}

func (b *namesBuilder) pad(n int) *namesBuilder {
	for i := 0; i < n; i++ {
		b.buf = append(b.buf, 0)
	}
	return b
}

func (b *namesBuilder) bytes() []byte { return b.buf }

// header writes the 36-byte fixed header (no augmentation string),
// with unitLength written as given; callers pass the byte count that
// follows the length field.
func (b *namesBuilder) header(unitLength uint32, cu, localTU, foreignTU, bucketCount, nameCount, abbrevSize, augSize uint32) *namesBuilder {
	return b.u32(unitLength).u16(5).u16(0).
		u32(cu).u32(localTU).u32(foreignTU).
		u32(bucketCount).u32(nameCount).
		u32(abbrevSize).u32(augSize)
}

func TestNamesNoHashTable(t *testing.T) {
	b := &namesBuilder{}
	b.header(58, 0, 0, 0, 0, 3, 1, 0)
	// string_offsets[3], entry_offsets[3]
	b.u32(0).u32(2).u32(4) // string offsets into "a\x00b\x00c\x00"
	b.u32(0).u32(0).u32(0) // entry offsets, all -> entriesBase
	b.byte(0x00)           // abbrev table: just the sentinel
	b.byte(0x00)           // entries pool: shared sentinel for all 3 names

	strtab := []byte("a\x00b\x00c\x00")
	dn, err := ExtractDebugNames(b.bytes(), nil, strtab, true)
	require.NoError(t, err)
	require.Len(t, dn.NameIndices, 1)

	ni := dn.NameIndices[0]
	assert.Equal(t, uint32(0), ni.hdr.BucketCount)
	assert.Equal(t, uint32(3), ni.hdr.NameCount)
	for i := uint32(1); i <= 3; i++ {
		nte := ni.GetNameTableEntry(i)
		isSentinel, err := getEntrySentinelOnly(ni, nte.EntryOffset)
		require.NoError(t, err)
		assert.True(t, isSentinel)
	}
}

// getEntrySentinelOnly decodes one entry at offset and reports whether
// it is the immediate end-of-list sentinel; used by the no-hash-table test
// to confirm every name's entry list is reachable and empty.
func getEntrySentinelOnly(ni *NameIndex, offset uint32) (bool, error) {
	cur := offset
	_, err := ni.GetEntry(&cur)
	if err == ErrSentinel {
		return true, nil
	}
	return false, err
}

func TestNamesDuplicateAbbrevCode(t *testing.T) {
	b := &namesBuilder{}
	b.header(40, 0, 0, 0, 0, 0, 8, 0)
	// two abbrevs, both code=1
	b.byte(0x01).byte(0x34).byte(0x00).byte(0x00)
	b.byte(0x01).byte(0x34).byte(0x00).byte(0x00)

	_, err := ExtractDebugNames(b.bytes(), nil, nil, true)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDuplicateAbbrevCode)
}

func TestNamesTruncatedAugmentation(t *testing.T) {
	b := &namesBuilder{}
	b.header(0, 0, 0, 0, 0, 0, 0, 8) // augmentation_size=8
	b.pad(4)                          // only 4 bytes left, not 8

	_, err := ExtractDebugNames(b.bytes(), nil, nil, true)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrAugmentationTruncated)
}

func TestNamesTruncatedHeader(t *testing.T) {
	_, err := ExtractDebugNames([]byte{1, 2, 3}, nil, nil, true)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrHeaderTruncated)
}

// buildWellFormedUnit assembles one complete, self-consistent
// .debug_names unit: 1 CU, 1 bucket, 1 name, 1 abbrev with a single
// die_offset attribute, and an entry list terminated by the sentinel.
func buildWellFormedUnit() ([]byte, []byte) {
	b := &namesBuilder{}
	b.header(65, 1, 0, 0, 1, 1, 7, 0)
	b.u32(0x1000)        // CU[0]
	b.u32(1)             // buckets[0] = 1 (1-based first name)
	b.u32(0x2222)         // hashes[0], any value since bucket_count == 1
	b.u32(0)              // string_offsets[0] -> strtab offset 0 ("foo")
	b.u32(0)              // entry_offsets[0] -> entriesBase + 0
	// abbrev table (7 bytes): code=1, tag=variable(0x34), attr(die_offset,data4), sentinel attr, sentinel abbrev
	b.byte(0x01).byte(0x34).byte(0x03).byte(0x06).byte(0x00).byte(0x00).byte(0x00)
	// entries pool (6 bytes): code=1, die_offset=0xAABBCCDD, sentinel
	b.byte(0x01).raw(0xDD, 0xCC, 0xBB, 0xAA).byte(0x00)

	strtab := []byte("foo\x00")
	return b.bytes(), strtab
}

func TestNamesWellFormedUnitExtractsAndDecodes(t *testing.T) {
	data, strtab := buildWellFormedUnit()
	dn, err := ExtractDebugNames(data, nil, strtab, true)
	require.NoError(t, err)
	require.Len(t, dn.NameIndices, 1)
	ni := dn.NameIndices[0]

	assert.Equal(t, uint32(0x1000), ni.GetCUOffset(0))
	assert.Equal(t, uint32(1), ni.GetBucketArrayEntry(0))

	nte := ni.GetNameTableEntry(1)
	s, _ := CStringAt(strtab, &nte.StringOffset)
	assert.Equal(t, "foo", s)

	cursor := nte.EntryOffset
	entry, err := ni.GetEntry(&cursor)
	require.NoError(t, err)
	require.Len(t, entry.Values, 1)
	u, ok := entry.Values[0].AsUnsignedConstant()
	require.True(t, ok)
	assert.Equal(t, uint64(0xAABBCCDD), u)

	_, err = ni.GetEntry(&cursor)
	assert.ErrorIs(t, err, ErrSentinel)
}

// TestAbbrevCodesUniqueAndEntriesStayInPool is P3: parsed abbrev codes
// are unique, and decoding a name's entry stream consumes bytes
// strictly within [entries_base, base + 4 + unit_length).
func TestAbbrevCodesUniqueAndEntriesStayInPool(t *testing.T) {
	data, strtab := buildWellFormedUnit()
	dn, err := ExtractDebugNames(data, nil, strtab, true)
	require.NoError(t, err)
	ni := dn.NameIndices[0]

	seen := map[uint32]bool{}
	for _, ab := range ni.abbrevs {
		assert.False(t, seen[ab.Code], "duplicate code %d", ab.Code)
		seen[ab.Code] = true
	}

	unitEnd := ni.base + 4 + ni.hdr.UnitLength
	nte := ni.GetNameTableEntry(1)
	assert.GreaterOrEqual(t, nte.EntryOffset, ni.entriesBase)
	assert.Less(t, nte.EntryOffset, unitEnd)

	cursor := nte.EntryOffset
	_, err = ni.GetEntry(&cursor)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, cursor, ni.entriesBase)
	assert.LessOrEqual(t, cursor, unitEnd)
}

// TestNameTableEntryOffsetInBounds is P4.
func TestNameTableEntryOffsetInBounds(t *testing.T) {
	data, strtab := buildWellFormedUnit()
	dn, err := ExtractDebugNames(data, nil, strtab, true)
	require.NoError(t, err)
	ni := dn.NameIndices[0]

	sectionEnd := uint32(len(data))
	for i := uint32(1); i <= ni.hdr.NameCount; i++ {
		nte := ni.GetNameTableEntry(i)
		assert.GreaterOrEqual(t, nte.EntryOffset, ni.entriesBase)
		assert.Less(t, nte.EntryOffset, sectionEnd)
	}
}

func TestNamesTruncationNeverPanics(t *testing.T) {
	data, _ := buildWellFormedUnit()
	for t2 := 0; t2 <= len(data); t2++ {
		func() {
			defer func() {
				if r := recover(); r != nil {
					t.Fatalf("truncation at %d panicked: %v", t2, r)
				}
			}()
			_, _ = ExtractDebugNames(data[:t2], nil, nil, true)
		}()
	}
}

func TestGetLocalTUOffsetVariesByIndex(t *testing.T) {
	b := &namesBuilder{}
	b.header(0, 0, 2, 0, 0, 0, 1, 0)
	b.u32(0x5000).u32(0x6000) // LocalTU[0], LocalTU[1]
	b.byte(0x00)              // abbrev sentinel

	ni := &NameIndex{ext: NewExtractor(b.bytes(), nil, true)}
	ni.hdr.CUCount = 0
	ni.hdr.LocalTUCount = 2
	ni.cusBase = namesHeaderFixedSize

	assert.Equal(t, uint32(0x5000), ni.GetLocalTUOffset(0))
	assert.Equal(t, uint32(0x6000), ni.GetLocalTUOffset(1))
}
