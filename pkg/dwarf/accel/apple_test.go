package accel

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hitzhangjie/dwarfaccel/pkg/dwarf/dwconst"
)

// appleBuilder assembles a little-endian .apple_names-shaped byte
// blob field by field, mirroring the on-disk layout in SPEC_FULL.md
// §6, so tests can hand-craft the exact scenarios from spec.md §8
// without needing a real compiler-emitted fixture.
type appleBuilder struct {
	buf []byte
}

func (b *appleBuilder) u16(v uint16) *appleBuilder {
	b.buf = binary.LittleEndian.AppendUint16(b.buf, v)
	return b
}

func (b *appleBuilder) u32(v uint32) *appleBuilder {
	b.buf = binary.LittleEndian.AppendUint32(b.buf, v)
	return b
}

func (b *appleBuilder) bytes() []byte { return b.buf }

func TestAppleEmptyBuckets(t *testing.T) {
	b := &appleBuilder{}
	b.u32(AppleMagic).u16(1).u16(0) // magic, version, hash_function
	b.u32(2).u32(0)                 // bucket_count=2, hash_count=0
	b.u32(8)                        // header_data_length = 4+4 (no atoms)
	b.u32(0).u32(0)                 // die_offset_base, num_atoms=0
	b.u32(0xFFFFFFFF).u32(0xFFFFFFFF)

	table, err := ExtractApple(b.bytes(), nil, nil, true)
	require.NoError(t, err)

	it := table.EqualRange("x")
	assert.False(t, it.Ok())
	assert.Equal(t, uint32(2), table.GetNumBuckets())
	assert.Equal(t, uint32(0), table.GetNumHashes())
}

func TestAppleSingleHit(t *testing.T) {
	b := &appleBuilder{}
	b.u32(AppleMagic).u16(1).u16(0)
	b.u32(1).u32(1) // bucket_count=1, hash_count=1
	b.u32(12)       // header_data_length = 4 + 4 + 1*4
	b.u32(0).u32(1) // die_offset_base=0, num_atoms=1
	b.u16(uint16(dwconst.AtomDieOffset)).u16(uint16(dwconst.FormData4))

	// buckets[1] @32, hashes[1] @36, offsets[1] @40 -> payload @44
	b.u32(0)  // buckets[0] = index 0
	b.u32(42) // hashes[0]: anything, bucket = hash % 1 == 0 always
	b.u32(44) // offsets[0] = data_offset of payload

	b.u32(5)       // string_offset = 5 (into string section)
	b.u32(1)       // num_data = 1
	b.u32(0x100)   // die_offset atom value
	b.u32(0)       // chain terminator: string_offset == 0

	strtab := append([]byte{0, 0, 0, 0, 0}, []byte("foo\x00")...)

	table, err := ExtractApple(b.bytes(), nil, strtab, true)
	require.NoError(t, err)
	require.True(t, table.ValidateForms())

	it := table.EqualRange("foo")
	require.True(t, it.Ok())
	e := it.Entry()
	assert.Equal(t, uint32(0x100), e.DieOffset)
	it.Advance()
	assert.False(t, it.Ok())

	miss := table.EqualRange("bar")
	assert.False(t, miss.Ok())
}

func TestAppleTwoEntriesSameName(t *testing.T) {
	b := &appleBuilder{}
	b.u32(AppleMagic).u16(1).u16(0)
	b.u32(1).u32(1)
	b.u32(12)
	b.u32(0).u32(1)
	b.u16(uint16(dwconst.AtomDieOffset)).u16(uint16(dwconst.FormData4))

	b.u32(0)
	b.u32(7)
	b.u32(44)

	b.u32(5)     // string_offset
	b.u32(2)     // num_data = 2
	b.u32(0x10)  // first die_offset
	b.u32(0x20)  // second die_offset
	b.u32(0)     // terminator

	strtab := append([]byte{0, 0, 0, 0, 0}, []byte("foo\x00")...)

	table, err := ExtractApple(b.bytes(), nil, strtab, true)
	require.NoError(t, err)

	it := table.EqualRange("foo")
	require.True(t, it.Ok())
	assert.Equal(t, uint32(0x10), it.Entry().DieOffset)
	it.Advance()
	require.True(t, it.Ok())
	assert.Equal(t, uint32(0x20), it.Entry().DieOffset)
	it.Advance()
	assert.False(t, it.Ok())
}

func TestAppleTruncatedHeader(t *testing.T) {
	_, err := ExtractApple([]byte{0x01, 0x02, 0x03}, nil, nil, true)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrHeaderTruncated)
}

func TestAppleTruncatedBuckets(t *testing.T) {
	b := &appleBuilder{}
	b.u32(AppleMagic).u16(1).u16(0)
	b.u32(100).u32(100) // huge bucket/hash counts the blob can't hold
	b.u32(8)
	b.u32(0).u32(0)

	_, err := ExtractApple(b.bytes(), nil, nil, true)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrBucketsTruncated)
}

// TestAppleHugeNumAtomsRejected guards against a bogus num_atoms
// driving an out-of-memory allocation attempt in extract(): a 28-byte
// blob that passes every earlier bounds check (bucket_count=0,
// hash_count=0, header_data_length=8) but declares num_atoms=0xFFFFFFFF
// must fail cleanly with ErrHeaderTruncated, not attempt to allocate a
// multi-gigabyte atoms slice.
func TestAppleHugeNumAtomsRejected(t *testing.T) {
	b := &appleBuilder{}
	b.u32(AppleMagic).u16(1).u16(0)
	b.u32(0).u32(0)          // bucket_count=0, hash_count=0
	b.u32(8)                 // header_data_length = 4 (die_offset_base) + 4 (num_atoms)
	b.u32(0).u32(0xFFFFFFFF) // die_offset_base=0, num_atoms=0xFFFFFFFF

	require.Len(t, b.bytes(), 28)

	_, err := ExtractApple(b.bytes(), nil, nil, true)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrHeaderTruncated)
}

func TestAppleValidateForms(t *testing.T) {
	okAtoms := []AppleAtom{{Type: dwconst.AtomDieOffset, Form: dwconst.FormData4}}
	badAtoms := []AppleAtom{{Type: dwconst.AtomDieTag, Form: dwconst.FormSdata}}
	unrelatedAtoms := []AppleAtom{{Type: dwconst.AtomCUOffset, Form: dwconst.FormSdata}}

	tOK := &AppleTable{atoms: okAtoms}
	tBad := &AppleTable{atoms: badAtoms}
	tUnrelated := &AppleTable{atoms: unrelatedAtoms}

	assert.True(t, tOK.ValidateForms())
	assert.False(t, tBad.ValidateForms())
	assert.True(t, tUnrelated.ValidateForms())
}

// TestAppleTruncationNeverPanics is P2 for the Apple format: for every
// truncation point of a well-formed table, construction must not panic
// or read past the cut. Cuts inside the header, buckets, hashes or
// offsets return an error; cuts inside the name-chain payloads still
// construct, since extract() does not read the payloads.
func TestAppleTruncationNeverPanics(t *testing.T) {
	b := &appleBuilder{}
	b.u32(AppleMagic).u16(1).u16(0)
	b.u32(1).u32(1)
	b.u32(12)
	b.u32(0).u32(1)
	b.u16(uint16(dwconst.AtomDieOffset)).u16(uint16(dwconst.FormData4))
	b.u32(0)
	b.u32(42)
	b.u32(44)
	b.u32(5)
	b.u32(1)
	b.u32(0x100)
	b.u32(0)
	full := b.bytes()

	for t2 := 0; t2 <= len(full); t2++ {
		func() {
			defer func() {
				if r := recover(); r != nil {
					t.Fatalf("truncation at %d panicked: %v", t2, r)
				}
			}()
			_, _ = ExtractApple(full[:t2], nil, nil, true)
		}()
	}
}
