package accel

import (
	"fmt"

	"github.com/hitzhangjie/dwarfaccel/pkg/dwarf/dwconst"
	"github.com/hitzhangjie/dwarfaccel/pkg/dwarf/dwform"
	"github.com/hitzhangjie/dwarfaccel/pkg/printer"
)

// appleHeaderSize is sizeof(AppleHeader): magic(4) + version(2) +
// hash_function(2) + bucket_count(4) + hash_count(4) +
// header_data_length(4).
const appleHeaderSize = 20

// AppleMagic is the magic value real .apple_names/.apple_types/...
// sections carry. ExtractApple does not reject a mismatching
// magic -- it only records it -- mirroring the reference
// implementation, which likewise never checks it in extract().
const AppleMagic uint32 = 0x48415348 // "HASH"

// AppleHeader is the fixed 20-byte header every Apple accelerator
// table section starts with.
type AppleHeader struct {
	Magic            uint32
	Version          uint16
	HashFunction     uint16
	BucketCount      uint32
	HashCount        uint32
	HeaderDataLength uint32
}

// AppleAtom is one (atom_type, form) pair from the table's HeaderData,
// describing one field of every hash-match payload.
type AppleAtom struct {
	Type dwconst.Atom
	Form dwconst.Form
}

// AppleEntry is one decoded hash-match payload: the form values in
// atom order, plus the die_offset/die_tag atoms projected out for
// convenience (DW_INVALID_OFFSET / DW_TAG_null if the atom list
// doesn't carry one).
type AppleEntry struct {
	Values    []dwform.Value
	DieOffset uint32
	DieTag    dwconst.Tag
}

// AppleTable is a parsed Apple accelerator table (.apple_names,
// .apple_types, .apple_namespaces or .apple_objc). It borrows both the
// section bytes and the string-section bytes; neither may be released
// while the Table is in use.
type AppleTable struct {
	ext     *Extractor
	strtab  []byte
	hdr     AppleHeader
	dieOffsetBase uint32
	atoms   []AppleAtom
	valid   bool
}

// ExtractApple parses an Apple accelerator table out of data. relocs
// applies to relocated 32-bit reads inside the table (string_offset
// fields); strtab is the companion string section the table's
// string_offset fields index into.
func ExtractApple(data []byte, relocs map[uint32]uint32, strtab []byte, littleEndian bool) (*AppleTable, error) {
	t := &AppleTable{
		ext:    NewExtractor(data, relocs, littleEndian),
		strtab: strtab,
	}
	if err := t.extract(); err != nil {
		return nil, err
	}
	return t, nil
}

func (t *AppleTable) extract() error {
	if !t.ext.IsValidRange(0, appleHeaderSize) {
		return ErrHeaderTruncated
	}

	var cur uint32
	magic, _ := t.ext.ReadU32(&cur)
	version, _ := t.ext.ReadU16(&cur)
	hashFn, _ := t.ext.ReadU16(&cur)
	bucketCount, _ := t.ext.ReadU32(&cur)
	hashCount, _ := t.ext.ReadU32(&cur)
	headerDataLength, _ := t.ext.ReadU32(&cur)

	t.hdr = AppleHeader{
		Magic:            magic,
		Version:          version,
		HashFunction:     hashFn,
		BucketCount:      bucketCount,
		HashCount:        hashCount,
		HeaderDataLength: headerDataLength,
	}

	// -1 converts the byte count of the whole index into the largest
	// valid offset within it; an empty table's last field ends exactly
	// at the section boundary, which is itself not a valid offset.
	need := appleHeaderSize + t.hdr.HeaderDataLength + t.hdr.BucketCount*4 + t.hdr.HashCount*8
	if need == 0 || !t.ext.IsValidOffset(need-1) {
		return ErrBucketsTruncated
	}

	dieOffsetBase, err := t.ext.ReadU32(&cur)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrHeaderTruncated, err)
	}
	numAtoms, err := t.ext.ReadU32(&cur)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrHeaderTruncated, err)
	}
	// numAtoms is attacker-controlled; check it against the section in
	// 64-bit arithmetic (a 32-bit numAtoms*4 can itself overflow and
	// wrap small) before trusting it at all, so a bogus huge count
	// fails the same bounds check a truncated read would instead of
	// driving an unrecoverable out-of-memory allocation. The slice is
	// also grown by plain append, never sized off numAtoms directly,
	// so even a count that slipped past this check couldn't over-allocate.
	if uint64(numAtoms)*4 > uint64(t.ext.Len()) || !t.ext.IsValidRange(cur, uint32(uint64(numAtoms)*4)) {
		return ErrHeaderTruncated
	}

	var atoms []AppleAtom
	for i := uint32(0); i < numAtoms; i++ {
		atype, err := t.ext.ReadU16(&cur)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrHeaderTruncated, err)
		}
		form, err := t.ext.ReadU16(&cur)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrHeaderTruncated, err)
		}
		atoms = append(atoms, AppleAtom{Type: dwconst.Atom(atype), Form: dwconst.Form(form)})
	}

	t.dieOffsetBase = dieOffsetBase
	t.atoms = atoms
	t.valid = true
	return nil
}

// GetNumBuckets returns the table's bucket count.
func (t *AppleTable) GetNumBuckets() uint32 { return t.hdr.BucketCount }

// GetNumHashes returns the table's hash count.
func (t *AppleTable) GetNumHashes() uint32 { return t.hdr.HashCount }

// GetSizeHdr returns sizeof(AppleHeader).
func (t *AppleTable) GetSizeHdr() uint32 { return appleHeaderSize }

// GetHeaderDataLength returns the on-disk header_data_length field.
func (t *AppleTable) GetHeaderDataLength() uint32 { return t.hdr.HeaderDataLength }

// DieOffsetBase returns the HeaderData die_offset_base field.
func (t *AppleTable) DieOffsetBase() uint32 { return t.dieOffsetBase }

// GetAtomsDesc returns the table's atom descriptor list.
func (t *AppleTable) GetAtomsDesc() []AppleAtom { return t.atoms }

func (t *AppleTable) bucketsBase() uint32 { return appleHeaderSize + t.hdr.HeaderDataLength }
func (t *AppleTable) hashesBase() uint32  { return t.bucketsBase() + t.hdr.BucketCount*4 }
func (t *AppleTable) offsetsBase() uint32 { return t.hashesBase() + t.hdr.HashCount*4 }

// ValidateForms rejects any die_offset/die_tag/type_flags atom whose
// form is outside the Constant/Flag classes, or is DW_FORM_sdata
// specifically (signed constants can't safely stand in for an offset,
// tag or flag bitfield).
func (t *AppleTable) ValidateForms() bool {
	for _, a := range t.atoms {
		switch a.Type {
		case dwconst.AtomDieOffset, dwconst.AtomDieTag, dwconst.AtomTypeFlags:
			ok := dwform.IsFormClassConstant(a.Form) || dwform.IsFormClassFlag(a.Form)
			if !ok || a.Form == dwconst.FormSdata {
				return false
			}
		}
	}
	return true
}

func (t *AppleTable) formParams() dwform.FormParams {
	return dwform.FormParams{Version: t.hdr.Version, AddrSize: 0, Format: dwform.Dwarf32}
}

// decodeAtoms decodes one value per atom, in atom order, starting at
// *cursor, advancing it past the whole payload.
func (t *AppleTable) decodeAtoms(cursor *uint32) ([]dwform.Value, error) {
	params := t.formParams()
	vals := make([]dwform.Value, len(t.atoms))
	for i, a := range t.atoms {
		v, err := dwform.Decode(a.Form, params, t.ext, cursor)
		if err != nil {
			return nil, err
		}
		vals[i] = v
	}
	return vals, nil
}

func appleEntryFromValues(atoms []AppleAtom, vals []dwform.Value) AppleEntry {
	e := AppleEntry{
		Values:    vals,
		DieOffset: dwconst.DWInvalidOffset,
		DieTag:    dwconst.TagNull,
	}
	for i, a := range atoms {
		switch a.Type {
		case dwconst.AtomDieOffset:
			if u, ok := vals[i].AsUnsignedConstant(); ok {
				e.DieOffset = uint32(u)
			}
		case dwconst.AtomDieTag:
			if u, ok := vals[i].AsUnsignedConstant(); ok {
				e.DieTag = dwconst.Tag(u)
			}
		}
	}
	return e
}

// ReadAtoms decodes one payload at *cursor and returns just the
// die_offset/die_tag atoms, advancing the cursor past the payload.
// It's the narrow helper the reference implementation exposes
// alongside the full per-atom decode EqualRange's iterator performs.
func (t *AppleTable) ReadAtoms(cursor *uint32) (dieOffset uint32, dieTag dwconst.Tag, err error) {
	vals, err := t.decodeAtoms(cursor)
	if err != nil {
		return 0, 0, err
	}
	e := appleEntryFromValues(t.atoms, vals)
	return e.DieOffset, e.DieTag, nil
}

// AppleValueIterator lazily walks the num_data payloads of one
// name-chain entry, decoding one AppleEntry at a time.
type AppleValueIterator struct {
	table    *AppleTable
	cursor   uint32
	numData  uint32
	consumed uint32
	entry    AppleEntry
	ok       bool
}

func (t *AppleTable) newValueIterator(offset uint32) *AppleValueIterator {
	it := &AppleValueIterator{table: t, cursor: offset}
	if !t.ext.IsValidRange(offset, 4) {
		return it
	}
	n, err := t.ext.ReadU32(&it.cursor)
	if err != nil {
		return it
	}
	it.numData = n
	it.advance()
	return it
}

func (it *AppleValueIterator) advance() {
	if it.consumed >= it.numData || !it.table.ext.IsValidRange(it.cursor, 4) {
		it.ok = false
		return
	}
	vals, err := it.table.decodeAtoms(&it.cursor)
	if err != nil {
		it.ok = false
		return
	}
	it.entry = appleEntryFromValues(it.table.atoms, vals)
	it.consumed++
	it.ok = true
}

// Ok reports whether Entry is valid; callers should stop iterating
// once it returns false.
func (it *AppleValueIterator) Ok() bool { return it.ok }

// Entry returns the entry decoded by the most recent Advance (or by
// EqualRange's construction of the first item).
func (it *AppleValueIterator) Entry() AppleEntry { return it.entry }

// Advance decodes the next payload, if any.
func (it *AppleValueIterator) Advance() { it.advance() }

// Equal reports whether it and other refer to the same exhausted
// state, or the same table at the same cursor position.
func (it *AppleValueIterator) Equal(other *AppleValueIterator) bool {
	if !it.ok && !other.ok {
		return true
	}
	return it.table == other.table && it.cursor == other.cursor && it.ok == other.ok
}

// djbHash is the DJB hash (33*h + c, seed 5381) used by Apple
// accelerator tables to bucket names.
func djbHash(s string) uint32 {
	h := uint32(5381)
	for i := 0; i < len(s); i++ {
		h = h*33 + uint32(s[i])
	}
	return h
}

// EqualRange looks up key and returns an iterator over every matching
// hash-match entry, in on-disk order. The returned iterator's Ok()
// is false immediately if there is no match (or the table failed to
// parse), so callers always use the same for it.Ok() loop shape.
func (t *AppleTable) EqualRange(key string) *AppleValueIterator {
	empty := &AppleValueIterator{}
	if !t.valid || t.hdr.BucketCount == 0 {
		return empty
	}

	hash := djbHash(key)
	bucket := hash % t.hdr.BucketCount

	bucketOff := t.bucketsBase() + bucket*4
	index, err := t.ext.ReadU32(&bucketOff)
	if err != nil || index == 0xFFFFFFFF {
		return empty
	}

	for hashIdx := index; hashIdx < t.hdr.HashCount; hashIdx++ {
		hashOff := t.hashesBase() + hashIdx*4
		h, err := t.ext.ReadU32(&hashOff)
		if err != nil {
			break
		}
		if h%t.hdr.BucketCount != bucket {
			break
		}

		offsetsOff := t.offsetsBase() + hashIdx*4
		dataOffset, err := t.ext.ReadU32(&offsetsOff)
		if err != nil {
			continue
		}

		cursor := dataOffset
		stringOffset, err := t.ext.ReadRelocatedU32(&cursor)
		if err != nil {
			continue
		}
		if stringOffset == 0 {
			break
		}

		so := stringOffset
		s, err := CStringAt(t.strtab, &so)
		if err != nil {
			continue
		}
		if s == key {
			return t.newValueIterator(cursor)
		}
	}
	return empty
}

// Dump renders the table as a structured tree via p, following the
// reference implementation's layout: header, die_offset_base, atoms,
// then every bucket either "EMPTY" or its chain of names.
func (t *AppleTable) Dump(p *printer.Printer) {
	if !t.valid {
		return
	}

	func() {
		defer printer.DictScope(p, "Header")()
		p.PrintHex("Magic", uint64(t.hdr.Magic))
		p.PrintHex("Version", uint64(t.hdr.Version))
		p.PrintHex("Hash function", uint64(t.hdr.HashFunction))
		p.PrintNumber("Bucket count", uint64(t.hdr.BucketCount))
		p.PrintNumber("Hashes count", uint64(t.hdr.HashCount))
		p.PrintNumber("HeaderData length", uint64(t.hdr.HeaderDataLength))
	}()

	p.PrintNumber("DIE offset base", uint64(t.dieOffsetBase))
	p.PrintNumber("Number of atoms", uint64(len(t.atoms)))

	func() {
		defer printer.ListScope(p, "Atoms")()
		for i, a := range t.atoms {
			func() {
				defer printer.DictScope(p, fmt.Sprintf("Atom %d", i))()
				fmt.Fprintf(p.StartLine(), "Type: %s\n", dwconst.AtomTypeString(a.Type))
				fmt.Fprintf(p.StartLine(), "Form: %s\n", dwconst.FormEncodingString(a.Form))
			}()
		}
	}()

	for bucket := uint32(0); bucket < t.hdr.BucketCount; bucket++ {
		t.dumpBucket(p, bucket)
	}
}

func (t *AppleTable) dumpBucket(p *printer.Printer, bucket uint32) {
	defer printer.ListScope(p, fmt.Sprintf("Bucket %d", bucket))()

	bucketOff := t.bucketsBase() + bucket*4
	index, err := t.ext.ReadU32(&bucketOff)
	if err != nil {
		p.PrintString("", "Invalid section offset")
		return
	}
	if index == 0xFFFFFFFF {
		p.PrintString("", "EMPTY")
		return
	}

	for hashIdx := index; hashIdx < t.hdr.HashCount; hashIdx++ {
		hashOff := t.hashesBase() + hashIdx*4
		hash, err := t.ext.ReadU32(&hashOff)
		if err != nil || hash%t.hdr.BucketCount != bucket {
			break
		}

		offsetsOff := t.offsetsBase() + hashIdx*4
		dataOffset, err := t.ext.ReadU32(&offsetsOff)
		if err != nil {
			continue
		}
		if !t.ext.IsValidOffset(dataOffset) {
			p.PrintString("", "Invalid section offset")
			continue
		}

		func() {
			defer printer.ListScope(p, fmt.Sprintf("Hash 0x%x", hash))()
			for t.dumpName(p, &dataOffset) {
			}
		}()
	}
}

// dumpName prints one name in a chain and reports whether more names
// follow (a zero relocated string_offset terminates the chain).
func (t *AppleTable) dumpName(p *printer.Printer, dataOffset *uint32) bool {
	nameOffset := *dataOffset
	if !t.ext.IsValidRange(*dataOffset, 4) {
		p.PrintString("", "Incorrectly terminated list.")
		return false
	}
	stringOffset, err := t.ext.ReadRelocatedU32(dataOffset)
	if err != nil || stringOffset == 0 {
		return false
	}

	defer printer.DictScope(p, fmt.Sprintf("Name@0x%x", nameOffset))()
	so := stringOffset
	s, _ := CStringAt(t.strtab, &so)
	fmt.Fprintf(p.StartLine(), "String: 0x%08x %q\n", stringOffset, s)

	numData, err := t.ext.ReadU32(dataOffset)
	if err != nil {
		return false
	}
	for d := uint32(0); d < numData; d++ {
		func() {
			defer printer.ListScope(p, fmt.Sprintf("Data %d", d))()
			for i, a := range t.atoms {
				v, err := dwform.Decode(a.Form, t.formParams(), t.ext, dataOffset)
				if err != nil {
					fmt.Fprintf(p.StartLine(), "Atom[%d]: error extracting the value\n", i)
					return
				}
				fmt.Fprintf(p.StartLine(), "Atom[%d]: %s\n", i, v.String())
			}
		}()
	}
	return true
}
