package accel

import (
	"fmt"

	"github.com/hitzhangjie/dwarfaccel/pkg/dwarf/dwconst"
	"github.com/hitzhangjie/dwarfaccel/pkg/dwarf/dwform"
	"github.com/hitzhangjie/dwarfaccel/pkg/printer"
)

// namesHeaderFixedSize is sizeof(Header) up to but not including the
// variable-length augmentation string: unit_length(4) + version(2) +
// padding(2) + cu_count(4) + local_tu_count(4) + foreign_tu_count(4) +
// bucket_count(4) + name_count(4) + abbrev_table_size(4) +
// augmentation_size(4).
const namesHeaderFixedSize = 36

// NamesHeader is one .debug_names unit's fixed header, plus the
// (already length-read, already padded-past) augmentation string.
type NamesHeader struct {
	UnitLength         uint32
	Version            uint16
	Padding            uint16
	CUCount            uint32
	LocalTUCount       uint32
	ForeignTUCount     uint32
	BucketCount        uint32
	NameCount          uint32
	AbbrevTableSize    uint32
	AugmentationString []byte
}

// AttributeEncoding is one (index, form) pair inside an abbreviation;
// the pair (0, 0) is the sentinel that terminates the list.
type AttributeEncoding struct {
	Index dwconst.Index
	Form  dwconst.Form
}

func (a AttributeEncoding) isSentinel() bool { return a.Index == 0 && a.Form == 0 }

// NamesAbbrev is one entry-shape descriptor: a tag plus the ordered
// attribute list every Entry referencing this code must decode.
type NamesAbbrev struct {
	Code       uint32
	Tag        dwconst.Tag
	Attributes []AttributeEncoding
}

// NamesEntry is one decoded index entry: the abbrev it was built from
// (borrowed from the owning NameIndex) plus one form value per
// attribute, in the same order as Abbrev.Attributes.
type NamesEntry struct {
	Abbrev *NamesAbbrev
	Values []dwform.Value
}

// NameTableEntry is the (string, entry-list) pair a 1-based name index
// resolves to: a relocated offset into the string section, and an
// offset into the accelerator section (already rebased by entries_base)
// where the entry list for that name starts.
type NameTableEntry struct {
	StringOffset uint32
	EntryOffset  uint32
}

// NameIndex is one parsed .debug_names unit: its header, the region
// bases computed from the header's counts, and its abbreviation table.
type NameIndex struct {
	ext    *Extractor
	strtab []byte
	base   uint32
	hdr    NamesHeader

	cusBase           uint32
	bucketsBase       uint32
	hashesBase        uint32
	stringOffsetsBase uint32
	entryOffsetsBase  uint32
	entriesBase       uint32

	abbrevs      []*NamesAbbrev
	abbrevByCode map[uint32]*NamesAbbrev
}

// DebugNames is a fully parsed .debug_names section: the chained
// sequence of name-index units it contains, in on-disk order.
type DebugNames struct {
	NameIndices []*NameIndex
}

// ExtractDebugNames parses every chained name-index unit out of data.
func ExtractDebugNames(data []byte, relocs map[uint32]uint32, strtab []byte, littleEndian bool) (*DebugNames, error) {
	ext := NewExtractor(data, relocs, littleEndian)
	dn := &DebugNames{}

	offset := uint32(0)
	for ext.IsValidOffset(offset) {
		ni := &NameIndex{ext: ext, strtab: strtab, base: offset}
		if err := ni.extract(); err != nil {
			return nil, fmt.Errorf("name index at offset %#x: %w", offset, err)
		}
		dn.NameIndices = append(dn.NameIndices, ni)
		offset = ni.GetNextUnitOffset()
	}
	return dn, nil
}

func (ni *NameIndex) extractHeader(cursor *uint32) error {
	if !ni.ext.IsValidOffset(*cursor + namesHeaderFixedSize - 1) {
		return ErrHeaderTruncated
	}

	var h NamesHeader
	h.UnitLength, _ = ni.ext.ReadU32(cursor)
	h.Version, _ = ni.ext.ReadU16(cursor)
	h.Padding, _ = ni.ext.ReadU16(cursor)
	h.CUCount, _ = ni.ext.ReadU32(cursor)
	h.LocalTUCount, _ = ni.ext.ReadU32(cursor)
	h.ForeignTUCount, _ = ni.ext.ReadU32(cursor)
	h.BucketCount, _ = ni.ext.ReadU32(cursor)
	h.NameCount, _ = ni.ext.ReadU32(cursor)
	h.AbbrevTableSize, _ = ni.ext.ReadU32(cursor)

	augSize, err := ni.ext.ReadU32(cursor)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrHeaderTruncated, err)
	}
	if !ni.ext.IsValidRange(*cursor, augSize) {
		return ErrAugmentationTruncated
	}
	aug, err := ni.ext.ReadBytes(cursor, augSize)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrAugmentationTruncated, err)
	}
	h.AugmentationString = aug

	*cursor = alignUp4(*cursor)
	ni.hdr = h
	return nil
}

func alignUp4(v uint32) uint32 { return (v + 3) &^ 3 }

func (ni *NameIndex) extract() error {
	cursor := ni.base
	if err := ni.extractHeader(&cursor); err != nil {
		return err
	}

	ni.cusBase = cursor
	cursor += ni.hdr.CUCount * 4
	cursor += ni.hdr.LocalTUCount * 4
	cursor += ni.hdr.ForeignTUCount * 8
	ni.bucketsBase = cursor
	cursor += ni.hdr.BucketCount * 4
	ni.hashesBase = cursor
	if ni.hdr.BucketCount > 0 {
		cursor += ni.hdr.NameCount * 4
	}
	ni.stringOffsetsBase = cursor
	cursor += ni.hdr.NameCount * 4
	ni.entryOffsetsBase = cursor
	cursor += ni.hdr.NameCount * 4

	if !ni.ext.IsValidRange(cursor, ni.hdr.AbbrevTableSize) {
		return ErrAbbrevRegionTruncated
	}
	ni.entriesBase = cursor + ni.hdr.AbbrevTableSize

	ni.abbrevByCode = make(map[uint32]*NamesAbbrev)
	for {
		ab, err := ni.extractAbbrev(&cursor)
		if err != nil {
			return err
		}
		if ab == nil { // sentinel
			return nil
		}
		if _, dup := ni.abbrevByCode[ab.Code]; dup {
			return ErrDuplicateAbbrevCode
		}
		ni.abbrevByCode[ab.Code] = ab
		ni.abbrevs = append(ni.abbrevs, ab)
	}
}

// extractAttributeEncoding reads one (index, form) ULEB128 pair,
// reporting io.EOF-like truncation as ErrAbbrevTableUnterminated if
// the read would start at or past entries_base.
func (ni *NameIndex) extractAttributeEncoding(cursor *uint32) (AttributeEncoding, error) {
	if *cursor >= ni.entriesBase {
		return AttributeEncoding{}, ErrAbbrevTableUnterminated
	}
	idx, err := ni.ext.ReadULEB128(cursor)
	if err != nil {
		return AttributeEncoding{}, fmt.Errorf("%w: %v", ErrAbbrevTableUnterminated, err)
	}
	form, err := ni.ext.ReadULEB128(cursor)
	if err != nil {
		return AttributeEncoding{}, fmt.Errorf("%w: %v", ErrAbbrevTableUnterminated, err)
	}
	return AttributeEncoding{Index: dwconst.Index(idx), Form: dwconst.Form(form)}, nil
}

func (ni *NameIndex) extractAttributeEncodings(cursor *uint32) ([]AttributeEncoding, error) {
	var result []AttributeEncoding
	for {
		ae, err := ni.extractAttributeEncoding(cursor)
		if err != nil {
			return nil, err
		}
		if ae.isSentinel() {
			return result, nil
		}
		result = append(result, ae)
	}
}

// extractAbbrev reads one abbreviation; a nil *NamesAbbrev with a nil
// error signals the code-0 sentinel that terminates the table.
func (ni *NameIndex) extractAbbrev(cursor *uint32) (*NamesAbbrev, error) {
	if *cursor >= ni.entriesBase {
		return nil, ErrAbbrevTableUnterminated
	}

	code, err := ni.ext.ReadULEB128(cursor)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAbbrevTableUnterminated, err)
	}
	if code == 0 {
		return nil, nil
	}

	tag, err := ni.ext.ReadULEB128(cursor)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAbbrevTableUnterminated, err)
	}
	attrs, err := ni.extractAttributeEncodings(cursor)
	if err != nil {
		return nil, err
	}
	return &NamesAbbrev{Code: uint32(code), Tag: dwconst.Tag(tag), Attributes: attrs}, nil
}

// GetNextUnitOffset returns where the next chained unit starts: the
// unit_length field counts bytes after itself, so the next unit is
// base + 4 + unit_length.
func (ni *NameIndex) GetNextUnitOffset() uint32 { return ni.base + 4 + ni.hdr.UnitLength }

// GetCUOffset returns the absolute section offset of compile unit cu.
func (ni *NameIndex) GetCUOffset(cu uint32) uint32 {
	off := ni.cusBase + 4*cu
	v, _ := ni.ext.ReadRelocatedU32(&off)
	return v
}

// GetLocalTUOffset returns the absolute section offset of local type
// unit tu. The reference implementation this was ported from computes
// this without indexing by tu at all (every call returns the same
// value) -- almost certainly a copy-paste bug, since it's inconsistent
// with getCUOffset and getForeignTUOffset right next to it and with
// the array layout this package's own extract() builds. This port
// follows the on-disk layout instead: cus_base + 4*cu_count + 4*tu.
func (ni *NameIndex) GetLocalTUOffset(tu uint32) uint32 {
	off := ni.cusBase + ni.hdr.CUCount*4 + 4*tu
	v, _ := ni.ext.ReadRelocatedU32(&off)
	return v
}

// GetForeignTUOffset returns the type signature of foreign type unit tu.
func (ni *NameIndex) GetForeignTUOffset(tu uint32) uint64 {
	off := ni.cusBase + (ni.hdr.CUCount+ni.hdr.LocalTUCount)*4 + 8*tu
	v, _ := ni.ext.ReadU64(&off)
	return v
}

// GetBucketArrayEntry returns buckets[bucket]: the 1-based name index
// of the first name in that bucket's chain, or 0 if empty.
func (ni *NameIndex) GetBucketArrayEntry(bucket uint32) uint32 {
	off := ni.bucketsBase + 4*bucket
	v, _ := ni.ext.ReadU32(&off)
	return v
}

// GetHashArrayEntry returns the hash stored for the 1-based name index i.
func (ni *NameIndex) GetHashArrayEntry(i uint32) uint32 {
	off := ni.hashesBase + 4*(i-1)
	v, _ := ni.ext.ReadU32(&off)
	return v
}

// GetNameTableEntry returns the (string_offset, entry_offset) pair for
// the 1-based name index i; entry_offset is rebased to be absolute.
func (ni *NameIndex) GetNameTableEntry(i uint32) NameTableEntry {
	strOff := ni.stringOffsetsBase + 4*(i-1)
	entOff := ni.entryOffsetsBase + 4*(i-1)

	stringOffset, _ := ni.ext.ReadRelocatedU32(&strOff)
	entryOffset, _ := ni.ext.ReadU32(&entOff)
	return NameTableEntry{StringOffset: stringOffset, EntryOffset: entryOffset + ni.entriesBase}
}

// GetEntry decodes one index entry at *cursor, advancing it past the
// entry. A code of 0 is the end-of-list terminator: GetEntry reports
// it as ErrSentinel rather than a NamesEntry, so a caller's loop
// condition is the same "err != nil" shape as every other failure,
// but can still tell "done" apart from "malformed" with errors.Is.
func (ni *NameIndex) GetEntry(cursor *uint32) (NamesEntry, error) {
	if !ni.ext.IsValidOffset(*cursor) {
		return NamesEntry{}, ErrEntryListUnterminated
	}

	code, err := ni.ext.ReadULEB128(cursor)
	if err != nil {
		return NamesEntry{}, fmt.Errorf("%w: %v", ErrEntryListUnterminated, err)
	}
	if code == 0 {
		return NamesEntry{}, ErrSentinel
	}

	ab, ok := ni.abbrevByCode[uint32(code)]
	if !ok {
		return NamesEntry{}, ErrInvalidAbbrevCode
	}

	params := dwform.FormParams{Version: ni.hdr.Version, AddrSize: 0, Format: dwform.Dwarf32}
	values := make([]dwform.Value, len(ab.Attributes))
	for i, attr := range ab.Attributes {
		v, err := dwform.Decode(attr.Form, params, ni.ext, cursor)
		if err != nil {
			return NamesEntry{}, fmt.Errorf("%w: %v", ErrFormExtract, err)
		}
		values[i] = v
	}
	return NamesEntry{Abbrev: ab, Values: values}, nil
}

// Dump renders the unit as a structured tree via p.
func (ni *NameIndex) Dump(p *printer.Printer) {
	defer printer.DictScope(p, fmt.Sprintf("Name Index @ 0x%x", ni.base))()

	ni.dumpHeader(p)
	ni.dumpCUs(p)
	ni.dumpLocalTUs(p)
	ni.dumpForeignTUs(p)
	ni.dumpAbbreviations(p)

	if ni.hdr.BucketCount > 0 {
		for bucket := uint32(0); bucket < ni.hdr.BucketCount; bucket++ {
			ni.dumpBucket(p, bucket)
		}
		return
	}

	p.PrintString("", "Hash table not present")
	for i := uint32(1); i <= ni.hdr.NameCount; i++ {
		ni.dumpName(p, i, nil)
	}
}

func (ni *NameIndex) dumpHeader(p *printer.Printer) {
	defer printer.DictScope(p, "Header")()
	p.PrintHex("Length", uint64(ni.hdr.UnitLength))
	p.PrintNumber("Version", uint64(ni.hdr.Version))
	p.PrintHex("Padding", uint64(ni.hdr.Padding))
	p.PrintNumber("CU count", uint64(ni.hdr.CUCount))
	p.PrintNumber("Local TU count", uint64(ni.hdr.LocalTUCount))
	p.PrintNumber("Foreign TU count", uint64(ni.hdr.ForeignTUCount))
	p.PrintNumber("Bucket count", uint64(ni.hdr.BucketCount))
	p.PrintNumber("Name count", uint64(ni.hdr.NameCount))
	p.PrintHex("Abbreviations table size", uint64(ni.hdr.AbbrevTableSize))
	fmt.Fprintf(p.StartLine(), "Augmentation: %q\n", ni.hdr.AugmentationString)
}

func (ni *NameIndex) dumpCUs(p *printer.Printer) {
	defer printer.ListScope(p, "Compilation Unit offsets")()
	for cu := uint32(0); cu < ni.hdr.CUCount; cu++ {
		fmt.Fprintf(p.StartLine(), "CU[%d]: 0x%08x\n", cu, ni.GetCUOffset(cu))
	}
}

func (ni *NameIndex) dumpLocalTUs(p *printer.Printer) {
	if ni.hdr.LocalTUCount == 0 {
		return
	}
	defer printer.ListScope(p, "Local Type Unit offsets")()
	for tu := uint32(0); tu < ni.hdr.LocalTUCount; tu++ {
		fmt.Fprintf(p.StartLine(), "LocalTU[%d]: 0x%08x\n", tu, ni.GetLocalTUOffset(tu))
	}
}

func (ni *NameIndex) dumpForeignTUs(p *printer.Printer) {
	if ni.hdr.ForeignTUCount == 0 {
		return
	}
	defer printer.ListScope(p, "Foreign Type Unit signatures")()
	for tu := uint32(0); tu < ni.hdr.ForeignTUCount; tu++ {
		fmt.Fprintf(p.StartLine(), "ForeignTU[%d]: 0x%016x\n", tu, ni.GetForeignTUOffset(tu))
	}
}

func (ni *NameIndex) dumpAbbreviations(p *printer.Printer) {
	defer printer.ListScope(p, "Abbreviations")()
	for _, ab := range ni.abbrevs {
		func() {
			defer printer.DictScope(p, fmt.Sprintf("Abbreviation 0x%x", ab.Code))()
			fmt.Fprintf(p.StartLine(), "Tag: %s\n", dwconst.TagString(ab.Tag))
			for _, attr := range ab.Attributes {
				fmt.Fprintf(p.StartLine(), "%s: %s\n", dwconst.IndexString(attr.Index), dwconst.FormEncodingString(attr.Form))
			}
		}()
	}
}

func (ni *NameIndex) dumpBucket(p *printer.Printer, bucket uint32) {
	defer printer.ListScope(p, fmt.Sprintf("Bucket %d", bucket))()

	index := ni.GetBucketArrayEntry(bucket)
	if index == 0 {
		p.PrintString("", "EMPTY")
		return
	}
	if index > ni.hdr.NameCount {
		p.PrintString("", "Name index is invalid")
		return
	}

	for ; index <= ni.hdr.NameCount; index++ {
		hash := ni.GetHashArrayEntry(index)
		if hash%ni.hdr.BucketCount != bucket {
			break
		}
		h := hash
		ni.dumpName(p, index, &h)
	}
}

// dumpName prints name i (1-based) and streams its entry list until
// GetEntry signals ErrSentinel; any other error stops just this one
// list, matching the reference dumper's "other lists still parse" rule.
func (ni *NameIndex) dumpName(p *printer.Printer, i uint32, hash *uint32) {
	nte := ni.GetNameTableEntry(i)
	defer printer.DictScope(p, fmt.Sprintf("Name %d", i))()

	if hash != nil {
		p.PrintHex("Hash", uint64(*hash))
	}

	so := nte.StringOffset
	s, _ := CStringAt(ni.strtab, &so)
	fmt.Fprintf(p.StartLine(), "String: 0x%08x %q\n", nte.StringOffset, s)

	cursor := nte.EntryOffset
	for ni.dumpEntry(p, &cursor) {
	}
}

func (ni *NameIndex) dumpEntry(p *printer.Printer, cursor *uint32) bool {
	entryID := *cursor
	entry, err := ni.GetEntry(cursor)
	if err != nil {
		if err != ErrSentinel {
			p.PrintString("", err.Error())
		}
		return false
	}

	defer printer.DictScope(p, fmt.Sprintf("Entry @ 0x%x", entryID))()
	p.PrintHex("Abbrev", uint64(entry.Abbrev.Code))
	fmt.Fprintf(p.StartLine(), "Tag: %s\n", dwconst.TagString(entry.Abbrev.Tag))
	for i, attr := range entry.Abbrev.Attributes {
		fmt.Fprintf(p.StartLine(), "%s: %s\n", dwconst.IndexString(attr.Index), entry.Values[i].String())
	}
	return true
}

// Dump renders every contained name index, in on-disk order.
func (dn *DebugNames) Dump(p *printer.Printer) {
	for _, ni := range dn.NameIndices {
		ni.Dump(p)
	}
}
