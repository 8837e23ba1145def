// Package dwconst names the small integer codes the DWARF standard
// and the Apple accelerator-table extension use to tag DIEs (Tag),
// encode attribute values (Form), label Apple atom payloads (Atom),
// and label DWARF v5 .debug_names attributes (Index). Each name
// table mirrors the fallback behaviour of LLVM's formatTag/formatForm/
// formatAtom/formatIndex helpers: a known code renders as its mnemonic,
// an unknown one renders as "..._Unknown_0x<hex>".
package dwconst

import "fmt"

// Tag identifies what kind of DIE an abbreviation or accelerator
// entry describes (DW_TAG_*).
type Tag uint32

// Form identifies how an attribute or atom value is encoded on disk
// (DW_FORM_*).
type Form uint32

// Atom identifies what an Apple accelerator-table payload field means
// (DW_ATOM_*).
type Atom uint16

// Index identifies what a DWARF v5 .debug_names attribute field
// denotes (DW_IDX_*).
type Index uint32

// DWARF tags relevant to accelerator-table entries.
const (
	TagNull              Tag = 0x00
	TagArrayType         Tag = 0x01
	TagClassType         Tag = 0x02
	TagCompileUnit       Tag = 0x11
	TagStructureType     Tag = 0x13
	TagSubroutineType    Tag = 0x15
	TagTypedef           Tag = 0x16
	TagUnionType         Tag = 0x17
	TagBaseType          Tag = 0x24
	TagNamespace         Tag = 0x39
	TagUnspecifiedType   Tag = 0x3b
	TagSubprogram        Tag = 0x2e
	TagVariable          Tag = 0x34
	TagEnumerationType   Tag = 0x04
	TagFormalParameter   Tag = 0x05
	TagLexicalBlock      Tag = 0x0b
	TagMember            Tag = 0x0d
	TagPointerType       Tag = 0x0f
	TagReferenceType     Tag = 0x10
	TagConstType         Tag = 0x26
)

var tagNames = map[Tag]string{
	TagNull:            "null",
	TagArrayType:       "array_type",
	TagClassType:       "class_type",
	TagCompileUnit:     "compile_unit",
	TagStructureType:   "structure_type",
	TagSubroutineType:  "subroutine_type",
	TagTypedef:         "typedef",
	TagUnionType:       "union_type",
	TagBaseType:        "base_type",
	TagNamespace:       "namespace",
	TagUnspecifiedType: "unspecified_type",
	TagSubprogram:      "subprogram",
	TagVariable:        "variable",
	TagEnumerationType: "enumeration_type",
	TagFormalParameter: "formal_parameter",
	TagLexicalBlock:    "lexical_block",
	TagMember:          "member",
	TagPointerType:     "pointer_type",
	TagReferenceType:   "reference_type",
	TagConstType:       "const_type",
}

// TagString renders t as DW_TAG_<name>, falling back to
// DW_TAG_Unknown_0x<hex> for codes this package doesn't know about.
func TagString(t Tag) string {
	if n, ok := tagNames[t]; ok {
		return "DW_TAG_" + n
	}
	return fmt.Sprintf("DW_TAG_Unknown_0x%x", uint32(t))
}

// Forms used by accelerator-table atoms and .debug_names attributes.
const (
	FormAddr         Form = 0x01
	FormBlock2       Form = 0x03
	FormBlock4       Form = 0x04
	FormData2        Form = 0x05
	FormData4        Form = 0x06
	FormData8        Form = 0x07
	FormString       Form = 0x08
	FormBlock        Form = 0x09
	FormBlock1       Form = 0x0a
	FormData1        Form = 0x0b
	FormFlag         Form = 0x0c
	FormSdata        Form = 0x0d
	FormStrp         Form = 0x0e
	FormUdata        Form = 0x0f
	FormRefAddr      Form = 0x10
	FormRef1         Form = 0x11
	FormRef2         Form = 0x12
	FormRef4         Form = 0x13
	FormRef8         Form = 0x14
	FormRefUdata     Form = 0x15
	FormIndirect     Form = 0x16
	FormSecOffset    Form = 0x17
	FormExprloc      Form = 0x18
	FormFlagPresent  Form = 0x19
	FormStrx         Form = 0x1a
	FormAddrx        Form = 0x1b
	FormRefSup4      Form = 0x1c
	FormStrpSup      Form = 0x1d
	FormData16       Form = 0x1e
	FormLineStrp     Form = 0x1f
	FormRefSig8      Form = 0x20
	FormImplicitConst Form = 0x21
)

var formNames = map[Form]string{
	FormAddr:          "addr",
	FormBlock2:        "block2",
	FormBlock4:        "block4",
	FormData2:         "data2",
	FormData4:         "data4",
	FormData8:         "data8",
	FormString:        "string",
	FormBlock:         "block",
	FormBlock1:        "block1",
	FormData1:         "data1",
	FormFlag:          "flag",
	FormSdata:         "sdata",
	FormStrp:          "strp",
	FormUdata:         "udata",
	FormRefAddr:       "ref_addr",
	FormRef1:          "ref1",
	FormRef2:          "ref2",
	FormRef4:          "ref4",
	FormRef8:          "ref8",
	FormRefUdata:      "ref_udata",
	FormIndirect:      "indirect",
	FormSecOffset:     "sec_offset",
	FormExprloc:       "exprloc",
	FormFlagPresent:   "flag_present",
	FormStrx:          "strx",
	FormAddrx:         "addrx",
	FormRefSup4:       "ref_sup4",
	FormStrpSup:       "strp_sup",
	FormData16:        "data16",
	FormLineStrp:      "line_strp",
	FormRefSig8:       "ref_sig8",
	FormImplicitConst: "implicit_const",
}

// FormEncodingString renders f as DW_FORM_<name>, falling back to
// DW_FORM_Unknown_0x<hex>.
func FormEncodingString(f Form) string {
	if n, ok := formNames[f]; ok {
		return "DW_FORM_" + n
	}
	return fmt.Sprintf("DW_FORM_Unknown_0x%x", uint32(f))
}

// Apple accelerator-table atom types.
const (
	AtomNull      Atom = 0
	AtomDieOffset Atom = 1
	AtomCUOffset  Atom = 2
	AtomDieTag    Atom = 3
	AtomTypeFlags Atom = 4
	AtomQualNameHash Atom = 5
)

var atomNames = map[Atom]string{
	AtomNull:         "null",
	AtomDieOffset:    "die_offset",
	AtomCUOffset:     "cu_offset",
	AtomDieTag:       "die_tag",
	AtomTypeFlags:    "type_flags",
	AtomQualNameHash: "qual_name_hash",
}

// AtomTypeString renders a as DW_ATOM_<name>, falling back to
// DW_ATOM_Unknown_0x<hex>.
func AtomTypeString(a Atom) string {
	if n, ok := atomNames[a]; ok {
		return "DW_ATOM_" + n
	}
	return fmt.Sprintf("DW_ATOM_Unknown_0x%x", uint32(a))
}

// DWARF v5 .debug_names attribute encodings.
const (
	IdxCompileUnit  Index = 1
	IdxTypeUnit     Index = 2
	IdxDieOffset    Index = 3
	IdxParent       Index = 4
	IdxTypeHash     Index = 5
)

var idxNames = map[Index]string{
	IdxCompileUnit: "compile_unit",
	IdxTypeUnit:    "type_unit",
	IdxDieOffset:   "die_offset",
	IdxParent:      "parent",
	IdxTypeHash:    "type_hash",
}

// IndexString renders i as DW_IDX_<name>, falling back to
// DW_IDX_Unknown_0x<hex>.
func IndexString(i Index) string {
	if n, ok := idxNames[i]; ok {
		return "DW_IDX_" + n
	}
	return fmt.Sprintf("DW_IDX_Unknown_0x%x", uint32(i))
}

// DWInvalidOffset is the sentinel die_offset value used when an Apple
// accelerator entry carries no DW_ATOM_die_offset atom.
const DWInvalidOffset uint32 = 0xffffffff
