// Package dwform is the form-value decoder the accelerator-table core
// calls into. It is deliberately the only concrete implementation of
// the contract described by the specification: given a DWARF form
// code and a format-parameters triple, extract one typed value from
// an Extractor-shaped reader, classify it, project it to the handful
// of shapes callers in this module actually need (unsigned constant,
// signed constant, flag), and pretty-print it. String and block bytes
// are only reachable through that pretty-printed form.
package dwform

import (
	"fmt"
	"strconv"

	"github.com/hitzhangjie/dwarfaccel/pkg/dwarf/dwconst"
)

// DwarfFormat selects 32-bit or 64-bit DWARF, which changes the width
// of "section offset" forms (DW_FORM_strp, DW_FORM_sec_offset, ...).
type DwarfFormat int

const (
	Dwarf32 DwarfFormat = iota
	Dwarf64
)

// FormParams is threaded into every form-value extraction. address_size
// is 0 for every call site in this module: both accelerator formats
// only ever use forms that don't need it (die offsets, flags, small
// constants), so a caller that hits FormAddr with AddrSize==0 will get
// a decode error rather than a silently wrong width.
type FormParams struct {
	Version  uint16
	AddrSize uint8
	Format   DwarfFormat
}

func (p FormParams) offsetSize() uint32 {
	if p.Format == Dwarf64 {
		return 8
	}
	return 4
}

// Extractor is the narrow slice of accel.Extractor's behaviour this
// package depends on. accel.Extractor satisfies it structurally, so
// there is no import cycle between the two packages.
type Extractor interface {
	ReadU8(cursor *uint32) (uint8, error)
	ReadU16(cursor *uint32) (uint16, error)
	ReadU32(cursor *uint32) (uint32, error)
	ReadU64(cursor *uint32) (uint64, error)
	ReadULEB128(cursor *uint32) (uint64, error)
	ReadSLEB128(cursor *uint32) (int64, error)
	ReadBytes(cursor *uint32, n uint32) ([]byte, error)
}

// Class classifies a decoded Value the way callers need to branch on
// it, without exposing every last DWARF form distinction.
type Class int

const (
	ClassUnknown Class = iota
	ClassConstant
	ClassFlag
	ClassString
	ClassReference
	ClassAddress
	ClassBlock
)

// Value is one decoded form value: the form it was decoded under, a
// class, and whichever of the payload fields that class uses.
type Value struct {
	Form  dwconst.Form
	class Class

	uval  uint64
	sval  int64
	bytes []byte
}

// Class reports which Class Value belongs to.
func (v Value) Class() Class { return v.class }

// AsUnsignedConstant projects v to an unsigned integer. It is valid
// for Constant, Flag, Reference, Address and string/offset-bearing
// classes -- i.e. everything except Block.
func (v Value) AsUnsignedConstant() (uint64, bool) {
	if v.class == ClassBlock {
		return 0, false
	}
	if v.Form == dwconst.FormSdata {
		return uint64(v.sval), true
	}
	return v.uval, true
}

// AsSignedConstant projects v to a signed integer. Only meaningful
// for DW_FORM_sdata values.
func (v Value) AsSignedConstant() (int64, bool) {
	if v.Form != dwconst.FormSdata {
		return 0, false
	}
	return v.sval, true
}

// AsFlag projects v to a boolean. Only meaningful for DW_FORM_flag and
// DW_FORM_flag_present.
func (v Value) AsFlag() (bool, bool) {
	if v.class != ClassFlag {
		return false, false
	}
	return v.uval != 0, true
}

// String pretty-prints v the way the original dumper does: a bare
// value for constants/flags, a quoted string where one was read
// inline, and a hex dump for blocks.
func (v Value) String() string {
	switch v.class {
	case ClassFlag:
		b, _ := v.AsFlag()
		return strconv.FormatBool(b)
	case ClassBlock:
		return fmt.Sprintf("%x", v.bytes)
	case ClassString:
		if v.bytes != nil {
			return strconv.Quote(string(v.bytes))
		}
		return fmt.Sprintf("0x%08x", v.uval)
	case ClassReference, ClassAddress:
		return fmt.Sprintf("0x%08x", v.uval)
	default:
		if v.Form == dwconst.FormSdata {
			return strconv.FormatInt(v.sval, 10)
		}
		return strconv.FormatUint(v.uval, 10)
	}
}

// Decode extracts one value of form f from ext at *cursor, advancing
// the cursor past the encoding on success. On failure the cursor is
// left wherever the underlying read stopped; callers treat any error
// here as fatal to the entry currently being decoded.
func Decode(f dwconst.Form, params FormParams, ext Extractor, cursor *uint32) (Value, error) {
	switch f {
	case dwconst.FormFlag:
		b, err := ext.ReadU8(cursor)
		if err != nil {
			return Value{}, err
		}
		return Value{Form: f, class: ClassFlag, uval: uint64(b)}, nil

	case dwconst.FormFlagPresent:
		return Value{Form: f, class: ClassFlag, uval: 1}, nil

	case dwconst.FormData1, dwconst.FormRef1:
		b, err := ext.ReadU8(cursor)
		if err != nil {
			return Value{}, err
		}
		return Value{Form: f, class: classFor(f), uval: uint64(b)}, nil

	case dwconst.FormData2, dwconst.FormRef2:
		u, err := ext.ReadU16(cursor)
		if err != nil {
			return Value{}, err
		}
		return Value{Form: f, class: classFor(f), uval: uint64(u)}, nil

	case dwconst.FormData4, dwconst.FormRef4, dwconst.FormRefSup4:
		u, err := ext.ReadU32(cursor)
		if err != nil {
			return Value{}, err
		}
		return Value{Form: f, class: classFor(f), uval: uint64(u)}, nil

	case dwconst.FormData8, dwconst.FormRef8, dwconst.FormRefSig8:
		u, err := ext.ReadU64(cursor)
		if err != nil {
			return Value{}, err
		}
		return Value{Form: f, class: classFor(f), uval: u}, nil

	case dwconst.FormData16:
		bs, err := ext.ReadBytes(cursor, 16)
		if err != nil {
			return Value{}, err
		}
		return Value{Form: f, class: ClassBlock, bytes: bs}, nil

	case dwconst.FormSdata:
		s, err := ext.ReadSLEB128(cursor)
		if err != nil {
			return Value{}, err
		}
		return Value{Form: f, class: ClassConstant, sval: s}, nil

	case dwconst.FormUdata, dwconst.FormRefUdata, dwconst.FormStrx, dwconst.FormAddrx:
		u, err := ext.ReadULEB128(cursor)
		if err != nil {
			return Value{}, err
		}
		return Value{Form: f, class: classFor(f), uval: u}, nil

	case dwconst.FormStrp, dwconst.FormLineStrp, dwconst.FormSecOffset, dwconst.FormRefAddr, dwconst.FormStrpSup:
		var u uint64
		var err error
		if params.offsetSize() == 8 {
			u, err = ext.ReadU64(cursor)
		} else {
			var u32 uint32
			u32, err = ext.ReadU32(cursor)
			u = uint64(u32)
		}
		if err != nil {
			return Value{}, err
		}
		return Value{Form: f, class: classFor(f), uval: u}, nil

	case dwconst.FormAddr:
		if params.AddrSize == 0 {
			return Value{}, fmt.Errorf("dwform: DW_FORM_addr requires a nonzero address size")
		}
		bs, err := ext.ReadBytes(cursor, uint32(params.AddrSize))
		if err != nil {
			return Value{}, err
		}
		var u uint64
		for i := len(bs) - 1; i >= 0; i-- {
			u = u<<8 | uint64(bs[i])
		}
		return Value{Form: f, class: ClassAddress, uval: u}, nil

	case dwconst.FormString:
		s, err := readInlineCString(ext, cursor)
		if err != nil {
			return Value{}, err
		}
		return Value{Form: f, class: ClassString, bytes: []byte(s)}, nil

	case dwconst.FormBlock1:
		n, err := ext.ReadU8(cursor)
		if err != nil {
			return Value{}, err
		}
		bs, err := ext.ReadBytes(cursor, uint32(n))
		if err != nil {
			return Value{}, err
		}
		return Value{Form: f, class: ClassBlock, bytes: bs}, nil

	case dwconst.FormBlock2:
		n, err := ext.ReadU16(cursor)
		if err != nil {
			return Value{}, err
		}
		bs, err := ext.ReadBytes(cursor, uint32(n))
		if err != nil {
			return Value{}, err
		}
		return Value{Form: f, class: ClassBlock, bytes: bs}, nil

	case dwconst.FormBlock4:
		n, err := ext.ReadU32(cursor)
		if err != nil {
			return Value{}, err
		}
		bs, err := ext.ReadBytes(cursor, n)
		if err != nil {
			return Value{}, err
		}
		return Value{Form: f, class: ClassBlock, bytes: bs}, nil

	case dwconst.FormBlock, dwconst.FormExprloc:
		n, err := ext.ReadULEB128(cursor)
		if err != nil {
			return Value{}, err
		}
		bs, err := ext.ReadBytes(cursor, uint32(n))
		if err != nil {
			return Value{}, err
		}
		return Value{Form: f, class: ClassBlock, bytes: bs}, nil

	case dwconst.FormIndirect:
		inner, err := ext.ReadULEB128(cursor)
		if err != nil {
			return Value{}, err
		}
		return Decode(dwconst.Form(inner), params, ext, cursor)

	default:
		return Value{}, fmt.Errorf("dwform: unsupported form %s", dwconst.FormEncodingString(f))
	}
}

// classFor picks the Class for forms whose class depends only on the
// form code, not on any runtime value.
func classFor(f dwconst.Form) Class {
	switch f {
	case dwconst.FormRef1, dwconst.FormRef2, dwconst.FormRef4, dwconst.FormRef8,
		dwconst.FormRefUdata, dwconst.FormRefAddr, dwconst.FormRefSup4, dwconst.FormRefSig8:
		return ClassReference
	case dwconst.FormStrp, dwconst.FormLineStrp, dwconst.FormStrpSup, dwconst.FormStrx:
		return ClassString
	case dwconst.FormAddrx:
		return ClassAddress
	default:
		return ClassConstant
	}
}

// IsFormClassConstant reports whether f decodes to a Constant-class
// value, mirroring AppleAcceleratorTable::validateForms' use of
// DWARFFormValue::isFormClass(FC_Constant).
func IsFormClassConstant(f dwconst.Form) bool {
	switch f {
	case dwconst.FormData1, dwconst.FormData2, dwconst.FormData4, dwconst.FormData8,
		dwconst.FormSdata, dwconst.FormUdata, dwconst.FormSecOffset:
		return true
	default:
		return false
	}
}

// IsFormClassFlag reports whether f decodes to a Flag-class value.
func IsFormClassFlag(f dwconst.Form) bool {
	return f == dwconst.FormFlag || f == dwconst.FormFlagPresent
}

// readInlineCString reads bytes one at a time via ReadU8 until a NUL,
// since DW_FORM_string stores its text inline rather than as an
// offset into a separate string section.
func readInlineCString(ext Extractor, cursor *uint32) (string, error) {
	var out []byte
	for {
		b, err := ext.ReadU8(cursor)
		if err != nil {
			return "", err
		}
		if b == 0 {
			break
		}
		out = append(out, b)
	}
	return string(out), nil
}
