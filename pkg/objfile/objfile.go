// Package objfile is the thin object-file loader the dump CLI uses to
// pull accelerator-table section bytes, the companion string section
// and any applicable relocations out of a real ELF or Mach-O binary.
// It exists only so `dwarfaccel dump` has something to run against:
// the accelerator-table decoder in pkg/dwarf/accel never imports this
// package, it only ever consumes the (bytes, relocs, strtab) triple
// this loader produces, mirroring the way pkg/symbol/binary.go in the
// teacher keeps object-file loading (debug/elf) separate from DWARF
// interpretation.
package objfile

import (
	"debug/elf"
	"debug/macho"
	"fmt"
)

// Sections holds the raw bytes a table decoder needs: the accelerator
// section itself, the string section its string_offset fields index
// into, and any relocations covering the accelerator section, keyed by
// byte offset within that section.
type Sections struct {
	Data        []byte
	StrtabData  []byte
	Relocs      map[uint32]uint32
	LittleEndian bool
}

// Load opens path and extracts the named accelerator section (e.g.
// ".apple_names" or ".debug_names") plus the string section every
// format's string_offset fields are relative to. It tries ELF first,
// then Mach-O, since both container formats can legally carry either
// accelerator table format.
func Load(path, sectionName, strtabName string) (*Sections, error) {
	if ef, err := elf.Open(path); err == nil {
		defer ef.Close()
		return loadELF(ef, sectionName, strtabName)
	}
	if mf, err := macho.Open(path); err == nil {
		defer mf.Close()
		return loadMachO(mf, sectionName, strtabName)
	}
	return nil, fmt.Errorf("objfile: %s is neither a readable ELF nor Mach-O file", path)
}

func loadELF(ef *elf.File, sectionName, strtabName string) (*Sections, error) {
	sec := ef.Section(sectionName)
	if sec == nil {
		return nil, fmt.Errorf("objfile: section %s not present", sectionName)
	}
	data, err := sec.Data()
	if err != nil {
		return nil, fmt.Errorf("objfile: reading %s: %w", sectionName, err)
	}

	var strtab []byte
	if s := ef.Section(strtabName); s != nil {
		strtab, err = s.Data()
		if err != nil {
			return nil, fmt.Errorf("objfile: reading %s: %w", strtabName, err)
		}
	}

	relocs, err := elfRelocs(ef, sectionName)
	if err != nil {
		return nil, err
	}

	little := ef.ByteOrder.String() == "LittleEndian"
	return &Sections{Data: data, StrtabData: strtab, Relocs: relocs, LittleEndian: little}, nil
}

// elfRelocs resolves the ".rela"/".rel" relocation section covering
// sectionName, if any, into an offset->value side table. Each entry is
// decoded with the 24-byte Elf64_Rela layout and its r_addend is
// recorded as the value at r_offset; the relocation type and symbol
// are not examined, so no entry is skipped.
func elfRelocs(ef *elf.File, sectionName string) (map[uint32]uint32, error) {
	relSec := ef.Section(".rela" + sectionName)
	if relSec == nil {
		relSec = ef.Section(".rel" + sectionName)
	}
	if relSec == nil {
		return nil, nil
	}

	data, err := relSec.Data()
	if err != nil {
		return nil, fmt.Errorf("objfile: reading %s: %w", relSec.Name, err)
	}

	out := make(map[uint32]uint32)
	const relaEntSize = 24 // Elf64_Rela: r_offset(8) r_info(8) r_addend(8)
	for off := 0; off+relaEntSize <= len(data); off += relaEntSize {
		entry := data[off : off+relaEntSize]
		roffset := ef.ByteOrder.Uint64(entry[0:8])
		raddend := ef.ByteOrder.Uint64(entry[16:24])
		out[uint32(roffset)] = uint32(raddend)
	}
	return out, nil
}

func loadMachO(mf *macho.File, sectionName, strtabName string) (*Sections, error) {
	sec := mf.Section(trimLeadingDot(sectionName))
	if sec == nil {
		return nil, fmt.Errorf("objfile: section %s not present", sectionName)
	}
	data, err := sec.Data()
	if err != nil {
		return nil, fmt.Errorf("objfile: reading %s: %w", sectionName, err)
	}

	var strtab []byte
	if s := mf.Section(trimLeadingDot(strtabName)); s != nil {
		strtab, err = s.Data()
		if err != nil {
			return nil, fmt.Errorf("objfile: reading %s: %w", strtabName, err)
		}
	}

	relocs := relocsFromSymtab(mf, sec.Relocs)

	little := mf.ByteOrder.String() == "LittleEndian"
	return &Sections{Data: data, StrtabData: strtab, Relocs: relocs, LittleEndian: little}, nil
}

// relocsFromSymtab resolves the subset of Mach-O relocations this
// loader can handle without re-deriving a full relocation engine: a
// non-scattered, non-PC-relative, extern relocation whose Value is a
// symbol-table index is replaced with that symbol's Value (its
// section-relative address after linking). Scattered and PC-relative
// relocations, and extern relocations against an out-of-range symbol
// index, are skipped -- they don't occur in the string_offset fields
// accelerator tables actually relocate.
func relocsFromSymtab(mf *macho.File, relocs []macho.Reloc) map[uint32]uint32 {
	out := make(map[uint32]uint32)
	for _, r := range relocs {
		if r.Scattered || r.Pcrel || !r.Extern {
			continue
		}
		if mf.Symtab == nil || int(r.Value) >= len(mf.Symtab.Syms) {
			continue
		}
		out[r.Addr] = uint32(mf.Symtab.Syms[r.Value].Value)
	}
	return out
}

func trimLeadingDot(s string) string {
	if len(s) > 0 && s[0] == '.' {
		return s[1:]
	}
	return s
}
