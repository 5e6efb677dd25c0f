// Package elfx provides ELF loading helpers for kernel images.
package elfx

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
)

var (
	ErrNotELF           = errors.New("elfx: not an ELF file")
	ErrNotX86           = errors.New("elfx: not an x86 or x86-64 ELF")
	ErrNoExecutableCode = errors.New("elfx: no runtime-executable code")
	ErrNoSymbols        = errors.New("elfx: no symbol table")
	ErrNoSymbol         = errors.New("elfx: symbol not found")
	ErrNoMetadata       = errors.New("elfx: metadata section not found")
)

// Mode selects which byte regions of an image are offered for scanning.
type Mode int

const (
	// ModeText scans only the section named ".text". Kernel images mark
	// .init.text executable in the file even though it is freed after
	// boot; it must never produce gadgets.
	ModeText Mode = iota
	// ModeSegments scans every executable PT_LOAD segment.
	ModeSegments
	// ModeRaw treats the whole file as one code blob at address 0.
	ModeRaw
)

// Section is one candidate byte region of an image.
// Exec reports whether the region is executable at steady-state runtime,
// not merely marked executable in the file.
type Section struct {
	Name string
	Addr uint64
	Data []byte
	Exec bool
}

// Symbol is one symbol-table entry.
type Symbol struct {
	Name string
	Addr uint64
	Size uint64
}

// Image is a loaded kernel ELF, or a raw code blob.
type Image struct {
	ELF  *elf.File // nil for raw blobs
	Bits int       // decode mode: 32 or 64
	raw  []byte
}

// Open reads path and validates it is an x86 or x86-64 ELF.
func Open(path string) (*Image, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("elfx: read: %w", err)
	}
	return New(raw)
}

// New validates an in-memory x86 or x86-64 ELF image.
func New(raw []byte) (*Image, error) {
	ef, err := elf.NewFile(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotELF, err)
	}

	var bits int
	switch ef.Machine {
	case elf.EM_X86_64:
		bits = 64
	case elf.EM_386:
		bits = 32
	default:
		return nil, fmt.Errorf("%w: machine %v", ErrNotX86, ef.Machine)
	}

	return &Image{ELF: ef, Bits: bits, raw: raw}, nil
}

// OpenRaw reads path as a bare code blob, no container parsing.
func OpenRaw(path string) (*Image, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("elfx: read: %w", err)
	}
	return &Image{Bits: 64, raw: raw}, nil
}

// Size returns the underlying file size in bytes.
func (img *Image) Size() int { return len(img.raw) }

// Sections returns the byte regions for the given mode. In ModeText the
// result also includes the file-executable sections that are not
// runtime-executable (Exec=false) so callers can report and exclude them.
func (img *Image) Sections(mode Mode) ([]Section, error) {
	if mode == ModeRaw || img.ELF == nil {
		return []Section{{Name: "raw", Addr: 0, Data: img.raw, Exec: true}}, nil
	}

	switch mode {
	case ModeText:
		var out []Section
		for _, s := range img.ELF.Sections {
			if s.Flags&elf.SHF_EXECINSTR == 0 || s.Type == elf.SHT_NOBITS {
				continue
			}
			data, err := s.Data()
			if err != nil {
				return nil, fmt.Errorf("elfx: section %s: %w", s.Name, err)
			}
			out = append(out, Section{
				Name: s.Name,
				Addr: s.Addr,
				Data: data,
				Exec: s.Name == ".text",
			})
		}
		return out, nil

	case ModeSegments:
		var out []Section
		for i, p := range img.ELF.Progs {
			if p.Type != elf.PT_LOAD || p.Flags&elf.PF_X == 0 {
				continue
			}
			end := p.Off + p.Filesz
			if p.Off > uint64(len(img.raw)) || end > uint64(len(img.raw)) {
				return nil, fmt.Errorf("elfx: segment %d extends past end of file", i)
			}
			out = append(out, Section{
				Name: fmt.Sprintf("load%d", i),
				Addr: p.Vaddr,
				Data: img.raw[p.Off:end],
				Exec: true,
			})
		}
		return out, nil
	}

	return nil, fmt.Errorf("elfx: unknown mode %d", mode)
}

// ExecSections narrows secs to the regions holding runtime-executable
// bytes, or returns ErrNoExecutableCode when none remain.
func ExecSections(secs []Section) ([]Section, error) {
	var out []Section
	for _, s := range secs {
		if s.Exec && len(s.Data) > 0 {
			out = append(out, s)
		}
	}
	if len(out) == 0 {
		return nil, ErrNoExecutableCode
	}
	return out, nil
}

// Symbols returns the symbol table, preferring .symtab over .dynsym.
// Unnamed and zero-value entries are dropped.
func (img *Image) Symbols() ([]Symbol, error) {
	if img.ELF == nil {
		return nil, ErrNoSymbols
	}
	syms, err := img.ELF.Symbols()
	if err != nil {
		syms, err = img.ELF.DynamicSymbols()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrNoSymbols, err)
		}
	}
	out := make([]Symbol, 0, len(syms))
	for _, s := range syms {
		if s.Name == "" {
			continue
		}
		out = append(out, Symbol{Name: s.Name, Addr: s.Value, Size: s.Size})
	}
	return out, nil
}

// Symbol returns the address of the first symbol with the given name.
func (img *Image) Symbol(name string) (uint64, error) {
	syms, err := img.Symbols()
	if err != nil {
		return 0, err
	}
	for _, s := range syms {
		if s.Name == name {
			return s.Addr, nil
		}
	}
	return 0, fmt.Errorf("%w: %s", ErrNoSymbol, name)
}

// ByteOrder returns the image byte order; raw blobs decode little-endian.
func (img *Image) ByteOrder() binary.ByteOrder {
	if img.ELF == nil {
		return binary.LittleEndian
	}
	return img.ELF.ByteOrder
}
