package elfx

import "fmt"

// Annotation sections emitted by the kernel build. Each holds 4-byte
// signed offsets relative to the entry's own location; resolving one
// yields the virtual address of an annotated instruction.
const (
	returnSitesSection    = ".return_sites"
	retpolineSitesSection = ".retpoline_sites"
)

// ReturnSites returns the virtual addresses of every instruction the
// kernel rewrites into a bare return at boot.
func (img *Image) ReturnSites() ([]uint64, error) {
	return img.sites(returnSitesSection)
}

// RetpolineSites returns the virtual addresses of every call or jump
// routed through an indirect thunk.
func (img *Image) RetpolineSites() ([]uint64, error) {
	return img.sites(retpolineSitesSection)
}

func (img *Image) sites(name string) ([]uint64, error) {
	if img.ELF == nil {
		return nil, fmt.Errorf("%w: %s", ErrNoMetadata, name)
	}
	s := img.ELF.Section(name)
	if s == nil {
		return nil, fmt.Errorf("%w: %s", ErrNoMetadata, name)
	}
	data, err := s.Data()
	if err != nil {
		return nil, fmt.Errorf("elfx: section %s: %w", name, err)
	}

	order := img.ByteOrder()
	out := make([]uint64, 0, len(data)/4)
	for i := 0; i+4 <= len(data); i += 4 {
		rel := int32(order.Uint32(data[i:]))
		entry := s.Addr + uint64(i)
		out = append(out, entry+uint64(int64(rel)))
	}
	return out, nil
}
