package gadget

import (
	"krop/internal/disasm"
	"krop/internal/elfx"
)

// Patcher rewrites gadget bodies the way the kernel rewrites its own
// text at boot: annotated thunk branches become plain returns or bare
// indirect branches. Rewrites happen on private copies; the scanned
// image is never modified.
type Patcher struct {
	bits       int
	retSites   map[uint64]bool
	retpolines map[uint64]byte // site address to register index
}

// NewPatcher resolves annotation sites against the scannable sections.
// retSites lists virtual addresses rewritten to plain returns.
// retpolineSites lists branch sites routed through the thunk array at
// arrayAddr; each site's register index comes from its original branch
// target. Sites outside the executable sections are dropped.
func NewPatcher(secs []elfx.Section, retSites, retpolineSites []uint64, arrayAddr uint64, bits int) *Patcher {
	p := &Patcher{
		bits:       bits,
		retSites:   make(map[uint64]bool, len(retSites)),
		retpolines: make(map[uint64]byte, len(retpolineSites)),
	}
	for _, site := range retSites {
		if _, _, ok := locate(secs, site); ok {
			p.retSites[site] = true
		}
	}
	if arrayAddr != 0 {
		for _, site := range retpolineSites {
			sec, off, ok := locate(secs, site)
			if !ok {
				continue
			}
			in, ok := disasm.Step(sec.Data, off, sec.Addr, bits)
			if !ok {
				continue
			}
			tgt, ok := disasm.Target(in)
			if !ok {
				continue
			}
			if tgt < arrayAddr || tgt >= arrayAddr+16*32 || (tgt-arrayAddr)%32 != 0 {
				continue
			}
			p.retpolines[site] = byte((tgt - arrayAddr) / 32)
		}
	}
	return p
}

// NumReturnSites reports how many return sites resolved into sections.
func (p *Patcher) NumReturnSites() int { return len(p.retSites) }

// NumRetpolines reports how many retpoline sites resolved.
func (p *Patcher) NumRetpolines() int { return len(p.retpolines) }

// Rewrite applies the boot-time rewrite to a gadget whose terminator
// sits on an annotated site. The result re-decodes the patched bytes;
// total byte length and addresses are preserved. ok is false when the
// gadget is untouched.
func (p *Patcher) Rewrite(sec elfx.Section, insts []disasm.Inst) ([]disasm.Inst, bool) {
	if p == nil || len(insts) == 0 {
		return insts, false
	}
	term := insts[len(insts)-1]

	var repl []byte
	if p.retSites[term.Addr] {
		repl = retBytes(term.Len)
	} else {
		reg, ok := p.retpolines[term.Addr]
		if !ok {
			return insts, false
		}
		repl = retpolineBytes(term, reg)
		if repl == nil {
			return insts, false
		}
	}

	start := insts[0].Off
	end := term.Off + term.Len
	span := make([]byte, end-start)
	copy(span, sec.Data[start:end])
	copy(span[term.Off-start:], repl)

	out := make([]disasm.Inst, 0, len(insts))
	for pos := 0; pos < len(span); {
		in, ok := disasm.Step(span, pos, insts[0].Addr, p.bits)
		if !ok {
			return insts, false
		}
		out = append(out, in)
		pos += in.Len
	}
	return out, true
}

func locate(secs []elfx.Section, addr uint64) (elfx.Section, int, bool) {
	for _, s := range secs {
		if !s.Exec {
			continue
		}
		if addr >= s.Addr && addr < s.Addr+uint64(len(s.Data)) {
			return s, int(addr - s.Addr), true
		}
	}
	return elfx.Section{}, 0, false
}

// retBytes is a return followed by trap padding, preserving the length
// of the instruction it replaces.
func retBytes(n int) []byte {
	b := make([]byte, n)
	b[0] = 0xc3
	for i := 1; i < n; i++ {
		b[i] = 0xcc
	}
	return b
}

// retpolineBytes rebuilds the bare indirect branch a retpoline site
// stands for: ff /2 for calls, ff /4 for jumps, REX.B for r8-r15,
// trap padding out to the original length.
func retpolineBytes(term disasm.Inst, reg byte) []byte {
	var modrm byte
	switch term.Kind {
	case disasm.KindCallDirect, disasm.KindCallInd:
		modrm = 0xd0
	case disasm.KindJmpDirect, disasm.KindJmpInd:
		modrm = 0xe0
	default:
		return nil
	}
	enc := make([]byte, 0, 3)
	if reg >= 8 {
		enc = append(enc, 0x41)
		reg -= 8
	}
	enc = append(enc, 0xff, modrm|reg)
	if len(enc) > term.Len {
		return nil
	}
	out := make([]byte, term.Len)
	copy(out, enc)
	for i := len(enc); i < term.Len; i++ {
		out[i] = 0xcc
	}
	return out
}
