// Package disasm provides x86 decoding and classification for gadget scanning.
package disasm

import (
	"strings"

	"golang.org/x/arch/x86/x86asm"
)

// Kind classifies a decoded instruction by its role in a gadget.
type Kind int

const (
	KindOther      Kind = iota
	KindRet             // near return, with or without an immediate
	KindJmpInd          // jmp through a register or non-rip memory operand
	KindCallInd         // call through a register or non-rip memory operand
	KindJmpDirect       // jmp to a relative or rip-relative target
	KindCallDirect      // call to a relative or rip-relative target
	KindCondBranch      // jcc, jcxz family, loop family
	KindSysEnter        // syscall, sysenter, int 0x80
	KindSysExit         // sysret, sysexit, iret family
	KindInterrupt       // int3, int n, into, icebp, ud1, ud2
	KindFar             // ljmp, lcall, lret
)

var kindNames = [...]string{
	KindOther:      "other",
	KindRet:        "ret",
	KindJmpInd:     "jmp-indirect",
	KindCallInd:    "call-indirect",
	KindJmpDirect:  "jmp-direct",
	KindCallDirect: "call-direct",
	KindCondBranch: "cond-branch",
	KindSysEnter:   "sys-enter",
	KindSysExit:    "sys-exit",
	KindInterrupt:  "interrupt",
	KindFar:        "far",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "unknown"
}

// Terminator reports whether an instruction of this kind ends a gadget.
func (k Kind) Terminator() bool {
	switch k {
	case KindRet, KindJmpInd, KindCallInd, KindJmpDirect, KindCallDirect,
		KindSysEnter, KindSysExit, KindInterrupt:
		return true
	}
	return false
}

// Inst is a decoded x86 instruction with address and raw bytes.
type Inst struct {
	Off   int         // byte offset within the scanned region
	Addr  uint64      // virtual address
	Len   int
	Raw   []byte      // encoding, aliased into the region
	Kind  Kind
	Synth string      // mnemonic for encodings the decoder does not know
	X     x86asm.Inst // zero when Synth is set
}

// Step decodes the instruction starting at off within code, a region
// whose first byte lives at virtual address base. Decoding happens in
// 32- or 64-bit mode per bits. Step reports false when the bytes do not
// form a valid instruction.
func Step(code []byte, off int, base uint64, bits int) (Inst, bool) {
	rest := code[off:]
	if m := endbr(rest); m != "" {
		return Inst{
			Off:   off,
			Addr:  base + uint64(off),
			Len:   4,
			Raw:   rest[:4],
			Kind:  KindOther,
			Synth: m,
		}, true
	}

	x, err := x86asm.Decode(rest, bits)
	if err != nil || x.Len == 0 {
		return Inst{}, false
	}
	return Inst{
		Off:  off,
		Addr: base + uint64(off),
		Len:  x.Len,
		Raw:  rest[:x.Len],
		Kind: classify(x),
		X:    x,
	}, true
}

// endbr recognizes the CET landing-pad encodings, which x86asm has no
// table entries for. Both forms decode in either mode, as on hardware.
func endbr(b []byte) string {
	if len(b) >= 4 && b[0] == 0xf3 && b[1] == 0x0f && b[2] == 0x1e {
		switch b[3] {
		case 0xfa:
			return "endbr64"
		case 0xfb:
			return "endbr32"
		}
	}
	return ""
}

func classify(x x86asm.Inst) Kind {
	switch x.Op {
	case x86asm.RET:
		return KindRet
	case x86asm.JMP:
		return branchKind(x.Args[0], KindJmpInd, KindJmpDirect)
	case x86asm.CALL:
		return branchKind(x.Args[0], KindCallInd, KindCallDirect)
	case x86asm.LJMP, x86asm.LCALL, x86asm.LRET:
		return KindFar
	case x86asm.SYSCALL, x86asm.SYSENTER:
		return KindSysEnter
	case x86asm.SYSRET, x86asm.SYSEXIT, x86asm.IRET, x86asm.IRETD, x86asm.IRETQ:
		return KindSysExit
	case x86asm.INT:
		if imm, ok := x.Args[0].(x86asm.Imm); ok && imm == 0x80 {
			return KindSysEnter
		}
		return KindInterrupt
	case x86asm.INTO, x86asm.ICEBP, x86asm.UD1, x86asm.UD2:
		return KindInterrupt
	case x86asm.JA, x86asm.JAE, x86asm.JB, x86asm.JBE, x86asm.JE,
		x86asm.JG, x86asm.JGE, x86asm.JL, x86asm.JLE, x86asm.JNE,
		x86asm.JNO, x86asm.JNP, x86asm.JNS, x86asm.JO, x86asm.JP,
		x86asm.JS, x86asm.JCXZ, x86asm.JECXZ, x86asm.JRCXZ,
		x86asm.LOOP, x86asm.LOOPE, x86asm.LOOPNE:
		return KindCondBranch
	}
	return KindOther
}

// branchKind splits a jmp or call by target form. A rip-relative memory
// operand names a fixed location, so it counts as direct alongside
// plain relative targets.
func branchKind(arg x86asm.Arg, ind, direct Kind) Kind {
	switch a := arg.(type) {
	case x86asm.Reg:
		return ind
	case x86asm.Mem:
		if a.Base == x86asm.RIP || a.Base == x86asm.EIP {
			return direct
		}
		return ind
	case x86asm.Rel:
		return direct
	}
	return KindOther
}

// HasHardPrefix reports whether the instruction carries an explicit
// lock or repeat prefix. Mandatory prefixes that select an opcode are
// marked implicit by the decoder and do not count.
func HasHardPrefix(in Inst) bool {
	if in.Synth != "" {
		return false
	}
	for _, p := range in.X.Prefix {
		if p == 0 {
			break
		}
		if p&x86asm.PrefixImplicit != 0 {
			continue
		}
		switch p &^ (x86asm.PrefixImplicit | x86asm.PrefixIgnored | x86asm.PrefixInvalid) {
		case x86asm.PrefixLOCK, x86asm.PrefixREP, x86asm.PrefixREPN:
			return true
		}
	}
	return false
}

// Target returns the resolved destination of a direct branch.
func Target(in Inst) (uint64, bool) {
	if in.Synth != "" {
		return 0, false
	}
	switch in.Kind {
	case KindJmpDirect, KindCallDirect, KindCondBranch:
	default:
		return 0, false
	}
	switch a := in.X.Args[0].(type) {
	case x86asm.Rel:
		return in.Addr + uint64(in.Len) + uint64(int64(a)), true
	case x86asm.Mem:
		if a.Base == x86asm.RIP || a.Base == x86asm.EIP {
			// Address of the slot, not its contents; good enough to
			// recognize thunk table entries.
			return in.Addr + uint64(in.Len) + uint64(a.Disp), true
		}
	}
	return 0, false
}

// Text renders one instruction in Intel syntax.
func (in Inst) Text(symname x86asm.SymLookup) string {
	if in.Synth != "" {
		return in.Synth
	}
	return x86asm.IntelSyntax(in.X, in.Addr, symname)
}

// Render joins a gadget body into a single line of Intel-syntax text.
func Render(insts []Inst, symname x86asm.SymLookup) string {
	parts := make([]string, len(insts))
	for i, in := range insts {
		parts[i] = in.Text(symname)
	}
	return strings.Join(parts, "; ")
}
