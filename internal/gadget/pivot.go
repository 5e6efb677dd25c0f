package gadget

import (
	"golang.org/x/arch/x86/x86asm"

	"krop/internal/disasm"
)

var (
	stackRegs = [3]x86asm.Reg{x86asm.RSP, x86asm.ESP, x86asm.SP}
	baseRegs  = [3]x86asm.Reg{x86asm.RBP, x86asm.EBP, x86asm.BP}
)

// isStackPivot reports whether the gadget opens by writing the stack
// pointer and closes through a return-family terminator.
func isStackPivot(insts []disasm.Inst, cat Category) bool {
	if cat != Return && cat != ThunkedReturn {
		return false
	}
	return pivotHead(insts[0], stackRegs, x86asm.LEAVE)
}

// isBasePivot reports whether the gadget opens by writing the frame
// pointer. No terminator constraint applies.
func isBasePivot(insts []disasm.Inst) bool {
	return pivotHead(insts[0], baseRegs, x86asm.ENTER)
}

func pivotHead(in disasm.Inst, regs [3]x86asm.Reg, opener x86asm.Op) bool {
	if in.Synth != "" {
		return false
	}
	x := in.X
	if x.Op == opener {
		return true
	}
	a0, a1 := x.Args[0], x.Args[1]
	switch x.Op {
	case x86asm.ADC, x86asm.ADD, x86asm.SBB, x86asm.SUB,
		x86asm.CMOVA, x86asm.CMOVAE, x86asm.CMOVB, x86asm.CMOVBE,
		x86asm.CMOVE, x86asm.CMOVG, x86asm.CMOVGE, x86asm.CMOVL,
		x86asm.CMOVLE, x86asm.CMOVNE, x86asm.CMOVNO, x86asm.CMOVNP,
		x86asm.CMOVNS, x86asm.CMOVO, x86asm.CMOVP, x86asm.CMOVS,
		x86asm.CMPXCHG, x86asm.CMPXCHG8B, x86asm.CMPXCHG16B,
		x86asm.POP, x86asm.POPA, x86asm.POPAD:
		if !regIn(a0, regs) {
			return false
		}
		if a1 == nil {
			return true // pop
		}
		switch a1.(type) {
		case x86asm.Reg, x86asm.Imm:
			return true
		}
		return false
	case x86asm.MOV, x86asm.MOVBE, x86asm.MOVD:
		if !regIn(a0, regs) {
			return false
		}
		if _, ok := a1.(x86asm.Reg); ok {
			return true
		}
		m, ok := a1.(x86asm.Mem)
		return ok && m.Base != 0
	case x86asm.XADD, x86asm.XCHG:
		return regIn(a0, regs) || regIn(a1, regs)
	}
	return false
}

func regIn(a x86asm.Arg, regs [3]x86asm.Reg) bool {
	r, ok := a.(x86asm.Reg)
	if !ok {
		return false
	}
	return r == regs[0] || r == regs[1] || r == regs[2]
}

// isNop matches the whole nop family, one byte through the multi-byte
// 0f 1f forms.
func isNop(in disasm.Inst) bool {
	return in.Synth == "" && in.X.Op == x86asm.NOP
}
