// Package gadget implements discovery, classification, and filtering of
// code-reuse gadgets in kernel images.
package gadget

import (
	"strings"

	"krop/internal/disasm"
)

// Category labels the control transfer that ends a gadget.
type Category int

const (
	CategoryNone Category = iota
	Return
	IndirectJump
	IndirectCall
	Syscall
	ThunkedReturn
	ThunkedIndirectJump
	ThunkedIndirectCall
	ThunkedIndirectBranch
)

var categoryNames = [...]string{
	CategoryNone:          "none",
	Return:                "return",
	IndirectJump:          "indirect-jump",
	IndirectCall:          "indirect-call",
	Syscall:               "syscall",
	ThunkedReturn:         "thunked-return",
	ThunkedIndirectJump:   "thunked-indirect-jump",
	ThunkedIndirectCall:   "thunked-indirect-call",
	ThunkedIndirectBranch: "thunked-indirect-branch",
}

func (c Category) String() string {
	if int(c) < len(categoryNames) {
		return categoryNames[c]
	}
	return "unknown"
}

// Thunk symbol shapes emitted by the kernel build. The trailing r in
// the prefixes keeps __x86_indirect_thunk_array from matching.
const (
	returnThunkSymbol = "__x86_return_thunk"
	indirectThunkStem = "__x86_indirect_thunk_r"
	indirectJumpStem  = "__x86_indirect_jump_thunk_r"
	indirectCallStem  = "__x86_indirect_call_thunk_r"

	// ThunkArraySymbol names the block of per-register retpoline stubs,
	// 32 bytes apart in register order.
	ThunkArraySymbol = "__x86_indirect_thunk_array"
)

// ThunkCategory classifies a branch by its target symbol name. Longer
// prefixes are tried first so the jump and call variants do not fall
// into the plain indirect bucket.
func ThunkCategory(name string) (Category, bool) {
	switch {
	case strings.HasPrefix(name, indirectJumpStem):
		return ThunkedIndirectJump, true
	case strings.HasPrefix(name, indirectCallStem):
		return ThunkedIndirectCall, true
	case strings.HasPrefix(name, indirectThunkStem):
		return ThunkedIndirectBranch, true
	case name == returnThunkSymbol:
		return ThunkedReturn, true
	}
	return CategoryNone, false
}

// Gadget is one discovered gadget, rendered and classified.
type Gadget struct {
	Addrs    []uint64 // every address sharing this text, ascending
	Len      int      // body length in bytes
	Insts    []disasm.Inst
	Category Category
	Text     string
}

// Addr returns the canonical (lowest) address.
func (g Gadget) Addr() uint64 { return g.Addrs[0] }

// Symbols maps between kernel symbol names and addresses. The first
// entry added for a name or address wins, so callers layer sources by
// loading the most authoritative one first.
type Symbols struct {
	byName map[string]uint64
	byAddr map[uint64]string
}

func NewSymbols() *Symbols {
	return &Symbols{
		byName: make(map[string]uint64),
		byAddr: make(map[uint64]string),
	}
}

func (s *Symbols) Add(name string, addr uint64) {
	if _, ok := s.byName[name]; !ok {
		s.byName[name] = addr
	}
	if _, ok := s.byAddr[addr]; !ok {
		s.byAddr[addr] = name
	}
}

func (s *Symbols) Addr(name string) (uint64, bool) {
	addr, ok := s.byName[name]
	return addr, ok
}

func (s *Symbols) Name(addr uint64) (string, bool) {
	name, ok := s.byAddr[addr]
	return name, ok
}

func (s *Symbols) Len() int { return len(s.byName) }
