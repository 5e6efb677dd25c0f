package disasm

import (
	"testing"
)

func step64(t *testing.T, code []byte) Inst {
	t.Helper()
	in, ok := Step(code, 0, 0x1000, 64)
	if !ok {
		t.Fatalf("Step failed on % x", code)
	}
	return in
}

func TestStepRet(t *testing.T) {
	// c3 = ret
	in := step64(t, []byte{0xc3})
	if in.Kind != KindRet {
		t.Errorf("kind = %v, want ret", in.Kind)
	}
	if in.Len != 1 {
		t.Errorf("len = %d, want 1", in.Len)
	}
	if !in.Kind.Terminator() {
		t.Error("ret not a terminator")
	}
	if got := in.Text(nil); got != "ret" {
		t.Errorf("text = %q, want \"ret\"", got)
	}
}

func TestStepRetImm(t *testing.T) {
	// c2 10 00 = ret 0x10
	in := step64(t, []byte{0xc2, 0x10, 0x00})
	if in.Kind != KindRet {
		t.Errorf("kind = %v, want ret", in.Kind)
	}
	if in.Len != 3 {
		t.Errorf("len = %d, want 3", in.Len)
	}
	if got := in.Text(nil); got != "ret 0x10" {
		t.Errorf("text = %q, want \"ret 0x10\"", got)
	}
}

func TestStepIndirectBranches(t *testing.T) {
	cases := []struct {
		code []byte
		want Kind
	}{
		{[]byte{0xff, 0xe0}, KindJmpInd},       // jmp rax
		{[]byte{0xff, 0x20}, KindJmpInd},       // jmp [rax]
		{[]byte{0xff, 0x63, 0x08}, KindJmpInd}, // jmp [rbx+8]
		{[]byte{0xff, 0xd3}, KindCallInd},      // call rbx
		{[]byte{0xff, 0x13}, KindCallInd},      // call [rbx]
	}
	for _, c := range cases {
		in := step64(t, c.code)
		if in.Kind != c.want {
			t.Errorf("% x: kind = %v, want %v", c.code, in.Kind, c.want)
		}
		if !in.Kind.Terminator() {
			t.Errorf("% x: not a terminator", c.code)
		}
	}
}

func TestStepRIPRelativeBranchIsDirect(t *testing.T) {
	// ff 25 disp32 = jmp [rip+disp32]; the slot address is fixed, so
	// the branch does not count as attacker-controlled.
	in := step64(t, []byte{0xff, 0x25, 0x10, 0x00, 0x00, 0x00})
	if in.Kind != KindJmpDirect {
		t.Errorf("kind = %v, want jmp-direct", in.Kind)
	}
	tgt, ok := Target(in)
	if !ok {
		t.Fatal("no target for rip-relative jmp")
	}
	if want := uint64(0x1000 + 6 + 0x10); tgt != want {
		t.Errorf("target = %#x, want %#x", tgt, want)
	}
}

func TestStepDirectBranches(t *testing.T) {
	// e9 0b 00 00 00 at 0x1000 lands on 0x1010.
	in := step64(t, []byte{0xe9, 0x0b, 0x00, 0x00, 0x00})
	if in.Kind != KindJmpDirect {
		t.Errorf("kind = %v, want jmp-direct", in.Kind)
	}
	tgt, ok := Target(in)
	if !ok || tgt != 0x1010 {
		t.Errorf("target = %#x ok=%v, want 0x1010", tgt, ok)
	}

	// eb fe = jmp short -2 (self)
	in = step64(t, []byte{0xeb, 0xfe})
	if in.Kind != KindJmpDirect {
		t.Errorf("short jmp kind = %v, want jmp-direct", in.Kind)
	}
	if tgt, ok := Target(in); !ok || tgt != 0x1000 {
		t.Errorf("short jmp target = %#x ok=%v, want 0x1000", tgt, ok)
	}

	// e8 00 01 00 00 = call +0x100
	in = step64(t, []byte{0xe8, 0x00, 0x01, 0x00, 0x00})
	if in.Kind != KindCallDirect {
		t.Errorf("call kind = %v, want call-direct", in.Kind)
	}
	if tgt, ok := Target(in); !ok || tgt != 0x1105 {
		t.Errorf("call target = %#x ok=%v, want 0x1105", tgt, ok)
	}
}

func TestStepCondBranches(t *testing.T) {
	// je +5, je near +0x100, jrcxz +2, loop -2
	cases := [][]byte{
		{0x74, 0x05},
		{0x0f, 0x84, 0x00, 0x01, 0x00, 0x00},
		{0xe3, 0x02},
		{0xe2, 0xfe},
	}
	for _, code := range cases {
		in := step64(t, code)
		if in.Kind != KindCondBranch {
			t.Errorf("% x: kind = %v, want cond-branch", code, in.Kind)
		}
		if in.Kind.Terminator() {
			t.Errorf("% x: conditional branch must not terminate", code)
		}
	}
}

func TestStepSyscallForms(t *testing.T) {
	enter := [][]byte{
		{0x0f, 0x05}, // syscall
		{0x0f, 0x34}, // sysenter
		{0xcd, 0x80}, // int 0x80
	}
	for _, code := range enter {
		if in := step64(t, code); in.Kind != KindSysEnter {
			t.Errorf("% x: kind = %v, want sys-enter", code, in.Kind)
		}
	}

	exit := [][]byte{
		{0x0f, 0x07}, // sysret
		{0x0f, 0x35}, // sysexit
		{0xcf},       // iretd
		{0x48, 0xcf}, // iretq
	}
	for _, code := range exit {
		if in := step64(t, code); in.Kind != KindSysExit {
			t.Errorf("% x: kind = %v, want sys-exit", code, in.Kind)
		}
	}
}

func TestStepInterrupts(t *testing.T) {
	cases := [][]byte{
		{0xcc},             // int3
		{0xcd, 0x03},       // int 0x3
		{0xf1},             // icebp
		{0x0f, 0x0b},       // ud2
		{0x0f, 0xb9, 0xc0}, // ud1
	}
	for _, code := range cases {
		in := step64(t, code)
		if in.Kind != KindInterrupt {
			t.Errorf("% x: kind = %v, want interrupt", code, in.Kind)
		}
	}

	// int3 renders bare, int n with its vector.
	if got := step64(t, []byte{0xcc}).Text(nil); got != "int3" {
		t.Errorf("cc text = %q, want \"int3\"", got)
	}

	// ce = into, 32-bit only
	if in, ok := Step([]byte{0xce}, 0, 0x1000, 32); !ok || in.Kind != KindInterrupt {
		t.Errorf("into: kind = %v ok=%v, want interrupt", in.Kind, ok)
	}
	if _, ok := Step([]byte{0xce}, 0, 0x1000, 64); ok {
		t.Error("into decoded in 64-bit mode")
	}
}

func TestStepFarTransfers(t *testing.T) {
	cases := [][]byte{
		{0xcb},             // ret far
		{0xca, 0x08, 0x00}, // ret far 0x8
		{0xff, 0x6b, 0x10}, // jmp far [rbx+0x10]
		{0xff, 0x5b, 0x10}, // call far [rbx+0x10]
	}
	for _, code := range cases {
		in := step64(t, code)
		if in.Kind != KindFar {
			t.Errorf("% x: kind = %v, want far", code, in.Kind)
		}
	}
}

func TestStepEndbr(t *testing.T) {
	in := step64(t, []byte{0xf3, 0x0f, 0x1e, 0xfa})
	if in.Kind != KindOther || in.Len != 4 {
		t.Fatalf("endbr64: kind=%v len=%d", in.Kind, in.Len)
	}
	if got := in.Text(nil); got != "endbr64" {
		t.Errorf("text = %q, want \"endbr64\"", got)
	}
	if HasHardPrefix(in) {
		t.Error("endbr64 reported a hard prefix")
	}

	in = step64(t, []byte{0xf3, 0x0f, 0x1e, 0xfb})
	if got := in.Text(nil); got != "endbr32" {
		t.Errorf("text = %q, want \"endbr32\"", got)
	}
}

func TestStepDecodeFailure(t *testing.T) {
	if _, ok := Step([]byte{0x06}, 0, 0, 64); ok {
		t.Error("push es decoded in 64-bit mode")
	}
	if _, ok := Step([]byte{0xc2, 0x10}, 0, 0, 64); ok {
		t.Error("truncated ret imm16 decoded")
	}
	if in, ok := Step([]byte{0x06}, 0, 0, 32); !ok || in.Kind != KindOther {
		t.Errorf("push es in 32-bit mode: kind=%v ok=%v", in.Kind, ok)
	}
}

func TestHasHardPrefix(t *testing.T) {
	cases := []struct {
		code []byte
		want bool
	}{
		{[]byte{0xf0, 0x48, 0x01, 0x18}, true},  // lock add [rax], rbx
		{[]byte{0xf3, 0xa4}, true},              // rep movsb
		{[]byte{0xf2, 0xae}, true},              // repne scasb
		{[]byte{0x48, 0x01, 0x18}, false},       // add [rax], rbx
		{[]byte{0xf2, 0x0f, 0x58, 0xc1}, false}, // addsd xmm0, xmm1; f2 selects the opcode
		{[]byte{0x58}, false},                   // pop rax
	}
	for _, c := range cases {
		in := step64(t, c.code)
		if got := HasHardPrefix(in); got != c.want {
			t.Errorf("% x: HasHardPrefix = %v, want %v", c.code, got, c.want)
		}
	}
}

func TestTextSymbolAnnotation(t *testing.T) {
	// e9 06 00 00 00 at 0x1000 targets 0x100b.
	in := step64(t, []byte{0xe9, 0x06, 0x00, 0x00, 0x00})
	sym := func(addr uint64) (string, uint64) {
		if addr == 0x100b {
			return "__x86_return_thunk", 0x100b
		}
		return "", 0
	}
	if got := in.Text(sym); got != "jmp __x86_return_thunk" {
		t.Errorf("text = %q, want \"jmp __x86_return_thunk\"", got)
	}
	if got := in.Text(nil); got != "jmp 0x100b" {
		t.Errorf("text = %q, want \"jmp 0x100b\"", got)
	}
}

func TestRender(t *testing.T) {
	code := []byte{0x5f, 0xc3} // pop rdi; ret
	first := step64(t, code)
	second, ok := Step(code, 1, 0x1000, 64)
	if !ok {
		t.Fatal("ret did not decode")
	}
	got := Render([]Inst{first, second}, nil)
	if got != "pop rdi; ret" {
		t.Errorf("render = %q, want \"pop rdi; ret\"", got)
	}
}

func TestKindString(t *testing.T) {
	if KindRet.String() != "ret" || KindFar.String() != "far" || KindOther.String() != "other" {
		t.Error("kind names wrong")
	}
	if Kind(99).String() != "unknown" {
		t.Error("out-of-range kind name wrong")
	}
}
