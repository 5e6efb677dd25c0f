package gadget

import "testing"

func TestThunkCategory(t *testing.T) {
	cases := []struct {
		name string
		want Category
		ok   bool
	}{
		{"__x86_return_thunk", ThunkedReturn, true},
		{"__x86_indirect_thunk_rax", ThunkedIndirectBranch, true},
		{"__x86_indirect_thunk_r15", ThunkedIndirectBranch, true},
		{"__x86_indirect_jump_thunk_rbx", ThunkedIndirectJump, true},
		{"__x86_indirect_call_thunk_r11", ThunkedIndirectCall, true},
		{"__x86_indirect_thunk_array", CategoryNone, false},
		{"__x86_return_thunk_extra", CategoryNone, false},
		{"__x86_indirect_thunk_eax", CategoryNone, false},
		{"commit_creds", CategoryNone, false},
		{"", CategoryNone, false},
	}
	for _, c := range cases {
		got, ok := ThunkCategory(c.name)
		if got != c.want || ok != c.ok {
			t.Errorf("ThunkCategory(%q) = %v, %v; want %v, %v", c.name, got, ok, c.want, c.ok)
		}
	}
}

func TestCategoryString(t *testing.T) {
	if Return.String() != "return" {
		t.Errorf("Return = %q", Return.String())
	}
	if ThunkedIndirectBranch.String() != "thunked-indirect-branch" {
		t.Errorf("ThunkedIndirectBranch = %q", ThunkedIndirectBranch.String())
	}
	if Category(42).String() != "unknown" {
		t.Errorf("out of range = %q", Category(42).String())
	}
}

func TestSymbolsFirstWins(t *testing.T) {
	s := NewSymbols()
	s.Add("_text", 0x1000)
	s.Add("_text", 0x9999)
	s.Add("alias", 0x1000)

	if addr, _ := s.Addr("_text"); addr != 0x1000 {
		t.Errorf("Addr(_text) = %#x, want 0x1000", addr)
	}
	if name, _ := s.Name(0x1000); name != "_text" {
		t.Errorf("Name(0x1000) = %q, want _text", name)
	}
	if _, ok := s.Addr("missing"); ok {
		t.Error("missing symbol reported present")
	}
	if s.Len() != 2 {
		t.Errorf("Len = %d, want 2", s.Len())
	}
}
