package main

import (
	"strings"
	"testing"

	"krop/internal/gadget"
)

func TestPrintMagic(t *testing.T) {
	syms := gadget.NewSymbols()
	syms.Add("_text", 0xffffffff81000000)
	syms.Add("modprobe_path", 0xffffffff811cafe0)
	syms.Add("init_cred", 0xffffffff811e7260)
	syms.Add("commit_creds", 0xffffffff810c92b0)
	syms.Add("do_sys_open", 0xffffffff812a0000)

	var b strings.Builder
	printMagic(&b, syms)

	// Offsets are _text-relative, names uppercased and padded to one
	// column; symbols outside the magic list never print.
	want := "#define MODPROBE_PATH            0x1cafe0\n" +
		"#define INIT_CRED                0x1e7260\n" +
		"#define COMMIT_CREDS             0xc92b0\n"
	if b.String() != want {
		t.Errorf("got:\n%swant:\n%s", b.String(), want)
	}
}

func TestPrintMagicNoBase(t *testing.T) {
	syms := gadget.NewSymbols()
	syms.Add("core_pattern", 0x1e9020)

	var b strings.Builder
	printMagic(&b, syms)

	want := "#define CORE_PATTERN             0x1e9020\n"
	if b.String() != want {
		t.Errorf("got %q, want %q", b.String(), want)
	}
}
