package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"krop/internal/elfx"
	"krop/internal/gadget"
	"krop/internal/logging"
)

// magicSymbols are the kernel objects exploit payloads usually target:
// overwritable paths, credential structures, and the helpers that mint
// or install credentials.
var magicSymbols = []string{
	"modprobe_path",
	"core_pattern",
	"init_cred",
	"prepare_kernel_cred",
	"commit_creds",
	"find_task_by_vpid",
	"init_nsproxy",
	"switch_task_namespaces",
}

// cmdMagic prints #define lines for the magic symbols, offset from
// _text so the values survive a KASLR slide.
func cmdMagic(args []string) error {
	fs := flag.NewFlagSet("magic", flag.ExitOnError)
	mapPath := fs.String("map", "", "System.map or kallsyms overlay for symbols")
	if err := fs.Parse(args); err != nil {
		return err
	}
	path := fs.Arg(0)
	if path == "" {
		return fmt.Errorf("vmlinux path is required")
	}

	lg := logging.New()
	img, err := elfx.Open(path)
	if err != nil {
		return fmt.Errorf("open: %w", err)
	}
	syms, err := loadSymbols(img, *mapPath, lg)
	if err != nil {
		return err
	}
	printMagic(os.Stdout, syms)
	return nil
}

// printMagic writes one #define per magic symbol present in syms,
// skipping absent names.
func printMagic(w io.Writer, syms *gadget.Symbols) {
	base, _ := syms.Addr("_text")
	for _, name := range magicSymbols {
		addr, ok := syms.Addr(name)
		if !ok {
			continue
		}
		fmt.Fprintf(w, "#define %-24s %#x\n", strings.ToUpper(name), addr-base)
	}
}
