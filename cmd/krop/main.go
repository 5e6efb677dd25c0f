package main

import (
	"fmt"
	"os"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	var err error
	switch os.Args[1] {
	case "find":
		err = cmdFind(os.Args[2:])
	case "magic":
		err = cmdMagic(os.Args[2:])
	case "sections":
		err = cmdSections(os.Args[2:])
	case "sites":
		err = cmdSites(os.Args[2:])
	case "schema":
		err = cmdSchema(os.Args[2:])
	case "help", "-h", "--help":
		usage()
		os.Exit(0)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", os.Args[1])
		usage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, `krop — kernel ROP/JOP gadget finder

Usage:
  krop find     [flags] <vmlinux>    Scan for gadgets
  krop magic    [flags] <vmlinux>    Print #define offsets for exploitation symbols
  krop sections <vmlinux>            List code sections and segments
  krop sites    <vmlinux>            Dump .return_sites / .retpoline_sites tables

Find flags:
  --max-instr <n>        Instruction budget per gadget (default 6)
  --noisy                Admit conditional branches, prefixed bodies, near branches
  --norop                Drop return gadgets
  --nojop                Drop indirect jump and call gadgets
  --nosys                Drop syscall-exit gadgets
  --no-thunked-rets      Drop thunked-return gadgets
  --no-thunked-jumps     Drop thunked-indirect-jump gadgets
  --no-thunked-calls     Drop thunked-indirect-call gadgets
  --no-thunked-branches  Drop thunked-indirect-branch gadgets
  --stack-pivot          Keep only stack pivot gadgets
  --base-pivot           Keep only base pivot gadgets
  --trim-nops            Drop gadgets opening with a nop (default true)
  --patch-rets           Apply .return_sites rewrites (default true)
  --patch-retpolines     Apply .retpoline_sites rewrites (default true)
  --regex <re>           Keep gadgets matching the pattern (repeatable)
  --not-regex <re>       Drop gadgets matching the pattern (repeatable)
  --range <from-to>      Address window in hex (repeatable)
  --nouniq               Report every occurrence instead of merging duplicates
  --sort                 Order by text instead of address
  --json                 Output as JSON
  --colour <mode>        Colour the listing: auto, true, false
  --raw <mode>           Input handling: auto, true (raw blob), false (strict ELF)
  --map <path>           System.map or kallsyms overlay for symbols
`)
}
