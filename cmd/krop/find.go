package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/charmbracelet/log"

	"krop/internal/elfx"
	"krop/internal/gadget"
	"krop/internal/kallsyms"
	"krop/internal/logging"
	"krop/internal/output"
)

// stringList collects a repeatable flag.
type stringList []string

func (s *stringList) String() string { return strings.Join(*s, ",") }

func (s *stringList) Set(v string) error {
	*s = append(*s, v)
	return nil
}

func cmdFind(args []string) error {
	fs := flag.NewFlagSet("find", flag.ExitOnError)
	maxInstr := fs.Int("max-instr", 6, "instruction budget per gadget")
	noisy := fs.Bool("noisy", false, "admit conditional branches, prefixed bodies, and near branches")
	norop := fs.Bool("norop", false, "drop return gadgets")
	nojop := fs.Bool("nojop", false, "drop indirect jump and call gadgets")
	nosys := fs.Bool("nosys", false, "drop syscall-exit gadgets")
	noThunkRets := fs.Bool("no-thunked-rets", false, "drop thunked-return gadgets")
	noThunkJumps := fs.Bool("no-thunked-jumps", false, "drop thunked-indirect-jump gadgets")
	noThunkCalls := fs.Bool("no-thunked-calls", false, "drop thunked-indirect-call gadgets")
	noThunkBranches := fs.Bool("no-thunked-branches", false, "drop thunked-indirect-branch gadgets")
	stackPivot := fs.Bool("stack-pivot", false, "keep only stack pivot gadgets")
	basePivot := fs.Bool("base-pivot", false, "keep only base pivot gadgets")
	trimNops := fs.Bool("trim-nops", true, "drop gadgets that open with a nop")
	patchRets := fs.Bool("patch-rets", true, "apply .return_sites rewrites")
	patchRetpolines := fs.Bool("patch-retpolines", true, "apply .retpoline_sites rewrites")
	nouniq := fs.Bool("nouniq", false, "report every occurrence instead of merging duplicates")
	sortText := fs.Bool("sort", false, "order by text instead of address")
	jsonOut := fs.Bool("json", false, "output as JSON")
	colour := fs.String("colour", "auto", "colour the listing: auto, true, false")
	raw := fs.String("raw", "auto", "input handling: auto, true (raw blob), false (strict ELF)")
	mapPath := fs.String("map", "", "System.map or kallsyms overlay for symbols")
	var regexes, notRegexes, ranges stringList
	fs.Var(&regexes, "regex", "keep gadgets matching the pattern (repeatable)")
	fs.Var(&notRegexes, "not-regex", "drop gadgets matching the pattern (repeatable)")
	fs.Var(&ranges, "range", "address window from-to in hex (repeatable)")

	if err := fs.Parse(args); err != nil {
		return err
	}
	path := fs.Arg(0)
	if path == "" {
		return fmt.Errorf("vmlinux path is required")
	}
	colourMode, err := parseColour(*colour)
	if err != nil {
		return err
	}

	cfg := gadget.Config{
		MaxInstr:                *maxInstr,
		Noisy:                   *noisy,
		NoRop:                   *norop,
		NoJop:                   *nojop,
		NoSys:                   *nosys,
		NoThunkedReturn:         *noThunkRets,
		NoThunkedIndirectJump:   *noThunkJumps,
		NoThunkedIndirectCall:   *noThunkCalls,
		NoThunkedIndirectBranch: *noThunkBranches,
		StackPivot:              *stackPivot,
		BasePivot:               *basePivot,
		TrimNops:                *trimNops,
		NoUniq:                  *nouniq,
		SortText:                *sortText,
	}
	for _, pat := range regexes {
		re, err := regexp.Compile(pat)
		if err != nil {
			return fmt.Errorf("regex %q: %w", pat, err)
		}
		cfg.Regex = append(cfg.Regex, re)
	}
	for _, pat := range notRegexes {
		re, err := regexp.Compile(pat)
		if err != nil {
			return fmt.Errorf("not-regex %q: %w", pat, err)
		}
		cfg.NotRegex = append(cfg.NotRegex, re)
	}
	for _, w := range ranges {
		rng, err := gadget.ParseRange(w)
		if err != nil {
			return err
		}
		cfg.Ranges = append(cfg.Ranges, rng)
	}

	lg := logging.New()

	img, mode, err := openImage(path, *raw, lg)
	if err != nil {
		return err
	}
	secs, err := img.Sections(mode)
	if err != nil {
		return fmt.Errorf("sections: %w", err)
	}
	scannable, err := elfx.ExecSections(secs)
	if err != nil {
		if !errors.Is(err, elfx.ErrNoExecutableCode) {
			return err
		}
		lg.Warn("nothing to scan", "err", err)
	}

	syms, err := loadSymbols(img, *mapPath, lg)
	if err != nil {
		return err
	}

	var retSites, retpolineSites []uint64
	if *patchRets {
		retSites, err = img.ReturnSites()
		if err != nil {
			if !errors.Is(err, elfx.ErrNoMetadata) {
				return err
			}
			lg.Warn("no return site table, returns stay thunked")
		}
	}
	if *patchRetpolines {
		retpolineSites, err = img.RetpolineSites()
		if err != nil {
			if !errors.Is(err, elfx.ErrNoMetadata) {
				return err
			}
			lg.Warn("no retpoline site table, indirect branches stay thunked")
		}
	}
	var arrayAddr uint64
	if len(retpolineSites) > 0 {
		if addr, ok := syms.Addr(gadget.ThunkArraySymbol); ok {
			arrayAddr = addr
		} else {
			lg.Warn("thunk array symbol missing, retpoline sites skipped")
		}
	}
	patcher := gadget.NewPatcher(secs, retSites, retpolineSites, arrayAddr, img.Bits)
	lg.Debug("patch sites resolved",
		"returns", patcher.NumReturnSites(),
		"retpolines", patcher.NumRetpolines())

	finder, err := gadget.NewFinder(cfg, img.Bits, syms, patcher)
	if err != nil {
		return err
	}
	start := time.Now()
	gs, err := finder.Find(context.Background(), scannable)
	if err != nil {
		return err
	}

	if *jsonOut {
		err = output.WriteJSON(os.Stdout, gs)
	} else {
		err = output.NewWriter(os.Stdout, colourMode).All(gs)
	}
	if err != nil {
		return err
	}

	lg.Infof("found %d gadgets in %s", len(gs), time.Since(start).Round(time.Millisecond))
	return nil
}

// openImage loads the scan input per the raw tristate: "true" scans the
// file as one code blob, "false" requires an ELF and scans its
// executable load segments, "auto" prefers the canonical section split
// and falls back to a raw scan.
func openImage(path, raw string, lg *log.Logger) (*elfx.Image, elfx.Mode, error) {
	switch raw {
	case "true":
		img, err := elfx.OpenRaw(path)
		if err != nil {
			return nil, 0, fmt.Errorf("open: %w", err)
		}
		return img, elfx.ModeRaw, nil
	case "false":
		img, err := elfx.Open(path)
		if err != nil {
			return nil, 0, fmt.Errorf("open: %w", err)
		}
		return img, elfx.ModeSegments, nil
	case "auto":
		img, err := elfx.Open(path)
		if errors.Is(err, elfx.ErrNotELF) {
			lg.Warn("not an ELF image, scanning raw bytes", "path", path)
			img, err = elfx.OpenRaw(path)
		}
		if err != nil {
			return nil, 0, fmt.Errorf("open: %w", err)
		}
		if img.ELF == nil {
			return img, elfx.ModeRaw, nil
		}
		return img, elfx.ModeText, nil
	}
	return nil, 0, fmt.Errorf("--raw: want auto, true, or false, got %q", raw)
}

// loadSymbols layers the optional map file over the image tables; map
// entries win on collision.
func loadSymbols(img *elfx.Image, mapPath string, lg *log.Logger) (*gadget.Symbols, error) {
	syms := gadget.NewSymbols()
	if mapPath != "" {
		entries, err := kallsyms.Load(mapPath)
		if err != nil {
			return nil, fmt.Errorf("symbol map: %w", err)
		}
		for _, s := range entries {
			syms.Add(s.Name, s.Addr)
		}
	}
	if elfSyms, err := img.Symbols(); err == nil {
		for _, s := range elfSyms {
			syms.Add(s.Name, s.Addr)
		}
	} else {
		lg.Debug("no image symbol table", "err", err)
	}
	return syms, nil
}

func parseColour(v string) (output.Colour, error) {
	switch v {
	case "auto":
		return output.ColourAuto, nil
	case "true", "always":
		return output.ColourAlways, nil
	case "false", "never":
		return output.ColourNever, nil
	}
	return 0, fmt.Errorf("--colour: want auto, true, or false, got %q", v)
}
