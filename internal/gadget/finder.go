package gadget

import (
	"context"
	"fmt"
	"regexp"
	"runtime"
	"sort"
	"strconv"
	"strings"

	"golang.org/x/arch/x86/x86asm"
	"golang.org/x/sync/errgroup"

	"krop/internal/disasm"
	"krop/internal/elfx"
)

// Config controls discovery and filtering.
type Config struct {
	MaxInstr int  // instruction budget per gadget, must be positive
	Noisy    bool // admit conditional branches, prefixes, and near branches

	NoRop bool // drop return gadgets
	NoJop bool // drop branch and call gadgets
	NoSys bool // drop syscall-exit gadgets

	NoThunkedReturn         bool
	NoThunkedIndirectJump   bool
	NoThunkedIndirectCall   bool
	NoThunkedIndirectBranch bool

	StackPivot bool // keep only stack pivots
	BasePivot  bool // keep only base pivots
	TrimNops   bool // drop gadgets that open with a nop

	Regex    []*regexp.Regexp // every pattern must match the rendered text
	NotRegex []*regexp.Regexp // no pattern may match
	Ranges   []Range          // address windows, any may admit

	NoUniq   bool // keep duplicate texts as separate results
	SortText bool // order output by text instead of address
	Workers  int  // scan goroutines, defaults to GOMAXPROCS
}

// Range is an inclusive virtual address window.
type Range struct {
	From, To uint64
}

// ParseRange reads a window like "0x1234-0x4567". Both bounds are hex,
// with or without the 0x prefix.
func ParseRange(s string) (Range, error) {
	from, to, ok := strings.Cut(s, "-")
	if !ok {
		return Range{}, fmt.Errorf("range %q: want from-to", s)
	}
	lo, err := parseHex(from)
	if err != nil {
		return Range{}, fmt.Errorf("range %q: %w", s, err)
	}
	hi, err := parseHex(to)
	if err != nil {
		return Range{}, fmt.Errorf("range %q: %w", s, err)
	}
	if lo > hi {
		return Range{}, fmt.Errorf("range %q: from exceeds to", s)
	}
	return Range{From: lo, To: hi}, nil
}

func parseHex(s string) (uint64, error) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "0x")
	return strconv.ParseUint(s, 16, 64)
}

func (r Range) contains(addr uint64) bool { return r.From <= addr && addr <= r.To }

// Finder scans executable regions for gadgets.
type Finder struct {
	cfg     Config
	bits    int
	syms    *Symbols
	patcher *Patcher
	symname x86asm.SymLookup
}

// NewFinder builds a Finder. syms and patcher may be nil, as for raw
// code blobs.
func NewFinder(cfg Config, bits int, syms *Symbols, patcher *Patcher) (*Finder, error) {
	if cfg.MaxInstr <= 0 {
		return nil, fmt.Errorf("gadget: instruction budget must be positive, got %d", cfg.MaxInstr)
	}
	return &Finder{
		cfg:     cfg,
		bits:    bits,
		syms:    syms,
		patcher: patcher,
		symname: thunkSymname(syms),
	}, nil
}

// thunkSymname annotates thunk symbols only, keeping ordinary branch
// targets numeric.
func thunkSymname(syms *Symbols) x86asm.SymLookup {
	if syms == nil {
		return nil
	}
	return func(addr uint64) (string, uint64) {
		name, ok := syms.Name(addr)
		if !ok {
			return "", 0
		}
		if _, ok := ThunkCategory(name); !ok {
			return "", 0
		}
		return name, addr
	}
}

// Find scans every executable section and returns the filtered,
// deduplicated, ordered gadgets.
func (f *Finder) Find(ctx context.Context, secs []elfx.Section) ([]Gadget, error) {
	var all []Gadget
	for _, sec := range secs {
		if !sec.Exec || len(sec.Data) == 0 {
			continue
		}
		found, err := f.scan(ctx, sec)
		if err != nil {
			return nil, err
		}
		all = append(all, found...)
	}
	return f.order(all), nil
}

// scan walks every byte offset of one section as a gadget start.
// Offsets are split into contiguous chunks, one worker per chunk, each
// with a private result list merged after the group settles.
func (f *Finder) scan(ctx context.Context, sec elfx.Section) ([]Gadget, error) {
	n := len(sec.Data)
	workers := f.cfg.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	if workers > n {
		workers = n
	}
	chunk := (n + workers - 1) / workers

	parts := make([][]Gadget, workers)
	g, ctx := errgroup.WithContext(ctx)
	for w := 0; w < workers; w++ {
		lo := w * chunk
		hi := min(lo+chunk, n)
		part := &parts[w]
		g.Go(func() error {
			var local []Gadget
			for off := lo; off < hi; off++ {
				if off&0xfff == 0 && ctx.Err() != nil {
					return ctx.Err()
				}
				if gd, ok := f.gadgetAt(sec, off); ok {
					local = append(local, gd)
				}
			}
			*part = local
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var out []Gadget
	for _, p := range parts {
		out = append(out, p...)
	}
	return out, nil
}

// gadgetAt decodes forward from one start offset. Each offset yields at
// most one gadget: the walk ends at the first terminator, and gives up
// on a decode failure, an inadmissible body instruction, or an
// exhausted budget.
func (f *Finder) gadgetAt(sec elfx.Section, off int) (Gadget, bool) {
	insts := make([]disasm.Inst, 0, f.cfg.MaxInstr)
	pos := off
	for len(insts) < f.cfg.MaxInstr {
		in, ok := disasm.Step(sec.Data, pos, sec.Addr, f.bits)
		if !ok {
			return Gadget{}, false
		}
		insts = append(insts, in)
		if in.Kind.Terminator() {
			return f.assemble(sec, insts)
		}
		if !f.admissibleBody(in) {
			return Gadget{}, false
		}
		pos += in.Len
	}
	return Gadget{}, false
}

func (f *Finder) admissibleBody(in disasm.Inst) bool {
	switch in.Kind {
	case disasm.KindOther:
		return f.cfg.Noisy || !disasm.HasHardPrefix(in)
	case disasm.KindCondBranch:
		return f.cfg.Noisy
	}
	return false
}

// assemble classifies a terminated instruction run and pushes it
// through the filter pipeline: category and range checks on the
// original bytes, then the boot-time patch, then the text, pivot, and
// nop checks against the patched form.
func (f *Finder) assemble(sec elfx.Section, insts []disasm.Inst) (Gadget, bool) {
	cat, ok := f.classify(insts[len(insts)-1])
	if !ok || !f.admit(cat) {
		return Gadget{}, false
	}
	addr := insts[0].Addr
	if len(f.cfg.Ranges) > 0 {
		hit := false
		for _, r := range f.cfg.Ranges {
			if r.contains(addr) {
				hit = true
				break
			}
		}
		if !hit {
			return Gadget{}, false
		}
	}

	if patched, ok := f.patcher.Rewrite(sec, insts); ok {
		insts = patched
	}

	text := disasm.Render(insts, f.symname)
	for _, re := range f.cfg.Regex {
		if !re.MatchString(text) {
			return Gadget{}, false
		}
	}
	for _, re := range f.cfg.NotRegex {
		if re.MatchString(text) {
			return Gadget{}, false
		}
	}
	if f.cfg.StackPivot && !isStackPivot(insts, cat) {
		return Gadget{}, false
	}
	if f.cfg.BasePivot && !isBasePivot(insts) {
		return Gadget{}, false
	}
	if f.cfg.TrimNops && isNop(insts[0]) {
		return Gadget{}, false
	}

	last := insts[len(insts)-1]
	return Gadget{
		Addrs:    []uint64{addr},
		Len:      last.Off + last.Len - insts[0].Off,
		Insts:    insts,
		Category: cat,
		Text:     text,
	}, true
}

// classify maps a terminator to its category. Interrupts and syscall
// entries never classify in a kernel image.
func (f *Finder) classify(term disasm.Inst) (Category, bool) {
	switch term.Kind {
	case disasm.KindRet:
		return Return, true
	case disasm.KindJmpInd:
		return IndirectJump, true
	case disasm.KindCallInd:
		return IndirectCall, true
	case disasm.KindSysExit:
		return Syscall, true
	case disasm.KindJmpDirect:
		if cat, ok := f.thunkTarget(term); ok {
			return cat, true
		}
		if f.cfg.Noisy {
			return IndirectJump, true
		}
	case disasm.KindCallDirect:
		if cat, ok := f.thunkTarget(term); ok {
			return cat, true
		}
		if f.cfg.Noisy {
			return IndirectCall, true
		}
	}
	return CategoryNone, false
}

func (f *Finder) thunkTarget(term disasm.Inst) (Category, bool) {
	if f.syms == nil {
		return CategoryNone, false
	}
	tgt, ok := disasm.Target(term)
	if !ok {
		return CategoryNone, false
	}
	name, ok := f.syms.Name(tgt)
	if !ok {
		return CategoryNone, false
	}
	return ThunkCategory(name)
}

func (f *Finder) admit(c Category) bool {
	switch c {
	case Return:
		return !f.cfg.NoRop
	case ThunkedReturn:
		return !f.cfg.NoRop && !f.cfg.NoThunkedReturn
	case IndirectJump, IndirectCall:
		return !f.cfg.NoJop
	case ThunkedIndirectJump:
		return !f.cfg.NoJop && !f.cfg.NoThunkedIndirectJump
	case ThunkedIndirectCall:
		return !f.cfg.NoJop && !f.cfg.NoThunkedIndirectCall
	case ThunkedIndirectBranch:
		return !f.cfg.NoJop && !f.cfg.NoThunkedIndirectBranch
	case Syscall:
		return !f.cfg.NoSys
	}
	return false
}

// order merges duplicate texts and fixes the output order.
func (f *Finder) order(gs []Gadget) []Gadget {
	if !f.cfg.NoUniq {
		gs = dedupe(gs)
	}
	if f.cfg.SortText {
		sort.SliceStable(gs, func(i, j int) bool {
			if gs[i].Text != gs[j].Text {
				return gs[i].Text < gs[j].Text
			}
			return gs[i].Addr() < gs[j].Addr()
		})
	} else {
		sort.Slice(gs, func(i, j int) bool { return gs[i].Addr() < gs[j].Addr() })
	}
	return gs
}

// dedupe collapses gadgets with identical text into one record listing
// every address, lowest first.
func dedupe(gs []Gadget) []Gadget {
	index := make(map[string]int, len(gs))
	out := make([]Gadget, 0, len(gs))
	for _, g := range gs {
		if i, ok := index[g.Text]; ok {
			out[i].Addrs = append(out[i].Addrs, g.Addrs...)
			continue
		}
		index[g.Text] = len(out)
		out = append(out, g)
	}
	for i := range out {
		addrs := out[i].Addrs
		sort.Slice(addrs, func(a, b int) bool { return addrs[a] < addrs[b] })
	}
	return out
}
