// Package kallsyms parses kernel symbol listings, as produced by
// /proc/kallsyms or nm.
package kallsyms

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// Sym is one symbol line.
type Sym struct {
	Addr uint64
	Type byte // nm-style type letter
	Name string
}

// Load reads a symbol listing from path.
func Load(path string) ([]Sym, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("kallsyms: open: %w", err)
	}
	defer f.Close()
	syms, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("kallsyms: %s: %w", path, err)
	}
	return syms, nil
}

// Parse reads lines of the form "ffffffff81000000 T _text". A trailing
// module column like "[video]" is ignored. Blank lines are skipped.
func Parse(r io.Reader) ([]Sym, error) {
	var out []Sym
	sc := bufio.NewScanner(r)
	lineno := 0
	for sc.Scan() {
		lineno++
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 3 {
			return nil, fmt.Errorf("line %d: %q has fewer than 3 fields", lineno, line)
		}
		addr, err := strconv.ParseUint(fields[0], 16, 64)
		if err != nil {
			return nil, fmt.Errorf("line %d: bad address %q", lineno, fields[0])
		}
		if len(fields[1]) != 1 {
			return nil, fmt.Errorf("line %d: bad type %q", lineno, fields[1])
		}
		out = append(out, Sym{Addr: addr, Type: fields[1][0], Name: fields[2]})
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
