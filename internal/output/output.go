// Package output writes gadget listings as text or JSON.
package output

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"

	"krop/internal/gadget"
)

// Colour selects how listing lines are styled.
type Colour int

const (
	ColourAuto   Colour = iota // styled when the stream is a terminal
	ColourAlways               // styled regardless of the stream
	ColourNever
)

// Record is the JSON shape of one gadget.
type Record struct {
	Addresses    []string `json:"addresses" jsonschema:"title=Addresses,description=Every virtual address sharing this text in ascending order"`
	Length       int      `json:"length" jsonschema:"title=Length,description=Byte length of the gadget body"`
	Category     string   `json:"category" jsonschema:"title=Category,description=Terminator category"`
	Instructions []string `json:"instructions" jsonschema:"title=Instructions,description=Intel-syntax instructions in order"`
	Text         string   `json:"text" jsonschema:"title=Text,description=Rendered gadget body"`
}

// NewRecord converts one gadget to its JSON shape.
func NewRecord(g gadget.Gadget) Record {
	addrs := make([]string, len(g.Addrs))
	for i, a := range g.Addrs {
		addrs[i] = fmt.Sprintf("%#x", a)
	}
	return Record{
		Addresses:    addrs,
		Length:       g.Len,
		Category:     g.Category.String(),
		Instructions: strings.Split(g.Text, "; "),
		Text:         g.Text,
	}
}

// Writer prints one gadget per line: the canonical address, the body,
// and the category tag.
type Writer struct {
	w    io.Writer
	addr lipgloss.Style
	more lipgloss.Style
	cat  lipgloss.Style
}

// NewWriter builds a Writer over w. Styles are dropped entirely under
// ColourNever; ColourAuto lets the renderer probe the stream.
func NewWriter(w io.Writer, colour Colour) *Writer {
	out := &Writer{w: w}
	if colour == ColourNever {
		return out
	}
	var r *lipgloss.Renderer
	if colour == ColourAlways {
		r = lipgloss.NewRenderer(w, termenv.WithProfile(termenv.ANSI256))
	} else {
		r = lipgloss.NewRenderer(w)
	}
	out.addr = r.NewStyle().Foreground(lipgloss.Color("81")) // cyan
	out.more = r.NewStyle().Faint(true)
	out.cat = r.NewStyle().Foreground(lipgloss.Color("240")) // gray
	return out
}

// Gadget writes one listing line.
func (w *Writer) Gadget(g gadget.Gadget) error {
	line := w.addr.Render(fmt.Sprintf("%#010x", g.Addr()))
	if n := len(g.Addrs) - 1; n > 0 {
		line += " " + w.more.Render(fmt.Sprintf("(+%d more)", n))
	}
	line += ": " + g.Text + " " + w.cat.Render("["+g.Category.String()+"]")
	_, err := fmt.Fprintln(w.w, line)
	return err
}

// All writes every gadget in order.
func (w *Writer) All(gs []gadget.Gadget) error {
	for _, g := range gs {
		if err := w.Gadget(g); err != nil {
			return err
		}
	}
	return nil
}

// WriteJSON writes the whole listing as an indented JSON array.
func WriteJSON(w io.Writer, gs []gadget.Gadget) error {
	recs := make([]Record, len(gs))
	for i, g := range gs {
		recs[i] = NewRecord(g)
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(recs); err != nil {
		return fmt.Errorf("output: encode: %w", err)
	}
	return nil
}
