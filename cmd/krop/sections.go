package main

import (
	"flag"
	"fmt"

	"krop/internal/elfx"
)

// cmdSections lists the file-executable sections and load segments with
// the runtime-executable determination the scanner applies to each.
func cmdSections(args []string) error {
	fs := flag.NewFlagSet("sections", flag.ExitOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}
	path := fs.Arg(0)
	if path == "" {
		return fmt.Errorf("vmlinux path is required")
	}

	img, err := elfx.Open(path)
	if err != nil {
		return fmt.Errorf("open: %w", err)
	}

	secs, err := img.Sections(elfx.ModeText)
	if err != nil {
		return fmt.Errorf("sections: %w", err)
	}
	fmt.Println("Executable sections:")
	for _, s := range secs {
		state := "excluded"
		if s.Exec {
			state = "runtime"
		}
		fmt.Printf("  %-20s %#018x %8d %s\n", s.Name, s.Addr, len(s.Data), state)
	}

	segs, err := img.Sections(elfx.ModeSegments)
	if err != nil {
		return fmt.Errorf("segments: %w", err)
	}
	fmt.Println("\nExecutable segments:")
	for _, s := range segs {
		fmt.Printf("  %-20s %#018x %8d\n", s.Name, s.Addr, len(s.Data))
	}
	return nil
}
