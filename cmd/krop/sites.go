package main

import (
	"errors"
	"flag"
	"fmt"

	"krop/internal/elfx"
)

// cmdSites dumps the annotation tables the patch pass consumes.
func cmdSites(args []string) error {
	fs := flag.NewFlagSet("sites", flag.ExitOnError)
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

	printTable := func(label string, sites []uint64, err error) error {
		if errors.Is(err, elfx.ErrNoMetadata) {
			fmt.Printf("%s: absent\n", label)
			return nil
		}
		if err != nil {
			return fmt.Errorf("%s: %w", label, err)
		}
		fmt.Printf("%s: %d\n", label, len(sites))
		for _, addr := range sites {
			fmt.Printf("  %#x\n", addr)
		}
		return nil
	}

	rets, err := img.ReturnSites()
	if err := printTable(".return_sites", rets, err); err != nil {
		return err
	}
	retpolines, err := img.RetpolineSites()
	return printTable(".retpoline_sites", retpolines, err)
}
