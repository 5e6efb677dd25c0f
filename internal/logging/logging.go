// Package logging builds the process logger from environment variables.
package logging

import (
	"io"
	"os"

	"github.com/charmbracelet/log"
)

// New returns a logger writing to stderr.
// KROP_LOG_LEVEL selects debug, info, warn, or error (default info).
// KROP_LOG_PREFIX overrides the message prefix (default "krop").
func New() *log.Logger {
	return NewWithWriter(os.Stderr)
}

// NewWithWriter returns a logger writing to w, configured from the
// same environment variables as New.
func NewWithWriter(w io.Writer) *log.Logger {
	lg := log.NewWithOptions(w, log.Options{
		ReportTimestamp: false,
	})

	switch os.Getenv("KROP_LOG_LEVEL") {
	case "debug":
		lg.SetLevel(log.DebugLevel)
	case "warn":
		lg.SetLevel(log.WarnLevel)
	case "error":
		lg.SetLevel(log.ErrorLevel)
	default:
		lg.SetLevel(log.InfoLevel)
	}

	prefix := os.Getenv("KROP_LOG_PREFIX")
	if prefix == "" {
		prefix = "krop"
	}
	lg.SetPrefix(prefix)

	return lg
}
