package report

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/reconflow/reconflow/internal/model"
)

// SimpleWriter outputs human-readable text results for terminal display.
//
// Plain text with ASCII formatting rather than ANSI colors: it works in
// all terminals and pipes cleanly to files and other tools.
type SimpleWriter struct {
	baseWriter

	// verbose adds per-module durations to the output.
	verbose bool
}

// SimpleWriterOption configures a SimpleWriter.
type SimpleWriterOption func(*SimpleWriter)

// WithVerbose enables per-module duration detail.
func WithVerbose(verbose bool) SimpleWriterOption {
	return func(w *SimpleWriter) {
		w.verbose = verbose
	}
}

// NewSimpleWriter creates a SimpleWriter that outputs to the given writer.
func NewSimpleWriter(output io.Writer, opts ...SimpleWriterOption) *SimpleWriter {
	w := &SimpleWriter{baseWriter: newBaseWriter(output)}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Write outputs the result in human-readable format.
func (w *SimpleWriter) Write(result *model.PipelineResult) (int, error) {
	var sb strings.Builder

	fmt.Fprintf(&sb, "Pipeline Run: %s\n", result.PipelineRunID)
	fmt.Fprintf(&sb, "Target:       %s\n", result.Target)
	fmt.Fprintf(&sb, "Overall:      %s\n", result.Overall())
	fmt.Fprintf(&sb, "Elapsed:      %s\n", result.Elapsed().Round(time.Millisecond))
	sb.WriteString("\nModules:\n")

	for _, name := range result.ModuleNames() {
		status := result.Statuses[name]
		fmt.Fprintf(&sb, "  %s %-24s %s", statusGlyph(status), name, status)
		if w.verbose {
			if d, ok := result.Durations[name]; ok {
				fmt.Fprintf(&sb, " (%s)", d.Round(time.Millisecond))
			}
		}
		sb.WriteString("\n")
		if errMsg, ok := result.Errors[name]; ok {
			fmt.Fprintf(&sb, "      error: %s\n", errMsg)
		}
	}

	return io.WriteString(w.output, sb.String())
}
