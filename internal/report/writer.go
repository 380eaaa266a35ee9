package report

import (
	"io"

	"github.com/reconflow/reconflow/internal/model"
)

// Writer outputs a pipeline result in some format.
//
// Design decision: We use an interface to allow different output formats
// and destinations. This enables writing to files, stdout, or network
// connections with the same API.
type Writer interface {
	// Write outputs the result to the configured destination.
	// Returns the number of bytes written and any error encountered.
	Write(result *model.PipelineResult) (int, error)
}

// MultiWriter writes to multiple Writers simultaneously, typically the
// terminal plus a file. It is a separate type rather than io.MultiWriter
// because our Writer takes results, not raw bytes.
type MultiWriter struct {
	writers []Writer
}

// NewMultiWriter creates a Writer that writes to all provided Writers.
func NewMultiWriter(writers ...Writer) *MultiWriter {
	return &MultiWriter{writers: writers}
}

// Write outputs the result to all configured Writers.
// Returns the total bytes written; stops on the first error encountered.
func (m *MultiWriter) Write(result *model.PipelineResult) (int, error) {
	var total int
	for _, w := range m.writers {
		n, err := w.Write(result)
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// baseWriter provides the shared output destination for report writers.
type baseWriter struct {
	output io.Writer
}

// newBaseWriter creates a baseWriter with the given output destination.
func newBaseWriter(output io.Writer) baseWriter {
	return baseWriter{output: output}
}

// statusGlyph maps a job status to a terminal-friendly marker.
func statusGlyph(status model.JobStatus) string {
	switch status {
	case model.JobCompleted:
		return "✅"
	case model.JobFailed:
		return "❌"
	case model.JobTimeout:
		return "⏱️"
	case model.JobRunning:
		return "▶️"
	case model.JobPending:
		return "⏸️"
	}
	return "?"
}
