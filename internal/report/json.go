package report

import (
	"encoding/json"
	"io"

	"github.com/reconflow/reconflow/internal/model"
)

// JSONWriter outputs results in JSON format for tool integration.
//
// Standard encoding/json is sufficient here; the result is small and the
// output shape is just the model with an added overall status field.
type JSONWriter struct {
	baseWriter

	// indent enables pretty-printed output.
	indent bool
}

// JSONWriterOption configures a JSONWriter.
type JSONWriterOption func(*JSONWriter)

// WithPrettyPrint enables pretty-printed JSON with two-space indentation.
func WithPrettyPrint() JSONWriterOption {
	return func(w *JSONWriter) {
		w.indent = true
	}
}

// NewJSONWriter creates a JSONWriter that outputs to the given writer.
func NewJSONWriter(output io.Writer, opts ...JSONWriterOption) *JSONWriter {
	w := &JSONWriter{baseWriter: newBaseWriter(output)}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// jsonResult wraps the result with its derived overall status so consumers
// do not have to re-implement the classification rules.
type jsonResult struct {
	Overall model.RunStatus `json:"overall"`
	*model.PipelineResult
}

// Write outputs the result as JSON.
func (w *JSONWriter) Write(result *model.PipelineResult) (int, error) {
	wrapped := jsonResult{Overall: result.Overall(), PipelineResult: result}

	var (
		data []byte
		err  error
	)
	if w.indent {
		data, err = json.MarshalIndent(wrapped, "", "  ")
	} else {
		data, err = json.Marshal(wrapped)
	}
	if err != nil {
		return 0, err
	}
	data = append(data, '\n')
	return w.output.Write(data)
}
