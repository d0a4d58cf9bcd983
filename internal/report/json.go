package report

import (
	"encoding/json"
	"io"

	"github.com/nao1215/harvester/internal/model"
)

// JSONWriter outputs reports as JSON documents.
type JSONWriter struct {
	baseWriter

	indent       bool
	indentPrefix string
	indentString string
}

// JSONWriterOption configures a JSONWriter.
type JSONWriterOption func(*JSONWriter)

// WithIndent enables pretty-printed JSON output.
func WithIndent(prefix, indent string) JSONWriterOption {
	return func(w *JSONWriter) {
		w.indent = true
		w.indentPrefix = prefix
		w.indentString = indent
	}
}

// WithPrettyPrint is WithIndent("", "  ").
func WithPrettyPrint() JSONWriterOption {
	return WithIndent("", "  ")
}

// NewJSONWriter creates a JSONWriter that outputs to the given writer.
func NewJSONWriter(output io.Writer, opts ...JSONWriterOption) *JSONWriter {
	w := &JSONWriter{baseWriter: newBaseWriter(output)}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Write implements Writer. The elapsed time and speed are added to the
// summary fields.
func (w *JSONWriter) Write(sum *model.RunSummary) (int, error) {
	return w.writeJSON(struct {
		*model.RunSummary
		ElapsedSeconds float64 `json:"elapsed_seconds"`
		ItemsPerSecond float64 `json:"items_per_second"`
	}{sum, sum.Elapsed().Seconds(), sum.ItemsPerSecond()})
}

// WriteInfo implements Writer.
func (w *JSONWriter) WriteInfo(info *Info) (int, error) {
	return w.writeJSON(info)
}

func (w *JSONWriter) writeJSON(v any) (int, error) {
	var data []byte
	var err error
	if w.indent {
		data, err = json.MarshalIndent(v, w.indentPrefix, w.indentString)
	} else {
		data, err = json.Marshal(v)
	}
	if err != nil {
		return 0, err
	}
	data = append(data, '\n')
	return w.output.Write(data)
}
