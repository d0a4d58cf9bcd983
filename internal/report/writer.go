package report

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/nao1215/harvester/internal/model"
)

// Report formats.
const (
	FormatText     = "text"
	FormatMarkdown = "markdown"
	FormatJSON     = "json"
)

// ErrUnknownFormat is returned by New for an unsupported format.
var ErrUnknownFormat = errors.New("unknown report format: must be text, markdown or json")

// Info describes the stored state of one job and run key.
type Info struct {
	// Job is the job name.
	Job string `json:"job"`

	// Key is the run key.
	Key string `json:"key"`

	// Completed is the number of items in the progress store.
	Completed int `json:"completed"`

	// Results is the number of records in the result sink.
	Results int `json:"results"`

	// State is the saved listing cursor, nil when there is none.
	State *model.RunState `json:"state,omitempty"`

	// Runs is the recorded run history, newest first.
	Runs []model.RunSummary `json:"runs,omitempty"`
}

// Writer outputs run reports.
type Writer interface {
	// Write outputs the summary of a finished run.
	Write(sum *model.RunSummary) (int, error)

	// WriteInfo outputs stored-state information.
	WriteInfo(info *Info) (int, error)
}

// New returns the Writer for format writing to output.
func New(format string, output io.Writer) (Writer, error) {
	switch format {
	case FormatText, "":
		return NewTextWriter(output), nil
	case FormatMarkdown:
		return NewMarkdownWriter(output), nil
	case FormatJSON:
		return NewJSONWriter(output, WithPrettyPrint()), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownFormat, format)
	}
}

// MultiWriter writes to several Writers in turn, stopping at the first
// error.
type MultiWriter struct {
	writers []Writer
}

// NewMultiWriter creates a Writer that writes to all provided Writers.
func NewMultiWriter(writers ...Writer) *MultiWriter {
	return &MultiWriter{writers: writers}
}

// Write implements Writer.
func (m *MultiWriter) Write(sum *model.RunSummary) (int, error) {
	var total int
	for _, w := range m.writers {
		n, err := w.Write(sum)
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// WriteInfo implements Writer.
func (m *MultiWriter) WriteInfo(info *Info) (int, error) {
	var total int
	for _, w := range m.writers {
		n, err := w.WriteInfo(info)
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// baseWriter holds the output shared by the writers.
type baseWriter struct {
	output io.Writer
}

func newBaseWriter(output io.Writer) baseWriter {
	return baseWriter{output: output}
}

const timeLayout = "2006-01-02 15:04:05"

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Format(timeLayout)
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
