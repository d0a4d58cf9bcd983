package report

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/nao1215/harvester/internal/model"
)

// TextWriter outputs tables for terminal display.
type TextWriter struct {
	baseWriter
	style table.Style
}

// TextWriterOption configures a TextWriter.
type TextWriterOption func(*TextWriter)

// WithStyle sets the table style. The default is table.StyleRounded.
func WithStyle(style table.Style) TextWriterOption {
	return func(w *TextWriter) {
		w.style = style
	}
}

// NewTextWriter creates a TextWriter that outputs to the given writer.
func NewTextWriter(output io.Writer, opts ...TextWriterOption) *TextWriter {
	w := &TextWriter{
		baseWriter: newBaseWriter(output),
		style:      table.StyleRounded,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

func (w *TextWriter) newTable(title string) table.Writer {
	t := table.NewWriter()
	t.SetStyle(w.style)
	t.SetTitle(title)
	return t
}

// Write implements Writer.
func (w *TextWriter) Write(sum *model.RunSummary) (int, error) {
	t := w.newTable(fmt.Sprintf("%s %s", sum.Job, sum.Key))
	t.AppendHeader(table.Row{"Property", "Value"})
	t.AppendRows([]table.Row{
		{"Run", sum.RunID},
		{"Status", sum.Status.String()},
		{"Items", sum.Total},
		{"Already done", sum.AlreadyDone},
		{"Processed", sum.Processed},
		{"Skipped", sum.Skipped},
		{"Failed", sum.Failed},
		{"New results", sum.NewResults},
		{"Duplicates", sum.Duplicates},
		{"Irrelevant", sum.Irrelevant},
		{"Started", formatTime(sum.StartedAt)},
		{"Elapsed", sum.Elapsed().Round(10 * time.Millisecond).String()},
		{"Items/s", strconv.FormatFloat(sum.ItemsPerSecond(), 'f', 2, 64)},
		{"State flushed", yesNo(sum.StateFlushed)},
	})
	if sum.Error != "" {
		t.AppendRow(table.Row{"Error", sum.Error})
	}
	return fmt.Fprintln(w.output, t.Render())
}

// WriteInfo implements Writer.
func (w *TextWriter) WriteInfo(info *Info) (int, error) {
	var b strings.Builder

	t := w.newTable(fmt.Sprintf("%s %s", info.Job, info.Key))
	t.AppendHeader(table.Row{"Property", "Value"})
	t.AppendRows([]table.Row{
		{"Completed items", info.Completed},
		{"Stored results", info.Results},
	})
	if s := info.State; s != nil {
		t.AppendRows([]table.Row{
			{"Listed items", len(s.Items)},
			{"Next cursor", s.NextCursor},
			{"Last update", formatTime(s.LastUpdate())},
		})
	} else {
		t.AppendRow(table.Row{"Saved listing", "none"})
	}
	b.WriteString(t.Render())
	b.WriteString("\n")

	if len(info.Runs) > 0 {
		h := w.newTable("Run history")
		h.AppendHeader(table.Row{"Run", "Status", "Started", "Processed", "Failed", "New results"})
		for _, r := range info.Runs {
			h.AppendRow(table.Row{r.RunID, r.Status.String(), formatTime(r.StartedAt), r.Processed, r.Failed, r.NewResults})
		}
		b.WriteString(h.Render())
		b.WriteString("\n")
	}
	return io.WriteString(w.output, b.String())
}
