package report

import (
	"io"
	"strconv"

	"github.com/nao1215/markdown"
	"github.com/nao1215/markdown/mermaid/piechart"

	"github.com/nao1215/harvester/internal/model"
)

// MarkdownWriter outputs reports as Markdown documents.
type MarkdownWriter struct {
	baseWriter
}

// NewMarkdownWriter creates a MarkdownWriter that outputs to the given writer.
func NewMarkdownWriter(output io.Writer) *MarkdownWriter {
	return &MarkdownWriter{baseWriter: newBaseWriter(output)}
}

// Write implements Writer.
func (w *MarkdownWriter) Write(sum *model.RunSummary) (int, error) {
	md := markdown.NewMarkdown(w.output)

	md.H1("Run Report: " + sum.Job + " " + sum.Key)
	md.PlainText("")
	md.Table(markdown.TableSet{
		Header: []string{"Property", "Value"},
		Rows: [][]string{
			{"Run", "`" + sum.RunID + "`"},
			{"Status", statusText(sum.Status)},
			{"Started", formatTime(sum.StartedAt)},
			{"Finished", formatTime(sum.FinishedAt)},
			{"Elapsed", sum.Elapsed().String()},
			{"State flushed", yesNo(sum.StateFlushed)},
		},
	})
	md.PlainText("")

	md.H2("Items")
	md.PlainText("")
	md.Table(markdown.TableSet{
		Header: []string{"Outcome", "Count"},
		Rows: [][]string{
			{"Total", strconv.Itoa(sum.Total)},
			{"Already done", strconv.Itoa(sum.AlreadyDone)},
			{"Processed", strconv.Itoa(sum.Processed)},
			{"Skipped", strconv.Itoa(sum.Skipped)},
			{"Failed", strconv.Itoa(sum.Failed)},
		},
	})
	md.PlainText("")
	w.writePieChart(md, sum)

	md.H2("Results")
	md.PlainText("")
	md.Table(markdown.TableSet{
		Header: []string{"Kind", "Count"},
		Rows: [][]string{
			{"New", strconv.Itoa(sum.NewResults)},
			{"Duplicates", strconv.Itoa(sum.Duplicates)},
			{"Irrelevant", strconv.Itoa(sum.Irrelevant)},
		},
	})
	md.PlainText("")
	w.writeAlert(md, sum)

	return len(md.String()), md.Build()
}

// writePieChart writes a mermaid pie chart of the item outcomes.
func (w *MarkdownWriter) writePieChart(md *markdown.Markdown, sum *model.RunSummary) {
	if sum.Processed+sum.Skipped == 0 {
		return
	}
	chart := piechart.NewPieChart(
		io.Discard,
		piechart.WithTitle("Item Outcomes"),
		piechart.WithShowData(true),
	)
	if ok := sum.Processed - sum.Failed; ok > 0 {
		chart.LabelAndIntValue("Fetched", uint64(ok))
	}
	if sum.Failed > 0 {
		chart.LabelAndIntValue("Failed", uint64(sum.Failed))
	}
	if sum.Skipped > 0 {
		chart.LabelAndIntValue("Skipped", uint64(sum.Skipped))
	}
	md.CodeBlocks(markdown.SyntaxHighlightMermaid, chart.String())
	md.PlainText("")
}

func (w *MarkdownWriter) writeAlert(md *markdown.Markdown, sum *model.RunSummary) {
	switch sum.Status {
	case model.StatusFatallyFailed:
		md.Cautionf("The run failed: %s", sum.Error)
	case model.StatusInterrupted:
		md.Importantf("The run was interrupted. %d item(s) completed; run again to resume.", sum.Processed)
	default:
		if sum.Failed > 0 {
			md.Warningf("%d item(s) exhausted their retries and were completed without results.", sum.Failed)
		} else {
			md.Tip("All items completed.")
		}
	}
	md.PlainText("")
}

// WriteInfo implements Writer.
func (w *MarkdownWriter) WriteInfo(info *Info) (int, error) {
	md := markdown.NewMarkdown(w.output)

	md.H1("State: " + info.Job + " " + info.Key)
	md.PlainText("")
	rows := [][]string{
		{"Completed items", strconv.Itoa(info.Completed)},
		{"Stored results", strconv.Itoa(info.Results)},
	}
	if s := info.State; s != nil {
		rows = append(rows,
			[]string{"Listed items", strconv.Itoa(len(s.Items))},
			[]string{"Next cursor", strconv.Itoa(s.NextCursor)},
			[]string{"Last update", formatTime(s.LastUpdate())},
		)
	}
	md.Table(markdown.TableSet{Header: []string{"Property", "Value"}, Rows: rows})
	md.PlainText("")

	if len(info.Runs) > 0 {
		md.H2("Run History")
		md.PlainText("")
		history := make([][]string, 0, len(info.Runs))
		for _, r := range info.Runs {
			history = append(history, []string{
				"`" + r.RunID + "`",
				statusText(r.Status),
				formatTime(r.StartedAt),
				strconv.Itoa(r.Processed),
				strconv.Itoa(r.NewResults),
			})
		}
		md.Table(markdown.TableSet{
			Header: []string{"Run", "Status", "Started", "Processed", "New results"},
			Rows:   history,
		})
		md.PlainText("")
	}

	return len(md.String()), md.Build()
}

func statusText(s model.RunStatus) string {
	switch s {
	case model.StatusCompleted:
		return "✅ Completed"
	case model.StatusInterrupted:
		return "⏸️ Interrupted"
	case model.StatusFatallyFailed:
		return "❌ Failed"
	default:
		return s.String()
	}
}
