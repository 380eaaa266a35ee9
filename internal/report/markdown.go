package report

import (
	"io"
	"time"

	"github.com/nao1215/markdown"
	"github.com/nao1215/markdown/mermaid/piechart"

	"github.com/reconflow/reconflow/internal/model"
)

// MarkdownWriter outputs results in GitHub Flavored Markdown, designed for
// sharing run summaries in documentation or issue trackers.
//
// The nao1215/markdown library gives type-safe generation of tables,
// alerts, and mermaid pie charts.
type MarkdownWriter struct {
	baseWriter
}

// NewMarkdownWriter creates a MarkdownWriter that outputs to the given writer.
func NewMarkdownWriter(output io.Writer) *MarkdownWriter {
	return &MarkdownWriter{baseWriter: newBaseWriter(output)}
}

// Write outputs the result in Markdown format.
func (w *MarkdownWriter) Write(result *model.PipelineResult) (int, error) {
	md := markdown.NewMarkdown(w.output)

	w.writeHeader(md, result)
	w.writeModules(md, result)
	w.writeStatusChart(md, result)
	w.writeAlert(md, result)

	return len(md.String()), md.Build()
}

// writeHeader writes the run summary table.
func (w *MarkdownWriter) writeHeader(md *markdown.Markdown, result *model.PipelineResult) {
	md.H1("Pipeline Run Report")
	md.PlainText("")

	md.Table(markdown.TableSet{
		Header: []string{"Property", "Value"},
		Rows: [][]string{
			{"Run ID", "`" + result.PipelineRunID + "`"},
			{"Target", "`" + result.Target + "`"},
			{"Overall Status", string(result.Overall())},
			{"Started", result.StartedAt.Format("2006-01-02 15:04:05 MST")},
			{"Elapsed", result.Elapsed().Round(time.Millisecond).String()},
		},
	})
	md.PlainText("")
}

// writeModules writes the per-module status table.
func (w *MarkdownWriter) writeModules(md *markdown.Markdown, result *model.PipelineResult) {
	md.H2("Module Results")
	md.PlainText("")

	rows := make([][]string, 0, len(result.Statuses))
	for _, name := range result.ModuleNames() {
		status := result.Statuses[name]

		duration := "-"
		if d, ok := result.Durations[name]; ok {
			duration = d.Round(time.Millisecond).String()
		}

		detail := ""
		if errMsg, ok := result.Errors[name]; ok {
			detail = errMsg
		}

		rows = append(rows, []string{
			"`" + name + "`",
			statusGlyph(status) + " " + string(status),
			duration,
			detail,
		})
	}

	md.Table(markdown.TableSet{
		Header: []string{"Module", "Status", "Duration", "Detail"},
		Rows:   rows,
	})
	md.PlainText("")
}

// writeStatusChart writes a mermaid pie chart of the status distribution.
func (w *MarkdownWriter) writeStatusChart(md *markdown.Markdown, result *model.PipelineResult) {
	counts := make(map[model.JobStatus]int)
	for _, status := range result.Statuses {
		counts[status]++
	}

	chart := piechart.NewPieChart(
		io.Discard,
		piechart.WithTitle("Module Status Distribution"),
		piechart.WithShowData(true),
	)
	for _, status := range []model.JobStatus{model.JobCompleted, model.JobFailed, model.JobTimeout} {
		if n := counts[status]; n > 0 {
			chart.LabelAndIntValue(string(status), uint64(n)) //nolint:gosec // Counts are small and non-negative
		}
	}

	md.PlainText("")
	md.CodeBlocks(markdown.SyntaxHighlightMermaid, chart.String())
	md.PlainText("")
}

// writeAlert writes an alert matching the overall outcome.
func (w *MarkdownWriter) writeAlert(md *markdown.Markdown, result *model.PipelineResult) {
	switch result.Overall() {
	case model.RunFailed:
		md.Cautionf("Producer module %q failed; consumers had no input.", result.Producer)
	case model.RunTimeout:
		md.Warning("Run deadline elapsed before the producer finished; results are partial.")
	case model.RunPartialFailure:
		md.Important("Some modules did not complete; partial results are available.")
	case model.RunCompleted:
		md.Tip("All modules completed.")
	}
	md.PlainText("")
}
