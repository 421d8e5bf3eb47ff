package main

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"taskhistory/internal/app/taskhistory"
	"taskhistory/internal/domain/history"
	jsonx "taskhistory/internal/shared/json"

	"github.com/charmbracelet/x/ansi"
	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/term"
)

const (
	defaultWidth = 100
	minTaskWidth = 20
)

var (
	green  = color.New(color.FgGreen).SprintFunc()
	yellow = color.New(color.FgYellow).SprintFunc()
	red    = color.New(color.FgRed).SprintFunc()
	cyan   = color.New(color.FgCyan).SprintFunc()
	gray   = color.New(color.FgHiBlack).SprintFunc()
	bold   = color.New(color.Bold).SprintFunc()
)

func errorStyle(msg string) string   { return red(msg) }
func successStyle(msg string) string { return green(msg) }
func statusStyle(msg string) string  { return cyan(msg) }

// isTTY reports whether w is an interactive terminal.
func isTTY(w io.Writer) bool {
	file, ok := w.(*os.File)
	return ok && term.IsTerminal(int(file.Fd()))
}

func terminalWidth(w io.Writer) int {
	if file, ok := w.(*os.File); ok && term.IsTerminal(int(file.Fd())) {
		if width, _, err := term.GetSize(int(file.Fd())); err == nil && width > 0 {
			return width
		}
	}
	return defaultWidth
}

func writeJSON(w io.Writer, v any) error {
	data, err := jsonx.MarshalDocument(v)
	if err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	_, err = w.Write(data)
	return err
}

func renderSearch(w io.Writer, result history.SearchResult, width int, now time.Time) {
	if len(result.Items) == 0 {
		fmt.Fprintln(w, gray("No matching tasks"))
	}
	for _, item := range result.Items {
		fmt.Fprintln(w, itemLine(item.HistoryItem, highlight(item.Task, item.Highlights), width, now))
	}
	if len(result.WorkspaceItems) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, bold("Workspaces"))
		for _, ws := range result.WorkspaceItems {
			line := fmt.Sprintf("  %-24s %s  %s", ws.Name, gray(relative(ws.Ts, now)), gray(ws.Path))
			if ws.Missing {
				line += " " + yellow("(missing)")
			}
			fmt.Fprintln(w, line)
		}
	}
	stats := result.Stats
	fmt.Fprintln(w, gray(fmt.Sprintf("%d items, %d shards visited, %d pruned, %d skipped",
		len(result.Items), stats.ShardsVisited, stats.ShardsPruned, stats.ShardsSkipped)))
}

func renderItemList(w io.Writer, items []history.HistoryItem, now time.Time) {
	for _, item := range items {
		fmt.Fprintln(w, itemLine(item, item.Task, defaultWidth, now))
	}
	fmt.Fprintln(w, gray(fmt.Sprintf("%d items", len(items))))
}

// itemLine renders id, age, tokens, cost and the task text clipped to width.
func itemLine(item history.HistoryItem, task string, width int, now time.Time) string {
	prefix := fmt.Sprintf("%s  %-14s %10s tok  $%.4f  ",
		bold(item.ID), relative(item.Ts, now), humanize.Comma(item.TotalTokens()), item.TotalCost)
	budget := width - ansi.StringWidth(prefix)
	if budget < minTaskWidth {
		budget = minTaskWidth
	}
	return prefix + clip(firstLine(task), budget)
}

func renderItem(w io.Writer, item history.HistoryItem, now time.Time) {
	fmt.Fprintf(w, "%s %s\n", bold("ID:"), item.ID)
	fmt.Fprintf(w, "%s %s (%s)\n", bold("Time:"), time.UnixMilli(item.Ts).Format(time.RFC3339), relative(item.Ts, now))
	if item.Workspace != "" {
		fmt.Fprintf(w, "%s %s\n", bold("Workspace:"), item.Workspace)
	}
	fmt.Fprintf(w, "%s %s in / %s out", bold("Tokens:"), humanize.Comma(item.TokensIn), humanize.Comma(item.TokensOut))
	if item.CacheReads > 0 || item.CacheWrites > 0 {
		fmt.Fprintf(w, " (cache %s read / %s written)", humanize.Comma(item.CacheReads), humanize.Comma(item.CacheWrites))
	}
	fmt.Fprintln(w)
	fmt.Fprintf(w, "%s $%.4f\n", bold("Cost:"), item.TotalCost)
	if item.Size > 0 {
		fmt.Fprintf(w, "%s %s\n", bold("Size:"), humanize.IBytes(uint64(item.Size)))
	}
	fmt.Fprintf(w, "%s %s\n", bold("Task:"), item.Task)
}

func renderMonths(w io.Writer, months []history.HistoryMonth) {
	if len(months) == 0 {
		fmt.Fprintln(w, gray("No shards"))
		return
	}
	for _, month := range months {
		fmt.Fprintf(w, "%s  %s\n", month.Key(), gray(fmt.Sprintf("%s %d", time.Month(month.Month), month.Year)))
	}
}

func renderScan(w io.Writer, result *history.ScanResult) {
	fmt.Fprintln(w, bold("Scan result"))
	rows := []struct {
		label string
		items map[string]history.HistoryItem
	}{
		{"Valid", result.Valid},
		{"Only in legacy array", result.TasksOnlyInGlobalState},
		{"Only in index", result.TasksOnlyInIndex},
		{"Orphans", result.Orphans},
	}
	for _, row := range rows {
		fmt.Fprintf(w, "  %-22s %s\n", row.label, humanize.Comma(int64(len(row.items))))
	}
	fmt.Fprintf(w, "  %-22s %s\n", "Failed reconstructions", humanize.Comma(int64(len(result.FailedReconstructions))))
	for _, id := range result.FailedReconstructions {
		fmt.Fprintf(w, "    %s\n", yellow(id))
	}
}

func renderReindex(w io.Writer, report taskhistory.ReindexReport) {
	written := report.Written
	fmt.Fprintln(w, successStyle(fmt.Sprintf("Reindexed %d items (%d rejected, %d failed, %d shards updated)",
		written.Written, written.Rejected, written.Failed, written.ShardsUpdated)))
	if report.Before != nil {
		fmt.Fprintln(w, gray("Before: "+report.Before.Summary()))
	}
	if report.After != nil {
		fmt.Fprintln(w, gray("After:  "+report.After.Summary()))
	}
}

// printMetrics writes every non-zero counter and histogram count gathered
// from reg, sorted by name.
func printMetrics(w io.Writer, reg prometheus.Gatherer) {
	families, err := reg.Gather()
	if err != nil {
		fmt.Fprintln(w, errorStyle("gather metrics: "+err.Error()))
		return
	}
	var lines []string
	for _, family := range families {
		for _, metric := range family.GetMetric() {
			var labels []string
			for _, pair := range metric.GetLabel() {
				labels = append(labels, pair.GetName()+"="+pair.GetValue())
			}
			name := family.GetName()
			if len(labels) > 0 {
				name += "{" + strings.Join(labels, ",") + "}"
			}
			switch {
			case metric.GetCounter() != nil && metric.GetCounter().GetValue() > 0:
				lines = append(lines, fmt.Sprintf("%s %g", name, metric.GetCounter().GetValue()))
			case metric.GetHistogram() != nil && metric.GetHistogram().GetSampleCount() > 0:
				h := metric.GetHistogram()
				lines = append(lines, fmt.Sprintf("%s count=%d sum=%.3fs", name, h.GetSampleCount(), h.GetSampleSum()))
			}
		}
	}
	sort.Strings(lines)
	for _, line := range lines {
		fmt.Fprintln(w, gray(line))
	}
}

func relative(ts int64, now time.Time) string {
	if ts <= 0 {
		return "-"
	}
	return humanize.RelTime(time.UnixMilli(ts), now, "ago", "from now")
}

// highlight colors matched byte spans of text.
func highlight(text string, spans []history.Span) string {
	if len(spans) == 0 {
		return text
	}
	var b strings.Builder
	last := 0
	for _, span := range spans {
		if span.Start < last || span.End > len(text) || span.Start >= span.End {
			continue
		}
		b.WriteString(text[last:span.Start])
		b.WriteString(yellow(text[span.Start:span.End]))
		last = span.End
	}
	b.WriteString(text[last:])
	return b.String()
}

func firstLine(text string) string {
	if i := strings.IndexByte(text, '\n'); i >= 0 {
		return text[:i] + " ..."
	}
	return text
}

// clip shortens text to at most width terminal cells, keeping escape codes intact.
func clip(text string, width int) string {
	if ansi.StringWidth(text) <= width {
		return text
	}
	return ansi.Truncate(text, width, "…")
}
