package main

import (
	"fmt"
	"io"
	"os"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/mattn/go-isatty"

	"settlecam/internal/ipc"
)

type statusKind int

const (
	statusInfo statusKind = iota
	statusOK
	statusWarn
	statusError
)

var statusStyles = map[statusKind]struct {
	label string
	color text.Colors
}{
	statusInfo:  {"INFO", text.Colors{text.FgBlue}},
	statusOK:    {"OK", text.Colors{text.FgGreen}},
	statusWarn:  {"WARN", text.Colors{text.FgYellow}},
	statusError: {"ERROR", text.Colors{text.FgRed}},
}

// statusLine renders one aligned "label: [KIND] detail" line.
func statusLine(label string, kind statusKind, detail string, colorize bool) string {
	style := statusStyles[kind]
	status := "[" + style.label + "]"
	if detail != "" {
		status += " " + detail
	}
	line := fmt.Sprintf("  %-20s %s", label+":", status)
	if colorize {
		return style.color.Sprint(line)
	}
	return line
}

func sectionHeader(title string, colorize bool) string {
	line := "== " + title + " =="
	if colorize {
		return text.Colors{text.FgHiBlue, text.Bold}.Sprint(line)
	}
	return line
}

// runsTable renders the run listing: duration and warning counts right
// aligned, everything else as recorded.
func runsTable(runs []ipc.RunSummary) string {
	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)
	tw.AppendHeader(table.Row{"Run", "Status", "Mode", "Started", "Duration", "Warnings", "Error"})
	for _, run := range runs {
		tw.AppendRow(table.Row{
			shortID(run.ID),
			run.Status,
			run.Mode,
			run.StartedAt.Local().Format("2006-01-02 15:04:05"),
			runDuration(run),
			run.WarningCount,
			run.ErrorMessage,
		})
	}
	tw.SetColumnConfigs([]table.ColumnConfig{
		{Number: 5, Align: text.AlignRight},
		{Number: 6, Align: text.AlignRight},
	})
	return tw.Render()
}

// totalsTable renders the per-outcome run counts.
func totalsTable(totals ipc.RunTotals) string {
	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)
	tw.AppendHeader(table.Row{"Outcome", "Count"})
	tw.AppendRow(table.Row{"total", totals.Total})
	tw.AppendRow(table.Row{"active", totals.Active})
	tw.AppendRow(table.Row{"completed", totals.Completed})
	tw.AppendRow(table.Row{"failed", totals.Failed})
	tw.AppendRow(table.Row{"aborted", totals.Aborted})
	tw.SetColumnConfigs([]table.ColumnConfig{{Number: 2, Align: text.AlignRight}})
	return tw.Render()
}

func shouldColorize(w io.Writer) bool {
	file, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(file.Fd()) || isatty.IsCygwinTerminal(file.Fd())
}
