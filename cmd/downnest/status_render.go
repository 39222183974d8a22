package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/mattn/go-isatty"

	"downnest/internal/daemonctl"
	"downnest/internal/preflight"
	"downnest/internal/routing"
)

type statusKind int

const (
	statusInfo statusKind = iota
	statusOK
	statusWarn
	statusError
)

const (
	ansiReset  = "\x1b[0m"
	ansiRed    = "\x1b[31m"
	ansiGreen  = "\x1b[32m"
	ansiYellow = "\x1b[33m"
	ansiBlue   = "\x1b[34m"
)

const (
	statusLabelWidth = 16
	statusIndent     = "  "
)

func renderStatusLine(label string, kind statusKind, message string, colorize bool) string {
	statusText := statusKindLabel(kind)
	if message != "" {
		statusText = fmt.Sprintf("[%s] %s", statusText, message)
	} else {
		statusText = fmt.Sprintf("[%s]", statusText)
	}
	base := fmt.Sprintf("%s%-*s %s", statusIndent, statusLabelWidth, label+":", statusText)
	if colorize {
		if color := statusKindColor(kind); color != "" {
			return color + base + ansiReset
		}
	}
	return base
}

func statusKindLabel(kind statusKind) string {
	switch kind {
	case statusOK:
		return "OK"
	case statusWarn:
		return "WARN"
	case statusError:
		return "ERROR"
	default:
		return "INFO"
	}
}

func statusKindColor(kind statusKind) string {
	switch kind {
	case statusOK:
		return ansiGreen
	case statusWarn:
		return ansiYellow
	case statusError:
		return ansiRed
	case statusInfo:
		return ansiBlue
	default:
		return ""
	}
}

func renderSectionHeader(title string, colorize bool) []string {
	line := fmt.Sprintf("== %s ==", strings.TrimSpace(title))
	rule := strings.Repeat("-", len(line))
	if colorize {
		line = ansiBlue + line + ansiReset
		rule = ansiBlue + rule + ansiReset
	}
	return []string{line, rule}
}

func shouldColorize(writer io.Writer) bool {
	file, ok := writer.(*os.File)
	if !ok {
		return false
	}
	fd := file.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

func renderStatus(s *daemonctl.StatusSnapshot, colorize bool) []string {
	var lines []string
	section := func(title string) {
		if len(lines) > 0 {
			lines = append(lines, "")
		}
		lines = append(lines, renderSectionHeader(title, colorize)...)
	}

	section("Daemon")
	lines = append(lines, daemonLines(s, colorize)...)

	section("Directories")
	if len(s.Directories) == 0 {
		lines = append(lines, renderStatusLine("Watched", statusError, "No download folders found", colorize))
	}
	for _, dir := range s.Directories {
		lines = append(lines, renderStatusLine("Watched", statusOK, dir, colorize))
	}
	for _, rejected := range s.Daemon.Rejected {
		lines = append(lines, renderStatusLine("Rejected", statusWarn, rejected.Detail, colorize))
	}

	section("System Checks")
	if failed := preflight.Failed(s.Checks); len(failed) > 0 {
		lines = append(lines, renderStatusLine("Summary", statusWarn, fmt.Sprintf("%d of %d checks failed", len(failed), len(s.Checks)), colorize))
	} else {
		lines = append(lines, renderStatusLine("Summary", statusOK, "All checks passed", colorize))
	}
	for _, check := range s.Checks {
		kind := statusOK
		if !check.Passed {
			kind = statusError
			if strings.HasPrefix(check.Name, "ntfy") || strings.HasPrefix(check.Name, "Metrics") {
				kind = statusWarn
			}
		}
		lines = append(lines, renderStatusLine(check.Name, kind, check.Detail, colorize))
	}

	if s.Daemon.Running {
		section("Worker Pool")
		p := s.Daemon.Pool
		table := renderTable(
			[]column{
				{"Workers", countCell}, {"Queued", countCell}, {"Busy", countCell},
				{"Completed", countCell}, {"Rejected", countCell}, {"Panics", countCell},
			},
			[][]any{{p.Workers, p.Queued, p.Busy, p.Completed, p.Rejected, p.Panics}},
		)
		lines = append(lines, strings.Split(strings.TrimRight(table, "\n"), "\n")...)
		for _, path := range s.Daemon.InFlight {
			lines = append(lines, renderStatusLine("In flight", statusInfo, path, colorize))
		}
	}

	section("History")
	lines = append(lines, historyLines(s, colorize)...)
	return lines
}

func daemonLines(s *daemonctl.StatusSnapshot, colorize bool) []string {
	d := s.Daemon
	if !s.Reachable {
		return []string{renderStatusLine("Daemon", statusInfo, "Not running", colorize)}
	}
	if !d.Running {
		return []string{renderStatusLine("Daemon", statusWarn, "Reachable but not watching (run 'downnest start')", colorize)}
	}
	lines := []string{
		renderStatusLine("Daemon", statusOK, fmt.Sprintf("Running (pid %d, started %s)", d.PID, humanize.Time(d.StartedAt)), colorize),
		renderStatusLine("Run ID", statusInfo, d.RunID, colorize),
	}
	if d.Hotplug {
		lines = append(lines, renderStatusLine("Hotplug", statusOK, "Rescanning on mount events", colorize))
	} else {
		lines = append(lines, renderStatusLine("Hotplug", statusInfo, "Disabled", colorize))
	}
	if d.MetricsAddr != "" {
		lines = append(lines, renderStatusLine("Metrics", statusOK, "http://"+d.MetricsAddr+"/metrics", colorize))
	}
	lines = append(lines, renderStatusLine("Notifications", statusInfo, yesNo(d.Notifications), colorize))
	if d.LastSweep != nil && d.LastSweep.Summary != nil {
		lines = append(lines, renderStatusLine("Last sweep", statusInfo, sweepDetail(*d.LastSweep), colorize))
	}
	return lines
}

func historyLines(s *daemonctl.StatusSnapshot, colorize bool) []string {
	switch {
	case s.HistoryErr != "":
		return []string{renderStatusLine("History", statusWarn, s.HistoryErr, colorize)}
	case s.History == nil:
		return []string{renderStatusLine("History", statusInfo, "No outcomes recorded", colorize)}
	}
	h := s.History
	return []string{
		renderStatusLine("Moved", statusInfo, fmt.Sprintf("%s files (%s)", humanize.Comma(h.Moved), humanize.IBytes(uint64(h.Bytes))), colorize),
		renderStatusLine("Failed", statusInfo, humanize.Comma(h.Failed), colorize),
		renderStatusLine("Sweeps", statusInfo, humanize.Comma(h.Sweeps), colorize),
	}
}

func sweepDetail(o routing.Outcome) string {
	sum := o.Summary
	if sum == nil {
		return ""
	}
	detail := fmt.Sprintf("moved %d, failed %d, skipped %d (%s)", sum.Moved, sum.Failed, sum.Skipped, humanize.IBytes(uint64(sum.Bytes)))
	if sum.Rejected > 0 {
		detail += fmt.Sprintf(", %d rejected", sum.Rejected)
	}
	if !o.Finished.IsZero() {
		detail += ", " + humanize.Time(o.Finished)
	}
	return detail
}
