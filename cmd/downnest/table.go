package main

import (
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
)

// cellKind decides how a column's values are formatted and aligned.
type cellKind int

const (
	textCell cellKind = iota
	// countCell renders integers with thousands separators, right aligned.
	countCell
	// bytesCell renders a byte count as IEC units; zero renders empty.
	bytesCell
	// ageCell renders a time.Time relative to now; the zero time renders empty.
	ageCell
	// pathCell wraps long paths instead of widening the table.
	pathCell
)

const pathCellWidth = 56

type column struct {
	header string
	kind   cellKind
}

func renderTable(columns []column, rows [][]any) string {
	if len(columns) == 0 {
		return ""
	}

	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)

	header := make(table.Row, len(columns))
	configs := make([]table.ColumnConfig, len(columns))
	for i, col := range columns {
		header[i] = col.header
		configs[i] = table.ColumnConfig{Number: i + 1, Align: text.AlignLeft, AlignHeader: text.AlignLeft}
		switch col.kind {
		case countCell, bytesCell:
			configs[i].Align = text.AlignRight
		case pathCell:
			configs[i].WidthMax = pathCellWidth
		}
	}
	tw.AppendHeader(header)
	tw.SetColumnConfigs(configs)

	for _, row := range rows {
		r := make(table.Row, len(columns))
		for i, col := range columns {
			if i < len(row) {
				r[i] = formatCell(col.kind, row[i])
			} else {
				r[i] = ""
			}
		}
		tw.AppendRow(r)
	}
	return tw.Render()
}

func formatCell(kind cellKind, value any) string {
	switch kind {
	case countCell:
		if n, ok := asInt64(value); ok {
			return humanize.Comma(n)
		}
	case bytesCell:
		if n, ok := asInt64(value); ok {
			if n <= 0 {
				return ""
			}
			return humanize.IBytes(uint64(n))
		}
	case ageCell:
		if ts, ok := value.(time.Time); ok {
			if ts.IsZero() {
				return ""
			}
			return humanize.Time(ts)
		}
	}
	if value == nil {
		return ""
	}
	return fmt.Sprint(value)
}

func asInt64(value any) (int64, bool) {
	switch n := value.(type) {
	case int:
		return int64(n), true
	case int64:
		return n, true
	case uint64:
		return int64(n), true
	default:
		return 0, false
	}
}
