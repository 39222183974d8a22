package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"downnest/internal/history"
	"downnest/internal/logging"
	"downnest/internal/routing"
)

func newHistoryCommand(ctx *commandContext) *cobra.Command {
	var (
		limit  int
		kinds  []string
		since  time.Duration
		format string
	)
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recorded moves, failures, and sweep summaries",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if !cfg.History.Enabled {
				return errors.New("history is disabled (set history.enabled = true)")
			}
			format = strings.ToLower(strings.TrimSpace(format))
			switch format {
			case "table", "json", "yaml":
			default:
				return fmt.Errorf("unsupported format %q (use table, json, or yaml)", format)
			}

			query := history.Query{Limit: limit}
			for _, k := range kinds {
				kind := routing.Kind(strings.TrimSpace(k))
				if !history.Persisted(kind) {
					return fmt.Errorf("unknown kind %q (use success, failure, or sweep_summary)", k)
				}
				query.Kinds = append(query.Kinds, kind)
			}
			if since > 0 {
				query.Since = time.Now().Add(-since)
			}

			var entries []history.Entry
			if _, statErr := os.Stat(cfg.HistoryPath()); statErr == nil {
				store, err := history.Open(cfg, logging.NewNop())
				if err != nil {
					return err
				}
				defer store.Close()
				entries, err = store.List(cmd.Context(), query)
				if err != nil {
					return err
				}
			}
			if entries == nil {
				entries = []history.Entry{}
			}

			switch format {
			case "json":
				return writeJSON(cmd, entries)
			case "yaml":
				return writeYAML(cmd, entries)
			}
			stdout := cmd.OutOrStdout()
			if len(entries) == 0 {
				fmt.Fprintln(stdout, "No outcomes recorded")
				return nil
			}
			fmt.Fprint(stdout, renderTable(historyColumns, historyRows(entries)))
			fmt.Fprintln(stdout)
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum number of entries (0 for all)")
	cmd.Flags().StringSliceVar(&kinds, "kind", nil, "Only show these kinds (success, failure, sweep_summary)")
	cmd.Flags().DurationVar(&since, "since", 0, "Only show entries newer than this age (e.g. 24h)")
	cmd.Flags().StringVarP(&format, "format", "f", "table", "Output format: table, json, or yaml")
	return cmd
}

var historyColumns = []column{
	{"When", ageCell},
	{"Kind", textCell},
	{"Origin", textCell},
	{"File", textCell},
	{"Category", textCell},
	{"Size", bytesCell},
	{"Detail", pathCell},
}

func historyRows(entries []history.Entry) [][]any {
	rows := make([][]any, 0, len(entries))
	for _, e := range entries {
		file := ""
		if e.Path != "" {
			file = filepath.Base(e.Path)
		}
		rows = append(rows, []any{
			e.Finished,
			string(e.Kind),
			string(e.Origin),
			file,
			e.Category,
			e.Size,
			historyDetail(e.Outcome),
		})
	}
	return rows
}

func historyDetail(o routing.Outcome) string {
	switch o.Kind {
	case routing.KindSuccess:
		detail := o.Destination
		if o.Renamed {
			detail += " (renamed)"
		}
		if o.CrossDevice {
			detail += " (copied across devices)"
		}
		return detail
	case routing.KindFailure:
		return o.Reason
	case routing.KindSweepSummary:
		if o.Summary != nil {
			return fmt.Sprintf("moved %d, failed %d, skipped %d (%s)",
				o.Summary.Moved, o.Summary.Failed, o.Summary.Skipped, humanize.IBytes(uint64(o.Summary.Bytes)))
		}
	}
	return ""
}
