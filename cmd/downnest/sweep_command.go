package main

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"downnest/internal/daemonctl"
	"downnest/internal/ipc"
	"downnest/internal/routing"
)

func newSweepCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "sweep [directory...]",
		Short: "Organize files already sitting in the download folders",
		Long: "Organize files already sitting in the download folders. With no arguments every " +
			"watched directory is swept. The running daemon does the work when reachable; " +
			"otherwise the sweep runs in this process.",
		RunE: func(cmd *cobra.Command, args []string) error {
			dirs := make([]string, 0, len(args))
			for _, arg := range args {
				abs, err := filepath.Abs(arg)
				if err != nil {
					return fmt.Errorf("resolve %q: %w", arg, err)
				}
				dirs = append(dirs, abs)
			}

			out, viaDaemon, err := runSweep(cmd, ctx, dirs)
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd, out)
			}
			stdout := cmd.OutOrStdout()
			if !viaDaemon {
				fmt.Fprintln(stdout, "Daemon not running; swept in-process")
			}
			fmt.Fprintln(stdout, sweepSummaryLine(out))
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the sweep summary outcome as JSON")
	return cmd
}

func runSweep(cmd *cobra.Command, ctx *commandContext, dirs []string) (routing.Outcome, bool, error) {
	client, dialErr := ipc.Dial(ctx.socketPath())
	if dialErr == nil {
		defer client.Close()
		status, err := client.Status()
		if err == nil && status.Running {
			resp, err := client.Sweep(dirs)
			if err != nil {
				return routing.Outcome{}, true, err
			}
			return resp.Summary, true, nil
		}
	}

	cfg, err := ctx.ensureConfig()
	if err != nil {
		return routing.Outcome{}, false, err
	}
	out, err := daemonctl.SweepOffline(cmd.Context(), cfg, ctx.cliLogger(cfg), dirs)
	if errors.Is(err, daemonctl.ErrDaemonHoldsLock) {
		return routing.Outcome{}, false, fmt.Errorf("%w; check 'downnest status' or remove a stale daemon with 'downnest stop'", err)
	}
	return out, false, err
}

func sweepSummaryLine(out routing.Outcome) string {
	sum := out.Summary
	if sum == nil {
		return "Sweep finished"
	}
	line := fmt.Sprintf("Sweep complete: moved %d (%s), failed %d, skipped %d across %d %s",
		sum.Moved, humanize.IBytes(uint64(sum.Bytes)), sum.Failed, sum.Skipped,
		len(sum.Directories), pluralize(len(sum.Directories), "directory", "directories"))
	if sum.Rejected > 0 {
		line += fmt.Sprintf("; %d not scheduled (worker pool saturated)", sum.Rejected)
	}
	return line
}

func pluralize(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}
