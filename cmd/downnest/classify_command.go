package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"downnest/internal/routing"
)

type classification struct {
	Name     string `json:"name"`
	Category string `json:"category,omitempty"`
	Ignored  bool   `json:"ignored,omitempty"`
}

func newClassifyCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "classify <file>...",
		Short: "Show which category folder a file name would be routed to",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			rules := routing.RulesFromConfig(cfg)

			results := make([]classification, 0, len(args))
			for _, arg := range args {
				name := filepath.Base(arg)
				if rules.IsTemp(name) {
					results = append(results, classification{Name: name, Ignored: true})
					continue
				}
				results = append(results, classification{Name: name, Category: rules.Classify(name)})
			}

			if asJSON {
				return writeJSON(cmd, results)
			}
			rows := make([][]any, 0, len(results))
			for _, r := range results {
				category := r.Category
				if r.Ignored {
					category = "(ignored: in-progress download)"
				}
				rows = append(rows, []any{r.Name, category})
			}
			fmt.Fprint(cmd.OutOrStdout(), renderTable([]column{{"File", textCell}, {"Category", textCell}}, rows))
			fmt.Fprintln(cmd.OutOrStdout())
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print results as JSON")
	return cmd
}
