package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/endure/endure-sdk-go/pkg/catalog"
)

func newCatalogCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "catalog",
		Short: "List the simulated action catalog",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			entries := catalog.Entries()
			if jsonOutput {
				rows := make([]map[string]any, 0, len(entries))
				for _, e := range entries {
					rows = append(rows, map[string]any{
						"name":         e.Name,
						"duration":     e.Duration.String(),
						"failure_rate": e.FailureRate,
						"policy":       e.Policy,
						"description":  e.Description,
					})
				}
				return printJSON(cmd, rows)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%-20s %-9s %-8s %s\n", "ACTION", "DURATION", "FAILURE", "POLICY")
			for _, e := range entries {
				fmt.Fprintf(out, "%-20s %-9s %-8s %s\n",
					e.Name, e.Duration, fmt.Sprintf("%.0f%%", e.FailureRate*100), e.Policy)
			}
			return nil
		},
	}
}
