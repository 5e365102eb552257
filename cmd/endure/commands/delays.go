package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/endure/endure-sdk-go/pkg/backoff"
	"github.com/endure/endure-sdk-go/pkg/catalog"
)

func newDelaysCommand() *cobra.Command {
	var (
		mechanism  string
		baseDelay  time.Duration
		maxRetries int
	)

	cmd := &cobra.Command{
		Use:   "delays [action]",
		Short: "Print the retry schedule of a policy",
		Long: `Print every delay a retry policy waits before its retries.

With an action name the catalog policy of that action is used, otherwise the
policy is built from the flags.`,
		Example: `  endure delays process_refund
  endure delays --mechanism linear --base 2s --retries 4`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var policy backoff.Policy
			if len(args) == 1 {
				e, ok := catalog.Lookup(args[0])
				if !ok {
					return fmt.Errorf("unknown action %q", args[0])
				}
				policy = e.Policy
			} else {
				m, err := backoff.ParseMechanism(mechanism)
				if err != nil {
					return err
				}
				policy, err = backoff.New(m, baseDelay, maxRetries)
				if err != nil {
					return err
				}
			}

			schedule := policy.Schedule()
			if jsonOutput {
				delays := make([]string, len(schedule))
				for i, d := range schedule {
					delays[i] = d.String()
				}
				return printJSON(cmd, map[string]any{"policy": policy, "delays": delays})
			}

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, policy)
			var total time.Duration
			for i, d := range schedule {
				total += d
				fmt.Fprintf(out, "retry %d: wait %s (cumulative %s)\n", i+1, d, total)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&mechanism, "mechanism", "m", "exponential", "backoff mechanism (exponential, linear, constant)")
	cmd.Flags().DurationVarP(&baseDelay, "base", "b", time.Second, "base delay")
	cmd.Flags().IntVarP(&maxRetries, "retries", "r", 3, "maximum number of retries")

	return cmd
}
