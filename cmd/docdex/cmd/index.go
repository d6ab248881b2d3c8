package cmd

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

func newIndexCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "index",
		Short: "Run one full catalog sync",
		Long: `Scan the configured roots, reconcile changes against the catalog
and bring the keyword and vector indexes up to date.

Unfinished operations from an interrupted run are replayed first.
Interrupting with Ctrl-C is safe: in-flight work rolls back to pending
and the next run picks it up.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runIndex(cmd)
		},
	}
}

func runIndex(cmd *cobra.Command) error {
	rt, err := openRuntime(true)
	if err != nil {
		return err
	}
	defer rt.close()

	runner, err := rt.newRunner()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	result, err := runner.FullSync(ctx)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "indexed %d, deleted %d, failed %d, skipped %d in %s\n",
		result.Upserted, result.Deleted, result.Failed, result.Skipped,
		result.Duration.Round(timeRound))
	if result.Failed > 0 {
		fmt.Fprintln(out, "some files failed; run 'docdex status' for details, the next run retries them")
	}
	return nil
}
