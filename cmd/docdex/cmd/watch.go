package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

func newWatchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Sync once, then follow live file-system changes",
		Long: `Run a full sync, then keep the indexes current by following
file-system events under the configured roots until interrupted.

Index commits happen on the configured commit interval; results of a
query become visible at the next commit, not per keystroke.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runWatch(cmd)
		},
	}
}

func runWatch(cmd *cobra.Command) error {
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

	fmt.Fprintln(cmd.OutOrStdout(), "watching; press Ctrl-C to stop")
	if err := runner.Watch(ctx); err != nil && err != context.Canceled {
		return err
	}
	return nil
}
