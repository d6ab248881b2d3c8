package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/docdex/docdex/internal/config"
)

func newInitCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init [root...]",
		Short: "Write a starter config file",
		Long: `Write a .docdex.yaml with defaults into the state directory.
Roots given as arguments are recorded as the scan roots.

Example:
  docdex init ~/Documents ~/Projects/notes`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInit(cmd, args, force)
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing config file")

	return cmd
}

func runInit(cmd *cobra.Command, roots []string, force bool) error {
	cfg := config.New()
	if v := os.Getenv("DOCDEX_STATE_DIR"); v != "" {
		cfg.StateDir = v
	}

	for _, root := range roots {
		abs, err := filepath.Abs(root)
		if err != nil {
			return fmt.Errorf("failed to resolve root %s: %w", root, err)
		}
		cfg.Roots.Paths = append(cfg.Roots.Paths, abs)
	}

	if err := os.MkdirAll(cfg.StateDir, 0o755); err != nil {
		return fmt.Errorf("failed to create state dir %s: %w", cfg.StateDir, err)
	}

	path := filepath.Join(cfg.StateDir, ".docdex.yaml")
	if _, err := os.Stat(path); err == nil && !force {
		return fmt.Errorf("%s already exists; use --force to overwrite", path)
	}

	if err := cfg.WriteYAML(path); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", path)
	if len(cfg.Roots.Paths) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "edit roots.paths before running 'docdex index'")
	}
	return nil
}
