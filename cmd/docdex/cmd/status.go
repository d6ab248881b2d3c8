package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

func newStatusCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show catalog and index status",
		Long: `Display catalog counts (files, documents, chunks, embeddings),
ops-log state, the current writer lease holder, and which embeddings
provider is configured.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runStatus(cmd, jsonOutput)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

// statusInfo is the status surface in one struct, JSON-ready.
type statusInfo struct {
	StateDir     string `json:"state_dir"`
	ActiveFiles  int64  `json:"active_files"`
	DeletedFiles int64  `json:"deleted_files"`
	Documents    int64  `json:"documents"`
	Chunks       int64  `json:"chunks"`
	Embeddings   int64  `json:"embeddings"`
	PendingOps   int64  `json:"pending_ops"`
	FailedOps    int64  `json:"failed_ops"`
	IndexedDocs  uint64 `json:"indexed_docs"`
	Vectors      int    `json:"vectors"`
	Provider     string `json:"provider,omitempty"`
	WriterPID    int    `json:"writer_pid,omitempty"`
	WriterHost   string `json:"writer_host,omitempty"`
}

func runStatus(cmd *cobra.Command, jsonOutput bool) error {
	rt, err := openRuntime(false)
	if err != nil {
		return err
	}
	defer rt.close()

	stats, err := rt.cat.Stats(cmd.Context())
	if err != nil {
		return err
	}

	info := statusInfo{
		StateDir:     rt.cfg.StateDir,
		ActiveFiles:  stats.ActiveFiles,
		DeletedFiles: stats.DeletedFiles,
		Documents:    stats.Documents,
		Chunks:       stats.Chunks,
		Embeddings:   stats.Embeddings,
		PendingOps:   stats.PendingOps,
		FailedOps:    stats.FailedOps,
	}
	if n, err := rt.text.DocCount(); err == nil {
		info.IndexedDocs = n
	}
	if rt.vectors != nil {
		info.Vectors = rt.vectors.Count()
		info.Provider = rt.vectors.Provider()
	}
	if lease, err := leaseHolder(rt); err == nil && lease != nil {
		info.WriterPID = lease.PID
		info.WriterHost = lease.Hostname
	}

	out := cmd.OutOrStdout()
	if jsonOutput {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(info)
	}

	fmt.Fprintf(out, "state dir:     %s\n", info.StateDir)
	fmt.Fprintf(out, "active files:  %d (%d tombstoned)\n", info.ActiveFiles, info.DeletedFiles)
	fmt.Fprintf(out, "documents:     %d (%d chunks, %d embeddings)\n",
		info.Documents, info.Chunks, info.Embeddings)
	fmt.Fprintf(out, "keyword index: %d documents\n", info.IndexedDocs)
	if info.Provider != "" {
		fmt.Fprintf(out, "vectors:       %d (%s)\n", info.Vectors, info.Provider)
	} else {
		fmt.Fprintln(out, "vectors:       none (no embeddings provider configured)")
	}
	fmt.Fprintf(out, "ops log:       %d pending, %d failed\n", info.PendingOps, info.FailedOps)
	if info.WriterPID != 0 {
		fmt.Fprintf(out, "writer:        pid %d on %s\n", info.WriterPID, info.WriterHost)
	}
	return nil
}
