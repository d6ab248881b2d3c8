package cmd

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/docdex/docdex/internal/search"
)

// searchOptions holds CLI flags for search.
type searchOptions struct {
	limit       int
	mode        string
	granularity string
	format      string
}

func newSearchCmd() *cobra.Command {
	var opts searchOptions

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search the catalog",
		Long: `Search indexed documents.

Hybrid mode combines BM25 keyword matching with semantic similarity
using reciprocal rank fusion. Without an embeddings provider, hybrid
serves keyword results and reports the degradation.

Examples:
  docdex search "quarterly revenue report"
  docdex search "incident postmortem" --mode keyword --limit 5
  docdex search "onboarding checklist" --granularity chunk --format json`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSearch(cmd, strings.Join(args, " "), opts)
		},
	}

	cmd.Flags().IntVarP(&opts.limit, "limit", "n", 0, "Maximum number of results (default from config)")
	cmd.Flags().StringVarP(&opts.mode, "mode", "m", "hybrid", "Search mode: hybrid, keyword, semantic")
	cmd.Flags().StringVarP(&opts.granularity, "granularity", "g", "document", "Result unit: document, chunk")
	cmd.Flags().StringVarP(&opts.format, "format", "f", "text", "Output format: text, json")

	return cmd
}

func runSearch(cmd *cobra.Command, query string, opts searchOptions) error {
	rt, err := openRuntime(false)
	if err != nil {
		return err
	}
	defer rt.close()

	engine := search.NewEngine(rt.cat, rt.text, rt.vectors, rt.embedder, rt.cfg.Search)
	resp, err := engine.Search(cmd.Context(), search.Request{
		Query:       query,
		Mode:        search.Mode(opts.mode),
		Granularity: search.Granularity(opts.granularity),
		Limit:       opts.limit,
	})
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if opts.format == "json" {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(searchOutput{
			Query:    query,
			Signals:  resp.Signals,
			Degraded: resp.Degraded,
			Results:  toJSONResults(resp.Results),
		})
	}

	if resp.Degraded {
		fmt.Fprintln(out, "note: semantic signal unavailable, keyword results only")
	}
	if len(resp.Results) == 0 {
		fmt.Fprintln(out, "no results")
		return nil
	}
	for i, res := range resp.Results {
		fmt.Fprintf(out, "%2d. %s  (score %.4f)\n", i+1, res.Path, res.Score)
		if opts.granularity == "chunk" {
			fmt.Fprintf(out, "    bytes %d-%d\n", res.Start, res.End)
		}
	}
	return nil
}

// searchOutput is the JSON shape of one search invocation.
type searchOutput struct {
	Query    string             `json:"query"`
	Signals  []string           `json:"signals"`
	Degraded bool               `json:"degraded"`
	Results  []searchResultJSON `json:"results"`
}

type searchResultJSON struct {
	ID           string  `json:"id"`
	Path         string  `json:"path"`
	Start        int     `json:"start,omitempty"`
	End          int     `json:"end,omitempty"`
	Score        float64 `json:"score"`
	KeywordRank  int     `json:"keyword_rank,omitempty"`
	SemanticRank int     `json:"semantic_rank,omitempty"`
}

func toJSONResults(results []*search.Result) []searchResultJSON {
	out := make([]searchResultJSON, len(results))
	for i, r := range results {
		out[i] = searchResultJSON{
			ID:           r.ID,
			Path:         r.Path,
			Start:        r.Start,
			End:          r.End,
			Score:        r.Score,
			KeywordRank:  r.KeywordRank,
			SemanticRank: r.SemanticRank,
		}
	}
	return out
}
