package main

import (
	"github.com/spf13/cobra"

	"bobbrain/internal/domain/knowledge"
)

func buildRebuildCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rebuild",
		Short: "Rebuild the vector index from the document store and write a fresh snapshot",
		Args:  cobra.NoArgs,
		RunE:  runRebuild,
	}
}

func buildSyncCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Load the index and pull documents added since the last watermark",
		Args:  cobra.NoArgs,
		RunE:  runSync,
	}
}

func buildStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show index state and configured knowledge sources",
		Args:  cobra.NoArgs,
		RunE:  runStatus,
	}
}

func buildSearchCmd() *cobra.Command {
	var (
		k         int
		threshold float64
	)
	cmd := &cobra.Command{
		Use:   "search [query]",
		Short: "Semantic search over the vector index",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSearch(cmd, args[0], k, threshold)
		},
	}
	cmd.Flags().IntVarP(&k, "top-k", "k", 5, "Maximum number of results")
	cmd.Flags().Float64Var(&threshold, "threshold", -1, "Minimum cosine similarity (default INDEX_SIMILARITY_THRESHOLD)")
	return cmd
}

func buildIngestCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ingest [files...]",
		Short: "Parse, chunk, embed and index documents (md, txt, pdf, docx)",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runIngest(cmd, args)
		},
	}
}

func buildQueryCmd() *cobra.Command {
	var (
		mode    string
		showCtx bool
	)
	cmd := &cobra.Command{
		Use:   "query [question]",
		Short: "Answer a question through the knowledge orchestrator",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runQuery(cmd, args[0], mode, showCtx)
		},
	}
	cmd.Flags().StringVarP(&mode, "mode", "m", knowledge.ModeAuto, "auto, all, or a source name (vector, graph, analytics)")
	cmd.Flags().BoolVar(&showCtx, "show-context", false, "Print retrieved passages per source")
	return cmd
}
