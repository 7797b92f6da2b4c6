package main

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"bobbrain/internal/app/bootstrap"
	"bobbrain/internal/platform/config"
	applog "bobbrain/internal/platform/log"
)

var errIndexNotReady = errors.New("vector index is not ready, check document store connectivity")

// loadApp 加载配置并组装组件。命令行默认只输出 warn 以上日志。
func loadApp(cmd *cobra.Command) (*bootstrap.App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	level := "warn"
	if v, _ := cmd.Flags().GetString("log-level"); v != "" {
		level = v
	}
	applog.Init(applog.Config{Level: level, Format: cfg.LogFormat})

	app, err := bootstrap.Build(cmd.Context(), cfg)
	if err != nil {
		return nil, err
	}
	return app, nil
}

func withApp(cmd *cobra.Command, fn func(ctx context.Context, app *bootstrap.App) error) error {
	app, err := loadApp(cmd)
	if err != nil {
		return err
	}
	defer app.Close(context.Background())
	return fn(cmd.Context(), app)
}

func runRebuild(cmd *cobra.Command, _ []string) error {
	return withApp(cmd, func(ctx context.Context, app *bootstrap.App) error {
		if !app.Index.Initialize(ctx, true) {
			return errIndexNotReady
		}
		st := app.Index.Stats()
		fmt.Fprintf(cmd.OutOrStdout(), "✅ Rebuilt index: %d documents, %d dims (model: %s)\n", st.Count, st.Dims, st.Model)
		return nil
	})
}

func runSync(cmd *cobra.Command, _ []string) error {
	return withApp(cmd, func(ctx context.Context, app *bootstrap.App) error {
		if !app.Index.Initialize(ctx, false) {
			return errIndexNotReady
		}
		before := app.Index.Stats().Count
		if !app.Index.SyncIncremental(ctx) {
			return errors.New("incremental sync failed")
		}
		st := app.Index.Stats()
		fmt.Fprintf(cmd.OutOrStdout(), "✅ Synced: %d documents (+%d), watermark %s\n",
			st.Count, st.Count-before, st.Watermark.Format("2006-01-02 15:04:05"))
		return nil
	})
}

func runStatus(cmd *cobra.Command, _ []string) error {
	return withApp(cmd, func(ctx context.Context, app *bootstrap.App) error {
		app.Index.Initialize(ctx, false)
		st := app.Index.Stats()
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Index:     %s\n", st.State)
		fmt.Fprintf(out, "Documents: %d\n", st.Count)
		fmt.Fprintf(out, "Dims:      %d (model: %s)\n", st.Dims, st.Model)
		if !st.BuiltAt.IsZero() {
			fmt.Fprintf(out, "Built at:  %s\n", st.BuiltAt.Format("2006-01-02 15:04:05"))
		}
		fmt.Fprintf(out, "Sources:   %s\n", strings.Join(app.Orchestrator.SourceNames(), ", "))
		fmt.Fprintf(out, "LLMs:      %s\n", strings.Join(app.Providers.List(), ", "))
		return nil
	})
}

func runSearch(cmd *cobra.Command, query string, k int, threshold float64) error {
	return withApp(cmd, func(ctx context.Context, app *bootstrap.App) error {
		if !app.Index.Initialize(ctx, false) {
			return errIndexNotReady
		}
		if threshold < -1 {
			threshold = app.Config.Index.SimilarityThreshold
		}
		results, err := app.Index.Search(ctx, query, k, threshold)
		if err != nil {
			return fmt.Errorf("search failed: %w", err)
		}

		out := cmd.OutOrStdout()
		if len(results) == 0 {
			fmt.Fprintln(out, "No results found.")
			return nil
		}
		fmt.Fprintf(out, "Found %d results:\n\n", len(results))
		for i, r := range results {
			content, source := "", ""
			if r.Document != nil {
				content = truncate(r.Document.Content, 200)
				source = r.Document.Metadata["source"]
			}
			fmt.Fprintf(out, "%d. [Score: %.3f] %s\n", i+1, r.Score, content)
			fmt.Fprintf(out, "   ID: %s | Source: %s\n\n", r.DocID, source)
		}
		return nil
	})
}

func runIngest(cmd *cobra.Command, paths []string) error {
	return withApp(cmd, func(ctx context.Context, app *bootstrap.App) error {
		if !app.Index.Initialize(ctx, false) {
			return errIndexNotReady
		}
		out := cmd.OutOrStdout()
		var failed int
		for _, path := range paths {
			rep, err := app.Ingester.IngestFile(ctx, path)
			if err != nil {
				failed++
				fmt.Fprintf(out, "❌ %s: %v\n", filepath.Base(path), err)
				continue
			}
			fmt.Fprintf(out, "✅ %s: %d chunks\n", rep.Source, rep.Chunks)
		}
		if failed > 0 {
			return fmt.Errorf("%d of %d files failed", failed, len(paths))
		}
		return nil
	})
}

func runQuery(cmd *cobra.Command, question, mode string, showCtx bool) error {
	return withApp(cmd, func(ctx context.Context, app *bootstrap.App) error {
		app.Index.Initialize(ctx, false)
		ans, err := app.Orchestrator.Query(ctx, question, mode)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "[%s] %s\n", ans.Mode, ans.Text)
		if !showCtx {
			return nil
		}
		for _, src := range ans.Sources {
			fmt.Fprintf(out, "\n--- %s (%d passages)\n", src.Name, len(src.Passages))
			if src.Error != "" {
				fmt.Fprintf(out, "    error: %s\n", src.Error)
			}
			for _, p := range src.Passages {
				fmt.Fprintf(out, "  - %s\n", truncate(p.Text, 160))
			}
		}
		return nil
	})
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}
