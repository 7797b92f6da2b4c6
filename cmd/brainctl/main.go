// brainctl 知识库运维命令行：重建/同步索引、导入文档、检索与问答调试。
//
//	brainctl rebuild
//	brainctl ingest docs/*.md
//	brainctl search "how do I reset the router" -k 3
//	brainctl query "who owns billing-service" --mode graph
//
// 配置与 server 相同（.env、APP_CONFIG_FILE、环境变量）。
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = "none"
)

func main() {
	if err := buildRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "❌ %v\n", err)
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "brainctl",
		Short:        "Bob knowledge base maintenance tool",
		Version:      fmt.Sprintf("%s (commit: %s)", version, commit),
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().String("log-level", "", "Override LOG_LEVEL")

	rootCmd.AddCommand(
		buildRebuildCmd(),
		buildSyncCmd(),
		buildStatusCmd(),
		buildSearchCmd(),
		buildIngestCmd(),
		buildQueryCmd(),
	)
	return rootCmd
}
