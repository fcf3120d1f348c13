package main

import (
	"github.com/spf13/cobra"

	"github.com/sentinelwatch/sentinel/pkg/sentinel"
)

// NewRootCmd creates the root command for the sentinel CLI.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "sentinel",
		Short: "Security news triage platform",
		Long: `Sentinel ingests security news feeds, scores and deduplicates articles
through a workflow engine, and publishes or escalates them for review.

Configuration is environment driven (SENTINEL_DATABASE_TYPE,
SENTINEL_DATABASE_URL, SENTINEL_JWT_SECRET, ...) plus a YAML triage
config pointed to by SENTINEL_CONFIG_FILE.`,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			sentinel.SetupLogger()
		},
	}

	root.AddCommand(NewServeCmd())
	root.AddCommand(NewUserCmd())
	root.AddCommand(NewTokenCmd())
	root.AddCommand(NewConfigCmd())

	return root
}
