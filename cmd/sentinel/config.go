package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sentinelwatch/sentinel/internal/config"
)

// NewConfigCmd creates the config command group.
func NewConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Validate or describe the triage config file",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "validate <file>",
		Short: "Load and schema check a triage config file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadTriageConfig(args[0])
			if err != nil {
				return err
			}
			fmt.Printf("%s is valid (%d feeds, %d relevance rules, %d guardrails)\n",
				args[0], len(cfg.Feeds), len(cfg.Rules.Relevance), len(cfg.Rules.Guardrails))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "schema",
		Short: "Print the JSON schema for the triage config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			schema, err := config.TriageConfigSchema()
			if err != nil {
				return err
			}
			fmt.Println(string(schema))
			return nil
		},
	})

	return cmd
}
