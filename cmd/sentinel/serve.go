package main

import (
	"github.com/spf13/cobra"

	"github.com/sentinelwatch/sentinel/pkg/sentinel"
)

// NewServeCmd creates the serve command. It blocks until the HTTP server
// stops.
func NewServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run migrations, start the workflow engine and HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return sentinel.Start(nil)
		},
	}
}
