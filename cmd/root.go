// Package cmd wires the command line entry points.
package cmd

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "parley",
	Short: "Parley - conversational AI toolkit backend",
	Long: `Parley serves a conversational AI backend: multi-turn chat with
retrieval tools, result collation and reranking, and persistent
conversations.

Run "parley serve" to start the HTTP API.`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
