package main

import (
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

var cfgFile string

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

// newRootCommand builds the CLI. Without a subcommand it serves HTTP.
func newRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "server",
		Short: "Persona knowledge retrieval service",
		Long: `Ingests persona source documents, splits them into passages, embeds and
indexes them in pgvector, and retrieves the most relevant passages for chat.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cfgFile != "" {
				return os.Setenv("CONFIG_FILE", cfgFile)
			}
			return nil
		},
		RunE: runServe,
	}

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "YAML config file (overrides environment)")

	rootCmd.AddCommand(newServeCommand())
	rootCmd.AddCommand(newProcessCommand())
	rootCmd.AddCommand(newRetrieveCommand())
	rootCmd.AddCommand(newStatsCommand())
	rootCmd.AddCommand(newHealthCommand())

	return rootCmd
}
