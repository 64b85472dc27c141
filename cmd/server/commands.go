package main

import (
	"context"
	"encoding/json"
	"fmt"

	"persona-kb/internal/config"

	"github.com/spf13/cobra"
)

var retrieveTopK int

func newProcessCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "process [source-id]",
		Short: "Process one source synchronously",
		Long: `Segments, embeds and indexes a source, replacing any passages from an
earlier run. The source ends completed or failed; on failure the error is
recorded on the source and returned.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(a *app) error {
				source, err := a.processor.Process(context.Background(), args[0])
				if source != nil {
					if perr := printJSON(cmd, source); perr != nil {
						return perr
					}
				}
				if err != nil {
					return fmt.Errorf("processing failed: %w", err)
				}
				return nil
			})
		},
	}
}

func newRetrieveCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "retrieve [persona-id] [query]",
		Short: "Retrieve the passages closest to a query",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(a *app) error {
				results, err := a.retriever.Retrieve(context.Background(), args[0], args[1], retrieveTopK)
				if err != nil {
					return fmt.Errorf("retrieve failed: %w", err)
				}
				if len(results) == 0 {
					cmd.Println("No results found.")
					return nil
				}
				return printJSON(cmd, results)
			})
		},
	}
	cmd.Flags().IntVarP(&retrieveTopK, "top-k", "k", 0, "number of passages (0 uses RETRIEVAL_TOP_K)")
	return cmd
}

func newStatsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "stats [persona-id]",
		Short: "Show knowledge statistics for a persona",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(a *app) error {
				stats, err := a.stats.Stats(context.Background(), args[0])
				if err != nil {
					return fmt.Errorf("stats failed: %w", err)
				}
				return printJSON(cmd, stats)
			})
		},
	}
}

func newHealthCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check the vector index",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(a *app) error {
				status := a.stats.Health(context.Background())
				if err := printJSON(cmd, status); err != nil {
					return err
				}
				if status.Status != "healthy" {
					return fmt.Errorf("index is %s", status.Status)
				}
				return nil
			})
		},
	}
}

func withApp(fn func(a *app) error) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	a, err := newApp(cfg, nil)
	if err != nil {
		return err
	}
	defer a.Close()

	return fn(a)
}

func printJSON(cmd *cobra.Command, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal output: %w", err)
	}
	cmd.Println(string(data))
	return nil
}
