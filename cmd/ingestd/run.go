package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/surchile/platform-ingest/internal/config"
)

var runJSON bool

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Execute a single ingestion run and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

		cfg, err := config.Load()
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		engine, cleanup, err := buildPipeline(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer cleanup()

		sum, err := engine.Run(ctx)
		if err != nil {
			return fmt.Errorf("ingest run: %w", err)
		}

		if runJSON {
			out := map[string]any{
				"run_id":     sum.RunID,
				"succeeded":  sum.Succeeded,
				"failed":     sum.Failed,
				"skipped":    sum.Skipped,
				"elapsed_ms": sum.Elapsed.Milliseconds(),
			}
			return json.NewEncoder(os.Stdout).Encode(out)
		}
		fmt.Printf("%s: %d succeeded, %d failed, %d skipped in %s\n",
			sum.RunID, sum.Succeeded, sum.Failed, sum.Skipped, sum.Elapsed.Round(time.Millisecond))
		return nil
	},
}

func init() {
	runCmd.Flags().BoolVar(&runJSON, "json", false, "output the run summary as JSON")
	rootCmd.AddCommand(runCmd)
}
