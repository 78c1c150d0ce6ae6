package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/surchile/platform-ingest/internal/events"
)

var watchNATSURL string

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Tail ingestion events from the bus",
	Long: `watch subscribes to the platform.ingest.> subjects and prints each
event as a JSON line. Useful for checking a deployment is ingesting.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		url := watchNATSURL
		if url == "" {
			url = os.Getenv("INGEST_NATS_URL")
		}
		if url == "" {
			return fmt.Errorf("no NATS URL: set --nats-url or INGEST_NATS_URL")
		}

		sub, err := events.NewNATSSubscriber(url)
		if err != nil {
			return err
		}
		defer sub.Close()

		ch, cancel, err := sub.Subscribe("platform.ingest.>")
		if err != nil {
			return err
		}
		defer cancel()

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

		for {
			select {
			case msg, ok := <-ch:
				if !ok {
					return nil
				}
				fmt.Println(string(msg))
			case <-sigCh:
				return nil
			}
		}
	},
}

func init() {
	watchCmd.Flags().StringVar(&watchNATSURL, "nats-url", "", "NATS server URL")
	rootCmd.AddCommand(watchCmd)
}
