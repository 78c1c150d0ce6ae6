// Command ingestd mirrors platform event drops from the object store into
// the reporting document store.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "ingestd <command>",
	Short: "Platform event ingestion service",
	Long: `ingestd ingests the JSON event files the logistics platform drops
into S3 and mirrors them, deduplicated, into the reporting document store.`,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
