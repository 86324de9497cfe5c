// DataWizard - chat with your dataset.
//
// Upload a CSV, ask questions in plain language, confirm plans, get charts.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	version   = "dev"
	serverURL string
)

var rootCmd = &cobra.Command{
	Use:   "datawiz",
	Short: "DataWizard - chat with your dataset",
	Long: `DataWizard is a conversation orchestrator for chat-driven data analysis.
Upload a CSV, ask questions, confirm plans, get charts.

  datawiz serve                         Start the server
  datawiz upload sales.csv              Load a dataset
  datawiz ask "average revenue by region?"
  datawiz report                        Generate a dataset report
  datawiz status                        Show session state`,
	Version: version,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", envOr("DATAWIZ_SERVER", "http://localhost:7080"), "DataWizard server URL")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
