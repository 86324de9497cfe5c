package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the session state",
	Args:  cobra.NoArgs,
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	resp, err := http.Get(serverURL + "/api/session")
	if err != nil {
		return fmt.Errorf("connecting to server: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("server error (%d): %s", resp.StatusCode, string(body))
	}

	var snap snapshot
	if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
		return fmt.Errorf("parsing response: %w", err)
	}

	fmt.Printf("Mode:     %s\n", snap.Mode)
	fmt.Printf("Dataset:  %s\n", readyIcon(snap.DatasetReady))
	fmt.Printf("Busy:     %v\n", snap.Busy)
	fmt.Printf("Turns:    %d\n", len(snap.Turns))
	if snap.LastError != "" {
		fmt.Printf("Error:    %s\n", snap.LastError)
	}
	for _, t := range snap.Turns {
		if len(t.Actions) > 0 {
			fmt.Printf("Pending:  plan awaiting confirmation (turn %s)\n", t.ID)
		}
	}

	return nil
}

func readyIcon(ready bool) string {
	if ready {
		return "\033[32mready\033[0m"
	}
	return "\033[33mnot loaded\033[0m"
}
