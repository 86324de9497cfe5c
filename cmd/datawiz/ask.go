package main

import (
	"fmt"
	"net/http"

	"github.com/spf13/cobra"
)

var askCmd = &cobra.Command{
	Use:   "ask [question]",
	Short: "Ask a question about the loaded dataset",
	Long: `Send one conversational turn to the session.

In planning mode the agent may answer with a plan that needs confirmation;
the printed output then includes the confirm/cancel commands.

Example:
  datawiz ask "what is the average revenue by region?"`,
	Args: cobra.ExactArgs(1),
	RunE: runAsk,
}

var planTurnID string

var planCmd = &cobra.Command{
	Use:       "plan [confirm|cancel]",
	Short:     "Confirm or cancel a pending plan proposal",
	Args:      cobra.ExactArgs(1),
	ValidArgs: []string{"confirm", "cancel"},
	RunE:      runPlan,
}

var retryCmd = &cobra.Command{
	Use:   "retry",
	Short: "Discard the last exchange and re-send your last question",
	Args:  cobra.NoArgs,
	RunE:  runSimplePost("/api/session/retry"),
}

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Generate a narrative report over the loaded dataset",
	Args:  cobra.NoArgs,
	RunE:  runSimplePost("/api/session/report"),
}

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Clear the session and start over",
	Args:  cobra.NoArgs,
	RunE:  runReset,
}

var modeCmd = &cobra.Command{
	Use:       "mode [planning|fast]",
	Short:     "Switch the interaction mode",
	Args:      cobra.ExactArgs(1),
	ValidArgs: []string{"planning", "fast"},
	RunE:      runMode,
}

func init() {
	planCmd.Flags().StringVar(&planTurnID, "turn", "", "ID of the proposal turn")
	planCmd.MarkFlagRequired("turn")
	rootCmd.AddCommand(askCmd)
	rootCmd.AddCommand(planCmd)
	rootCmd.AddCommand(retryCmd)
	rootCmd.AddCommand(reportCmd)
	rootCmd.AddCommand(resetCmd)
	rootCmd.AddCommand(modeCmd)
}

func runAsk(cmd *cobra.Command, args []string) error {
	snap, dispatched, err := postSnapshot(http.MethodPost, "/api/session/messages",
		"application/json", jsonBody(map[string]string{"content": args[0]}))
	if err != nil {
		return err
	}
	reportOutcome(snap, dispatched)
	return nil
}

func runPlan(cmd *cobra.Command, args []string) error {
	snap, dispatched, err := postSnapshot(http.MethodPost, "/api/session/actions",
		"application/json", jsonBody(map[string]string{"turn_id": planTurnID, "kind": args[0]}))
	if err != nil {
		return err
	}
	if dispatched && args[0] == "cancel" {
		fmt.Println("Plan canceled.")
		return nil
	}
	reportOutcome(snap, dispatched)
	return nil
}

func runSimplePost(path string) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		snap, dispatched, err := postSnapshot(http.MethodPost, path, "", nil)
		if err != nil {
			return err
		}
		reportOutcome(snap, dispatched)
		return nil
	}
}

func runReset(cmd *cobra.Command, args []string) error {
	if _, _, err := postSnapshot(http.MethodPost, "/api/session/reset", "", nil); err != nil {
		return err
	}
	fmt.Println("Session cleared.")
	return nil
}

func runMode(cmd *cobra.Command, args []string) error {
	snap, _, err := postSnapshot(http.MethodPut, "/api/session/mode",
		"application/json", jsonBody(map[string]string{"mode": args[0]}))
	if err != nil {
		return err
	}
	fmt.Printf("Mode set to %s.\n", snap.Mode)
	return nil
}
