package main

import (
	"bytes"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
)

var uploadCmd = &cobra.Command{
	Use:   "upload [file.csv]",
	Short: "Load a CSV dataset into the session",
	Long: `Upload a CSV file as the session's dataset. Uploading again replaces
the dataset; the conversation history is kept.

Example:
  datawiz upload sales.csv`,
	Args: cobra.ExactArgs(1),
	RunE: runUpload,
}

func init() {
	rootCmd.AddCommand(uploadCmd)
}

func runUpload(cmd *cobra.Command, args []string) error {
	path := args[0]

	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", filepath.Base(path))
	if err != nil {
		return fmt.Errorf("building upload form: %w", err)
	}
	if _, err := io.Copy(part, f); err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}
	if err := mw.Close(); err != nil {
		return err
	}

	snap, dispatched, err := postSnapshot(http.MethodPost, "/api/session/upload",
		mw.FormDataContentType(), &buf)
	if err != nil {
		return err
	}
	if !dispatched {
		explainNoOp(snap)
		return nil
	}
	if snap.LastError != "" {
		fmt.Printf("\033[31mUpload failed:\033[0m %s\n", snap.LastError)
		return nil
	}

	// The upload narration is the tail of the log.
	n := len(snap.Turns)
	for _, t := range snap.Turns[max(0, n-3):] {
		printTurn(t)
	}
	return nil
}
