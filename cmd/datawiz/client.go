package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// snapshot mirrors the server's session snapshot wire shape.
type snapshot struct {
	Turns        []turn `json:"turns"`
	Busy         bool   `json:"busy"`
	DatasetReady bool   `json:"dataset_ready"`
	LastError    string `json:"last_error"`
	Mode         string `json:"mode"`
}

type turn struct {
	ID        string   `json:"id"`
	Role      string   `json:"role"`
	Content   string   `json:"content"`
	ImageData string   `json:"image_data"`
	Actions   []action `json:"actions"`
}

type action struct {
	Label  string `json:"label"`
	Effect struct {
		Kind   string `json:"kind"`
		TurnID string `json:"turn_id"`
	} `json:"effect"`
}

// postSnapshot sends a request and decodes the snapshot the server answers
// with. 409 means the call was a no-op; the snapshot still explains why.
func postSnapshot(method, path, contentType string, body io.Reader) (*snapshot, bool, error) {
	req, err := http.NewRequest(method, serverURL+path, body)
	if err != nil {
		return nil, false, err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, false, fmt.Errorf("connecting to server: %w\nIs the server running? Start it with: datawiz serve", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusConflict {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, false, fmt.Errorf("server error (%d): %s", resp.StatusCode, string(respBody))
	}

	var snap snapshot
	if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
		return nil, false, fmt.Errorf("parsing response: %w", err)
	}
	return &snap, resp.StatusCode == http.StatusOK, nil
}

// printNewTurns prints every assistant turn after the last user turn, which
// is exactly what the most recent exchange produced.
func printNewTurns(snap *snapshot) {
	start := 0
	for i := len(snap.Turns) - 1; i >= 0; i-- {
		if snap.Turns[i].Role == "user" {
			start = i + 1
			break
		}
	}
	for _, t := range snap.Turns[start:] {
		printTurn(t)
	}
}

func printTurn(t turn) {
	fmt.Println(t.Content)
	if t.ImageData != "" {
		fmt.Println("\033[33m[chart image attached]\033[0m")
	}
	for _, a := range t.Actions {
		fmt.Printf("\033[36m[%s]\033[0m datawiz plan %s --turn %s\n", a.Label, a.Effect.Kind, a.Effect.TurnID)
	}
	fmt.Println()
}

// explainNoOp tells the user why the server refused to dispatch.
func explainNoOp(snap *snapshot) {
	switch {
	case snap.LastError != "":
		fmt.Printf("\033[31mError:\033[0m %s\n", snap.LastError)
	case snap.Busy:
		fmt.Println("The session is busy with another request; try again shortly.")
	case !snap.DatasetReady:
		fmt.Println("No dataset loaded yet. Upload one first: datawiz upload data.csv")
	default:
		fmt.Println("Nothing to do.")
	}
}

func reportOutcome(snap *snapshot, dispatched bool) {
	if !dispatched {
		explainNoOp(snap)
		return
	}
	if snap.LastError != "" {
		fmt.Printf("\033[31mError:\033[0m %s\nRetry with: datawiz retry\n", snap.LastError)
		return
	}
	printNewTurns(snap)
}

func jsonBody(v any) io.Reader {
	data, _ := json.Marshal(v)
	return strings.NewReader(string(data))
}
