// Package backend defines the contract with the remote data-analysis agent.
//
// The agent is an opaque service with three operations: upload a dataset,
// send a chat turn, and request a narrative report. Implementations map
// wire responses to the result types here or to a typed *Error. Retry
// policy belongs to the caller, never to the client.
package backend

import (
	"context"
	"fmt"
	"io"

	"github.com/wizardhq/datawizard/model"
)

// ChatStatus signals how the agent settled a chat turn.
type ChatStatus string

const (
	// StatusOK means the turn was executed and the reply is final.
	StatusOK ChatStatus = "ok"
	// StatusAwaitingConfirmation means the reply is a plan proposal that
	// must be confirmed by the user before execution.
	StatusAwaitingConfirmation ChatStatus = "awaiting_confirmation"
)

// UploadResult describes a successfully ingested dataset.
type UploadResult struct {
	Filename    string
	RowCount    int
	ColumnCount int
	ColumnNames []string
	// SummaryText is the agent's semantic/quality summary, may be empty.
	SummaryText string
	// Catalog is the raw per-column profile when the agent supplies one.
	Catalog map[string]any
}

// ChatRequest is one conversational turn sent to the agent.
type ChatRequest struct {
	Message         string
	Mode            model.Mode
	IsConfirmedPlan bool
}

// ChatReply is the agent's answer to a chat turn.
type ChatReply struct {
	ResponseText  string
	Thought       string
	GeneratedCode string
	// ImageData is a base64 PNG produced by the executed code, if any.
	ImageData string
	Status    ChatStatus
}

// ReportResult is the narrative report over the uploaded dataset.
type ReportResult struct {
	ReportText string
}

// Client is the boundary adapter to the remote agent.
type Client interface {
	// Upload sends a dataset file to the agent, replacing any prior one.
	Upload(ctx context.Context, filename string, data io.Reader) (*UploadResult, error)

	// Chat sends one conversational turn.
	Chat(ctx context.Context, req ChatRequest) (*ChatReply, error)

	// Report asks for a narrative report over the retained dataset.
	Report(ctx context.Context) (*ReportResult, error)
}

// Error is a transport or protocol failure from the agent, carrying an
// HTTP-status-like code and optional structured detail.
type Error struct {
	Status int
	Detail string
}

func (e *Error) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("agent error (status %d): %s", e.Status, e.Detail)
	}
	return fmt.Sprintf("agent error (status %d)", e.Status)
}
