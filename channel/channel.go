// Package channel defines the contract between chat-surface integrations
// and the session orchestrator. A channel renders snapshots and forwards
// user intent; it never holds conversation state of its own.
package channel

import (
	"context"
	"io"

	"github.com/wizardhq/datawizard/model"
)

// Session is the orchestrator surface a channel drives. Dispatching methods
// report false when the call was debounced or rejected locally; the reason
// lives in the next snapshot's LastError.
type Session interface {
	UploadDataset(ctx context.Context, filename string, data io.Reader) bool
	SendMessage(ctx context.Context, content string) bool
	ConfirmPlan(ctx context.Context, turnID string) bool
	CancelPlan(turnID string) bool
	RetryLastTurn(ctx context.Context) bool
	GenerateReport(ctx context.Context) bool
	Reset()
	SetMode(m model.Mode)
	Snapshot() model.Snapshot
}

// Runner is a long-lived channel integration. Run blocks until the context
// is canceled or a fatal transport error occurs.
type Runner interface {
	// Name identifies the channel in logs.
	Name() string
	Run(ctx context.Context) error
}
