// Package session provides the conversation orchestration logic for
// DataWizard. It depends only on interfaces (backend client, turn store).
//
// One Orchestrator owns one user session: the message log, the dataset
// readiness gate, the single-flight busy lock, the plan confirmation
// protocol, persistence, and retry. Presentation layers consume read-only
// snapshots and never hold business state.
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/wizardhq/datawizard/backend"
	"github.com/wizardhq/datawizard/model"
	"github.com/wizardhq/datawizard/store"
)

// Fallback summary when the agent supplies no semantic summary, kept
// word-for-word from the product copy.
const defaultSummary = "I have analyzed the schema. You can ask me to visualize distributions, detect outliers, or run statistical tests."

// proposalPrompt is the content of a plan-proposal turn; the plan text
// itself lives in the preceding assistant turn.
const proposalPrompt = "The plan above is awaiting your confirmation."

// Config holds orchestrator-specific configuration.
type Config struct {
	// SessionID scopes the persisted snapshot.
	SessionID string

	// Mode is the initial interaction mode (default: planning).
	Mode model.Mode

	// StrictHydration disables the optimistic readiness grant when a
	// non-empty log is restored: the backend may no longer hold the
	// dataset, so the user must upload again before chatting.
	StrictHydration bool

	// RetryDelay is the pause between truncating the log and re-sending
	// during RetryLastTurn, letting callers observe the settled state
	// before the busy lock is re-entered (default: 100ms).
	RetryDelay time.Duration
}

// Orchestrator is the stateful controller for one conversation session.
type Orchestrator struct {
	cfg     Config
	backend backend.Client
	turns   store.TurnStore

	now   func() time.Time
	newID func() string

	mu       sync.Mutex
	messages []model.Turn
	busy     bool
	ready    bool
	lastErr  string
	mode     model.Mode
	hydrated bool
}

// New creates an Orchestrator with constructor-injected collaborators.
func New(cfg Config, bc backend.Client, ts store.TurnStore) *Orchestrator {
	if cfg.Mode == "" {
		cfg.Mode = model.ModePlanning
	}
	if cfg.RetryDelay == 0 {
		cfg.RetryDelay = 100 * time.Millisecond
	}
	return &Orchestrator{
		cfg:     cfg,
		backend: bc,
		turns:   ts,
		now:     time.Now,
		newID:   func() string { return uuid.New().String() },
		mode:    cfg.Mode,
	}
}

// SessionID returns the persistence scope of this session.
func (o *Orchestrator) SessionID() string { return o.cfg.SessionID }

// Hydrate restores the persisted log. It runs at most once per orchestrator
// lifetime; every public operation triggers it lazily as well, so calling it
// eagerly at startup is optional.
func (o *Orchestrator) Hydrate() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.hydrateLocked()
}

func (o *Orchestrator) hydrateLocked() {
	if o.hydrated {
		return
	}
	o.hydrated = true

	restored, err := o.turns.Load(o.cfg.SessionID)
	if err != nil {
		log.Printf("session %s: hydration failed: %v", o.cfg.SessionID, err)
		return
	}
	if len(restored) == 0 {
		return
	}
	o.messages = restored
	// A non-empty log is taken as evidence a dataset was loaded. The
	// backend may have forgotten it since; StrictHydration opts out of
	// the optimistic grant.
	if !o.cfg.StrictHydration {
		o.ready = true
	}
}

// Snapshot returns a read-only view of the session state.
func (o *Orchestrator) Snapshot() model.Snapshot {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.hydrateLocked()

	turns := make([]model.Turn, len(o.messages))
	copy(turns, o.messages)
	return model.Snapshot{
		Turns:        turns,
		Busy:         o.busy,
		DatasetReady: o.ready,
		LastError:    o.lastErr,
		Mode:         o.mode,
	}
}

// SetMode switches between planning and fast interaction for subsequent
// SendMessage calls. Unknown modes are ignored.
func (o *Orchestrator) SetMode(m model.Mode) {
	if !model.ValidMode(m) {
		return
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	o.mode = m
}

// UploadDataset validates and uploads a dataset file, then narrates the
// result into the log. Only .csv files are accepted; rejection happens
// locally without contacting the agent. A failed re-upload never revokes a
// previously ready session. Returns false when the call was a no-op.
func (o *Orchestrator) UploadDataset(ctx context.Context, filename string, data io.Reader) bool {
	o.mu.Lock()
	o.hydrateLocked()
	if o.busy {
		o.mu.Unlock()
		return false
	}
	o.lastErr = ""
	if !strings.HasSuffix(strings.ToLower(filename), ".csv") {
		o.lastErr = fmt.Sprintf("unsupported file type: %s (only .csv datasets are accepted)", filename)
		o.mu.Unlock()
		return false
	}
	o.busy = true
	o.mu.Unlock()

	res, err := o.backend.Upload(ctx, filename, data)

	o.mu.Lock()
	defer func() {
		o.busy = false
		o.mu.Unlock()
	}()

	if err != nil {
		o.lastErr = errorMessage(err)
		return true
	}

	summary := res.SummaryText
	if summary == "" {
		summary = defaultSummary
	}
	o.appendLocked(model.RoleAssistant,
		fmt.Sprintf("Dataset **%s** loaded successfully!", res.Filename))
	o.appendLocked(model.RoleAssistant, "**Data Summary:**\n"+summary)
	o.appendLocked(model.RoleAssistant,
		fmt.Sprintf("I have detected **%d** rows and **%d** columns.\n\n**Columns:** %s",
			res.RowCount, res.ColumnCount, strings.Join(res.ColumnNames, ", ")))
	o.ready = true
	o.persistLocked()
	return true
}

// SendMessage sends one user turn in the session's current mode. Blank
// content, a busy session, or a missing dataset make it a silent no-op
// (UI debounce contract). Returns false for the no-op case.
func (o *Orchestrator) SendMessage(ctx context.Context, content string) bool {
	return o.dispatch(ctx, content, o.currentMode(), false)
}

func (o *Orchestrator) currentMode() model.Mode {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.mode
}

// dispatch runs one chat exchange. A confirmed-plan re-dispatch reuses the
// already-visible plan text and does not append a user turn.
func (o *Orchestrator) dispatch(ctx context.Context, content string, mode model.Mode, confirmed bool) bool {
	content = strings.TrimSpace(content)

	o.mu.Lock()
	o.hydrateLocked()
	if content == "" || o.busy || !o.ready {
		o.mu.Unlock()
		return false
	}
	o.lastErr = ""
	if !confirmed {
		o.appendLocked(model.RoleUser, content)
		o.persistLocked()
	}
	o.busy = true
	o.mu.Unlock()

	reply, err := o.backend.Chat(ctx, backend.ChatRequest{
		Message:         content,
		Mode:            mode,
		IsConfirmedPlan: confirmed,
	})

	o.mu.Lock()
	defer func() {
		o.busy = false
		o.mu.Unlock()
	}()

	if err != nil {
		// The user turn stays in the log; retry, not undo, is the
		// recovery path.
		o.lastErr = errorMessage(err)
		return true
	}

	respTurn := o.appendLocked(model.RoleAssistant, reply.ResponseText)
	respTurn.Thought = reply.Thought
	respID := respTurn.ID

	if reply.GeneratedCode != "" {
		o.appendLocked(model.RoleAssistant, model.FencedCode("python", reply.GeneratedCode))
	}
	if reply.ImageData != "" {
		// The image rides on the last turn of the exchange; it never gets
		// a turn of its own.
		o.messages[len(o.messages)-1].ImageData = model.ImageDataURL(reply.ImageData)
	}

	if reply.Status == backend.StatusAwaitingConfirmation {
		// Only one proposal may be pending; a new one supersedes any
		// stale proposal still sitting in the log.
		o.dropProposalsLocked()
		proposal := o.appendLocked(model.RoleAssistant, proposalPrompt)
		proposal.Actions = []model.Action{
			{
				Label:   "Confirm & Execute",
				Variant: model.VariantPrimary,
				Effect:  model.ActionEffect{Kind: model.ActionConfirm, TurnID: proposal.ID, PlanTurnID: respID},
			},
			{
				Label:   "Cancel",
				Variant: model.VariantSecondary,
				Effect:  model.ActionEffect{Kind: model.ActionCancel, TurnID: proposal.ID},
			},
		}
	}

	o.persistLocked()
	return true
}

// ConfirmPlan executes the plan proposed by the turn with the given ID: the
// proposal turn is removed and the plan text (the assistant turn its confirm
// action references) is re-dispatched in fast mode as a confirmed plan,
// without appending a new user turn. Returns false when no matching proposal exists or the
// session cannot dispatch.
func (o *Orchestrator) ConfirmPlan(ctx context.Context, turnID string) bool {
	o.mu.Lock()
	o.hydrateLocked()
	if o.busy || !o.ready {
		o.mu.Unlock()
		return false
	}
	idx := o.proposalIndexLocked(turnID)
	if idx < 0 {
		o.mu.Unlock()
		return false
	}

	plan := o.planTextLocked(idx)
	if plan == "" {
		o.mu.Unlock()
		return false
	}

	o.removeTurnLocked(idx)
	o.persistLocked()
	o.mu.Unlock()

	return o.dispatch(ctx, plan, model.ModeFast, true)
}

// CancelPlan removes the proposal turn with the given ID from the log
// without contacting the agent.
func (o *Orchestrator) CancelPlan(turnID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.hydrateLocked()

	idx := o.proposalIndexLocked(turnID)
	if idx < 0 {
		return false
	}
	o.removeTurnLocked(idx)
	o.persistLocked()
	return true
}

// RetryLastTurn discards the most recent user turn and everything after it,
// clears the last error, and re-sends the identical content in planning
// mode. A log without user turns makes it a no-op.
func (o *Orchestrator) RetryLastTurn(ctx context.Context) bool {
	o.mu.Lock()
	o.hydrateLocked()
	if o.busy {
		o.mu.Unlock()
		return false
	}

	idx := -1
	for i := len(o.messages) - 1; i >= 0; i-- {
		if o.messages[i].Role == model.RoleUser {
			idx = i
			break
		}
	}
	if idx < 0 {
		o.mu.Unlock()
		return false
	}

	content := o.messages[idx].Content
	o.messages = o.messages[:idx]
	o.lastErr = ""
	o.persistLocked()
	o.mu.Unlock()

	// Deferred yield: let the UI settle on the truncated log before the
	// busy lock is re-entered.
	time.Sleep(o.cfg.RetryDelay)

	return o.dispatch(ctx, content, model.ModePlanning, false)
}

// GenerateReport asks the agent for a narrative report over the dataset it
// already holds and appends it as one assistant turn.
func (o *Orchestrator) GenerateReport(ctx context.Context) bool {
	o.mu.Lock()
	o.hydrateLocked()
	if o.busy || !o.ready {
		o.mu.Unlock()
		return false
	}
	o.lastErr = ""
	o.busy = true
	o.mu.Unlock()

	res, err := o.backend.Report(ctx)

	o.mu.Lock()
	defer func() {
		o.busy = false
		o.mu.Unlock()
	}()

	if err != nil {
		o.lastErr = errorMessage(err)
		return true
	}

	o.appendLocked(model.RoleAssistant, res.ReportText)
	o.persistLocked()
	return true
}

// Reset clears the session in memory and in the store. Idempotent.
func (o *Orchestrator) Reset() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.hydrateLocked()

	o.messages = nil
	o.lastErr = ""
	o.ready = false
	if err := o.turns.Clear(o.cfg.SessionID); err != nil {
		log.Printf("session %s: clearing snapshot failed: %v", o.cfg.SessionID, err)
	}
}

// Stop is the stop affordance at the interface boundary. In-flight requests
// cannot be aborted; this is an explicit no-op, not a cancellation.
func (o *Orchestrator) Stop() {}

// --- Internals (o.mu held) ---

// appendLocked appends a new turn and returns a pointer valid until the
// next mutation of the log.
func (o *Orchestrator) appendLocked(role model.Role, content string) *model.Turn {
	o.messages = append(o.messages, model.Turn{
		ID:        o.newID(),
		Role:      role,
		Content:   content,
		CreatedAt: o.now(),
	})
	return &o.messages[len(o.messages)-1]
}

func (o *Orchestrator) removeTurnLocked(idx int) {
	o.messages = append(o.messages[:idx], o.messages[idx+1:]...)
}

// proposalIndexLocked finds the action-bearing turn with the given ID.
func (o *Orchestrator) proposalIndexLocked(turnID string) int {
	for i, t := range o.messages {
		if t.ID == turnID && t.HasActions() {
			return i
		}
	}
	return -1
}

// dropProposalsLocked removes every action-bearing turn from the log.
func (o *Orchestrator) dropProposalsLocked() {
	kept := o.messages[:0]
	for _, t := range o.messages {
		if !t.HasActions() {
			kept = append(kept, t)
		}
	}
	o.messages = kept
}

// planTextLocked resolves the plan text the proposal at idx re-dispatches.
// The confirm action names the plan turn directly; snapshots persisted
// before that reference existed fall back to the nearest preceding assistant
// prose turn, skipping code turns.
func (o *Orchestrator) planTextLocked(idx int) string {
	for _, a := range o.messages[idx].Actions {
		if a.Effect.Kind != model.ActionConfirm || a.Effect.PlanTurnID == "" {
			continue
		}
		for i := idx - 1; i >= 0; i-- {
			if o.messages[i].ID == a.Effect.PlanTurnID {
				return o.messages[i].Content
			}
		}
		return ""
	}
	for i := idx - 1; i >= 0; i-- {
		t := o.messages[i]
		if t.Role == model.RoleAssistant && !t.HasActions() && !strings.HasPrefix(t.Content, "```") {
			return t.Content
		}
	}
	return ""
}

// persistLocked writes the full snapshot. Persistence is best-effort: a
// failed write is logged and never blocks the in-memory operation.
func (o *Orchestrator) persistLocked() {
	if err := o.turns.Save(o.cfg.SessionID, o.messages); err != nil {
		log.Printf("session %s: persisting snapshot failed: %v", o.cfg.SessionID, err)
	}
}

// errorMessage converts a backend failure into the user-facing LastError
// text, preferring structured detail when the agent supplied one.
func errorMessage(err error) string {
	var be *backend.Error
	if errors.As(err, &be) {
		if be.Detail != "" {
			return be.Detail
		}
		return fmt.Sprintf("the analysis agent returned an error (status %d)", be.Status)
	}
	return err.Error()
}
