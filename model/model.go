// Package model defines the core domain types shared across all DataWizard
// packages. It has zero dependencies on other DataWizard packages.
package model

import (
	"fmt"
	"strings"
	"time"
)

// Role identifies who produced a turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Mode selects how the agent handles a chat turn.
type Mode string

const (
	// ModePlanning asks the agent for a plan first; execution waits for an
	// explicit confirmation from the user.
	ModePlanning Mode = "planning"
	// ModeFast executes the request directly without a confirmation round.
	ModeFast Mode = "fast"
)

// ValidMode reports whether m is a known interaction mode.
func ValidMode(m Mode) bool {
	return m == ModePlanning || m == ModeFast
}

// ActionKind tags the effect of a plan-proposal action.
type ActionKind string

const (
	ActionConfirm ActionKind = "confirm"
	ActionCancel  ActionKind = "cancel"
)

// ActionVariant is a presentation hint for an action button.
type ActionVariant string

const (
	VariantPrimary   ActionVariant = "primary"
	VariantSecondary ActionVariant = "secondary"
)

// ActionEffect is the serializable dispatch target of an action. Turn data
// carries no behavior; the orchestrator resolves the effect by turn ID.
// PlanTurnID names the assistant turn holding the plan text a confirm
// re-dispatches, so the lookup stays exact even when the proposal reply
// also produced a code turn.
type ActionEffect struct {
	Kind       ActionKind `json:"kind"`
	TurnID     string     `json:"turn_id"`
	PlanTurnID string     `json:"plan_turn_id,omitempty"`
}

// Action is one button attached to a plan-proposal turn.
type Action struct {
	Label   string        `json:"label"`
	Variant ActionVariant `json:"variant"`
	Effect  ActionEffect  `json:"effect"`
}

// Turn is one atomic contribution to the conversation, by user or assistant.
// A turn is immutable once appended, except that image data may be attached
// to the most recent assistant turn of the exchange that produced it.
type Turn struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`

	// ImageData holds a base64 PNG (raw or already data-URL prefixed),
	// attached to at most the last assistant turn of an exchange.
	ImageData string `json:"image_data,omitempty"`

	// Thought is optional planning-mode reasoning, informational only.
	Thought string `json:"thought,omitempty"`

	// Actions is non-empty only on a turn awaiting plan confirmation.
	// At most one such pending turn exists at a time.
	Actions []Action `json:"actions,omitempty"`
}

// HasActions reports whether the turn is a pending plan proposal.
func (t *Turn) HasActions() bool {
	return len(t.Actions) > 0
}

// Snapshot is the read-only view of session state handed to presentation.
// Presentation holds no business state of its own.
type Snapshot struct {
	Turns        []Turn `json:"turns"`
	Busy         bool   `json:"busy"`
	DatasetReady bool   `json:"dataset_ready"`
	LastError    string `json:"last_error,omitempty"`
	Mode         Mode   `json:"mode"`
}

// FencedCode wraps generated code in a markdown fence so it renders as a
// code block wherever the turn is displayed.
func FencedCode(lang, code string) string {
	return fmt.Sprintf("```%s\n%s\n```", lang, strings.TrimRight(code, "\n"))
}

// ImageDataURL normalizes raw base64 image data to a data URL. Already
// prefixed payloads pass through unchanged.
func ImageDataURL(data string) string {
	if data == "" || strings.HasPrefix(data, "data:") {
		return data
	}
	return "data:image/png;base64," + data
}

// Truncate shortens a string to maxLen runes, adding "..." if truncated.
func Truncate(s string, maxLen int) string {
	if maxLen <= 3 {
		r := []rune(s)
		if len(r) <= maxLen {
			return s
		}
		return string(r[:maxLen])
	}
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	return string(r[:maxLen-3]) + "..."
}
