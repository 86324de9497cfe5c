// Package store defines the persistence adapter for the conversation log.
//
// Durability is best-effort by design: the orchestrator writes the full turn
// sequence after every mutation and never blocks on a failed write. Loading
// either restores the whole sequence or nothing.
package store

import "github.com/wizardhq/datawizard/model"

// TurnStore persists the serialized turn sequence for a session.
type TurnStore interface {
	// Load returns the persisted turn sequence for the session, in order,
	// or nil when no snapshot exists.
	Load(sessionID string) ([]model.Turn, error)

	// Save replaces the persisted snapshot with the full turn sequence.
	Save(sessionID string, turns []model.Turn) error

	// Clear erases the persisted snapshot for the session.
	Clear(sessionID string) error

	// Close releases any underlying resources.
	Close() error
}
