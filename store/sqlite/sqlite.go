// Package sqlite implements store.TurnStore using SQLite.
package sqlite

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/wizardhq/datawizard/model"
)

// Store persists conversation snapshots in SQLite.
type Store struct {
	db *sql.DB
}

// New opens (or creates) a SQLite database at the given path.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Enable WAL mode for better concurrent read/write performance.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting WAL mode: %w", err)
	}

	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return &Store{db: db}, nil
}

func migrate(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS turns (
			session_id TEXT NOT NULL,
			position   INTEGER NOT NULL,
			id         TEXT NOT NULL,
			role       TEXT NOT NULL,
			content    TEXT NOT NULL,
			image_data TEXT NOT NULL DEFAULT '',
			thought    TEXT NOT NULL DEFAULT '',
			actions    TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL,
			PRIMARY KEY (session_id, position)
		);

		CREATE INDEX IF NOT EXISTS idx_turns_session_id
			ON turns(session_id);
	`)
	return err
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Load returns the persisted turn sequence for the session, or nil when no
// snapshot exists.
func (s *Store) Load(sessionID string) ([]model.Turn, error) {
	rows, err := s.db.Query(
		`SELECT id, role, content, image_data, thought, actions, created_at
		 FROM turns
		 WHERE session_id = ?
		 ORDER BY position ASC`,
		sessionID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var turns []model.Turn
	for rows.Next() {
		var (
			t         model.Turn
			actions   string
			createdAt string
		)
		if err := rows.Scan(&t.ID, &t.Role, &t.Content, &t.ImageData, &t.Thought, &actions, &createdAt); err != nil {
			return nil, err
		}
		// RFC3339Nano text keeps the restored instant equal to the original.
		t.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt)
		if err != nil {
			return nil, fmt.Errorf("parsing turn %s timestamp: %w", t.ID, err)
		}
		if actions != "" {
			if err := json.Unmarshal([]byte(actions), &t.Actions); err != nil {
				return nil, fmt.Errorf("decoding turn %s actions: %w", t.ID, err)
			}
		}
		turns = append(turns, t)
	}
	return turns, rows.Err()
}

// Save replaces the session's snapshot with the full turn sequence, in one
// transaction so a reader never observes a partial log.
func (s *Store) Save(sessionID string, turns []model.Turn) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM turns WHERE session_id = ?`, sessionID); err != nil {
		return err
	}

	stmt, err := tx.Prepare(
		`INSERT INTO turns (session_id, position, id, role, content, image_data, thought, actions, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
	)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for i, t := range turns {
		var actions string
		if len(t.Actions) > 0 {
			b, err := json.Marshal(t.Actions)
			if err != nil {
				return fmt.Errorf("encoding turn %s actions: %w", t.ID, err)
			}
			actions = string(b)
		}
		_, err := stmt.Exec(
			sessionID, i, t.ID, string(t.Role), t.Content,
			t.ImageData, t.Thought, actions,
			t.CreatedAt.Format(time.RFC3339Nano),
		)
		if err != nil {
			return err
		}
	}

	return tx.Commit()
}

// Clear erases the persisted snapshot for the session.
func (s *Store) Clear(sessionID string) error {
	_, err := s.db.Exec(`DELETE FROM turns WHERE session_id = ?`, sessionID)
	return err
}
