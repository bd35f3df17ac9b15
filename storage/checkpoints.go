package storage

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// checkpointPayload holds a CheckpointRecord's fields not promoted to a
// queryable column.
type checkpointPayload struct {
	BlockID   string
	LoopStack []LoopFrame
	Snapshot  []byte
}

// SaveCheckpoint inserts or replaces a checkpoint record.
func (s *Store) SaveCheckpoint(r CheckpointRecord) error {
	payload, err := cbor.Marshal(checkpointPayload{BlockID: r.BlockID, LoopStack: r.LoopStack, Snapshot: r.Snapshot})
	if err != nil {
		return fmt.Errorf("storage: encoding checkpoint payload: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err = s.db.Exec(`
		INSERT INTO checkpoints (id, session_id, label, created_at, payload)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			session_id=excluded.session_id, label=excluded.label, created_at=excluded.created_at, payload=excluded.payload
	`, r.ID, r.SessionID, r.Label, r.CreatedAt, payload)
	if err != nil {
		return fmt.Errorf("storage: saving checkpoint %s: %w", r.ID, err)
	}
	return nil
}

// LoadCheckpoint retrieves a checkpoint by id, or ErrNotFound.
func (s *Store) LoadCheckpoint(id string) (CheckpointRecord, error) {
	s.mu.Lock()
	row := s.db.QueryRow(`SELECT id, session_id, label, created_at, payload FROM checkpoints WHERE id = ?`, id)
	r, err := scanCheckpoint(row)
	s.mu.Unlock()
	return r, err
}

// FindCheckpointsBySession lists every checkpoint recorded against a
// session, ordered by insertion (rowid), oldest first.
func (s *Store) FindCheckpointsBySession(sessionID string) ([]CheckpointRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows, err := s.db.Query(`SELECT id, session_id, label, created_at, payload FROM checkpoints WHERE session_id = ? ORDER BY rowid ASC`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("storage: querying checkpoints for session %s: %w", sessionID, err)
	}
	defer rows.Close()

	var out []CheckpointRecord
	for rows.Next() {
		r, err := scanCheckpoint(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func scanCheckpoint(row rowScanner) (CheckpointRecord, error) {
	var r CheckpointRecord
	var payload []byte
	err := row.Scan(&r.ID, &r.SessionID, &r.Label, &r.CreatedAt, &payload)
	if errors.Is(err, sql.ErrNoRows) {
		return CheckpointRecord{}, ErrNotFound
	}
	if err != nil {
		return CheckpointRecord{}, fmt.Errorf("storage: scanning checkpoint row: %w", err)
	}
	var p checkpointPayload
	if err := cbor.Unmarshal(payload, &p); err != nil {
		return CheckpointRecord{}, fmt.Errorf("storage: decoding checkpoint payload: %w", err)
	}
	r.BlockID = p.BlockID
	r.LoopStack = p.LoopStack
	r.Snapshot = p.Snapshot
	return r, nil
}
