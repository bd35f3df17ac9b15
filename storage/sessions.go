package storage

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// sessionPayload is the part of a SessionRecord not promoted to its own
// queryable column, CBOR-encoded into the sessions.payload blob.
type sessionPayload struct {
	LoopStack     []LoopFrame
	StateSnapshot []byte
}

// SaveSession inserts or replaces a session record, following
// lib/runtime/persistence.go's INSERT OR REPLACE idiom.
func (s *Store) SaveSession(r SessionRecord) error {
	payload, err := cbor.Marshal(sessionPayload{LoopStack: r.LoopStack, StateSnapshot: r.StateSnapshot})
	if err != nil {
		return fmt.Errorf("storage: encoding session payload: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err = s.db.Exec(`
		INSERT INTO sessions (id, tenant, contract_ref, current_block_id, status, gas_budget, gas_remaining, created_at, last_event_at, payload)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			tenant=excluded.tenant, contract_ref=excluded.contract_ref, current_block_id=excluded.current_block_id,
			status=excluded.status, gas_budget=excluded.gas_budget, gas_remaining=excluded.gas_remaining,
			created_at=excluded.created_at, last_event_at=excluded.last_event_at, payload=excluded.payload
	`, r.ID, r.Tenant, r.ContractRef, r.CurrentBlockID, r.Status, r.GasBudget, r.GasRemaining, r.CreatedAt, r.LastEventAt, payload)
	if err != nil {
		return fmt.Errorf("storage: saving session %s: %w", r.ID, err)
	}
	return nil
}

// LoadSession retrieves a session record by id, or ErrNotFound.
func (s *Store) LoadSession(id string) (SessionRecord, error) {
	s.mu.Lock()
	row := s.db.QueryRow(`SELECT id, tenant, contract_ref, current_block_id, status, gas_budget, gas_remaining, created_at, last_event_at, payload FROM sessions WHERE id = ?`, id)
	r, err := scanSession(row)
	s.mu.Unlock()
	return r, err
}

// DeleteSession removes a session (and its checkpoints) from the store.
func (s *Store) DeleteSession(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.db.Exec(`DELETE FROM checkpoints WHERE session_id = ?`, id); err != nil {
		return fmt.Errorf("storage: deleting checkpoints for session %s: %w", id, err)
	}
	if _, err := s.db.Exec(`DELETE FROM sessions WHERE id = ?`, id); err != nil {
		return fmt.Errorf("storage: deleting session %s: %w", id, err)
	}
	return nil
}

// FindSessionsByTenant lists every session belonging to tenant, mirroring
// lib/runtime/persistence.go's FindByClass query shape.
func (s *Store) FindSessionsByTenant(tenant string) ([]SessionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows, err := s.db.Query(`SELECT id, tenant, contract_ref, current_block_id, status, gas_budget, gas_remaining, created_at, last_event_at, payload FROM sessions WHERE tenant = ?`, tenant)
	if err != nil {
		return nil, fmt.Errorf("storage: querying sessions for tenant %s: %w", tenant, err)
	}
	defer rows.Close()

	var out []SessionRecord
	for rows.Next() {
		r, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// FindSessionsByStatus lists every session currently in status, used to
// reload in-flight work (Running or Suspended) after a restart.
func (s *Store) FindSessionsByStatus(status uint8) ([]SessionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows, err := s.db.Query(`SELECT id, tenant, contract_ref, current_block_id, status, gas_budget, gas_remaining, created_at, last_event_at, payload FROM sessions WHERE status = ?`, status)
	if err != nil {
		return nil, fmt.Errorf("storage: querying sessions by status %d: %w", status, err)
	}
	defer rows.Close()

	var out []SessionRecord
	for rows.Next() {
		r, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (SessionRecord, error) {
	var r SessionRecord
	var payload []byte
	err := row.Scan(&r.ID, &r.Tenant, &r.ContractRef, &r.CurrentBlockID, &r.Status, &r.GasBudget, &r.GasRemaining, &r.CreatedAt, &r.LastEventAt, &payload)
	if errors.Is(err, sql.ErrNoRows) {
		return SessionRecord{}, ErrNotFound
	}
	if err != nil {
		return SessionRecord{}, fmt.Errorf("storage: scanning session row: %w", err)
	}
	var p sessionPayload
	if err := cbor.Unmarshal(payload, &p); err != nil {
		return SessionRecord{}, fmt.Errorf("storage: decoding session payload: %w", err)
	}
	r.LoopStack = p.LoopStack
	r.StateSnapshot = p.StateSnapshot
	return r, nil
}
