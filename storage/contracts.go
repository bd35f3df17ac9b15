package storage

import (
	"database/sql"
	"errors"
	"fmt"
)

// SaveContract inserts or replaces a contract's source definition under
// (id, version), giving the httpapi package a stable reference to recompile
// against after a restart without needing the original caller to resend it.
func (s *Store) SaveContract(r ContractRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec(`
		INSERT INTO contracts (id, version, data) VALUES (?, ?, ?)
		ON CONFLICT(id, version) DO UPDATE SET data=excluded.data
	`, r.ID, r.Version, r.Definition)
	if err != nil {
		return fmt.Errorf("storage: saving contract %s@%d: %w", r.ID, r.Version, err)
	}
	return nil
}

// LoadContract retrieves a specific version of a contract, or ErrNotFound.
func (s *Store) LoadContract(id string, version int) (ContractRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var r ContractRecord
	err := s.db.QueryRow(`SELECT id, version, data FROM contracts WHERE id = ? AND version = ?`, id, version).
		Scan(&r.ID, &r.Version, &r.Definition)
	if errors.Is(err, sql.ErrNoRows) {
		return ContractRecord{}, ErrNotFound
	}
	if err != nil {
		return ContractRecord{}, fmt.Errorf("storage: loading contract %s@%d: %w", id, version, err)
	}
	return r, nil
}

// LatestContractVersion returns the highest stored version for id, or
// ErrNotFound if no version has been saved.
func (s *Store) LatestContractVersion(id string) (ContractRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var r ContractRecord
	err := s.db.QueryRow(`SELECT id, version, data FROM contracts WHERE id = ? ORDER BY version DESC LIMIT 1`, id).
		Scan(&r.ID, &r.Version, &r.Definition)
	if errors.Is(err, sql.ErrNoRows) {
		return ContractRecord{}, ErrNotFound
	}
	if err != nil {
		return ContractRecord{}, fmt.Errorf("storage: loading latest contract %s: %w", id, err)
	}
	return r, nil
}

// SavePolicyBundle inserts or replaces a policy bundle record.
func (s *Store) SavePolicyBundle(r PolicyBundleRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec(`
		INSERT INTO policy_bundles (id, stage, data) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET stage=excluded.stage, data=excluded.data
	`, r.ID, r.Stage, r.Data)
	if err != nil {
		return fmt.Errorf("storage: saving policy bundle %s: %w", r.ID, err)
	}
	return nil
}

// LoadPolicyBundle retrieves a policy bundle by id, or ErrNotFound.
func (s *Store) LoadPolicyBundle(id string) (PolicyBundleRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var r PolicyBundleRecord
	err := s.db.QueryRow(`SELECT id, stage, data FROM policy_bundles WHERE id = ?`, id).Scan(&r.ID, &r.Stage, &r.Data)
	if errors.Is(err, sql.ErrNoRows) {
		return PolicyBundleRecord{}, ErrNotFound
	}
	if err != nil {
		return PolicyBundleRecord{}, fmt.Errorf("storage: loading policy bundle %s: %w", id, err)
	}
	return r, nil
}

// LoadAllPolicyBundles lists every stored policy bundle, mirroring
// lib/runtime/persistence.go's LoadAll.
func (s *Store) LoadAllPolicyBundles() ([]PolicyBundleRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows, err := s.db.Query(`SELECT id, stage, data FROM policy_bundles`)
	if err != nil {
		return nil, fmt.Errorf("storage: listing policy bundles: %w", err)
	}
	defer rows.Close()

	var out []PolicyBundleRecord
	for rows.Next() {
		var r PolicyBundleRecord
		if err := rows.Scan(&r.ID, &r.Stage, &r.Data); err != nil {
			return nil, fmt.Errorf("storage: scanning policy bundle row: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
