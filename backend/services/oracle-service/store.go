package main

import (
	"database/sql"
	"fmt"
)

// Store persists the oracle's scan checkpoint and attestation history so a
// restarted daemon neither re-attests nor skips blocks.
type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// LastScannedBlock returns the checkpoint for a chain, or 0 if none exists.
func (s *Store) LastScannedBlock(chainID uint32) (uint64, error) {
	var block uint64
	err := s.db.QueryRow(
		"SELECT last_block FROM scan_checkpoints WHERE chain_id = $1", chainID,
	).Scan(&block)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to load checkpoint: %v", err)
	}
	return block, nil
}

func (s *Store) SaveCheckpoint(chainID uint32, block uint64) error {
	_, err := s.db.Exec(`
		INSERT INTO scan_checkpoints (chain_id, last_block)
		VALUES ($1, $2)
		ON CONFLICT (chain_id) DO UPDATE SET last_block = $2, updated_at = NOW()`,
		chainID, block)
	if err != nil {
		return fmt.Errorf("failed to save checkpoint: %v", err)
	}
	return nil
}

// RecordAttestation marks an inbound ref as attested by this oracle.
func (s *Store) RecordAttestation(ref, to string, amount uint64, chainID uint32) error {
	_, err := s.db.Exec(`
		INSERT INTO attestations (ref, recipient, amount, chain_id)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (ref) DO NOTHING`,
		ref, to, amount, chainID)
	if err != nil {
		return fmt.Errorf("failed to record attestation: %v", err)
	}
	return nil
}

// HasAttested reports whether this oracle already submitted the ref.
func (s *Store) HasAttested(ref string) (bool, error) {
	var one int
	err := s.db.QueryRow("SELECT 1 FROM attestations WHERE ref = $1", ref).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to query attestations: %v", err)
	}
	return true, nil
}

// RecordSignature marks an outbound teleport as signed by this oracle.
func (s *Store) RecordSignature(teleportID uint64, signature string) error {
	_, err := s.db.Exec(`
		INSERT INTO teleport_signatures (teleport_id, signature)
		VALUES ($1, $2)
		ON CONFLICT (teleport_id) DO NOTHING`,
		teleportID, signature)
	if err != nil {
		return fmt.Errorf("failed to record signature: %v", err)
	}
	return nil
}

// HasSigned reports whether this oracle already signed the teleport.
func (s *Store) HasSigned(teleportID uint64) (bool, error) {
	var one int
	err := s.db.QueryRow("SELECT 1 FROM teleport_signatures WHERE teleport_id = $1", teleportID).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to query signatures: %v", err)
	}
	return true, nil
}
