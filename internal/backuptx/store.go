// Package backuptx stores the currently valid unilateral-exit transaction
// for each statechain (spec.md §3), replaced on every ownership transfer
// and consumed by the backup-tx watcher (spec.md §4.9).
package backuptx

import (
	"fmt"

	"stateentity/internal/domain"
	"stateentity/internal/errorkind"
	"stateentity/internal/ids"
	"stateentity/internal/kv"
)

const table = "backup_txs"

// Store persists BackupTx rows keyed by statechain id.
type Store struct {
	store *kv.Store
}

// New constructs a Store over store.
func New(store *kv.Store) *Store {
	return &Store{store: store}
}

// Put installs (or replaces) the backup tx for a statechain.
func (s *Store) Put(tx domain.BackupTx) error {
	key := ids.CanonicalHex(tx.StateChainID)
	if _, err := s.store.Put(table, key, tx); err != nil {
		return fmt.Errorf("backuptx: put %s: %w", key, err)
	}
	return nil
}

// Get returns the backup tx for a statechain.
func (s *Store) Get(scID ids.ID) (*domain.BackupTx, error) {
	var tx domain.BackupTx
	ok, err := s.store.Get(table, ids.CanonicalHex(scID), &tx)
	if err != nil {
		return nil, fmt.Errorf("backuptx: get %s: %w", scID, err)
	}
	if !ok {
		return nil, errorkind.ErrNoDataForID
	}
	return &tx, nil
}

// MarkBroadcast flags a backup tx as submitted to the network.
func (s *Store) MarkBroadcast(scID ids.ID) error {
	tx, err := s.Get(scID)
	if err != nil {
		return err
	}
	tx.Broadcast = true
	return s.Put(*tx)
}

// MarkCompromised flags a backup tx whose funding input was already spent
// by the time the watcher tried to broadcast it (spec.md §4.9:
// "missing-inputs" response).
func (s *Store) MarkCompromised(scID ids.ID) error {
	tx, err := s.Get(scID)
	if err != nil {
		return err
	}
	tx.Compromised = true
	return s.Put(*tx)
}
