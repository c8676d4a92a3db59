// Package rootstore keeps the SE's current SMT Root record (spec.md §4.7):
// "the SE keeps the current Root record. After each statechain transition
// it calls update and stores a new Root{ id = prev.id + 1, hash = new,
// commitment_info = None }."
package rootstore

import (
	"fmt"
	"sync"

	"stateentity/internal/domain"
	"stateentity/internal/kv"
)

const (
	table      = "roots"
	currentKey = "current"
)

// Store tracks the monotonically increasing sequence of SMT roots.
type Store struct {
	mu    sync.Mutex
	store *kv.Store
}

// New constructs a Store over store.
func New(store *kv.Store) *Store {
	return &Store{store: store}
}

// Publish records a new root hash, allocating the next sequence id.
func (s *Store) Publish(hash [32]byte) (*domain.Root, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, err := s.currentLocked()
	nextID := uint64(1)
	if err == nil {
		nextID = prev.ID + 1
	}

	h := hash
	root := &domain.Root{ID: nextID, Hash: &h}
	if err := s.putLocked(root); err != nil {
		return nil, err
	}
	return root, nil
}

// Current returns the most recently published root.
func (s *Store) Current() (*domain.Root, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currentLocked()
}

// SetCommitment records an external timestamping attestation for rootID,
// but only if it is still the current root (spec.md §4.7's root-publisher
// background task).
func (s *Store) SetCommitment(rootID uint64, info domain.CommitmentInfo) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, err := s.currentLocked()
	if err != nil {
		return err
	}
	if cur.ID != rootID {
		return fmt.Errorf("rootstore: root %d superseded by %d, dropping stale attestation", rootID, cur.ID)
	}
	cur.CommitmentInfo = &info
	return s.putLocked(cur)
}

func (s *Store) currentLocked() (*domain.Root, error) {
	var root domain.Root
	ok, err := s.store.Get(table, currentKey, &root)
	if err != nil {
		return nil, fmt.Errorf("rootstore: get current: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("rootstore: no root published yet")
	}
	return &root, nil
}

func (s *Store) putLocked(root *domain.Root) error {
	if _, err := s.store.Put(table, currentKey, root); err != nil {
		return fmt.Errorf("rootstore: put: %w", err)
	}
	return nil
}
