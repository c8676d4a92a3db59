package ecdsa

import (
	"fmt"

	"stateentity/internal/domain"
	"stateentity/internal/errorkind"
	"stateentity/internal/ids"
	"stateentity/internal/kv"
)

const keyStateTable = "ecdsa_keys"

// KeyStateStore persists the keygen artifacts spec.md §4.2 requires the
// core to retain per user_id, independent of whatever an Oracle
// implementation keeps internally.
type KeyStateStore struct {
	store *kv.Store
}

// NewKeyStateStore constructs a KeyStateStore over store.
func NewKeyStateStore(store *kv.Store) *KeyStateStore {
	return &KeyStateStore{store: store}
}

// Put records the keygen result for userID.
func (k *KeyStateStore) Put(state domain.EcdsaKeyState) error {
	key := ids.CanonicalHex(state.UserID)
	if _, err := k.store.Put(keyStateTable, key, state); err != nil {
		return fmt.Errorf("ecdsa: persist key state %s: %w", key, err)
	}
	return nil
}

// Get returns the recorded keygen result for userID.
func (k *KeyStateStore) Get(userID ids.ID) (*domain.EcdsaKeyState, error) {
	var state domain.EcdsaKeyState
	ok, err := k.store.Get(keyStateTable, ids.CanonicalHex(userID), &state)
	if err != nil {
		return nil, fmt.Errorf("ecdsa: get key state %s: %w", userID, err)
	}
	if !ok {
		return nil, errorkind.ErrNoDataForID
	}
	return &state, nil
}
