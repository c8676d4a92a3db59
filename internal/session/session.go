// Package session implements the UserSession registry (spec.md §3): the
// ephemeral authorization context bound to one shared key, created on
// deposit init or transfer receive and owned exclusively by its id
// (spec.md §5: "UserSession rows are owned by their id; only the holding
// request may mutate").
package session

import (
	"crypto/subtle"
	"fmt"

	"stateentity/internal/domain"
	"stateentity/internal/errorkind"
	"stateentity/internal/ids"
	"stateentity/internal/kv"
	"stateentity/internal/lock"
)

const table = "user_sessions"

// Registry stores and serializes access to UserSession rows.
type Registry struct {
	store *kv.Store
	locks *lock.Keyed
}

// New constructs a Registry over store.
func New(store *kv.Store) *Registry {
	return &Registry{store: store, locks: lock.NewKeyed()}
}

// Create allocates a new session and persists it.
func (r *Registry) Create(sess *domain.UserSession) error {
	key := ids.CanonicalHex(sess.ID)
	ver, err := r.store.CompareAndSwap(table, key, 0, sess)
	if err != nil {
		return fmt.Errorf("session: create %s: %w", key, err)
	}
	_ = ver
	return nil
}

// Get returns a snapshot of the session at id.
func (r *Registry) Get(id ids.ID) (*domain.UserSession, error) {
	var sess domain.UserSession
	ok, err := r.store.Get(table, ids.CanonicalHex(id), &sess)
	if err != nil {
		return nil, fmt.Errorf("session: get %s: %w", id, err)
	}
	if !ok {
		return nil, errorkind.ErrNoDataForID
	}
	return &sess, nil
}

// Update runs fn against the session at id under its per-id lock,
// persisting whatever mutation fn makes. fn returning an error aborts the
// update, leaving the stored session untouched.
func (r *Registry) Update(id ids.ID, fn func(*domain.UserSession) error) (*domain.UserSession, error) {
	unlock := r.locks.Lock(id)
	defer unlock()

	sess, err := r.Get(id)
	if err != nil {
		return nil, err
	}
	if err := fn(sess); err != nil {
		return nil, err
	}
	key := ids.CanonicalHex(id)
	if _, err := r.store.Put(table, key, sess); err != nil {
		return nil, fmt.Errorf("session: commit update for %s: %w", id, err)
	}
	return sess, nil
}

// Authenticate checks tok against the session's stored auth token.
func Authenticate(sess *domain.UserSession, tok string) error {
	if sess.AuthToken == "" || subtle.ConstantTimeCompare([]byte(sess.AuthToken), []byte(tok)) != 1 {
		return errorkind.ErrAuth
	}
	return nil
}
