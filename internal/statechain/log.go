// Package statechain implements the statechain log (spec.md §4.1): the
// append-only chain of signed ownership transitions backing each UTXO
// under State Entity custody.
package statechain

import (
	"fmt"
	"sync"
	"time"

	"stateentity/internal/domain"
	"stateentity/internal/errorkind"
	"stateentity/internal/ids"
	"stateentity/internal/kv"
	"stateentity/internal/lock"
	"stateentity/internal/sigverify"
)

const table = "state_chains"

// Log is the statechain store: reads are lock-free snapshots of the
// backing kv.Store; Add is serialized per statechain id (spec.md §4.1:
// "atomic under a per-statechain write lock").
type Log struct {
	store *kv.Store
	locks *lock.Keyed

	idxMu sync.Mutex
	index []ids.ID // every id ever Created, for the watcher and /info/statechains to iterate
}

// New constructs a Log over store.
func New(store *kv.Store) *Log {
	return &Log{store: store, locks: lock.NewKeyed()}
}

// Create persists a brand-new statechain. It fails if one already exists
// under sc.ID.
func (l *Log) Create(sc *domain.StateChain) error {
	key := ids.CanonicalHex(sc.ID)
	ver, err := l.store.CompareAndSwap(table, key, 0, sc)
	if err != nil {
		return fmt.Errorf("statechain: create %s: %w", key, err)
	}
	sc.Version = ver

	l.idxMu.Lock()
	l.index = append(l.index, sc.ID)
	l.idxMu.Unlock()
	return nil
}

// AllIDs returns every statechain id ever created, in creation order. Used
// by the backup-tx watcher and the /info/statechains handler, which need
// to enumerate statechains without table scan support in the in-process
// kv.Store.
func (l *Log) AllIDs() []ids.ID {
	l.idxMu.Lock()
	defer l.idxMu.Unlock()
	out := make([]ids.ID, len(l.index))
	copy(out, l.index)
	return out
}

// Get returns a consistent snapshot of the statechain at id. Its Version is
// the kv row version, read ahead of the row itself, so a write landing in
// between makes the caller's next CompareAndSwap conflict rather than
// overwrite it.
func (l *Log) Get(id ids.ID) (*domain.StateChain, error) {
	key := ids.CanonicalHex(id)
	ver := l.store.Version(table, key)
	var sc domain.StateChain
	ok, err := l.store.Get(table, key, &sc)
	if err != nil {
		return nil, fmt.Errorf("statechain: get %s: %w", id, err)
	}
	if !ok {
		return nil, errorkind.ErrNoDataForID
	}
	sc.Version = ver
	return &sc, nil
}

// Add appends sig to the chain at id (spec.md §4.1): fetch the tip, verify
// sig under the tip's proof key, close the tip with sig, and append a new
// open tip holding sig.Data. The whole step commits atomically under a
// per-statechain write lock.
func (l *Log) Add(id ids.ID, sig domain.StateChainSig) (*domain.StateChain, error) {
	unlock := l.locks.Lock(id)
	defer unlock()

	sc, err := l.Get(id)
	if err != nil {
		return nil, err
	}
	if sc.Closed() {
		return nil, errorkind.ErrStateChainClosed
	}
	if len(sc.Chain) == 0 {
		return nil, errorkind.ErrStateChainEmpty
	}

	tipIdx := len(sc.Chain) - 1
	signerKey, err := domain.ParseProofKey(sc.Chain[tipIdx].Data)
	if err != nil {
		return nil, fmt.Errorf("statechain: parse tip proof key: %w", err)
	}
	if err := sigverify.Verify(signerKey, sig); err != nil {
		return nil, err
	}

	sc.Chain[tipIdx].NextState = &sig
	sc.Chain = append(sc.Chain, domain.State{Data: sig.Data})

	newVer, err := l.store.CompareAndSwap(table, ids.CanonicalHex(id), sc.Version, sc)
	if err != nil {
		return nil, fmt.Errorf("statechain: commit add for %s: %w", id, err)
	}
	sc.Version = newVer
	return sc, nil
}

// Close sets the statechain's amount to zero, the terminal state spec.md
// invariant 6 requires ("amount = 0 is terminal; no further transitions
// are accepted"). It is used by the withdraw protocol after appending the
// final withdraw-address StateChainSig.
func (l *Log) Close(id ids.ID) (*domain.StateChain, error) {
	unlock := l.locks.Lock(id)
	defer unlock()

	sc, err := l.Get(id)
	if err != nil {
		return nil, err
	}
	sc.Amount = 0
	newVer, err := l.store.CompareAndSwap(table, ids.CanonicalHex(id), sc.Version, sc)
	if err != nil {
		return nil, fmt.Errorf("statechain: commit close for %s: %w", id, err)
	}
	sc.Version = newVer
	return sc, nil
}

// Lock sets locked_until on the statechain at id, replacing whatever value
// it held. The batch coordinator (spec.md §4.5) uses it to punish the
// incomplete participants of an expired batch and to lift that hold again
// when a participant reveals its nonce.
func (l *Log) Lock(id ids.ID, until time.Time) (*domain.StateChain, error) {
	unlock := l.locks.Lock(id)
	defer unlock()

	sc, err := l.Get(id)
	if err != nil {
		return nil, err
	}
	sc.LockedUntil = until
	newVer, err := l.store.CompareAndSwap(table, ids.CanonicalHex(id), sc.Version, sc)
	if err != nil {
		return nil, fmt.Errorf("statechain: commit lock for %s: %w", id, err)
	}
	sc.Version = newVer
	return sc, nil
}

// SetOwner reassigns owner_id under the per-statechain write lock and
// commits that change on its own; locked_until is left unchanged.
// Transfer finalization (spec.md §4.4.1) does not go through it: it writes
// the new owner inside its own kv.Txn.
func (l *Log) SetOwner(id ids.ID, newOwner ids.ID) (*domain.StateChain, error) {
	unlock := l.locks.Lock(id)
	defer unlock()

	sc, err := l.Get(id)
	if err != nil {
		return nil, err
	}
	sc.OwnerID = newOwner
	newVer, err := l.store.CompareAndSwap(table, ids.CanonicalHex(id), sc.Version, sc)
	if err != nil {
		return nil, fmt.Errorf("statechain: commit owner change for %s: %w", id, err)
	}
	sc.Version = newVer
	return sc, nil
}
