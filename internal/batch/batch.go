// Package batch coordinates atomic batch transfers (spec.md §4.5): a group
// of statechains that must all move to their new owner together, or not at
// all. Each participant submits a commitment to a secret nonce with its
// receiver call and reveals the nonce once the batch window has closed, so
// a participant who starts a leg and later
// refuses to reveal is distinguishable from one who never started — only
// the latter is eligible for punishment.
package batch

import (
	"crypto/sha256"
	"fmt"
	"sync"
	"time"

	"stateentity/internal/domain"
	"stateentity/internal/errorkind"
	"stateentity/internal/ids"
	"stateentity/internal/kv"
	"stateentity/internal/lock"
	"stateentity/internal/statechain"
	"stateentity/internal/transfer"
)

const table = "transfer_batches"

// Coordinator drives batch init, commitment reveal, and the all-or-nothing
// finalize/punish decision.
type Coordinator struct {
	Store          *kv.Store
	StateChains    *statechain.Log
	Transfer       *transfer.Driver
	PunishDuration time.Duration
	locks          *lock.Keyed

	idsMu sync.Mutex
	ids   []ids.ID // every batch id ever Init'd, for SweepExpired to iterate
}

// New constructs a Coordinator.
func New(store *kv.Store, chains *statechain.Log, xfer *transfer.Driver, punishDuration time.Duration) *Coordinator {
	return &Coordinator{Store: store, StateChains: chains, Transfer: xfer, PunishDuration: punishDuration, locks: lock.NewKeyed()}
}

// Init opens a new atomic batch under the caller-chosen batchID (spec.md
// §4.5 "init": "caller submits batch_id and a list of StateChainSig with
// purpose = TRANSFER_BATCH:<batch_id>"). The id must be chosen by the
// caller before Init runs, since every submitted signature already commits
// to it. Unlike a dead batch's punishment lock, participants are NOT locked
// up front: a leg's own sender/receiver exchange must itself be able to
// run during the batch window, and only a statechain that never checks in
// gets held past it.
func (c *Coordinator) Init(batchID ids.ID, scIDs []ids.ID) error {
	b := &domain.TransferBatch{
		ID:          batchID,
		StartTime:   time.Now(),
		StateChains: make(map[ids.ID]bool, len(scIDs)),
		Commitments: make(map[ids.ID][32]byte, len(scIDs)),
	}
	for _, id := range scIDs {
		b.StateChains[id] = false
	}
	key := ids.CanonicalHex(batchID)
	if _, err := c.Store.CompareAndSwap(table, key, 0, b); err != nil {
		return fmt.Errorf("batch: create %s: %w", key, err)
	}

	c.idsMu.Lock()
	c.ids = append(c.ids, batchID)
	c.idsMu.Unlock()
	return nil
}

// MarkComplete is transfer.Driver's onBatchComplete hook (spec.md §4.5):
// it records scID's commitment (hash of state_chain_id‖nonce, verified
// later via Reveal, not here), queues the completed leg's finalize data,
// and finalizes the whole batch the moment every participant has checked
// in.
func (c *Coordinator) MarkComplete(bd transfer.BatchData, scID ids.ID, sig domain.StateChainSig, newOwner ids.ID, newBackup domain.BackupTx, newProofKey domain.ProofKey) error {
	unlock := c.lock(bd.BatchID)
	defer unlock()

	b, err := c.get(bd.BatchID)
	if err != nil {
		return err
	}
	if b.Dead || b.Finalized {
		return errorkind.ErrBatchEnded
	}
	if _, ok := b.StateChains[scID]; !ok {
		return errorkind.ErrNoDataForID
	}

	b.Commitments[scID] = bd.Commitment
	b.StateChains[scID] = true
	b.FinalizedData = append(b.FinalizedData, domain.FinalizeData{
		StateChainID:  scID,
		StateChainSig: sig,
		NewOwnerID:    newOwner,
		NewBackupTx:   newBackup,
		NewProofKey:   newProofKey,
	})

	if b.AllComplete() {
		if err := c.finalizeLocked(b); err != nil {
			return err
		}
	}
	return c.put(b)
}

// finalizeLocked commits every queued leg via transfer.Driver.Finalize and
// marks the batch finalized. Caller must hold the batch's lock.
func (c *Coordinator) finalizeLocked(b *domain.TransferBatch) error {
	for _, fd := range b.FinalizedData {
		if err := c.Transfer.Finalize(fd.StateChainID, fd.StateChainSig, fd.NewOwnerID, fd.NewBackupTx, fd.NewProofKey); err != nil {
			return fmt.Errorf("batch: finalize %s in batch %s: %w", fd.StateChainID, b.ID, err)
		}
	}
	b.Finalized = true
	return nil
}

// SweepExpired is the batch-finalizer background task (spec.md §4.5): any
// batch past start_time+punishment_duration that never reached
// AllComplete is declared dead, and every participant that never checked
// in is punished with an extended lock.
func (c *Coordinator) SweepExpired(now time.Time) error {
	for _, id := range c.allIDs() {
		if err := c.sweepOne(id, now); err != nil {
			return err
		}
	}
	return nil
}

func (c *Coordinator) sweepOne(batchID ids.ID, now time.Time) error {
	unlock := c.lock(batchID)
	defer unlock()

	b, err := c.get(batchID)
	if err != nil {
		return err
	}
	if b.Dead || b.Finalized {
		return nil
	}
	if now.Before(b.StartTime.Add(c.PunishDuration)) {
		return nil
	}

	b.Dead = true
	b.PunishedStateChains = make(map[ids.ID]bool, len(b.StateChains))
	for scID, done := range b.StateChains {
		if done {
			continue
		}
		b.PunishedStateChains[scID] = true
		if _, err := c.StateChains.Lock(scID, now.Add(c.PunishDuration)); err != nil {
			return fmt.Errorf("batch: punish %s in dead batch %s: %w", scID, batchID, err)
		}
	}
	return c.put(b)
}

// Reveal implements /transfer/batch/reveal (spec.md §4.5): allowed only
// once the batch's window has closed (it is dead or finalized), it checks
// nonce against the commitment scID recorded during its leg, and — if
// that statechain had in fact marked itself complete — clears any
// punishment lock placed on it by SweepExpired. A chain that never
// reveals a matching nonce stays locked for the punishment's full
// duration.
func (c *Coordinator) Reveal(batchID, scID ids.ID, nonce [32]byte) error {
	unlock := c.lock(batchID)
	defer unlock()

	b, err := c.get(batchID)
	if err != nil {
		return err
	}
	if !b.Dead && !b.Finalized {
		return errorkind.ErrBatchWindowOpen
	}
	committed, ok := b.Commitments[scID]
	if !ok {
		return errorkind.ErrNoDataForID
	}

	idBytes := [16]byte(scID)
	h := sha256.New()
	h.Write(idBytes[:])
	h.Write(nonce[:])
	var expect [32]byte
	copy(expect[:], h.Sum(nil))
	if expect != committed {
		return errorkind.ErrCommitmentMismatch
	}

	if !b.StateChains[scID] {
		return nil
	}
	delete(b.PunishedStateChains, scID)
	if _, err := c.StateChains.Lock(scID, time.Now()); err != nil {
		return fmt.Errorf("batch: clear punishment for %s: %w", scID, err)
	}
	return c.put(b)
}

// Get returns a snapshot of the batch at batchID.
func (c *Coordinator) Get(batchID ids.ID) (*domain.TransferBatch, error) {
	return c.get(batchID)
}

func (c *Coordinator) get(batchID ids.ID) (*domain.TransferBatch, error) {
	var b domain.TransferBatch
	ok, err := c.Store.Get(table, ids.CanonicalHex(batchID), &b)
	if err != nil {
		return nil, fmt.Errorf("batch: get %s: %w", batchID, err)
	}
	if !ok {
		return nil, errorkind.ErrNoDataForID
	}
	return &b, nil
}

func (c *Coordinator) put(b *domain.TransferBatch) error {
	if _, err := c.Store.Put(table, ids.CanonicalHex(b.ID), b); err != nil {
		return fmt.Errorf("batch: put %s: %w", b.ID, err)
	}
	return nil
}

func (c *Coordinator) lock(batchID ids.ID) func() {
	return c.locks.Lock(batchID)
}

// ListIDs enumerates every batch id this Coordinator has created, for
// operator inspection (statectl, /info/batches).
func (c *Coordinator) ListIDs() []ids.ID {
	return c.allIDs()
}

// allIDs enumerates every batch id this Coordinator has created, mirroring
// statechain.Log.AllIDs since the in-process kv.Store has no scan support.
func (c *Coordinator) allIDs() []ids.ID {
	c.idsMu.Lock()
	defer c.idsMu.Unlock()
	out := make([]ids.ID, len(c.ids))
	copy(out, c.ids)
	return out
}
