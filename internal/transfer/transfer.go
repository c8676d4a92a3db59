// Package transfer drives the off-chain ownership transfer protocol
// (spec.md §4.4): sender-side x1 issuance, receiver-side share rotation,
// and the five-step atomic finalization that is the only place the
// statechain log and the SMT actually mutate.
package transfer

import (
	"bytes"
	"fmt"
	"time"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"

	"stateentity/internal/backuptx"
	"stateentity/internal/domain"
	"stateentity/internal/ecdsa"
	"stateentity/internal/errorkind"
	"stateentity/internal/ids"
	"stateentity/internal/kv"
	"stateentity/internal/rootstore"
	"stateentity/internal/session"
	"stateentity/internal/sigverify"
	"stateentity/internal/smt"
	"stateentity/internal/statechain"
)

const pendingTable = "transfers"

// Table names duplicated from their owning packages: Finalize commits
// across statechain, backup, and root rows in a single kv.Txn (spec.md
// §4.4.1, §5: "all five must commit atomically with respect to readers"),
// which requires naming those tables directly rather than going through
// each package's own locked API.
const (
	statechainTable = "state_chains"
	backupTable     = "backup_txs"
	rootsTable      = "roots"
	rootsCurrentKey = "current"
)

// BatchData is the optional batch context a transfer/receiver request
// carries when running inside an atomic batch (spec.md §4.5).
type BatchData struct {
	BatchID    ids.ID
	Commitment [32]byte
}

// Driver wires together every collaborator the transfer protocol touches.
type Driver struct {
	Store       *kv.Store
	StateChains *statechain.Log
	Sessions    *session.Registry
	KeyStates   *ecdsa.KeyStateStore
	Oracle      ecdsa.Oracle
	Backups     *backuptx.Store
	Tree        *smt.Tree
	Roots       *rootstore.Store
}

// Sender is /transfer/sender (spec.md §4.4 sender side): issues a fresh x1
// and stashes the sender's commitment under the statechain id.
func (d *Driver) Sender(requestingUserID, scID ids.ID, sig domain.StateChainSig) ([32]byte, error) {
	sc, err := d.StateChains.Get(scID)
	if err != nil {
		return [32]byte{}, err
	}
	if sc.OwnerID != requestingUserID {
		return [32]byte{}, errorkind.ErrStateChainOwnership
	}
	if time.Now().Before(sc.LockedUntil) {
		return [32]byte{}, errorkind.ErrStateChainLocked
	}
	if sc.Closed() {
		return [32]byte{}, errorkind.ErrStateChainClosed
	}

	x1Priv, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		return [32]byte{}, fmt.Errorf("transfer: generate x1: %w", err)
	}
	x1Bytes := x1Priv.Key.Bytes()

	tr := domain.Transfer{
		StateChainID:  scID,
		StateChainSig: sig,
		X1:            x1Bytes,
		BatchID:       sig.Purpose.BatchID,
		CreatedAt:     time.Now(),
	}
	key := ids.CanonicalHex(scID)
	if _, err := d.Store.CompareAndSwap(pendingTable, key, 0, tr); err != nil {
		if err == kv.ErrVersionConflict {
			return [32]byte{}, errorkind.ErrTransferInProgress
		}
		return [32]byte{}, fmt.Errorf("transfer: persist pending transfer: %w", err)
	}
	return x1Bytes, nil
}

// ReceiverRequest is the body of /transfer/receiver.
type ReceiverRequest struct {
	StateChainID  ids.ID
	T2            [32]byte
	StateChainSig domain.StateChainSig
	O2Pub         domain.ProofKey
	TxBackup      []byte
	BackupAddr    string
	NLockTime     uint32
	BatchData     *BatchData
}

// ReceiverResult is the body of /transfer/receiver's response.
type ReceiverResult struct {
	NewSharedKeyID ids.ID
	S2Pub          domain.ProofKey
}

// Receiver is /transfer/receiver (spec.md §4.4 receiver side, steps 1-7).
// When req.BatchData is nil it finalizes immediately; otherwise batches
// records the completed leg via onBatchComplete and defers finalization to
// the batch coordinator's close step (spec.md §4.5).
func (d *Driver) Receiver(req ReceiverRequest, onBatchComplete func(BatchData, ids.ID, domain.StateChainSig, ids.ID, domain.BackupTx, domain.ProofKey) error) (*ReceiverResult, error) {
	key := ids.CanonicalHex(req.StateChainID)
	var tr domain.Transfer
	ok, err := d.Store.Get(pendingTable, key, &tr)
	if err != nil {
		return nil, fmt.Errorf("transfer: get pending transfer: %w", err)
	}
	if !ok {
		return nil, errorkind.ErrNoDataForID
	}
	if !bytes.Equal(tr.StateChainSig.Sig, req.StateChainSig.Sig) || tr.StateChainSig.Data != req.StateChainSig.Data {
		return nil, errorkind.ErrSignatureInvalid
	}

	sc, err := d.StateChains.Get(req.StateChainID)
	if err != nil {
		return nil, err
	}
	priorUserID := sc.OwnerID

	keyState, err := d.KeyStates.Get(priorUserID)
	if err != nil {
		return nil, err
	}

	var s1, x1, t2 ecdsa.Scalar
	s1.SetByteSlice(keyState.S1[:])
	x1.SetByteSlice(tr.X1[:])
	t2.SetByteSlice(req.T2[:])

	x1Inv := ecdsa.Invert(x1)
	var factor ecdsa.Scalar
	factor.Mul2(&t2, &x1Inv)

	var s2 ecdsa.Scalar
	s2.Mul2(&factor, &s1)

	if !ecdsa.BelowNOverThree(s2) {
		return nil, errorkind.ErrInvalidO2TryAgain
	}

	o2G, err := req.O2Pub.Point()
	if err != nil {
		return nil, fmt.Errorf("transfer: parse o2_pub: %w", err)
	}
	p2Key := ecdsa.ProofKeyOf(ecdsa.JointPubKey(s2, o2G))
	if p2Key != keyState.JointPub {
		return nil, errorkind.ErrProtocolMismatch
	}

	newSharedKeyID := ids.New()
	if _, err := d.Oracle.Rotate(priorUserID, s1, factor, newSharedKeyID); err != nil {
		return nil, fmt.Errorf("transfer: rotate: %v: %w", err, errorkind.ErrOracleUnavailable)
	}

	s2Bytes := s2.Bytes()
	if err := d.KeyStates.Put(domain.EcdsaKeyState{
		UserID:   newSharedKeyID,
		S1:       s2Bytes,
		O1G:      ecdsa.ProofKeyOf(o2G),
		JointPub: p2Key,
	}); err != nil {
		return nil, err
	}
	if err := d.Sessions.Create(&domain.UserSession{ID: newSharedKeyID, StateChainID: &req.StateChainID}); err != nil {
		return nil, err
	}
	if _, err := d.Sessions.Update(priorUserID, func(s *domain.UserSession) error {
		s.Spent = true
		return nil
	}); err != nil {
		return nil, err
	}

	newBackup := domain.BackupTx{
		StateChainID: req.StateChainID,
		Raw:          req.TxBackup,
		NLockTime:    req.NLockTime,
		BackupAddr:   req.BackupAddr,
		Signed:       true,
		UpdatedAt:    time.Now(),
	}

	newProofKey, err := domain.ParseProofKey(tr.StateChainSig.Data)
	if err != nil {
		return nil, fmt.Errorf("transfer: parse new proof key: %w", err)
	}

	if req.BatchData == nil {
		if err := d.Finalize(req.StateChainID, tr.StateChainSig, newSharedKeyID, newBackup, newProofKey); err != nil {
			return nil, err
		}
	} else if onBatchComplete != nil {
		if err := onBatchComplete(*req.BatchData, req.StateChainID, tr.StateChainSig, newSharedKeyID, newBackup, newProofKey); err != nil {
			return nil, err
		}
	}

	return &ReceiverResult{NewSharedKeyID: newSharedKeyID, S2Pub: p2Key}, nil
}

// Finalize is the five-step atomic commit of spec.md §4.4.1. Steps 1-3 and
// 5 (statechain append, owner change, backup install, transfer row
// deletion) commit inside a single kv.Txn; step 4's SMT writes are
// content-addressed by node hash and idempotent, so persisting them ahead
// of the Txn cannot corrupt a reader's view even if the Txn itself were to
// fail — only the new Root record, written inside the Txn, makes them
// reachable.
func (d *Driver) Finalize(scID ids.ID, sig domain.StateChainSig, newOwner ids.ID, newBackup domain.BackupTx, newProofKey domain.ProofKey) error {
	sc, err := d.StateChains.Get(scID)
	if err != nil {
		return err
	}
	if sc.Closed() {
		return errorkind.ErrStateChainClosed
	}
	if len(sc.Chain) == 0 {
		return errorkind.ErrStateChainEmpty
	}

	tipIdx := len(sc.Chain) - 1
	signerKey, err := domain.ParseProofKey(sc.Chain[tipIdx].Data)
	if err != nil {
		return fmt.Errorf("transfer: parse tip proof key: %w", err)
	}
	if err := sigverify.Verify(signerKey, sig); err != nil {
		return err
	}

	sc.Chain[tipIdx].NextState = &sig
	sc.Chain = append(sc.Chain, domain.State{Data: sig.Data})
	sc.OwnerID = newOwner

	key, err := smt.KeyFromTxID(sc.FundingTxID)
	if err != nil {
		return fmt.Errorf("transfer: %v: %w", err, errorkind.ErrSMTError)
	}
	value := smt.ValueFromProofKey(newProofKey)

	var rootPtr *[32]byte
	cur, curErr := d.Roots.Current()
	if curErr == nil {
		rootPtr = cur.Hash
	}
	newRootHash, err := d.Tree.Update(rootPtr, key, value)
	if err != nil {
		return fmt.Errorf("transfer: smt update: %v: %w", err, errorkind.ErrSMTError)
	}

	nextRootID := uint64(1)
	if curErr == nil {
		nextRootID = cur.ID + 1
	}
	h := newRootHash
	newRoot := &domain.Root{ID: nextRootID, Hash: &h}

	txn := d.Store.NewTxn()
	txn.Put(statechainTable, ids.CanonicalHex(scID), sc)
	txn.Put(backupTable, ids.CanonicalHex(scID), newBackup)
	txn.Put(rootsTable, rootsCurrentKey, newRoot)
	txn.Delete(pendingTable, ids.CanonicalHex(scID))
	if err := txn.Commit(); err != nil {
		return fmt.Errorf("transfer: finalize commit for %s: %w", scID, err)
	}
	return nil
}
