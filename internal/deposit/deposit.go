// Package deposit drives the three-phase deposit protocol (spec.md §4.3):
// init, keygen + prepare-sign, and confirm. The SE never opens a
// statechain until the funding transaction clears the confirmation
// deadlines the spec pins to block_time.
package deposit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"stateentity/internal/backuptx"
	"stateentity/internal/chainrpc"
	"stateentity/internal/domain"
	"stateentity/internal/ecdsa"
	"stateentity/internal/errorkind"
	"stateentity/internal/ids"
	"stateentity/internal/rootstore"
	"stateentity/internal/session"
	"stateentity/internal/smt"
	"stateentity/internal/statechain"
	"stateentity/pkg/config"
)

// pollInterval governs how often Confirm re-checks the block source while
// waiting out a deadline.
const pollInterval = 200 * time.Millisecond

// Driver wires together every collaborator the deposit protocol touches.
type Driver struct {
	Sessions    *session.Registry
	StateChains *statechain.Log
	Backups     *backuptx.Store
	KeyStates   *ecdsa.KeyStateStore
	Oracle      ecdsa.Oracle
	Tree        *smt.Tree
	Roots       *rootstore.Store
	Chain       chainrpc.Client
	Cfg         *config.Config
	Log         *logrus.Logger
}

// Init is /deposit/init: allocate user_id and record (auth, proof_key).
func (d *Driver) Init(auth string, proofKey domain.ProofKey) (ids.ID, error) {
	userID := ids.New()
	sess := &domain.UserSession{ID: userID, AuthToken: auth, ProofKey: proofKey}
	if err := d.Sessions.Create(sess); err != nil {
		return ids.ID{}, err
	}
	return userID, nil
}

// Keygen runs the oracle's shared keygen for userID and records the
// resulting joint key (spec.md §4.3 phase 2).
func (d *Driver) Keygen(userID ids.ID) (domain.ProofKey, error) {
	s1, o1G, err := d.Oracle.KeyGen(userID)
	if err != nil {
		return domain.ProofKey{}, fmt.Errorf("deposit: keygen: %v: %w", err, errorkind.ErrOracleUnavailable)
	}
	jointPub := ecdsa.ProofKeyOf(ecdsa.JointPubKey(s1, o1G))
	s1Bytes := s1.Bytes()
	if err := d.KeyStates.Put(domain.EcdsaKeyState{
		UserID:   userID,
		S1:       s1Bytes,
		O1G:      ecdsa.ProofKeyOf(o1G),
		JointPub: jointPub,
	}); err != nil {
		return domain.ProofKey{}, err
	}
	return jointPub, nil
}

// PrepareSign co-signs the unsigned backup tx's sighash via the oracle and
// stashes the signature on the session until Confirm opens the statechain
// (spec.md §4.3 phase 2: "SE co-signs the backup tx via the oracle ...
// SE stores the signed backup").
func (d *Driver) PrepareSign(userID ids.ID, sighash [32]byte) ([]byte, error) {
	sig, err := d.Oracle.Sign(userID, sighash)
	if err != nil {
		return nil, fmt.Errorf("deposit: prepare-sign: %v: %w", err, errorkind.ErrOracleUnavailable)
	}
	if _, err := d.Sessions.Update(userID, func(s *domain.UserSession) error {
		s.TxBackup = sig
		return nil
	}); err != nil {
		return nil, err
	}
	return sig, nil
}

// ConfirmParams is the client-supplied context /deposit/confirm needs to
// open a statechain.
type ConfirmParams struct {
	FundingTxID string
	Amount      uint64
	BackupAddr  string
	NLockTime   uint32
}

// Confirm polls the block source for the funding tx against the deadlines
// spec.md §4.3 phase 3 pins to block_time, then opens the statechain.
func (d *Driver) Confirm(ctx context.Context, userID ids.ID, p ConfirmParams) (ids.ID, error) {
	sess, err := d.Sessions.Get(userID)
	if err != nil {
		return ids.ID{}, err
	}

	blockTime := time.Duration(d.Cfg.BlockTimeMS) * time.Millisecond
	if err := d.awaitBroadcast(ctx, p.FundingTxID, 3*blockTime); err != nil {
		if errors.Is(err, errorkind.ErrUpstreamRPCError) {
			return ids.ID{}, fmt.Errorf("deposit: %w", err)
		}
		return ids.ID{}, fmt.Errorf("deposit: %v: %w", err, errorkind.ErrFundingTxTimeout)
	}
	if err := d.awaitConfirmation(ctx, p.FundingTxID, 1, 10*blockTime); err != nil {
		if errors.Is(err, errorkind.ErrUpstreamRPCError) {
			return ids.ID{}, fmt.Errorf("deposit: %w", err)
		}
		return ids.ID{}, fmt.Errorf("deposit: %v: %w", err, errorkind.ErrFundingTxTimeout)
	}
	select {
	case <-time.After(6 * blockTime):
	case <-ctx.Done():
		return ids.ID{}, ctx.Err()
	}

	scID := ids.New()
	sc := &domain.StateChain{
		ID:          scID,
		Chain:       []domain.State{{Data: sess.ProofKey.String()}},
		Amount:      p.Amount,
		LockedUntil: time.Now(),
		OwnerID:     userID,
		FundingTxID: p.FundingTxID,
	}
	if err := d.StateChains.Create(sc); err != nil {
		return ids.ID{}, err
	}

	if err := d.Backups.Put(domain.BackupTx{
		StateChainID: scID,
		Raw:          sess.TxBackup,
		NLockTime:    p.NLockTime,
		BackupAddr:   p.BackupAddr,
		Signed:       true,
		UpdatedAt:    time.Now(),
	}); err != nil {
		return ids.ID{}, err
	}

	if err := d.insertIntoSMT(sc.FundingTxID, sess.ProofKey); err != nil {
		return ids.ID{}, err
	}

	if _, err := d.Sessions.Update(userID, func(s *domain.UserSession) error {
		s.StateChainID = &scID
		return nil
	}); err != nil {
		return ids.ID{}, err
	}

	d.Log.WithFields(logrus.Fields{
		"state_chain_id": scID,
		"funding_txid":   p.FundingTxID,
		"amount":         p.Amount,
	}).Info("deposit confirmed, statechain opened")
	return scID, nil
}

func (d *Driver) awaitBroadcast(ctx context.Context, txid string, deadline time.Duration) error {
	timeoutCtx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		seen, err := d.Chain.TxSeen(timeoutCtx, txid)
		if err != nil {
			return fmt.Errorf("poll broadcast: %w", errorkind.ErrUpstreamRPCError)
		}
		if seen {
			return nil
		}
		select {
		case <-timeoutCtx.Done():
			return fmt.Errorf("funding tx %s not broadcast within deadline", txid)
		case <-ticker.C:
		}
	}
}

func (d *Driver) awaitConfirmation(ctx context.Context, txid string, minConfs int, deadline time.Duration) error {
	timeoutCtx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		confs, err := d.Chain.TxConfirmations(timeoutCtx, txid)
		if err != nil {
			return fmt.Errorf("poll confirmations: %w", errorkind.ErrUpstreamRPCError)
		}
		if confs >= minConfs {
			return nil
		}
		select {
		case <-timeoutCtx.Done():
			return fmt.Errorf("funding tx %s not confirmed within deadline", txid)
		case <-ticker.C:
		}
	}
}

func (d *Driver) insertIntoSMT(fundingTxID string, proofKey domain.ProofKey) error {
	key, err := smt.KeyFromTxID(fundingTxID)
	if err != nil {
		return fmt.Errorf("deposit: %v: %w", err, errorkind.ErrSMTError)
	}
	value := smt.ValueFromProofKey(proofKey)

	var rootPtr *[32]byte
	if cur, err := d.Roots.Current(); err == nil {
		rootPtr = cur.Hash
	}
	newRoot, err := d.Tree.Update(rootPtr, key, value)
	if err != nil {
		return fmt.Errorf("deposit: smt update: %v: %w", err, errorkind.ErrSMTError)
	}
	if _, err := d.Roots.Publish(newRoot); err != nil {
		return fmt.Errorf("deposit: publish root: %w", err)
	}
	return nil
}
