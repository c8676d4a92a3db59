package statechain

import (
	"errors"
	"testing"
	"time"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"

	"stateentity/internal/domain"
	"stateentity/internal/errorkind"
	"stateentity/internal/ids"
	"stateentity/internal/kv"
	"stateentity/internal/sigverify"
)

func newTestLog(t *testing.T) *Log {
	t.Helper()
	store, err := kv.New(16)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	return New(store)
}

func mustProofKey(t *testing.T, priv *secp256k1.PrivateKey) domain.ProofKey {
	t.Helper()
	return domain.ProofKeyFromPoint(priv.PubKey())
}

func TestCreateThenAdd(t *testing.T) {
	l := newTestLog(t)

	owner, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		t.Fatalf("gen key: %v", err)
	}
	proofKey := mustProofKey(t, owner)

	scID := ids.New()
	sc := &domain.StateChain{
		ID:          scID,
		Chain:       []domain.State{{Data: proofKey.String()}},
		Amount:      10000,
		LockedUntil: time.Now(),
		OwnerID:     ids.New(),
		FundingTxID: "deadbeef",
	}
	if err := l.Create(sc); err != nil {
		t.Fatalf("create: %v", err)
	}

	nextPriv, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		t.Fatalf("gen next key: %v", err)
	}
	nextProofKey := mustProofKey(t, nextPriv)

	purpose := domain.Purpose{Kind: domain.PurposeTransfer}
	sig := domain.StateChainSig{
		ID:      ids.New(),
		Purpose: purpose,
		Data:    nextProofKey.String(),
		Sig:     sigverify.Sign(owner, purpose, nextProofKey.String()),
	}

	updated, err := l.Add(scID, sig)
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if len(updated.Chain) != 2 {
		t.Fatalf("expected chain length 2, got %d", len(updated.Chain))
	}
	if updated.Chain[0].NextState == nil {
		t.Fatalf("expected tip to be closed with next_state")
	}
	if updated.Chain[1].Data != nextProofKey.String() {
		t.Fatalf("expected new tip data to be next proof key")
	}
}

func TestAddRejectsBadSignature(t *testing.T) {
	l := newTestLog(t)

	owner, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		t.Fatalf("gen key: %v", err)
	}
	proofKey := mustProofKey(t, owner)

	scID := ids.New()
	sc := &domain.StateChain{
		ID:      scID,
		Chain:   []domain.State{{Data: proofKey.String()}},
		Amount:  5000,
		OwnerID: ids.New(),
	}
	if err := l.Create(sc); err != nil {
		t.Fatalf("create: %v", err)
	}

	impostor, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		t.Fatalf("gen impostor key: %v", err)
	}
	purpose := domain.Purpose{Kind: domain.PurposeTransfer}
	sig := domain.StateChainSig{
		Purpose: purpose,
		Data:    "somedata",
		Sig:     sigverify.Sign(impostor, purpose, "somedata"),
	}

	if _, err := l.Add(scID, sig); !errors.Is(err, errorkind.ErrSignatureInvalid) {
		t.Fatalf("expected ErrSignatureInvalid, got %v", err)
	}
}

func TestAddRejectsClosedStateChain(t *testing.T) {
	l := newTestLog(t)

	owner, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		t.Fatalf("gen key: %v", err)
	}
	proofKey := mustProofKey(t, owner)

	scID := ids.New()
	sc := &domain.StateChain{
		ID:      scID,
		Chain:   []domain.State{{Data: proofKey.String()}},
		Amount:  0,
		OwnerID: ids.New(),
	}
	if err := l.Create(sc); err != nil {
		t.Fatalf("create: %v", err)
	}

	purpose := domain.Purpose{Kind: domain.PurposeWithdraw}
	sig := domain.StateChainSig{
		Purpose: purpose,
		Data:    "bc1qpayout",
		Sig:     sigverify.Sign(owner, purpose, "bc1qpayout"),
	}
	if _, err := l.Add(scID, sig); !errors.Is(err, errorkind.ErrStateChainClosed) {
		t.Fatalf("expected ErrStateChainClosed, got %v", err)
	}
}

func TestGetMissingReturnsNoDataForID(t *testing.T) {
	l := newTestLog(t)
	if _, err := l.Get(ids.New()); !errors.Is(err, errorkind.ErrNoDataForID) {
		t.Fatalf("expected ErrNoDataForID, got %v", err)
	}
}

func TestCloseSetsAmountZero(t *testing.T) {
	l := newTestLog(t)
	owner, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		t.Fatalf("gen key: %v", err)
	}
	proofKey := mustProofKey(t, owner)

	scID := ids.New()
	sc := &domain.StateChain{
		ID:      scID,
		Chain:   []domain.State{{Data: proofKey.String()}},
		Amount:  7777,
		OwnerID: ids.New(),
	}
	if err := l.Create(sc); err != nil {
		t.Fatalf("create: %v", err)
	}

	closed, err := l.Close(scID)
	if err != nil {
		t.Fatalf("close: %v", err)
	}
	if !closed.Closed() {
		t.Fatalf("expected statechain to report closed")
	}
}
