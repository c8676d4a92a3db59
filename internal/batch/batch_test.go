package batch

import (
	"context"
	"crypto/sha256"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/sirupsen/logrus"

	"stateentity/internal/backuptx"
	"stateentity/internal/chainrpc"
	"stateentity/internal/deposit"
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
	"stateentity/internal/transfer"
	"stateentity/pkg/config"
)

type testRig struct {
	deposit *deposit.Driver
	xfer    *transfer.Driver
	batch   *Coordinator
	oracle  *ecdsa.SimOracle
	chain   *chainrpc.Sim
}

func newTestRig(t *testing.T, punishDuration time.Duration) *testRig {
	t.Helper()
	store, err := kv.New(64)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	sim := chainrpc.NewSim()
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	sessions := session.New(store)
	chains := statechain.New(store)
	backups := backuptx.New(store)
	keyStates := ecdsa.NewKeyStateStore(store)
	oracle := ecdsa.NewSimOracle()
	tree := smt.New(store)
	roots := rootstore.New(store)

	dep := &deposit.Driver{
		Sessions: sessions, StateChains: chains, Backups: backups,
		KeyStates: keyStates, Oracle: oracle, Tree: tree, Roots: roots,
		Chain: sim, Cfg: &config.Config{BlockTimeMS: 1}, Log: logger,
	}
	xfer := &transfer.Driver{
		Store: store, StateChains: chains, Sessions: sessions,
		KeyStates: keyStates, Oracle: oracle, Backups: backups, Tree: tree, Roots: roots,
	}
	coord := New(store, chains, xfer, punishDuration)
	return &testRig{deposit: dep, xfer: xfer, batch: coord, oracle: oracle, chain: sim}
}

func (r *testRig) openStatechain(t *testing.T, fundingTxID string) (ids.ID, ids.ID, *secp256k1.PrivateKey) {
	t.Helper()
	priv, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generate proof key: %v", err)
	}
	proofKey := domain.ProofKeyFromPoint(priv.PubKey())

	userID, err := r.deposit.Init("auth-token", proofKey)
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	if _, err := r.deposit.Keygen(userID); err != nil {
		t.Fatalf("keygen: %v", err)
	}
	var sighash [32]byte
	copy(sighash[:], []byte("backup tx sighash padded to 32b"))
	if _, err := r.deposit.PrepareSign(userID, sighash); err != nil {
		t.Fatalf("prepare-sign: %v", err)
	}
	r.chain.Broadcast(fundingTxID)
	r.chain.Advance(2)

	scID, err := r.deposit.Confirm(context.Background(), userID, deposit.ConfirmParams{
		FundingTxID: fundingTxID,
		Amount:      10000,
		BackupAddr:  "bcrt1qexampleaddr",
		NLockTime:   1000,
	})
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}
	return userID, scID, priv
}

func fundingTxID(suffix string) string {
	return "aa" + strings.Repeat("0", 60) + suffix
}

// commitNonce picks a per-statechain nonce and returns both it and the
// Hash(state_chain_id‖nonce) commitment spec.md §4.5 has each leg submit
// with its receiver call.
func commitNonce(scID ids.ID) (nonce, commitment [32]byte) {
	nonce[0] = byte(scID[0])
	nonce[1] = 0x42
	idBytes := [16]byte(scID)
	h := sha256.New()
	h.Write(idBytes[:])
	h.Write(nonce[:])
	copy(commitment[:], h.Sum(nil))
	return nonce, commitment
}

func runLeg(t *testing.T, r *testRig, batchID, ownerID, scID ids.ID, ownerPriv *secp256k1.PrivateKey, commitment [32]byte) {
	t.Helper()
	receiverProofPriv, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generate receiver proof key: %v", err)
	}
	newProofKey := domain.ProofKeyFromPoint(receiverProofPriv.PubKey())
	sig := domain.StateChainSig{
		Purpose: domain.Purpose{Kind: domain.PurposeTransferBatch, BatchID: &batchID},
		Data:    newProofKey.String(),
	}
	sig.Sig = sigverify.Sign(ownerPriv, sig.Purpose, sig.Data)

	x1, err := r.xfer.Sender(ownerID, scID, sig)
	if err != nil {
		t.Fatalf("sender: %v", err)
	}
	o1, err := r.oracle.WalletShare(ownerID)
	if err != nil {
		t.Fatalf("wallet share: %v", err)
	}
	var x1Scalar ecdsa.Scalar
	x1Scalar.SetByteSlice(x1[:])
	var t1 ecdsa.Scalar
	t1.Mul2(&o1, &x1Scalar)

	// s2 lands at or above n/3 for roughly two o2 draws in three; the wallet
	// answers ErrInvalidO2TryAgain with a fresh o2.
	for attempt := 0; ; attempt++ {
		o2Priv, err := secp256k1.GeneratePrivateKey()
		if err != nil {
			t.Fatalf("generate o2: %v", err)
		}
		o2Inv := ecdsa.Invert(o2Priv.Key)
		var t2 ecdsa.Scalar
		t2.Mul2(&t1, &o2Inv)
		t2Bytes := t2.Bytes()

		_, err = r.xfer.Receiver(transfer.ReceiverRequest{
			StateChainID:  scID,
			T2:            t2Bytes,
			StateChainSig: sig,
			O2Pub:         domain.ProofKeyFromPoint(o2Priv.PubKey()),
			TxBackup:      []byte("new backup tx raw bytes"),
			BackupAddr:    "bcrt1qnewownerexample",
			NLockTime:     900,
			BatchData:     &transfer.BatchData{BatchID: batchID, Commitment: commitment},
		}, func(bd transfer.BatchData, scID ids.ID, sig domain.StateChainSig, newOwner ids.ID, backup domain.BackupTx, newProofKey domain.ProofKey) error {
			return r.batch.MarkComplete(bd, scID, sig, newOwner, backup, newProofKey)
		})
		if errors.Is(err, errorkind.ErrInvalidO2TryAgain) && attempt < 64 {
			continue
		}
		if err != nil {
			t.Fatalf("receiver: %v", err)
		}
		return
	}
}

func TestBatchFinalizesWhenAllLegsComplete(t *testing.T) {
	r := newTestRig(t, time.Hour)
	owner1, sc1, priv1 := r.openStatechain(t, fundingTxID("b1"))
	owner2, sc2, priv2 := r.openStatechain(t, fundingTxID("b2"))

	batchID := ids.New()
	if err := r.batch.Init(batchID, []ids.ID{sc1, sc2}); err != nil {
		t.Fatalf("init: %v", err)
	}
	nonce1, commitment1 := commitNonce(sc1)
	nonce2, commitment2 := commitNonce(sc2)

	runLeg(t, r, batchID, owner1, sc1, priv1, commitment1)

	b, err := r.batch.Get(batchID)
	if err != nil {
		t.Fatalf("get batch: %v", err)
	}
	if b.Finalized {
		t.Fatalf("expected batch not yet finalized with one leg outstanding")
	}

	runLeg(t, r, batchID, owner2, sc2, priv2, commitment2)

	b, err = r.batch.Get(batchID)
	if err != nil {
		t.Fatalf("get batch: %v", err)
	}
	if !b.Finalized {
		t.Fatalf("expected batch finalized once every leg completed")
	}

	for _, scID := range []ids.ID{sc1, sc2} {
		sc, err := r.xfer.StateChains.Get(scID)
		if err != nil {
			t.Fatalf("get statechain: %v", err)
		}
		if len(sc.Chain) != 2 {
			t.Fatalf("expected statechain %s to have advanced, chain length %d", scID, len(sc.Chain))
		}
	}

	if err := r.batch.Reveal(batchID, sc1, nonce1); err != nil {
		t.Fatalf("reveal sc1: %v", err)
	}
	if err := r.batch.Reveal(batchID, sc2, nonce2); err != nil {
		t.Fatalf("reveal sc2: %v", err)
	}
}

func TestBatchPunishesIncompleteParticipantsAfterDeadline(t *testing.T) {
	r := newTestRig(t, 10*time.Millisecond)
	owner1, sc1, priv1 := r.openStatechain(t, fundingTxID("b3"))
	_, sc2, _ := r.openStatechain(t, fundingTxID("b4"))

	batchID := ids.New()
	if err := r.batch.Init(batchID, []ids.ID{sc1, sc2}); err != nil {
		t.Fatalf("init: %v", err)
	}
	if err := r.batch.Reveal(batchID, sc1, [32]byte{}); !errors.Is(err, errorkind.ErrBatchWindowOpen) {
		t.Fatalf("expected reveal before window close to be rejected, got %v", err)
	}

	nonce1, commitment1 := commitNonce(sc1)
	runLeg(t, r, batchID, owner1, sc1, priv1, commitment1)

	time.Sleep(20 * time.Millisecond)
	if err := r.batch.SweepExpired(time.Now()); err != nil {
		t.Fatalf("sweep: %v", err)
	}

	b, err := r.batch.Get(batchID)
	if err != nil {
		t.Fatalf("get batch: %v", err)
	}
	if !b.Dead {
		t.Fatalf("expected batch to be marked dead after the punishment deadline")
	}
	if !b.PunishedStateChains[sc2] {
		t.Fatalf("expected the incomplete statechain to be punished")
	}
	if b.PunishedStateChains[sc1] {
		t.Fatalf("did not expect the completed statechain to be punished")
	}

	sc, err := r.xfer.StateChains.Get(sc2)
	if err != nil {
		t.Fatalf("get statechain: %v", err)
	}
	if !time.Now().Before(sc.LockedUntil) {
		t.Fatalf("expected punished statechain to remain locked")
	}

	if err := r.batch.Reveal(batchID, sc1, nonce1); err != nil {
		t.Fatalf("reveal completed leg: %v", err)
	}
}

func TestRevealRejectsWrongNonce(t *testing.T) {
	r := newTestRig(t, time.Hour)
	owner1, sc1, priv1 := r.openStatechain(t, fundingTxID("b5"))

	batchID := ids.New()
	if err := r.batch.Init(batchID, []ids.ID{sc1}); err != nil {
		t.Fatalf("init: %v", err)
	}
	_, commitment := commitNonce(sc1)
	runLeg(t, r, batchID, owner1, sc1, priv1, commitment)

	b, err := r.batch.Get(batchID)
	if err != nil {
		t.Fatalf("get batch: %v", err)
	}
	if !b.Finalized {
		t.Fatalf("expected the single-leg batch to finalize immediately")
	}

	var wrongNonce [32]byte
	wrongNonce[0] = 0xff
	if err := r.batch.Reveal(batchID, sc1, wrongNonce); !errors.Is(err, errorkind.ErrCommitmentMismatch) {
		t.Fatalf("expected commitment-mismatch error, got %v", err)
	}
}
