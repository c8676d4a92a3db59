package deposit

import (
	"context"
	"io"
	"testing"

	"github.com/sirupsen/logrus"

	"stateentity/internal/backuptx"
	"stateentity/internal/chainrpc"
	"stateentity/internal/domain"
	"stateentity/internal/ecdsa"
	"stateentity/internal/kv"
	"stateentity/internal/rootstore"
	"stateentity/internal/session"
	"stateentity/internal/smt"
	"stateentity/internal/statechain"
	"stateentity/pkg/config"
)

func newTestDriver(t *testing.T) (*Driver, *chainrpc.Sim) {
	t.Helper()
	store, err := kv.New(64)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	sim := chainrpc.NewSim()
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	return &Driver{
		Sessions:    session.New(store),
		StateChains: statechain.New(store),
		Backups:     backuptx.New(store),
		KeyStates:   ecdsa.NewKeyStateStore(store),
		Oracle:      ecdsa.NewSimOracle(),
		Tree:        smt.New(store),
		Roots:       rootstore.New(store),
		Chain:       sim,
		Cfg:         &config.Config{BlockTimeMS: 1},
		Log:         logger,
	}, sim
}

func TestDepositHappyPath(t *testing.T) {
	d, sim := newTestDriver(t)

	proofKey, err := domain.ParseProofKey("038c66b1b299d525ae7da4fab94991e196af856df04aebc91d324e9d9432f97cd5")
	if err != nil {
		t.Fatalf("parse proof key: %v", err)
	}

	userID, err := d.Init("auth-token", proofKey)
	if err != nil {
		t.Fatalf("init: %v", err)
	}

	if _, err := d.Keygen(userID); err != nil {
		t.Fatalf("keygen: %v", err)
	}

	var sighash [32]byte
	copy(sighash[:], []byte("backup tx sighash padded to 32b"))
	if _, err := d.PrepareSign(userID, sighash); err != nil {
		t.Fatalf("prepare-sign: %v", err)
	}

	fundingTxID := "aa000000000000000000000000000000000000000000000000000000000000bb"
	sim.Broadcast(fundingTxID)
	sim.Advance(2)

	scID, err := d.Confirm(context.Background(), userID, ConfirmParams{
		FundingTxID: fundingTxID,
		Amount:      10000,
		BackupAddr:  "bcrt1qexampleaddr",
		NLockTime:   1000,
	})
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}

	sc, err := d.StateChains.Get(scID)
	if err != nil {
		t.Fatalf("get statechain: %v", err)
	}
	if len(sc.Chain) != 1 {
		t.Fatalf("expected chain length 1, got %d", len(sc.Chain))
	}
	if sc.Chain[0].Data != proofKey.String() {
		t.Fatalf("expected tip data to be deposit proof key")
	}
	if sc.Amount != 10000 {
		t.Fatalf("expected amount 10000, got %d", sc.Amount)
	}

	root, err := d.Roots.Current()
	if err != nil {
		t.Fatalf("current root: %v", err)
	}
	key, _ := smt.KeyFromTxID(fundingTxID)
	value := smt.ValueFromProofKey(proofKey)
	proof, err := d.Tree.GetMerkleProof(*root.Hash, key)
	if err != nil {
		t.Fatalf("proof: %v", err)
	}
	if !smt.Verify(*root.Hash, key, value, proof) {
		t.Fatalf("expected deposited funding txid to verify against published root")
	}
}
