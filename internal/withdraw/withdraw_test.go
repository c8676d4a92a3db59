package withdraw

import (
	"context"
	"errors"
	"io"
	"testing"

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
	"stateentity/pkg/config"
)

type testRig struct {
	deposit  *deposit.Driver
	withdraw *Driver
	chain    *chainrpc.Sim
	sessions *session.Registry
}

func newTestRig(t *testing.T) *testRig {
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
	wd := &Driver{StateChains: chains, Sessions: sessions, Oracle: oracle, FeePerInput: 300}
	return &testRig{deposit: dep, withdraw: wd, chain: sim, sessions: sessions}
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

func withdrawSig(priv *secp256k1.PrivateKey, payoutAddr string) domain.StateChainSig {
	sig := domain.StateChainSig{Purpose: domain.Purpose{Kind: domain.PurposeWithdraw}, Data: payoutAddr}
	sig.Sig = sigverify.Sign(priv, sig.Purpose, sig.Data)
	return sig
}

func TestWithdrawHappyPath(t *testing.T) {
	r := newTestRig(t)
	owner, scID, priv := r.openStatechain(t, "cc000000000000000000000000000000000000000000000000000000000000dd")

	const payoutAddr = "bcrt1qwithdrawaddrexample"
	sig := withdrawSig(priv, payoutAddr)

	auth, err := r.withdraw.Init([]ids.ID{owner}, []domain.StateChainSig{sig})
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	if auth.PayoutAddr != payoutAddr {
		t.Fatalf("expected payout addr %q, got %q", payoutAddr, auth.PayoutAddr)
	}
	if len(auth.Inputs) != 1 || auth.Inputs[0].Amount != 10000 {
		t.Fatalf("unexpected authorization: %+v", auth)
	}

	var sighash [32]byte
	copy(sighash[:], []byte("withdraw tx sighash padded to32"))
	result, err := r.withdraw.Confirm([]ConfirmItem{{SharedKeyID: owner, Sighash: sighash, Sig: sig}})
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if len(result.Signatures[scID]) == 0 {
		t.Fatalf("expected a co-signature for %s", scID)
	}

	sc, err := r.withdraw.StateChains.Get(scID)
	if err != nil {
		t.Fatalf("get statechain: %v", err)
	}
	if !sc.Closed() {
		t.Fatalf("expected statechain to be closed after confirm")
	}
	if sc.Chain[len(sc.Chain)-1].Data != payoutAddr {
		t.Fatalf("expected chain to terminate in the payout address, got %q", sc.Chain[len(sc.Chain)-1].Data)
	}

	sess, err := r.sessions.Get(owner)
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if !sess.Spent {
		t.Fatalf("expected session to be marked spent")
	}
}

func TestConfirmRejectsDoubleWithdraw(t *testing.T) {
	r := newTestRig(t)
	owner, _, priv := r.openStatechain(t, "cc000000000000000000000000000000000000000000000000000000000000ee")

	const payoutAddr = "bcrt1qwithdrawaddrexample2"
	sig := withdrawSig(priv, payoutAddr)
	if _, err := r.withdraw.Init([]ids.ID{owner}, []domain.StateChainSig{sig}); err != nil {
		t.Fatalf("init: %v", err)
	}

	var sighash [32]byte
	copy(sighash[:], []byte("withdraw tx sighash padded to32"))
	item := ConfirmItem{SharedKeyID: owner, Sighash: sighash, Sig: sig}
	if _, err := r.withdraw.Confirm([]ConfirmItem{item}); err != nil {
		t.Fatalf("first confirm: %v", err)
	}

	if _, err := r.withdraw.Confirm([]ConfirmItem{item}); !errors.Is(err, errorkind.ErrStateChainClosed) {
		t.Fatalf("expected a replayed confirm to be rejected as already closed, got %v", err)
	}
}

func TestInitRejectsClosedStateChain(t *testing.T) {
	r := newTestRig(t)
	owner, _, priv := r.openStatechain(t, "cc000000000000000000000000000000000000000000000000000000000000ff")

	const payoutAddr = "bcrt1qwithdrawaddrexample3"
	sig := withdrawSig(priv, payoutAddr)
	var sighash [32]byte
	copy(sighash[:], []byte("withdraw tx sighash padded to32"))
	if _, err := r.withdraw.Init([]ids.ID{owner}, []domain.StateChainSig{sig}); err != nil {
		t.Fatalf("init: %v", err)
	}
	if _, err := r.withdraw.Confirm([]ConfirmItem{{SharedKeyID: owner, Sighash: sighash, Sig: sig}}); err != nil {
		t.Fatalf("confirm: %v", err)
	}

	if _, err := r.withdraw.Init([]ids.ID{owner}, []domain.StateChainSig{sig}); !errors.Is(err, errorkind.ErrStateChainClosed) {
		t.Fatalf("expected init against a withdrawn statechain to fail, got %v", err)
	}
}
