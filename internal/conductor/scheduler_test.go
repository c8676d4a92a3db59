package conductor

import (
	"context"
	"io"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/sirupsen/logrus"
	"go.uber.org/zap"

	"stateentity/internal/backuptx"
	"stateentity/internal/chainrpc"
	"stateentity/internal/deposit"
	"stateentity/internal/domain"
	"stateentity/internal/ecdsa"
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
	deposit *deposit.Driver
	chains  *statechain.Log
	chain   *chainrpc.Sim
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
	chains := statechain.New(store)

	dep := &deposit.Driver{
		Sessions:    session.New(store),
		StateChains: chains,
		Backups:     backuptx.New(store),
		KeyStates:   ecdsa.NewKeyStateStore(store),
		Oracle:      ecdsa.NewSimOracle(),
		Tree:        smt.New(store),
		Roots:       rootstore.New(store),
		Chain:       sim,
		Cfg:         &config.Config{BlockTimeMS: 1},
		Log:         logger,
	}
	return &testRig{deposit: dep, chains: chains, chain: sim}
}

func (r *testRig) openStatechain(t *testing.T, suffix string, amount uint64) (ids.ID, *secp256k1.PrivateKey) {
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
	txid := "bb" + strings.Repeat("0", 60) + suffix
	r.chain.Broadcast(txid)
	r.chain.Advance(2)

	scID, err := r.deposit.Confirm(context.Background(), userID, deposit.ConfirmParams{
		FundingTxID: txid,
		Amount:      amount,
		BackupAddr:  "bcrt1qexampleaddr",
		NLockTime:   1000,
	})
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}
	return scID, priv
}

func registerSwapSig(priv *secp256k1.PrivateKey, swapSize int) []byte {
	return sigverify.Sign(priv, domain.Purpose{Kind: domain.PurposeSwap}, strconv.Itoa(swapSize))
}

func TestMatchTickLiteralExample(t *testing.T) {
	r := newTestRig(t)
	d := New(r.chains, time.Hour, zap.NewNop().Sugar())

	// amount=10, three participants each requesting swap size 3.
	for i := 0; i < 3; i++ {
		scID, priv := r.openStatechain(t, "a"+strconv.Itoa(i), 10)
		if err := d.RegisterUTXO(scID, registerSwapSig(priv, 3), 3); err != nil {
			t.Fatalf("register: %v", err)
		}
	}
	// amount=9, four participants each requesting swap size 4.
	for i := 0; i < 4; i++ {
		scID, priv := r.openStatechain(t, "b"+strconv.Itoa(i), 9)
		if err := d.RegisterUTXO(scID, registerSwapSig(priv, 4), 4); err != nil {
			t.Fatalf("register: %v", err)
		}
	}
	// amount=5, four participants each requesting swap size 5: not enough
	// to form a group of 5.
	for i := 0; i < 4; i++ {
		scID, priv := r.openStatechain(t, "c"+strconv.Itoa(i), 5)
		if err := d.RegisterUTXO(scID, registerSwapSig(priv, 5), 5); err != nil {
			t.Fatalf("register: %v", err)
		}
	}

	d.MatchTick(time.Now())

	d.mu.Lock()
	openRounds := len(d.swaps)
	remaining := len(d.amount)
	d.mu.Unlock()

	if openRounds != 2 {
		t.Fatalf("expected 2 swap rounds formed, got %d", openRounds)
	}
	if remaining != 4 {
		t.Fatalf("expected the 4 amount=5 participants to remain unmatched, got %d remaining", remaining)
	}

	foundSizes := map[uint64]int{}
	for _, rs := range d.swaps {
		foundSizes[rs.info.SwapToken.Amount] = len(rs.info.SwapToken.StateChainIDs)
	}
	if foundSizes[10] != 3 {
		t.Fatalf("expected amount=10 round of size 3, got %d", foundSizes[10])
	}
	if foundSizes[9] != 4 {
		t.Fatalf("expected amount=9 round of size 4, got %d", foundSizes[9])
	}
}

func TestSwapFullRoundTrip(t *testing.T) {
	r := newTestRig(t)
	d := New(r.chains, time.Hour, zap.NewNop().Sugar())

	type participant struct {
		scID ids.ID
		priv *secp256k1.PrivateKey
		addr domain.SCEAddress
	}
	parts := make([]participant, 0, 3)
	for i := 0; i < 3; i++ {
		scID, priv := r.openStatechain(t, "d"+strconv.Itoa(i), 42)
		if err := d.RegisterUTXO(scID, registerSwapSig(priv, 3), 3); err != nil {
			t.Fatalf("register: %v", err)
		}
		addrPriv, err := secp256k1.GeneratePrivateKey()
		if err != nil {
			t.Fatalf("generate addr proof key: %v", err)
		}
		addrProofKey := domain.ProofKeyFromPoint(addrPriv.PubKey())
		parts = append(parts, participant{
			scID: scID, priv: priv,
			addr: domain.SCEAddress{Addr: EncodeSCEAddress(addrProofKey), ProofKey: addrProofKey},
		})
	}

	d.MatchTick(time.Now())
	swapID := d.PollUTXO(parts[0].scID)
	if swapID == nil {
		t.Fatalf("expected participant 0 to be matched into a swap")
	}
	for _, p := range parts {
		if got := d.PollUTXO(p.scID); got == nil || *got != *swapID {
			t.Fatalf("expected every participant matched into the same swap")
		}
	}

	info, err := d.PollSwap(*swapID)
	if err != nil {
		t.Fatalf("poll swap: %v", err)
	}
	if info.Status != domain.SwapPhase1 {
		t.Fatalf("expected phase1, got %s", info.Status)
	}

	for _, p := range parts {
		msg := info.SwapToken.ToMessage()
		sig := sigverify.SignRaw(p.priv, msg)
		if err := d.First(p.scID, sig, p.addr); err != nil {
			t.Fatalf("first for %s: %v", p.scID, err)
		}
	}

	info, err = d.PollSwap(*swapID)
	if err != nil {
		t.Fatalf("poll swap after phase1: %v", err)
	}
	if info.Status != domain.SwapPhase2 {
		t.Fatalf("expected phase2 once all submitted, got %s", info.Status)
	}

	claimed := make(map[string]bool)
	for _, p := range parts {
		tok, err := d.BlindedTokenFor(*swapID, p.scID)
		if err != nil {
			t.Fatalf("blinded token for %s: %v", p.scID, err)
		}
		addr, err := d.Second(*swapID, *tok)
		if err != nil {
			t.Fatalf("second for %s: %v", p.scID, err)
		}
		if claimed[addr.Addr] {
			t.Fatalf("address %s claimed twice", addr.Addr)
		}
		claimed[addr.Addr] = true

		if _, err := d.Second(*swapID, *tok); err == nil {
			t.Fatalf("expected re-redeeming the same token to fail")
		}
	}
	if len(claimed) != len(parts) {
		t.Fatalf("expected every deposited address to be claimed exactly once, got %d", len(claimed))
	}
}

func TestRegisterUTXORejectsBadSignature(t *testing.T) {
	r := newTestRig(t)
	d := New(r.chains, time.Hour, zap.NewNop().Sugar())

	scID, _ := r.openStatechain(t, "f1", 10)
	otherPriv, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generate other priv: %v", err)
	}
	if err := d.RegisterUTXO(scID, registerSwapSig(otherPriv, 3), 3); err == nil {
		t.Fatalf("expected signature mismatch to be rejected")
	}
}

func TestSweepExpiredDropsStalePhase1Round(t *testing.T) {
	r := newTestRig(t)
	d := New(r.chains, time.Millisecond, zap.NewNop().Sugar())

	scID, priv := r.openStatechain(t, "e1", 10)
	if err := d.RegisterUTXO(scID, registerSwapSig(priv, 1), 1); err != nil {
		t.Fatalf("register: %v", err)
	}
	d.MatchTick(time.Now())
	if d.PollUTXO(scID) == nil {
		t.Fatalf("expected single-participant group of size 1 to match immediately")
	}

	d.SweepExpired(time.Now().Add(time.Hour))
	if d.PollUTXO(scID) != nil {
		t.Fatalf("expected expired round to be dropped")
	}
}
