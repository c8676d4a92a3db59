// Package withdraw drives the withdraw protocol (spec.md §4.8): closing out
// a statechain by authorizing a single on-chain spend of every listed
// shared key's P-output to one payout address.
package withdraw

import (
	"fmt"
	"time"

	"stateentity/internal/domain"
	"stateentity/internal/ecdsa"
	"stateentity/internal/errorkind"
	"stateentity/internal/ids"
	"stateentity/internal/session"
	"stateentity/internal/sigverify"
	"stateentity/internal/statechain"
)

// Driver wires together every collaborator the withdraw protocol touches.
type Driver struct {
	StateChains *statechain.Log
	Sessions    *session.Registry
	Oracle      ecdsa.Oracle
	FeePerInput uint64
}

// InputAuthorization is one statechain's contribution to the withdraw tx
// the client is authorized to build.
type InputAuthorization struct {
	SharedKeyID  ids.ID
	StateChainID ids.ID
	FundingTxID  string
	Amount       uint64
}

// Authorization is /withdraw/init's response: the client combines every
// input into a single withdraw tx paying PayoutAddr, minus FeePerInput per
// input (spec.md §4.8: "minus withdraw_fee × N").
type Authorization struct {
	PayoutAddr  string
	Inputs      []InputAuthorization
	FeePerInput uint64
}

// Init is /withdraw/init (spec.md §4.8): for each (shared_key_id,
// StateChainSig{purpose=WITHDRAW, data=payout_addr}) pair, verify the
// signature under the statechain's current tip proof key and that the
// statechain is unlocked with amount > 0, then authorize the withdraw.
func (d *Driver) Init(sharedKeyIDs []ids.ID, sigs []domain.StateChainSig) (*Authorization, error) {
	if len(sharedKeyIDs) == 0 || len(sharedKeyIDs) != len(sigs) {
		return nil, fmt.Errorf("withdraw: shared_key_ids and state_chain_sigs must be equal length and non-empty")
	}

	payoutAddr := sigs[0].Data
	inputs := make([]InputAuthorization, 0, len(sharedKeyIDs))
	for i, sharedKeyID := range sharedKeyIDs {
		sig := sigs[i]
		if sig.Purpose.Kind != domain.PurposeWithdraw {
			return nil, errorkind.ErrProtocolMismatch
		}
		if sig.Data != payoutAddr {
			return nil, fmt.Errorf("withdraw: all inputs must withdraw to the same payout address: %w", errorkind.ErrProtocolMismatch)
		}

		sess, err := d.Sessions.Get(sharedKeyID)
		if err != nil {
			return nil, err
		}
		if sess.StateChainID == nil {
			return nil, errorkind.ErrNoDataForID
		}
		scID := *sess.StateChainID

		sc, err := d.StateChains.Get(scID)
		if err != nil {
			return nil, err
		}
		if sc.OwnerID != sharedKeyID {
			return nil, errorkind.ErrStateChainOwnership
		}
		if time.Now().Before(sc.LockedUntil) {
			return nil, errorkind.ErrStateChainLocked
		}
		if sc.Closed() {
			return nil, errorkind.ErrStateChainClosed
		}

		tip := sc.Tip()
		signerKey, err := domain.ParseProofKey(tip.Data)
		if err != nil {
			return nil, fmt.Errorf("withdraw: parse tip proof key: %w", err)
		}
		if err := sigverify.Verify(signerKey, sig); err != nil {
			return nil, err
		}

		inputs = append(inputs, InputAuthorization{
			SharedKeyID:  sharedKeyID,
			StateChainID: scID,
			FundingTxID:  sc.FundingTxID,
			Amount:       sc.Amount,
		})
	}

	return &Authorization{PayoutAddr: payoutAddr, Inputs: inputs, FeePerInput: d.FeePerInput}, nil
}

// ConfirmItem pairs one authorized input with the sighash of its slot in
// the client-built withdraw tx and the WITHDRAW StateChainSig to append as
// that statechain's terminal link.
type ConfirmItem struct {
	SharedKeyID ids.ID
	Sighash     [32]byte
	Sig         domain.StateChainSig
}

// ConfirmResult is /withdraw/confirm's response: one co-signature per
// input, keyed by statechain id. The HTTP handler puts them back in request
// order for the withdraw tx's witness stack.
type ConfirmResult struct {
	Signatures map[ids.ID][]byte
}

// Confirm is /withdraw/confirm (spec.md §4.8): co-sign every input through
// the oracle, append the terminal WITHDRAW link to each statechain, and
// close it (amount = 0, session spent). A statechain that already closed —
// whether from a prior Confirm or a race against another withdraw attempt
// on the same shared key — is rejected, which is what makes a replayed
// confirm a no-op rather than a double withdrawal.
func (d *Driver) Confirm(items []ConfirmItem) (*ConfirmResult, error) {
	sigs := make(map[ids.ID][]byte, len(items))
	for _, item := range items {
		sess, err := d.Sessions.Get(item.SharedKeyID)
		if err != nil {
			return nil, err
		}
		if sess.StateChainID == nil {
			return nil, errorkind.ErrNoDataForID
		}
		scID := *sess.StateChainID

		sc, err := d.StateChains.Get(scID)
		if err != nil {
			return nil, err
		}
		if sc.Closed() {
			return nil, errorkind.ErrStateChainClosed
		}

		coSig, err := d.Oracle.Sign(item.SharedKeyID, item.Sighash)
		if err != nil {
			return nil, fmt.Errorf("withdraw: co-sign: %v: %w", err, errorkind.ErrOracleUnavailable)
		}

		if _, err := d.StateChains.Add(scID, item.Sig); err != nil {
			return nil, err
		}
		if _, err := d.StateChains.Close(scID); err != nil {
			return nil, err
		}
		if _, err := d.Sessions.Update(item.SharedKeyID, func(s *domain.UserSession) error {
			s.Spent = true
			s.WithdrawSig = coSig
			return nil
		}); err != nil {
			return nil, err
		}

		sigs[scID] = coSig
	}
	return &ConfirmResult{Signatures: sigs}, nil
}
