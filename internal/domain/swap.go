package domain

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"strings"
	"time"

	"stateentity/internal/ids"
)

// SwapStatus is the phase of an in-progress Conductor swap round
// (spec.md §4.6).
type SwapStatus string

const (
	SwapPhase1 SwapStatus = "PHASE1"
	SwapPhase2 SwapStatus = "PHASE2"
	SwapPhase3 SwapStatus = "PHASE3"
)

// SwapToken is the signed round descriptor every participant commits to
// before the Conductor issues blinded spend tokens (spec.md §4.6).
type SwapToken struct {
	ID            ids.ID    `json:"id"`
	Amount        uint64    `json:"amount"`
	TimeOut       time.Time `json:"time_out"`
	StateChainIDs []ids.ID  `json:"state_chain_ids"`
}

// ToMessage renders the canonical message a SwapToken's signature covers
// (spec.md §4.6: "SHA256d(amount ‖ time_out ‖ repr(state_chain_ids))"),
// using the canonical id encoding spec.md §9 pins: lowercase hex of each
// id's 16 raw bytes, comma-joined, no surrounding whitespace.
func (t SwapToken) ToMessage() [32]byte {
	var buf bytes.Buffer
	_ = binary.Write(&buf, binary.BigEndian, t.Amount)
	_ = binary.Write(&buf, binary.BigEndian, t.TimeOut.Unix())

	parts := make([]string, len(t.StateChainIDs))
	for i, id := range t.StateChainIDs {
		parts[i] = ids.CanonicalHex(id)
	}
	buf.WriteString(strings.Join(parts, ","))

	first := sha256.Sum256(buf.Bytes())
	return sha256.Sum256(first[:])
}

// SCEAddress is a receive-side address paired with a proof key (spec.md
// GLOSSARY): what a swap participant deposits for another participant to
// claim.
type SCEAddress struct {
	Addr     string   `json:"addr"`
	ProofKey ProofKey `json:"proof_key"`
}

// BlindedToken is one participant's anonymous capability to claim an
// SCE-Address during Phase 3 (spec.md §4.6 GLOSSARY: "blinded spend
// token"). Sig is the unblinded RSA signature over a hash of Nonce; a
// valid (Nonce, Sig) pair redeems exactly once and cannot be linked back
// to the statechain it was issued for.
type BlindedToken struct {
	Nonce [32]byte `json:"nonce"`
	Sig   []byte   `json:"sig"`
}

// SwapInfo is the Conductor's server-side bookkeeping record for one swap
// round (spec.md §3, §4.6). Signatures, Addresses and BlindedTokens are
// keyed by statechain id for the SE's own bookkeeping and are left out of
// the record's JSON encoding, so /swap/poll/swap returns only id, status
// and swap token. No HTTP endpoint returns a participant's blinded token;
// it is reachable in-process only, through conductor.Driver.BlindedTokenFor.
type SwapInfo struct {
	ID            ids.ID                  `json:"id"`
	Status        SwapStatus              `json:"status"`
	SwapToken     SwapToken               `json:"swap_token"`
	Signatures    map[ids.ID][]byte       `json:"-"`
	Addresses     map[ids.ID]SCEAddress   `json:"-"`
	BlindedTokens map[ids.ID]BlindedToken `json:"-"`
}
