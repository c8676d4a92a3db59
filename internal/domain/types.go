// Package domain holds the State Entity data model (spec.md §3): the
// entities, their fields, and the pure (non-I/O) invariants that relate
// them. Persistence and locking live in the packages that drive each
// protocol (statechain, session, transfer, batch); this package only
// describes the shapes.
package domain

import (
	"time"

	"stateentity/internal/ids"
)

// PurposeKind is the discriminant of a StateChainSig's purpose field
// (spec.md §3: "purpose ∈ {TRANSFER, WITHDRAW, TRANSFER_BATCH:<batch_id>,
// SWAP}").
type PurposeKind string

const (
	PurposeTransfer      PurposeKind = "TRANSFER"
	PurposeWithdraw      PurposeKind = "WITHDRAW"
	PurposeTransferBatch PurposeKind = "TRANSFER_BATCH"
	PurposeSwap          PurposeKind = "SWAP"
)

// Purpose is the signed purpose of a StateChainSig, including the batch id
// suffix TRANSFER_BATCH carries on the wire.
type Purpose struct {
	Kind    PurposeKind `json:"kind"`
	BatchID *ids.ID     `json:"batch_id,omitempty"`
}

// String renders the purpose exactly as it appears inside the signed
// message: "TRANSFER", "WITHDRAW", "SWAP", or "TRANSFER_BATCH:<batch_id>".
func (p Purpose) String() string {
	if p.Kind == PurposeTransferBatch && p.BatchID != nil {
		return string(PurposeTransferBatch) + ":" + ids.CanonicalHex(*p.BatchID)
	}
	return string(p.Kind)
}

// StateChainSig is a signed ownership transition (spec.md §3). Data holds
// the next proof key for TRANSFER/TRANSFER_BATCH/SWAP purposes, or the
// payout address for WITHDRAW. Sig is a DER secp256k1 signature over
// SHA256d(purpose ‖ data) produced by the signing state's proof key.
type StateChainSig struct {
	ID      ids.ID  `json:"id"`
	Purpose Purpose `json:"purpose"`
	Data    string  `json:"data"`
	Sig     []byte  `json:"sig"`
}

// State is one link in a StateChain's log (spec.md §3). Data is the proof
// key for active states or the payout address for the terminal withdraw
// state. The last element of a chain has NextState == nil.
type State struct {
	Data      string         `json:"data"`
	NextState *StateChainSig `json:"next_state,omitempty"`
}

// StateChain is the authoritative custody record for one UTXO (spec.md §3).
type StateChain struct {
	ID          ids.ID    `json:"id"`
	Chain       []State   `json:"chain"`
	Amount      uint64    `json:"amount"`
	LockedUntil time.Time `json:"locked_until"`
	OwnerID     ids.ID    `json:"owner_id"`
	FundingTxID string    `json:"funding_txid"`
	Version     uint64    `json:"version"`
}

// Closed reports whether the statechain has reached its absorbing
// zero-amount state (spec.md invariant 6).
func (sc *StateChain) Closed() bool { return sc.Amount == 0 }

// Tip returns the current (last, still-open) link of the chain.
func (sc *StateChain) Tip() *State {
	if len(sc.Chain) == 0 {
		return nil
	}
	return &sc.Chain[len(sc.Chain)-1]
}

// UserSession is the ephemeral authorization context bound to one shared
// key (spec.md §3).
type UserSession struct {
	ID            ids.ID   `json:"id"`
	AuthToken     string   `json:"auth_token"`
	ProofKey      ProofKey `json:"proof_key"`
	StateChainID  *ids.ID  `json:"state_chain_id,omitempty"`
	TxBackup      []byte   `json:"tx_backup,omitempty"`
	S2            []byte   `json:"s2,omitempty"` // receiver's rotated SE share, 32-byte scalar
	WithdrawSig   []byte   `json:"withdraw_sc_sig,omitempty"`
	Spent         bool     `json:"spent"`
}

// BackupTx is the currently valid unilateral-exit transaction for a
// statechain (spec.md §3): always co-signed by SE and owner.
type BackupTx struct {
	StateChainID ids.ID    `json:"state_chain_id"`
	Raw          []byte    `json:"raw"`
	NLockTime    uint32    `json:"n_locktime"`
	BackupAddr   string    `json:"backup_addr"`
	Signed       bool      `json:"signed"`
	Broadcast    bool      `json:"broadcast"`
	Compromised  bool      `json:"compromised"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Transfer is the pending transfer state keyed by state_chain_id (spec.md
// §3). X1 is the fresh scalar the SE issues to the sender; BatchID is set
// only when the transfer is running inside a TransferBatch (recovered from
// original_source's TransferMsg3.batch_data, see SPEC_FULL.md §3).
type Transfer struct {
	StateChainID  ids.ID         `json:"state_chain_id"`
	StateChainSig StateChainSig  `json:"state_chain_sig"`
	X1            [32]byte       `json:"x1"`
	BatchID       *ids.ID        `json:"batch_id,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
}

// FinalizeData is one completed-but-not-yet-applied transfer inside a
// TransferBatch, queued until the whole batch closes successfully
// (spec.md §4.5).
type FinalizeData struct {
	StateChainID   ids.ID        `json:"state_chain_id"`
	StateChainSig  StateChainSig `json:"state_chain_sig"`
	NewOwnerID     ids.ID        `json:"new_owner_id"`
	NewBackupTx    BackupTx      `json:"new_backup_tx"`
	NewProofKey    ProofKey      `json:"new_proof_key"`
}

// TransferBatch is an atomic group of transfers (spec.md §3, §4.5).
type TransferBatch struct {
	ID                 ids.ID                 `json:"id"`
	StartTime          time.Time              `json:"start_time"`
	StateChains        map[ids.ID]bool        `json:"state_chains"`
	Commitments        map[ids.ID][32]byte    `json:"commitments"`
	FinalizedData      []FinalizeData         `json:"finalized_data"`
	PunishedStateChains map[ids.ID]bool       `json:"punished_state_chains"`
	Finalized          bool                   `json:"finalized"`
	Dead               bool                   `json:"dead"`
}

// AllComplete reports whether every participating statechain in the batch
// has marked itself complete.
func (b *TransferBatch) AllComplete() bool {
	for _, done := range b.StateChains {
		if !done {
			return false
		}
	}
	return true
}

// Root is an SMT root record (spec.md §3, §4.7).
type Root struct {
	ID             uint64          `json:"id"`
	Hash           *[32]byte       `json:"hash,omitempty"`
	CommitmentInfo *CommitmentInfo `json:"commitment_info,omitempty"`
}

// Confirmed reports whether an external attestation has been recorded for
// this root (spec.md §4.7 is_confirmed()).
func (r *Root) Confirmed() bool { return r.CommitmentInfo != nil }

// CommitmentInfo is the external timestamping-service attestation proof
// for a Root (spec.md §3, "mainstay").
type CommitmentInfo struct {
	MerkleRoot  string `json:"merkle_root"`
	TxID        string `json:"txid"`
	Commitment  string `json:"commitment"`
	ConfirmedAt time.Time `json:"confirmed_at"`
}

// EcdsaKeyState is the persisted record of a shared key's keygen artifacts
// (spec.md §4.2: "The core stores Party1Private, Party2Public, and
// intermediate keygen artifacts in the KV store keyed by user_id"). S1 is
// SE's share, serialized as a 32-byte scalar; JointPub is the resulting
// joint public key Q = s1·(o1·G).
type EcdsaKeyState struct {
	UserID   ids.ID   `json:"user_id"`
	S1       [32]byte `json:"s1"`
	O1G      ProofKey `json:"o1g"`
	JointPub ProofKey `json:"joint_pub"`
}

// StateChainFeeInfo mirrors /info/fee's StateEntityFeeInfo response.
type StateChainFeeInfo struct {
	Address  string `json:"address"`
	Deposit  uint64 `json:"deposit"`
	Withdraw uint64 `json:"withdraw"`
}
