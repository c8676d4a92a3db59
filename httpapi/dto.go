package httpapi

import (
	"stateentity/internal/domain"
	"stateentity/internal/ids"
)

// StateChainData is /info/statechain/{id}'s response (SPEC_FULL.md
// SUPPLEMENTED FEATURES: full chain data, not just status).
type StateChainData struct {
	UTXO          string         `json:"utxo"`
	Chain         []domain.State `json:"chain"`
	Amount        uint64         `json:"amount"`
	PubKeyHash160 string         `json:"pubkey_hash160,omitempty"`
}

// ProofRequest is /info/proof's request body.
type ProofRequest struct {
	Root        string `json:"root"`
	FundingTxID string `json:"funding_txid"`
}

// ProofResponse is /info/proof's response body: a sibling hash per SMT
// level, hex-encoded root-to-leaf.
type ProofResponse struct {
	Siblings []string `json:"siblings"`
}

// DepositInitRequest is /deposit/init's request body (spec.md §6:
// "DepositMsg1{ auth, proof_key }").
type DepositInitRequest struct {
	Auth     string          `json:"auth"`
	ProofKey domain.ProofKey `json:"proof_key"`
}

// DepositInitResponse is /deposit/init's response body.
type DepositInitResponse struct {
	UserID ids.ID `json:"user_id"`
}

// DepositConfirmRequest is /deposit/confirm's request body. spec.md §6
// lists only shared_key_id; the funding-transaction context the driver
// needs to open the statechain (deposit.ConfirmParams) rides along
// as the rest of the body, the way a real wallet would submit it alongside
// the shared key it is confirming.
type DepositConfirmRequest struct {
	SharedKeyID ids.ID `json:"shared_key_id"`
	FundingTxID string `json:"funding_txid"`
	Amount      uint64 `json:"amount"`
	BackupAddr  string `json:"backup_addr"`
	NLockTime   uint32 `json:"n_locktime"`
}

// DepositConfirmResponse is /deposit/confirm's response body.
type DepositConfirmResponse struct {
	StateChainID ids.ID `json:"state_chain_id"`
}

// PrepareSignRequest is /prepare-sign's request body (spec.md §6:
// "PrepareSignTxMsg"). Auth authenticates the shared key the way spec.md
// §4.3 step 1 requires ("Authenticate shared_key_id"); deposit/init and
// transfer/receiver are the only two ways a session is created, and both
// already bind an auth_token to it.
type PrepareSignRequest struct {
	SharedKeyID ids.ID   `json:"shared_key_id"`
	Auth        string   `json:"auth"`
	Sighash     [32]byte `json:"sighash"`
}

// PrepareSignResponse is /prepare-sign's response body: the co-signature
// witness bytes (base64, Go's default []byte JSON encoding).
type PrepareSignResponse struct {
	Witness []byte `json:"witness"`
}

// TransferSenderRequest is /transfer/sender's request body.
type TransferSenderRequest struct {
	SharedKeyID   ids.ID               `json:"shared_key_id"`
	Auth          string               `json:"auth"`
	StateChainSig domain.StateChainSig `json:"state_chain_sig"`
}

// TransferSenderResponse is /transfer/sender's response body.
type TransferSenderResponse struct {
	X1 [32]byte `json:"x1"`
}

// TransferBatchDataWire is the optional batch_data object a
// /transfer/receiver request carries (spec.md §4.5).
type TransferBatchDataWire struct {
	ID         ids.ID   `json:"id"`
	Commitment [32]byte `json:"commitment"`
}

// TransferReceiverRequest is /transfer/receiver's request body.
type TransferReceiverRequest struct {
	SharedKeyID   ids.ID                 `json:"shared_key_id"`
	T2            [32]byte               `json:"t2"`
	StateChainSig domain.StateChainSig   `json:"state_chain_sig"`
	O2Pub         domain.ProofKey        `json:"o2_pub"`
	TxBackup      []byte                 `json:"tx_backup"`
	BackupAddr    string                 `json:"backup_addr"`
	NLockTime     uint32                 `json:"n_locktime"`
	BatchData     *TransferBatchDataWire `json:"batch_data,omitempty"`
}

// TransferReceiverResponse is /transfer/receiver's response body.
type TransferReceiverResponse struct {
	NewSharedKeyID ids.ID          `json:"new_shared_key_id"`
	S2Pub          domain.ProofKey `json:"s2_pub"`
}

// BatchInitRequest is /transfer/batch/init's request body.
type BatchInitRequest struct {
	ID         ids.ID                 `json:"id"`
	Signatures []domain.StateChainSig `json:"signatures"`
}

// BatchRevealRequest is /transfer/batch/reveal's request body. Hash is
// accepted for wire compatibility with spec.md §6's table but unused: the
// coordinator recomputes the commitment itself from state_chain_id ‖ nonce
// rather than trusting a caller-supplied hash.
type BatchRevealRequest struct {
	BatchID      ids.ID   `json:"batch_id"`
	StateChainID ids.ID   `json:"state_chain_id"`
	Hash         [32]byte `json:"hash"`
	Nonce        [32]byte `json:"nonce"`
}

// WithdrawInitRequest is /withdraw/init's request body.
type WithdrawInitRequest struct {
	SharedKeyIDs   []ids.ID               `json:"shared_key_ids"`
	StateChainSigs []domain.StateChainSig `json:"statechain_sigs"`
}

// WithdrawConfirmItem pairs one shared key with the sighash of its witness
// slot in the client-assembled withdraw transaction.
type WithdrawConfirmItem struct {
	SharedKeyID ids.ID               `json:"shared_key_id"`
	Sighash     [32]byte             `json:"sighash"`
	Sig         domain.StateChainSig `json:"sig"`
}

// WithdrawConfirmRequest is /withdraw/confirm's request body. spec.md §6
// lists `{ shared_key_ids, address }`; this expansion's multi-input
// co-signing (SPEC_FULL.md SUPPLEMENTED FEATURES) needs one sighash and one
// terminal WITHDRAW signature per input, carried as Items.
type WithdrawConfirmRequest struct {
	Items []WithdrawConfirmItem `json:"items"`
}

// WithdrawConfirmResponse is /withdraw/confirm's response body: one witness
// per input, in request order (spec.md §6: "[[witness]]").
type WithdrawConfirmResponse struct {
	Witnesses [][]byte `json:"witnesses"`
}

// SwapRegisterRequest is /swap/register-utxo's request body.
type SwapRegisterRequest struct {
	StateChainID ids.ID `json:"state_chain_id"`
	Signature    []byte `json:"signature"`
	SwapSize     int    `json:"swap_size"`
}

// SwapPollUTXORequest is /swap/poll/utxo's request body.
type SwapPollUTXORequest struct {
	StateChainID ids.ID `json:"state_chain_id"`
}

// SwapPollUTXOResponse is /swap/poll/utxo's response body.
type SwapPollUTXOResponse struct {
	SwapID *ids.ID `json:"swap_id,omitempty"`
}

// SwapPollSwapRequest is /swap/poll/swap's request body.
type SwapPollSwapRequest struct {
	SwapID ids.ID `json:"swap_id"`
}

// SwapFirstRequest is /swap/first's request body.
type SwapFirstRequest struct {
	StateChainID  ids.ID            `json:"state_chain_id"`
	SwapTokenSig  []byte            `json:"swap_token_sig"`
	Address       domain.SCEAddress `json:"address"`
}

// SwapSecondRequest is /swap/second's request body.
type SwapSecondRequest struct {
	SwapID            ids.ID             `json:"swap_id"`
	BlindedSpendToken domain.BlindedToken `json:"blinded_spend_token"`
}
