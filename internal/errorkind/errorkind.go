// Package errorkind enumerates the State Entity error taxonomy from
// spec.md §7. These are kinds, not types: every protocol driver returns one
// of these sentinels (optionally wrapped with fmt.Errorf's %w) so callers
// can classify failures with errors.Is regardless of which package raised
// them.
package errorkind

import "errors"

var (
	ErrAuth                = errors.New("auth error")
	ErrSignatureInvalid    = errors.New("signature invalid")
	ErrStateChainLocked    = errors.New("statechain locked")
	ErrStateChainClosed    = errors.New("statechain closed")
	ErrStateChainOwnership = errors.New("statechain ownership mismatch")
	ErrNoDataForID         = errors.New("no data for id")
	ErrTransferInProgress  = errors.New("transfer already in progress")
	ErrInvalidO2TryAgain   = errors.New("invalid o2, try again")
	ErrProtocolMismatch    = errors.New("protocol mismatch: p1 != p2")
	ErrBatchEnded          = errors.New("batch ended")
	ErrBatchWindowOpen     = errors.New("batch window still open")
	ErrCommitmentMismatch  = errors.New("commitment mismatch")
	ErrFundingTxTimeout    = errors.New("funding tx timeout")
	ErrOracleUnavailable   = errors.New("oracle unavailable")
	ErrSMTError            = errors.New("smt error")
	ErrUpstreamRPCError    = errors.New("upstream rpc error")

	// ErrStateChainEmpty should be unreachable per spec.md §4.1; kept as a
	// distinct sentinel so an occurrence is diagnosable instead of silently
	// matching ErrNoDataForID.
	ErrStateChainEmpty = errors.New("statechain empty")

	// Conductor-specific kinds (spec.md §4.6 "failure conditions surfaced
	// by the Conductor").
	ErrSwapSignatureMismatch = errors.New("swap: signature mismatch")
	ErrInvalidSCEAddress     = errors.New("swap: invalid sce address")
	ErrInvalidBlindedToken   = errors.New("swap: invalid blinded token")
	ErrSwapNotFound          = errors.New("swap: not found")
	ErrSwapExpired           = errors.New("swap: expired")
)

// Transient reports whether err is one of the kinds spec.md §7 marks safe
// for a caller to retry, keyed on idempotency by user_id.
func Transient(err error) bool {
	return errors.Is(err, ErrOracleUnavailable) || errors.Is(err, ErrUpstreamRPCError)
}

// Retryable reports whether the client is expected to retry automatically
// with a fresh receiver share, per spec.md §4.4 step 4.
func Retryable(err error) bool {
	return errors.Is(err, ErrInvalidO2TryAgain)
}
