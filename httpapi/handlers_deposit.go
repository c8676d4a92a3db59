package httpapi

import (
	"context"
	"net/http"
	"time"

	"stateentity/internal/deposit"
	"stateentity/internal/session"
)

// handleDepositInit is /deposit/init (spec.md §4.3 phase 1). Phase 2's
// shared keygen runs over the oracle's own external channel (spec.md §4.2:
// "assumed available as a black-box capability"), not as a separate HTTP
// round-trip, so it is driven here immediately once the session exists.
func (s *Server) handleDepositInit(w http.ResponseWriter, r *http.Request) {
	var req DepositInitRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	userID, err := s.Deposit.Init(req.Auth, req.ProofKey)
	if err != nil {
		writeError(w, err)
		return
	}
	if _, err := s.Deposit.Keygen(userID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, DepositInitResponse{UserID: userID})
}

// handleDepositConfirm is /deposit/confirm (spec.md §4.3 phase 3). Keygen
// (phase 2) already ran inside /deposit/init, and the backup co-signature
// comes from /prepare-sign; this handler assumes the client completed both
// before calling confirm, matching the driver's own phase ordering.
func (s *Server) handleDepositConfirm(w http.ResponseWriter, r *http.Request) {
	var req DepositConfirmRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Minute)
	defer cancel()

	scID, err := s.Deposit.Confirm(ctx, req.SharedKeyID, deposit.ConfirmParams{
		FundingTxID: req.FundingTxID,
		Amount:      req.Amount,
		BackupAddr:  req.BackupAddr,
		NLockTime:   req.NLockTime,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, DepositConfirmResponse{StateChainID: scID})
}

// handlePrepareSign is /prepare-sign (spec.md §4.3 phase 2, and spec.md
// §4.4 step 2's receiver-side backup co-sign, which shares this endpoint
// since both ask the oracle to co-sign a sighash under an already-keyed
// shared key).
func (s *Server) handlePrepareSign(w http.ResponseWriter, r *http.Request) {
	var req PrepareSignRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	sess, err := s.Sessions.Get(req.SharedKeyID)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := session.Authenticate(sess, req.Auth); err != nil {
		writeError(w, err)
		return
	}
	witness, err := s.Deposit.PrepareSign(req.SharedKeyID, req.Sighash)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, PrepareSignResponse{Witness: witness})
}
