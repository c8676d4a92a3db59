package httpapi

import (
	"net/http"

	"stateentity/internal/withdraw"
)

// handleWithdrawInit is /withdraw/init (spec.md §4.8).
func (s *Server) handleWithdrawInit(w http.ResponseWriter, r *http.Request) {
	var req WithdrawInitRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	auth, err := s.Withdraw.Init(req.SharedKeyIDs, req.StateChainSigs)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, auth)
}

// handleWithdrawConfirm is /withdraw/confirm (spec.md §4.8). The response
// preserves request order so the client can slot each witness back into
// the input index it sighashed.
func (s *Server) handleWithdrawConfirm(w http.ResponseWriter, r *http.Request) {
	var req WithdrawConfirmRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if len(req.Items) == 0 {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "withdraw/confirm: items must be non-empty"})
		return
	}

	items := make([]withdraw.ConfirmItem, len(req.Items))
	for i, it := range req.Items {
		items[i] = withdraw.ConfirmItem{SharedKeyID: it.SharedKeyID, Sighash: it.Sighash, Sig: it.Sig}
	}

	result, err := s.Withdraw.Confirm(items)
	if err != nil {
		writeError(w, err)
		return
	}

	witnesses := make([][]byte, len(req.Items))
	for i, it := range req.Items {
		sess, err := s.Sessions.Get(it.SharedKeyID)
		if err != nil {
			writeError(w, err)
			return
		}
		witnesses[i] = result.Signatures[*sess.StateChainID]
	}
	writeJSON(w, http.StatusOK, WithdrawConfirmResponse{Witnesses: witnesses})
}
