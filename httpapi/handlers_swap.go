package httpapi

import (
	"net/http"
)

// handleSwapRegisterUTXO is /swap/register-utxo (spec.md §4.6 Init).
func (s *Server) handleSwapRegisterUTXO(w http.ResponseWriter, r *http.Request) {
	var req SwapRegisterRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := s.Conductor.RegisterUTXO(req.StateChainID, req.Signature, req.SwapSize); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, nil)
}

// handleSwapPollUTXO is /swap/poll/utxo.
func (s *Server) handleSwapPollUTXO(w http.ResponseWriter, r *http.Request) {
	var req SwapPollUTXORequest
	if !decodeJSON(w, r, &req) {
		return
	}
	writeJSON(w, http.StatusOK, SwapPollUTXOResponse{SwapID: s.Conductor.PollUTXO(req.StateChainID)})
}

// handleSwapPollSwap is /swap/poll/swap.
func (s *Server) handleSwapPollSwap(w http.ResponseWriter, r *http.Request) {
	var req SwapPollSwapRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	info, err := s.Conductor.PollSwap(req.SwapID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

// handleSwapFirst is /swap/first (spec.md §4.6 Phase 1).
func (s *Server) handleSwapFirst(w http.ResponseWriter, r *http.Request) {
	var req SwapFirstRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := s.Conductor.First(req.StateChainID, req.SwapTokenSig, req.Address); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, nil)
}

// handleSwapSecond is /swap/second (spec.md §4.6 Phase 3).
func (s *Server) handleSwapSecond(w http.ResponseWriter, r *http.Request) {
	var req SwapSecondRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	addr, err := s.Conductor.Second(req.SwapID, req.BlindedSpendToken)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, addr)
}
