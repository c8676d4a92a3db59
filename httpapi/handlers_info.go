package httpapi

import (
	"encoding/hex"
	"net/http"

	"github.com/gorilla/mux"

	"stateentity/internal/domain"
	"stateentity/internal/ids"
	"stateentity/internal/smt"
)

// handleInfoFee is /info/fee.
func (s *Server) handleInfoFee(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, domain.StateChainFeeInfo{
		Address:  s.Cfg.FeeAddress,
		Deposit:  s.Cfg.FeeDeposit,
		Withdraw: s.Cfg.FeeWithdraw,
	})
}

// handleInfoStateChain is /info/statechain/{id}.
func (s *Server) handleInfoStateChain(w http.ResponseWriter, r *http.Request) {
	id, err := ids.Parse(mux.Vars(r)["id"])
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	sc, err := s.StateChains.Get(id)
	if err != nil {
		writeError(w, err)
		return
	}
	data := StateChainData{UTXO: sc.FundingTxID, Chain: sc.Chain, Amount: sc.Amount}
	if tip := sc.Tip(); tip != nil {
		if pk, err := domain.ParseProofKey(tip.Data); err == nil {
			hash := pk.Hash160()
			data.PubKeyHash160 = hex.EncodeToString(hash[:])
		}
	}
	writeJSON(w, http.StatusOK, data)
}

// handleInfoRoot is /info/root.
func (s *Server) handleInfoRoot(w http.ResponseWriter, r *http.Request) {
	root, err := s.Roots.Current()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, root)
}

// handleInfoProof is /info/proof.
func (s *Server) handleInfoProof(w http.ResponseWriter, r *http.Request) {
	var req ProofRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	rootRaw, err := hex.DecodeString(req.Root)
	if err != nil || len(rootRaw) != 32 {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "info/proof: root must be 32-byte hex"})
		return
	}
	var rootHash [32]byte
	copy(rootHash[:], rootRaw)

	key, err := smt.KeyFromTxID(req.FundingTxID)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	proof, err := s.Tree.GetMerkleProof(rootHash, key)
	if err != nil {
		writeError(w, err)
		return
	}
	siblings := make([]string, len(proof.Siblings))
	for i, sib := range proof.Siblings {
		siblings[i] = hex.EncodeToString(sib[:])
	}
	writeJSON(w, http.StatusOK, ProofResponse{Siblings: siblings})
}

// handleInfoStateChains is /info/statechains: every statechain id ever
// opened, for operator inspection (statectl).
func (s *Server) handleInfoStateChains(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.StateChains.AllIDs())
}

// handleInfoBatches is /info/batches: every batch id ever opened, for
// operator inspection (statectl).
func (s *Server) handleInfoBatches(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.Batch.ListIDs())
}

// handleInfoTransferBatch is /info/transfer-batch/{id}.
func (s *Server) handleInfoTransferBatch(w http.ResponseWriter, r *http.Request) {
	id, err := ids.Parse(mux.Vars(r)["id"])
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	b, err := s.Batch.Get(id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}
