package httpapi

import (
	"net/http"
	"time"

	"stateentity/internal/domain"
	"stateentity/internal/errorkind"
	"stateentity/internal/ids"
	"stateentity/internal/session"
	"stateentity/internal/sigverify"
	"stateentity/internal/transfer"
)

// handleTransferSender is /transfer/sender (spec.md §4.4 sender side). The
// statechain id is recovered from the authenticated session rather than
// carried on the wire a second time: every session that can reach this
// point already has state_chain_id bound, either from deposit confirmation
// or from a prior transfer/receiver call.
func (s *Server) handleTransferSender(w http.ResponseWriter, r *http.Request) {
	var req TransferSenderRequest
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
	if sess.StateChainID == nil {
		writeJSON(w, http.StatusConflict, errorResponse{Error: "transfer/sender: session has no bound statechain"})
		return
	}

	x1, err := s.Transfer.Sender(req.SharedKeyID, *sess.StateChainID, req.StateChainSig)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, TransferSenderResponse{X1: x1})
}

// handleTransferReceiver is /transfer/receiver (spec.md §4.4 receiver
// side). A non-nil batch_data routes the completed leg into the batch
// coordinator instead of finalizing immediately (spec.md §4.5).
func (s *Server) handleTransferReceiver(w http.ResponseWriter, r *http.Request) {
	var req TransferReceiverRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	treq := transfer.ReceiverRequest{
		StateChainID:  req.StateChainSig.ID,
		T2:            req.T2,
		StateChainSig: req.StateChainSig,
		O2Pub:         req.O2Pub,
		TxBackup:      req.TxBackup,
		BackupAddr:    req.BackupAddr,
		NLockTime:     req.NLockTime,
	}
	if req.BatchData != nil {
		treq.BatchData = &transfer.BatchData{BatchID: req.BatchData.ID, Commitment: req.BatchData.Commitment}
	}

	result, err := s.Transfer.Receiver(treq, s.Batch.MarkComplete)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, TransferReceiverResponse{NewSharedKeyID: result.NewSharedKeyID, S2Pub: result.S2Pub})
}

// handleBatchInit is /transfer/batch/init (spec.md §4.5 Init): verify every
// submitted StateChainSig against its statechain's current tip proof key
// under purpose TRANSFER_BATCH:<batch_id>, and that no participant is
// locked, before opening the batch.
func (s *Server) handleBatchInit(w http.ResponseWriter, r *http.Request) {
	var req BatchInitRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if len(req.Signatures) == 0 {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "transfer/batch/init: signatures must be non-empty"})
		return
	}

	scIDList, err := s.verifyBatchSignatures(req.ID, req.Signatures)
	if err != nil {
		writeError(w, err)
		return
	}

	if err := s.Batch.Init(req.ID, scIDList); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, nil)
}

// verifyBatchSignatures checks that every statechain entering the batch has
// actually authorized it: each signature must verify under its
// statechain's current tip proof key over purpose TRANSFER_BATCH:<batch
// id>, and the statechain must be open and unlocked (spec.md §4.5 "init").
func (s *Server) verifyBatchSignatures(batchID ids.ID, sigs []domain.StateChainSig) ([]ids.ID, error) {
	scIDs := make([]ids.ID, 0, len(sigs))
	now := time.Now()
	for _, sig := range sigs {
		if sig.Purpose.Kind != domain.PurposeTransferBatch || sig.Purpose.BatchID == nil || *sig.Purpose.BatchID != batchID {
			return nil, errorkind.ErrSignatureInvalid
		}
		sc, err := s.StateChains.Get(sig.ID)
		if err != nil {
			return nil, err
		}
		if sc.Closed() {
			return nil, errorkind.ErrStateChainClosed
		}
		if now.Before(sc.LockedUntil) {
			return nil, errorkind.ErrStateChainLocked
		}
		tip := sc.Chain[len(sc.Chain)-1]
		signerKey, err := domain.ParseProofKey(tip.Data)
		if err != nil {
			return nil, err
		}
		if err := sigverify.Verify(signerKey, sig); err != nil {
			return nil, err
		}
		scIDs = append(scIDs, sig.ID)
	}
	return scIDs, nil
}

// handleBatchReveal is /transfer/batch/reveal (spec.md §4.5 nonce reveal).
func (s *Server) handleBatchReveal(w http.ResponseWriter, r *http.Request) {
	var req BatchRevealRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := s.Batch.Reveal(req.BatchID, req.StateChainID, req.Nonce); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, nil)
}
