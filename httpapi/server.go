package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"stateentity/internal/batch"
	"stateentity/internal/conductor"
	"stateentity/internal/deposit"
	"stateentity/internal/metrics"
	"stateentity/internal/rootstore"
	"stateentity/internal/session"
	"stateentity/internal/smt"
	"stateentity/internal/statechain"
	"stateentity/internal/transfer"
	"stateentity/internal/withdraw"
	"stateentity/pkg/config"
)

// Server holds every collaborator a handler needs. It carries no behavior
// of its own beyond routing; each protocol driver owns its own locking and
// persistence.
type Server struct {
	Deposit     *deposit.Driver
	Transfer    *transfer.Driver
	Batch       *batch.Coordinator
	Withdraw    *withdraw.Driver
	Conductor   *conductor.Driver
	StateChains *statechain.Log
	Sessions    *session.Registry
	Tree        *smt.Tree
	Roots       *rootstore.Store
	Metrics     *metrics.Registry
	Cfg         *config.Config
	Log         *logrus.Logger
}

// NewRouter configures the full HTTP surface (spec.md §6), grounded on the
// teacher's cmd/xchainserver/server.NewRouter.
func NewRouter(s *Server) *mux.Router {
	r := mux.NewRouter()
	r.Use(requestLogger(s.Log))
	r.Use(jsonHeaders)

	r.HandleFunc("/info/fee", s.handleInfoFee).Methods(http.MethodPost)
	r.HandleFunc("/info/statechain/{id}", s.handleInfoStateChain).Methods(http.MethodPost)
	r.HandleFunc("/info/root", s.handleInfoRoot).Methods(http.MethodPost)
	r.HandleFunc("/info/proof", s.handleInfoProof).Methods(http.MethodPost)
	r.HandleFunc("/info/transfer-batch/{id}", s.handleInfoTransferBatch).Methods(http.MethodPost)
	r.HandleFunc("/info/statechains", s.handleInfoStateChains).Methods(http.MethodPost)
	r.HandleFunc("/info/batches", s.handleInfoBatches).Methods(http.MethodPost)

	r.HandleFunc("/deposit/init", s.handleDepositInit).Methods(http.MethodPost)
	r.HandleFunc("/deposit/confirm", s.handleDepositConfirm).Methods(http.MethodPost)
	r.HandleFunc("/prepare-sign", s.handlePrepareSign).Methods(http.MethodPost)

	r.HandleFunc("/transfer/sender", s.handleTransferSender).Methods(http.MethodPost)
	r.HandleFunc("/transfer/receiver", s.handleTransferReceiver).Methods(http.MethodPost)
	r.HandleFunc("/transfer/batch/init", s.handleBatchInit).Methods(http.MethodPost)
	r.HandleFunc("/transfer/batch/reveal", s.handleBatchReveal).Methods(http.MethodPost)

	r.HandleFunc("/withdraw/init", s.handleWithdrawInit).Methods(http.MethodPost)
	r.HandleFunc("/withdraw/confirm", s.handleWithdrawConfirm).Methods(http.MethodPost)

	r.HandleFunc("/swap/register-utxo", s.handleSwapRegisterUTXO).Methods(http.MethodPost)
	r.HandleFunc("/swap/poll/utxo", s.handleSwapPollUTXO).Methods(http.MethodPost)
	r.HandleFunc("/swap/poll/swap", s.handleSwapPollSwap).Methods(http.MethodPost)
	r.HandleFunc("/swap/first", s.handleSwapFirst).Methods(http.MethodPost)
	r.HandleFunc("/swap/second", s.handleSwapSecond).Methods(http.MethodPost)

	if s.Metrics != nil {
		r.Handle("/metrics", s.Metrics.Handler()).Methods(http.MethodGet)
	}
	return r
}

// decodeJSON decodes the request body into v, writing a 400 response and
// returning false on failure.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return false
	}
	return true
}
