package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"stateentity/internal/errorkind"
)

// writeJSON encodes v as the response body.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.WriteHeader(status)
	if v == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(v)
}

// errorResponse is the JSON body every non-2xx response carries.
type errorResponse struct {
	Error string `json:"error"`
}

// writeError maps an error kind to an HTTP status per spec.md §7: 4xx for
// client-caused kinds, 503 for transient upstream kinds, 500 otherwise.
func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, statusFor(err), errorResponse{Error: err.Error()})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, errorkind.ErrAuth):
		return http.StatusUnauthorized
	case errors.Is(err, errorkind.ErrSignatureInvalid),
		errors.Is(err, errorkind.ErrSwapSignatureMismatch),
		errors.Is(err, errorkind.ErrInvalidSCEAddress),
		errors.Is(err, errorkind.ErrInvalidBlindedToken),
		errors.Is(err, errorkind.ErrCommitmentMismatch),
		errors.Is(err, errorkind.ErrProtocolMismatch),
		errors.Is(err, errorkind.ErrInvalidO2TryAgain):
		return http.StatusBadRequest
	case errors.Is(err, errorkind.ErrStateChainLocked),
		errors.Is(err, errorkind.ErrStateChainClosed),
		errors.Is(err, errorkind.ErrStateChainOwnership),
		errors.Is(err, errorkind.ErrTransferInProgress),
		errors.Is(err, errorkind.ErrBatchEnded),
		errors.Is(err, errorkind.ErrBatchWindowOpen),
		errors.Is(err, errorkind.ErrSwapExpired):
		return http.StatusConflict
	case errors.Is(err, errorkind.ErrNoDataForID),
		errors.Is(err, errorkind.ErrSwapNotFound):
		return http.StatusNotFound
	case errors.Is(err, errorkind.ErrOracleUnavailable),
		errors.Is(err, errorkind.ErrUpstreamRPCError),
		errors.Is(err, errorkind.ErrFundingTxTimeout):
		return http.StatusServiceUnavailable
	case errors.Is(err, errorkind.ErrSMTError),
		errors.Is(err, errorkind.ErrStateChainEmpty):
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}
