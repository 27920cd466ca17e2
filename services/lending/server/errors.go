package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"lendrisk/native/lending"
	"lendrisk/services/lending/engine"
	"lendrisk/services/lending/pricing"
)

// errBadRequest marks malformed request bodies and parameters.
var errBadRequest = errors.New("server: bad request")

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// classify maps an error onto an HTTP status and a stable error kind.
func classify(err error) (int, string) {
	switch {
	case errors.Is(err, errBadRequest):
		return http.StatusBadRequest, "bad_request"
	case lending.IsValidation(err),
		errors.Is(err, engine.ErrInvalidBorrower),
		errors.Is(err, pricing.ErrInvalidObservation):
		return http.StatusBadRequest, "validation"
	case errors.Is(err, engine.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, engine.ErrPartialPricing):
		return http.StatusUnprocessableEntity, "partial_pricing"
	case errors.Is(err, engine.ErrInsufficientCollateral):
		return http.StatusConflict, "insufficient_collateral"
	case errors.Is(err, engine.ErrConflict), errors.Is(err, pricing.ErrOutOfOrder):
		return http.StatusConflict, "conflict"
	case lending.IsState(err):
		return http.StatusConflict, "state"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "timeout"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, kind := classify(err)
	message := err.Error()
	if status == http.StatusInternalServerError {
		s.logger.Error("lending request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"error", err)
		message = "internal error"
	}
	writeJSON(w, status, errorBody{Error: kind, Message: message})
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
