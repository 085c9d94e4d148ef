package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/signalsfoundry/safespaces/core"
	"github.com/signalsfoundry/safespaces/internal/logging"
	"github.com/signalsfoundry/safespaces/internal/state"
)

// ErrBadRequest marks malformed request bodies and parameters.
var ErrBadRequest = errors.New("bad request")

// Error codes carried in the error envelope.
const (
	CodeInvalidArgument = "invalid_argument"
	CodeNotFound        = "not_found"
	CodeInternal        = "internal"
)

type httpError struct {
	Status  int
	Code    string
	Message string
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type errorEnvelope struct {
	Error errorBody `json:"error"`
}

// toHTTPError maps domain errors onto HTTP statuses and envelope codes.
func toHTTPError(err error) httpError {
	switch {
	case errors.Is(err, state.ErrNotFound):
		return httpError{Status: http.StatusNotFound, Code: CodeNotFound, Message: err.Error()}

	case errors.Is(err, ErrBadRequest),
		errors.Is(err, state.ErrInvalidZone),
		errors.Is(err, state.ErrInvalidProfile),
		errors.Is(err, core.ErrInvalidFix):
		return httpError{Status: http.StatusBadRequest, Code: CodeInvalidArgument, Message: err.Error()}

	default:
		return httpError{Status: http.StatusInternalServerError, Code: CodeInternal, Message: "internal error"}
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	he := toHTTPError(err)
	if he.Status >= http.StatusInternalServerError {
		s.logger(r).Error(r.Context(), "request failed", logging.Err(err))
	}
	writeJSON(w, he.Status, errorEnvelope{Error: errorBody{Code: he.Code, Message: he.Message}})
}
