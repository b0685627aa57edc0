package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/repohawk/scanner/pkg/domain/shared"
)

type errorResponse struct {
	Error errorBody `json:"error"`
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}

func respondError(w http.ResponseWriter, status int, code, msg string) {
	respondJSON(w, status, errorResponse{Error: errorBody{Code: code, Message: msg}})
}

// respondDomainError maps domain sentinel errors onto HTTP statuses. Anything
// unrecognized is a 500 with a generic message; internals stay in the logs.
func respondDomainError(w http.ResponseWriter, err error) {
	var de *shared.DomainError
	msg := "internal server error"
	code := "INTERNAL"
	if errors.As(err, &de) {
		msg = de.Message
		code = de.Code
	}

	switch {
	case errors.Is(err, shared.ErrNotFound):
		respondError(w, http.StatusNotFound, code, msg)
	case errors.Is(err, shared.ErrValidation):
		respondError(w, http.StatusBadRequest, code, msg)
	case errors.Is(err, shared.ErrConflict):
		respondError(w, http.StatusConflict, code, msg)
	case errors.Is(err, shared.ErrAlreadyExists):
		respondError(w, http.StatusConflict, code, msg)
	default:
		respondError(w, http.StatusInternalServerError, "INTERNAL", "internal server error")
	}
}
