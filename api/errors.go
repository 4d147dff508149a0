package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/blogsuite/blogauth/credential"
	"github.com/blogsuite/blogauth/session"
	"github.com/blogsuite/blogauth/token"
)

// Machine-readable error codes. Clients branch on the code, never on the
// human-readable message.
const (
	codeAuthRequired   = "auth_required"
	codeInvalidToken   = "invalid_token"
	codeInvalidSession = "invalid_session"
	codeInvalidLogin   = "invalid_login"
	codeValidation     = "validation_error"
	codePersistence    = "persistence_error"
	codeRateLimited    = "rate_limited"
	codeNotFound       = "not_found"
)

// ErrorResponse is the JSON error envelope.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg, Code: code})
}

// mapError translates domain sentinels into HTTP responses with stable codes.
func mapError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, token.ErrInvalidToken), errors.Is(err, token.ErrTokenExpired):
		writeError(w, http.StatusUnauthorized, codeInvalidToken, "invalid or expired token")
	case errors.Is(err, session.ErrSessionNotFound), errors.Is(err, session.ErrSessionExpired):
		writeError(w, http.StatusUnauthorized, codeInvalidSession, "invalid or expired session")
	case errors.Is(err, credential.ErrNotFound):
		writeError(w, http.StatusNotFound, codeNotFound, "not found")
	default:
		writeError(w, http.StatusInternalServerError, codePersistence, "internal error")
	}
}

const maxBodySize = 64 * 1024

// decodeJSON reads and decodes a JSON request body into T. On failure it
// writes a validation error and returns ok=false.
func decodeJSON[T any](w http.ResponseWriter, r *http.Request) (T, bool) {
	var v T
	body := http.MaxBytesReader(w, r.Body, maxBodySize)
	defer io.Copy(io.Discard, body)

	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&v); err != nil {
		writeError(w, http.StatusBadRequest, codeValidation, "malformed request body")
		var zero T
		return zero, false
	}
	return v, true
}
