// Package shared holds transport helpers used by every handler: the JSON
// error envelope and response writer.
package shared

import (
	"encoding/json"
	"errors"
	"net/http"

	dErrors "cardvault/pkg/domain-errors"
)

// ErrorResponse is the JSON error envelope returned by all endpoints.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// WriteError translates a domain error to its HTTP status and writes the
// JSON envelope. Non-domain errors surface as internal.
func WriteError(w http.ResponseWriter, err error) {
	code := dErrors.CodeOf(err)
	message := ""
	var de *dErrors.Error
	if errors.As(err, &de) {
		message = de.Message
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(dErrors.ToHTTPStatus(code))
	_ = json.NewEncoder(w).Encode(ErrorResponse{Error: string(code), Message: message})
}

// WriteJSON writes v as a JSON response with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}
