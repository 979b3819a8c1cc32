// Package respond holds the JSON response helpers shared by HTTP handlers.
package respond

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
)

const maxBodyBytes = 1 << 20

// ErrorBody is the JSON shape of every error response.
type ErrorBody struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
	Hint  string `json:"hint,omitempty"`
}

// JSON writes payload with the given status.
func JSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// Error writes an ErrorBody.
func Error(w http.ResponseWriter, status int, code, message string) {
	JSON(w, status, ErrorBody{Error: message, Code: code})
}

// ErrorWithHint writes an ErrorBody carrying a remediation hint.
func ErrorWithHint(w http.ResponseWriter, status int, code, message, hint string) {
	JSON(w, status, ErrorBody{Error: message, Code: code, Hint: hint})
}

// Decode reads a JSON body into dst. Unknown fields are ignored so that
// client-computed values such as price previews never reach the server model.
func Decode(r *http.Request, dst any) error {
	if r.Body == nil {
		return errors.New("empty body")
	}
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("invalid payload: %w", err)
	}
	if dec.More() {
		return errors.New("invalid payload: trailing data")
	}
	return nil
}
