// respond.go - Uniform JSON response envelopes.
//
// Every endpoint answers with {status:"success", message, ...} or
// {status:"error", message, [error]}; nothing else leaves the API.
package server

import (
	"encoding/json"
	"net/http"
)

func writeJSON(w http.ResponseWriter, status int, body map[string]any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// respondSuccess writes a 200 success envelope. extra carries
// endpoint-specific payload fields (url, exames, diagnosticos).
func respondSuccess(w http.ResponseWriter, message string, extra map[string]any) {
	body := map[string]any{
		"status":  "success",
		"message": message,
	}
	for k, v := range extra {
		body[k] = v
	}
	writeJSON(w, http.StatusOK, body)
}

func respondError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{
		"status":  "error",
		"message": message,
	})
}

// respondErrorCause includes the underlying error string, mirroring the
// envelope used for storage and persistence failures.
func respondErrorCause(w http.ResponseWriter, status int, message string, err error) {
	writeJSON(w, status, map[string]any{
		"status":  "error",
		"message": message,
		"error":   err.Error(),
	})
}

// apiError is a request-validation failure carrying its HTTP status.
// Validators return *apiError so handlers can bail out with one line.
type apiError struct {
	status  int
	message string
}

func (e *apiError) Error() string { return e.message }

func (e *apiError) write(w http.ResponseWriter) {
	respondError(w, e.status, e.message)
}
