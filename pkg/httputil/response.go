package httputil

import (
	"bytes"
	"encoding/json"
	"net/http"
)

// ErrorResponse is the body of every error written by this package.
type ErrorResponse struct {
	Error string `json:"error"`
}

// WriteJSON encodes v and writes it with status. v is encoded before any
// header is sent, so an unencodable value becomes a 500 instead of a
// truncated body.
func WriteJSON(w http.ResponseWriter, status int, v any) error {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(v); err != nil {
		WriteInternalError(w)
		return err
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, err := w.Write(buf.Bytes())
	return err
}

// WriteSuccess writes v with 200 OK.
func WriteSuccess(w http.ResponseWriter, v any) error {
	return WriteJSON(w, http.StatusOK, v)
}

// WriteError writes {"error": message} with status.
func WriteError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(ErrorResponse{Error: message})
}

func WriteBadRequest(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusBadRequest, message)
}

// WriteInternalError writes a 500 without exposing the cause.
func WriteInternalError(w http.ResponseWriter) {
	WriteError(w, http.StatusInternalServerError, "internal server error")
}

// NoStore marks the response as uncacheable.
func NoStore(w http.ResponseWriter) {
	w.Header().Set("Cache-Control", "no-store")
}
