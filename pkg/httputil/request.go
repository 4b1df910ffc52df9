package httputil

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/gorilla/mux"
)

// ErrInvalidJSON wraps every body decoding failure.
var ErrInvalidJSON = errors.New("invalid JSON")

// ParseJSON decodes a single JSON value from the request body into dest.
// A missing or empty body is not an error and leaves dest untouched.
func ParseJSON(r *http.Request, dest any) error {
	if r.Body == nil || r.Body == http.NoBody {
		return nil
	}
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(dest); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("%w: %w", ErrInvalidJSON, err)
	}
	if dec.More() {
		return fmt.Errorf("%w: trailing data after body", ErrInvalidJSON)
	}
	return nil
}

// PathVar returns a non-empty gorilla/mux route variable.
func PathVar(r *http.Request, key string) (string, bool) {
	value := mux.Vars(r)[key]
	return value, value != ""
}
