// Package responders writes JSON bodies for handlers that do not go through
// the idempotent response path.
package responders

import (
	"bytes"
	"encoding/json"
	"net/http"
)

// JSON renders payload before touching w, so an encoding failure becomes a
// bare 500 instead of a truncated body under the intended status. HTML
// characters are left unescaped; URLs in bodies stay readable.
func JSON(w http.ResponseWriter, status int, payload any) error {
	var buf bytes.Buffer
	if payload != nil {
		enc := json.NewEncoder(&buf)
		enc.SetEscapeHTML(false)
		if err := enc.Encode(payload); err != nil {
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
			return err
		}
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, err := w.Write(buf.Bytes())
	return err
}
