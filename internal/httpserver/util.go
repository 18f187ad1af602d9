package httpserver

import (
	"errors"
	"io"
	"net/http"
)

const maxRequestBody = 1 << 20

var errBodyTooLarge = errors.New("request body exceeds 1 MiB")

// readBody reads the whole request body, bounded by maxRequestBody.
func readBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	defer r.Body.Close()
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxRequestBody))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, errBodyTooLarge
		}
		return nil, err
	}
	return body, nil
}
