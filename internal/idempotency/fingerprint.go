package idempotency

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"unicode/utf8"
)

// ErrInvalidBody is returned when a request body cannot be canonicalized.
var ErrInvalidBody = errors.New("idempotency: request body is not valid JSON")

// Canonicalize normalizes a JSON request body so logically identical bodies
// produce identical bytes:
//
//   - numbers are kept verbatim (no float round-trip)
//   - object members whose value is null are dropped, so absent and null are equal
//   - object keys are sorted bytewise and insignificant whitespace is removed
//   - array order is preserved
//   - an empty or whitespace-only body is treated as {}
//   - a body that is not valid UTF-8 is rejected rather than decoded with
//     U+FFFD substitutions
func Canonicalize(body []byte) ([]byte, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return []byte("{}"), nil
	}
	if !utf8.Valid(body) {
		return nil, fmt.Errorf("%w: invalid UTF-8", ErrInvalidBody)
	}

	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()

	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidBody, err)
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, fmt.Errorf("%w: trailing data", ErrInvalidBody)
	}

	// encoding/json sorts map keys when marshaling.
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(dropNulls(v)); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidBody, err)
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

func dropNulls(v any) any {
	switch t := v.(type) {
	case map[string]any:
		for k, val := range t {
			if val == nil {
				delete(t, k)
				continue
			}
			t[k] = dropNulls(val)
		}
		return t
	case []any:
		for i, val := range t {
			t[i] = dropNulls(val)
		}
		return t
	default:
		return v
	}
}

// Fingerprint hashes the canonical body together with the operation scope and
// the target resource id, so the same key reused against a different session
// is a conflict rather than a replay.
func Fingerprint(scope, resource string, body []byte) (string, error) {
	canonical, err := Canonicalize(body)
	if err != nil {
		return "", err
	}
	h := sha256.New()
	h.Write([]byte(scope))
	h.Write([]byte{'\n'})
	h.Write([]byte(resource))
	h.Write([]byte{'\n'})
	h.Write(canonical)
	return hex.EncodeToString(h.Sum(nil)), nil
}
