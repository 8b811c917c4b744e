package domain

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
)

// CanonicalJSON serializes v with object keys sorted at every depth and no HTML escaping.
// Numbers keep their literal form when v was decoded with UseNumber.
func CanonicalJSON(v any) ([]byte, error) {
	if raw, ok := v.(json.RawMessage); ok {
		decoded, err := DecodeJSON(raw)
		if err != nil {
			return nil, err
		}
		v = decoded
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, fmt.Errorf("failed to canonicalize payload: %w", err)
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// ContentHash returns the hex SHA-256 digest of a canonical serialization.
func ContentHash(canonical []byte) string {
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:])
}

// DecodeJSON parses raw into generic values, keeping numbers as json.Number.
func DecodeJSON(raw []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, &MalformedPayloadError{Err: err}
	}
	if dec.More() {
		return nil, &MalformedPayloadError{Err: errors.New("trailing data after JSON value")}
	}
	return v, nil
}
