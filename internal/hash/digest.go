// Package hash computes the SHA-256 digests that pin a benchmark file and an
// evaluation record to their reports.
package hash

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

const prefix = "sha256:"

// DigestBytes returns the sha256 digest of b in "sha256:<hex>" form.
func DigestBytes(b []byte) string {
	sum := sha256.Sum256(b)
	return prefix + hex.EncodeToString(sum[:])
}

// CanonicalJSON renders v with sorted object keys, no insignificant
// whitespace and numbers kept in their original textual form.
func CanonicalJSON(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal for canonicalization: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var normalized any
	if err := dec.Decode(&normalized); err != nil {
		return nil, fmt.Errorf("decode for canonicalization: %w", err)
	}
	buf := &bytes.Buffer{}
	enc := json.NewEncoder(buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(normalized); err != nil {
		return nil, fmt.Errorf("encode canonical form: %w", err)
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// DigestJSON returns the digest of v's canonical JSON form.
func DigestJSON(v any) (string, error) {
	canonical, err := CanonicalJSON(v)
	if err != nil {
		return "", err
	}
	return DigestBytes(canonical), nil
}
