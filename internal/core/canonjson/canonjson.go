// Package canonjson produces the canonical JSON and SHA-256 digests used for
// idempotency scope/payload hashing and journal hash chaining. Canonical form
// is RFC 8785 (JCS): keys recursively sorted, no insignificant whitespace,
// array element order preserved. Money fields reach this package already
// fixed to 2dp strings via amount.Amount's MarshalJSON.
package canonjson

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"

	"github.com/gowebpki/jcs"
)

// Canonicalize marshals v and transforms the result to RFC 8785 canonical
// form. The output is byte-stable under key permutation at any depth.
func Canonicalize(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return jcs.Transform(raw)
}

// HashHex returns the lowercase hex SHA-256 of data.
func HashHex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// HashJoined hashes parts joined with '|', the scope-hash convention.
func HashJoined(parts ...string) string {
	return HashHex([]byte(strings.Join(parts, "|")))
}

// PayloadHash canonicalizes v and hashes it.
func PayloadHash(v any) (string, error) {
	b, err := Canonicalize(v)
	if err != nil {
		return "", err
	}
	return HashHex(b), nil
}

// ScopeHash computes the idempotency identity for a posting command:
// SHA256(actor_type|actor_id|txn_type|idempotency_key).
func ScopeHash(actorType, actorID, txnType, idempotencyKey string) string {
	return HashJoined(actorType, actorID, txnType, idempotencyKey)
}
