package ledger

import (
	"encoding/hex"

	"golang.org/x/crypto/blake2b"
)

// IdempotencyKey is a stable hash of a logical request. Retries of the same
// logical operation must reuse the same key so a resubmission cannot
// duplicate a mint or transfer.
type IdempotencyKey string

func (k IdempotencyKey) String() string { return string(k) }

// DeriveKey computes the idempotency key for an operation from its
// identifying parts. Parts are joined with an unambiguous separator before
// hashing so ("ab","c") and ("a","bc") cannot collide.
func DeriveKey(operation string, parts ...string) IdempotencyKey {
	h, _ := blake2b.New256(nil)
	h.Write([]byte(operation))
	for _, p := range parts {
		h.Write([]byte{0x1f})
		h.Write([]byte(p))
	}
	return IdempotencyKey(hex.EncodeToString(h.Sum(nil)))
}
