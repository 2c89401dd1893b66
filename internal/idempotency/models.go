package idempotency

import (
	"encoding/hex"
	"time"

	"golang.org/x/crypto/blake2b"
)

// Record is the stored decision for one transaction id. Records are written
// once and never mutated.
type Record struct {
	TransactionID string
	EventID       string
	ActionID      string
	ActionType    string
	Status        int
	Body          []byte
	Fingerprint   string
	CreatedAt     time.Time
}

// Result is the HTTP-level outcome of a handler: status and exact body bytes.
type Result struct {
	Status int
	Body   []byte
}

// Key identifies a confirmation attempt.
type Key struct {
	TransactionID string
	EventID       string
	ActionID      string
	ActionType    string
	// Fingerprint of the request payload; a replay with a different
	// fingerprint is logged but still answered from the record.
	Fingerprint string
}

// Outcome is what Execute returns to the caller.
type Outcome struct {
	Result
	// Replayed is true when the result came from an earlier execution.
	Replayed bool
}

// Fingerprint hashes a request payload with BLAKE2b-256.
func Fingerprint(payload []byte) string {
	sum := blake2b.Sum256(payload)
	return hex.EncodeToString(sum[:])
}
