// Package dedup absorbs the platform's at-least-once delivery: every
// event id is claimed exactly once, and retries resolve to Duplicate no
// matter how they overlap in time.
package dedup

import (
	"context"
	"errors"
)

// Result of a claim attempt.
type Result string

const (
	// Fresh means this caller won the claim and must process the event.
	Fresh Result = "fresh"
	// Duplicate means the event was already claimed; processing it
	// again must be a no-op.
	Duplicate Result = "duplicate"
)

// ErrStorageUnavailable is returned (wrapped) when the idempotency
// store cannot be reached. The claimer fails closed: callers must treat
// this as "unknown", never as Duplicate.
var ErrStorageUnavailable = errors.New("dedup: storage unavailable")

// Claimer atomically tests-and-sets the idempotency record for an
// event id. Under concurrent claims for the same id exactly one caller
// observes Fresh.
type Claimer interface {
	Claim(ctx context.Context, eventID string) (Result, error)
}
