// Package audit persists classification run records off the hot path. The
// engine enqueues each finished run; a background writer appends it to an
// append-only store for compliance review and replay.
package audit

import (
	"context"
	"time"
)

// Record is one persisted classification run. Payload is the JSON-encoded
// engine result; it is stored opaquely so schema evolution on the result side
// never requires a migration here.
type Record struct {
	RunID     string    `db:"run_id" json:"run_id"`
	ProductID string    `db:"product_id" json:"product_id,omitempty"`
	Payload   []byte    `db:"payload" json:"payload"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// Store is an append-only record sink. Append must be safe for concurrent
// use.
type Store interface {
	Append(ctx context.Context, rec Record) error
	Close() error
}
