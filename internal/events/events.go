package events

import (
	"context"
	"time"
)

// Kind identifies the logical change an event announces.
type Kind string

const (
	BidPlaced   Kind = "bid_placed"
	BidDeleted  Kind = "bid_deleted"
	ItemAdded   Kind = "item_added"
	ItemRemoved Kind = "item_removed"

	// Resync is never published; the coordinator reports it on full
	// view refreshes.
	Resync Kind = "resync"
)

// Event is one auction change notification. Delivery is at-least-once:
// duplicates and reordering across items are normal, so consumers must
// treat application as idempotent.
type Event struct {
	Kind   Kind      `json:"kind"`
	ItemID string    `json:"itemId,omitempty"`
	At     time.Time `json:"at"`
}

// Bus is the transport boundary. Publish is fire-and-forget from the
// ledger's point of view: a publish failure never affects ledger or
// cache correctness, a reconcile can always recover full state without
// the notification channel.
type Bus interface {
	Publish(ctx context.Context, ev Event) error
	// Subscribe returns a receive channel and a cancel function that
	// releases the subscription. The channel closes after cancel.
	Subscribe(ctx context.Context) (<-chan Event, func(), error)
	Close() error
}
