// Package ledger records which webhook events have already been acted on.
//
// The hot path uses Claim/Complete/Release: Claim atomically inserts a
// pending row if none exists, so two concurrent deliveries of the same event
// cannot both proceed. Complete marks the row done once the notification has
// gone out; Release drops a pending row after a downstream failure so the
// upstream redelivery is processed again.
package ledger

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrPersistence wraps every storage failure.
	ErrPersistence = errors.New("ledger persistence failure")
	// ErrDuplicate is returned by Create for an id that is already recorded.
	ErrDuplicate = errors.New("event already recorded")
	// ErrClaimLost is returned by Complete or Release when the row no longer
	// belongs to the claim (its lease expired and another delivery took it).
	ErrClaimLost = errors.New("event claim no longer held")
)

// Status of a ledger row.
type Status string

const (
	StatusPending Status = "pending"
	StatusDone    Status = "done"
)

// Event is one ledger row.
type Event struct {
	ID          string
	Status      Status
	ClaimID     string
	ClaimedAt   time.Time
	CompletedAt *time.Time
}

// Claim identifies an in-flight processing attempt for an event.
type Claim struct {
	EventID string
	ID      string
}

// Ledger is the idempotency store keyed by event id.
type Ledger interface {
	// Get returns nil, nil when the event is unknown.
	Get(ctx context.Context, eventID string) (*Event, error)
	// Create records the event as done unconditionally.
	Create(ctx context.Context, eventID string) error
	// Claim reports first=true when the caller now owns the event.
	Claim(ctx context.Context, eventID string, lease time.Duration) (Claim, bool, error)
	Complete(ctx context.Context, c Claim) error
	Release(ctx context.Context, c Claim) error
}
