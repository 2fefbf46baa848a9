package events

import "context"

// StreamMarketplace carries all entity lifecycle events.
const StreamMarketplace = "events:marketplace"

// Event types
const (
	EventServiceStatusChanged = "service_status_changed"
	EventBookingStatusChanged = "booking_status_changed"
	EventEscrowStatusChanged  = "escrow_status_changed"
	EventDisputeOpened        = "dispute_opened"
	EventDisputeResolved      = "dispute_resolved"
	EventDepositObserved      = "deposit_observed"
)

type Event struct {
	Type    string         `json:"type"`
	Payload map[string]any `json:"payload"`
}

type Publisher interface {
	Publish(ctx context.Context, stream string, event Event) error
}

type Subscriber interface {
	Subscribe(ctx context.Context, stream string, handler func(Event)) error
}
