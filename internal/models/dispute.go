package models

import (
	"time"

	"github.com/google/uuid"
)

// Dispute statuses
const (
	DisputeStatusOpen     = "open"
	DisputeStatusResolved = "resolved"
)

// Dispute resolutions
const (
	ResolutionFullRefund    = "full_refund"
	ResolutionPartialRefund = "partial_refund"
	ResolutionNoRefund      = "no_refund"
)

func IsValidResolution(r string) bool {
	return r == ResolutionFullRefund || r == ResolutionPartialRefund || r == ResolutionNoRefund
}

type Dispute struct {
	ID          uuid.UUID  `json:"id"`
	BookingID   uuid.UUID  `json:"booking_id"`
	Reason      string     `json:"reason"`
	EvidenceRef *string    `json:"evidence_ref,omitempty"`
	Resolution  *string    `json:"resolution,omitempty"`
	RefundPct   *int       `json:"refund_pct,omitempty"` // only for partial_refund
	Notes       *string    `json:"notes,omitempty"`
	Status      string     `json:"status"`
	CreatedAt   time.Time  `json:"created_at"`
	ResolvedAt  *time.Time `json:"resolved_at,omitempty"`
}
