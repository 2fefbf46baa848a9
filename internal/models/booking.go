package models

import (
	"time"

	"github.com/google/uuid"
)

// Booking statuses
const (
	BookingStatusPending   = "pending"
	BookingStatusConfirmed = "confirmed"
	BookingStatusCompleted = "completed"
	BookingStatusDisputed  = "disputed"
	BookingStatusCancelled = "cancelled"
	BookingStatusRefunded  = "refunded"
)

// Booking outcomes reported by CompleteBooking.
const (
	BookingOutcomeSuccess = "success"
	BookingOutcomeFailure = "failure"
)

// Valid state transitions: from -> []to. Statuses only advance forward;
// disputed is the one side branch, entered from confirmed or completed.
var ValidBookingTransitions = map[string][]string{
	BookingStatusPending:   {BookingStatusConfirmed, BookingStatusCancelled},
	BookingStatusConfirmed: {BookingStatusCompleted, BookingStatusDisputed, BookingStatusCancelled},
	BookingStatusCompleted: {BookingStatusDisputed},
	BookingStatusDisputed:  {BookingStatusCompleted, BookingStatusRefunded},
	BookingStatusCancelled: {},
	BookingStatusRefunded:  {},
}

func IsValidBookingTransition(from, to string) bool {
	allowed, ok := ValidBookingTransitions[from]
	if !ok {
		return false
	}
	for _, s := range allowed {
		if s == to {
			return true
		}
	}
	return false
}

type Booking struct {
	ID             uuid.UUID  `json:"id"`
	ServiceID      uuid.UUID  `json:"service_id"`
	ClientIdentity string     `json:"client_identity"`
	Status         string     `json:"status"`
	Notes          *string    `json:"notes,omitempty"`
	EscrowID       *uuid.UUID `json:"escrow_id,omitempty"`   // set at most once, never cleared
	SessionRef     *string    `json:"session_ref,omitempty"` // delivered session reference
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}
