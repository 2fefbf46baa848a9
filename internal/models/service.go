package models

import (
	"time"

	"github.com/google/uuid"
)

// Service statuses
const (
	ServiceStatusAvailable = "available"
	ServiceStatusBooked    = "booked"
	ServiceStatusCompleted = "completed"
	ServiceStatusCancelled = "cancelled"
)

// Valid state transitions: from -> []to
var ValidServiceTransitions = map[string][]string{
	ServiceStatusAvailable: {ServiceStatusBooked, ServiceStatusCancelled},
	ServiceStatusBooked:    {ServiceStatusCompleted, ServiceStatusCancelled},
	ServiceStatusCompleted: {},
	ServiceStatusCancelled: {},
}

func IsValidServiceTransition(from, to string) bool {
	allowed, ok := ValidServiceTransitions[from]
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

type Service struct {
	ID               uuid.UUID `json:"id"`
	ProviderIdentity string    `json:"provider_identity"` // payout address
	ServiceType      string    `json:"service_type"`
	PriceTON         string    `json:"price_ton"` // numeric as string
	WindowStart      time.Time `json:"window_start"`
	WindowEnd        time.Time `json:"window_end"`
	Status           string    `json:"status"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}
