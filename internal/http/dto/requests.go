package dto

import (
	"time"

	"github.com/session-market/backend/internal/ton"
)

type AuthTokenRequest struct {
	Identity string `json:"identity"` // settlement (wallet) address
	Role     string `json:"role"`     // client / provider / operator

	// Wallet proof, required when REQUIRE_WALLET_PROOF is set.
	RawAddress string     `json:"raw_address,omitempty"` // "0:abc..."
	PublicKey  string     `json:"public_key,omitempty"`  // hex
	Proof      *ton.Proof `json:"proof,omitempty"`
}

type CreateServiceRequest struct {
	ServiceType string    `json:"service_type"`
	PriceTON    string    `json:"price_ton"`
	WindowStart time.Time `json:"window_start"`
	WindowEnd   time.Time `json:"window_end"`
}

type CreateBookingRequest struct {
	ServiceID string  `json:"service_id"`
	Notes     *string `json:"notes,omitempty"`
}

type RecordSessionRequest struct {
	SessionRef string `json:"session_ref"`
}

type CompleteBookingRequest struct {
	Outcome string  `json:"outcome"` // success / failure
	Notes   *string `json:"notes,omitempty"`
}

type ReleaseEscrowRequest struct {
	Reason string `json:"reason"`
}

type RefundEscrowRequest struct {
	Pct    int    `json:"pct"`
	Reason string `json:"reason"`
}

type OpenDisputeRequest struct {
	BookingID   string  `json:"booking_id"`
	Reason      string  `json:"reason"`
	EvidenceRef *string `json:"evidence_ref,omitempty"`
}

type ResolveDisputeRequest struct {
	Resolution string `json:"resolution"` // full_refund / partial_refund / no_refund
	Pct        int    `json:"pct,omitempty"`
	Notes      string `json:"notes,omitempty"`
}
