package models

import (
	"time"

	"github.com/google/uuid"
)

// Escrow statuses. Release and refund are mutually exclusive and fire at
// most once: a settlement first claims the escrow pending -> settling, so
// exactly one caller reaches the payment rail; settling returns to pending
// when the rail call fails, keeping settlement retryable. funding_rejected
// marks an escrow whose client deposit never arrived; it holds no funds.
const (
	EscrowStatusPending         = "pending"
	EscrowStatusSettling        = "settling"
	EscrowStatusReleased        = "released"
	EscrowStatusRefunded        = "refunded"
	EscrowStatusCancelled       = "cancelled"
	EscrowStatusFundingRejected = "funding_rejected"
)

// Valid state transitions: from -> []to
var ValidEscrowTransitions = map[string][]string{
	EscrowStatusPending:         {EscrowStatusSettling, EscrowStatusCancelled, EscrowStatusFundingRejected},
	EscrowStatusSettling:        {EscrowStatusReleased, EscrowStatusRefunded, EscrowStatusPending},
	EscrowStatusReleased:        {},
	EscrowStatusRefunded:        {},
	EscrowStatusCancelled:       {},
	EscrowStatusFundingRejected: {EscrowStatusCancelled},
}

func IsValidEscrowTransition(from, to string) bool {
	allowed, ok := ValidEscrowTransitions[from]
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

type Escrow struct {
	ID                uuid.UUID `json:"id"`
	BookingID         uuid.UUID `json:"booking_id"`
	AmountTON         string    `json:"amount_ton"` // numeric as string
	PayerIdentity     string    `json:"payer_identity"`
	CustodianIdentity string    `json:"custodian_identity"`
	PayeeIdentity     string    `json:"payee_identity"`
	Status            string    `json:"status"`
	FundingReceipt    *string   `json:"funding_receipt,omitempty"`
	SettlementReceipt *string   `json:"settlement_receipt,omitempty"`
	SettledAmountTON  *string   `json:"settled_amount_ton,omitempty"`
	RefundPct         *int      `json:"refund_pct,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}
