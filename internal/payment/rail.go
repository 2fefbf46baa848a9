package payment

import (
	"context"
	"time"
)

// Transfer phases. The idempotency key for every rail call is the escrow id
// plus a phase tag, so a repeated call after a timeout cannot move funds
// twice.
const (
	PhaseFund            = "fund"
	PhaseRelease         = "release"
	PhaseRefund          = "refund"
	PhaseRefundRemainder = "refund-remainder"
)

func IdempotencyKey(escrowID, phase string) string {
	return escrowID + ":" + phase
}

type Receipt struct {
	Reference      string    `json:"reference"` // chain tx hash or deposit reference
	From           string    `json:"from"`
	To             string    `json:"to"`
	AmountTON      string    `json:"amount_ton"`
	IdempotencyKey string    `json:"idempotency_key"`
	CompletedAt    time.Time `json:"completed_at"`
}

// Rail executes value transfers between settlement identities. Repeated
// calls with the same idempotency key have effect at most once and return
// the receipt of the original transfer.
type Rail interface {
	Transfer(ctx context.Context, from, to, amountTON, idempotencyKey string) (*Receipt, error)
}

// Deposit is an incoming client->custodian transfer observed on chain by
// the deposit watcher, keyed by the funding idempotency key it carried as
// its transfer comment.
type Deposit struct {
	IdempotencyKey string    `json:"idempotency_key"`
	TxHash         string    `json:"tx_hash"`
	FromIdentity   string    `json:"from_identity"`
	AmountTON      string    `json:"amount_ton"`
	ObservedAt     time.Time `json:"observed_at"`
}
