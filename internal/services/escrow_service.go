package services

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/session-market/backend/internal/config"
	"github.com/session-market/backend/internal/errs"
	"github.com/session-market/backend/internal/events"
	"github.com/session-market/backend/internal/models"
	"github.com/session-market/backend/internal/payment"
	"github.com/session-market/backend/internal/repositories"
	"go.uber.org/zap"
)

// EscrowService owns the Escrow entity lifecycle and is the only component
// that talks to the payment rail. Release and refund are mutually
// exclusive terminal operations: a settlement first claims the escrow with
// a pending -> settling conditional write, so only one of them ever reaches
// the rail, and the claim is returned on rail failure to keep settlement
// retryable.
type EscrowService struct {
	escrowRepo *repositories.EscrowRepo
	rail       payment.Rail
	auditRepo  *repositories.AuditRepo
	publisher  events.Publisher
	cfg        *config.Config
	log        *zap.Logger
}

func NewEscrowService(
	escrowRepo *repositories.EscrowRepo,
	rail payment.Rail,
	auditRepo *repositories.AuditRepo,
	publisher events.Publisher,
	cfg *config.Config,
	log *zap.Logger,
) *EscrowService {
	return &EscrowService{
		escrowRepo: escrowRepo,
		rail:       rail,
		auditRepo:  auditRepo,
		publisher:  publisher,
		cfg:        cfg,
		log:        log,
	}
}

// OpenEscrow persists the escrow and moves the amount payer -> custodian.
// On rail failure the escrow lands in funding_rejected and the error is
// surfaced as FundingFailedError; funding is never retried automatically
// because a blind retry without the original idempotency key risks a
// double charge.
func (s *EscrowService) OpenEscrow(ctx context.Context, bookingID uuid.UUID, amountTON, payer, custodian, payee string) (*models.Escrow, error) {
	if !payment.IsPositive(amountTON) {
		return nil, &errs.ValidationError{Field: "amount_ton", Reason: "must be a positive amount"}
	}
	if payer == "" || custodian == "" || payee == "" {
		return nil, &errs.ValidationError{Field: "identities", Reason: "payer, custodian and payee are required"}
	}

	now := time.Now().UTC()
	escrow := &models.Escrow{
		ID:                uuid.New(),
		BookingID:         bookingID,
		AmountTON:         amountTON,
		PayerIdentity:     payer,
		CustodianIdentity: custodian,
		PayeeIdentity:     payee,
		Status:            models.EscrowStatusPending,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := s.escrowRepo.Create(ctx, escrow); err != nil {
		return nil, err
	}

	_ = s.auditRepo.Log(ctx, models.AuditLog{
		ActorType:  "system",
		Action:     "escrow_opened",
		EntityType: "escrow",
		EntityID:   &escrow.ID,
		Meta:       map[string]any{"booking_id": bookingID.String(), "amount_ton": amountTON},
	})

	fundCtx, cancel := context.WithTimeout(ctx, s.cfg.ExternalCallTimeout)
	defer cancel()
	receipt, err := s.rail.Transfer(fundCtx, payer, custodian, amountTON, payment.IdempotencyKey(escrow.ID.String(), payment.PhaseFund))
	if err != nil {
		if _, terr := s.transition(ctx, escrow, models.EscrowStatusFundingRejected, "funding failed"); terr != nil {
			s.log.Error("failed to mark escrow funding_rejected",
				zap.String("escrow_id", escrow.ID.String()), zap.Error(terr))
		}
		return escrow, &errs.FundingFailedError{EscrowID: escrow.ID.String(), Err: err}
	}

	escrow.FundingReceipt = &receipt.Reference
	ok, current, err := s.escrowRepo.UpdateIfStatus(ctx, escrow, models.EscrowStatusPending)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, &errs.ConflictError{
			EntityType: "escrow",
			EntityID:   escrow.ID.String(),
			Status:     current.Status,
			Expected:   models.EscrowStatusPending,
		}
	}

	_ = s.auditRepo.Log(ctx, models.AuditLog{
		ActorType:  "system",
		Action:     "escrow_funded",
		EntityType: "escrow",
		EntityID:   &escrow.ID,
		Meta:       map[string]any{"funding_receipt": receipt.Reference},
	})

	return escrow, nil
}

func (s *EscrowService) GetEscrow(ctx context.Context, id uuid.UUID) (*models.Escrow, error) {
	return s.escrowRepo.GetByID(ctx, id)
}

func (s *EscrowService) GetByBookingID(ctx context.Context, bookingID uuid.UUID) (*models.Escrow, error) {
	return s.escrowRepo.GetByBookingID(ctx, bookingID)
}

// Release moves the full amount custodian -> payee. The pending -> settling
// claim happens before the rail call, so a racing release and refund can
// never both reach the rail; the rail call itself carries the escrow id as
// its idempotency key, so a retry after an unobserved receipt cannot
// double-transfer.
func (s *EscrowService) Release(ctx context.Context, escrowID uuid.UUID, reason string) (*models.Escrow, error) {
	e, err := s.escrowRepo.GetByID(ctx, escrowID)
	if err != nil {
		return nil, err
	}
	if err := s.claimSettlement(ctx, e, models.EscrowStatusReleased); err != nil {
		return nil, err
	}

	railCtx, cancel := context.WithTimeout(ctx, s.cfg.ExternalCallTimeout)
	defer cancel()
	receipt, err := s.rail.Transfer(railCtx, e.CustodianIdentity, e.PayeeIdentity, e.AmountTON, payment.IdempotencyKey(e.ID.String(), payment.PhaseRelease))
	if err != nil {
		// Return the escrow to pending; the caller may re-query status and
		// retry with the same idempotency key.
		s.releaseClaim(ctx, e)
		return nil, fmt.Errorf("release escrow %s: %w", escrowID, err)
	}

	e.SettlementReceipt = &receipt.Reference
	e.SettledAmountTON = &e.AmountTON
	return s.transitionWithMeta(ctx, e, models.EscrowStatusReleased, reason, map[string]any{
		"settlement_receipt": receipt.Reference,
		"amount_ton":         e.AmountTON,
	})
}

// Refund moves pct percent of the amount custodian -> payer. Depending on
// the configured remainder policy, the rest either stays with the
// custodian or is forwarded to the payee.
func (s *EscrowService) Refund(ctx context.Context, escrowID uuid.UUID, pct int, reason string) (*models.Escrow, error) {
	if pct <= 0 || pct > 100 {
		return nil, &errs.ValidationError{Field: "pct", Reason: "must be in (0, 100]"}
	}

	e, err := s.escrowRepo.GetByID(ctx, escrowID)
	if err != nil {
		return nil, err
	}

	refundTON, err := payment.Percent(e.AmountTON, pct)
	if err != nil {
		return nil, err
	}

	if err := s.claimSettlement(ctx, e, models.EscrowStatusRefunded); err != nil {
		return nil, err
	}

	railCtx, cancel := context.WithTimeout(ctx, s.cfg.ExternalCallTimeout)
	defer cancel()
	receipt, err := s.rail.Transfer(railCtx, e.CustodianIdentity, e.PayerIdentity, refundTON, payment.IdempotencyKey(e.ID.String(), payment.PhaseRefund))
	if err != nil {
		s.releaseClaim(ctx, e)
		return nil, fmt.Errorf("refund escrow %s: %w", escrowID, err)
	}

	if pct < 100 && s.cfg.RefundRemainderPolicy == config.RemainderPolicyPayee {
		remainderTON, err := payment.Remainder(e.AmountTON, refundTON)
		if err != nil {
			s.releaseClaim(ctx, e)
			return nil, err
		}
		if payment.IsPositive(remainderTON) {
			remCtx, remCancel := context.WithTimeout(ctx, s.cfg.ExternalCallTimeout)
			defer remCancel()
			if _, err := s.rail.Transfer(remCtx, e.CustodianIdentity, e.PayeeIdentity, remainderTON, payment.IdempotencyKey(e.ID.String(), payment.PhaseRefundRemainder)); err != nil {
				// A retry replays both legs under their original keys, so
				// the already-settled refund leg is deduplicated by the rail.
				s.releaseClaim(ctx, e)
				return nil, fmt.Errorf("refund remainder for escrow %s: %w", escrowID, err)
			}
		}
	}

	e.SettlementReceipt = &receipt.Reference
	e.SettledAmountTON = &refundTON
	e.RefundPct = &pct
	return s.transitionWithMeta(ctx, e, models.EscrowStatusRefunded, reason, map[string]any{
		"settlement_receipt": receipt.Reference,
		"refund_pct":         pct,
		"refund_ton":         refundTON,
	})
}

// Cancel closes an escrow that never needs settlement (booking cancelled
// before delivery, or a funding_rejected escrow being retired). No rail
// call is made; a funded pending escrow must be refunded, not cancelled.
func (s *EscrowService) Cancel(ctx context.Context, escrowID uuid.UUID, reason string) (*models.Escrow, error) {
	e, err := s.escrowRepo.GetByID(ctx, escrowID)
	if err != nil {
		return nil, err
	}
	if e.Status == models.EscrowStatusPending && e.FundingReceipt != nil {
		return nil, &errs.InvalidStateError{
			EntityType: "escrow",
			EntityID:   escrowID.String(),
			Status:     e.Status,
			Attempted:  models.EscrowStatusCancelled,
		}
	}
	return s.transitionWithMeta(ctx, e, models.EscrowStatusCancelled, reason, nil)
}

// claimSettlement moves the escrow pending -> settling with a conditional
// write, so at most one settlement attempt is in flight at the rail. The
// loser of a race sees the current status in the returned error.
func (s *EscrowService) claimSettlement(ctx context.Context, e *models.Escrow, attempted string) error {
	if e.Status != models.EscrowStatusPending {
		return &errs.InvalidStateError{
			EntityType: "escrow",
			EntityID:   e.ID.String(),
			Status:     e.Status,
			Attempted:  attempted,
		}
	}

	e.Status = models.EscrowStatusSettling
	ok, current, err := s.escrowRepo.UpdateIfStatus(ctx, e, models.EscrowStatusPending)
	if err != nil {
		e.Status = models.EscrowStatusPending
		return err
	}
	if !ok {
		e.Status = models.EscrowStatusPending
		return &errs.InvalidStateError{
			EntityType: "escrow",
			EntityID:   e.ID.String(),
			Status:     current.Status,
			Attempted:  attempted,
		}
	}
	return nil
}

// releaseClaim returns a claimed escrow to pending after a failed rail
// call, so the settlement stays retryable.
func (s *EscrowService) releaseClaim(ctx context.Context, e *models.Escrow) {
	e.Status = models.EscrowStatusPending
	ok, current, err := s.escrowRepo.UpdateIfStatus(ctx, e, models.EscrowStatusSettling)
	if err != nil {
		s.log.Error("failed to return escrow to pending after rail failure",
			zap.String("escrow_id", e.ID.String()), zap.Error(err))
		return
	}
	if !ok {
		s.log.Error("escrow left settling state during a failed settlement",
			zap.String("escrow_id", e.ID.String()),
			zap.String("status", current.Status))
	}
}

func (s *EscrowService) transition(ctx context.Context, e *models.Escrow, newStatus, reason string) (*models.Escrow, error) {
	return s.transitionWithMeta(ctx, e, newStatus, reason, nil)
}

func (s *EscrowService) transitionWithMeta(ctx context.Context, e *models.Escrow, newStatus, reason string, meta map[string]any) (*models.Escrow, error) {
	if !models.IsValidEscrowTransition(e.Status, newStatus) {
		return nil, &errs.InvalidStateError{
			EntityType: "escrow",
			EntityID:   e.ID.String(),
			Status:     e.Status,
			Attempted:  newStatus,
		}
	}

	oldStatus := e.Status
	e.Status = newStatus
	ok, current, err := s.escrowRepo.UpdateIfStatus(ctx, e, oldStatus)
	if err != nil {
		return nil, err
	}
	if !ok {
		e.Status = oldStatus
		return nil, &errs.InvalidStateError{
			EntityType: "escrow",
			EntityID:   e.ID.String(),
			Status:     current.Status,
			Attempted:  newStatus,
		}
	}

	if meta == nil {
		meta = map[string]any{}
	}
	meta["old_status"] = oldStatus
	meta["new_status"] = newStatus
	meta["reason"] = reason
	_ = s.auditRepo.Log(ctx, models.AuditLog{
		ActorType:  "system",
		Action:     "escrow_status_" + oldStatus + "_to_" + newStatus,
		EntityType: "escrow",
		EntityID:   &e.ID,
		Meta:       meta,
	})

	_ = s.publisher.Publish(ctx, events.StreamMarketplace, events.Event{
		Type: events.EventEscrowStatusChanged,
		Payload: map[string]any{
			"escrow_id":  e.ID.String(),
			"booking_id": e.BookingID.String(),
			"old_status": oldStatus,
			"new_status": newStatus,
		},
	})

	return e, nil
}
