package services

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/session-market/backend/internal/errs"
	"github.com/session-market/backend/internal/events"
	"github.com/session-market/backend/internal/models"
	"github.com/session-market/backend/internal/repositories"
	"go.uber.org/zap"
)

// DisputeService transitions a booking/escrow pair into a resolved state
// with a refund split, using the quality verdict and/or operator input as
// evidence.
type DisputeService struct {
	disputeRepo *repositories.DisputeRepo
	bookings    *BookingService
	escrows     *EscrowService
	auditRepo   *repositories.AuditRepo
	publisher   events.Publisher
	log         *zap.Logger
}

func NewDisputeService(
	disputeRepo *repositories.DisputeRepo,
	bookings *BookingService,
	escrows *EscrowService,
	auditRepo *repositories.AuditRepo,
	publisher events.Publisher,
	log *zap.Logger,
) *DisputeService {
	return &DisputeService{
		disputeRepo: disputeRepo,
		bookings:    bookings,
		escrows:     escrows,
		auditRepo:   auditRepo,
		publisher:   publisher,
		log:         log,
	}
}

// OpenDispute is allowed only against a booking in completed or disputed
// status; it moves the booking to disputed.
func (s *DisputeService) OpenDispute(ctx context.Context, bookingID uuid.UUID, reason string, evidenceRef *string, actor *string) (*models.Dispute, error) {
	if reason == "" {
		return nil, &errs.ValidationError{Field: "reason", Reason: "is required"}
	}

	booking, err := s.bookings.GetBooking(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if booking.Status != models.BookingStatusCompleted && booking.Status != models.BookingStatusDisputed {
		return nil, &errs.InvalidStateError{
			EntityType: "booking",
			EntityID:   bookingID.String(),
			Status:     booking.Status,
			Attempted:  "open_dispute",
		}
	}

	dispute := &models.Dispute{
		ID:          uuid.New(),
		BookingID:   bookingID,
		Reason:      reason,
		EvidenceRef: evidenceRef,
		Status:      models.DisputeStatusOpen,
		CreatedAt:   time.Now().UTC(),
	}
	if err := s.disputeRepo.Create(ctx, dispute); err != nil {
		return nil, err
	}

	if booking.Status == models.BookingStatusCompleted {
		if _, err := s.bookings.MarkDisputed(ctx, bookingID, actor); err != nil {
			return nil, err
		}
	}

	_ = s.auditRepo.Log(ctx, models.AuditLog{
		ActorIdentity: actor,
		ActorType:     "client",
		Action:        "dispute_opened",
		EntityType:    "dispute",
		EntityID:      &dispute.ID,
		Meta:          map[string]any{"booking_id": bookingID.String(), "reason": reason},
	})

	_ = s.publisher.Publish(ctx, events.StreamMarketplace, events.Event{
		Type: events.EventDisputeOpened,
		Payload: map[string]any{
			"dispute_id": dispute.ID.String(),
			"booking_id": bookingID.String(),
		},
	})

	return dispute, nil
}

func (s *DisputeService) GetDispute(ctx context.Context, id uuid.UUID) (*models.Dispute, error) {
	return s.disputeRepo.GetByID(ctx, id)
}

func (s *DisputeService) ListByBooking(ctx context.Context, bookingID uuid.UUID) ([]models.Dispute, error) {
	return s.disputeRepo.ListByBooking(ctx, bookingID)
}

// Resolve maps the resolution onto the escrow: full_refund -> Refund(100),
// partial_refund -> Refund(pct), no_refund -> Release. The escrow's own
// pending-guard makes concurrent resolutions safe: the loser surfaces as
// EscrowNotPendingError.
func (s *DisputeService) Resolve(ctx context.Context, disputeID uuid.UUID, resolution string, pct int, notes string, actor *string) (*models.Dispute, error) {
	if !models.IsValidResolution(resolution) {
		return nil, &errs.ValidationError{Field: "resolution", Reason: "must be full_refund, partial_refund or no_refund"}
	}
	if resolution == models.ResolutionPartialRefund && (pct <= 0 || pct >= 100) {
		return nil, &errs.ValidationError{Field: "pct", Reason: "partial refund requires pct in (0, 100)"}
	}

	dispute, err := s.disputeRepo.GetByID(ctx, disputeID)
	if err != nil {
		return nil, err
	}
	if dispute.Status == models.DisputeStatusResolved {
		return nil, &errs.AlreadyResolvedError{DisputeID: disputeID.String()}
	}

	booking, err := s.bookings.GetBooking(ctx, dispute.BookingID)
	if err != nil {
		return nil, err
	}
	if booking.EscrowID == nil {
		return nil, &errs.InvalidStateError{
			EntityType: "booking",
			EntityID:   booking.ID.String(),
			Status:     booking.Status,
			Attempted:  "resolve_dispute",
		}
	}

	escrow, err := s.escrows.GetEscrow(ctx, *booking.EscrowID)
	if err != nil {
		return nil, err
	}
	if escrow.Status != models.EscrowStatusPending {
		return nil, &errs.EscrowNotPendingError{EscrowID: escrow.ID.String(), Status: escrow.Status}
	}

	// Settle the escrow first: its pending-guard is the point where a
	// concurrent resolution of the same dispute loses.
	reason := "dispute " + disputeID.String() + " resolved: " + resolution
	switch resolution {
	case models.ResolutionFullRefund:
		pct = 100
		_, err = s.escrows.Refund(ctx, escrow.ID, 100, reason)
	case models.ResolutionPartialRefund:
		_, err = s.escrows.Refund(ctx, escrow.ID, pct, reason)
	case models.ResolutionNoRefund:
		_, err = s.escrows.Release(ctx, escrow.ID, reason)
	}
	if err != nil {
		var invalid *errs.InvalidStateError
		if errors.As(err, &invalid) && invalid.EntityType == "escrow" {
			return nil, &errs.EscrowNotPendingError{EscrowID: escrow.ID.String(), Status: invalid.Status}
		}
		return nil, err
	}

	now := time.Now().UTC()
	dispute.Resolution = &resolution
	if resolution == models.ResolutionPartialRefund {
		dispute.RefundPct = &pct
	}
	if notes != "" {
		dispute.Notes = &notes
	}
	dispute.Status = models.DisputeStatusResolved
	dispute.ResolvedAt = &now
	ok, current, err := s.disputeRepo.UpdateIfStatus(ctx, dispute, models.DisputeStatusOpen)
	if err != nil {
		return nil, err
	}
	if !ok {
		s.log.Warn("dispute record already resolved after escrow settlement",
			zap.String("dispute_id", disputeID.String()),
			zap.String("status", current.Status))
		return nil, &errs.AlreadyResolvedError{DisputeID: disputeID.String()}
	}

	// Land the booking's final status.
	if resolution == models.ResolutionNoRefund {
		_, err = s.bookings.MarkCompletedAfterDispute(ctx, booking.ID, actor)
	} else {
		_, err = s.bookings.MarkRefunded(ctx, booking.ID, actor)
	}
	if err != nil {
		return nil, err
	}

	_ = s.auditRepo.Log(ctx, models.AuditLog{
		ActorIdentity: actor,
		ActorType:     "operator",
		Action:        "dispute_resolved",
		EntityType:    "dispute",
		EntityID:      &dispute.ID,
		Meta:          map[string]any{"resolution": resolution, "refund_pct": pct},
	})

	_ = s.publisher.Publish(ctx, events.StreamMarketplace, events.Event{
		Type: events.EventDisputeResolved,
		Payload: map[string]any{
			"dispute_id": dispute.ID.String(),
			"booking_id": booking.ID.String(),
			"resolution": resolution,
		},
	})

	return dispute, nil
}
