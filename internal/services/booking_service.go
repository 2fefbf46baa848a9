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

// BookingService owns the Booking entity lifecycle and binds each booking
// to exactly one service.
type BookingService struct {
	bookingRepo *repositories.BookingRepo
	registry    *RegistryService
	auditRepo   *repositories.AuditRepo
	publisher   events.Publisher
	log         *zap.Logger
}

func NewBookingService(
	bookingRepo *repositories.BookingRepo,
	registry *RegistryService,
	auditRepo *repositories.AuditRepo,
	publisher events.Publisher,
	log *zap.Logger,
) *BookingService {
	return &BookingService{
		bookingRepo: bookingRepo,
		registry:    registry,
		auditRepo:   auditRepo,
		publisher:   publisher,
		log:         log,
	}
}

// CreateBooking claims the service first, then persists the booking. Two
// concurrent attempts against the same service race at the registry's
// compare-and-swap: exactly one gets a booking, the other a
// ServiceUnavailableError. A crash after the claim but before the booking
// write leaves a booked service without a booking; a re-run then fails
// cleanly here rather than corrupting state, and the claim is released by
// an operator cancelling the service.
func (s *BookingService) CreateBooking(ctx context.Context, serviceID uuid.UUID, clientIdentity string, notes *string) (*models.Booking, error) {
	if clientIdentity == "" {
		return nil, &errs.ValidationError{Field: "client_identity", Reason: "is required"}
	}

	if _, err := s.registry.GetService(ctx, serviceID); err != nil {
		return nil, err
	}

	if _, err := s.registry.MarkBooked(ctx, serviceID); err != nil {
		var conflict *errs.ConflictError
		if errors.As(err, &conflict) {
			return nil, &errs.ServiceUnavailableError{ServiceID: serviceID.String(), Status: conflict.Status}
		}
		return nil, err
	}

	now := time.Now().UTC()
	booking := &models.Booking{
		ID:             uuid.New(),
		ServiceID:      serviceID,
		ClientIdentity: clientIdentity,
		Status:         models.BookingStatusPending,
		Notes:          notes,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.bookingRepo.Create(ctx, booking); err != nil {
		return nil, err
	}

	_ = s.auditRepo.Log(ctx, models.AuditLog{
		ActorIdentity: &clientIdentity,
		ActorType:     "client",
		Action:        "booking_created",
		EntityType:    "booking",
		EntityID:      &booking.ID,
		Meta:          map[string]any{"service_id": serviceID.String()},
	})

	// No separate approval step: confirm immediately after the claim.
	if err := s.transition(ctx, booking, models.BookingStatusConfirmed, nil, "system"); err != nil {
		return nil, err
	}

	return booking, nil
}

func (s *BookingService) GetBooking(ctx context.Context, id uuid.UUID) (*models.Booking, error) {
	return s.bookingRepo.GetByID(ctx, id)
}

func (s *BookingService) ListBookings(ctx context.Context, f repositories.BookingFilter) ([]models.Booking, error) {
	return s.bookingRepo.List(ctx, f)
}

// SetEscrowID links the booking to its escrow. The link is set at most
// once and never cleared.
func (s *BookingService) SetEscrowID(ctx context.Context, bookingID, escrowID uuid.UUID) (*models.Booking, error) {
	b, err := s.bookingRepo.GetByID(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if b.EscrowID != nil {
		if *b.EscrowID == escrowID {
			return b, nil
		}
		return nil, &errs.InvalidStateError{
			EntityType: "booking",
			EntityID:   bookingID.String(),
			Status:     b.Status,
			Attempted:  "set_escrow_id",
		}
	}

	b.EscrowID = &escrowID
	ok, current, err := s.bookingRepo.UpdateIfStatus(ctx, b, b.Status)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, &errs.ConflictError{
			EntityType: "booking",
			EntityID:   bookingID.String(),
			Status:     current.Status,
			Expected:   b.Status,
		}
	}
	return b, nil
}

// RecordSessionDelivery attaches the delivered session reference once the
// meeting has concluded.
func (s *BookingService) RecordSessionDelivery(ctx context.Context, bookingID uuid.UUID, sessionRef string) (*models.Booking, error) {
	if sessionRef == "" {
		return nil, &errs.ValidationError{Field: "session_ref", Reason: "is required"}
	}

	b, err := s.bookingRepo.GetByID(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if b.Status != models.BookingStatusConfirmed {
		return nil, &errs.InvalidStateError{
			EntityType: "booking",
			EntityID:   bookingID.String(),
			Status:     b.Status,
			Attempted:  "record_session_delivery",
		}
	}
	if b.SessionRef != nil && *b.SessionRef != sessionRef {
		return nil, &errs.InvalidStateError{
			EntityType: "booking",
			EntityID:   bookingID.String(),
			Status:     b.Status,
			Attempted:  "record_session_delivery",
		}
	}

	b.SessionRef = &sessionRef
	ok, current, err := s.bookingRepo.UpdateIfStatus(ctx, b, b.Status)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, &errs.ConflictError{
			EntityType: "booking",
			EntityID:   bookingID.String(),
			Status:     current.Status,
			Expected:   b.Status,
		}
	}

	_ = s.auditRepo.Log(ctx, models.AuditLog{
		ActorType:  "system",
		Action:     "session_recorded",
		EntityType: "booking",
		EntityID:   &b.ID,
		Meta:       map[string]any{"session_ref": sessionRef},
	})

	return b, nil
}

// CompleteBooking is the fan-out point into payment release (success) or
// dispute handling (failure). It also marks the backing service completed.
func (s *BookingService) CompleteBooking(ctx context.Context, bookingID uuid.UUID, outcome string, notes *string) (*models.Booking, error) {
	if outcome != models.BookingOutcomeSuccess && outcome != models.BookingOutcomeFailure {
		return nil, &errs.ValidationError{Field: "outcome", Reason: "must be success or failure"}
	}

	b, err := s.bookingRepo.GetByID(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if b.Status != models.BookingStatusConfirmed {
		return nil, &errs.InvalidStateError{
			EntityType: "booking",
			EntityID:   bookingID.String(),
			Status:     b.Status,
			Attempted:  "complete",
		}
	}

	newStatus := models.BookingStatusCompleted
	if outcome == models.BookingOutcomeFailure {
		newStatus = models.BookingStatusDisputed
	}
	if notes != nil {
		b.Notes = notes
	}
	if err := s.transition(ctx, b, newStatus, nil, "system"); err != nil {
		return nil, err
	}

	// The service completes regardless of outcome: delivery happened. A
	// service already past booked (crash re-run) is fine.
	if _, err := s.registry.MarkCompleted(ctx, b.ServiceID); err != nil {
		var invalid *errs.InvalidStateError
		if !errors.As(err, &invalid) {
			return nil, err
		}
		s.log.Warn("service not in booked during booking completion",
			zap.String("service_id", b.ServiceID.String()),
			zap.String("status", invalid.Status))
	}

	return b, nil
}

// MarkRefunded and MarkCompletedAfterDispute are invoked by the dispute
// resolver to land the booking's final status.
func (s *BookingService) MarkRefunded(ctx context.Context, bookingID uuid.UUID, actor *string) (*models.Booking, error) {
	b, err := s.bookingRepo.GetByID(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if err := s.transition(ctx, b, models.BookingStatusRefunded, actor, "operator"); err != nil {
		return nil, err
	}
	return b, nil
}

func (s *BookingService) MarkCompletedAfterDispute(ctx context.Context, bookingID uuid.UUID, actor *string) (*models.Booking, error) {
	b, err := s.bookingRepo.GetByID(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if err := s.transition(ctx, b, models.BookingStatusCompleted, actor, "operator"); err != nil {
		return nil, err
	}
	return b, nil
}

func (s *BookingService) MarkDisputed(ctx context.Context, bookingID uuid.UUID, actor *string) (*models.Booking, error) {
	b, err := s.bookingRepo.GetByID(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if b.Status == models.BookingStatusDisputed {
		return b, nil
	}
	if err := s.transition(ctx, b, models.BookingStatusDisputed, actor, "client"); err != nil {
		return nil, err
	}
	return b, nil
}

// transition validates and performs a status transition with audit logging
// and event publication. The conditional write is keyed on the status the
// caller observed.
func (s *BookingService) transition(ctx context.Context, b *models.Booking, newStatus string, actor *string, actorType string) error {
	if !models.IsValidBookingTransition(b.Status, newStatus) {
		return &errs.InvalidStateError{
			EntityType: "booking",
			EntityID:   b.ID.String(),
			Status:     b.Status,
			Attempted:  newStatus,
		}
	}

	oldStatus := b.Status
	b.Status = newStatus
	ok, current, err := s.bookingRepo.UpdateIfStatus(ctx, b, oldStatus)
	if err != nil {
		return err
	}
	if !ok {
		b.Status = oldStatus
		return &errs.ConflictError{
			EntityType: "booking",
			EntityID:   b.ID.String(),
			Status:     current.Status,
			Expected:   oldStatus,
		}
	}

	_ = s.auditRepo.Log(ctx, models.AuditLog{
		ActorIdentity: actor,
		ActorType:     actorType,
		Action:        "booking_status_" + oldStatus + "_to_" + newStatus,
		EntityType:    "booking",
		EntityID:      &b.ID,
		Meta:          map[string]any{"old_status": oldStatus, "new_status": newStatus},
	})

	_ = s.publisher.Publish(ctx, events.StreamMarketplace, events.Event{
		Type: events.EventBookingStatusChanged,
		Payload: map[string]any{
			"booking_id": b.ID.String(),
			"old_status": oldStatus,
			"new_status": newStatus,
		},
	})

	return nil
}
