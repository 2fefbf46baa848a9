package services

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/session-market/backend/internal/errs"
	"github.com/session-market/backend/internal/events"
	"github.com/session-market/backend/internal/models"
	"github.com/session-market/backend/internal/payment"
	"github.com/session-market/backend/internal/repositories"
	"go.uber.org/zap"
)

// RegistryService owns the Service entity lifecycle. MarkBooked is the
// compare-and-swap point guarding the at-most-one-booking-per-service
// invariant.
type RegistryService struct {
	serviceRepo *repositories.ServiceRepo
	auditRepo   *repositories.AuditRepo
	publisher   events.Publisher
	log         *zap.Logger
}

func NewRegistryService(
	serviceRepo *repositories.ServiceRepo,
	auditRepo *repositories.AuditRepo,
	publisher events.Publisher,
	log *zap.Logger,
) *RegistryService {
	return &RegistryService{
		serviceRepo: serviceRepo,
		auditRepo:   auditRepo,
		publisher:   publisher,
		log:         log,
	}
}

func (s *RegistryService) CreateService(ctx context.Context, providerIdentity, serviceType, priceTON string, windowStart, windowEnd time.Time) (*models.Service, error) {
	if providerIdentity == "" {
		return nil, &errs.ValidationError{Field: "provider_identity", Reason: "is required"}
	}
	if !payment.IsPositive(priceTON) {
		return nil, &errs.ValidationError{Field: "price_ton", Reason: "must be a positive amount"}
	}
	if !windowEnd.After(windowStart) {
		return nil, &errs.ValidationError{Field: "window_end", Reason: "must be after window_start"}
	}

	now := time.Now().UTC()
	svc := &models.Service{
		ID:               uuid.New(),
		ProviderIdentity: providerIdentity,
		ServiceType:      serviceType,
		PriceTON:         priceTON,
		WindowStart:      windowStart,
		WindowEnd:        windowEnd,
		Status:           models.ServiceStatusAvailable,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	if err := s.serviceRepo.Create(ctx, svc); err != nil {
		return nil, err
	}

	_ = s.auditRepo.Log(ctx, models.AuditLog{
		ActorIdentity: &providerIdentity,
		ActorType:     "provider",
		Action:        "service_created",
		EntityType:    "service",
		EntityID:      &svc.ID,
		Meta:          map[string]any{"price_ton": priceTON, "service_type": serviceType},
	})

	return svc, nil
}

// ListServices returns only available services matching the filter. Pure
// read, no side effects.
func (s *RegistryService) ListServices(ctx context.Context, f repositories.ServiceFilter) ([]models.Service, error) {
	available := models.ServiceStatusAvailable
	f.Status = &available
	return s.serviceRepo.List(ctx, f)
}

func (s *RegistryService) GetService(ctx context.Context, id uuid.UUID) (*models.Service, error) {
	return s.serviceRepo.GetByID(ctx, id)
}

// MarkBooked claims the service for a booking. It is a single atomic
// read-modify-write: the write lands only if the stored status is still
// available, so concurrent claims produce exactly one winner.
func (s *RegistryService) MarkBooked(ctx context.Context, serviceID uuid.UUID) (*models.Service, error) {
	svc, err := s.serviceRepo.GetByID(ctx, serviceID)
	if err != nil {
		return nil, err
	}
	if svc.Status != models.ServiceStatusAvailable {
		return nil, &errs.ConflictError{
			EntityType: "service",
			EntityID:   serviceID.String(),
			Status:     svc.Status,
			Expected:   models.ServiceStatusAvailable,
		}
	}
	return s.transition(ctx, svc, models.ServiceStatusBooked)
}

func (s *RegistryService) MarkCompleted(ctx context.Context, serviceID uuid.UUID) (*models.Service, error) {
	svc, err := s.serviceRepo.GetByID(ctx, serviceID)
	if err != nil {
		return nil, err
	}
	if svc.Status != models.ServiceStatusBooked {
		return nil, &errs.InvalidStateError{
			EntityType: "service",
			EntityID:   serviceID.String(),
			Status:     svc.Status,
			Attempted:  models.ServiceStatusCompleted,
		}
	}
	return s.transition(ctx, svc, models.ServiceStatusCompleted)
}

func (s *RegistryService) MarkCancelled(ctx context.Context, serviceID uuid.UUID) (*models.Service, error) {
	svc, err := s.serviceRepo.GetByID(ctx, serviceID)
	if err != nil {
		return nil, err
	}
	if !models.IsValidServiceTransition(svc.Status, models.ServiceStatusCancelled) {
		return nil, &errs.InvalidStateError{
			EntityType: "service",
			EntityID:   serviceID.String(),
			Status:     svc.Status,
			Attempted:  models.ServiceStatusCancelled,
		}
	}
	return s.transition(ctx, svc, models.ServiceStatusCancelled)
}

// transition performs the conditional write and records audit + event. The
// write is conditioned on the status the caller just observed; losing the
// race surfaces as ConflictError with the current record's status.
func (s *RegistryService) transition(ctx context.Context, svc *models.Service, newStatus string) (*models.Service, error) {
	if !models.IsValidServiceTransition(svc.Status, newStatus) {
		return nil, &errs.InvalidStateError{
			EntityType: "service",
			EntityID:   svc.ID.String(),
			Status:     svc.Status,
			Attempted:  newStatus,
		}
	}

	oldStatus := svc.Status
	svc.Status = newStatus
	ok, current, err := s.serviceRepo.UpdateIfStatus(ctx, svc, oldStatus)
	if err != nil {
		return nil, err
	}
	if !ok {
		svc.Status = oldStatus
		return nil, &errs.ConflictError{
			EntityType: "service",
			EntityID:   svc.ID.String(),
			Status:     current.Status,
			Expected:   oldStatus,
		}
	}

	_ = s.auditRepo.Log(ctx, models.AuditLog{
		ActorType:  "system",
		Action:     "service_status_" + oldStatus + "_to_" + newStatus,
		EntityType: "service",
		EntityID:   &svc.ID,
		Meta:       map[string]any{"old_status": oldStatus, "new_status": newStatus},
	})

	_ = s.publisher.Publish(ctx, events.StreamMarketplace, events.Event{
		Type: events.EventServiceStatusChanged,
		Payload: map[string]any{
			"service_id": svc.ID.String(),
			"old_status": oldStatus,
			"new_status": newStatus,
		},
	})

	return svc, nil
}
