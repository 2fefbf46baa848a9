package services

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/session-market/backend/internal/config"
	"github.com/session-market/backend/internal/models"
	"github.com/session-market/backend/internal/quality"
	"github.com/session-market/backend/internal/repositories"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// WorkflowService sequences registry -> booking -> escrow -> quality gate
// -> release/dispute. It holds no state of its own: every step is a
// durable transition recorded by the owning component, so after a crash
// the sweeps resume from current entity status instead of replaying.
type WorkflowService struct {
	registry *RegistryService
	bookings *BookingService
	escrows  *EscrowService
	disputes *DisputeService
	oracle   quality.Oracle
	cfg      *config.Config
	log      *zap.Logger
}

func NewWorkflowService(
	registry *RegistryService,
	bookings *BookingService,
	escrows *EscrowService,
	disputes *DisputeService,
	oracle quality.Oracle,
	cfg *config.Config,
	log *zap.Logger,
) *WorkflowService {
	return &WorkflowService{
		registry: registry,
		bookings: bookings,
		escrows:  escrows,
		disputes: disputes,
		oracle:   oracle,
		cfg:      cfg,
		log:      log,
	}
}

// BookService claims the service, persists the booking, opens the escrow
// and funds it. On FundingFailedError the booking and its funding_rejected
// escrow are returned along with the error: the booking stays confirmed
// but unfunded, pending manual intervention.
func (s *WorkflowService) BookService(ctx context.Context, serviceID uuid.UUID, clientIdentity string, notes *string) (*models.Booking, *models.Escrow, error) {
	svc, err := s.registry.GetService(ctx, serviceID)
	if err != nil {
		return nil, nil, err
	}

	booking, err := s.bookings.CreateBooking(ctx, serviceID, clientIdentity, notes)
	if err != nil {
		return nil, nil, err
	}

	escrow, escrowErr := s.escrows.OpenEscrow(ctx, booking.ID, svc.PriceTON,
		clientIdentity, s.cfg.CustodianWalletAddress, svc.ProviderIdentity)

	// Even a funding_rejected escrow is THE escrow for this booking: link
	// it before surfacing the funding error so a later read can find it.
	if escrow != nil {
		if booking, err = s.bookings.SetEscrowID(ctx, booking.ID, escrow.ID); err != nil {
			return nil, nil, err
		}
	}
	if escrowErr != nil {
		return booking, escrow, escrowErr
	}

	return booking, escrow, nil
}

// RecordSession attaches the delivered session reference to the booking.
func (s *WorkflowService) RecordSession(ctx context.Context, bookingID uuid.UUID, sessionRef string) (*models.Booking, error) {
	return s.bookings.RecordSessionDelivery(ctx, bookingID, sessionRef)
}

type GateResult struct {
	BookingID uuid.UUID        `json:"booking_id"`
	Verdict   *quality.Verdict `json:"verdict"`
	Released  bool             `json:"released"`
	Dispute   *models.Dispute  `json:"dispute,omitempty"`
}

// RunQualityGate queries the oracle for the booking's recorded session and
// either completes the booking and releases the escrow, or routes the
// booking into a dispute. The pass threshold is a configuration input;
// when unset the oracle's own verdict decides.
func (s *WorkflowService) RunQualityGate(ctx context.Context, bookingID uuid.UUID) (*GateResult, error) {
	booking, err := s.bookings.GetBooking(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if booking.SessionRef == nil {
		return nil, fmt.Errorf("booking %s has no recorded session", bookingID)
	}
	if booking.EscrowID == nil {
		return nil, fmt.Errorf("booking %s has no escrow", bookingID)
	}
	escrow, err := s.escrows.GetEscrow(ctx, *booking.EscrowID)
	if err != nil {
		return nil, err
	}
	if escrow.Status != models.EscrowStatusPending || escrow.FundingReceipt == nil {
		return nil, fmt.Errorf("escrow %s is not funded and pending (status %s)", escrow.ID, escrow.Status)
	}

	oracleCtx, cancel := context.WithTimeout(ctx, s.cfg.ExternalCallTimeout)
	defer cancel()
	verdict, err := s.oracle.Evaluate(oracleCtx, *booking.SessionRef)
	if err != nil {
		// Unknown outcome: leave everything as-is, the sweep retries.
		return nil, fmt.Errorf("evaluate session %s: %w", *booking.SessionRef, err)
	}

	passed := verdict.Passed
	if s.cfg.QualityPassThreshold > 0 {
		passed = verdict.Score >= float64(s.cfg.QualityPassThreshold)
	}

	result := &GateResult{BookingID: bookingID, Verdict: verdict}
	if passed {
		if _, err := s.bookings.CompleteBooking(ctx, bookingID, models.BookingOutcomeSuccess, nil); err != nil {
			return nil, err
		}
		if _, err := s.escrows.Release(ctx, escrow.ID, fmt.Sprintf("quality gate passed (score %.1f)", verdict.Score)); err != nil {
			return nil, err
		}
		result.Released = true
		return result, nil
	}

	if _, err := s.bookings.CompleteBooking(ctx, bookingID, models.BookingOutcomeFailure, nil); err != nil {
		return nil, err
	}
	dispute, err := s.disputes.OpenDispute(ctx, bookingID,
		fmt.Sprintf("quality gate failed (score %.1f)", verdict.Score), booking.SessionRef, nil)
	if err != nil {
		return nil, err
	}
	result.Dispute = dispute
	return result, nil
}

// ResolveDispute is the orchestrator's passthrough to the dispute resolver.
func (s *WorkflowService) ResolveDispute(ctx context.Context, disputeID uuid.UUID, resolution string, pct int, notes string, actor *string) (*models.Dispute, error) {
	return s.disputes.Resolve(ctx, disputeID, resolution, pct, notes, actor)
}

// SweepQualityGates runs the quality gate for every confirmed booking with
// a recorded session and a funded pending escrow. Used by the worker; safe
// to run concurrently with API callers because every transition is a
// conditional write.
func (s *WorkflowService) SweepQualityGates(ctx context.Context) error {
	confirmed := models.BookingStatusConfirmed
	bookings, err := s.bookings.ListBookings(ctx, repositories.BookingFilter{Status: &confirmed})
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for _, b := range bookings {
		if b.SessionRef == nil || b.EscrowID == nil {
			continue
		}
		b := b
		g.Go(func() error {
			if _, err := s.RunQualityGate(gctx, b.ID); err != nil {
				s.log.Warn("quality gate sweep item failed",
					zap.String("booking_id", b.ID.String()), zap.Error(err))
			}
			return nil
		})
	}
	return g.Wait()
}

// SweepStalledReleases resumes bookings that completed the quality gate
// but crashed before the escrow release landed: booking completed, escrow
// still funded and pending, no open dispute.
func (s *WorkflowService) SweepStalledReleases(ctx context.Context) error {
	completed := models.BookingStatusCompleted
	bookings, err := s.bookings.ListBookings(ctx, repositories.BookingFilter{Status: &completed})
	if err != nil {
		return err
	}

	for _, b := range bookings {
		if b.EscrowID == nil {
			continue
		}
		escrow, err := s.escrows.GetEscrow(ctx, *b.EscrowID)
		if err != nil {
			s.log.Warn("stalled release sweep: escrow lookup failed",
				zap.String("booking_id", b.ID.String()), zap.Error(err))
			continue
		}
		if escrow.Status != models.EscrowStatusPending || escrow.FundingReceipt == nil {
			continue
		}
		disputes, err := s.disputes.ListByBooking(ctx, b.ID)
		if err != nil {
			s.log.Warn("stalled release sweep: dispute lookup failed",
				zap.String("booking_id", b.ID.String()), zap.Error(err))
			continue
		}
		if len(disputes) > 0 {
			continue
		}
		if _, err := s.escrows.Release(ctx, escrow.ID, "resumed release after completed quality gate"); err != nil {
			s.log.Warn("stalled release failed",
				zap.String("escrow_id", escrow.ID.String()), zap.Error(err))
		} else {
			s.log.Info("resumed stalled release",
				zap.String("booking_id", b.ID.String()),
				zap.String("escrow_id", escrow.ID.String()))
		}
	}
	return nil
}
