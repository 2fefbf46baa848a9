package services

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/session-market/backend/internal/errs"
	"github.com/session-market/backend/internal/models"
)

// disputedBooking drives a booking through a failed quality gate and
// returns the booking, its escrow and the open dispute.
func disputedBooking(t *testing.T, env *testEnv, priceTON string) (uuid.UUID, uuid.UUID, *models.Dispute) {
	t.Helper()
	ctx := context.Background()

	svc := env.createService(t, priceTON)
	booking, escrow, err := env.workflow.BookService(ctx, svc.ID, testClient, nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := env.workflow.RecordSession(ctx, booking.ID, "session-"+booking.ID.String()); err != nil {
		t.Fatal(err)
	}
	env.oracle.score("session-"+booking.ID.String(), 10, false)

	result, err := env.workflow.RunQualityGate(ctx, booking.ID)
	if err != nil {
		t.Fatal(err)
	}
	if result.Dispute == nil {
		t.Fatal("expected failed gate to open a dispute")
	}
	return booking.ID, escrow.ID, result.Dispute
}

func TestOpenDispute_RequiresDeliveredBooking(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	svc := env.createService(t, "10")
	booking, _, err := env.workflow.BookService(ctx, svc.ID, testClient, nil)
	if err != nil {
		t.Fatal(err)
	}

	// Booking is still confirmed, nothing delivered.
	_, err = env.disputes.OpenDispute(ctx, booking.ID, "no-show", nil, nil)
	var invalid *errs.InvalidStateError
	if !errors.As(err, &invalid) {
		t.Fatalf("expected InvalidStateError, got %v", err)
	}
}

func TestOpenDispute_AgainstCompletedBooking(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	svc := env.createService(t, "10")
	booking, _, err := env.workflow.BookService(ctx, svc.ID, testClient, nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := env.bookings.CompleteBooking(ctx, booking.ID, models.BookingOutcomeSuccess, nil); err != nil {
		t.Fatal(err)
	}

	actor := testClient
	dispute, err := env.disputes.OpenDispute(ctx, booking.ID, "session was cut short", nil, &actor)
	if err != nil {
		t.Fatal(err)
	}
	if dispute.Status != models.DisputeStatusOpen {
		t.Errorf("dispute status = %s, want open", dispute.Status)
	}

	got, _ := env.bookings.GetBooking(ctx, booking.ID)
	if got.Status != models.BookingStatusDisputed {
		t.Errorf("booking status = %s, want disputed", got.Status)
	}
}

func TestResolve_FullRefund(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	bookingID, escrowID, dispute := disputedBooking(t, env, "10")

	operator := "EQOperator"
	resolved, err := env.workflow.ResolveDispute(ctx, dispute.ID, models.ResolutionFullRefund, 0, "provider no-show", &operator)
	if err != nil {
		t.Fatal(err)
	}
	if resolved.Status != models.DisputeStatusResolved {
		t.Errorf("dispute status = %s, want resolved", resolved.Status)
	}
	if resolved.Resolution == nil || *resolved.Resolution != models.ResolutionFullRefund {
		t.Errorf("resolution = %v, want full_refund", resolved.Resolution)
	}

	escrow, _ := env.escrows.GetEscrow(ctx, escrowID)
	if escrow.Status != models.EscrowStatusRefunded {
		t.Errorf("escrow status = %s, want refunded", escrow.Status)
	}
	if escrow.SettledAmountTON == nil || *escrow.SettledAmountTON != "10" {
		t.Errorf("settled amount = %v, want 10", escrow.SettledAmountTON)
	}

	booking, _ := env.bookings.GetBooking(ctx, bookingID)
	if booking.Status != models.BookingStatusRefunded {
		t.Errorf("booking status = %s, want refunded", booking.Status)
	}

	refunds := env.rail.callsTo(testClient)
	if len(refunds) != 1 || refunds[0].AmountTON != "10" {
		t.Errorf("client refunds = %+v, want one transfer of 10", refunds)
	}
}

func TestResolve_PartialRefund(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	bookingID, escrowID, dispute := disputedBooking(t, env, "10")

	operator := "EQOperator"
	resolved, err := env.workflow.ResolveDispute(ctx, dispute.ID, models.ResolutionPartialRefund, 40, "half-delivered", &operator)
	if err != nil {
		t.Fatal(err)
	}
	if resolved.RefundPct == nil || *resolved.RefundPct != 40 {
		t.Errorf("refund pct = %v, want 40", resolved.RefundPct)
	}

	escrow, _ := env.escrows.GetEscrow(ctx, escrowID)
	if escrow.Status != models.EscrowStatusRefunded {
		t.Errorf("escrow status = %s, want refunded", escrow.Status)
	}
	if escrow.SettledAmountTON == nil || *escrow.SettledAmountTON != "4" {
		t.Errorf("settled amount = %v, want 4", escrow.SettledAmountTON)
	}

	booking, _ := env.bookings.GetBooking(ctx, bookingID)
	if booking.Status != models.BookingStatusRefunded {
		t.Errorf("booking status = %s, want refunded", booking.Status)
	}
}

func TestResolve_NoRefund(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	bookingID, escrowID, dispute := disputedBooking(t, env, "10")

	operator := "EQOperator"
	if _, err := env.workflow.ResolveDispute(ctx, dispute.ID, models.ResolutionNoRefund, 0, "claim unfounded", &operator); err != nil {
		t.Fatal(err)
	}

	escrow, _ := env.escrows.GetEscrow(ctx, escrowID)
	if escrow.Status != models.EscrowStatusReleased {
		t.Errorf("escrow status = %s, want released", escrow.Status)
	}
	booking, _ := env.bookings.GetBooking(ctx, bookingID)
	if booking.Status != models.BookingStatusCompleted {
		t.Errorf("booking status = %s, want completed", booking.Status)
	}

	payouts := env.rail.callsTo(testProvider)
	if len(payouts) != 1 || payouts[0].AmountTON != "10" {
		t.Errorf("provider payouts = %+v, want one transfer of 10", payouts)
	}
}

func TestResolve_Validation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	_, _, dispute := disputedBooking(t, env, "10")

	var validation *errs.ValidationError
	if _, err := env.workflow.ResolveDispute(ctx, dispute.ID, "split_the_difference", 0, "", nil); !errors.As(err, &validation) {
		t.Errorf("unknown resolution: expected ValidationError, got %v", err)
	}
	for _, pct := range []int{0, 100, 150} {
		if _, err := env.workflow.ResolveDispute(ctx, dispute.ID, models.ResolutionPartialRefund, pct, "", nil); !errors.As(err, &validation) {
			t.Errorf("pct=%d: expected ValidationError, got %v", pct, err)
		}
	}
}

func TestResolve_Twice(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	_, _, dispute := disputedBooking(t, env, "10")

	if _, err := env.workflow.ResolveDispute(ctx, dispute.ID, models.ResolutionFullRefund, 0, "", nil); err != nil {
		t.Fatal(err)
	}

	_, err := env.workflow.ResolveDispute(ctx, dispute.ID, models.ResolutionNoRefund, 0, "", nil)
	var already *errs.AlreadyResolvedError
	if !errors.As(err, &already) {
		t.Fatalf("expected AlreadyResolvedError, got %v", err)
	}
}

// Two operators resolve the same dispute concurrently with conflicting
// outcomes: the escrow settles exactly once.
func TestResolve_Concurrent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	_, escrowID, dispute := disputedBooking(t, env, "10")

	const n = 10
	var wg sync.WaitGroup
	successes := make(chan string, n)
	for i := 0; i < n; i++ {
		resolution := models.ResolutionFullRefund
		if i%2 == 1 {
			resolution = models.ResolutionNoRefund
		}
		wg.Add(1)
		go func(resolution string) {
			defer wg.Done()
			_, err := env.workflow.ResolveDispute(ctx, dispute.ID, resolution, 0, "", nil)
			if err == nil {
				successes <- resolution
				return
			}
			var already *errs.AlreadyResolvedError
			var notPending *errs.EscrowNotPendingError
			if !errors.As(err, &already) && !errors.As(err, &notPending) {
				t.Errorf("unexpected error: %v", err)
			}
		}(resolution)
	}
	wg.Wait()
	close(successes)

	var winners []string
	for w := range successes {
		winners = append(winners, w)
	}
	if len(winners) != 1 {
		t.Fatalf("resolutions landed = %v, want exactly one", winners)
	}

	escrow, _ := env.escrows.GetEscrow(ctx, escrowID)
	wantEscrow := models.EscrowStatusRefunded
	if winners[0] == models.ResolutionNoRefund {
		wantEscrow = models.EscrowStatusReleased
	}
	if escrow.Status != wantEscrow {
		t.Errorf("escrow status = %s, want %s", escrow.Status, wantEscrow)
	}
}

func TestResolve_EscrowAlreadySettled(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	_, escrowID, dispute := disputedBooking(t, env, "10")

	// An operator settles the escrow out of band.
	if _, err := env.escrows.Release(ctx, escrowID, "manual release"); err != nil {
		t.Fatal(err)
	}

	_, err := env.workflow.ResolveDispute(ctx, dispute.ID, models.ResolutionFullRefund, 0, "", nil)
	var notPending *errs.EscrowNotPendingError
	if !errors.As(err, &notPending) {
		t.Fatalf("expected EscrowNotPendingError, got %v", err)
	}
}
