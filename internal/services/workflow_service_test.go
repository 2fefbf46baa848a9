package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/session-market/backend/internal/errs"
	"github.com/session-market/backend/internal/models"
)

func TestBookService_HappyPath(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	svc := env.createService(t, "10")

	booking, escrow, err := env.workflow.BookService(ctx, svc.ID, testClient, nil)
	if err != nil {
		t.Fatalf("book service: %v", err)
	}

	if booking.Status != models.BookingStatusConfirmed {
		t.Errorf("booking status = %s, want confirmed", booking.Status)
	}
	if booking.EscrowID == nil || *booking.EscrowID != escrow.ID {
		t.Error("booking not linked to its escrow")
	}
	if escrow.Status != models.EscrowStatusPending {
		t.Errorf("escrow status = %s, want pending", escrow.Status)
	}
	if escrow.FundingReceipt == nil {
		t.Error("funded escrow has no funding receipt")
	}
	if escrow.AmountTON != "10" {
		t.Errorf("escrow amount = %s, want 10", escrow.AmountTON)
	}
	if escrow.PayerIdentity != testClient || escrow.PayeeIdentity != testProvider {
		t.Errorf("escrow parties = %s -> %s", escrow.PayerIdentity, escrow.PayeeIdentity)
	}

	got, err := env.registry.GetService(ctx, svc.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != models.ServiceStatusBooked {
		t.Errorf("service status = %s, want booked", got.Status)
	}
}

func TestBookService_FundingFailure(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.rail.failPhase("fund", fmt.Errorf("rail timeout"))
	svc := env.createService(t, "10")

	booking, escrow, err := env.workflow.BookService(ctx, svc.ID, testClient, nil)

	var funding *errs.FundingFailedError
	if !errors.As(err, &funding) {
		t.Fatalf("expected FundingFailedError, got %v", err)
	}
	if booking == nil || escrow == nil {
		t.Fatal("booking and escrow must be returned even on funding failure")
	}
	if booking.Status != models.BookingStatusConfirmed {
		t.Errorf("booking status = %s, want confirmed (unfunded)", booking.Status)
	}
	if booking.EscrowID == nil || *booking.EscrowID != escrow.ID {
		t.Error("rejected escrow must still be linked to the booking")
	}

	got, err := env.escrows.GetEscrow(ctx, escrow.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != models.EscrowStatusFundingRejected {
		t.Errorf("escrow status = %s, want funding_rejected", got.Status)
	}
	if got.FundingReceipt != nil {
		t.Error("rejected escrow must not carry a funding receipt")
	}
}

func TestBookService_ConcurrentClaims(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	svc := env.createService(t, "5")

	const n = 10
	var wg sync.WaitGroup
	results := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _, err := env.workflow.BookService(ctx, svc.ID, fmt.Sprintf("EQClient%d", i), nil)
			results <- err
		}(i)
	}
	wg.Wait()
	close(results)

	var wins, losses int
	for err := range results {
		if err == nil {
			wins++
			continue
		}
		var unavailable *errs.ServiceUnavailableError
		if errors.As(err, &unavailable) {
			losses++
			continue
		}
		t.Errorf("unexpected error: %v", err)
	}
	if wins != 1 {
		t.Errorf("wins = %d, want exactly 1", wins)
	}
	if losses != n-1 {
		t.Errorf("losses = %d, want %d", losses, n-1)
	}

	bookings, err := env.bookings.ListBookings(ctx, bookingFilterForService(svc.ID))
	if err != nil {
		t.Fatal(err)
	}
	if len(bookings) != 1 {
		t.Errorf("bookings for service = %d, want 1", len(bookings))
	}
}

func TestBookService_UnknownService(t *testing.T) {
	env := newTestEnv(t)

	_, _, err := env.workflow.BookService(context.Background(), newUUID(t), testClient, nil)
	var notFound *errs.NotFoundError
	if !errors.As(err, &notFound) {
		t.Fatalf("expected NotFoundError, got %v", err)
	}
}

func TestRunQualityGate_Pass(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	svc := env.createService(t, "10")
	booking, escrow, err := env.workflow.BookService(ctx, svc.ID, testClient, nil)
	if err != nil {
		t.Fatal(err)
	}

	if _, err := env.workflow.RecordSession(ctx, booking.ID, "session-abc"); err != nil {
		t.Fatalf("record session: %v", err)
	}
	env.oracle.score("session-abc", 85, true)

	result, err := env.workflow.RunQualityGate(ctx, booking.ID)
	if err != nil {
		t.Fatalf("quality gate: %v", err)
	}
	if !result.Released {
		t.Error("expected gate to release the escrow")
	}
	if result.Dispute != nil {
		t.Error("passing gate must not open a dispute")
	}

	gotBooking, _ := env.bookings.GetBooking(ctx, booking.ID)
	if gotBooking.Status != models.BookingStatusCompleted {
		t.Errorf("booking status = %s, want completed", gotBooking.Status)
	}
	gotEscrow, _ := env.escrows.GetEscrow(ctx, escrow.ID)
	if gotEscrow.Status != models.EscrowStatusReleased {
		t.Errorf("escrow status = %s, want released", gotEscrow.Status)
	}
	if gotEscrow.SettledAmountTON == nil || *gotEscrow.SettledAmountTON != "10" {
		t.Errorf("settled amount = %v, want 10", gotEscrow.SettledAmountTON)
	}

	payouts := env.rail.callsTo(testProvider)
	if len(payouts) != 1 || payouts[0].AmountTON != "10" {
		t.Errorf("provider payouts = %+v, want one transfer of 10", payouts)
	}

	gotService, _ := env.registry.GetService(ctx, svc.ID)
	if gotService.Status != models.ServiceStatusCompleted {
		t.Errorf("service status = %s, want completed", gotService.Status)
	}
}

func TestRunQualityGate_ThresholdOverridesOracle(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	svc := env.createService(t, "10")
	booking, _, err := env.workflow.BookService(ctx, svc.ID, testClient, nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := env.workflow.RecordSession(ctx, booking.ID, "session-low"); err != nil {
		t.Fatal(err)
	}

	// Oracle says pass, but the score is below the configured threshold.
	env.oracle.score("session-low", 65, true)

	result, err := env.workflow.RunQualityGate(ctx, booking.ID)
	if err != nil {
		t.Fatalf("quality gate: %v", err)
	}
	if result.Released {
		t.Error("score below threshold must not release")
	}
	if result.Dispute == nil {
		t.Fatal("failing gate must open a dispute")
	}

	gotBooking, _ := env.bookings.GetBooking(ctx, booking.ID)
	if gotBooking.Status != models.BookingStatusDisputed {
		t.Errorf("booking status = %s, want disputed", gotBooking.Status)
	}
}

func TestRunQualityGate_OracleVerdictWhenThresholdDisabled(t *testing.T) {
	env := newTestEnv(t)
	env.cfg.QualityPassThreshold = 0
	ctx := context.Background()
	svc := env.createService(t, "10")
	booking, escrow, err := env.workflow.BookService(ctx, svc.ID, testClient, nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := env.workflow.RecordSession(ctx, booking.ID, "session-low"); err != nil {
		t.Fatal(err)
	}

	env.oracle.score("session-low", 65, true)

	result, err := env.workflow.RunQualityGate(ctx, booking.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !result.Released {
		t.Error("with threshold disabled the oracle verdict decides")
	}
	gotEscrow, _ := env.escrows.GetEscrow(ctx, escrow.ID)
	if gotEscrow.Status != models.EscrowStatusReleased {
		t.Errorf("escrow status = %s, want released", gotEscrow.Status)
	}
}

func TestRunQualityGate_OracleErrorLeavesStateUntouched(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	svc := env.createService(t, "10")
	booking, escrow, err := env.workflow.BookService(ctx, svc.ID, testClient, nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := env.workflow.RecordSession(ctx, booking.ID, "session-x"); err != nil {
		t.Fatal(err)
	}
	env.oracle.err = fmt.Errorf("oracle down")

	if _, err := env.workflow.RunQualityGate(ctx, booking.ID); err == nil {
		t.Fatal("expected error when the oracle is unavailable")
	}

	gotBooking, _ := env.bookings.GetBooking(ctx, booking.ID)
	if gotBooking.Status != models.BookingStatusConfirmed {
		t.Errorf("booking status = %s, want confirmed (unchanged)", gotBooking.Status)
	}
	gotEscrow, _ := env.escrows.GetEscrow(ctx, escrow.ID)
	if gotEscrow.Status != models.EscrowStatusPending {
		t.Errorf("escrow status = %s, want pending (unchanged)", gotEscrow.Status)
	}

	// Oracle recovers; the retry settles normally.
	env.oracle.err = nil
	env.oracle.score("session-x", 90, true)
	result, err := env.workflow.RunQualityGate(ctx, booking.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !result.Released {
		t.Error("retry after oracle recovery should release")
	}
}

func TestRunQualityGate_RequiresSessionAndFundedEscrow(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	svc := env.createService(t, "10")
	booking, _, err := env.workflow.BookService(ctx, svc.ID, testClient, nil)
	if err != nil {
		t.Fatal(err)
	}

	// No session recorded yet.
	if _, err := env.workflow.RunQualityGate(ctx, booking.ID); err == nil {
		t.Fatal("expected error for booking without a recorded session")
	}
}

func TestSweepQualityGates(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	svcPass := env.createService(t, "10")
	bPass, ePass, err := env.workflow.BookService(ctx, svcPass.ID, testClient, nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := env.workflow.RecordSession(ctx, bPass.ID, "session-pass"); err != nil {
		t.Fatal(err)
	}
	env.oracle.score("session-pass", 95, true)

	svcFail := env.createService(t, "8")
	bFail, eFail, err := env.workflow.BookService(ctx, svcFail.ID, "EQOtherClient", nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := env.workflow.RecordSession(ctx, bFail.ID, "session-fail"); err != nil {
		t.Fatal(err)
	}
	env.oracle.score("session-fail", 20, false)

	// A booking without a session is skipped, not an error.
	svcIdle := env.createService(t, "3")
	if _, _, err := env.workflow.BookService(ctx, svcIdle.ID, "EQIdleClient", nil); err != nil {
		t.Fatal(err)
	}

	if err := env.workflow.SweepQualityGates(ctx); err != nil {
		t.Fatalf("sweep: %v", err)
	}

	gotPass, _ := env.escrows.GetEscrow(ctx, ePass.ID)
	if gotPass.Status != models.EscrowStatusReleased {
		t.Errorf("passing escrow status = %s, want released", gotPass.Status)
	}
	gotFail, _ := env.escrows.GetEscrow(ctx, eFail.ID)
	if gotFail.Status != models.EscrowStatusPending {
		t.Errorf("failing escrow status = %s, want pending (awaiting dispute resolution)", gotFail.Status)
	}
	disputes, _ := env.disputes.ListByBooking(ctx, bFail.ID)
	if len(disputes) != 1 {
		t.Errorf("disputes for failed booking = %d, want 1", len(disputes))
	}
}

func TestSweepStalledReleases(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	svc := env.createService(t, "10")
	booking, escrow, err := env.workflow.BookService(ctx, svc.ID, testClient, nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := env.workflow.RecordSession(ctx, booking.ID, "session-crash"); err != nil {
		t.Fatal(err)
	}

	// Simulate a crash between booking completion and escrow release.
	if _, err := env.bookings.CompleteBooking(ctx, booking.ID, models.BookingOutcomeSuccess, nil); err != nil {
		t.Fatal(err)
	}
	got, _ := env.escrows.GetEscrow(ctx, escrow.ID)
	if got.Status != models.EscrowStatusPending {
		t.Fatalf("precondition: escrow should still be pending, got %s", got.Status)
	}

	if err := env.workflow.SweepStalledReleases(ctx); err != nil {
		t.Fatalf("sweep: %v", err)
	}

	got, _ = env.escrows.GetEscrow(ctx, escrow.ID)
	if got.Status != models.EscrowStatusReleased {
		t.Errorf("escrow status = %s, want released after resume", got.Status)
	}

	// A second sweep is a no-op.
	if err := env.workflow.SweepStalledReleases(ctx); err != nil {
		t.Fatal(err)
	}
	if env.rail.transferCount() != 2 { // fund + release
		t.Errorf("rail transfers = %d, want 2", env.rail.transferCount())
	}
}
