package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/session-market/backend/internal/errs"
	"github.com/session-market/backend/internal/models"
	"github.com/session-market/backend/internal/repositories"
)

func TestCreateService_Validation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	start := time.Now().UTC().Add(time.Hour)
	end := start.Add(time.Hour)

	var validation *errs.ValidationError

	_, err := env.registry.CreateService(ctx, "", "consultation", "10", start, end)
	if !errors.As(err, &validation) {
		t.Errorf("empty provider: expected ValidationError, got %v", err)
	}
	_, err = env.registry.CreateService(ctx, testProvider, "consultation", "0", start, end)
	if !errors.As(err, &validation) {
		t.Errorf("zero price: expected ValidationError, got %v", err)
	}
	_, err = env.registry.CreateService(ctx, testProvider, "consultation", "-3", start, end)
	if !errors.As(err, &validation) {
		t.Errorf("negative price: expected ValidationError, got %v", err)
	}
	_, err = env.registry.CreateService(ctx, testProvider, "consultation", "10", end, start)
	if !errors.As(err, &validation) {
		t.Errorf("inverted window: expected ValidationError, got %v", err)
	}
	_, err = env.registry.CreateService(ctx, testProvider, "consultation", "10", start, start)
	if !errors.As(err, &validation) {
		t.Errorf("zero-length window: expected ValidationError, got %v", err)
	}
}

func TestCreateService_Defaults(t *testing.T) {
	env := newTestEnv(t)
	svc := env.createService(t, "10")

	if svc.Status != models.ServiceStatusAvailable {
		t.Errorf("status = %s, want available", svc.Status)
	}
	if svc.ProviderIdentity != testProvider {
		t.Errorf("provider = %s, want %s", svc.ProviderIdentity, testProvider)
	}

	got, err := env.registry.GetService(context.Background(), svc.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.ID != svc.ID || got.PriceTON != "10" {
		t.Errorf("round-tripped service = %+v", got)
	}
}

func TestListServices_OnlyAvailable(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	available := env.createService(t, "10")
	booked := env.createService(t, "20")
	if _, _, err := env.workflow.BookService(ctx, booked.ID, testClient, nil); err != nil {
		t.Fatal(err)
	}
	cancelled := env.createService(t, "30")
	if _, err := env.registry.MarkCancelled(ctx, cancelled.ID); err != nil {
		t.Fatal(err)
	}

	listed, err := env.registry.ListServices(ctx, repositories.ServiceFilter{})
	if err != nil {
		t.Fatal(err)
	}
	if len(listed) != 1 {
		t.Fatalf("listed %d services, want 1", len(listed))
	}
	if listed[0].ID != available.ID {
		t.Errorf("listed service = %s, want %s", listed[0].ID, available.ID)
	}
}

func TestListServices_TypeFilter(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.createService(t, "10")
	review, err := env.registry.CreateService(ctx, testProvider, "code-review", "5",
		time.Now().UTC().Add(time.Hour), time.Now().UTC().Add(2*time.Hour))
	if err != nil {
		t.Fatal(err)
	}

	wantType := "code-review"
	listed, err := env.registry.ListServices(ctx, repositories.ServiceFilter{ServiceType: &wantType})
	if err != nil {
		t.Fatal(err)
	}
	if len(listed) != 1 || listed[0].ID != review.ID {
		t.Errorf("filtered list = %+v, want only the code-review service", listed)
	}
}

func TestMarkCancelled_CompletedService(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	svc := env.createService(t, "10")
	if _, _, err := env.workflow.BookService(ctx, svc.ID, testClient, nil); err != nil {
		t.Fatal(err)
	}
	if _, err := env.registry.MarkCompleted(ctx, svc.ID); err != nil {
		t.Fatal(err)
	}

	_, err := env.registry.MarkCancelled(ctx, svc.ID)
	var invalid *errs.InvalidStateError
	if !errors.As(err, &invalid) {
		t.Fatalf("expected InvalidStateError cancelling a completed service, got %v", err)
	}
}

func TestMarkCompleted_RequiresBooked(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	svc := env.createService(t, "10")
	_, err := env.registry.MarkCompleted(ctx, svc.ID)
	var invalid *errs.InvalidStateError
	if !errors.As(err, &invalid) {
		t.Fatalf("expected InvalidStateError completing an unbooked service, got %v", err)
	}
}
