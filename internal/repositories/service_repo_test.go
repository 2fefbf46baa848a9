package repositories

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/session-market/backend/internal/ledger"
	"github.com/session-market/backend/internal/models"
)

func seedServices(t *testing.T, repo *ServiceRepo, n int) {
	t.Helper()
	base := time.Now().UTC()
	for i := 0; i < n; i++ {
		svc := &models.Service{
			ID:               uuid.New(),
			ProviderIdentity: "EQProviderWallet",
			ServiceType:      "consultation",
			PriceTON:         "1",
			WindowStart:      base.Add(time.Hour),
			WindowEnd:        base.Add(2 * time.Hour),
			Status:           models.ServiceStatusAvailable,
			CreatedAt:        base.Add(time.Duration(i) * time.Second),
			UpdatedAt:        base,
		}
		if err := repo.Create(context.Background(), svc); err != nil {
			t.Fatalf("create service %d: %v", i, err)
		}
	}
}

func TestServiceRepo_ListWithoutLimitReturnsAll(t *testing.T) {
	repo := NewServiceRepo(ledger.NewMemoryStore())
	seedServices(t, repo, 105)

	listed, err := repo.List(context.Background(), ServiceFilter{})
	if err != nil {
		t.Fatal(err)
	}
	if len(listed) != 105 {
		t.Fatalf("listed %d services, want all 105", len(listed))
	}
}

func TestServiceRepo_ListPagination(t *testing.T) {
	repo := NewServiceRepo(ledger.NewMemoryStore())
	seedServices(t, repo, 105)
	ctx := context.Background()

	page, err := repo.List(ctx, ServiceFilter{Limit: 10})
	if err != nil {
		t.Fatal(err)
	}
	if len(page) != 10 {
		t.Errorf("limit 10 returned %d services", len(page))
	}

	tail, err := repo.List(ctx, ServiceFilter{Limit: 10, Offset: 100})
	if err != nil {
		t.Fatal(err)
	}
	if len(tail) != 5 {
		t.Errorf("offset 100 returned %d services, want the 5 remaining", len(tail))
	}

	empty, err := repo.List(ctx, ServiceFilter{Offset: 200})
	if err != nil {
		t.Fatal(err)
	}
	if len(empty) != 0 {
		t.Errorf("offset past the end returned %d services", len(empty))
	}
}
