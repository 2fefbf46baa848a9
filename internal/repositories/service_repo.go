package repositories

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/session-market/backend/internal/errs"
	"github.com/session-market/backend/internal/ledger"
	"github.com/session-market/backend/internal/models"
	"github.com/xssnick/tonutils-go/tlb"
)

type ServiceRepo struct {
	store ledger.Store
}

func NewServiceRepo(store ledger.Store) *ServiceRepo {
	return &ServiceRepo{store: store}
}

func serviceKey(id uuid.UUID) string {
	return ledger.PrefixService + id.String()
}

func (r *ServiceRepo) Create(ctx context.Context, s *models.Service) error {
	data, err := json.Marshal(s)
	if err != nil {
		return err
	}
	ok, _, err := r.store.PutIfStatus(ctx, serviceKey(s.ID), ledger.StatusAbsent, s.Status, data)
	if err != nil {
		return fmt.Errorf("create service %s: %w", s.ID, err)
	}
	if !ok {
		return &errs.ConflictError{EntityType: "service", EntityID: s.ID.String(), Expected: "absent"}
	}
	return nil
}

func (r *ServiceRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Service, error) {
	data, ok, err := r.store.Get(ctx, serviceKey(id))
	if err != nil {
		return nil, fmt.Errorf("get service %s: %w", id, err)
	}
	if !ok {
		return nil, &errs.NotFoundError{EntityType: "service", Key: id.String()}
	}
	var s models.Service
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("decode service %s: %w", id, err)
	}
	return &s, nil
}

// UpdateIfStatus writes the service back conditioned on its stored status
// still being expectedStatus. When the condition fails it returns the
// current record so the caller can surface what it lost the race to.
func (r *ServiceRepo) UpdateIfStatus(ctx context.Context, s *models.Service, expectedStatus string) (bool, *models.Service, error) {
	s.UpdatedAt = time.Now().UTC()
	data, err := json.Marshal(s)
	if err != nil {
		return false, nil, err
	}
	ok, current, err := r.store.PutIfStatus(ctx, serviceKey(s.ID), expectedStatus, s.Status, data)
	if err != nil {
		return false, nil, fmt.Errorf("update service %s: %w", s.ID, err)
	}
	if ok {
		return true, nil, nil
	}
	var cur models.Service
	if len(current) > 0 {
		if err := json.Unmarshal(current, &cur); err != nil {
			return false, nil, fmt.Errorf("decode service %s: %w", s.ID, err)
		}
	}
	return false, &cur, nil
}

type ServiceFilter struct {
	ServiceType *string
	PriceMinTON *string
	PriceMaxTON *string
	WindowFrom  *time.Time
	WindowTo    *time.Time
	Status      *string
	Limit       int
	Offset      int
}

// List returns services matching the filter, sorted by creation time then
// id so results are deterministic for a fixed store snapshot.
func (r *ServiceRepo) List(ctx context.Context, f ServiceFilter) ([]models.Service, error) {
	kvs, err := r.store.ListByPrefix(ctx, ledger.PrefixService)
	if err != nil {
		return nil, fmt.Errorf("list services: %w", err)
	}

	var services []models.Service
	for _, kv := range kvs {
		var s models.Service
		if err := json.Unmarshal(kv.Value, &s); err != nil {
			return nil, fmt.Errorf("decode service %s: %w", kv.Key, err)
		}
		if !matchService(&s, f) {
			continue
		}
		services = append(services, s)
	}

	sort.Slice(services, func(i, j int) bool {
		if !services[i].CreatedAt.Equal(services[j].CreatedAt) {
			return services[i].CreatedAt.Before(services[j].CreatedAt)
		}
		return services[i].ID.String() < services[j].ID.String()
	})

	return paginate(services, f.Limit, f.Offset), nil
}

func matchService(s *models.Service, f ServiceFilter) bool {
	if f.Status != nil && s.Status != *f.Status {
		return false
	}
	if f.ServiceType != nil && !strings.EqualFold(s.ServiceType, *f.ServiceType) {
		return false
	}
	if f.PriceMinTON != nil && compareTON(s.PriceTON, *f.PriceMinTON) < 0 {
		return false
	}
	if f.PriceMaxTON != nil && compareTON(s.PriceTON, *f.PriceMaxTON) > 0 {
		return false
	}
	if f.WindowFrom != nil && s.WindowEnd.Before(*f.WindowFrom) {
		return false
	}
	if f.WindowTo != nil && s.WindowStart.After(*f.WindowTo) {
		return false
	}
	return true
}

// compareTON compares two decimal TON amounts numerically (nanoton
// precision). Falls back to lexical order on unparseable input.
func compareTON(a, b string) int {
	ca, errA := tlb.FromTON(a)
	cb, errB := tlb.FromTON(b)
	if errA != nil || errB != nil {
		return strings.Compare(a, b)
	}
	return ca.Nano().Cmp(cb.Nano())
}

// paginate applies offset then limit; limit <= 0 means no limit, so
// internal callers (sweeps, settlement resumption) always see the full
// result set. Caller-facing limits are capped at the HTTP boundary.
func paginate[T any](items []T, limit, offset int) []T {
	if offset > 0 {
		if offset >= len(items) {
			return nil
		}
		items = items[offset:]
	}
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items
}
