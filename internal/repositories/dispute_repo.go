package repositories

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"github.com/session-market/backend/internal/errs"
	"github.com/session-market/backend/internal/ledger"
	"github.com/session-market/backend/internal/models"
)

type DisputeRepo struct {
	store ledger.Store
}

func NewDisputeRepo(store ledger.Store) *DisputeRepo {
	return &DisputeRepo{store: store}
}

func disputeKey(id uuid.UUID) string {
	return ledger.PrefixDispute + id.String()
}

func (r *DisputeRepo) Create(ctx context.Context, d *models.Dispute) error {
	data, err := json.Marshal(d)
	if err != nil {
		return err
	}
	ok, _, err := r.store.PutIfStatus(ctx, disputeKey(d.ID), ledger.StatusAbsent, d.Status, data)
	if err != nil {
		return fmt.Errorf("create dispute %s: %w", d.ID, err)
	}
	if !ok {
		return &errs.ConflictError{EntityType: "dispute", EntityID: d.ID.String(), Expected: "absent"}
	}
	return nil
}

func (r *DisputeRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Dispute, error) {
	data, ok, err := r.store.Get(ctx, disputeKey(id))
	if err != nil {
		return nil, fmt.Errorf("get dispute %s: %w", id, err)
	}
	if !ok {
		return nil, &errs.NotFoundError{EntityType: "dispute", Key: id.String()}
	}
	var d models.Dispute
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("decode dispute %s: %w", id, err)
	}
	return &d, nil
}

func (r *DisputeRepo) UpdateIfStatus(ctx context.Context, d *models.Dispute, expectedStatus string) (bool, *models.Dispute, error) {
	data, err := json.Marshal(d)
	if err != nil {
		return false, nil, err
	}
	ok, current, err := r.store.PutIfStatus(ctx, disputeKey(d.ID), expectedStatus, d.Status, data)
	if err != nil {
		return false, nil, fmt.Errorf("update dispute %s: %w", d.ID, err)
	}
	if ok {
		return true, nil, nil
	}
	var cur models.Dispute
	if len(current) > 0 {
		if err := json.Unmarshal(current, &cur); err != nil {
			return false, nil, fmt.Errorf("decode dispute %s: %w", d.ID, err)
		}
	}
	return false, &cur, nil
}

func (r *DisputeRepo) ListByBooking(ctx context.Context, bookingID uuid.UUID) ([]models.Dispute, error) {
	kvs, err := r.store.ListByPrefix(ctx, ledger.PrefixDispute)
	if err != nil {
		return nil, fmt.Errorf("list disputes: %w", err)
	}
	var disputes []models.Dispute
	for _, kv := range kvs {
		var d models.Dispute
		if err := json.Unmarshal(kv.Value, &d); err != nil {
			return nil, fmt.Errorf("decode dispute %s: %w", kv.Key, err)
		}
		if d.BookingID == bookingID {
			disputes = append(disputes, d)
		}
	}
	sort.Slice(disputes, func(i, j int) bool {
		return disputes[i].CreatedAt.Before(disputes[j].CreatedAt)
	})
	return disputes, nil
}
