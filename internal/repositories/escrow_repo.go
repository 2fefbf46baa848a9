package repositories

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/session-market/backend/internal/errs"
	"github.com/session-market/backend/internal/ledger"
	"github.com/session-market/backend/internal/models"
)

type EscrowRepo struct {
	store ledger.Store
}

func NewEscrowRepo(store ledger.Store) *EscrowRepo {
	return &EscrowRepo{store: store}
}

func escrowKey(id uuid.UUID) string {
	return ledger.PrefixEscrow + id.String()
}

func (r *EscrowRepo) Create(ctx context.Context, e *models.Escrow) error {
	data, err := json.Marshal(e)
	if err != nil {
		return err
	}
	ok, _, err := r.store.PutIfStatus(ctx, escrowKey(e.ID), ledger.StatusAbsent, e.Status, data)
	if err != nil {
		return fmt.Errorf("create escrow %s: %w", e.ID, err)
	}
	if !ok {
		return &errs.ConflictError{EntityType: "escrow", EntityID: e.ID.String(), Expected: "absent"}
	}
	return nil
}

func (r *EscrowRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Escrow, error) {
	data, ok, err := r.store.Get(ctx, escrowKey(id))
	if err != nil {
		return nil, fmt.Errorf("get escrow %s: %w", id, err)
	}
	if !ok {
		return nil, &errs.NotFoundError{EntityType: "escrow", Key: id.String()}
	}
	var e models.Escrow
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("decode escrow %s: %w", id, err)
	}
	return &e, nil
}

func (r *EscrowRepo) GetByBookingID(ctx context.Context, bookingID uuid.UUID) (*models.Escrow, error) {
	kvs, err := r.store.ListByPrefix(ctx, ledger.PrefixEscrow)
	if err != nil {
		return nil, fmt.Errorf("list escrows: %w", err)
	}
	for _, kv := range kvs {
		var e models.Escrow
		if err := json.Unmarshal(kv.Value, &e); err != nil {
			return nil, fmt.Errorf("decode escrow %s: %w", kv.Key, err)
		}
		if e.BookingID == bookingID {
			return &e, nil
		}
	}
	return nil, &errs.NotFoundError{EntityType: "escrow", Key: "booking:" + bookingID.String()}
}

// UpdateIfStatus is the escrow's single-transition guard: the write lands
// only if the stored status still equals expectedStatus, so two concurrent
// release/refund attempts cannot both take effect.
func (r *EscrowRepo) UpdateIfStatus(ctx context.Context, e *models.Escrow, expectedStatus string) (bool, *models.Escrow, error) {
	e.UpdatedAt = time.Now().UTC()
	data, err := json.Marshal(e)
	if err != nil {
		return false, nil, err
	}
	ok, current, err := r.store.PutIfStatus(ctx, escrowKey(e.ID), expectedStatus, e.Status, data)
	if err != nil {
		return false, nil, fmt.Errorf("update escrow %s: %w", e.ID, err)
	}
	if ok {
		return true, nil, nil
	}
	var cur models.Escrow
	if len(current) > 0 {
		if err := json.Unmarshal(current, &cur); err != nil {
			return false, nil, fmt.Errorf("decode escrow %s: %w", e.ID, err)
		}
	}
	return false, &cur, nil
}
