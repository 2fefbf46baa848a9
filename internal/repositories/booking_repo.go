package repositories

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/session-market/backend/internal/errs"
	"github.com/session-market/backend/internal/ledger"
	"github.com/session-market/backend/internal/models"
)

type BookingRepo struct {
	store ledger.Store
}

func NewBookingRepo(store ledger.Store) *BookingRepo {
	return &BookingRepo{store: store}
}

func bookingKey(id uuid.UUID) string {
	return ledger.PrefixBooking + id.String()
}

func (r *BookingRepo) Create(ctx context.Context, b *models.Booking) error {
	data, err := json.Marshal(b)
	if err != nil {
		return err
	}
	ok, _, err := r.store.PutIfStatus(ctx, bookingKey(b.ID), ledger.StatusAbsent, b.Status, data)
	if err != nil {
		return fmt.Errorf("create booking %s: %w", b.ID, err)
	}
	if !ok {
		return &errs.ConflictError{EntityType: "booking", EntityID: b.ID.String(), Expected: "absent"}
	}
	return nil
}

func (r *BookingRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Booking, error) {
	data, ok, err := r.store.Get(ctx, bookingKey(id))
	if err != nil {
		return nil, fmt.Errorf("get booking %s: %w", id, err)
	}
	if !ok {
		return nil, &errs.NotFoundError{EntityType: "booking", Key: id.String()}
	}
	var b models.Booking
	if err := json.Unmarshal(data, &b); err != nil {
		return nil, fmt.Errorf("decode booking %s: %w", id, err)
	}
	return &b, nil
}

func (r *BookingRepo) UpdateIfStatus(ctx context.Context, b *models.Booking, expectedStatus string) (bool, *models.Booking, error) {
	b.UpdatedAt = time.Now().UTC()
	data, err := json.Marshal(b)
	if err != nil {
		return false, nil, err
	}
	ok, current, err := r.store.PutIfStatus(ctx, bookingKey(b.ID), expectedStatus, b.Status, data)
	if err != nil {
		return false, nil, fmt.Errorf("update booking %s: %w", b.ID, err)
	}
	if ok {
		return true, nil, nil
	}
	var cur models.Booking
	if len(current) > 0 {
		if err := json.Unmarshal(current, &cur); err != nil {
			return false, nil, fmt.Errorf("decode booking %s: %w", b.ID, err)
		}
	}
	return false, &cur, nil
}

type BookingFilter struct {
	ServiceID      *uuid.UUID
	ClientIdentity *string
	Status         *string
	Limit          int
	Offset         int
}

func (r *BookingRepo) List(ctx context.Context, f BookingFilter) ([]models.Booking, error) {
	kvs, err := r.store.ListByPrefix(ctx, ledger.PrefixBooking)
	if err != nil {
		return nil, fmt.Errorf("list bookings: %w", err)
	}

	var bookings []models.Booking
	for _, kv := range kvs {
		var b models.Booking
		if err := json.Unmarshal(kv.Value, &b); err != nil {
			return nil, fmt.Errorf("decode booking %s: %w", kv.Key, err)
		}
		if f.ServiceID != nil && b.ServiceID != *f.ServiceID {
			continue
		}
		if f.ClientIdentity != nil && b.ClientIdentity != *f.ClientIdentity {
			continue
		}
		if f.Status != nil && b.Status != *f.Status {
			continue
		}
		bookings = append(bookings, b)
	}

	sort.Slice(bookings, func(i, j int) bool {
		if !bookings[i].CreatedAt.Equal(bookings[j].CreatedAt) {
			return bookings[i].CreatedAt.Before(bookings[j].CreatedAt)
		}
		return bookings[i].ID.String() < bookings[j].ID.String()
	})

	return paginate(bookings, f.Limit, f.Offset), nil
}
