package repositories

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/session-market/backend/internal/ledger"
	"github.com/session-market/backend/internal/models"
)

// Audit records are append-only: each entry gets a fresh key and is never
// rewritten, so the single "logged" status is all the store needs.
const auditStatusLogged = "logged"

type AuditRepo struct {
	store ledger.Store
}

func NewAuditRepo(store ledger.Store) *AuditRepo {
	return &AuditRepo{store: store}
}

func (r *AuditRepo) Log(ctx context.Context, entry models.AuditLog) error {
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	key := ledger.PrefixAudit + entry.ID.String()
	ok, _, err := r.store.PutIfStatus(ctx, key, ledger.StatusAbsent, auditStatusLogged, data)
	if err != nil {
		return fmt.Errorf("write audit %s: %w", entry.ID, err)
	}
	if !ok {
		return fmt.Errorf("audit id collision: %s", entry.ID)
	}
	return nil
}

func (r *AuditRepo) GetByEntity(ctx context.Context, entityType string, entityID uuid.UUID, limit int) ([]models.AuditLog, error) {
	kvs, err := r.store.ListByPrefix(ctx, ledger.PrefixAudit)
	if err != nil {
		return nil, fmt.Errorf("list audit: %w", err)
	}
	var entries []models.AuditLog
	for _, kv := range kvs {
		var e models.AuditLog
		if err := json.Unmarshal(kv.Value, &e); err != nil {
			return nil, fmt.Errorf("decode audit %s: %w", kv.Key, err)
		}
		if e.EntityType != entityType || e.EntityID == nil || *e.EntityID != entityID {
			continue
		}
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].CreatedAt.Before(entries[j].CreatedAt)
	})
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}
