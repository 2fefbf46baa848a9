package db

import (
	"context"

	"github.com/redis/go-redis/v9"
	"github.com/session-market/backend/internal/config"
	"github.com/session-market/backend/internal/ledger"
	"go.uber.org/zap"
)

// OpenLedger picks the ledger backend from config and returns the store
// plus a cleanup func. The memory backend is for local development only:
// it does not survive a restart.
func OpenLedger(ctx context.Context, cfg *config.Config, rdb *redis.Client, log *zap.Logger) (ledger.Store, func(), error) {
	switch cfg.LedgerBackend {
	case "postgres":
		pool, err := NewPostgresPool(ctx, cfg.PostgresDSN, log)
		if err != nil {
			return nil, nil, err
		}
		store, err := ledger.NewPostgresStore(ctx, pool, log)
		if err != nil {
			pool.Close()
			return nil, nil, err
		}
		return store, pool.Close, nil
	case "memory":
		log.Warn("using in-memory ledger store, state is not persisted")
		return ledger.NewMemoryStore(), func() {}, nil
	default:
		return ledger.NewRedisStore(rdb, log), func() {}, nil
	}
}
