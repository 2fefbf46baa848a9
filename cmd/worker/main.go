package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/session-market/backend/internal/config"
	"github.com/session-market/backend/internal/db"
	"github.com/session-market/backend/internal/events"
	"github.com/session-market/backend/internal/payment"
	"github.com/session-market/backend/internal/quality"
	"github.com/session-market/backend/internal/repositories"
	"github.com/session-market/backend/internal/services"
	"go.uber.org/zap"
)

// The worker resumes work the API may have dropped mid-flight: quality
// gates for delivered sessions and releases that were decided but not
// settled before a crash. Both sweeps are idempotent, so running the
// worker alongside the API's on-demand gate route is safe.
func main() {
	log, _ := zap.NewProduction()
	defer log.Sync()

	cfg := config.Load()
	cfg.Validate(log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rdb, err := db.NewRedisClient(ctx, cfg.RedisURL, log)
	if err != nil {
		log.Fatal("failed to connect to redis", zap.Error(err))
	}
	defer rdb.Close()

	store, cleanup, err := db.OpenLedger(ctx, cfg, rdb, log)
	if err != nil {
		log.Fatal("failed to open ledger store", zap.Error(err))
	}
	defer cleanup()

	serviceRepo := repositories.NewServiceRepo(store)
	bookingRepo := repositories.NewBookingRepo(store)
	escrowRepo := repositories.NewEscrowRepo(store)
	disputeRepo := repositories.NewDisputeRepo(store)
	auditRepo := repositories.NewAuditRepo(store)

	publisher := events.NewRedisPublisher(rdb, log)

	tonAPI, err := payment.ConnectTON(ctx, cfg, log)
	if err != nil {
		log.Fatal("failed to connect to TON network", zap.Error(err))
	}
	rail, err := payment.NewTONRail(ctx, tonAPI, cfg, store, rdb, log)
	if err != nil {
		log.Fatal("failed to initialize TON rail", zap.Error(err))
	}

	oracle := quality.NewHTTPOracle(cfg.QualityOracleURL, cfg.ExternalCallTimeout, log)

	registryService := services.NewRegistryService(serviceRepo, auditRepo, publisher, log)
	bookingService := services.NewBookingService(bookingRepo, registryService, auditRepo, publisher, log)
	escrowService := services.NewEscrowService(escrowRepo, rail, auditRepo, publisher, cfg, log)
	disputeService := services.NewDisputeService(disputeRepo, bookingService, escrowService, auditRepo, publisher, log)
	workflowService := services.NewWorkflowService(registryService, bookingService, escrowService, disputeService, oracle, cfg, log)

	log.Info("worker started",
		zap.Duration("quality_sweep_interval", cfg.QualitySweepInterval),
		zap.Duration("resume_sweep_interval", cfg.ResumeSweepInterval),
	)

	qualityTicker := time.NewTicker(cfg.QualitySweepInterval)
	defer qualityTicker.Stop()
	resumeTicker := time.NewTicker(cfg.ResumeSweepInterval)
	defer resumeTicker.Stop()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	for {
		select {
		case <-qualityTicker.C:
			if err := workflowService.SweepQualityGates(ctx); err != nil {
				log.Error("quality gate sweep failed", zap.Error(err))
			}
		case <-resumeTicker.C:
			if err := workflowService.SweepStalledReleases(ctx); err != nil {
				log.Error("stalled release sweep failed", zap.Error(err))
			}
		case <-sigCh:
			log.Info("shutting down worker")
			cancel()
			return
		case <-ctx.Done():
			return
		}
	}
}
