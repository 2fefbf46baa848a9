package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/gofiber/fiber/v2"
	"github.com/session-market/backend/internal/config"
	"github.com/session-market/backend/internal/db"
	"github.com/session-market/backend/internal/events"
	apphttp "github.com/session-market/backend/internal/http"
	"github.com/session-market/backend/internal/http/handlers"
	"github.com/session-market/backend/internal/payment"
	"github.com/session-market/backend/internal/quality"
	"github.com/session-market/backend/internal/repositories"
	"github.com/session-market/backend/internal/services"
	"go.uber.org/zap"
)

func main() {
	log, _ := zap.NewProduction()
	defer log.Sync()

	cfg := config.Load()
	cfg.Validate(log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Redis is always needed: events, rate limiting and rail receipts
	// live there even when the ledger backend is postgres.
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

	// Repositories
	serviceRepo := repositories.NewServiceRepo(store)
	bookingRepo := repositories.NewBookingRepo(store)
	escrowRepo := repositories.NewEscrowRepo(store)
	disputeRepo := repositories.NewDisputeRepo(store)
	auditRepo := repositories.NewAuditRepo(store)

	// Events
	publisher := events.NewRedisPublisher(rdb, log)
	subscriber := events.NewRedisSubscriber(rdb, log)

	// Payment rail
	tonAPI, err := payment.ConnectTON(ctx, cfg, log)
	if err != nil {
		log.Fatal("failed to connect to TON network", zap.Error(err))
	}
	rail, err := payment.NewTONRail(ctx, tonAPI, cfg, store, rdb, log)
	if err != nil {
		log.Fatal("failed to initialize TON rail", zap.Error(err))
	}

	// Quality oracle
	oracle := quality.NewHTTPOracle(cfg.QualityOracleURL, cfg.ExternalCallTimeout, log)

	// Services
	registryService := services.NewRegistryService(serviceRepo, auditRepo, publisher, log)
	bookingService := services.NewBookingService(bookingRepo, registryService, auditRepo, publisher, log)
	escrowService := services.NewEscrowService(escrowRepo, rail, auditRepo, publisher, cfg, log)
	disputeService := services.NewDisputeService(disputeRepo, bookingService, escrowService, auditRepo, publisher, log)
	workflowService := services.NewWorkflowService(registryService, bookingService, escrowService, disputeService, oracle, cfg, log)

	// Handlers
	authHandler := handlers.NewAuthHandler(cfg, rdb, log)
	serviceHandler := handlers.NewServiceHandler(registryService, log)
	bookingHandler := handlers.NewBookingHandler(workflowService, bookingService, log)
	escrowHandler := handlers.NewEscrowHandler(escrowService, log)
	disputeHandler := handlers.NewDisputeHandler(disputeService, workflowService, log)
	wsHub := handlers.NewWSHub(cfg, subscriber, log)

	// Start WS hub
	wsHub.Start(ctx)

	// Fiber app
	app := fiber.New(fiber.Config{
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			code := fiber.StatusInternalServerError
			if e, ok := err.(*fiber.Error); ok {
				code = e.Code
			}
			return c.Status(code).JSON(fiber.Map{"error": err.Error()})
		},
	})

	apphttp.SetupRouter(app, cfg, log, rdb, authHandler, serviceHandler, bookingHandler, escrowHandler, disputeHandler, wsHub)

	// Graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		log.Info("shutting down...")
		cancel()
		_ = app.Shutdown()
	}()

	addr := fmt.Sprintf(":%s", cfg.APIPort)
	log.Info("starting API server", zap.String("addr", addr))
	if err := app.Listen(addr); err != nil {
		log.Fatal("server error", zap.Error(err))
	}
}
