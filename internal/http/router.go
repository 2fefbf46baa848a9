package http

import (
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/redis/go-redis/v9"
	"github.com/session-market/backend/internal/config"
	"github.com/session-market/backend/internal/http/handlers"
	"github.com/session-market/backend/internal/middleware"
	"github.com/session-market/backend/internal/rbac"
	"go.uber.org/zap"
)

func SetupRouter(
	app *fiber.App,
	cfg *config.Config,
	log *zap.Logger,
	rdb *redis.Client,
	authHandler *handlers.AuthHandler,
	serviceHandler *handlers.ServiceHandler,
	bookingHandler *handlers.BookingHandler,
	escrowHandler *handlers.EscrowHandler,
	disputeHandler *handlers.DisputeHandler,
	wsHub *handlers.WSHub,
) {
	// Global middleware
	app.Use(recover.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowHeaders: "Origin, Content-Type, Accept, Authorization, X-Request-ID",
	}))
	app.Use(middleware.RequestIDMiddleware())
	app.Use(middleware.LoggerMiddleware(log))

	// Health check
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	api := app.Group("/api/v1")

	// Auth (public)
	api.Post("/auth/proof-payload", authHandler.ProofPayload)
	api.Post("/auth/token", authHandler.IssueToken)

	api.Use(middleware.RateLimitMiddleware(rdb, cfg.RateLimitPerMin, time.Minute))

	// Protected endpoints
	protected := api.Group("", middleware.AuthMiddleware(cfg, log))

	// Services
	protected.Post("/services", middleware.RequirePermission(rbac.PermListService), serviceHandler.CreateService)
	protected.Get("/services", serviceHandler.ListServices)
	protected.Get("/services/:id", serviceHandler.GetService)
	protected.Post("/services/:id/complete", middleware.RequirePermission(rbac.PermCompleteService), serviceHandler.MarkCompleted)
	protected.Post("/services/:id/cancel", middleware.RequirePermission(rbac.PermCancelService), serviceHandler.MarkCancelled)

	// Bookings (booking creates and funds the escrow in one workflow)
	protected.Post("/bookings", middleware.RequirePermission(rbac.PermBookService), bookingHandler.CreateBooking)
	protected.Get("/bookings", bookingHandler.ListBookings)
	protected.Get("/bookings/:id", bookingHandler.GetBooking)
	protected.Post("/bookings/:id/session", middleware.RequirePermission(rbac.PermRecordSession), bookingHandler.RecordSession)
	protected.Post("/bookings/:id/quality-gate", bookingHandler.RunQualityGate)
	protected.Post("/bookings/:id/complete", middleware.RequirePermission(rbac.PermCompleteBooking), bookingHandler.CompleteBooking)
	protected.Get("/bookings/:bookingId/disputes", disputeHandler.ListByBooking)

	// Escrows
	protected.Get("/escrows/:id", escrowHandler.GetEscrow)

	// Disputes
	protected.Post("/disputes", middleware.RequirePermission(rbac.PermOpenDispute), disputeHandler.OpenDispute)
	protected.Get("/disputes/:id", disputeHandler.GetDispute)

	// Operator interventions
	operator := protected.Group("", middleware.OperatorMiddleware(cfg))
	operator.Post("/escrows/:id/release", escrowHandler.Release)
	operator.Post("/escrows/:id/refund", escrowHandler.Refund)
	operator.Post("/escrows/:id/cancel", escrowHandler.Cancel)
	operator.Post("/disputes/:id/resolve", disputeHandler.Resolve)

	// WebSocket
	app.Use("/ws", handlers.WSUpgradeMiddleware())
	app.Get("/ws", websocket.New(wsHub.HandleWS))
}
