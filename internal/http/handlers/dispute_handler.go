package handlers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/session-market/backend/internal/http/dto"
	"github.com/session-market/backend/internal/middleware"
	"github.com/session-market/backend/internal/services"
	"go.uber.org/zap"
)

type DisputeHandler struct {
	disputes *services.DisputeService
	workflow *services.WorkflowService
	log      *zap.Logger
}

func NewDisputeHandler(disputes *services.DisputeService, workflow *services.WorkflowService, log *zap.Logger) *DisputeHandler {
	return &DisputeHandler{disputes: disputes, workflow: workflow, log: log}
}

func (h *DisputeHandler) OpenDispute(c *fiber.Ctx) error {
	var req dto.OpenDisputeRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid request"})
	}

	bookingID, err := uuid.Parse(req.BookingID)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid booking_id"})
	}

	actor := middleware.GetIdentity(c)
	dispute, err := h.disputes.OpenDispute(c.Context(), bookingID, req.Reason, req.EvidenceRef, &actor)
	if err != nil {
		return c.Status(statusForError(err)).JSON(dto.ErrorResponse{Error: err.Error()})
	}
	return c.Status(fiber.StatusCreated).JSON(dto.SuccessResponse{OK: true, Data: dispute})
}

func (h *DisputeHandler) GetDispute(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid dispute id"})
	}

	dispute, err := h.disputes.GetDispute(c.Context(), id)
	if err != nil {
		return c.Status(statusForError(err)).JSON(dto.ErrorResponse{Error: err.Error()})
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: dispute})
}

func (h *DisputeHandler) ListByBooking(c *fiber.Ctx) error {
	bookingID, err := uuid.Parse(c.Params("bookingId"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid booking id"})
	}

	list, err := h.disputes.ListByBooking(c.Context(), bookingID)
	if err != nil {
		h.log.Error("list disputes failed", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{Error: "internal error"})
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: list})
}

// Resolve settles the escrow and closes the dispute in one operation.
// Operator-only; the router enforces that.
func (h *DisputeHandler) Resolve(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid dispute id"})
	}

	var req dto.ResolveDisputeRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid request"})
	}

	actor := middleware.GetIdentity(c)
	dispute, err := h.workflow.ResolveDispute(c.Context(), id, req.Resolution, req.Pct, req.Notes, &actor)
	if err != nil {
		return c.Status(statusForError(err)).JSON(dto.ErrorResponse{Error: err.Error()})
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: dispute})
}
