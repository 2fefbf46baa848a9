package handlers

import (
	"errors"
	"strconv"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/session-market/backend/internal/auth"
	"github.com/session-market/backend/internal/errs"
	"github.com/session-market/backend/internal/http/dto"
	"github.com/session-market/backend/internal/middleware"
	"github.com/session-market/backend/internal/repositories"
	"github.com/session-market/backend/internal/services"
	"go.uber.org/zap"
)

type BookingHandler struct {
	workflow *services.WorkflowService
	bookings *services.BookingService
	log      *zap.Logger
}

func NewBookingHandler(workflow *services.WorkflowService, bookings *services.BookingService, log *zap.Logger) *BookingHandler {
	return &BookingHandler{workflow: workflow, bookings: bookings, log: log}
}

// CreateBooking runs the book-and-fund workflow. A funding failure still
// returns the booking and its rejected escrow so the caller can see the
// confirmed-but-unfunded state.
func (h *BookingHandler) CreateBooking(c *fiber.Ctx) error {
	var req dto.CreateBookingRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid request"})
	}

	serviceID, err := uuid.Parse(req.ServiceID)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid service_id"})
	}

	client := middleware.GetIdentity(c)
	booking, escrow, err := h.workflow.BookService(c.Context(), serviceID, client, req.Notes)
	if err != nil {
		var funding *errs.FundingFailedError
		if errors.As(err, &funding) {
			return c.Status(fiber.StatusBadGateway).JSON(dto.SuccessResponse{
				OK:   false,
				Data: dto.BookingWithEscrow{Booking: booking, Escrow: escrow},
			})
		}
		return c.Status(statusForError(err)).JSON(dto.ErrorResponse{Error: err.Error()})
	}

	return c.Status(fiber.StatusCreated).JSON(dto.SuccessResponse{
		OK:   true,
		Data: dto.BookingWithEscrow{Booking: booking, Escrow: escrow},
	})
}

func (h *BookingHandler) GetBooking(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid booking id"})
	}

	booking, err := h.bookings.GetBooking(c.Context(), id)
	if err != nil {
		return c.Status(statusForError(err)).JSON(dto.ErrorResponse{Error: err.Error()})
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: booking})
}

func (h *BookingHandler) ListBookings(c *fiber.Ctx) error {
	filter := repositories.BookingFilter{Limit: 20}

	if v := c.Query("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			filter.Limit = min(n, 100)
		}
	}
	if v := c.Query("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			filter.Offset = n
		}
	}
	if v := c.Query("status"); v != "" {
		filter.Status = &v
	}
	if v := c.Query("service_id"); v != "" {
		if id, err := uuid.Parse(v); err == nil {
			filter.ServiceID = &id
		}
	}

	// Clients see their own bookings; operators may list all.
	if middleware.GetRole(c) != auth.RoleOperator {
		identity := middleware.GetIdentity(c)
		filter.ClientIdentity = &identity
	}

	list, err := h.bookings.ListBookings(c.Context(), filter)
	if err != nil {
		h.log.Error("list bookings failed", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{Error: "internal error"})
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: list})
}

func (h *BookingHandler) RecordSession(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid booking id"})
	}

	var req dto.RecordSessionRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid request"})
	}

	booking, err := h.workflow.RecordSession(c.Context(), id, req.SessionRef)
	if err != nil {
		return c.Status(statusForError(err)).JSON(dto.ErrorResponse{Error: err.Error()})
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: booking})
}

// RunQualityGate triggers the release-or-dispute decision on demand. The
// worker sweep drives the same path periodically.
func (h *BookingHandler) RunQualityGate(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid booking id"})
	}

	result, err := h.workflow.RunQualityGate(c.Context(), id)
	if err != nil {
		return c.Status(statusForError(err)).JSON(dto.ErrorResponse{Error: err.Error()})
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: result})
}

func (h *BookingHandler) CompleteBooking(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid booking id"})
	}

	var req dto.CompleteBookingRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid request"})
	}

	booking, err := h.bookings.CompleteBooking(c.Context(), id, req.Outcome, req.Notes)
	if err != nil {
		return c.Status(statusForError(err)).JSON(dto.ErrorResponse{Error: err.Error()})
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: booking})
}
