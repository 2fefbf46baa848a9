package handlers

import (
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/session-market/backend/internal/http/dto"
	"github.com/session-market/backend/internal/middleware"
	"github.com/session-market/backend/internal/repositories"
	"github.com/session-market/backend/internal/services"
	"go.uber.org/zap"
)

type ServiceHandler struct {
	registry *services.RegistryService
	log      *zap.Logger
}

func NewServiceHandler(registry *services.RegistryService, log *zap.Logger) *ServiceHandler {
	return &ServiceHandler{registry: registry, log: log}
}

func (h *ServiceHandler) CreateService(c *fiber.Ctx) error {
	var req dto.CreateServiceRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid request"})
	}

	provider := middleware.GetIdentity(c)
	svc, err := h.registry.CreateService(c.Context(), provider, req.ServiceType, req.PriceTON, req.WindowStart, req.WindowEnd)
	if err != nil {
		return c.Status(statusForError(err)).JSON(dto.ErrorResponse{Error: err.Error()})
	}

	return c.Status(fiber.StatusCreated).JSON(dto.SuccessResponse{OK: true, Data: svc})
}

func (h *ServiceHandler) ListServices(c *fiber.Ctx) error {
	filter := repositories.ServiceFilter{Limit: 20}

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
	if v := c.Query("type"); v != "" {
		filter.ServiceType = &v
	}
	if v := c.Query("price_min"); v != "" {
		filter.PriceMinTON = &v
	}
	if v := c.Query("price_max"); v != "" {
		filter.PriceMaxTON = &v
	}
	if v := c.Query("from"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			filter.WindowFrom = &t
		}
	}
	if v := c.Query("to"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			filter.WindowTo = &t
		}
	}

	list, err := h.registry.ListServices(c.Context(), filter)
	if err != nil {
		h.log.Error("list services failed", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{Error: "internal error"})
	}

	return c.JSON(dto.SuccessResponse{OK: true, Data: list})
}

func (h *ServiceHandler) GetService(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid service id"})
	}

	svc, err := h.registry.GetService(c.Context(), id)
	if err != nil {
		return c.Status(statusForError(err)).JSON(dto.ErrorResponse{Error: err.Error()})
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: svc})
}

func (h *ServiceHandler) MarkCompleted(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid service id"})
	}

	svc, err := h.registry.MarkCompleted(c.Context(), id)
	if err != nil {
		return c.Status(statusForError(err)).JSON(dto.ErrorResponse{Error: err.Error()})
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: svc})
}

func (h *ServiceHandler) MarkCancelled(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid service id"})
	}

	svc, err := h.registry.MarkCancelled(c.Context(), id)
	if err != nil {
		return c.Status(statusForError(err)).JSON(dto.ErrorResponse{Error: err.Error()})
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: svc})
}
