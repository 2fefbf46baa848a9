package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/session-market/backend/internal/errs"
)

// statusForError maps the typed error taxonomy onto HTTP status codes.
// Conflicts and invalid phases are 409 so callers know to re-read and
// decide; funding failures are 502 because the external rail rejected.
func statusForError(err error) int {
	var (
		validation  *errs.ValidationError
		notFound    *errs.NotFoundError
		conflict    *errs.ConflictError
		invalid     *errs.InvalidStateError
		unavailable *errs.ServiceUnavailableError
		funding     *errs.FundingFailedError
		resolved    *errs.AlreadyResolvedError
		notPending  *errs.EscrowNotPendingError
	)
	switch {
	case errors.As(err, &validation):
		return fiber.StatusBadRequest
	case errors.As(err, &notFound):
		return fiber.StatusNotFound
	case errors.As(err, &conflict), errors.As(err, &invalid),
		errors.As(err, &unavailable), errors.As(err, &resolved),
		errors.As(err, &notPending):
		return fiber.StatusConflict
	case errors.As(err, &funding):
		return fiber.StatusBadGateway
	default:
		return fiber.StatusInternalServerError
	}
}
