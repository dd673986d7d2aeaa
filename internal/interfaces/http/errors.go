package http

import (
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/jhoicas/stock-ledger/internal/application/dto"
	"github.com/jhoicas/stock-ledger/internal/domain"
)

// RetryAfterSeconds sugerencia al cliente cuando el lease de la clave no se obtuvo a tiempo.
const RetryAfterSeconds = "1"

var statusByKind = map[domain.Kind]int{
	domain.KindValidation:              fiber.StatusBadRequest,
	domain.KindIdempotencyKeyRequired:  fiber.StatusBadRequest,
	domain.KindUnauthorized:            fiber.StatusUnauthorized,
	domain.KindForbidden:               fiber.StatusForbidden,
	domain.KindNotFound:                fiber.StatusNotFound,
	domain.KindDuplicate:               fiber.StatusConflict,
	domain.KindConflict:                fiber.StatusConflict,
	domain.KindInsufficientStock:       fiber.StatusConflict,
	domain.KindConcurrentModification:  fiber.StatusConflict,
	domain.KindValuationMethodMismatch: fiber.StatusConflict,
	domain.KindIdempotencyKeyReused:    fiber.StatusConflict,
	domain.KindInvalidTransition:       fiber.StatusUnprocessableEntity,
	domain.KindLockTimeout:             fiber.StatusServiceUnavailable,
	domain.KindInsufficientLayers:      fiber.StatusInternalServerError,
}

// StatusFor código HTTP de un error de la taxonomía.
func StatusFor(err error) int {
	if status, ok := statusByKind[domain.KindOf(err)]; ok {
		return status
	}
	return fiber.StatusInternalServerError
}

// writeError traduce el error a {code, message, key}. Los errores internos no exponen detalle.
func writeError(c *fiber.Ctx, log zerolog.Logger, err error) error {
	kind := domain.KindOf(err)
	status := StatusFor(err)
	body := dto.ErrorResponse{Code: string(kind), Message: err.Error(), Key: domain.KeyOf(err)}

	switch {
	case kind == domain.KindInternal:
		log.Error().Err(err).Str("path", c.Path()).Msg("error interno")
		body.Message = "error interno"
	case kind == domain.KindInsufficientLayers:
		log.Error().Err(err).Str("path", c.Path()).Str("code", string(kind)).Msg("error de integridad")
	}
	if kind == domain.KindLockTimeout {
		c.Set(fiber.HeaderRetryAfter, RetryAfterSeconds)
	}
	return c.Status(status).JSON(body)
}
