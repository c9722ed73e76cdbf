// handlers/respond.go
package handlers

import (
	"errors"

	"cora-insurance-service/models"

	"github.com/gofiber/fiber/v2"
)

// statusFor maps the service error taxonomy onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, models.ErrValidation), errors.Is(err, models.ErrAmountMismatch):
		return fiber.StatusBadRequest
	case errors.Is(err, models.ErrAuthorization):
		return fiber.StatusForbidden
	case errors.Is(err, models.ErrNotFound):
		return fiber.StatusNotFound
	case errors.Is(err, models.ErrConflict), errors.Is(err, models.ErrInsufficientCoverage):
		return fiber.StatusConflict
	case errors.Is(err, models.ErrTimeout):
		return fiber.StatusGatewayTimeout
	case errors.Is(err, models.ErrTransaction):
		return fiber.StatusBadGateway
	}
	return fiber.StatusInternalServerError
}

func fail(c *fiber.Ctx, err error) error {
	return c.Status(statusFor(err)).JSON(fiber.Map{"error": err.Error()})
}

// callerAddress is the wallet address the Gateway attached to the request.
func callerAddress(c *fiber.Ctx) string {
	if addr, ok := c.Locals("wallet_address").(string); ok {
		return addr
	}
	return ""
}
