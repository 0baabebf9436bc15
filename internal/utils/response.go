package utils

import (
	"errors"

	errs "ledger/internal/errors"

	"github.com/gofiber/fiber/v2"
)

// Respond sends a JSON response with the specified status code.
func Respond(c *fiber.Ctx, status int, data interface{}) error {
	return c.Status(status).JSON(data)
}

// Success sends a successful JSON response.
func Success(c *fiber.Ctx, data interface{}) error {
	return Respond(c, fiber.StatusOK, data)
}

func Created(c *fiber.Ctx, data interface{}) error {
	return Respond(c, fiber.StatusCreated, data)
}

// Accepted is used for money movements that were recorded but not yet
// committed.
func Accepted(c *fiber.Ctx, data interface{}) error {
	return Respond(c, fiber.StatusAccepted, data)
}

// BadRequest sends a JSON error response with status 400.
func BadRequest(c *fiber.Ctx, message string) error {
	return Respond(c, fiber.StatusBadRequest, fiber.Map{"error": message})
}

// Unauthorized sends a JSON error response with status 401.
func Unauthorized(c *fiber.Ctx, message string) error {
	return Respond(c, fiber.StatusUnauthorized, fiber.Map{"error": message})
}

// Forbidden sends a JSON error response with status 403.
func Forbidden(c *fiber.Ctx, message string) error {
	return Respond(c, fiber.StatusForbidden, fiber.Map{"error": message})
}

// NotFound sends a JSON error response with status 404.
func NotFound(c *fiber.Ctx, message string) error {
	return Respond(c, fiber.StatusNotFound, fiber.Map{"error": message})
}

// Error maps a domain error to its status code and client-safe message.
// Internal causes are never written to the response.
func Error(c *fiber.Ctx, err error) error {
	body := fiber.Map{"error": errs.PublicMessage(err)}
	var de *errs.DomainError
	if errors.As(err, &de) && de.Kind != errs.KindTransient && de.Kind != errs.KindPermanent {
		body["code"] = de.Code
	}
	return Respond(c, errs.HTTPStatus(errs.KindOf(err)), body)
}

// ErrorHandler is the fiber.Config ErrorHandler. Fiber errors keep their
// status; everything else goes through Error.
func ErrorHandler(c *fiber.Ctx, err error) error {
	var fe *fiber.Error
	if errors.As(err, &fe) {
		return Respond(c, fe.Code, fiber.Map{"error": fe.Message})
	}
	return Error(c, err)
}
