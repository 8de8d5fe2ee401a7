package gateway

import (
	"errors"
	"log/slog"

	"github.com/gofiber/fiber/v2"

	"github.com/investa-id/investa_portal/internal/apiclient"
	"github.com/investa-id/investa_portal/internal/flow"
	"github.com/investa-id/investa_portal/internal/logging"
)

const msgUnavailable = "layanan sedang tidak tersedia, silakan coba lagi"

// ErrorHandler renders errors returned by handlers as JSON.
func ErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	var fe *fiber.Error
	if errors.As(err, &fe) {
		code = fe.Code
	}
	msg := err.Error()
	if code == fiber.StatusInternalServerError && fe == nil {
		msg = "internal error"
	}
	return c.Status(code).JSON(fiber.Map{"error": msg})
}

// fail maps an action error onto the response the page shows:
// an invalid session ends the session and sends the user to login,
// validation problems are 400, server refusals are 422 with the server's
// message, and transient failures are 502 with retry set.
func (h *handlers) fail(c *fiber.Ctx, err error) error {
	if errors.Is(err, apiclient.ErrSessionInvalid) {
		h.endSession(c.UserContext(), err.Error())
		return h.toLogin(c)
	}
	if v, ok := apiclient.AsValidation(err); ok {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": v.Message, "field": v.Field})
	}
	if b, ok := apiclient.AsBusiness(err); ok {
		return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{"error": b.Message})
	}
	if apiclient.IsTransient(err) {
		h.logger.Warn("upstream call failed", slog.String("path", c.Path()), logging.Err(err))
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": msgUnavailable, "retry": true})
	}
	if errors.Is(err, flow.ErrBusy) || errors.Is(err, flow.ErrClosed) {
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "proses sebelumnya masih berjalan"})
	}
	h.logger.Error("unhandled action error", slog.String("path", c.Path()), logging.Err(err))
	return fiber.NewError(fiber.StatusInternalServerError, "internal error")
}

// toLogin redirects page loads and answers 401 to actions.
func (h *handlers) toLogin(c *fiber.Ctx) error {
	if c.Method() == fiber.MethodGet {
		return c.Redirect(h.loginPath, fiber.StatusFound)
	}
	return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
		"error":    "sesi anda telah berakhir, silakan masuk kembali",
		"redirect": h.loginPath,
	})
}
