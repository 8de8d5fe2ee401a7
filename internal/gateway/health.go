package gateway

import (
	"context"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
)

// registerHealthRoutes adds a liveness endpoint reporting storage and API reachability.
func registerHealthRoutes(app *fiber.App, h *handlers) {
	app.Get("/healthz", func(c *fiber.Ctx) error {
		redisStatus := "disabled"
		apiStatus := "ok"

		ctx, cancel := context.WithTimeout(c.UserContext(), 2*time.Second)
		defer cancel()
		if h.cache != nil {
			redisStatus = "ok"
			if err := h.cache.Ping(ctx).Err(); err != nil {
				redisStatus = err.Error()
			}
		}
		if err := h.api.Ping(ctx); err != nil {
			apiStatus = err.Error()
		}
		status := http.StatusOK
		if (redisStatus != "ok" && redisStatus != "disabled") || apiStatus != "ok" {
			status = http.StatusServiceUnavailable
		}
		return c.Status(status).JSON(fiber.Map{
			"status":    fiber.Map{"redis": redisStatus, "api": apiStatus},
			"context":   h.contextID,
			"timestamp": h.clock.Now().UTC().Format(time.RFC3339Nano),
		})
	})
}
