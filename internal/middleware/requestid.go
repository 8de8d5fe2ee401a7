package middleware

import (
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/investa-id/investa_portal/internal/apiclient"
)

const requestIDHeader = "X-Request-ID"

// RequestID assigns each request an identifier and hands it to the API client
// through the user context, so upstream calls carry the same X-Request-ID.
func RequestID() fiber.Handler {
	return func(c *fiber.Ctx) error {
		reqID := c.Get(requestIDHeader)
		if reqID == "" {
			reqID = uuid.NewString()
		}
		c.Set(requestIDHeader, reqID)
		c.Locals(requestIDHeader, reqID)
		c.SetUserContext(apiclient.ContextWithRequestID(c.UserContext(), reqID))

		return c.Next()
	}
}

// GetRequestID returns the identifier assigned by RequestID.
func GetRequestID(c *fiber.Ctx) string {
	id, _ := c.Locals(requestIDHeader).(string)
	return id
}
