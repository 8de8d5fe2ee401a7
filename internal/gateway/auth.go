package gateway

import (
	"context"
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/investa-id/investa_portal/internal/apiclient"
	"github.com/investa-id/investa_portal/internal/logging"
	"github.com/investa-id/investa_portal/internal/session"
)

const homePath = "/dashboard"

func (h *handlers) loginPage(c *fiber.Ctx) error {
	sess, err := h.store.Load(c.UserContext())
	if err == nil && session.IsValid(sess, h.clock.Now()) {
		return c.Redirect(homePath, fiber.StatusFound)
	}
	reason := h.nav.Pending()
	h.nav.Clear()
	return c.JSON(fiber.Map{
		"page":       "login",
		"redirected": reason != "",
	})
}

func (h *handlers) login(c *fiber.Ctx) error {
	var req apiclient.LoginRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}
	res, err := h.api.Login(c.UserContext(), req)
	if err != nil {
		return h.fail(c, err)
	}
	return h.startSession(c, res, fiber.StatusOK)
}

func (h *handlers) register(c *fiber.Ctx) error {
	var req apiclient.RegisterRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}
	res, err := h.api.Register(c.UserContext(), req)
	if err != nil {
		return h.fail(c, err)
	}
	return h.startSession(c, res, fiber.StatusCreated)
}

// startSession stores a fresh login. The server's expiry is used when it
// sends one; otherwise the session lasts SessionTTL from now.
func (h *handlers) startSession(c *fiber.Ctx, res apiclient.AuthResult, status int) error {
	expires := res.ExpiresAt.Time
	if expires.IsZero() {
		expires = h.clock.Now().Add(h.cfg.SessionTTL)
	}
	sess := session.Session{
		Token:       res.Token,
		ExpiresAt:   expires,
		User:        res.User,
		Application: res.Application,
	}

	ctx, cancel := context.WithTimeout(c.UserContext(), storeTimeout)
	defer cancel()
	if err := h.store.Commit(ctx, sess); err != nil {
		h.logger.Error("store session", logging.Err(err))
		return fiber.NewError(fiber.StatusServiceUnavailable, "penyimpanan sesi tidak tersedia")
	}
	h.nav.Clear()
	h.tokenChanged(ctx)

	h.logger.Info("session started", slog.Time("expires_at", expires))
	return c.Status(status).JSON(fiber.Map{
		"message":    res.Message,
		"user":       res.User,
		"expires_at": expires.UTC().Format(time.RFC3339),
		"redirect":   homePath,
	})
}

func (h *handlers) logout(c *fiber.Ctx) error {
	h.endSession(c.UserContext(), "logout")
	h.nav.Clear()
	return c.JSON(fiber.Map{"redirect": h.loginPath})
}

func (h *handlers) sessionStatus(c *fiber.Ctx) error {
	sess, err := h.store.Load(c.UserContext())
	if err != nil {
		h.logger.Error("load session", logging.Err(err))
		return fiber.NewError(fiber.StatusServiceUnavailable, "penyimpanan sesi tidak tersedia")
	}
	now := h.clock.Now()
	body := fiber.Map{
		"valid":   session.IsValid(sess, now),
		"refresh": h.loop.Status(),
	}
	if pending := h.nav.Pending(); pending != "" {
		body["redirect"] = pending
	}
	if session.IsValid(sess, now) {
		body["expires_at"] = sess.ExpiresAt.UTC().Format(time.RFC3339)
		body["remaining_seconds"] = int64(sess.Remaining(now) / time.Second)
		body["user"] = sess.User
		body["application"] = sess.Application
	}
	return c.JSON(body)
}
