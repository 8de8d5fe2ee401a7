package gateway

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/investa-id/investa_portal/internal/apiclient"
)

func (h *handlers) dashboard(c *fiber.Ctx) error {
	sess := currentSession(c)
	now := h.clock.Now()
	return c.JSON(fiber.Map{
		"user":              sess.User,
		"application":       sess.Application,
		"remaining_seconds": int64(sess.Remaining(now) / time.Second),
	})
}

func (h *handlers) products(c *fiber.Ctx) error {
	items, err := h.api.Products(c.UserContext(), currentSession(c).Token)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(fiber.Map{"products": items})
}

func (h *handlers) invest(c *fiber.Ctx) error {
	var req apiclient.InvestRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}
	order, err := h.api.Invest(c.UserContext(), currentSession(c).Token, req)
	if err != nil {
		return h.fail(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"order_id": order.OrderID,
		"amount":   order.Amount,
		"message":  order.Message,
		"payment":  "/payments/" + order.OrderID,
	})
}

func (h *handlers) withdraw(c *fiber.Ctx) error {
	var req apiclient.WithdrawRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}
	sess := currentSession(c)
	if err := apiclient.ValidateWithdraw(req, sess.User, sess.Application); err != nil {
		return h.fail(c, err)
	}
	receipt, err := h.api.Withdraw(c.UserContext(), sess.Token, req)
	if err != nil {
		return h.fail(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"withdrawal": receipt,
		"message":    receipt.Message,
	})
}

func (h *handlers) referrals(c *fiber.Ctx) error {
	refs, err := h.api.Referrals(c.UserContext(), currentSession(c).Token)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(refs)
}

// forum uploads a testimonial from a multipart form with "description" and "image".
func (h *handlers) forum(c *fiber.Ctx) error {
	post := apiclient.Testimonial{Description: c.FormValue("description")}
	if fh, err := c.FormFile("image"); err == nil {
		f, err := fh.Open()
		if err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "gambar tidak dapat dibaca")
		}
		defer f.Close()
		post.Filename = fh.Filename
		post.Image = f
	}
	msg, err := h.api.UploadTestimonial(c.UserContext(), currentSession(c).Token, post)
	if err != nil {
		return h.fail(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"message": msg})
}
