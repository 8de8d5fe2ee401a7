package gateway

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/investa-id/investa_portal/internal/flow"
)

// countdown returns the running countdown for orderID, creating one if the
// payment screen is opened for the first time.
func (h *handlers) countdown(orderID string) *flow.Countdown {
	h.flowsMu.Lock()
	defer h.flowsMu.Unlock()
	if cd, ok := h.payments[orderID]; ok {
		return cd
	}
	cd := flow.NewCountdown(h.api, flow.CountdownOptions{
		PollEvery: h.cfg.PaymentPoll,
		Clock:     h.clock,
		Logger:    h.base,
	})
	h.payments[orderID] = cd
	return cd
}

func (h *handlers) paymentStatus(c *fiber.Ctx) error {
	orderID := c.Params("orderId")
	cd := h.countdown(orderID)

	switch cd.Snapshot().State {
	case flow.Idle, flow.Failed:
		err := cd.Start(c.UserContext(), currentSession(c).Token, orderID)
		if err != nil && !errors.Is(err, flow.ErrBusy) {
			h.evict(orderID, cd)
			return h.fail(c, err)
		}
	}

	snap := cd.Snapshot()
	switch snap.State {
	case flow.Expired, flow.Resolved:
		h.evict(orderID, cd)
	}
	return c.JSON(snap)
}

// leavePayment closes the screen's countdown.
func (h *handlers) leavePayment(c *fiber.Ctx) error {
	orderID := c.Params("orderId")
	h.flowsMu.Lock()
	cd, ok := h.payments[orderID]
	h.flowsMu.Unlock()
	if ok {
		h.evict(orderID, cd)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// evict drops cd from the map, unless a newer countdown already replaced it,
// and closes it.
func (h *handlers) evict(orderID string, cd *flow.Countdown) {
	h.flowsMu.Lock()
	if h.payments[orderID] == cd {
		delete(h.payments, orderID)
	}
	h.flowsMu.Unlock()
	cd.Close()
}
