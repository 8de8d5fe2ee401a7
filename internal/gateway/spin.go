package gateway

import (
	"fmt"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/investa-id/investa_portal/internal/flow"
)

// DefaultPrizes is the wheel layout used when none is configured.
var DefaultPrizes = []flow.Prize{
	{Code: "ZONK", Label: "Coba lagi"},
	{Code: "CASH_5K", Label: "Rp 5.000"},
	{Code: "CASH_10K", Label: "Rp 10.000"},
	{Code: "CASH_25K", Label: "Rp 25.000"},
	{Code: "CASH_50K", Label: "Rp 50.000"},
	{Code: "CASH_100K", Label: "Rp 100.000"},
}

// ParsePrizes reads a wheel layout written as "CODE:Label,CODE:Label".
// An empty string yields DefaultPrizes.
func ParsePrizes(raw string) ([]flow.Prize, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return DefaultPrizes, nil
	}
	var prizes []flow.Prize
	for _, item := range strings.Split(raw, ",") {
		code, label, ok := strings.Cut(strings.TrimSpace(item), ":")
		code = strings.TrimSpace(code)
		if !ok || code == "" {
			return nil, fmt.Errorf("invalid prize %q, want CODE:Label", item)
		}
		prizes = append(prizes, flow.Prize{Code: code, Label: strings.TrimSpace(label)})
	}
	return prizes, nil
}

// currentWheel returns the wheel of this context, building a new one after
// the previous one was closed by a logout.
func (h *handlers) currentWheel() (*flow.Wheel, error) {
	h.flowsMu.Lock()
	defer h.flowsMu.Unlock()
	if h.wheel != nil {
		return h.wheel, nil
	}
	w, err := flow.NewWheel(h.api, h.store, flow.WheelOptions{
		Prizes: h.prizes,
		Clock:  h.clock,
		Logger: h.base,
	})
	if err != nil {
		return nil, err
	}
	h.wheel = w
	return w, nil
}

func (h *handlers) spinPage(c *fiber.Ctx) error {
	w, err := h.currentWheel()
	if err != nil {
		return err
	}
	snap := w.Snapshot()
	tickets := 0
	if user := currentSession(c).User; user != nil {
		tickets = user.SpinTickets
	}
	return c.JSON(fiber.Map{
		"prizes":  w.Prizes(),
		"tickets": tickets,
		"wheel":   snap,
	})
}

func (h *handlers) spin(c *fiber.Ctx) error {
	w, err := h.currentWheel()
	if err != nil {
		return err
	}
	outcome, err := w.Spin(c.UserContext(), currentSession(c))
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(fiber.Map{
		"outcome": outcome,
		"wheel":   w.Snapshot(),
	})
}
