package middleware

import (
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
)

const loginWindow = time.Minute

// LoginRateLimit caps login attempts per phone number (or client IP when the
// number is missing) within a one-minute window. Counters live in Redis so
// every context sharing the store shares the budget. Without Redis, or when
// Redis fails, it lets the request through.
func LoginRateLimit(cache *redis.Client, namespace string, maxPerMin int, logger *slog.Logger) fiber.Handler {
	if maxPerMin <= 0 {
		maxPerMin = 5
	}
	return func(c *fiber.Ctx) error {
		if cache == nil {
			return c.Next()
		}
		var req struct {
			Number string `json:"number" form:"number"`
		}
		_ = c.BodyParser(&req)
		subject := strings.TrimSpace(req.Number)
		if subject == "" {
			subject = c.IP()
		}
		key := namespace + ":rl:login:" + subject

		ctx := c.UserContext()
		cnt, err := cache.Incr(ctx, key).Result()
		if err != nil {
			logger.Warn("login rate limit unavailable", slog.Any("error", err))
			return c.Next()
		}
		if cnt == 1 {
			cache.Expire(ctx, key, loginWindow)
		}
		if cnt > int64(maxPerMin) {
			if ttl, err := cache.TTL(ctx, key).Result(); err == nil && ttl > 0 {
				c.Set(fiber.HeaderRetryAfter, strconv.Itoa(int(ttl.Round(time.Second)/time.Second)))
			}
			return fiber.NewError(fiber.StatusTooManyRequests, "terlalu banyak percobaan masuk, coba lagi nanti")
		}
		return c.Next()
	}
}
