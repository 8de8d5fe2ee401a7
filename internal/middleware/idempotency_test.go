package middleware

import (
	"io"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"

	"github.com/investa-id/investa_portal/internal/logging"
)

func setupIdempotentApp(t *testing.T, status int) (*fiber.App, *atomic.Int32) {
	t.Helper()
	mr := miniredis.RunT(t)
	cache := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { cache.Close() })

	var calls atomic.Int32
	app := fiber.New()
	app.Use(Idempotency(cache, "portal", time.Minute, logging.Discard()))
	app.Post("/investments", func(c *fiber.Ctx) error {
		n := calls.Add(1)
		return c.Status(status).JSON(fiber.Map{"order_id": "INV-1", "call": n})
	})
	return app, &calls
}

func post(t *testing.T, app *fiber.App, key string) (int, string, string) {
	t.Helper()
	req := httptest.NewRequest(fiber.MethodPost, "/investments", strings.NewReader("{}"))
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	if key != "" {
		req.Header.Set(IdempotencyKeyHeader, key)
	}
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return resp.StatusCode, string(body), resp.Header.Get(replayedHeader)
}

func TestIdempotencyWithoutHeaderPassesThrough(t *testing.T) {
	app, calls := setupIdempotentApp(t, fiber.StatusCreated)

	post(t, app, "")
	post(t, app, "")

	if got := calls.Load(); got != 2 {
		t.Fatalf("expected handler to run twice, ran %d", got)
	}
}

func TestIdempotencyReplaysStoredResponse(t *testing.T) {
	app, calls := setupIdempotentApp(t, fiber.StatusCreated)

	status, first, replayed := post(t, app, "abc123")
	if status != fiber.StatusCreated || replayed != "" {
		t.Fatalf("first submit: status %d replayed %q", status, replayed)
	}

	status, second, replayed := post(t, app, "abc123")
	if status != fiber.StatusCreated {
		t.Fatalf("expected cached status %d got %d", fiber.StatusCreated, status)
	}
	if replayed != "true" {
		t.Fatalf("expected replay marker, got %q", replayed)
	}
	if second != first {
		t.Fatalf("expected cached payload %s got %s", first, second)
	}
	if got := calls.Load(); got != 1 {
		t.Fatalf("handler ran %d times", got)
	}
}

func TestIdempotencyDoesNotStoreFailures(t *testing.T) {
	app, calls := setupIdempotentApp(t, fiber.StatusBadGateway)

	post(t, app, "retry-me")
	post(t, app, "retry-me")

	if got := calls.Load(); got != 2 {
		t.Fatalf("failed submit must be retryable, handler ran %d times", got)
	}
}
