package server

import (
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"

	"github.com/investa-id/investa_portal/internal/apiclient"
	"github.com/investa-id/investa_portal/internal/config"
	"github.com/investa-id/investa_portal/internal/gateway"
	"github.com/investa-id/investa_portal/internal/logging"
	"github.com/investa-id/investa_portal/internal/refresh"
	"github.com/investa-id/investa_portal/internal/session"
)

func testDeps(env string) gateway.Deps {
	store := session.NewMemoryStore(nil)
	api := apiclient.New("http://127.0.0.1:1", apiclient.WithRateLimit(0))
	return gateway.Deps{
		Cfg:    config.Config{AppEnv: env, StorageNamespace: "portal"},
		Store:  store,
		API:    api,
		Loop:   refresh.New(store, api, nil, refresh.Config{Logger: logging.Discard()}),
		Logger: logging.Discard(),
	}
}

func TestNewRequiresRedisOutsideDevelopment(t *testing.T) {
	if _, err := New(testDeps("production")); err == nil {
		t.Fatal("expected error without redis in production")
	}
}

func TestErrorsRenderAsJSON(t *testing.T) {
	srv, err := New(testDeps("development"))
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	defer srv.gw.Close()

	req := httptest.NewRequest(fiber.MethodPost, "/login", nil)
	req.Header.Set(fiber.HeaderContentType, "text/xml")
	resp, err := srv.App().Test(req)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	if resp.StatusCode != fiber.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
	if ct := resp.Header.Get(fiber.HeaderContentType); ct != fiber.MIMEApplicationJSON {
		t.Fatalf("expected json error body, got %q", ct)
	}
}
