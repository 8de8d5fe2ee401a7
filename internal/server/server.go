package server

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/investa-id/investa_portal/internal/config"
	"github.com/investa-id/investa_portal/internal/gateway"
)

// Server wraps the Fiber application serving the portal pages.
type Server struct {
	app *fiber.App
	cfg config.Config
	gw  *gateway.Gateway
}

// New instantiates the HTTP server and delegates route wiring to gateway.Setup.
func New(deps gateway.Deps) (*Server, error) {
	app := fiber.New(fiber.Config{
		AppName:               deps.Cfg.AppName,
		ReadTimeout:           30 * time.Second,
		WriteTimeout:          30 * time.Second,
		ErrorHandler:          gateway.ErrorHandler,
		DisableStartupMessage: !deps.Cfg.IsDev(),
	})

	gw, err := gateway.Setup(app, deps)
	if err != nil {
		return nil, err
	}

	return &Server{app: app, cfg: deps.Cfg, gw: gw}, nil
}

// App exposes the Fiber application, mainly for tests.
func (s *Server) App() *fiber.App {
	return s.app
}

// Listen starts the HTTP server.
func (s *Server) Listen() error {
	return s.app.Listen(s.cfg.Address())
}

// Shutdown stops the running flows and then the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.gw.Close()
	return s.app.ShutdownWithContext(ctx)
}
