// Package gateway serves the portal pages on top of the session store, the
// refresh loop and the timed flows.
package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/redis/go-redis/v9"

	"github.com/investa-id/investa_portal/internal/apiclient"
	"github.com/investa-id/investa_portal/internal/config"
	"github.com/investa-id/investa_portal/internal/flow"
	"github.com/investa-id/investa_portal/internal/logging"
	"github.com/investa-id/investa_portal/internal/middleware"
	"github.com/investa-id/investa_portal/internal/refresh"
	"github.com/investa-id/investa_portal/internal/session"
	"github.com/investa-id/investa_portal/internal/signals"
)

const (
	sessionLocal = "session"
	storeTimeout = 5 * time.Second
)

// API is the part of the REST client the pages use.
type API interface {
	Login(ctx context.Context, req apiclient.LoginRequest) (apiclient.AuthResult, error)
	Register(ctx context.Context, req apiclient.RegisterRequest) (apiclient.AuthResult, error)
	Products(ctx context.Context, token string) ([]apiclient.Product, error)
	Invest(ctx context.Context, token string, req apiclient.InvestRequest) (apiclient.Order, error)
	PaymentStatus(ctx context.Context, token, orderID string) (apiclient.Payment, error)
	Spin(ctx context.Context, token string) (apiclient.SpinResult, error)
	Withdraw(ctx context.Context, token string, req apiclient.WithdrawRequest) (apiclient.Withdrawal, error)
	Referrals(ctx context.Context, token string) (apiclient.Referrals, error)
	UploadTestimonial(ctx context.Context, token string, t apiclient.Testimonial) (string, error)
	Ping(ctx context.Context) error
}

// Loop is the part of the refresh loop the pages use.
type Loop interface {
	Stop()
	Status() refresh.Status
}

// Deps aggregates shared dependencies required to wire the pages.
type Deps struct {
	Cfg       config.Config
	Cache     *redis.Client
	Store     session.Store
	API       API
	Loop      Loop
	Signals   signals.Publisher
	Navigator *Navigator
	// ContextID identifies this portal process among those sharing storage.
	ContextID string
	Prizes    []flow.Prize
	Clock     clock.Clock
	Logger    *slog.Logger
}

// Gateway owns the per-screen flows created while serving pages.
type Gateway struct {
	h *handlers
}

// Close stops every running countdown and wheel animation.
func (g *Gateway) Close() {
	g.h.closeFlows()
}

// Setup configures middlewares and all portal routes on app.
func Setup(app *fiber.App, d Deps) (*Gateway, error) {
	if d.Store == nil || d.API == nil || d.Loop == nil {
		return nil, fmt.Errorf("gateway requires store, api and loop")
	}
	if d.Cache == nil && !d.Cfg.IsDev() {
		return nil, fmt.Errorf("redis is required when APP_ENV=%s", d.Cfg.AppEnv)
	}
	if d.Clock == nil {
		d.Clock = clock.New()
	}
	if d.Navigator == nil {
		d.Navigator = NewNavigator(d.Logger)
	}
	if len(d.Prizes) == 0 {
		d.Prizes = DefaultPrizes
	}

	h := &handlers{
		cfg:       d.Cfg,
		cache:     d.Cache,
		store:     d.Store,
		api:       d.API,
		loop:      d.Loop,
		signals:   d.Signals,
		nav:       d.Navigator,
		contextID: d.ContextID,
		prizes:    d.Prizes,
		clock:     d.Clock,
		logger:    logging.Component(d.Logger, "gateway"),
		base:      d.Logger,
		loginPath: refresh.DefaultLoginPath,
		payments:  make(map[string]*flow.Countdown),
	}
	if _, err := h.currentWheel(); err != nil {
		return nil, err
	}

	app.Use(recover.New())
	app.Use(middleware.RequestID())
	// Plain text access log: [HH:MM:SS] 200 -  145ms METHOD /path
	app.Use(logger.New(logger.Config{
		Format:     "[${time}] ${status} -  ${latency} ${method} ${path}\n",
		TimeFormat: "15:04:05",
		TimeZone:   "Local",
	}))
	app.Use(middleware.Audit(h.logger, d.ContextID, "/healthz"))

	registerHealthRoutes(app, h)

	ns := d.Cfg.StorageNamespace
	app.Get("/login", h.loginPage)
	app.Post("/login", middleware.LoginRateLimit(d.Cache, ns, d.Cfg.LoginAttempts, h.logger), h.login)
	app.Post("/register", h.register)
	app.Post("/logout", h.logout)
	app.Get("/session", h.sessionStatus)

	submit := middleware.Idempotency(d.Cache, ns, d.Cfg.SubmitTTL, h.logger)
	protected := app.Group("", h.requireSession)
	protected.Get("/dashboard", h.dashboard)
	protected.Get("/products", h.products)
	protected.Post("/investments", submit, h.invest)
	protected.Get("/payments/:orderId", h.paymentStatus)
	protected.Delete("/payments/:orderId", h.leavePayment)
	protected.Get("/spin", h.spinPage)
	protected.Post("/spin", h.spin)
	protected.Post("/withdrawals", submit, h.withdraw)
	protected.Get("/referrals", h.referrals)
	protected.Post("/forum", h.forum)

	return &Gateway{h: h}, nil
}

type handlers struct {
	cfg       config.Config
	cache     *redis.Client
	store     session.Store
	api       API
	loop      Loop
	signals   signals.Publisher
	nav       *Navigator
	contextID string
	prizes    []flow.Prize
	clock     clock.Clock
	logger    *slog.Logger
	base      *slog.Logger
	loginPath string

	flowsMu  sync.Mutex
	payments map[string]*flow.Countdown
	wheel    *flow.Wheel
}

// requireSession gates protected pages on a valid stored session.
func (h *handlers) requireSession(c *fiber.Ctx) error {
	sess, err := h.store.Load(c.UserContext())
	if err != nil {
		h.logger.Error("load session", logging.Err(err))
		return fiber.NewError(fiber.StatusServiceUnavailable, "penyimpanan sesi tidak tersedia")
	}
	if !session.IsValid(sess, h.clock.Now()) {
		if sess != nil {
			h.endSession(c.UserContext(), "session expired")
		}
		return h.toLogin(c)
	}
	c.Locals(sessionLocal, sess)
	return c.Next()
}

func currentSession(c *fiber.Ctx) *session.Session {
	sess, _ := c.Locals(sessionLocal).(*session.Session)
	return sess
}

// endSession tears down local session state after the session stopped being
// valid or the user logged out.
func (h *handlers) endSession(ctx context.Context, reason string) {
	h.loop.Stop()
	h.closeFlows()

	clearCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), storeTimeout)
	defer cancel()
	if err := h.store.Clear(clearCtx); err != nil {
		h.logger.Error("clear session", logging.Err(err))
	}
	h.tokenChanged(clearCtx)
	h.nav.Navigate(h.loginPath)
	h.logger.Info("session ended", slog.String("reason", reason))
}

// tokenChanged tells this context's listeners that login state changed.
func (h *handlers) tokenChanged(ctx context.Context) {
	if h.signals == nil {
		return
	}
	ev := signals.Event{
		Kind:   signals.TokenChanged,
		Keys:   session.AllKeys,
		Origin: h.contextID,
		At:     h.clock.Now(),
	}
	if err := h.signals.Publish(ctx, ev); err != nil {
		h.logger.Warn("publish token change", logging.Err(err))
	}
}

func (h *handlers) closeFlows() {
	h.flowsMu.Lock()
	defer h.flowsMu.Unlock()
	for id, cd := range h.payments {
		cd.Close()
		delete(h.payments, id)
	}
	if h.wheel != nil {
		h.wheel.Close()
		h.wheel = nil
	}
}
