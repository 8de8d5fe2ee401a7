package flow

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/investa-id/investa_portal/internal/apiclient"
	"github.com/investa-id/investa_portal/internal/logging"
)

const tickResolution = time.Second

var countdownTransitions = transitions{
	Idle:     {Fetching},
	Fetching: {Active, Failed, Expired, Resolved},
	Active:   {Expired, Resolved},
	Failed:   {Fetching},
}

// PaymentFetcher reads the server state of a payment.
type PaymentFetcher interface {
	PaymentStatus(ctx context.Context, token, orderID string) (apiclient.Payment, error)
}

// CountdownOptions tune a Countdown. Zero values select defaults.
type CountdownOptions struct {
	// PollEvery re-reads the payment while the countdown runs. Zero disables polling.
	PollEvery time.Duration
	Clock     clock.Clock
	Logger    *slog.Logger
}

// CountdownSnapshot is what the payment screen renders.
type CountdownSnapshot struct {
	State          State     `json:"state"`
	OrderID        string    `json:"order_id"`
	Amount         int64     `json:"amount"`
	PaymentMethod  string    `json:"payment_method"`
	PaymentChannel string    `json:"payment_channel"`
	PaymentCode    string    `json:"payment_code"`
	Deadline       time.Time `json:"deadline"`
	Remaining      string    `json:"remaining"`
	RemainingSecs  int64     `json:"remaining_seconds"`
	Error          string    `json:"error,omitempty"`
}

// Countdown follows one pending payment until it is paid or its deadline passes.
// Remaining time is always derived from the deadline, so missed ticks only
// delay the display, never the expiry.
type Countdown struct {
	api       PaymentFetcher
	clock     clock.Clock
	pollEvery time.Duration
	logger    *slog.Logger

	mu       sync.Mutex
	m        machine
	token    string
	orderID  string
	payment  apiclient.Payment
	deadline time.Time
	err      error
	ticker   *clock.Ticker
	cancel   context.CancelFunc
	lastPoll time.Time
	polling  bool
}

// NewCountdown builds an idle countdown.
func NewCountdown(api PaymentFetcher, opts CountdownOptions) *Countdown {
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	return &Countdown{
		api:       api,
		clock:     opts.Clock,
		pollEvery: opts.PollEvery,
		logger:    logging.Component(opts.Logger, "flow.countdown"),
		m:         newMachine(countdownTransitions),
	}
}

// Start fetches the payment and, if its deadline is still ahead, starts the
// one-second ticker. An already-expired payment goes straight to Expired.
func (c *Countdown) Start(ctx context.Context, token, orderID string) error {
	c.mu.Lock()
	if c.m.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if err := c.m.to(Fetching); err != nil {
		c.mu.Unlock()
		return fmt.Errorf("%w: %v", ErrBusy, err)
	}
	c.token, c.orderID, c.err = token, orderID, nil
	epoch := c.m.epoch
	c.mu.Unlock()

	payment, err := c.api.PaymentStatus(ctx, token, orderID)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.m.epoch != epoch {
		return ErrClosed
	}
	if err != nil {
		c.err = err
		_ = c.m.to(Failed)
		return err
	}

	c.payment = payment
	c.deadline = payment.ExpiredAt.Time
	now := c.clock.Now()
	c.lastPoll = now

	switch {
	case payment.Paid():
		return c.m.to(Resolved)
	case !now.Before(c.deadline):
		return c.m.to(Expired)
	}

	if err := c.m.to(Active); err != nil {
		return err
	}
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	c.ticker = c.clock.Ticker(tickResolution)
	c.cancel = cancel
	go c.run(runCtx, c.ticker, epoch)

	c.logger.Info("payment countdown started",
		slog.String("order_id", orderID),
		slog.Time("deadline", c.deadline),
	)
	return nil
}

func (c *Countdown) run(ctx context.Context, ticker *clock.Ticker, epoch uint64) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.tick(ctx, epoch)
		}
	}
}

func (c *Countdown) tick(ctx context.Context, epoch uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.m.epoch != epoch || c.m.state != Active {
		return
	}
	now := c.clock.Now()
	c.evaluateLocked(now)
	if c.m.state != Active || c.pollEvery <= 0 || c.polling || now.Sub(c.lastPoll) < c.pollEvery {
		return
	}
	c.polling = true
	c.lastPoll = now
	go c.poll(ctx, epoch)
}

func (c *Countdown) poll(ctx context.Context, epoch uint64) {
	c.mu.Lock()
	token, orderID := c.token, c.orderID
	c.mu.Unlock()

	payment, err := c.api.PaymentStatus(ctx, token, orderID)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.polling = false
	if c.m.epoch != epoch || c.m.state != Active {
		return
	}
	if err != nil {
		c.err = err
		c.logger.Warn("payment poll failed", slog.String("order_id", orderID), logging.Err(err))
		return
	}
	c.err = nil
	c.payment = payment
	if !payment.ExpiredAt.IsZero() {
		c.deadline = payment.ExpiredAt.Time
	}
	if payment.Paid() {
		_ = c.m.to(Resolved)
		c.stopTimerLocked()
		c.logger.Info("payment confirmed", slog.String("order_id", orderID))
		return
	}
	c.evaluateLocked(c.clock.Now())
}

// evaluateLocked expires an active countdown whose deadline has passed.
func (c *Countdown) evaluateLocked(now time.Time) {
	if c.m.state != Active || now.Before(c.deadline) {
		return
	}
	_ = c.m.to(Expired)
	c.stopTimerLocked()
	c.logger.Info("payment countdown expired", slog.String("order_id", c.orderID))
}

func (c *Countdown) stopTimerLocked() {
	if c.ticker == nil {
		return
	}
	c.ticker.Stop()
	c.cancel()
	c.ticker = nil
	c.cancel = nil
}

// Snapshot evaluates the deadline against the clock and returns the screen state.
func (c *Countdown) Snapshot() CountdownSnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.clock.Now()
	c.evaluateLocked(now)

	snap := CountdownSnapshot{
		State:          c.m.state,
		OrderID:        c.orderID,
		Amount:         c.payment.Amount,
		PaymentMethod:  c.payment.PaymentMethod,
		PaymentChannel: c.payment.PaymentChannel,
		PaymentCode:    c.payment.PaymentCode,
		Deadline:       c.deadline,
		Remaining:      formatRemaining(0),
	}
	if c.m.state == Active {
		remaining := c.deadline.Sub(now)
		snap.Remaining = formatRemaining(remaining)
		snap.RemainingSecs = int64(remaining.Round(time.Second) / time.Second)
	}
	if c.err != nil {
		snap.Error = c.err.Error()
	}
	return snap
}

// TimerRunning reports whether the countdown holds a live ticker.
func (c *Countdown) TimerRunning() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ticker != nil
}

// Close releases the ticker and drops any result still on its way.
func (c *Countdown) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.m.close()
	c.stopTimerLocked()
}

func formatRemaining(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	total := int64(d.Round(time.Second) / time.Second)
	return fmt.Sprintf("%02d:%02d:%02d", total/3600, (total%3600)/60, total%60)
}
