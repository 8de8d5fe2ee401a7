// Package refresh keeps a live session's cached profile current and tears the
// session down as soon as it stops being valid.
package refresh

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/investa-id/investa_portal/internal/apiclient"
	"github.com/investa-id/investa_portal/internal/logging"
	"github.com/investa-id/investa_portal/internal/session"
)

const (
	// DefaultInterval is the poll period used when none is configured.
	DefaultInterval = 10 * time.Second
	// DefaultLoginPath is where an ended session sends the user.
	DefaultLoginPath = "/login"

	teardownTimeout = 5 * time.Second
)

// ErrSessionEnded is returned by Refresh when the call tore the session down.
var ErrSessionEnded = errors.New("session ended")

// State of the loop.
type State int

const (
	Stopped State = iota
	Running
)

func (s State) String() string {
	if s == Running {
		return "running"
	}
	return "stopped"
}

// Navigator receives redirect requests.
type Navigator interface {
	Navigate(path string)
}

// NavigatorFunc adapts a function to Navigator.
type NavigatorFunc func(path string)

func (f NavigatorFunc) Navigate(path string) { f(path) }

// ProfileFetcher re-reads the profile of a session.
type ProfileFetcher interface {
	UserInfo(ctx context.Context, token string) (apiclient.Profile, error)
}

// Config tunes a Loop. Zero values select defaults.
type Config struct {
	Interval  time.Duration
	LoginPath string
	Clock     clock.Clock
	Logger    *slog.Logger
}

// Status is a point-in-time view of the loop for display.
type Status struct {
	State       State     `json:"-"`
	StateName   string    `json:"state"`
	LastRefresh time.Time `json:"last_refresh,omitempty"`
	LastError   string    `json:"last_error,omitempty"`
}

// Loop polls the profile endpoint on a fixed period while a session is valid.
// It owns the only poll timer; Start and Stop are idempotent.
type Loop struct {
	store     session.Store
	api       ProfileFetcher
	nav       Navigator
	clock     clock.Clock
	interval  time.Duration
	loginPath string
	logger    *slog.Logger

	inFlight atomic.Bool

	mu          sync.Mutex
	ticker      *clock.Ticker
	cancel      context.CancelFunc
	epoch       uint64
	lastRefresh time.Time
	lastErr     error
}

// New builds a stopped loop.
func New(store session.Store, api ProfileFetcher, nav Navigator, cfg Config) *Loop {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.LoginPath == "" {
		cfg.LoginPath = DefaultLoginPath
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	if nav == nil {
		nav = NavigatorFunc(func(string) {})
	}
	return &Loop{
		store:     store,
		api:       api,
		nav:       nav,
		clock:     cfg.Clock,
		interval:  cfg.Interval,
		loginPath: cfg.LoginPath,
		logger:    logging.Component(cfg.Logger, "refresh"),
	}
}

// Start moves the loop to Running. It reports false when the loop was
// already running, in which case nothing changes.
func (l *Loop) Start() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.ticker != nil {
		return false
	}

	ctx, cancel := context.WithCancel(context.Background())
	ticker := l.clock.Ticker(l.interval)
	l.ticker = ticker
	l.cancel = cancel
	epoch := l.epoch

	go l.run(ctx, ticker, epoch)

	l.logger.Info("refresh loop started", slog.Duration("interval", l.interval))
	return true
}

// Stop moves the loop to Stopped, releases the timer and abandons any refresh
// still in flight. Calling it on a stopped loop is harmless.
func (l *Loop) Stop() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.epoch++
	if l.ticker == nil {
		return
	}
	l.ticker.Stop()
	l.cancel()
	l.ticker = nil
	l.cancel = nil
	l.logger.Info("refresh loop stopped")
}

// State reports whether the loop is running.
func (l *Loop) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.ticker != nil {
		return Running
	}
	return Stopped
}

// Status returns the state and the outcome of the latest refresh.
func (l *Loop) Status() Status {
	l.mu.Lock()
	defer l.mu.Unlock()
	st := Status{State: Stopped, LastRefresh: l.lastRefresh}
	if l.ticker != nil {
		st.State = Running
	}
	st.StateName = st.State.String()
	if l.lastErr != nil {
		st.LastError = l.lastErr.Error()
	}
	return st
}

// Refresh validates the stored session and re-fetches its profile now. It
// reports false without doing anything when another refresh is in flight.
func (l *Loop) Refresh(ctx context.Context) (bool, error) {
	return l.refresh(ctx, l.currentEpoch())
}

func (l *Loop) run(ctx context.Context, ticker *clock.Ticker, epoch uint64) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := l.refresh(ctx, epoch); err != nil && !errors.Is(err, ErrSessionEnded) {
				l.logger.Debug("scheduled refresh failed", logging.Err(err))
			}
		}
	}
}

func (l *Loop) refresh(ctx context.Context, epoch uint64) (bool, error) {
	if !l.inFlight.CompareAndSwap(false, true) {
		l.logger.Debug("refresh dropped, another is in flight")
		return false, nil
	}
	defer l.inFlight.Store(false)

	sess, err := l.store.Load(ctx)
	if err != nil {
		l.recordError(epoch, err)
		return true, fmt.Errorf("load session: %w", err)
	}
	if !session.IsValid(sess, l.clock.Now()) {
		l.teardown(ctx, epoch, "session expired")
		return true, ErrSessionEnded
	}

	profile, err := l.api.UserInfo(ctx, sess.Token)
	if l.stale(epoch) {
		return true, nil
	}

	if err != nil {
		if _, business := apiclient.AsBusiness(err); business || errors.Is(err, apiclient.ErrSessionInvalid) {
			l.teardown(ctx, epoch, err.Error())
			return true, ErrSessionEnded
		}
		l.recordError(epoch, err)
		l.logger.Warn("profile refresh failed, keeping session", logging.Err(err))
		return true, err
	}

	user, app := profile.User, profile.Application
	if user == nil {
		user = sess.User
	}
	if app == nil {
		app = sess.Application
	}
	if err := l.store.CommitProfile(ctx, user, app); err != nil {
		if errors.Is(err, session.ErrNoSession) {
			l.logger.Debug("session cleared during refresh, profile dropped")
			return true, nil
		}
		l.recordError(epoch, err)
		return true, fmt.Errorf("commit profile: %w", err)
	}

	l.mu.Lock()
	if l.epoch == epoch {
		l.lastRefresh = l.clock.Now()
		l.lastErr = nil
	}
	l.mu.Unlock()
	return true, nil
}

// teardown stops the loop, clears storage and redirects, unless a Stop
// already superseded the caller.
func (l *Loop) teardown(ctx context.Context, epoch uint64, reason string) {
	if l.stale(epoch) {
		return
	}
	l.Stop()

	clearCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), teardownTimeout)
	defer cancel()
	if err := l.store.Clear(clearCtx); err != nil {
		l.logger.Error("clear session failed", logging.Err(err))
	}

	l.mu.Lock()
	l.lastErr = nil
	l.mu.Unlock()

	l.logger.Info("session ended", slog.String("reason", reason))
	l.nav.Navigate(l.loginPath)
}

func (l *Loop) recordError(epoch uint64, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.epoch == epoch {
		l.lastErr = err
	}
}

func (l *Loop) currentEpoch() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.epoch
}

func (l *Loop) stale(epoch uint64) bool {
	return l.currentEpoch() != epoch
}
