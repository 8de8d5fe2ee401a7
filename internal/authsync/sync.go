// Package authsync keeps the refresh loop aligned with the stored session
// when the store changes underneath it: another context wrote shared storage,
// or this context logged in or out.
package authsync

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/investa-id/investa_portal/internal/logging"
	"github.com/investa-id/investa_portal/internal/refresh"
	"github.com/investa-id/investa_portal/internal/session"
	"github.com/investa-id/investa_portal/internal/signals"
)

const clearTimeout = 5 * time.Second

// Loop is the part of refresh.Loop the syncer drives.
type Loop interface {
	Start() bool
	Stop()
	Refresh(ctx context.Context) (bool, error)
}

// Options tune a Syncer. Zero values select defaults.
type Options struct {
	LoginPath string
	Clock     clock.Clock
	Logger    *slog.Logger
}

// Syncer reacts to auth signals. It owns no timers of its own.
type Syncer struct {
	store     session.Store
	loop      Loop
	source    signals.Source
	nav       refresh.Navigator
	clock     clock.Clock
	loginPath string
	logger    *slog.Logger
}

// New builds a syncer.
func New(store session.Store, loop Loop, source signals.Source, nav refresh.Navigator, opts Options) *Syncer {
	if opts.LoginPath == "" {
		opts.LoginPath = refresh.DefaultLoginPath
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if nav == nil {
		nav = refresh.NavigatorFunc(func(string) {})
	}
	return &Syncer{
		store:     store,
		loop:      loop,
		source:    source,
		nav:       nav,
		clock:     opts.Clock,
		loginPath: opts.LoginPath,
		logger:    logging.Component(opts.Logger, "authsync"),
	}
}

// Run reconciles once for the initial load and then on every relevant
// signal, until ctx is done.
func (s *Syncer) Run(ctx context.Context) error {
	events, err := s.source.Subscribe(ctx)
	if err != nil {
		return err
	}

	s.Reconcile(ctx)

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			if !s.relevant(ev) {
				continue
			}
			s.logger.Debug("auth signal", slog.String("kind", string(ev.Kind)), slog.String("origin", ev.Origin))
			s.Reconcile(ctx)
		}
	}
}

func (s *Syncer) relevant(ev signals.Event) bool {
	switch ev.Kind {
	case signals.TokenChanged:
		return true
	case signals.StorageChanged:
		return ev.Touches(session.KeyToken, session.KeyExpiresAt)
	default:
		return false
	}
}

// Reconcile recomputes validity from storage and starts or stops the loop.
// It reports whether a valid session was found.
func (s *Syncer) Reconcile(ctx context.Context) bool {
	sess, err := s.store.Load(ctx)
	if err != nil {
		s.logger.Warn("load session during sync", logging.Err(err))
		sess = nil
	}

	if !session.IsValid(sess, s.clock.Now()) {
		s.loop.Stop()
		clearCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), clearTimeout)
		defer cancel()
		if err := s.store.Clear(clearCtx); err != nil {
			s.logger.Error("clear session during sync", logging.Err(err))
		}
		s.nav.Navigate(s.loginPath)
		return false
	}

	if _, err := s.loop.Refresh(ctx); err != nil {
		if errors.Is(err, refresh.ErrSessionEnded) {
			return false
		}
		s.logger.Warn("immediate refresh failed", logging.Err(err))
	}
	s.loop.Start()
	return true
}
