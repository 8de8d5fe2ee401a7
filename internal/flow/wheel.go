package flow

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/investa-id/investa_portal/internal/apiclient"
	"github.com/investa-id/investa_portal/internal/logging"
	"github.com/investa-id/investa_portal/internal/session"
)

const (
	defaultSpinDuration = 4 * time.Second
	defaultTurns        = 5
	windUpDegrees       = 30.0
	commitTimeout       = 5 * time.Second
)

var wheelTransitions = transitions{
	Idle:     {Fetching},
	Fetching: {Active, Failed},
	Active:   {Resolved},
	Resolved: {Fetching},
	Failed:   {Fetching},
}

// ErrNoTickets is returned when the user has no spin tickets left.
var ErrNoTickets = &apiclient.ValidationError{Field: "spin_ticket", Message: "tiket spin tidak mencukupi"}

// Prize is one wheel segment, identified by the code the server returns.
type Prize struct {
	Code  string `json:"code"`
	Label string `json:"label"`
}

// Spinner performs a spin on the server.
type Spinner interface {
	Spin(ctx context.Context, token string) (apiclient.SpinResult, error)
}

// ProfileWriter stores server-confirmed profile changes.
type ProfileWriter interface {
	Load(ctx context.Context) (*session.Session, error)
	CommitProfile(ctx context.Context, user *session.UserProfile, app *session.AppConfig) error
}

// WheelOptions tune a Wheel. Zero values select defaults.
type WheelOptions struct {
	Prizes []Prize
	// DefaultIndex is shown when the server returns a prize code the wheel
	// does not know.
	DefaultIndex int
	Duration     time.Duration
	Turns        int
	Clock        clock.Clock
	Logger       *slog.Logger
}

// SpinOutcome describes the segment a spin will land on.
type SpinOutcome struct {
	Index        int                  `json:"index"`
	Prize        Prize                `json:"prize"`
	Approximated bool                 `json:"approximated"`
	Result       apiclient.SpinResult `json:"-"`
}

// WheelSnapshot is what the spin screen renders.
type WheelSnapshot struct {
	State    State        `json:"state"`
	Rotation float64      `json:"rotation"`
	Progress float64      `json:"progress"`
	Outcome  *SpinOutcome `json:"outcome,omitempty"`
	Balance  int64        `json:"balance"`
	Message  string       `json:"message,omitempty"`
	Error    string       `json:"error,omitempty"`
}

// Wheel animates spins whose outcome the server decides. The visual rotation
// only ever settles on a server-confirmed result; a failed spin snaps back to
// the last confirmed angle.
type Wheel struct {
	api          Spinner
	profile      ProfileWriter
	prizes       []Prize
	defaultIndex int
	duration     time.Duration
	turns        int
	clock        clock.Clock
	logger       *slog.Logger

	mu        sync.Mutex
	m         machine
	confirmed float64
	rotation  float64
	from      float64
	target    float64
	started   time.Time
	outcome   *SpinOutcome
	err       error
	timer     *clock.Timer
}

// NewWheel builds an idle wheel.
func NewWheel(api Spinner, profile ProfileWriter, opts WheelOptions) (*Wheel, error) {
	if len(opts.Prizes) == 0 {
		return nil, fmt.Errorf("wheel needs at least one prize")
	}
	if opts.DefaultIndex < 0 || opts.DefaultIndex >= len(opts.Prizes) {
		return nil, fmt.Errorf("default index %d out of range", opts.DefaultIndex)
	}
	if opts.Duration <= 0 {
		opts.Duration = defaultSpinDuration
	}
	if opts.Turns <= 0 {
		opts.Turns = defaultTurns
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	return &Wheel{
		api:          api,
		profile:      profile,
		prizes:       opts.Prizes,
		defaultIndex: opts.DefaultIndex,
		duration:     opts.Duration,
		turns:        opts.Turns,
		clock:        opts.Clock,
		logger:       logging.Component(opts.Logger, "flow.wheel"),
		m:            newMachine(wheelTransitions),
	}, nil
}

// Prizes returns the wheel segments in order.
func (w *Wheel) Prizes() []Prize {
	return append([]Prize(nil), w.prizes...)
}

// Spin checks tickets locally, asks the server for the outcome and starts the
// landing animation. It returns once the animation has started.
func (w *Wheel) Spin(ctx context.Context, sess *session.Session) (SpinOutcome, error) {
	if sess == nil || sess.User == nil || sess.User.SpinTickets <= 0 {
		return SpinOutcome{}, ErrNoTickets
	}

	w.mu.Lock()
	if w.m.closed {
		w.mu.Unlock()
		return SpinOutcome{}, ErrClosed
	}
	if err := w.m.to(Fetching); err != nil {
		w.mu.Unlock()
		return SpinOutcome{}, ErrBusy
	}
	w.err = nil
	w.outcome = nil
	w.rotation = w.confirmed + windUpDegrees
	epoch := w.m.epoch
	w.mu.Unlock()

	res, err := w.api.Spin(ctx, sess.Token)

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.m.epoch != epoch {
		w.rotation = w.confirmed
		return SpinOutcome{}, ErrClosed
	}
	if err != nil {
		w.rotation = w.confirmed
		w.err = err
		_ = w.m.to(Failed)
		return SpinOutcome{}, err
	}

	outcome := w.outcomeFor(res)
	if outcome.Approximated {
		w.logger.Warn("unknown prize code, showing default segment",
			slog.String("code", res.Code),
			slog.Int("default_index", w.defaultIndex),
		)
	}

	w.from = w.rotation
	w.target = w.landingAngle(outcome.Index)
	w.started = w.clock.Now()
	w.outcome = &outcome
	if err := w.m.to(Active); err != nil {
		return SpinOutcome{}, err
	}
	w.timer = w.clock.AfterFunc(w.duration, func() { w.finish(epoch) })
	return outcome, nil
}

func (w *Wheel) outcomeFor(res apiclient.SpinResult) SpinOutcome {
	for i, p := range w.prizes {
		if p.Code == res.Code {
			return SpinOutcome{Index: i, Prize: p, Result: res}
		}
	}
	return SpinOutcome{
		Index:        w.defaultIndex,
		Prize:        w.prizes[w.defaultIndex],
		Approximated: true,
		Result:       res,
	}
}

// landingAngle returns an absolute rotation, at least `turns` full turns past
// the confirmed angle, that puts the middle of segment idx under the pointer.
func (w *Wheel) landingAngle(idx int) float64 {
	segment := 360.0 / float64(len(w.prizes))
	base := w.confirmed - math.Mod(w.confirmed, 360)
	offset := 360 - (float64(idx)*segment + segment/2)
	return base + float64(w.turns)*360 + offset
}

func (w *Wheel) finish(epoch uint64) {
	w.mu.Lock()
	if w.m.epoch != epoch {
		w.mu.Unlock()
		return
	}
	res, ok := w.resolveLocked()
	w.mu.Unlock()
	if ok {
		w.commit(res)
	}
}

// resolveLocked settles an active spin. ok is false when nothing was active.
func (w *Wheel) resolveLocked() (apiclient.SpinResult, bool) {
	if w.m.state != Active {
		return apiclient.SpinResult{}, false
	}
	_ = w.m.to(Resolved)
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
	w.confirmed = math.Mod(w.target, 360)
	w.rotation = w.confirmed
	return w.outcome.Result, true
}

// commit writes the server-reported balance and tickets into the cached profile.
func (w *Wheel) commit(res apiclient.SpinResult) {
	if w.profile == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), commitTimeout)
	defer cancel()

	sess, err := w.profile.Load(ctx)
	if err != nil || sess == nil || sess.User == nil {
		return
	}
	user := *sess.User
	user.Balance = res.CurrentBalance
	if res.SpinTickets != nil {
		user.SpinTickets = *res.SpinTickets
	}
	if err := w.profile.CommitProfile(ctx, &user, sess.Application); err != nil {
		w.logger.Warn("store spin result", logging.Err(err))
	}
}

// Snapshot returns the current frame. A finished animation is resolved here
// even if its timer has not fired yet.
func (w *Wheel) Snapshot() WheelSnapshot {
	w.mu.Lock()
	now := w.clock.Now()
	var (
		settled apiclient.SpinResult
		commit  bool
	)
	if w.m.state == Active && !w.m.closed && now.Sub(w.started) >= w.duration {
		settled, commit = w.resolveLocked()
	}

	snap := WheelSnapshot{State: w.m.state, Rotation: w.rotation}
	switch w.m.state {
	case Active:
		p := math.Min(math.Max(float64(now.Sub(w.started))/float64(w.duration), 0), 1)
		snap.Progress = p
		snap.Rotation = w.from + (w.target-w.from)*easeOutCubic(p)
	case Resolved:
		snap.Progress = 1
	}
	if w.outcome != nil {
		out := *w.outcome
		snap.Outcome = &out
		snap.Balance = out.Result.CurrentBalance
		snap.Message = out.Result.Message
	}
	if w.err != nil {
		snap.Error = w.err.Error()
	}
	w.mu.Unlock()

	if commit {
		w.commit(settled)
	}
	return snap
}

// Close cancels the animation and drops any result still on its way.
func (w *Wheel) Close() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.m.close()
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
}

func easeOutCubic(p float64) float64 {
	if p <= 0 {
		return 0
	}
	if p >= 1 {
		return 1
	}
	inv := 1 - p
	return 1 - inv*inv*inv
}
