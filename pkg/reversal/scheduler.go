// Package reversal periodically turns the vehicle around so the two
// vehicles swap which side of the line they track.
package reversal

import (
	"context"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	pkgerrors "github.com/pkg/errors"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
	"go.uber.org/multierr"

	"github.com/charlie0129/linepark/pkg/hw"
	"github.com/charlie0129/linepark/pkg/link"
	"github.com/charlie0129/linepark/pkg/steering"
	"github.com/charlie0129/linepark/pkg/vehicle"
)

// DefaultGuard is the quiet time required after a parking event.
const DefaultGuard = 4 * time.Second

// Step is one open-loop segment of the turn-around script.
type Step struct {
	Velocity steering.Velocity `json:"velocity"`
	Duration time.Duration     `json:"duration"`
}

// DefaultScript turns roughly 180 degrees and backs up onto the line.
func DefaultScript() []Step {
	return []Step{
		{Velocity: steering.Velocity{Left: -200, Right: 200}, Duration: 2500 * time.Millisecond},
		{Velocity: steering.Straight(-200), Duration: 400 * time.Millisecond},
	}
}

// Range bounds a reversal interval.
type Range struct {
	Min time.Duration `json:"min"`
	Max time.Duration `json:"max"`
}

// Config tunes the scheduler.
type Config struct {
	// Forward is the interval range used after switching to forward mode.
	Forward Range
	// Reversed is used after switching to reversed mode, usually shorter.
	Reversed Range
	Guard    time.Duration
	Script   []Step
}

// Reversal is published after every completed turn-around.
type Reversal struct {
	At       time.Time     `json:"at"`
	Mode     vehicle.Mode  `json:"mode"`
	Interval time.Duration `json:"interval"`
	// Mirrored is set when the turn followed the other vehicle's notice.
	Mirrored bool `json:"mirrored"`
}

// Options are the collaborators of a Scheduler.
type Options struct {
	Drive       *hw.Drive
	Indicator   hw.Indicator
	Channel     link.Channel
	Clock       clock.Clock
	Rand        *rand.Rand
	Calibration vehicle.Calibration
	Config      Config
}

// Scheduler decides when to reverse and performs the turn-around.
type Scheduler struct {
	rig   *hw.Rig
	ch    link.Channel
	clock clock.Clock
	rand  *rand.Rand

	mu       sync.Mutex
	cfg      Config
	cal      vehicle.Calibration
	onChange []func(Reversal)
}

// New creates a Scheduler.
func New(opts Options) *Scheduler {
	clk := opts.Clock
	if clk == nil {
		clk = clock.New()
	}
	r := opts.Rand
	if r == nil {
		r = rand.New(rand.NewPCG(uint64(clk.Now().UnixNano()), 1))
	}
	return &Scheduler{
		rig:   &hw.Rig{Drive: opts.Drive, Indicator: opts.Indicator},
		ch:    opts.Channel,
		clock: clk,
		rand:  r,
		cfg:   opts.Config,
		cal:   opts.Calibration,
	}
}

// OnReversal registers fn to be called after every turn-around.
func (s *Scheduler) OnReversal(fn func(Reversal)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onChange = append(s.onChange, fn)
}

// SetCalibration replaces the reflectance references.
func (s *Scheduler) SetCalibration(cal vehicle.Calibration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cal = cal
}

// SetConfig replaces the tuning. The current interval is kept.
func (s *Scheduler) SetConfig(cfg Config) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg = cfg
}

// Schedule returns the interval schedule used after switching to m.
func (s *Scheduler) Schedule(m vehicle.Mode) cron.Schedule {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.cfg.Forward
	if m == vehicle.Reversed {
		r = s.cfg.Reversed
	}
	return IntervalSchedule{Min: r.Min, Max: r.Max, Rand: s.rand}
}

// Start stamps the reversal timer and draws the first interval for the
// current mode.
func (s *Scheduler) Start(st *vehicle.State) {
	now := s.clock.Now()
	st.LastReversal = now
	st.ReverseMode = st.Mode == vehicle.Reversed
	st.ReversalInterval = s.Schedule(st.Mode).Next(now).Sub(now)
}

// Due reports whether the interval has elapsed since the last reversal and
// the vehicle has been clear of parking for the guard time.
func (s *Scheduler) Due(now time.Time, st *vehicle.State) bool {
	s.mu.Lock()
	guard := s.cfg.Guard
	s.mu.Unlock()
	return now.Sub(st.LastReversal) > st.ReversalInterval &&
		now.Sub(st.LastParkingEvent) > guard
}

// Reverse flips the mode, turns the vehicle around and tells the other
// vehicle without waiting for an answer. It returns the new assignment.
func (s *Scheduler) Reverse(ctx context.Context, st *vehicle.State) (vehicle.DrivingAssignment, error) {
	return s.turn(ctx, st, true)
}

// Mirror applies a ROTATE or UNROTATE notice. It is a no-op when the vehicle
// is already in the announced mode.
func (s *Scheduler) Mirror(ctx context.Context, st *vehicle.State, t link.Token) (vehicle.DrivingAssignment, bool, error) {
	var target vehicle.Mode
	switch t {
	case link.Rotate:
		target = vehicle.Reversed
	case link.Unrotate:
		target = vehicle.Forward
	default:
		return vehicle.DrivingAssignment{}, false, pkgerrors.Errorf("%s is not a reversal notice", t)
	}

	s.mu.Lock()
	cal := s.cal
	s.mu.Unlock()
	if st.Mode == target {
		return vehicle.Assign(cal, st.Mode), false, nil
	}
	assign, err := s.turn(ctx, st, false)
	return assign, true, err
}

func (s *Scheduler) turn(ctx context.Context, st *vehicle.State, notify bool) (vehicle.DrivingAssignment, error) {
	s.mu.Lock()
	cal := s.cal
	script := s.cfg.Script
	hooks := s.onChange
	s.mu.Unlock()

	st.Mode = st.Mode.Flip()
	st.ReverseMode = st.Mode == vehicle.Reversed
	assign := vehicle.Assign(cal, st.Mode)
	now := s.clock.Now()
	st.ReversalInterval = s.Schedule(st.Mode).Next(now).Sub(now)

	if err := s.runScript(ctx, script); err != nil {
		return assign, err
	}

	if notify && s.ch != nil {
		tok := link.Unrotate
		if st.Mode == vehicle.Reversed {
			tok = link.Rotate
		}
		if err := s.ch.Send(tok); err != nil {
			logrus.WithError(err).WithField("token", tok).Warn("failed to notify peer of reversal")
		}
	}

	now = s.clock.Now()
	st.ParkingEnabled = false
	st.LastReversal = now
	st.LastParkingEvent = now

	if st.ReverseMode {
		s.rig.Show(vehicle.IndicatorReversed)
	} else {
		s.rig.Show(vehicle.IndicatorDriving)
	}

	logrus.WithFields(st.LogrusFields()).WithField("mirrored", !notify).Info("reversed direction")
	r := Reversal{At: now, Mode: st.Mode, Interval: st.ReversalInterval, Mirrored: !notify}
	for _, fn := range hooks {
		fn(r)
	}
	return assign, nil
}

func (s *Scheduler) runScript(ctx context.Context, script []Step) (err error) {
	defer func() {
		if stopErr := s.rig.Drive.Stop(); stopErr != nil {
			err = multierr.Append(err, stopErr)
		}
	}()
	for _, step := range script {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := s.rig.Drive.Run(step.Velocity); err != nil {
			return err
		}
		s.clock.Sleep(step.Duration)
	}
	return nil
}
