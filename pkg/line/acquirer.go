// Package line implements the maneuvers that stop a vehicle at, over or on
// a line edge, and the closed-loop follow used to enter and leave a bay.
package line

import (
	"context"
	"math"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"go.uber.org/multierr"

	"github.com/charlie0129/linepark/pkg/hw"
	"github.com/charlie0129/linepark/pkg/steering"
)

// Phase is the progress of the current maneuver.
type Phase int32

const (
	Idle Phase = iota
	Seeking
	AtEdge
	PastEdge
)

func (p Phase) String() string {
	switch p {
	case Seeking:
		return "seeking"
	case AtEdge:
		return "at-edge"
	case PastEdge:
		return "past-edge"
	default:
		return "idle"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (p Phase) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// CenteredThreshold is the |t| under which an untimed follow is centred.
const CenteredThreshold = 0.01

// ErrNotRotation is returned by RotateUntilOnLine for a velocity whose
// wheels do not turn in opposite directions.
var ErrNotRotation = pkgerrors.New("velocity is not a rotation")

// Config tunes the acquisition loops.
type Config struct {
	// PollInterval is the sleep between two sensor samples.
	PollInterval time.Duration
	// Tolerance is the band around a reference that counts as on it.
	Tolerance float64
	// SettleDelay is the pause between following and the straight drive.
	SettleDelay time.Duration
}

// Acquirer runs maneuvers on one drive. It is not safe for concurrent
// maneuvers; Phase may be read from any goroutine.
type Acquirer struct {
	drive *hw.Drive
	clock clock.Clock
	ctrl  steering.Controller
	cfg   Config

	phase atomic.Int32
}

// New creates an Acquirer.
func New(drive *hw.Drive, clk clock.Clock, ctrl steering.Controller, cfg Config) *Acquirer {
	return &Acquirer{
		drive: drive,
		clock: clk,
		ctrl:  ctrl,
		cfg:   cfg,
	}
}

// Phase returns the phase of the current or last maneuver.
func (a *Acquirer) Phase() Phase {
	return Phase(a.phase.Load())
}

// SetController replaces the steering tuning used by following.
func (a *Acquirer) SetController(c steering.Controller) {
	a.ctrl = c
}

func (a *Acquirer) setPhase(p Phase) {
	if old := Phase(a.phase.Swap(int32(p))); old != p {
		logrus.WithFields(logrus.Fields{
			"from": old,
			"to":   p,
		}).Trace("line phase")
	}
}

// OnReference reports whether sensor reads within the tolerance of ref.
func (a *Acquirer) OnReference(ref float64, sensor hw.ReflectanceSensor) (bool, error) {
	r, err := hw.ReadReflectance(sensor)
	if err != nil {
		return false, err
	}
	return a.near(r, ref), nil
}

func (a *Acquirer) near(r, ref float64) bool {
	return math.Abs(r-ref) < a.cfg.Tolerance
}

// driveUntil commands v and polls sensor until done holds. The drive is
// stopped on every return path.
func (a *Acquirer) driveUntil(ctx context.Context, sensor hw.ReflectanceSensor, v steering.Velocity, done func(r float64) bool) (err error) {
	defer func() {
		if stopErr := a.drive.Stop(); stopErr != nil {
			err = multierr.Append(err, stopErr)
		}
	}()

	if err := a.drive.Run(v); err != nil {
		return err
	}
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		r, err := hw.ReadReflectance(sensor)
		if err != nil {
			return err
		}
		if done(r) {
			return nil
		}
		a.clock.Sleep(a.cfg.PollInterval)
	}
}

// StopBeforeLine drives at v and stops as soon as the reading is closer to
// lineRef than to baseRef.
func (a *Acquirer) StopBeforeLine(ctx context.Context, lineRef, baseRef float64, sensor hw.ReflectanceSensor, v steering.Velocity) error {
	a.setPhase(Seeking)
	err := a.driveUntil(ctx, sensor, v, func(r float64) bool {
		return math.Abs(lineRef-r) < math.Abs(baseRef-r)
	})
	if err != nil {
		a.setPhase(Idle)
		return err
	}
	a.setPhase(AtEdge)
	return nil
}

// StopPastLine reaches the line, then keeps going until the reading is
// closer to baseRef again.
func (a *Acquirer) StopPastLine(ctx context.Context, lineRef, baseRef float64, sensor hw.ReflectanceSensor, v steering.Velocity) error {
	if err := a.StopBeforeLine(ctx, lineRef, baseRef, sensor, v); err != nil {
		return err
	}
	err := a.driveUntil(ctx, sensor, v, func(r float64) bool {
		return math.Abs(lineRef-r) > math.Abs(baseRef-r)
	})
	if err != nil {
		a.setPhase(Idle)
		return err
	}
	a.setPhase(PastEdge)
	return nil
}

// StopOnReference drives at v until the sensor reads within the tolerance
// of ref.
func (a *Acquirer) StopOnReference(ctx context.Context, ref float64, sensor hw.ReflectanceSensor, v steering.Velocity) error {
	a.setPhase(Seeking)
	err := a.driveUntil(ctx, sensor, v, func(r float64) bool {
		return a.near(r, ref)
	})
	if err != nil {
		a.setPhase(Idle)
		return err
	}
	a.setPhase(AtEdge)
	return nil
}

// RotateUntilOnLine turns on the spot until the sensor is on lineRef.
func (a *Acquirer) RotateUntilOnLine(ctx context.Context, lineRef float64, sensor hw.ReflectanceSensor, v steering.Velocity) error {
	if !v.IsRotation() {
		return pkgerrors.Wrapf(ErrNotRotation, "left %v right %v", v.Left, v.Right)
	}
	return a.StopOnReference(ctx, lineRef, sensor, v)
}

// FollowParams selects the sensor and references for a follow.
type FollowParams struct {
	RefLeft        float64
	RefRight       float64
	BaseRef        float64
	Sensor         hw.ReflectanceSensor
	SteeringOffset float64
	// Limit is the follow time budget. Zero follows until centred.
	Limit time.Duration
}

// FollowStraightUntilCentered steers on the line edge without obstacle
// throttling, either for p.Limit or until centred, then stops, settles and
// drives straight until the sensor reads p.BaseRef.
func (a *Acquirer) FollowStraightUntilCentered(ctx context.Context, p FollowParams) error {
	a.setPhase(Seeking)
	if err := a.follow(ctx, p); err != nil {
		a.setPhase(Idle)
		return err
	}
	a.setPhase(AtEdge)

	a.clock.Sleep(a.cfg.SettleDelay)

	err := a.driveUntil(ctx, p.Sensor, steering.Straight(a.ctrl.BaseVelocity), func(r float64) bool {
		return a.near(r, p.BaseRef)
	})
	if err != nil {
		a.setPhase(Idle)
		return err
	}
	a.setPhase(PastEdge)
	return nil
}

func (a *Acquirer) follow(ctx context.Context, p FollowParams) (err error) {
	defer func() {
		if stopErr := a.drive.Stop(); stopErr != nil {
			err = multierr.Append(err, stopErr)
		}
	}()

	start := a.clock.Now()
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if p.Limit > 0 && a.clock.Since(start) >= p.Limit {
			return nil
		}

		r, err := hw.ReadReflectance(p.Sensor)
		if err != nil {
			return err
		}
		t := steering.Normalize(p.RefLeft, p.RefRight, r, a.ctrl.Gain)
		if p.Limit <= 0 && math.Abs(t) <= CenteredThreshold {
			return nil
		}
		if err := a.drive.Run(steering.VelocityFor(t, a.ctrl.BaseVelocity, p.SteeringOffset)); err != nil {
			return err
		}
		a.clock.Sleep(a.cfg.PollInterval)
	}
}
