package daemon

import (
	"context"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/sirupsen/logrus"

	"github.com/charlie0129/linepark/pkg/config"
	"github.com/charlie0129/linepark/pkg/hw"
	"github.com/charlie0129/linepark/pkg/line"
	"github.com/charlie0129/linepark/pkg/link"
	"github.com/charlie0129/linepark/pkg/parking"
	"github.com/charlie0129/linepark/pkg/reversal"
	"github.com/charlie0129/linepark/pkg/steering"
	"github.com/charlie0129/linepark/pkg/types"
	"github.com/charlie0129/linepark/pkg/vehicle"
)

// tickHistory is how many tick times the recorder keeps.
const tickHistory = 100

// LoopOptions are the collaborators of a ControlLoop.
type LoopOptions struct {
	// Name identifies the vehicle in logs and the API.
	Name    string
	Config  config.Config
	Rig     *hw.Rig
	Channel link.Channel
	Clock   clock.Clock
	Rand    *rand.Rand
}

// ControlLoop drives one vehicle. Every tick it steers along the line
// edge, takes part in the parking protocol and, on the Host, decides when
// to turn around. All motion happens on the goroutine calling Run.
type ControlLoop struct {
	name  string
	conf  config.Config
	rig   *hw.Rig
	ch    link.Channel
	clock clock.Clock

	acq   *line.Acquirer
	coord *parking.Coordinator
	sched *reversal.Scheduler
	ticks *TickRecorder

	// Owned by the control goroutine.
	ctrl   steering.Controller
	loop   config.Loop
	cal    vehicle.Calibration
	assign vehicle.DrivingAssignment
	st     vehicle.State
	ready  bool
	// busy is set when the last tick ran a maneuver, so the next tick is
	// expected to come late.
	busy bool
	// badCal is set once an invalid calibration has been reported.
	badCal bool

	reload atomic.Bool

	mu         sync.Mutex
	snapState  vehicle.State
	snapAssign vehicle.DrivingAssignment
	lastFault  string
}

// NewControlLoop creates a ControlLoop. The vehicle starts in forward mode.
func NewControlLoop(opts LoopOptions) *ControlLoop {
	clk := opts.Clock
	if clk == nil {
		clk = clock.New()
	}
	conf := opts.Config
	cal := conf.Calibration()

	l := &ControlLoop{
		name:  opts.Name,
		conf:  conf,
		rig:   opts.Rig,
		ch:    opts.Channel,
		clock: clk,
		ctrl:  conf.Controller(),
		loop:  conf.Loop(),
		cal:   cal,
		st:    vehicle.State{Mode: vehicle.Forward},
	}
	l.assign = vehicle.Assign(cal, l.st.Mode)
	l.acq = line.New(opts.Rig.Drive, clk, l.ctrl, conf.Line())
	l.coord = parking.New(parking.Options{
		Role:        conf.Role(),
		Rig:         opts.Rig,
		Acquirer:    l.acq,
		Channel:     opts.Channel,
		Clock:       clk,
		Rand:        opts.Rand,
		Calibration: cal,
		Config:      conf.Parking(),
	})
	l.sched = reversal.New(reversal.Options{
		Drive:       opts.Rig.Drive,
		Indicator:   opts.Rig.Indicator,
		Channel:     opts.Channel,
		Clock:       clk,
		Rand:        opts.Rand,
		Calibration: cal,
		Config:      conf.Reversal(),
	})
	l.ticks = NewTickRecorder(tickHistory, l.loop.TickInterval, clk)
	l.publish()
	return l
}

// Name returns the vehicle name.
func (l *ControlLoop) Name() string {
	return l.name
}

// Coordinator exposes the parking coordinator for hook registration.
func (l *ControlLoop) Coordinator() *parking.Coordinator {
	return l.coord
}

// Scheduler exposes the reversal scheduler for hook registration.
func (l *ControlLoop) Scheduler() *reversal.Scheduler {
	return l.sched
}

// Reload asks the loop to pick up the current config on its next tick.
// Line acquisition tuning is read once at startup.
func (l *ControlLoop) Reload() {
	l.reload.Store(true)
}

// Run drives the vehicle until ctx is cancelled. Faults stop the vehicle
// and are retried after the configured backoff; Run itself only returns
// on shutdown.
func (l *ControlLoop) Run(ctx context.Context) error {
	logger := logrus.WithFields(logrus.Fields{
		"vehicle": l.name,
		"role":    l.coord.Role(),
	})
	logger.Info("control loop started")
	defer func() {
		l.safeStop()
		logger.Info("control loop stopped")
	}()

	for {
		if ctx.Err() != nil {
			return nil
		}

		l.checkMissedTicks()
		l.ticks.AddRecordNow()

		if err := l.Tick(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			l.fault(err)
			continue
		}
		l.clock.Sleep(l.loop.TickInterval)
	}
}

// Tick runs one iteration of the control loop. The first tick approaches
// the line with the driving sensor.
func (l *ControlLoop) Tick(ctx context.Context) error {
	l.applyReload()
	l.syncCalibration()
	defer l.publish()

	l.busy = false
	if !l.ready {
		l.busy = true
		if err := l.approach(ctx); err != nil {
			return err
		}
		l.ready = true
	}

	if err := l.follow(); err != nil {
		return err
	}

	if l.coord.Role() == parking.Peer {
		if err := l.handleToken(ctx); err != nil {
			return err
		}
	}

	if err := l.maybePark(ctx); err != nil {
		return err
	}

	if l.coord.Role() == parking.Host {
		if err := l.maybeReverse(ctx); err != nil {
			return err
		}
		l.maybeEnableParking()
	}

	return nil
}

func (l *ControlLoop) logger() *logrus.Entry {
	return logrus.WithFields(logrus.Fields{
		"vehicle": l.name,
		"role":    l.coord.Role(),
	})
}

func (l *ControlLoop) approach(ctx context.Context) error {
	l.sched.Start(&l.st)
	l.st.LastParkingEvent = l.clock.Now()
	l.rig.Show(vehicle.IndicatorDriving)

	l.logger().WithFields(logrus.Fields{
		"sensor":   l.assign.DrivingSensor,
		"velocity": l.loop.ApproachVelocity,
	}).Info("approaching line")
	return l.acq.StopBeforeLine(ctx, l.cal.Line, l.cal.Base, l.rig.Sensor(l.assign.DrivingSensor), steering.Straight(l.loop.ApproachVelocity))
}

func (l *ControlLoop) follow() error {
	d, err := hw.ReadDistance(l.rig.Obstacle)
	if err != nil {
		return err
	}
	r, err := hw.ReadReflectance(l.rig.Sensor(l.assign.DrivingSensor))
	if err != nil {
		return err
	}
	v := l.ctrl.FollowThrottled(l.assign.RefLeft, l.assign.RefRight, l.assign.SteeringOffset, r, d)
	return l.rig.Drive.Run(v)
}

// handleToken applies a fresh PARK, ROTATE or UNROTATE from the Host,
// including one that arrived during the last parking attempt.
func (l *ControlLoop) handleToken(ctx context.Context) error {
	t, fresh := l.coord.TakeNotice()
	if !fresh {
		t, fresh = l.ch.Take()
	}
	if !fresh {
		return nil
	}
	logger := l.logger().WithField("token", t)

	switch t {
	case link.Park:
		if !l.st.ParkingEnabled {
			l.st.ParkingEnabled = true
			l.showIdle()
			logger.Info("parking enabled by host")
		}
	case link.Rotate, link.Unrotate:
		l.busy = true
		assign, changed, err := l.sched.Mirror(ctx, &l.st, t)
		if changed {
			l.assign = assign
		}
		return err
	default:
		logger.Debug("ignoring token while driving")
	}
	return nil
}

func (l *ControlLoop) maybePark(ctx context.Context) error {
	if !l.st.ParkingEnabled || !l.conf.ParkingAllowed() {
		return nil
	}
	if l.clock.Now().Sub(l.st.LastParkingEvent) <= l.loop.ParkingCooldown {
		return nil
	}
	onLine, err := l.acq.OnReference(l.cal.Line, l.rig.Sensor(l.assign.ParkingSensor))
	if err != nil || !onLine {
		return err
	}

	l.busy = true
	ok, err := l.coord.Attempt(ctx, l.assign)
	l.st.ParkingEnabled = !ok
	l.st.LastParkingEvent = l.clock.Now()
	l.showIdle()

	if err != nil {
		if hw.IsFault(err) || ctx.Err() != nil {
			return err
		}
		l.logger().WithError(err).Warn("parking attempt aborted, continuing on the line")
	}
	return nil
}

func (l *ControlLoop) maybeReverse(ctx context.Context) error {
	if !l.sched.Due(l.clock.Now(), &l.st) {
		return nil
	}
	l.busy = true
	assign, err := l.sched.Reverse(ctx, &l.st)
	l.assign = assign
	return err
}

func (l *ControlLoop) maybeEnableParking() {
	if l.st.ParkingEnabled || !l.conf.ParkingAllowed() {
		return
	}
	if l.st.ReverseMode && !l.loop.ParkInReverse {
		return
	}
	if l.clock.Now().Sub(l.st.LastParkingEvent) <= l.loop.EnableDelay {
		return
	}

	if err := link.SendRepeated(l.ch, link.Park, l.loop.ParkRepeat); err != nil {
		l.logger().WithError(err).Warn("failed to enable parking on peer")
	}
	l.st.ParkingEnabled = true
	l.showIdle()
	l.logger().WithFields(l.st.LogrusFields()).Info("parking enabled")
}

func (l *ControlLoop) showIdle() {
	switch {
	case l.st.ParkingEnabled:
		l.rig.Show(vehicle.IndicatorParkingEnabled)
	case l.st.ReverseMode:
		l.rig.Show(vehicle.IndicatorReversed)
	default:
		l.rig.Show(vehicle.IndicatorDriving)
	}
}

func (l *ControlLoop) fault(err error) {
	l.busy = true
	l.safeStop()
	l.ticks.ClearRecords()
	l.rig.Show(vehicle.IndicatorFault)

	l.mu.Lock()
	l.lastFault = err.Error()
	l.mu.Unlock()

	l.logger().WithError(err).WithField("backoff", l.loop.FaultBackoff.String()).Error("fault, vehicle stopped")
	l.clock.Sleep(l.loop.FaultBackoff)
}

func (l *ControlLoop) safeStop() {
	if err := l.rig.Drive.Stop(); err != nil {
		l.logger().WithError(err).Error("failed to stop drive")
	}
}

func (l *ControlLoop) applyReload() {
	if !l.reload.CompareAndSwap(true, false) {
		return
	}
	l.ctrl = l.conf.Controller()
	l.loop = l.conf.Loop()
	l.acq.SetController(l.ctrl)
	l.coord.SetConfig(l.conf.Parking())
	l.sched.SetConfig(l.conf.Reversal())
	l.ticks.SetInterval(l.loop.TickInterval)
	l.logger().Info("applied reloaded config")
}

// syncCalibration picks up a calibration changed through the API.
func (l *ControlLoop) syncCalibration() {
	cal := l.conf.Calibration()
	if cal == l.cal {
		return
	}
	if err := cal.Validate(); err != nil {
		if !l.badCal {
			l.logger().WithError(err).Error("ignoring invalid calibration, keeping the previous one")
		}
		l.badCal = true
		return
	}
	l.badCal = false
	l.cal = cal
	l.assign = vehicle.Assign(cal, l.st.Mode)
	l.coord.SetCalibration(cal)
	l.sched.SetCalibration(cal)
	l.logger().WithFields(logrus.Fields{
		"line": cal.Line,
		"base": cal.Base,
	}).Info("calibration applied")
}

// checkMissedTicks logs when the loop falls behind while only following.
func (l *ControlLoop) checkMissedTicks() {
	last := l.ticks.GetLastRecord()
	if last.IsZero() || l.busy {
		return
	}
	now := l.clock.Now()
	gap := now.Sub(last)
	if gap < l.ticks.maxGap() {
		return
	}
	l.logger().WithFields(logrus.Fields{
		"gap":           gap.String(),
		"recentRecords": formatRelativeTimes(now, l.ticks.GetLastRecords(gap+10*l.loop.TickInterval)),
	}).Debug("possibly missed control ticks")
}

func (l *ControlLoop) publish() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.snapState = l.st
	l.snapAssign = l.assign
}

// Status returns a snapshot of the vehicle for the API. It is safe to call
// from any goroutine.
func (l *ControlLoop) Status() types.Status {
	l.mu.Lock()
	st, assign, lastFault := l.snapState, l.snapAssign, l.lastFault
	l.mu.Unlock()

	s := types.Status{
		Name:             l.name,
		Role:             l.coord.Role().String(),
		Mode:             st.Mode.String(),
		ParkingEnabled:   st.ParkingEnabled,
		ParkingAllowed:   l.conf.ParkingAllowed(),
		ParkingState:     l.coord.State().String(),
		LinePhase:        l.acq.Phase().String(),
		DrivingSensor:    string(assign.DrivingSensor),
		ParkingSensor:    string(assign.ParkingSensor),
		LastToken:        l.ch.Read().String(),
		LastParkingEvent: st.LastParkingEvent,
		LastReversal:     st.LastReversal,
		ContinuousTicks:  l.ticks.GetRecordsIn(time.Second),
		LastTick:         l.ticks.GetLastRecord(),
		LastFault:        lastFault,
	}
	if l.coord.Role() == parking.Host && !st.LastReversal.IsZero() {
		s.NextReversal = st.LastReversal.Add(st.ReversalInterval)
	}
	if c, ok := l.coord.LastCycle(); ok {
		rec := cycleRecord(c)
		s.LastCycle = &rec
	}
	return s
}

func cycleRecord(c parking.Cycle) types.Cycle {
	return types.Cycle{
		ID:        c.ID,
		Role:      c.Role.String(),
		StartedAt: c.StartedAt,
		EndedAt:   c.EndedAt,
		Outcome:   string(c.Outcome),
		Error:     c.Error,
	}
}
