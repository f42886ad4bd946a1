// Package parking implements the two-vehicle bay handshake: probe the bay,
// park, wait for the other vehicle, dwell, unpark and release.
//
// Both vehicles run the same Coordinator. The Role decides which side of
// each exchange a vehicle plays.
package parking

import (
	"context"
	"errors"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"go.uber.org/multierr"

	"github.com/charlie0129/linepark/pkg/hw"
	"github.com/charlie0129/linepark/pkg/line"
	"github.com/charlie0129/linepark/pkg/link"
	"github.com/charlie0129/linepark/pkg/vehicle"
)

// Options are the collaborators of a Coordinator.
type Options struct {
	Role        Role
	Rig         *hw.Rig
	Acquirer    *line.Acquirer
	Channel     link.Channel
	Clock       clock.Clock
	Rand        *rand.Rand
	Calibration vehicle.Calibration
	Config      Config
}

// Coordinator runs parking attempts for one vehicle. Attempt must not be
// called concurrently; the accessors are safe from any goroutine.
type Coordinator struct {
	role  Role
	rig   *hw.Rig
	acq   *line.Acquirer
	ch    link.Channel
	clock clock.Clock
	rand  *rand.Rand

	mu        sync.Mutex
	cfg       Config
	cal       vehicle.Calibration
	state     State
	cycleID   string
	parked    bool
	onChange  []func(Transition)
	onCycle   []func(Cycle)
	lastCycle *Cycle
	// notice is a driving-loop token that cut the last attempt short.
	notice link.Token
}

// New creates a Coordinator in the Driving state.
func New(opts Options) *Coordinator {
	clk := opts.Clock
	if clk == nil {
		clk = clock.New()
	}
	r := opts.Rand
	if r == nil {
		r = rand.New(rand.NewPCG(uint64(clk.Now().UnixNano()), 0))
	}
	return &Coordinator{
		role:  opts.Role,
		rig:   opts.Rig,
		acq:   opts.Acquirer,
		ch:    opts.Channel,
		clock: clk,
		rand:  r,
		cfg:   opts.Config,
		cal:   opts.Calibration,
		state: Driving,
	}
}

// OnTransition registers fn to be called on every state change. fn runs on
// the control goroutine and must not block.
func (c *Coordinator) OnTransition(fn func(Transition)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onChange = append(c.onChange, fn)
}

// OnCycle registers fn to be called when an attempt finishes.
func (c *Coordinator) OnCycle(fn func(Cycle)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onCycle = append(c.onCycle, fn)
}

// Role returns the fixed role.
func (c *Coordinator) Role() Role {
	return c.role
}

// State returns the current state.
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// LastCycle returns the most recent finished attempt, if any.
func (c *Coordinator) LastCycle() (Cycle, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.lastCycle == nil {
		return Cycle{}, false
	}
	return *c.lastCycle, true
}

// TakeNotice returns, once, the PARK, ROTATE or UNROTATE that aborted the
// last attempt as a protocol desync. The wait consumed it from the link, so
// the driving loop must act on it from here instead.
func (c *Coordinator) TakeNotice() (link.Token, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := c.notice
	c.notice = link.None
	return t, t != link.None
}

// SetCalibration replaces the reflectance references.
func (c *Coordinator) SetCalibration(cal vehicle.Calibration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cal = cal
}

// SetConfig replaces the tuning. It takes effect on the next attempt.
func (c *Coordinator) SetConfig(cfg Config) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cfg = cfg
}

func (c *Coordinator) snapshot() (Config, vehicle.Calibration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cfg, c.cal
}

func (c *Coordinator) setState(to State) {
	c.mu.Lock()
	from := c.state
	c.state = to
	tr := Transition{Role: c.role, CycleID: c.cycleID, From: from, To: to, At: c.clock.Now()}
	hooks := c.onChange
	c.mu.Unlock()

	if from == to {
		return
	}
	logrus.WithFields(logrus.Fields{
		"role":  c.role,
		"cycle": tr.CycleID,
		"from":  from,
		"to":    to,
	}).Debug("parking state changed")
	for _, fn := range hooks {
		fn(tr)
	}
	if ind, ok := indicatorFor[to]; ok {
		c.rig.Show(ind)
	}
}

var indicatorFor = map[State]vehicle.Indicator{
	Parking:              vehicle.IndicatorParking,
	Parked:               vehicle.IndicatorParked,
	AwaitingPeerParked:   vehicle.IndicatorWaiting,
	BothParked:           vehicle.IndicatorBothParked,
	AwaitingUnpark:       vehicle.IndicatorBothParked,
	Unparking:            vehicle.IndicatorUnparking,
	AwaitingPeerUnparked: vehicle.IndicatorWaiting,
}

// Attempt runs one full parking cycle for the vehicle's role. It returns
// true when the vehicle parked and left the bay again, and false when the
// bay was occupied or the attempt was aborted.
//
// Sensor and actuator faults stop the vehicle and are returned. A silent or
// confused peer aborts the attempt: the vehicle leaves the bay if it is in
// it, and the link error is returned alongside false.
func (c *Coordinator) Attempt(ctx context.Context, assign vehicle.DrivingAssignment) (bool, error) {
	cfg, cal := c.snapshot()

	cycle := Cycle{
		ID:        uuid.NewString(),
		Role:      c.role,
		StartedAt: c.clock.Now(),
	}
	c.mu.Lock()
	c.cycleID = cycle.ID
	c.parked = false
	c.mu.Unlock()

	ok, err := c.attempt(ctx, cfg, cal, assign)

	cycle.EndedAt = c.clock.Now()
	switch {
	case err == nil && ok:
		cycle.Outcome = OutcomeCompleted
	case err == nil:
		cycle.Outcome = OutcomeOccupied
	case hw.IsFault(err):
		cycle.Outcome = OutcomeFault
	default:
		cycle.Outcome = OutcomeAborted
	}
	if err != nil {
		cycle.Error = err.Error()
	}
	c.finish(cycle)
	return ok, err
}

func (c *Coordinator) finish(cycle Cycle) {
	c.setState(Driving)

	c.mu.Lock()
	c.cycleID = ""
	c.lastCycle = &cycle
	hooks := c.onCycle
	c.mu.Unlock()

	entry := logrus.WithFields(logrus.Fields{
		"role":     cycle.Role,
		"cycle":    cycle.ID,
		"outcome":  cycle.Outcome,
		"duration": cycle.EndedAt.Sub(cycle.StartedAt).String(),
	})
	if cycle.Error != "" {
		entry.WithField("error", cycle.Error).Error("parking attempt failed")
	} else {
		entry.Info("parking attempt finished")
	}
	for _, fn := range hooks {
		fn(cycle)
	}
}

func (c *Coordinator) attempt(ctx context.Context, cfg Config, cal vehicle.Calibration, assign vehicle.DrivingAssignment) (bool, error) {
	c.setState(ProbingOccupancy)
	occ, err := c.probe(ctx, cfg, cal, assign)
	if err != nil {
		return false, c.fault(err)
	}
	logrus.WithFields(logrus.Fields{
		"role":      c.role,
		"occupancy": occ,
	}).Debug("probed bay")
	if occ == Occupied {
		return false, nil
	}

	c.setState(Parking)
	if err := c.park(ctx, cfg, cal, assign); err != nil {
		return false, c.fault(err)
	}
	c.setState(Parked)

	if c.role == Host {
		return c.hostHandshake(ctx, cfg, cal, assign)
	}
	return c.peerHandshake(ctx, cfg, cal, assign)
}

func (c *Coordinator) hostHandshake(ctx context.Context, cfg Config, cal vehicle.Calibration, assign vehicle.DrivingAssignment) (bool, error) {
	c.setState(AwaitingPeerParked)
	if _, err := c.await(ctx, cfg, []link.Token{link.Parked}, []link.Token{link.Unparked}); err != nil {
		return c.abort(ctx, cfg, cal, assign, err)
	}

	c.setState(BothParked)
	if err := c.ch.Send(link.BothParked); err != nil {
		return c.abort(ctx, cfg, cal, assign, err)
	}

	c.setState(RandomDwell)
	dwell := c.dwell(cfg)
	logrus.WithFields(logrus.Fields{
		"role":  c.role,
		"dwell": dwell.String(),
	}).Debug("dwelling in bay")
	c.clock.Sleep(dwell)
	if err := ctx.Err(); err != nil {
		return false, c.fault(err)
	}

	c.setState(Unparking)
	if err := c.unpark(ctx, cfg, cal, assign); err != nil {
		return false, c.fault(err)
	}
	if err := c.ch.Send(link.Unpark); err != nil {
		return false, c.wrapPeer(err)
	}

	c.setState(AwaitingPeerUnparked)
	if _, err := c.await(ctx, cfg, []link.Token{link.Unparked}, []link.Token{link.Parked}); err != nil {
		return false, c.wrapPeer(err)
	}
	return true, nil
}

func (c *Coordinator) peerHandshake(ctx context.Context, cfg Config, cal vehicle.Calibration, assign vehicle.DrivingAssignment) (bool, error) {
	// Any of these arriving while parked means the Host is not in a cycle.
	desync := []link.Token{link.Park, link.Rotate, link.Unrotate}

	c.setState(NotifyParked)
	if err := c.ch.Send(link.Parked); err != nil {
		return c.abort(ctx, cfg, cal, assign, err)
	}

	// UNPARK overwriting BOTH_PARKED before we polled still means both
	// vehicles were parked.
	got, err := c.await(ctx, cfg, []link.Token{link.BothParked, link.Unpark}, desync)
	if err != nil {
		return c.abort(ctx, cfg, cal, assign, err)
	}
	c.setState(BothParked)

	if got != link.Unpark {
		c.setState(AwaitingUnpark)
		if _, err := c.await(ctx, cfg, []link.Token{link.Unpark}, desync); err != nil {
			return c.abort(ctx, cfg, cal, assign, err)
		}
	}

	c.setState(Unparking)
	if err := c.unpark(ctx, cfg, cal, assign); err != nil {
		return false, c.fault(err)
	}

	c.setState(NotifyUnparked)
	if err := c.ch.Send(link.Unparked); err != nil {
		return false, c.wrapPeer(err)
	}
	return true, nil
}

func (c *Coordinator) await(ctx context.Context, cfg Config, want, desync []link.Token) (link.Token, error) {
	w := link.Waiter{
		Clock:    c.clock,
		Interval: cfg.AckPollInterval,
		Timeout:  cfg.PeerTimeout,
	}
	got, err := w.Await(ctx, c.ch, want, desync)
	if errors.Is(err, link.ErrProtocolDesync) {
		switch got {
		case link.Park, link.Rotate, link.Unrotate:
			c.mu.Lock()
			c.notice = got
			c.mu.Unlock()
		}
	}
	return got, err
}

// dwell draws a whole number of seconds in [DwellMin, DwellMax].
func (c *Coordinator) dwell(cfg Config) time.Duration {
	lo := int(cfg.DwellMin / time.Second)
	hi := int(cfg.DwellMax / time.Second)
	if hi <= lo {
		return time.Duration(lo) * time.Second
	}
	return time.Duration(lo+c.rand.IntN(hi-lo+1)) * time.Second
}

// fault stops the drive and returns err with any stop failure attached.
func (c *Coordinator) fault(err error) error {
	if stopErr := c.rig.Drive.Stop(); stopErr != nil {
		err = multierr.Append(err, stopErr)
	}
	if hw.IsFault(err) {
		c.rig.Show(vehicle.IndicatorFault)
	}
	return err
}

// abort leaves the bay after a peer failure and reports it.
func (c *Coordinator) abort(ctx context.Context, cfg Config, cal vehicle.Calibration, assign vehicle.DrivingAssignment, err error) (bool, error) {
	err = c.wrapPeer(err)
	if ctx.Err() != nil {
		return false, c.fault(err)
	}

	c.mu.Lock()
	parked := c.parked
	c.mu.Unlock()
	if parked {
		logrus.WithError(err).WithField("role", c.role).Warn("aborting parking, leaving bay")
		c.setState(Unparking)
		if uerr := c.unpark(ctx, cfg, cal, assign); uerr != nil {
			return false, c.fault(multierr.Append(err, uerr))
		}
	}
	return false, err
}

func (c *Coordinator) wrapPeer(err error) error {
	return pkgerrors.Wrapf(err, "%s in state %s", c.role, c.State())
}
