package parking

import (
	"context"
	"errors"
	"math/rand/v2"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/charlie0129/linepark/pkg/hw"
	"github.com/charlie0129/linepark/pkg/hw/sim"
	"github.com/charlie0129/linepark/pkg/line"
	"github.com/charlie0129/linepark/pkg/link"
	"github.com/charlie0129/linepark/pkg/steering"
	"github.com/charlie0129/linepark/pkg/vehicle"
)

type autoClock struct {
	*clock.Mock
}

func (c autoClock) Sleep(d time.Duration) { c.Add(d) }

var testCalibration = vehicle.Calibration{Line: 0, Base: 100}

func testConfig() Config {
	return Config{
		ManeuverVelocity:   180,
		ProbeVelocity:      180,
		SampleCount:        13,
		SampleInterval:     60 * time.Millisecond,
		OccupancyThreshold: 21,
		ParkDuration:       time.Second,
		UnparkDuration:     time.Second,
		DwellMin:           time.Second,
		DwellMax:           7 * time.Second,
		AckPollInterval:    time.Second,
	}
}

type harness struct {
	coord    *Coordinator
	other    *link.Endpoint
	left     *sim.Motor
	right    *sim.Motor
	obstacle *sim.Sensor
	light    *sim.Light
	clock    autoClock

	mu          sync.Mutex
	transitions []Transition
	cycles      []Cycle
}

func newHarness(role Role, cfg Config) *harness {
	clk := autoClock{clock.NewMock()}
	l, r := &sim.Motor{}, &sim.Motor{}
	h := &harness{
		left:     l,
		right:    r,
		obstacle: &sim.Sensor{Value: 50},
		light:    &sim.Light{},
		clock:    clk,
	}
	rig := &hw.Rig{
		Left:      &sim.Sensor{Next: sim.Alternate(0, 100)},
		Right:     &sim.Sensor{Next: sim.Alternate(0, 100)},
		Obstacle:  h.obstacle,
		Drive:     &hw.Drive{Left: l, Right: r},
		Indicator: h.light,
	}
	acq := line.New(rig.Drive, clk, steering.Controller{Gain: 1, BaseVelocity: 180}, line.Config{
		PollInterval: 100 * time.Millisecond,
		Tolerance:    5,
		SettleDelay:  500 * time.Millisecond,
	})
	self, other := link.Pair()
	h.other = other
	h.coord = New(Options{
		Role:        role,
		Rig:         rig,
		Acquirer:    acq,
		Channel:     self,
		Clock:       clk,
		Rand:        rand.New(rand.NewPCG(1, 2)),
		Calibration: testCalibration,
		Config:      cfg,
	})
	h.coord.OnTransition(func(tr Transition) {
		h.mu.Lock()
		defer h.mu.Unlock()
		h.transitions = append(h.transitions, tr)
	})
	h.coord.OnCycle(func(c Cycle) {
		h.mu.Lock()
		defer h.mu.Unlock()
		h.cycles = append(h.cycles, c)
	})
	return h
}

func (h *harness) states() []State {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]State, 0, len(h.transitions))
	for _, tr := range h.transitions {
		out = append(out, tr.To)
	}
	return out
}

func (h *harness) lastCommand() steering.Velocity {
	cmds := sim.Commands(h.left, h.right)
	return cmds[len(cmds)-1]
}

var forward = vehicle.Assign(testCalibration, vehicle.Forward)

func TestClassify(t *testing.T) {
	tests := []struct {
		name    string
		samples []float64
		want    Occupancy
	}{
		{"all far", []float64{40, 30, 25}, Empty},
		{"one close reading", []float64{40, 12, 80}, Occupied},
		{"boundary is occupied", []float64{40, 21, 80}, Occupied},
		{"just above boundary", []float64{21.0001, 90}, Empty},
		{"no samples", nil, Occupied},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.samples, 21); got != tt.want {
				t.Fatalf("Classify(%v) = %v, want %v", tt.samples, got, tt.want)
			}
		})
	}
}

func TestProbe(t *testing.T) {
	h := newHarness(Host, testConfig())

	occ, err := h.coord.Probe(context.Background(), forward)
	require.NoError(t, err)
	assert.Equal(t, Empty, occ)
	assert.Equal(t, 13, h.obstacle.Reads)

	cmds := sim.Commands(h.left, h.right)
	require.NotEmpty(t, cmds)
	assert.Equal(t, steering.Rotate(-180), cmds[0], "sweeps towards the parking sensor")
	assert.Equal(t, steering.Rotate(90), cmds[1], "returns at half speed")
	assert.Equal(t, steering.Stop, h.lastCommand())

	h.obstacle.Set(10)
	occ, err = h.coord.Probe(context.Background(), vehicle.Assign(testCalibration, vehicle.Reversed))
	require.NoError(t, err)
	assert.Equal(t, Occupied, occ)
}

func TestHostFullCycle(t *testing.T) {
	h := newHarness(Host, testConfig())
	h.coord.OnTransition(func(tr Transition) {
		switch tr.To {
		case AwaitingPeerParked:
			require.NoError(t, h.other.Send(link.Parked))
		case AwaitingPeerUnparked:
			if tok, fresh := h.other.Take(); fresh && tok == link.Unpark {
				require.NoError(t, h.other.Send(link.Unparked))
			}
		}
	})

	ok, err := h.coord.Attempt(context.Background(), forward)
	require.NoError(t, err)
	assert.True(t, ok)

	want := []State{
		ProbingOccupancy, Parking, Parked, AwaitingPeerParked, BothParked,
		RandomDwell, Unparking, AwaitingPeerUnparked, Driving,
	}
	if diff := cmp.Diff(want, h.states()); diff != "" {
		t.Fatalf("transitions mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, Driving, h.coord.State())
	assert.Equal(t, steering.Stop, h.lastCommand())

	require.Len(t, h.cycles, 1)
	assert.Equal(t, OutcomeCompleted, h.cycles[0].Outcome)
	assert.NotEmpty(t, h.cycles[0].ID)
	for _, tr := range h.transitions {
		assert.Equal(t, h.cycles[0].ID, tr.CycleID)
	}
}

func TestHostDwellIsWholeSecondsInRange(t *testing.T) {
	cfg := testConfig()
	for i := 0; i < 5; i++ {
		h := newHarness(Host, cfg)
		h.coord.OnTransition(func(tr Transition) {
			if tr.To == AwaitingPeerParked {
				require.NoError(t, h.other.Send(link.Parked))
			}
			if tr.To == AwaitingPeerUnparked {
				require.NoError(t, h.other.Send(link.Unparked))
			}
		})
		_, err := h.coord.Attempt(context.Background(), forward)
		require.NoError(t, err)

		var dwellStart, dwellEnd time.Time
		for _, tr := range h.transitions {
			switch tr.To {
			case RandomDwell:
				dwellStart = tr.At
			case Unparking:
				dwellEnd = tr.At
			}
		}
		dwell := dwellEnd.Sub(dwellStart)
		assert.GreaterOrEqual(t, dwell, cfg.DwellMin)
		assert.LessOrEqual(t, dwell, cfg.DwellMax)
		assert.Zero(t, dwell%time.Second)
	}
}

func TestHostSilentPeerWaitsForever(t *testing.T) {
	h := newHarness(Host, testConfig())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	type result struct {
		ok  bool
		err error
	}
	done := make(chan result, 1)
	go func() {
		ok, err := h.coord.Attempt(ctx, forward)
		done <- result{ok, err}
	}()

	require.Eventually(t, func() bool {
		return h.coord.State() == AwaitingPeerParked
	}, 5*time.Second, time.Millisecond)

	// Many simulated poll periods later it is still waiting.
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, AwaitingPeerParked, h.coord.State())
	select {
	case r := <-done:
		t.Fatalf("attempt returned early: %v %v", r.ok, r.err)
	default:
	}

	cancel()
	select {
	case r := <-done:
		assert.False(t, r.ok)
		assert.ErrorIs(t, r.err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("attempt did not honour cancellation")
	}
	assert.Equal(t, Driving, h.coord.State())
}

func TestHostPeerTimeoutLeavesBay(t *testing.T) {
	cfg := testConfig()
	cfg.PeerTimeout = 3 * time.Second
	h := newHarness(Host, cfg)

	ok, err := h.coord.Attempt(context.Background(), forward)
	assert.False(t, ok)
	assert.ErrorIs(t, err, link.ErrPeerTimeout)

	want := []State{ProbingOccupancy, Parking, Parked, AwaitingPeerParked, Unparking, Driving}
	if diff := cmp.Diff(want, h.states()); diff != "" {
		t.Fatalf("transitions mismatch (-want +got):\n%s", diff)
	}
	require.Len(t, h.cycles, 1)
	assert.Equal(t, OutcomeAborted, h.cycles[0].Outcome)
	assert.Equal(t, link.None, h.other.Read(), "nothing is sent on abort")
}

func TestHostDesync(t *testing.T) {
	h := newHarness(Host, testConfig())
	require.NoError(t, h.other.Send(link.Unparked))

	ok, err := h.coord.Attempt(context.Background(), forward)
	assert.False(t, ok)
	assert.ErrorIs(t, err, link.ErrProtocolDesync)
	assert.Equal(t, Driving, h.coord.State())
}

func TestOccupiedBay(t *testing.T) {
	h := newHarness(Host, testConfig())
	h.obstacle.Set(21)

	ok, err := h.coord.Attempt(context.Background(), forward)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, []State{ProbingOccupancy, Driving}, h.states())
	assert.Equal(t, OutcomeOccupied, h.cycles[0].Outcome)
}

func TestSensorFaultSafeStops(t *testing.T) {
	h := newHarness(Host, testConfig())
	h.obstacle.Err = errors.New("no echo")

	ok, err := h.coord.Attempt(context.Background(), forward)
	assert.False(t, ok)
	assert.ErrorIs(t, err, hw.ErrSensorFault)
	assert.Equal(t, steering.Stop, h.lastCommand())
	assert.Equal(t, vehicle.IndicatorFault, h.light.Last())
	assert.Equal(t, OutcomeFault, h.cycles[0].Outcome)
	assert.Equal(t, Driving, h.coord.State())
}

func TestPeerFullCycle(t *testing.T) {
	h := newHarness(Peer, testConfig())
	host := h.other
	require.NoError(t, host.Send(link.BothParked))
	h.coord.OnTransition(func(tr Transition) {
		if tr.To == AwaitingUnpark {
			require.NoError(t, host.Send(link.Unpark))
		}
	})

	ok, err := h.coord.Attempt(context.Background(), forward)
	require.NoError(t, err)
	assert.True(t, ok)

	want := []State{
		ProbingOccupancy, Parking, Parked, NotifyParked, BothParked,
		AwaitingUnpark, Unparking, NotifyUnparked, Driving,
	}
	if diff := cmp.Diff(want, h.states()); diff != "" {
		t.Fatalf("transitions mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, link.Unparked, host.Read())
}

func TestPeerAcceptsUnparkInPlaceOfBothParked(t *testing.T) {
	h := newHarness(Peer, testConfig())
	require.NoError(t, h.other.Send(link.Unpark))

	ok, err := h.coord.Attempt(context.Background(), forward)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.NotContains(t, h.states(), AwaitingUnpark)
}

func TestPeerDesyncOnRotate(t *testing.T) {
	h := newHarness(Peer, testConfig())
	require.NoError(t, h.other.Send(link.Rotate))

	ok, err := h.coord.Attempt(context.Background(), forward)
	assert.False(t, ok)
	assert.ErrorIs(t, err, link.ErrProtocolDesync)
	assert.Contains(t, h.states(), Unparking)
	assert.Equal(t, link.Parked, h.other.Read(), "PARKED was sent before the desync")

	tok, ok := h.coord.TakeNotice()
	assert.True(t, ok)
	assert.Equal(t, link.Rotate, tok)
	_, ok = h.coord.TakeNotice()
	assert.False(t, ok, "a notice is handed out once")
}

func TestHostDesyncKeepsNoNotice(t *testing.T) {
	h := newHarness(Host, testConfig())
	require.NoError(t, h.other.Send(link.Unparked))

	_, err := h.coord.Attempt(context.Background(), forward)
	assert.ErrorIs(t, err, link.ErrProtocolDesync)
	_, ok := h.coord.TakeNotice()
	assert.False(t, ok)
}
