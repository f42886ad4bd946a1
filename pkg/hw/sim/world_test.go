package sim

import (
	"math"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/charlie0129/linepark/pkg/steering"
	"github.com/charlie0129/linepark/pkg/vehicle"
)

func TestVehicleStartsOnLineEdge(t *testing.T) {
	cfg := DefaultWorldConfig()
	w := NewWorld(cfg, clock.NewMock())
	rig := w.AddVehicle("host", math.Pi/4).Rig()

	right, err := rig.Right.Reflectance()
	require.NoError(t, err)
	left, err := rig.Left.Reflectance()
	require.NoError(t, err)

	assert.Less(t, right, (cfg.LineReflectance+cfg.BaseReflectance)/2, "right sensor should be near the line")
	assert.Equal(t, cfg.BaseReflectance, left)
}

func TestVehicleMovesWithClock(t *testing.T) {
	cfg := DefaultWorldConfig()
	mock := clock.NewMock()
	w := NewWorld(cfg, mock)
	v := w.AddVehicle("host", 0)
	rig := v.Rig()

	x0, y0, h0 := v.Pose()
	require.NoError(t, rig.Drive.Run(steering.Straight(100)))
	mock.Add(time.Second)

	x1, y1, h1 := v.Pose()
	assert.InDelta(t, 100*cfg.SpeedFactor, math.Hypot(x1-x0, y1-y0), 1e-6)
	assert.InDelta(t, h0, h1, 1e-9)

	require.NoError(t, rig.Drive.Run(steering.Rotate(100)))
	mock.Add(time.Second)
	_, _, h2 := v.Pose()
	assert.Less(t, h2, h1, "positive rotation turns clockwise")
}

func TestDistanceSeesOtherVehicle(t *testing.T) {
	cfg := DefaultWorldConfig()
	w := NewWorld(cfg, clock.NewMock())
	a := w.AddVehicle("a", 0)
	// A small arc ahead of a, counter-clockwise.
	w.AddVehicle("b", 0.5)

	d, err := a.Rig().Obstacle.Distance()
	require.NoError(t, err)
	assert.Less(t, d, cfg.MaxRange)
	assert.Greater(t, d, 0.0)

	alone := NewWorld(cfg, clock.NewMock()).AddVehicle("c", 0)
	d, err = alone.Rig().Obstacle.Distance()
	require.NoError(t, err)
	assert.Equal(t, cfg.MaxRange, d)
}

func TestIndicator(t *testing.T) {
	w := NewWorld(DefaultWorldConfig(), clock.NewMock())
	v := w.AddVehicle("a", 0)
	v.Rig().Show(vehicle.IndicatorParked)
	assert.Equal(t, vehicle.IndicatorParked, v.Indicator())
}

func TestScriptedDevices(t *testing.T) {
	s := &Sensor{Next: Sequence(1, 2, 3)}
	for _, want := range []float64{1, 2, 3, 3} {
		got, err := s.Reflectance()
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	assert.Equal(t, 4, s.Reads)

	l, r := &Motor{}, &Motor{}
	require.NoError(t, l.SetVelocity(1))
	require.NoError(t, r.SetVelocity(2))
	assert.Equal(t, []steering.Velocity{{Left: 1, Right: 2}}, Commands(l, r))
}
