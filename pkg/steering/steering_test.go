package steering

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeMidpoint(t *testing.T) {
	tests := []struct {
		name        string
		left, right float64
	}{
		{name: "line dark", left: 0, right: 100},
		{name: "line bright", left: 100, right: 0},
		{name: "narrow range", left: 41, right: 44},
		{name: "negative refs", left: -20, right: 35},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mid := (tt.left + tt.right) / 2
			for _, gain := range []float64{0.5, 0.75, 1} {
				assert.InDelta(t, 0, Normalize(tt.left, tt.right, mid, gain), 1e-12)
			}
		})
	}
}

func TestNormalizeEndpointsAndClamp(t *testing.T) {
	assert.InDelta(t, 1, Offset(0, 100, 0), 1e-12)
	assert.InDelta(t, -1, Offset(0, 100, 100), 1e-12)

	// Readings outside the calibrated range saturate.
	assert.Equal(t, 1.0, Normalize(0, 100, -50, 1))
	assert.Equal(t, -1.0, Normalize(0, 100, 180, 1))

	assert.InDelta(t, -0.5, Normalize(0, 100, 100, 0.5), 1e-12)
}

func TestShapeIsOdd(t *testing.T) {
	for _, x := range []float64{0.1, 0.3, 0.77, 1} {
		assert.InDelta(t, -Shape(x, 0.8), Shape(-x, 0.8), 1e-12)
	}
	assert.Equal(t, 0.0, Shape(0, 1))
}

func TestVelocityIdentity(t *testing.T) {
	for _, v := range []float64{0, 1, 150, 200, -180} {
		assert.Equal(t, Velocity{Left: v, Right: v}, VelocityFor(0, v, 0))
	}
}

func TestVelocityBounded(t *testing.T) {
	const base = 200.0
	for _, offset := range []float64{-1, 0, 1} {
		for i := -20; i <= 20; i++ {
			x := float64(i) / 20
			got := VelocityFor(x, base, offset)
			assert.LessOrEqualf(t, got.Left, base, "left wheel t=%v offset=%v", x, offset)
			assert.LessOrEqualf(t, got.Right, base, "right wheel t=%v offset=%v", x, offset)
		}
	}
}

func TestVelocityAllowsReverse(t *testing.T) {
	got := VelocityFor(1, 100, 0)
	assert.Equal(t, 100.0, got.Left)
	assert.Equal(t, -100.0, got.Right)
}

func TestScenarioLineZeroBaseHundred(t *testing.T) {
	c := Controller{Gain: 1, BaseVelocity: 200, NearDistance: 100, FarDistance: 300}

	// Sensor half way between line and base drives straight.
	require.Equal(t, Velocity{Left: 200, Right: 200}, c.Follow(0, 100, 1, 50))

	// Sensor fully on the base saturates and turns hard.
	got := c.Follow(0, 100, 1, 100)
	assert.LessOrEqual(t, got.Left, 0.0)
	assert.Equal(t, Velocity{Left: -200, Right: 0}, got)
}

func TestSpeedScale(t *testing.T) {
	tests := []struct {
		name     string
		distance float64
		want     float64
	}{
		{name: "blocked", distance: 50, want: 0},
		{name: "at near", distance: 100, want: 0},
		{name: "half way", distance: 200, want: 0.5},
		{name: "at far", distance: 300, want: 1},
		{name: "clear", distance: 2550, want: 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, SpeedScale(tt.distance, 100, 300), 1e-12)
		})
	}

	assert.Equal(t, 0.0, SpeedScale(5, 10, 10))
	assert.Equal(t, 1.0, SpeedScale(11, 10, 10))
}

func TestFollowThrottled(t *testing.T) {
	c := Controller{Gain: 1, BaseVelocity: 200, NearDistance: 100, FarDistance: 300}
	assert.Equal(t, Stop, c.FollowThrottled(0, 100, 1, 50, 80))
	assert.Equal(t, Straight(100), c.FollowThrottled(0, 100, 1, 50, 200))
}

func TestVelocityHelpers(t *testing.T) {
	v := Rotate(180)
	assert.True(t, v.IsRotation())
	assert.Equal(t, Velocity{Left: -180, Right: 180}, v.Mirror())
	assert.Equal(t, Velocity{Left: 90, Right: -90}, v.Scale(0.5))
	assert.False(t, Straight(10).IsRotation())
	assert.False(t, math.IsNaN(Normalize(0, 100, 50, 1)))
}
