// Package steering implements the differential steering law that turns a
// reflectance reading into a pair of wheel velocities.
package steering

import "math"

// Velocity is a pair of signed wheel velocities. Zero is a full stop.
type Velocity struct {
	Left  float64 `json:"left"`
	Right float64 `json:"right"`
}

// Stop is the zero velocity.
var Stop = Velocity{}

// Straight drives both wheels at v.
func Straight(v float64) Velocity {
	return Velocity{Left: v, Right: v}
}

// Rotate spins in place. Positive v turns clockwise (left wheel forward).
func Rotate(v float64) Velocity {
	return Velocity{Left: v, Right: -v}
}

// Mirror swaps the wheels.
func (v Velocity) Mirror() Velocity {
	return Velocity{Left: v.Right, Right: v.Left}
}

// Scale multiplies both wheels by f.
func (v Velocity) Scale(f float64) Velocity {
	return Velocity{Left: v.Left * f, Right: v.Right * f}
}

// IsRotation reports whether the wheels turn in opposite directions.
func (v Velocity) IsRotation() bool {
	return v.Left*v.Right < 0
}

// Offset returns the signed lateral offset of current relative to the
// midpoint between refLeft and refRight, scaled so that refLeft maps to 1
// and refRight maps to -1. refLeft must differ from refRight.
func Offset(refLeft, refRight, current float64) float64 {
	t := current - math.Min(refLeft, refRight) - 0.5*math.Abs(refLeft-refRight)
	return 2 * t / (refLeft - refRight)
}

// Shape applies the odd-symmetric response curve gain*(t^3+t)/2.
func Shape(t, gain float64) float64 {
	return gain * (t*t*t + t) / 2
}

// Normalize is the shaped offset clamped to [-1, 1]. Negative means turn
// left, positive turn right, zero drive straight.
func Normalize(refLeft, refRight, current, gain float64) float64 {
	return clamp(Shape(Offset(refLeft, refRight, current), gain), -1, 1)
}

// VelocityFor computes the asymmetric differential law. Neither wheel
// exceeds base on its clamped side; there is no floor, so a large |t|
// drives the inner wheel backwards for sharp turns.
func VelocityFor(t, base, steeringOffset float64) Velocity {
	return Velocity{
		Left:  math.Min(base, base+2*base*t) + t*base*math.Min(steeringOffset, 0),
		Right: math.Min(base, base-2*base*t) + t*base*math.Max(steeringOffset, 0),
	}
}

// SpeedScale ramps linearly from 0 at near to 1 at far. A degenerate range
// (far <= near) becomes a step at near.
func SpeedScale(distance, near, far float64) float64 {
	if far <= near {
		if distance > near {
			return 1
		}
		return 0
	}
	return clamp((distance-near)/(far-near), 0, 1)
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
