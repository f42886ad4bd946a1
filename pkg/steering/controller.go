package steering

// Controller bundles the tuning used by the line follower.
type Controller struct {
	// Gain of the shaping curve, observed between 0.5 and 1.0.
	Gain float64
	// BaseVelocity is the straight-line wheel velocity.
	BaseVelocity float64
	// NearDistance is where obstacle throttling reaches zero speed.
	NearDistance float64
	// FarDistance is where obstacle throttling stops limiting speed.
	FarDistance float64
}

// Follow returns the wheel command for a reflectance reading at full
// throttle.
func (c Controller) Follow(refLeft, refRight, steeringOffset, reflectance float64) Velocity {
	t := Normalize(refLeft, refRight, reflectance, c.Gain)
	return VelocityFor(t, c.BaseVelocity, steeringOffset)
}

// FollowThrottled is Follow with the base velocity scaled down by the
// distance to the nearest obstacle.
func (c Controller) FollowThrottled(refLeft, refRight, steeringOffset, reflectance, distance float64) Velocity {
	t := Normalize(refLeft, refRight, reflectance, c.Gain)
	base := c.BaseVelocity * SpeedScale(distance, c.NearDistance, c.FarDistance)
	return VelocityFor(t, base, steeringOffset)
}
