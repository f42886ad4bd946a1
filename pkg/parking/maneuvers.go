package parking

import (
	"context"

	"gonum.org/v1/gonum/floats"

	"github.com/charlie0129/linepark/pkg/hw"
	"github.com/charlie0129/linepark/pkg/line"
	"github.com/charlie0129/linepark/pkg/steering"
	"github.com/charlie0129/linepark/pkg/vehicle"
)

// Classify reports Empty iff every sample is farther than threshold. A
// single close reading is enough to call the bay occupied, and so is having
// no readings at all.
func Classify(samples []float64, threshold float64) Occupancy {
	if len(samples) == 0 {
		return Occupied
	}
	if floats.Min(samples) > threshold {
		return Empty
	}
	return Occupied
}

// Probe sweeps the distance sensor across the bay and classifies it.
func (c *Coordinator) Probe(ctx context.Context, assign vehicle.DrivingAssignment) (Occupancy, error) {
	cfg, cal := c.snapshot()
	return c.probe(ctx, cfg, cal, assign)
}

// Park enters the bay on the parking sensor's side.
func (c *Coordinator) Park(ctx context.Context, assign vehicle.DrivingAssignment) error {
	cfg, cal := c.snapshot()
	return c.park(ctx, cfg, cal, assign)
}

// Unpark leaves the bay and crosses back over the track line.
func (c *Coordinator) Unpark(ctx context.Context, assign vehicle.DrivingAssignment) error {
	cfg, cal := c.snapshot()
	return c.unpark(ctx, cfg, cal, assign)
}

// probeRotation turns the vehicle towards the bay, i.e. towards the side of
// the parking sensor.
func probeRotation(assign vehicle.DrivingAssignment, v float64) steering.Velocity {
	if assign.ParkingSensor == vehicle.LeftSensor {
		return steering.Rotate(-v)
	}
	return steering.Rotate(v)
}

func (c *Coordinator) probe(ctx context.Context, cfg Config, cal vehicle.Calibration, assign vehicle.DrivingAssignment) (Occupancy, error) {
	sweep := probeRotation(assign, cfg.ProbeVelocity)
	if err := c.rig.Drive.Run(sweep); err != nil {
		return Occupied, err
	}

	samples := make([]float64, 0, cfg.SampleCount)
	for i := 0; i < cfg.SampleCount; i++ {
		if err := ctx.Err(); err != nil {
			return Occupied, err
		}
		c.clock.Sleep(cfg.SampleInterval)
		d, err := hw.ReadDistance(c.rig.Obstacle)
		if err != nil {
			return Occupied, err
		}
		samples = append(samples, d)
	}

	// Turn back at half speed until the parking sensor finds the line again.
	back := sweep.Scale(-0.5)
	if err := c.acq.RotateUntilOnLine(ctx, cal.Line, c.rig.Sensor(assign.ParkingSensor), back); err != nil {
		return Occupied, err
	}
	return Classify(samples, cfg.OccupancyThreshold), nil
}

func (c *Coordinator) park(ctx context.Context, cfg Config, cal vehicle.Calibration, assign vehicle.DrivingAssignment) error {
	sensor := c.rig.Sensor(assign.ParkingSensor)
	if err := c.acq.StopPastLine(ctx, cal.Line, cal.Base, sensor, steering.Straight(cfg.ManeuverVelocity)); err != nil {
		return err
	}

	c.mu.Lock()
	c.parked = true
	c.mu.Unlock()

	refLeft, refRight, off := vehicle.ForSensor(cal, assign.ParkingSensor)
	return c.acq.FollowStraightUntilCentered(ctx, line.FollowParams{
		RefLeft:        refLeft,
		RefRight:       refRight,
		BaseRef:        cal.Base,
		Sensor:         sensor,
		SteeringOffset: off,
		Limit:          cfg.ParkDuration,
	})
}

func (c *Coordinator) unpark(ctx context.Context, cfg Config, cal vehicle.Calibration, assign vehicle.DrivingAssignment) error {
	sensor := c.rig.Sensor(assign.DrivingSensor)
	refLeft, refRight, off := vehicle.ForSensor(cal, assign.DrivingSensor)

	turn := steering.Rotate(cfg.ManeuverVelocity * off)
	if err := c.acq.RotateUntilOnLine(ctx, cal.Line, sensor, turn); err != nil {
		return err
	}
	err := c.acq.FollowStraightUntilCentered(ctx, line.FollowParams{
		RefLeft:        refLeft,
		RefRight:       refRight,
		BaseRef:        cal.Base,
		Sensor:         sensor,
		SteeringOffset: off,
		Limit:          cfg.UnparkDuration,
	})
	if err != nil {
		return err
	}
	if err := c.acq.StopPastLine(ctx, cal.Line, cal.Base, sensor, steering.Straight(cfg.ManeuverVelocity)); err != nil {
		return err
	}

	c.mu.Lock()
	c.parked = false
	c.mu.Unlock()
	return nil
}
