// Package sim provides a simulated rig: a flat world with a painted
// circular track, radial bay lines and any number of differential-drive
// vehicles that can see each other with their distance sensors.
package sim

import (
	"math"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/sirupsen/logrus"

	"github.com/charlie0129/linepark/pkg/hw"
	"github.com/charlie0129/linepark/pkg/vehicle"
)

// maxStep bounds a single integration step.
const maxStep = 10 * time.Millisecond

// WorldConfig describes the track and the physical vehicle.
type WorldConfig struct {
	// TrackRadius is the radius of the circular line, in mm.
	TrackRadius float64
	// LineWidth is the painted stroke width, in mm.
	LineWidth float64
	// Blur is the width of the reflectance ramp at a stroke edge, in mm.
	Blur float64
	// BayAngles places a radial bay line on the inside of the track at
	// each angle, in radians.
	BayAngles []float64
	// BayLength is the length of a bay line, in mm.
	BayLength float64
	// LineReflectance and BaseReflectance are what a sensor reads on a
	// stroke and on the background.
	LineReflectance float64
	BaseReflectance float64
	// SpeedFactor converts a motor velocity (deg/s) to mm/s.
	SpeedFactor float64
	// AxleTrack is the distance between the wheels, in mm.
	AxleTrack float64
	// SensorForward and SensorSpread place the reflectance sensors relative
	// to the axle centre, in mm.
	SensorForward float64
	SensorSpread  float64
	// BodyRadius is used by the other vehicles' distance sensors, in mm.
	BodyRadius float64
	// MaxRange is returned by a distance sensor that sees nothing, in mm.
	MaxRange float64
}

// DefaultWorldConfig is a track roughly the size of a classroom floor mat.
func DefaultWorldConfig() WorldConfig {
	return WorldConfig{
		TrackRadius:     600,
		LineWidth:       20,
		Blur:            15,
		BayAngles:       []float64{0, math.Pi / 2, math.Pi, 3 * math.Pi / 2},
		BayLength:       250,
		LineReflectance: 5,
		BaseReflectance: 80,
		SpeedFactor:     0.48,
		AxleTrack:       104,
		SensorForward:   60,
		SensorSpread:    30,
		BodyRadius:      80,
		MaxRange:        2550,
	}
}

// World is a shared simulated floor. It is safe for concurrent use by the
// vehicles' control goroutines.
type World struct {
	cfg   WorldConfig
	clock clock.Clock

	mu       sync.Mutex
	vehicles []*Vehicle
	last     time.Time
}

// NewWorld creates an empty world driven by clk.
func NewWorld(cfg WorldConfig, clk clock.Clock) *World {
	return &World{
		cfg:   cfg,
		clock: clk,
		last:  clk.Now(),
	}
}

// Vehicle is one simulated body on the floor.
type Vehicle struct {
	world *World
	name  string

	// Pose of the axle centre.
	x, y, heading float64
	left, right   float64

	indicator vehicle.Indicator
}

// AddVehicle places a vehicle on the track at angle (radians around the
// circle), heading counter-clockwise with its right sensor on the outer
// edge of the line.
func (w *World) AddVehicle(name string, angle float64) *Vehicle {
	w.mu.Lock()
	defer w.mu.Unlock()

	r := w.cfg.TrackRadius + w.cfg.LineWidth/2 - w.cfg.SensorSpread
	v := &Vehicle{
		world:   w,
		name:    name,
		x:       r * math.Cos(angle),
		y:       r * math.Sin(angle),
		heading: angle + math.Pi/2,
	}
	w.vehicles = append(w.vehicles, v)
	return v
}

// Rig wires the simulated vehicle into an hw.Rig.
func (v *Vehicle) Rig() *hw.Rig {
	return &hw.Rig{
		Left:      reflectanceFunc(func() float64 { return v.reflectance(1) }),
		Right:     reflectanceFunc(func() float64 { return v.reflectance(-1) }),
		Obstacle:  distanceFunc(v.distance),
		Drive:     &hw.Drive{Left: motorFunc(v.setLeft), Right: motorFunc(v.setRight)},
		Indicator: indicatorFunc(v.setIndicator),
	}
}

// Pose returns the axle centre and heading.
func (v *Vehicle) Pose() (x, y, heading float64) {
	v.world.mu.Lock()
	defer v.world.mu.Unlock()
	v.world.advanceLocked()
	return v.x, v.y, v.heading
}

// Indicator returns the last status shown by the vehicle.
func (v *Vehicle) Indicator() vehicle.Indicator {
	v.world.mu.Lock()
	defer v.world.mu.Unlock()
	return v.indicator
}

// advanceLocked integrates every vehicle up to the current clock reading.
func (w *World) advanceLocked() {
	now := w.clock.Now()
	elapsed := now.Sub(w.last)
	if elapsed <= 0 {
		return
	}
	w.last = now

	for elapsed > 0 {
		dt := min(elapsed, maxStep)
		elapsed -= dt
		sec := dt.Seconds()
		for _, v := range w.vehicles {
			vl := v.left * w.cfg.SpeedFactor
			vr := v.right * w.cfg.SpeedFactor
			speed := (vl + vr) / 2
			omega := (vr - vl) / w.cfg.AxleTrack
			v.heading += omega * sec
			v.x += speed * math.Cos(v.heading) * sec
			v.y += speed * math.Sin(v.heading) * sec
		}
	}
}

// reflectance reads the sensor on side (+1 left, -1 right).
func (v *Vehicle) reflectance(side float64) float64 {
	w := v.world
	w.mu.Lock()
	defer w.mu.Unlock()
	w.advanceLocked()

	cos, sin := math.Cos(v.heading), math.Sin(v.heading)
	px := v.x + w.cfg.SensorForward*cos - side*w.cfg.SensorSpread*sin
	py := v.y + w.cfg.SensorForward*sin + side*w.cfg.SensorSpread*cos

	d := w.strokeDistance(px, py) - w.cfg.LineWidth/2
	switch {
	case d <= 0:
		return w.cfg.LineReflectance
	case d >= w.cfg.Blur:
		return w.cfg.BaseReflectance
	default:
		f := d / w.cfg.Blur
		return w.cfg.LineReflectance + f*(w.cfg.BaseReflectance-w.cfg.LineReflectance)
	}
}

// strokeDistance is the distance from a point to the nearest painted
// stroke centre line.
func (w *World) strokeDistance(px, py float64) float64 {
	best := math.Abs(math.Hypot(px, py) - w.cfg.TrackRadius)
	for _, a := range w.cfg.BayAngles {
		ax, ay := w.cfg.TrackRadius*math.Cos(a), w.cfg.TrackRadius*math.Sin(a)
		r := w.cfg.TrackRadius - w.cfg.BayLength
		bx, by := r*math.Cos(a), r*math.Sin(a)
		best = math.Min(best, segmentDistance(px, py, ax, ay, bx, by))
	}
	return best
}

func segmentDistance(px, py, ax, ay, bx, by float64) float64 {
	dx, dy := bx-ax, by-ay
	t := ((px-ax)*dx + (py-ay)*dy) / (dx*dx + dy*dy)
	t = math.Max(0, math.Min(1, t))
	return math.Hypot(px-(ax+t*dx), py-(ay+t*dy))
}

// distance casts a ray forward and reports the range to the nearest other
// vehicle body.
func (v *Vehicle) distance() float64 {
	w := v.world
	w.mu.Lock()
	defer w.mu.Unlock()
	w.advanceLocked()

	best := w.cfg.MaxRange
	cos, sin := math.Cos(v.heading), math.Sin(v.heading)
	for _, o := range w.vehicles {
		if o == v {
			continue
		}
		// Project the other body centre onto the ray.
		ox, oy := o.x-v.x, o.y-v.y
		along := ox*cos + oy*sin
		if along <= 0 {
			continue
		}
		across := math.Abs(-ox*sin + oy*cos)
		if across > w.cfg.BodyRadius {
			continue
		}
		hit := along - math.Sqrt(w.cfg.BodyRadius*w.cfg.BodyRadius-across*across)
		best = math.Min(best, math.Max(0, hit))
	}
	return best
}

func (v *Vehicle) setLeft(s float64) {
	v.world.mu.Lock()
	defer v.world.mu.Unlock()
	v.world.advanceLocked()
	v.left = s
}

func (v *Vehicle) setRight(s float64) {
	v.world.mu.Lock()
	defer v.world.mu.Unlock()
	v.world.advanceLocked()
	v.right = s
}

func (v *Vehicle) setIndicator(s vehicle.Indicator) {
	v.world.mu.Lock()
	defer v.world.mu.Unlock()
	if v.indicator != s {
		logrus.WithFields(logrus.Fields{
			"vehicle":   v.name,
			"indicator": s,
		}).Debug("indicator changed")
	}
	v.indicator = s
}
