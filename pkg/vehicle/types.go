// Package vehicle holds the data model shared by the control loop, the
// parking protocol and the direction scheduler.
package vehicle

import (
	"fmt"
	"math"
	"time"

	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// ErrCalibrationInvalid is returned when the two reference values cannot
// define a line edge.
var ErrCalibrationInvalid = pkgerrors.New("calibration invalid")

// Calibration is the pair of reflectance references measured on the line
// and on the background.
type Calibration struct {
	Line float64 `json:"line"`
	Base float64 `json:"base"`
}

// Validate rejects references the steering math would divide by zero on.
func (c Calibration) Validate() error {
	if math.IsNaN(c.Line) || math.IsNaN(c.Base) {
		return pkgerrors.Wrap(ErrCalibrationInvalid, "reference is NaN")
	}
	if c.Line == c.Base {
		return pkgerrors.Wrapf(ErrCalibrationInvalid, "line and base references are both %v", c.Line)
	}
	return nil
}

// Mode selects which side of the line the vehicle tracks.
type Mode int

const (
	// Forward tracks the line with the right sensor on its right side.
	Forward Mode = -1
	// Reversed tracks the line with the left sensor on its left side.
	Reversed Mode = 1
)

// Flip returns the opposite mode.
func (m Mode) Flip() Mode {
	return -m
}

func (m Mode) String() string {
	switch m {
	case Forward:
		return "forward"
	case Reversed:
		return "reversed"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

// SensorID names one of the two reflectance sensors.
type SensorID string

const (
	LeftSensor  SensorID = "left"
	RightSensor SensorID = "right"
)

// DrivingAssignment tells the follower which sensor steers, which sensor
// watches for bay lines, and how to bias the steering.
type DrivingAssignment struct {
	DrivingSensor  SensorID `json:"drivingSensor"`
	ParkingSensor  SensorID `json:"parkingSensor"`
	RefLeft        float64  `json:"refLeft"`
	RefRight       float64  `json:"refRight"`
	SteeringOffset float64  `json:"steeringOffset"`
}

// Assign derives the driving assignment for mode.
func Assign(c Calibration, m Mode) DrivingAssignment {
	if m == Reversed {
		return DrivingAssignment{
			DrivingSensor:  LeftSensor,
			ParkingSensor:  RightSensor,
			RefLeft:        c.Base,
			RefRight:       c.Line,
			SteeringOffset: -1,
		}
	}
	return DrivingAssignment{
		DrivingSensor:  RightSensor,
		ParkingSensor:  LeftSensor,
		RefLeft:        c.Line,
		RefRight:       c.Base,
		SteeringOffset: 1,
	}
}

// ForSensor returns the references and steering offset used when id is the
// sensor following the line, e.g. while parking with the parking sensor.
func ForSensor(c Calibration, id SensorID) (refLeft, refRight, steeringOffset float64) {
	if id == RightSensor {
		return c.Base, c.Line, 1
	}
	return c.Line, c.Base, -1
}

// State is the mutable per-vehicle state owned by the control loop.
type State struct {
	Mode             Mode          `json:"mode"`
	ParkingEnabled   bool          `json:"parkingEnabled"`
	ReverseMode      bool          `json:"reverseMode"`
	LastParkingEvent time.Time     `json:"lastParkingEvent"`
	LastReversal     time.Time     `json:"lastReversal"`
	ReversalInterval time.Duration `json:"reversalInterval"`
}

// LogrusFields describes s for structured logs.
func (s *State) LogrusFields() logrus.Fields {
	return logrus.Fields{
		"mode":             s.Mode.String(),
		"parkingEnabled":   s.ParkingEnabled,
		"reverseMode":      s.ReverseMode,
		"reversalInterval": s.ReversalInterval.String(),
	}
}

// Indicator is the coarse status shown on the vehicle's light.
type Indicator string

const (
	IndicatorDriving        Indicator = "driving"
	IndicatorParkingEnabled Indicator = "parking-enabled"
	IndicatorParking        Indicator = "parking"
	IndicatorParked         Indicator = "parked"
	IndicatorWaiting        Indicator = "waiting"
	IndicatorBothParked     Indicator = "both-parked"
	IndicatorUnparking      Indicator = "unparking"
	IndicatorReversed       Indicator = "reversed"
	IndicatorFault          Indicator = "fault"
)
