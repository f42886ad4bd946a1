package config

import (
	"time"

	"github.com/charlie0129/linepark/pkg/line"
	"github.com/charlie0129/linepark/pkg/link"
	"github.com/charlie0129/linepark/pkg/parking"
	"github.com/charlie0129/linepark/pkg/reversal"
	"github.com/charlie0129/linepark/pkg/steering"
	"github.com/charlie0129/linepark/pkg/vehicle"
)

// Loop tunes the per-tick control loop.
type Loop struct {
	TickInterval     time.Duration
	ApproachVelocity float64
	ParkRepeat       int
	ParkingCooldown  time.Duration
	EnableDelay      time.Duration
	ParkInReverse    bool
	FaultBackoff     time.Duration
}

// Link selects the transport to the other vehicle.
type Link struct {
	// Device is the serial device path.
	Device  string
	Options link.PortOptions
}

type Config interface {
	Role() parking.Role
	Calibration() vehicle.Calibration
	Controller() steering.Controller
	Line() line.Config
	Parking() parking.Config
	Reversal() reversal.Config
	Loop() Loop
	Link() Link
	// ParkingAllowed switches the parking behaviour as a whole.
	ParkingAllowed() bool

	SetCalibration(vehicle.Calibration) error
	SetParkingAllowed(bool)

	// Validate checks that the values can drive a vehicle.
	Validate() error
	// Load reads the configuration from the source.
	Load() error
	// Save saves the configuration to the source.
	Save() error
}
