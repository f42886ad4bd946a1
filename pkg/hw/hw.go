// Package hw defines the sensors and actuators the control logic consumes
// and wraps them with fault classification and trace logging.
package hw

import (
	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"go.uber.org/multierr"

	"github.com/charlie0129/linepark/pkg/steering"
	"github.com/charlie0129/linepark/pkg/vehicle"
)

var (
	// ErrSensorFault wraps any failure to read a sensor.
	ErrSensorFault = pkgerrors.New("sensor fault")
	// ErrActuatorFault wraps any failure to command a motor.
	ErrActuatorFault = pkgerrors.New("actuator fault")
)

// ReflectanceSensor reads brightness under the sensor.
type ReflectanceSensor interface {
	Reflectance() (float64, error)
}

// DistanceSensor reads the range to the nearest obstacle ahead.
type DistanceSensor interface {
	Distance() (float64, error)
}

// Motor drives one wheel. Zero is a full stop.
type Motor interface {
	SetVelocity(v float64) error
}

// Indicator shows a coarse status. Control logic never reads it back.
type Indicator interface {
	SetIndicator(s vehicle.Indicator) error
}

// Drive pairs the two wheel motors.
type Drive struct {
	Left  Motor
	Right Motor
}

// Run commands both wheels.
func (d *Drive) Run(v steering.Velocity) error {
	logrus.WithFields(logrus.Fields{
		"left":  v.Left,
		"right": v.Right,
	}).Trace("drive")

	if err := d.Left.SetVelocity(v.Left); err != nil {
		return pkgerrors.Wrapf(ErrActuatorFault, "left motor: %v", err)
	}
	if err := d.Right.SetVelocity(v.Right); err != nil {
		return pkgerrors.Wrapf(ErrActuatorFault, "right motor: %v", err)
	}
	return nil
}

// Stop commands zero velocity on both wheels. Unlike Run it always tries
// both motors, so a failing left motor does not leave the right one running.
func (d *Drive) Stop() error {
	var err error
	if e := d.Left.SetVelocity(0); e != nil {
		err = multierr.Append(err, pkgerrors.Wrapf(ErrActuatorFault, "left motor: %v", e))
	}
	if e := d.Right.SetVelocity(0); e != nil {
		err = multierr.Append(err, pkgerrors.Wrapf(ErrActuatorFault, "right motor: %v", e))
	}
	return err
}

// Rig is everything the controller talks to on one vehicle.
type Rig struct {
	Left      ReflectanceSensor
	Right     ReflectanceSensor
	Obstacle  DistanceSensor
	Drive     *Drive
	Indicator Indicator
}

// Sensor resolves a sensor name.
func (r *Rig) Sensor(id vehicle.SensorID) ReflectanceSensor {
	if id == vehicle.LeftSensor {
		return r.Left
	}
	return r.Right
}

// ReadReflectance reads s and classifies failures as sensor faults.
func ReadReflectance(s ReflectanceSensor) (float64, error) {
	v, err := s.Reflectance()
	if err != nil {
		return 0, pkgerrors.Wrapf(ErrSensorFault, "reflectance: %v", err)
	}
	logrus.WithField("reflectance", v).Trace("read reflectance")
	return v, nil
}

// ReadDistance reads s and classifies failures as sensor faults.
func ReadDistance(s DistanceSensor) (float64, error) {
	v, err := s.Distance()
	if err != nil {
		return 0, pkgerrors.Wrapf(ErrSensorFault, "distance: %v", err)
	}
	logrus.WithField("distance", v).Trace("read distance")
	return v, nil
}

// Show sets the indicator. Failures are logged and otherwise ignored since
// the light is output only.
func (r *Rig) Show(s vehicle.Indicator) {
	if r.Indicator == nil {
		return
	}
	if err := r.Indicator.SetIndicator(s); err != nil {
		logrus.WithError(err).WithField("indicator", s).Warn("failed to set indicator")
	}
}

// IsFault reports whether err came from a sensor or actuator.
func IsFault(err error) bool {
	return pkgerrors.Is(err, ErrSensorFault) || pkgerrors.Is(err, ErrActuatorFault)
}
