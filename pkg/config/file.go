package config

import (
	"encoding/json"
	"io"
	"math"
	"os"
	"strings"
	"sync"
	"time"

	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/charlie0129/linepark/pkg/line"
	"github.com/charlie0129/linepark/pkg/link"
	"github.com/charlie0129/linepark/pkg/parking"
	"github.com/charlie0129/linepark/pkg/reversal"
	"github.com/charlie0129/linepark/pkg/steering"
	"github.com/charlie0129/linepark/pkg/utils/ptr"
	"github.com/charlie0129/linepark/pkg/vehicle"
)

var (
	defaultFileConfig = &RawFileConfig{
		Role:             ptr.To("host"),
		CalibrationLine:  ptr.To(5.0),
		CalibrationBase:  ptr.To(80.0),
		SteeringGain:     ptr.To(1.0),
		BaseVelocity:     ptr.To(180.0),
		NearDistance:     ptr.To(100.0),
		FarDistance:      ptr.To(300.0),
		ApproachVelocity: ptr.To(220.0),
		LineTolerance:    ptr.To(20.0),
		PollIntervalMs:   ptr.To(20),
		TickIntervalMs:   ptr.To(20),
		SettleDelayMs:    ptr.To(300),

		ManeuverVelocity:   ptr.To(180.0),
		ProbeVelocity:      ptr.To(180.0),
		SampleCount:        ptr.To(13),
		SampleIntervalMs:   ptr.To(60),
		OccupancyThreshold: ptr.To(210.0),
		ParkDurationMs:     ptr.To(2500),
		UnparkDurationMs:   ptr.To(1500),
		DwellMinSeconds:    ptr.To(1),
		DwellMaxSeconds:    ptr.To(7),
		AckPollIntervalMs:  ptr.To(1000),
		// Zero keeps waiting for the other vehicle forever.
		PeerTimeoutMs:     ptr.To(0),
		ParkRepeat:        ptr.To(1),
		ParkingCooldownMs: ptr.To(1600),
		EnableDelayMs:     ptr.To(1000),
		ParkInReverse:     ptr.To(false),
		ParkingAllowed:    ptr.To(true),
		FaultBackoffMs:    ptr.To(1000),

		ReversalForwardMinSeconds:  ptr.To(30),
		ReversalForwardMaxSeconds:  ptr.To(60),
		ReversalReversedMinSeconds: ptr.To(10),
		ReversalReversedMaxSeconds: ptr.To(20),
		ReversalGuardMs:            ptr.To(int(reversal.DefaultGuard / time.Millisecond)),

		SerialDevice: ptr.To("/dev/ttyUSB0"),
	}
)

var _ Config = &File{}

type File struct {
	c        *RawFileConfig
	mu       *sync.RWMutex
	filepath string
}

func NewFile(configPath string) (*File, error) {
	f := &File{
		filepath: configPath,
		mu:       &sync.RWMutex{},
	}
	err := f.Load()
	if err != nil {
		return nil, err
	}

	return f, nil
}

func NewFileFromConfig(c *RawFileConfig, configPath string) *File {
	if c == nil {
		c = &RawFileConfig{}
	}

	f := &File{
		c:        c,
		mu:       &sync.RWMutex{},
		filepath: configPath,
	}

	return f
}

// RawStep is one segment of the turn-around script.
type RawStep struct {
	Left       float64 `json:"left"`
	Right      float64 `json:"right"`
	DurationMs int     `json:"durationMs"`
}

// RawFileConfig is the JSON form. Unset fields take their defaults.
type RawFileConfig struct {
	Role *string `json:"role,omitempty"`

	CalibrationLine  *float64 `json:"calibrationLine,omitempty"`
	CalibrationBase  *float64 `json:"calibrationBase,omitempty"`
	SteeringGain     *float64 `json:"steeringGain,omitempty"`
	BaseVelocity     *float64 `json:"baseVelocity,omitempty"`
	NearDistance     *float64 `json:"nearDistance,omitempty"`
	FarDistance      *float64 `json:"farDistance,omitempty"`
	ApproachVelocity *float64 `json:"approachVelocity,omitempty"`
	LineTolerance    *float64 `json:"lineTolerance,omitempty"`
	PollIntervalMs   *int     `json:"pollIntervalMs,omitempty"`
	TickIntervalMs   *int     `json:"tickIntervalMs,omitempty"`
	SettleDelayMs    *int     `json:"settleDelayMs,omitempty"`

	ManeuverVelocity   *float64 `json:"maneuverVelocity,omitempty"`
	ProbeVelocity      *float64 `json:"probeVelocity,omitempty"`
	SampleCount        *int     `json:"sampleCount,omitempty"`
	SampleIntervalMs   *int     `json:"sampleIntervalMs,omitempty"`
	OccupancyThreshold *float64 `json:"occupancyThreshold,omitempty"`
	ParkDurationMs     *int     `json:"parkDurationMs,omitempty"`
	UnparkDurationMs   *int     `json:"unparkDurationMs,omitempty"`
	DwellMinSeconds    *int     `json:"dwellMinSeconds,omitempty"`
	DwellMaxSeconds    *int     `json:"dwellMaxSeconds,omitempty"`
	AckPollIntervalMs  *int     `json:"ackPollIntervalMs,omitempty"`
	PeerTimeoutMs      *int     `json:"peerTimeoutMs,omitempty"`
	ParkRepeat         *int     `json:"parkRepeat,omitempty"`
	ParkingCooldownMs  *int     `json:"parkingCooldownMs,omitempty"`
	EnableDelayMs      *int     `json:"enableDelayMs,omitempty"`
	ParkInReverse      *bool    `json:"parkInReverse,omitempty"`
	ParkingAllowed     *bool    `json:"parkingAllowed,omitempty"`
	FaultBackoffMs     *int     `json:"faultBackoffMs,omitempty"`

	ReversalForwardMinSeconds  *int      `json:"reversalForwardMinSeconds,omitempty"`
	ReversalForwardMaxSeconds  *int      `json:"reversalForwardMaxSeconds,omitempty"`
	ReversalReversedMinSeconds *int      `json:"reversalReversedMinSeconds,omitempty"`
	ReversalReversedMaxSeconds *int      `json:"reversalReversedMaxSeconds,omitempty"`
	ReversalGuardMs            *int      `json:"reversalGuardMs,omitempty"`
	RotationScript             []RawStep `json:"rotationScript,omitempty"`

	SerialDevice   *string `json:"serialDevice,omitempty"`
	SerialBaudRate *int    `json:"serialBaudRate,omitempty"`
	SerialDataBits *int    `json:"serialDataBits,omitempty"`
	SerialStopBits *int    `json:"serialStopBits,omitempty"`
	SerialParity   *string `json:"serialParity,omitempty"`
}

func ms(p, def *int) time.Duration {
	return time.Duration(ptr.Deref(p, *def)) * time.Millisecond
}

func seconds(p, def *int) time.Duration {
	return time.Duration(ptr.Deref(p, *def)) * time.Second
}

func (f *File) raw() *RawFileConfig {
	if f.c == nil {
		panic("config is nil")
	}
	return f.c
}

func (f *File) Role() parking.Role {
	f.mu.RLock()
	defer f.mu.RUnlock()

	// Validate rejects unknown roles.
	role, _ := parking.ParseRole(ptr.Deref(f.raw().Role, *defaultFileConfig.Role))
	return role
}

func (f *File) Calibration() vehicle.Calibration {
	f.mu.RLock()
	defer f.mu.RUnlock()

	c, d := f.raw(), defaultFileConfig
	return vehicle.Calibration{
		Line: ptr.Deref(c.CalibrationLine, *d.CalibrationLine),
		Base: ptr.Deref(c.CalibrationBase, *d.CalibrationBase),
	}
}

func (f *File) Controller() steering.Controller {
	f.mu.RLock()
	defer f.mu.RUnlock()

	c, d := f.raw(), defaultFileConfig
	return steering.Controller{
		Gain:         ptr.Deref(c.SteeringGain, *d.SteeringGain),
		BaseVelocity: ptr.Deref(c.BaseVelocity, *d.BaseVelocity),
		NearDistance: ptr.Deref(c.NearDistance, *d.NearDistance),
		FarDistance:  ptr.Deref(c.FarDistance, *d.FarDistance),
	}
}

func (f *File) Line() line.Config {
	f.mu.RLock()
	defer f.mu.RUnlock()

	c, d := f.raw(), defaultFileConfig
	return line.Config{
		PollInterval: ms(c.PollIntervalMs, d.PollIntervalMs),
		Tolerance:    ptr.Deref(c.LineTolerance, *d.LineTolerance),
		SettleDelay:  ms(c.SettleDelayMs, d.SettleDelayMs),
	}
}

func (f *File) Parking() parking.Config {
	f.mu.RLock()
	defer f.mu.RUnlock()

	c, d := f.raw(), defaultFileConfig
	return parking.Config{
		ManeuverVelocity:   ptr.Deref(c.ManeuverVelocity, *d.ManeuverVelocity),
		ProbeVelocity:      ptr.Deref(c.ProbeVelocity, *d.ProbeVelocity),
		SampleCount:        ptr.Deref(c.SampleCount, *d.SampleCount),
		SampleInterval:     ms(c.SampleIntervalMs, d.SampleIntervalMs),
		OccupancyThreshold: ptr.Deref(c.OccupancyThreshold, *d.OccupancyThreshold),
		ParkDuration:       ms(c.ParkDurationMs, d.ParkDurationMs),
		UnparkDuration:     ms(c.UnparkDurationMs, d.UnparkDurationMs),
		DwellMin:           seconds(c.DwellMinSeconds, d.DwellMinSeconds),
		DwellMax:           seconds(c.DwellMaxSeconds, d.DwellMaxSeconds),
		AckPollInterval:    ms(c.AckPollIntervalMs, d.AckPollIntervalMs),
		PeerTimeout:        ms(c.PeerTimeoutMs, d.PeerTimeoutMs),
	}
}

func (f *File) Reversal() reversal.Config {
	f.mu.RLock()
	defer f.mu.RUnlock()

	c, d := f.raw(), defaultFileConfig
	script := reversal.DefaultScript()
	if len(c.RotationScript) > 0 {
		script = make([]reversal.Step, 0, len(c.RotationScript))
		for _, s := range c.RotationScript {
			script = append(script, reversal.Step{
				Velocity: steering.Velocity{Left: s.Left, Right: s.Right},
				Duration: time.Duration(s.DurationMs) * time.Millisecond,
			})
		}
	}
	return reversal.Config{
		Forward: reversal.Range{
			Min: seconds(c.ReversalForwardMinSeconds, d.ReversalForwardMinSeconds),
			Max: seconds(c.ReversalForwardMaxSeconds, d.ReversalForwardMaxSeconds),
		},
		Reversed: reversal.Range{
			Min: seconds(c.ReversalReversedMinSeconds, d.ReversalReversedMinSeconds),
			Max: seconds(c.ReversalReversedMaxSeconds, d.ReversalReversedMaxSeconds),
		},
		Guard:  ms(c.ReversalGuardMs, d.ReversalGuardMs),
		Script: script,
	}
}

func (f *File) Loop() Loop {
	f.mu.RLock()
	defer f.mu.RUnlock()

	c, d := f.raw(), defaultFileConfig
	return Loop{
		TickInterval:     ms(c.TickIntervalMs, d.TickIntervalMs),
		ApproachVelocity: ptr.Deref(c.ApproachVelocity, *d.ApproachVelocity),
		ParkRepeat:       ptr.Deref(c.ParkRepeat, *d.ParkRepeat),
		ParkingCooldown:  ms(c.ParkingCooldownMs, d.ParkingCooldownMs),
		EnableDelay:      ms(c.EnableDelayMs, d.EnableDelayMs),
		ParkInReverse:    ptr.Deref(c.ParkInReverse, *d.ParkInReverse),
		FaultBackoff:     ms(c.FaultBackoffMs, d.FaultBackoffMs),
	}
}

func (f *File) Link() Link {
	f.mu.RLock()
	defer f.mu.RUnlock()

	c, d := f.raw(), defaultFileConfig
	return Link{
		Device: ptr.Deref(c.SerialDevice, *d.SerialDevice),
		Options: link.PortOptions{
			BaudRate: ptr.Deref(c.SerialBaudRate, 0),
			DataBits: ptr.Deref(c.SerialDataBits, 0),
			StopBits: ptr.Deref(c.SerialStopBits, 0),
			Parity:   ptr.Deref(c.SerialParity, ""),
		},
	}
}

func (f *File) ParkingAllowed() bool {
	f.mu.RLock()
	defer f.mu.RUnlock()

	return ptr.Deref(f.raw().ParkingAllowed, *defaultFileConfig.ParkingAllowed)
}

func (f *File) SetCalibration(cal vehicle.Calibration) error {
	if err := cal.Validate(); err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.raw().CalibrationLine = &cal.Line
	f.raw().CalibrationBase = &cal.Base
	return nil
}

func (f *File) SetParkingAllowed(b bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.raw().ParkingAllowed = &b
}

// Raw returns a copy of the file contents with every default filled in.
func (f *File) Raw() RawFileConfig {
	f.mu.RLock()
	defer f.mu.RUnlock()

	out := *f.raw()
	fillDefaults(&out, defaultFileConfig)
	return out
}

// fillDefaults copies every pointer field of def into the unset fields of
// dst. Both must be RawFileConfig.
func fillDefaults(dst, def *RawFileConfig) {
	b, _ := json.Marshal(def)
	merged := RawFileConfig{}
	_ = json.Unmarshal(b, &merged)
	b, _ = json.Marshal(dst)
	_ = json.Unmarshal(b, &merged)
	*dst = merged
}

func (f *File) Validate() error {
	f.mu.RLock()
	role := ptr.Deref(f.raw().Role, *defaultFileConfig.Role)
	f.mu.RUnlock()
	if _, err := parking.ParseRole(role); err != nil {
		return err
	}
	if err := f.Calibration().Validate(); err != nil {
		return err
	}

	ctrl := f.Controller()
	if ctrl.BaseVelocity <= 0 || math.IsNaN(ctrl.Gain) || ctrl.Gain <= 0 {
		return pkgerrors.Errorf("invalid steering: base velocity %v, gain %v", ctrl.BaseVelocity, ctrl.Gain)
	}

	lc := f.Line()
	if lc.PollInterval <= 0 || lc.Tolerance <= 0 {
		return pkgerrors.Errorf("invalid line acquisition: poll interval %s, tolerance %v", lc.PollInterval, lc.Tolerance)
	}

	pc := f.Parking()
	if pc.SampleCount < 1 {
		return pkgerrors.Errorf("sample count must be at least 1, got %d", pc.SampleCount)
	}
	if pc.DwellMin < 0 || pc.DwellMax < pc.DwellMin {
		return pkgerrors.Errorf("invalid dwell range [%s, %s]", pc.DwellMin, pc.DwellMax)
	}
	if pc.AckPollInterval <= 0 || pc.PeerTimeout < 0 {
		return pkgerrors.Errorf("invalid peer wait: poll %s, timeout %s", pc.AckPollInterval, pc.PeerTimeout)
	}

	rc := f.Reversal()
	for name, r := range map[string]reversal.Range{"forward": rc.Forward, "reversed": rc.Reversed} {
		if r.Min <= 0 || r.Max < r.Min {
			return pkgerrors.Errorf("invalid %s reversal range [%s, %s]", name, r.Min, r.Max)
		}
	}

	loop := f.Loop()
	if loop.TickInterval <= 0 {
		return pkgerrors.Errorf("tick interval must be positive, got %s", loop.TickInterval)
	}
	if loop.ParkRepeat < 1 {
		return pkgerrors.Errorf("park repeat must be at least 1, got %d", loop.ParkRepeat)
	}

	if _, err := f.Link().Options.Normalize(); err != nil {
		return pkgerrors.Wrap(err, "invalid serial options")
	}
	return nil
}

// Load reads the file. On a reload, contents that fail Validate are rejected
// and the running configuration is kept.
func (f *File) Load() error {
	next, err := f.read()
	if err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.c != nil {
		if err := NewFileFromConfig(next, f.filepath).Validate(); err != nil {
			return pkgerrors.Wrapf(err, "rejected config from %s, keeping the previous one", f.filepath)
		}
	}
	f.c = next

	return nil
}

func (f *File) read() (*RawFileConfig, error) {
	fp, err := os.Open(f.filepath)
	if err != nil {
		if os.IsNotExist(err) {
			// A missing file is the empty config, never a nil one.
			return &RawFileConfig{}, nil
		}
		return nil, pkgerrors.Wrapf(err, "failed to open file %s", f.filepath)
	}
	defer func(fp *os.File) {
		err := fp.Close()
		if err != nil {
			logrus.Warnf("failed to close file %s", f.filepath)
		}
	}(fp)

	b, err := io.ReadAll(fp)
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to read file %s", f.filepath)
	}

	if strings.TrimSpace(string(b)) == "" {
		return &RawFileConfig{}, nil
	}

	conf := RawFileConfig{}
	err = json.Unmarshal(b, &conf)
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to unmarshal config from file %s", f.filepath)
	}

	return &conf, nil
}

func (f *File) Save() error {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if f.c == nil {
		return pkgerrors.New("config is nil")
	}

	fp, err := os.OpenFile(f.filepath, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return pkgerrors.Wrapf(err, "failed to open file %s", f.filepath)
	}
	defer func(fp *os.File) {
		err := fp.Close()
		if err != nil {
			logrus.Warnf("failed to close file %s", f.filepath)
		}
	}(fp)

	enc := json.NewEncoder(fp)
	enc.SetIndent("", "  ")
	err = enc.Encode(f.c)
	if err != nil {
		return pkgerrors.Wrapf(err, "failed to encode config to file %s", f.filepath)
	}

	return nil
}

func (f *File) LogrusFields() logrus.Fields {
	cal := f.Calibration()
	ctrl := f.Controller()
	pc := f.Parking()
	loop := f.Loop()

	return logrus.Fields{
		"role":            f.Role().String(),
		"calibrationLine": cal.Line,
		"calibrationBase": cal.Base,
		"gain":            ctrl.Gain,
		"baseVelocity":    ctrl.BaseVelocity,
		"sampleCount":     pc.SampleCount,
		"threshold":       pc.OccupancyThreshold,
		"peerTimeout":     pc.PeerTimeout.String(),
		"parkRepeat":      loop.ParkRepeat,
		"parkInReverse":   loop.ParkInReverse,
		"parkingAllowed":  f.ParkingAllowed(),
	}
}
