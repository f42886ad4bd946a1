package sim

import (
	"sync"

	"github.com/charlie0129/linepark/pkg/steering"
	"github.com/charlie0129/linepark/pkg/vehicle"
)

type reflectanceFunc func() float64

func (f reflectanceFunc) Reflectance() (float64, error) { return f(), nil }

type distanceFunc func() float64

func (f distanceFunc) Distance() (float64, error) { return f(), nil }

type motorFunc func(float64)

func (f motorFunc) SetVelocity(v float64) error {
	f(v)
	return nil
}

type indicatorFunc func(vehicle.Indicator)

func (f indicatorFunc) SetIndicator(s vehicle.Indicator) error {
	f(s)
	return nil
}

// Sensor is a scripted sensor for tests. Each read calls Next; a nil Next
// returns Value.
type Sensor struct {
	mu    sync.Mutex
	Value float64
	Err   error
	Next  func() float64
	Reads int
}

func (s *Sensor) read() (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Reads++
	if s.Err != nil {
		return 0, s.Err
	}
	if s.Next != nil {
		return s.Next(), nil
	}
	return s.Value, nil
}

// Reflectance implements hw.ReflectanceSensor.
func (s *Sensor) Reflectance() (float64, error) { return s.read() }

// Distance implements hw.DistanceSensor.
func (s *Sensor) Distance() (float64, error) { return s.read() }

// Set replaces the constant reading.
func (s *Sensor) Set(v float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Value = v
	s.Next = nil
}

// Sequence returns a Next func that yields values in order and then
// repeats the last one.
func Sequence(values ...float64) func() float64 {
	i := 0
	return func() float64 {
		v := values[i]
		if i < len(values)-1 {
			i++
		}
		return v
	}
}

// Alternate returns a Next func that cycles through values forever.
func Alternate(values ...float64) func() float64 {
	i := 0
	return func() float64 {
		v := values[i%len(values)]
		i++
		return v
	}
}

// Motor records every command it receives.
type Motor struct {
	mu      sync.Mutex
	Err     error
	History []float64
}

// SetVelocity implements hw.Motor.
func (m *Motor) SetVelocity(v float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	m.History = append(m.History, v)
	return nil
}

// Last returns the most recent command, or zero.
func (m *Motor) Last() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.History) == 0 {
		return 0
	}
	return m.History[len(m.History)-1]
}

// Commands pairs the histories of two recording motors.
func Commands(left, right *Motor) []steering.Velocity {
	left.mu.Lock()
	defer left.mu.Unlock()
	right.mu.Lock()
	defer right.mu.Unlock()

	n := min(len(left.History), len(right.History))
	out := make([]steering.Velocity, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, steering.Velocity{Left: left.History[i], Right: right.History[i]})
	}
	return out
}

// Light records indicator changes.
type Light struct {
	mu      sync.Mutex
	History []vehicle.Indicator
}

// SetIndicator implements hw.Indicator.
func (l *Light) SetIndicator(s vehicle.Indicator) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.History = append(l.History, s)
	return nil
}

// Last returns the most recent indicator.
func (l *Light) Last() vehicle.Indicator {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.History) == 0 {
		return ""
	}
	return l.History[len(l.History)-1]
}
