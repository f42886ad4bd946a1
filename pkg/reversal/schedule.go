package reversal

import (
	"math/rand/v2"
	"time"

	"github.com/robfig/cron/v3"
)

// IntervalSchedule is a cron.Schedule that fires a random whole number of
// seconds in [Min, Max] after the given time.
type IntervalSchedule struct {
	Min  time.Duration
	Max  time.Duration
	Rand *rand.Rand
}

var _ cron.Schedule = IntervalSchedule{}

// Draw returns the next interval.
func (s IntervalSchedule) Draw() time.Duration {
	lo := int(s.Min / time.Second)
	hi := int(s.Max / time.Second)
	if hi <= lo || s.Rand == nil {
		return time.Duration(lo) * time.Second
	}
	return time.Duration(lo+s.Rand.IntN(hi-lo+1)) * time.Second
}

// Next implements cron.Schedule.
func (s IntervalSchedule) Next(t time.Time) time.Time {
	return t.Add(s.Draw())
}
