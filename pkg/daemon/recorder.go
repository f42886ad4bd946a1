package daemon

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// TickRecorder records the last N control loop tick times.
type TickRecorder struct {
	MaxRecordCount int
	// Interval is the expected gap between two ticks.
	Interval      time.Duration
	LastTickTimes []time.Time

	clock clock.Clock
	mu    *sync.Mutex
}

// NewTickRecorder returns a new TickRecorder.
func NewTickRecorder(maxRecordCount int, interval time.Duration, clk clock.Clock) *TickRecorder {
	return &TickRecorder{
		MaxRecordCount: maxRecordCount,
		Interval:       interval,
		LastTickTimes:  make([]time.Time, 0),
		clock:          clk,
		mu:             &sync.Mutex{},
	}
}

// AddRecordNow adds a new record with the current time.
func (r *TickRecorder) AddRecordNow() {
	r.AddRecord(r.clock.Now())
}

// AddRecord adds a new record.
func (r *TickRecorder) AddRecord(t time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()

	// Strip monotonic clock reading.
	t = t.Round(0)

	if len(r.LastTickTimes) >= r.MaxRecordCount {
		r.LastTickTimes = r.LastTickTimes[1:]
	}
	r.LastTickTimes = append(r.LastTickTimes, t)
}

// ClearRecords clears all records.
func (r *TickRecorder) ClearRecords() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.LastTickTimes = make([]time.Time, 0)
}

// SetInterval changes the expected gap, e.g. after a config reload.
func (r *TickRecorder) SetInterval(d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.Interval = d
}

// maxGap is the largest gap between two records that still counts as
// continuous.
func (r *TickRecorder) maxGap() time.Duration {
	return 2 * r.Interval
}

// GetRecordsIn returns the number of continuous records in the last duration.
func (r *TickRecorder) GetRecordsIn(last time.Duration) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.clock.Now()

	// The last record must be recent, otherwise the loop is stuck in a
	// maneuver or stopped.
	if len(r.LastTickTimes) > 0 && now.Sub(r.LastTickTimes[len(r.LastTickTimes)-1]) >= r.maxGap() {
		return 0
	}

	count := 0
	for i := len(r.LastTickTimes) - 1; i >= 0; i-- {
		record := r.LastTickTimes[i]
		if now.Sub(record) > last {
			break
		}

		theRecordAfter := record
		if i+1 < len(r.LastTickTimes) {
			theRecordAfter = r.LastTickTimes[i+1]
		}

		if theRecordAfter.Sub(record) >= r.maxGap() {
			break
		}
		count++
	}

	return count
}

// GetLastRecords returns the records in the last duration, newest first.
func (r *TickRecorder) GetLastRecords(last time.Duration) []time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.LastTickTimes) == 0 {
		return nil
	}

	now := r.clock.Now()
	var records []time.Time
	for i := len(r.LastTickTimes) - 1; i >= 0; i-- {
		record := r.LastTickTimes[i]
		if now.Sub(record) > last {
			break
		}
		records = append(records, record)
	}

	return records
}

// GetLastRecord returns the last record.
func (r *TickRecorder) GetLastRecord() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.LastTickTimes) == 0 {
		return time.Time{}
	}

	return r.LastTickTimes[len(r.LastTickTimes)-1]
}

func formatRelativeTimes(now time.Time, times []time.Time) []string {
	var timesString []string
	for _, t := range times {
		timesString = append(timesString, now.Sub(t).String())
	}
	return timesString
}
