package daemon

import (
	"github.com/sirupsen/logrus"

	"github.com/charlie0129/linepark/pkg/events"
	"github.com/charlie0129/linepark/pkg/parking"
	"github.com/charlie0129/linepark/pkg/reversal"
)

// wireHooks publishes the loop's parking and reversal activity on the
// event hub and records finished cycles and reversals in the journal.
func wireHooks(l *ControlLoop) {
	l.Coordinator().OnTransition(func(tr parking.Transition) {
		hub.Publish(events.ParkingState, events.ParkingStateEvent{
			Role:    tr.Role.String(),
			CycleID: tr.CycleID,
			From:    tr.From.String(),
			To:      tr.To.String(),
			Ts:      tr.At.UnixMilli(),
		})
	})

	l.Coordinator().OnCycle(func(c parking.Cycle) {
		if journalDB != nil {
			if err := journalDB.RecordCycle(c); err != nil {
				logrus.WithError(err).WithField("vehicle", l.Name()).Warn("failed to journal parking cycle")
			}
		}
		hub.Publish(events.ParkingCycle, events.ParkingCycleEvent{
			ID:         c.ID,
			Role:       c.Role.String(),
			Outcome:    string(c.Outcome),
			Error:      c.Error,
			DurationMs: c.EndedAt.Sub(c.StartedAt).Milliseconds(),
			Ts:         c.EndedAt.UnixMilli(),
		})
	})

	l.Scheduler().OnReversal(func(r reversal.Reversal) {
		if journalDB != nil {
			if err := journalDB.RecordReversal(r); err != nil {
				logrus.WithError(err).WithField("vehicle", l.Name()).Warn("failed to journal reversal")
			}
		}
		hub.Publish(events.VehicleReversal, events.VehicleReversalEvent{
			Mode:            r.Mode.String(),
			IntervalSeconds: int(r.Interval.Seconds()),
			Mirrored:        r.Mirrored,
			Ts:              r.At.UnixMilli(),
		})
	})
}
