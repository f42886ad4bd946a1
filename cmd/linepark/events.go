package main

import (
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/charlie0129/linepark/pkg/events"
)

func NewEventsCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "events",
		GroupID: gAdvanced,
		Short:   "Follow parking and reversal events",
		Long:    `Print parking state changes, finished cycles and reversals as the daemon publishes them. Stop with Ctrl-C.`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			return apiClient.StreamEvents(ctx, func(ev events.Event) bool {
				cmd.Println(formatEvent(ev))
				return true
			})
		},
	}
}

func formatEvent(ev events.Event) string {
	switch ev.Name {
	case events.ParkingState:
		p, err := events.DecodeAs[events.ParkingStateEvent](ev)
		if err != nil {
			break
		}
		return stamp(p.Ts) + " " + bold("%s", p.Role) + " parking " + p.From + " -> " + p.To
	case events.ParkingCycle:
		p, err := events.DecodeAs[events.ParkingCycleEvent](ev)
		if err != nil {
			break
		}
		line := stamp(p.Ts) + " " + bold("%s", p.Role) + " cycle " + p.ID + " " + bold("%s", p.Outcome) +
			" after " + (time.Duration(p.DurationMs) * time.Millisecond).String()
		if p.Error != "" {
			line += " (" + p.Error + ")"
		}
		return line
	case events.VehicleReversal:
		p, err := events.DecodeAs[events.VehicleReversalEvent](ev)
		if err != nil {
			break
		}
		return stamp(p.Ts) + " reversal to " + bold("%s", p.Mode) + " for " + (time.Duration(p.IntervalSeconds) * time.Second).String()
	}
	logrus.WithField("event", ev.Name).Debug("printing raw event")
	return ev.Name + " " + string(ev.Data)
}

func stamp(ms int64) string {
	return time.UnixMilli(ms).Local().Format(time.TimeOnly)
}
