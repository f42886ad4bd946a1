package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/charlie0129/linepark/pkg/config"
	"github.com/charlie0129/linepark/pkg/types"
)

type statusData struct {
	vehicles []types.Status
	config   *config.RawFileConfig
}

// fetchStatusData gathers all data required for the status command from the daemon.
func fetchStatusData() (*statusData, error) {
	vehicles, err := apiClient.GetStatus()
	if err != nil {
		return nil, fmt.Errorf("failed to get vehicle status: %w", err)
	}

	conf, err := apiClient.GetConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to get config: %w", err)
	}

	return &statusData{
		vehicles: vehicles,
		config:   conf,
	}, nil
}

type statusJSON struct {
	Vehicles      []types.Status       `json:"vehicles"`
	Configuration config.RawFileConfig `json:"configuration"`
}

func NewStatusCommand() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:     "status",
		GroupID: gBasic,
		Short:   "Get the current status of linepark",
		Long:    `Get the state of every vehicle the daemon drives and its configuration.`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			data, err := fetchStatusData()
			if err != nil {
				return err
			}

			if asJSON {
				b, err := json.MarshalIndent(statusJSON{
					Vehicles:      data.vehicles,
					Configuration: *data.config,
				}, "", "  ")
				if err != nil {
					return err
				}
				cmd.Println(string(b))
				return nil
			}

			now := time.Now()
			for _, v := range data.vehicles {
				printVehicle(cmd, v, now)
				cmd.Println()
			}

			conf := config.NewFileFromConfig(data.config, "")
			cal := conf.Calibration()
			loop := conf.Loop()

			cmd.Println(bold("Configuration:"))
			cmd.Printf("  Role: %s\n", bold("%s", conf.Role()))
			cmd.Printf("  Calibration: line %s, base %s\n", bold("%v", cal.Line), bold("%v", cal.Base))
			cmd.Printf("  Parking allowed: %s\n", bool2Text(conf.ParkingAllowed()))
			cmd.Printf("  Tick interval: %s\n", bold("%s", loop.TickInterval))
			cmd.Printf("  Parking cooldown: %s\n", bold("%s", loop.ParkingCooldown))
			rev := conf.Reversal()
			cmd.Printf("  Forward stretch: %s\n", bold("%s - %s", rev.Forward.Min, rev.Forward.Max))
			cmd.Printf("  Reversed stretch: %s\n", bold("%s - %s", rev.Reversed.Min, rev.Reversed.Max))

			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "print status as JSON")

	return cmd
}

func printVehicle(cmd *cobra.Command, v types.Status, now time.Time) {
	cmd.Println(bold("Vehicle %s (%s):", v.Name, v.Role))
	cmd.Printf("  Mode: %s\n", bold("%s", v.Mode))
	cmd.Printf("  Line: %s\n", bold("%s", v.LinePhase))
	cmd.Printf("  Driving sensor: %s, parking sensor: %s\n", v.DrivingSensor, v.ParkingSensor)
	cmd.Printf("  Parking enabled: %s\n", bool2Text(v.ParkingEnabled))
	cmd.Printf("  Parking state: %s\n", bold("%s", v.ParkingState))
	cmd.Printf("  Last token: %s\n", v.LastToken)

	if !v.LastParkingEvent.IsZero() {
		cmd.Printf("  Last parking event: %s ago\n", now.Sub(v.LastParkingEvent).Round(time.Second))
	}
	if !v.NextReversal.IsZero() {
		cmd.Printf("  Next reversal: in %s\n", v.NextReversal.Sub(now).Round(time.Second))
	}
	if v.LastCycle != nil {
		cmd.Printf("  Last cycle: %s after %s\n", bold("%s", v.LastCycle.Outcome), v.LastCycle.Duration().Round(time.Millisecond))
	}

	ticking := !v.LastTick.IsZero() && v.ContinuousTicks > 0
	cmd.Printf("  Control loop running: %s", bool2Text(ticking))
	if ticking {
		cmd.Printf(" (%d ticks without a gap)", v.ContinuousTicks)
	}
	cmd.Println()
	if v.LastFault != "" {
		cmd.Printf("  Last fault: %s\n", color.New(color.FgRed).Sprint(v.LastFault))
	}
}

func bool2Text(b bool) string {
	if b {
		return color.New(color.Bold, color.FgGreen).Sprint("✔")
	}
	return color.New(color.Bold, color.FgRed).Sprint("✘")
}

func bold(format string, a ...interface{}) string {
	return color.New(color.Bold).Sprintf(format, a...)
}
