package main

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/charlie0129/linepark/pkg/vehicle"
	"github.com/charlie0129/linepark/pkg/version"
)

func getVersion() (clientVersion, daemonVersion string, err error) {
	daemonVersion, err = apiClient.GetVersion()
	if err != nil {
		return "", "", err
	}
	return version.Version, daemonVersion, nil
}

func NewVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version",
		Run: func(cmd *cobra.Command, _ []string) {
			cmd.Printf("%s %s\n", version.Version, version.GitCommit)
		},
	}
}

func NewCalibrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "calibrate LINE BASE",
		Short:   "Set the reflectance references of the line and the floor",
		GroupID: gBasic,
		Long: `Set the reflectance references of the line and the floor.

LINE is what the steering sensor reads on the line, BASE what it reads on the
bare floor beside it. The two must differ. The daemon saves the new pair and
steers with it from the next control tick.`,
		Args: cobra.ExactArgs(2),
		RunE: func(_ *cobra.Command, args []string) error {
			lineRef, err := parseFloatArg(args[0], "line reference")
			if err != nil {
				return err
			}
			baseRef, err := parseFloatArg(args[1], "base reference")
			if err != nil {
				return err
			}

			cal := vehicle.Calibration{Line: lineRef, Base: baseRef}
			if err := cal.Validate(); err != nil {
				return err
			}

			ret, err := apiClient.SetCalibration(cal)
			if err != nil {
				return fmt.Errorf("failed to set calibration: %v", err)
			}

			if ret != "" {
				logrus.Infof("daemon responded: %s", ret)
			}

			logrus.Infof("successfully set calibration to line=%v base=%v", lineRef, baseRef)

			return nil
		},
	}
}

func NewParkingCommand() *cobra.Command {
	return newEnableDisableCommand(
		"parking",
		"parking in free bays",
		`Allow or forbid the vehicles to park.

While parking is disabled the vehicles keep following the line and the host
stops sending PARK requests. A parking cycle that already started finishes.`,
		func() (string, error) {
			return apiClient.SetParking(true)
		},
		func() (string, error) {
			return apiClient.SetParking(false)
		},
	)
}
