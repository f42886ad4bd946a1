package main

import (
	"fmt"
	"os"

	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/charlie0129/linepark/pkg/config"
	daemonutils "github.com/charlie0129/linepark/pkg/utils/daemon"
)

var gInstallation = "Installation:"

func init() {
	commandGroups = append(commandGroups, gInstallation)
}

// NewInstallCommand .
func NewInstallCommand() *cobra.Command {
	allowNonRootAccess := false

	cmd := &cobra.Command{
		Use:     "install",
		Short:   "Install linepark as a systemd service",
		GroupID: gInstallation,
		Long: `Install linepark daemon as a systemd service.

This makes linepark run in the background and start on boot. You must run this command as root.

By default, only root user is allowed to access the linepark daemon. Use --allow-non-root-access to let other users run the client without sudo.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			conf, err := config.NewFile(configPath)
			if err != nil {
				return err
			}
			if err := conf.Validate(); err != nil {
				return pkgerrors.Wrapf(err, "refusing to install with invalid config %s", configPath)
			}

			if allowNonRootAccess {
				logrus.Info("non-root users are allowed to access the linepark daemon.")
			} else {
				logrus.Info("only root user is allowed to access the linepark daemon.")
			}

			err = daemonutils.Install(daemonutils.InstallOptions{
				ConfigPath:     configPath,
				UnixSocketPath: unixSocketPath,
				JournalPath:    journalPath,
				AllowNonRoot:   allowNonRootAccess,
			})
			if err != nil {
				// check if current user is root
				if os.Geteuid() != 0 {
					logrus.Errorf("you must run this command as root")
				}
				return fmt.Errorf("failed to install daemon: %v. Are you root?", err)
			}

			err = conf.Save()
			if err != nil {
				return pkgerrors.Wrapf(err, "failed to save config")
			}

			logrus.Infof("installation succeeded")

			exePath, _ := os.Executable()

			cmd.Printf("systemd will start the current binary (%s) at boot, so do not move it. If you do, run `linepark install' again.\n", exePath)

			return nil
		},
	}

	cmd.Flags().BoolVar(&allowNonRootAccess, "allow-non-root-access", false, "Allow non-root users to access linepark daemon.")
	cmd.Flags().StringVar(&journalPath, "db", journalPath, "journal path passed to the daemon")

	return cmd
}

// NewUninstallCommand .
func NewUninstallCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "uninstall",
		Short:   "Uninstall the linepark systemd service",
		GroupID: gInstallation,
		Long: `Stop the linepark daemon and remove its systemd service.

The config file and the journal are kept. You must run this command as root.`,
		Args: cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			if err := daemonutils.Uninstall(); err != nil {
				return fmt.Errorf("failed to uninstall daemon: %v", err)
			}

			logrus.Infof("successfully uninstalled linepark")

			return nil
		},
	}
}
