package main

import (
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/charlie0129/linepark/pkg/daemon"
	"github.com/charlie0129/linepark/pkg/version"
)

var (
	// alwaysAllowNonRootAccess indicates whether to always allow non-root users to access the linepark daemon.
	alwaysAllowNonRootAccess = false
	simulate                 = false
	journalPath              = "/var/lib/linepark/journal.db"
)

// NewDaemonCommand .
func NewDaemonCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "daemon",
		Short:   "Run linepark daemon in the foreground",
		GroupID: gAdvanced,
		Args:    cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			logrus.WithFields(logrus.Fields{
				"version":  version.Version,
				"commit":   version.GitCommit,
				"simulate": simulate,
			}).Info("linepark daemon starting")
			return daemon.Run(daemon.Options{
				ConfigPath:     configPath,
				UnixSocketPath: unixSocketPath,
				JournalPath:    journalPath,
				AllowNonRoot:   alwaysAllowNonRootAccess,
				Simulate:       simulate,
			})
		},
	}

	f := cmd.Flags()

	f.BoolVar(&alwaysAllowNonRootAccess, "always-allow-non-root-access", false,
		"Always allow non-root users to access the daemon.")
	f.BoolVar(&simulate, "simulate", false,
		"Run a simulated partner vehicle in-process instead of opening the serial link.")
	f.StringVar(&journalPath, "db", journalPath,
		"SQLite file recording parking cycles and reversals. Empty disables the journal.")

	return cmd
}
