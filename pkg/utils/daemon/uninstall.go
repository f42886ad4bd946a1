package daemon

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
)

func Uninstall() error {
	logrus.Infof("stopping linepark")

	err := runCommand("systemctl", "disable", "--now", filepath.Base(unitPath))
	if err != nil {
		return fmt.Errorf("failed to disable %s: %w. Are you root?", unitPath, err)
	}

	logrus.Infof("removing systemd unit")

	err = os.Remove(unitPath)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove %s: %w. Are you root?", unitPath, err)
	}

	return runCommand("systemctl", "daemon-reload")
}
