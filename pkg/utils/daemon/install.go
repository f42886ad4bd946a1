// Package daemon installs linepark as a systemd service.
package daemon

import (
	"bytes"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"text/template"

	"github.com/sirupsen/logrus"
)

var (
	unitPath = "/etc/systemd/system/linepark.service"

	// runCommand is replaced in tests.
	runCommand = func(name string, args ...string) error {
		out, err := exec.Command(name, args...).CombinedOutput()
		if err != nil {
			return fmt.Errorf("%s %s: %w: %s", name, strings.Join(args, " "), err, bytes.TrimSpace(out))
		}
		return nil
	}
)

var unitTemplate = template.Must(template.New("unit").Parse(`[Unit]
Description=linepark vehicle daemon
After=network.target

[Service]
Type=simple
ExecStart={{ .Exe }}{{ range .Args }} {{ . }}{{ end }}
Restart=on-failure
RestartSec=5

[Install]
WantedBy=multi-user.target
`))

// InstallOptions are passed to the daemon command in the unit file.
type InstallOptions struct {
	ConfigPath     string
	UnixSocketPath string
	JournalPath    string
	AllowNonRoot   bool
}

func renderUnit(exePath string, opts InstallOptions) ([]byte, error) {
	args := []string{"daemon",
		"--config=" + opts.ConfigPath,
		"--daemon-socket=" + opts.UnixSocketPath,
		"--db=" + opts.JournalPath,
	}
	if opts.AllowNonRoot {
		args = append(args, "--always-allow-non-root-access")
	}

	var buf bytes.Buffer
	err := unitTemplate.Execute(&buf, struct {
		Exe  string
		Args []string
	}{exePath, args})
	return buf.Bytes(), err
}

func Install(opts InstallOptions) error {
	// Get the path to the current executable
	exePath, err := os.Executable()
	if err != nil {
		return fmt.Errorf("failed to get the path to the current executable: %w", err)
	}
	exePath, err = filepath.Abs(exePath)
	if err != nil {
		return fmt.Errorf("failed to get the absolute path to the current executable: %w", err)
	}

	logrus.Infof("current executable path: %s", exePath)

	unit, err := renderUnit(exePath, opts)
	if err != nil {
		return fmt.Errorf("failed to render unit file: %w", err)
	}

	logrus.Infof("writing systemd unit to %s", unitPath)

	err = os.MkdirAll(filepath.Dir(unitPath), 0755)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", filepath.Dir(unitPath), err)
	}

	// warn if the file already exists
	_, err = os.Stat(unitPath)
	if err == nil {
		logrus.Warnf("%s already exists, overwriting", unitPath)
	}

	err = os.WriteFile(unitPath, unit, 0644)
	if err != nil {
		return fmt.Errorf("failed to write %s: %w", unitPath, err)
	}

	logrus.Infof("starting linepark")

	if err := runCommand("systemctl", "daemon-reload"); err != nil {
		return err
	}
	if err := runCommand("systemctl", "enable", "--now", filepath.Base(unitPath)); err != nil {
		return fmt.Errorf("failed to enable %s: %w", unitPath, err)
	}

	return nil
}
