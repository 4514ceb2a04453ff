package main

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"text/template"

	"golang.org/x/sys/unix"
)

const serviceName = "volumeosd.service"

var errRunningAsRoot = errors.New("run install-service as a regular user, not as root")

var serviceUnitTmpl = template.Must(template.New("unit").Parse(`[Unit]
Description=Volume OSD Service
After=graphical-session.target

[Service]
Type=simple
# Give the desktop session time to come up
ExecStartPre=/bin/sleep 5
ExecStart={{.ExecStart}}
Restart=always
RestartSec=5
Environment=DISPLAY={{.Display}}
Environment=XDG_RUNTIME_DIR=/run/user/{{.UID}}

[Install]
WantedBy=default.target
`))

type serviceUnit struct {
	ExecStart string
	Display   string
	UID       int
}

func renderServiceUnit(u serviceUnit) (string, error) {
	var buf bytes.Buffer
	if err := serviceUnitTmpl.Execute(&buf, u); err != nil {
		return "", fmt.Errorf("render unit: %w", err)
	}
	return buf.String(), nil
}

// serviceInstaller writes and enables the systemd user unit.
type serviceInstaller struct {
	uid     int
	home    string
	exe     string
	args    []string // extra daemon flags for ExecStart
	display string
	run     func(name string, args ...string) error
	logger  *slog.Logger
}

func newServiceInstaller(args []string, logger *slog.Logger) (*serviceInstaller, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("resolve home directory: %w", err)
	}
	exe, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("resolve executable: %w", err)
	}
	display := os.Getenv("DISPLAY")
	if display == "" {
		display = ":0"
	}
	return &serviceInstaller{
		uid:     unix.Getuid(),
		home:    home,
		exe:     exe,
		args:    args,
		display: display,
		run: func(name string, args ...string) error {
			cmd := exec.Command(name, args...)
			cmd.Stdout = os.Stdout
			cmd.Stderr = os.Stderr
			return cmd.Run()
		},
		logger: logger,
	}, nil
}

func (s *serviceInstaller) unitPath() string {
	return filepath.Join(s.home, ".config", "systemd", "user", serviceName)
}

// Install refuses to run as root (the unit would land in /root), writes the
// unit file, then reloads, enables and starts it.
func (s *serviceInstaller) Install() error {
	if s.uid == 0 {
		return errRunningAsRoot
	}

	path := s.unitPath()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create unit directory: %w", err)
	}

	execStart := s.exe
	if len(s.args) > 0 {
		execStart += " " + strings.Join(s.args, " ")
	}
	unit, err := renderServiceUnit(serviceUnit{ExecStart: execStart, Display: s.display, UID: s.uid})
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, []byte(unit), 0o644); err != nil {
		return fmt.Errorf("write unit file: %w", err)
	}
	s.logger.Info("service file written", "path", path)

	for _, args := range [][]string{
		{"--user", "daemon-reload"},
		{"--user", "enable", serviceName},
		{"--user", "start", serviceName},
	} {
		if err := s.run("systemctl", args...); err != nil {
			// Non-fatal: the unit file is already in place.
			s.logger.Warn("systemctl failed", "args", strings.Join(args, " "), "error", err)
		}
	}
	s.logger.Info("systemd service installed and started", "unit", serviceName)
	return nil
}
