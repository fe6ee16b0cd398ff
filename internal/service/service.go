// Package service drives the host service manager through systemctl.
package service

import (
	"fmt"
	"os/exec"
	"strings"

	"github.com/h3ow3d/rackcfg/internal/log"
)

// Units the rack configuration artifacts belong to.
const (
	RackdUnit  = "maas-rackd.service"
	HTTPUnit   = "maas-http.service"
	SyslogUnit = "maas-syslog.service"
)

// Runner executes a command and returns its combined output.
type Runner interface {
	Run(name string, args ...string) ([]byte, error)
}

// ExecRunner runs commands on the host.
type ExecRunner struct{}

// Run implements Runner.
func (ExecRunner) Run(name string, args ...string) ([]byte, error) {
	return exec.Command(name, args...).CombinedOutput()
}

// Manager issues systemctl commands through a Runner.
type Manager struct {
	runner Runner
}

// New returns a Manager. A nil runner runs commands on the host.
func New(r Runner) *Manager {
	if r == nil {
		r = ExecRunner{}
	}
	return &Manager{runner: r}
}

// DaemonReload makes systemd re-read unit files.
func (m *Manager) DaemonReload() error {
	log.Info("Reloading systemd unit files")
	return m.systemctl("daemon-reload")
}

// Restart restarts unit, starting it if it is not running.
func (m *Manager) Restart(unit string) error {
	log.Info(fmt.Sprintf("Restarting %s", unit))
	if err := m.systemctl("restart", unit); err != nil {
		return err
	}
	log.Ok(fmt.Sprintf("%s restarted", unit))
	return nil
}

// Reload asks unit to re-read its configuration. Inactive units are left
// alone since they will pick up the new configuration when started.
func (m *Manager) Reload(unit string) error {
	if !m.IsActive(unit) {
		log.Skip(fmt.Sprintf("%s is not active", unit))
		return nil
	}
	log.Info(fmt.Sprintf("Reloading %s", unit))
	if err := m.systemctl("reload-or-restart", unit); err != nil {
		return err
	}
	log.Ok(fmt.Sprintf("%s reloaded", unit))
	return nil
}

// IsActive reports whether unit is currently active.
func (m *Manager) IsActive(unit string) bool {
	out, err := m.runner.Run("systemctl", "is-active", unit)
	if err != nil {
		return false
	}
	return strings.TrimSpace(string(out)) == "active"
}

// systemctl runs a systemctl sub-command.
func (m *Manager) systemctl(args ...string) error {
	out, err := m.runner.Run("systemctl", args...)
	if err != nil {
		return fmt.Errorf("systemctl %s: %w: %s", strings.Join(args, " "), err, strings.TrimSpace(string(out)))
	}
	return nil
}
