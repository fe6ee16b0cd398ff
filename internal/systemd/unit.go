// Package systemd declares the rack controller service unit and checks
// installed unit files for drift.
package systemd

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/coreos/go-systemd/v22/unit"
)

// UnitName is the installed name of the rack controller unit.
const UnitName = "maas-rackd.service"

// ErrInvalidUnit is returned when a unit descriptor deviates from the
// lifecycle contract the rack relies on.
var ErrInvalidUnit = errors.New("invalid unit")

// Unit is the service descriptor for one supervised executable.
type Unit struct {
	Description         string
	Documentation       string
	Requires            []string
	After               []string
	Before              []string
	ConditionPathExists string

	User                string
	Group               string
	Restart             string
	RestartSec          time.Duration
	KillMode            string
	AmbientCapabilities []string
	// ExecStartPre commands run in order before ExecStart.
	ExecStartPre []string
	ExecStart    string

	WantedBy []string
}

// RackdUnit returns the rack controller unit. The DHCP servers are ordered
// after it so they see the configuration it writes, and stale DHCP socket
// and config files are removed before every start.
func RackdUnit() Unit {
	return Unit{
		Description:         "MAAS Rack Controller",
		Documentation:       "https://maas.io/docs",
		Requires:            []string{"network-online.target"},
		After:               []string{"network-online.target"},
		Before:              []string{"isc-dhcp-server.service", "isc-dhcp-server6.service"},
		ConditionPathExists: "/etc/maas/rackd.conf",

		User:                "maas",
		Group:               "maas",
		Restart:             "always",
		RestartSec:          10 * time.Second,
		KillMode:            "mixed",
		AmbientCapabilities: []string{"CAP_NET_BIND_SERVICE"},
		ExecStartPre: []string{
			"/bin/rm -f /var/lib/maas/dhcpd.sock",
			"/bin/rm -f /var/lib/maas/dhcpd.conf",
			"/bin/rm -f /var/lib/maas/dhcpd6.conf",
		},
		ExecStart: "/usr/sbin/maas-rackd",

		WantedBy: []string{"multi-user.target"},
	}
}

// Validate checks the lifecycle contract: run-as identity, unconditional
// restart after a 10s delay, exactly one ambient capability, a start
// command, and pre-start commands that are safe to repeat.
func (u Unit) Validate() error {
	var errs []string
	if u.User == "" || u.Group == "" {
		errs = append(errs, "User and Group are required")
	}
	if u.Restart != "always" {
		errs = append(errs, fmt.Sprintf("Restart=%q, want \"always\"", u.Restart))
	}
	if u.RestartSec != 10*time.Second {
		errs = append(errs, fmt.Sprintf("RestartSec=%s, want 10s", u.RestartSec))
	}
	if len(u.AmbientCapabilities) != 1 {
		errs = append(errs, fmt.Sprintf("%d ambient capabilities declared, want exactly 1", len(u.AmbientCapabilities)))
	}
	if strings.TrimSpace(u.ExecStart) == "" {
		errs = append(errs, "ExecStart is required")
	}
	for i, cmd := range u.ExecStartPre {
		if !idempotentPreStart(cmd) {
			errs = append(errs, fmt.Sprintf("ExecStartPre[%d] %q is not an idempotent removal", i, cmd))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w:\n  - %s", ErrInvalidUnit, strings.Join(errs, "\n  - "))
	}
	return nil
}

// idempotentPreStart reports whether a pre-start command can fail or be
// repeated without blocking startup: either its failure is ignored ("-"
// prefix) or it is a forced removal.
func idempotentPreStart(cmd string) bool {
	if strings.HasPrefix(cmd, "-") {
		return true
	}
	fields := strings.Fields(cmd)
	if len(fields) < 3 || path.Base(fields[0]) != "rm" {
		return false
	}
	for _, f := range fields[1:] {
		if strings.HasPrefix(f, "-") && !strings.HasPrefix(f, "--") && strings.Contains(f, "f") {
			return true
		}
		if f == "--force" {
			return true
		}
	}
	return false
}

// Options returns the unit as ordered systemd options.
func (u Unit) Options() []*unit.UnitOption {
	var opts []*unit.UnitOption
	add := func(section, name, value string) {
		if value != "" {
			opts = append(opts, unit.NewUnitOption(section, name, value))
		}
	}

	add("Unit", "Description", u.Description)
	add("Unit", "Documentation", u.Documentation)
	add("Unit", "Requires", strings.Join(u.Requires, " "))
	add("Unit", "After", strings.Join(u.After, " "))
	add("Unit", "Before", strings.Join(u.Before, " "))
	add("Unit", "ConditionPathExists", u.ConditionPathExists)

	add("Service", "User", u.User)
	add("Service", "Group", u.Group)
	add("Service", "Restart", u.Restart)
	if u.RestartSec > 0 {
		add("Service", "RestartSec", formatTimespan(u.RestartSec))
	}
	add("Service", "KillMode", u.KillMode)
	add("Service", "AmbientCapabilities", strings.Join(u.AmbientCapabilities, " "))
	for _, cmd := range u.ExecStartPre {
		add("Service", "ExecStartPre", cmd)
	}
	add("Service", "ExecStart", u.ExecStart)

	add("Install", "WantedBy", strings.Join(u.WantedBy, " "))
	return opts
}

// Render validates u and serializes it as unit file text.
func (u Unit) Render() ([]byte, error) {
	if err := u.Validate(); err != nil {
		return nil, err
	}
	out, err := io.ReadAll(unit.Serialize(u.Options()))
	if err != nil {
		return nil, fmt.Errorf("serialize unit: %w", err)
	}
	return out, nil
}

// ParseUnit reads unit file text back into a Unit. Options the descriptor
// does not model are ignored.
func ParseUnit(r io.Reader) (Unit, error) {
	opts, err := unit.DeserializeOptions(r)
	if err != nil {
		return Unit{}, fmt.Errorf("parse unit: %w", err)
	}

	var u Unit
	for _, o := range opts {
		key := o.Section + "." + o.Name
		switch key {
		case "Unit.Description":
			u.Description = o.Value
		case "Unit.Documentation":
			u.Documentation = o.Value
		case "Unit.Requires":
			u.Requires = append(u.Requires, strings.Fields(o.Value)...)
		case "Unit.After":
			u.After = append(u.After, strings.Fields(o.Value)...)
		case "Unit.Before":
			u.Before = append(u.Before, strings.Fields(o.Value)...)
		case "Unit.ConditionPathExists":
			u.ConditionPathExists = o.Value
		case "Service.User":
			u.User = o.Value
		case "Service.Group":
			u.Group = o.Value
		case "Service.Restart":
			u.Restart = o.Value
		case "Service.RestartSec":
			d, err := parseTimespan(o.Value)
			if err != nil {
				return Unit{}, fmt.Errorf("parse unit: RestartSec: %w", err)
			}
			u.RestartSec = d
		case "Service.KillMode":
			u.KillMode = o.Value
		case "Service.AmbientCapabilities":
			u.AmbientCapabilities = append(u.AmbientCapabilities, strings.Fields(o.Value)...)
		case "Service.ExecStartPre":
			u.ExecStartPre = append(u.ExecStartPre, o.Value)
		case "Service.ExecStart":
			u.ExecStart = o.Value
		case "Install.WantedBy":
			u.WantedBy = append(u.WantedBy, strings.Fields(o.Value)...)
		}
	}
	return u, nil
}

// ParseUnitBytes is ParseUnit over a byte slice.
func ParseUnitBytes(data []byte) (Unit, error) {
	return ParseUnit(bytes.NewReader(data))
}

// formatTimespan writes whole-second durations the way unit files
// usually spell them ("10s").
func formatTimespan(d time.Duration) string {
	if d%time.Second == 0 {
		return strconv.FormatInt(int64(d/time.Second), 10) + "s"
	}
	return strconv.FormatInt(d.Milliseconds(), 10) + "ms"
}

// parseTimespan accepts the common systemd time span spellings: a bare
// number of seconds, or space-separated values with s/sec/min/ms/h units.
func parseTimespan(v string) (time.Duration, error) {
	v = strings.TrimSpace(v)
	if n, err := strconv.ParseInt(v, 10, 64); err == nil {
		return time.Duration(n) * time.Second, nil
	}
	r := strings.NewReplacer("min", "m", "sec", "s", " ", "")
	d, err := time.ParseDuration(r.Replace(v))
	if err != nil {
		return 0, fmt.Errorf("invalid time span %q", v)
	}
	return d, nil
}
