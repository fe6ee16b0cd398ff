package rack

import (
	"fmt"
	"os"
	"os/exec"

	"golang.org/x/sync/errgroup"

	"github.com/h3ow3d/rackcfg/internal/systemd"
)

// CheckResult holds the outcome of a single doctor check.
type CheckResult struct {
	Name     string
	OK       bool
	Message  string
	HowToFix string
}

// RunDoctorChecks performs all prerequisite checks concurrently and returns
// the results in a fixed order. It never returns an error itself; pass/fail
// is encoded in each CheckResult.
func RunDoctorChecks(dirs XDGDirs, unitPath string) []CheckResult {
	checks := []func() CheckResult{
		func() CheckResult { return checkCommand("nginx", "nginx", "-v") },
		func() CheckResult { return checkCommand("systemctl", "systemctl", "--version") },
		func() CheckResult { return checkCommand("rsyslogd", "rsyslogd", "-v") },
		func() CheckResult { return checkXDGWrite(dirs) },
		func() CheckResult { return checkUnitIntegrity(unitPath, dirs.UnitHashFile()) },
	}

	results := make([]CheckResult, len(checks))
	var g errgroup.Group
	for i, check := range checks {
		g.Go(func() error {
			results[i] = check()
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// checkCommand verifies that an executable is on PATH and runs without error.
func checkCommand(name, bin string, args ...string) CheckResult {
	path, err := exec.LookPath(bin)
	if err != nil {
		return CheckResult{
			Name:     name,
			OK:       false,
			Message:  fmt.Sprintf("%s not found in PATH", bin),
			HowToFix: ubuntuInstallHint(bin),
		}
	}
	cmd := exec.Command(path, args...) //nolint:gosec // path is resolved via LookPath
	if out, err := cmd.CombinedOutput(); err != nil {
		return CheckResult{
			Name:     name,
			OK:       false,
			Message:  fmt.Sprintf("%s found but failed: %s", bin, string(out)),
			HowToFix: ubuntuInstallHint(bin),
		}
	}
	return CheckResult{Name: name, OK: true, Message: fmt.Sprintf("%s found", path)}
}

// checkXDGWrite verifies that rackcfg can write to its XDG directories.
func checkXDGWrite(dirs XDGDirs) CheckResult {
	const name = "XDG directory access"
	if err := dirs.EnsureDirs(); err != nil {
		return CheckResult{
			Name:     name,
			OK:       false,
			Message:  fmt.Sprintf("cannot create rackcfg directories: %v", err),
			HowToFix: "Check that your home directory is writable and you have sufficient disk space.",
		}
	}
	return CheckResult{
		Name:    name,
		OK:      true,
		Message: fmt.Sprintf("XDG dirs ready (config=%s state=%s)", dirs.Config, dirs.State),
	}
}

// checkUnitIntegrity verifies the installed unit still matches the hash
// recorded when rackcfg installed it.
func checkUnitIntegrity(unitPath, hashPath string) CheckResult {
	const name = "unit integrity"
	if _, err := os.Stat(unitPath); os.IsNotExist(err) {
		return CheckResult{Name: name, OK: true, Message: fmt.Sprintf("%s not installed yet", unitPath)}
	}
	if msg := systemd.CheckUnitFileIntegrity(unitPath, hashPath); msg != "" {
		return CheckResult{
			Name:     name,
			OK:       false,
			Message:  msg,
			HowToFix: "Review the local edits, then re-install the unit:\n  rackcfg apply --reload",
		}
	}
	return CheckResult{Name: name, OK: true, Message: fmt.Sprintf("%s matches the recorded hash", unitPath)}
}

// ubuntuInstallHint returns a human-friendly install hint for a known binary.
func ubuntuInstallHint(bin string) string {
	hints := map[string]string{
		"nginx":     "sudo apt install nginx-core",
		"systemctl": "rackcfg targets hosts managed by systemd; install and boot with systemd.",
		"rsyslogd":  "sudo apt install rsyslog",
	}
	if hint, ok := hints[bin]; ok {
		return hint
	}
	return fmt.Sprintf("Install %q and ensure it is on your PATH.", bin)
}
