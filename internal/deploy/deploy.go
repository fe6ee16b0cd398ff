// Package deploy renders the rack artifacts from a manifest and installs
// them on the host.
package deploy

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/h3ow3d/rackcfg/internal/log"
	"github.com/h3ow3d/rackcfg/internal/manifest"
	"github.com/h3ow3d/rackcfg/internal/nginx"
	"github.com/h3ow3d/rackcfg/internal/service"
	"github.com/h3ow3d/rackcfg/internal/syslog"
	"github.com/h3ow3d/rackcfg/internal/systemd"
	"github.com/h3ow3d/rackcfg/internal/types"
)

// Artifact names.
const (
	Nginx  = "nginx"
	Syslog = "syslog"
	Unit   = "unit"
)

// Artifact is one rendered configuration file.
type Artifact struct {
	Name string
	Path string
	Data []byte
}

// Services is the part of the service manager Apply drives.
type Services interface {
	DaemonReload() error
	Restart(unit string) error
	Reload(unit string) error
}

// Options control Apply.
type Options struct {
	// DryRun renders and compares but writes nothing.
	DryRun bool
	// Reload restarts or reloads the services whose artifacts changed.
	Reload bool
	// HashPath is where the installed unit hash is recorded. Empty skips
	// recording.
	HashPath string
	// Services defaults to systemctl on the host.
	Services Services
}

// Result lists artifact names by outcome.
type Result struct {
	Changed   []string
	Unchanged []string
}

// HasChanged reports whether the named artifact was (or would be) written.
func (r *Result) HasChanged(name string) bool {
	for _, n := range r.Changed {
		if n == name {
			return true
		}
	}
	return false
}

// Render produces every artifact for m. It fails as a whole: either all
// artifacts render or none are returned.
func Render(m *types.RackManifest) ([]Artifact, error) {
	nginxConf, err := nginx.Render(manifest.Substitutions(m))
	if err != nil {
		return nil, fmt.Errorf("nginx: %w", err)
	}
	syslogConf, err := syslog.Render(manifest.SyslogConfig(m))
	if err != nil {
		return nil, fmt.Errorf("syslog: %w", err)
	}
	unitFile, err := systemd.RackdUnit().Render()
	if err != nil {
		return nil, fmt.Errorf("unit: %w", err)
	}
	return []Artifact{
		{Name: Nginx, Path: m.Spec.Output.Nginx, Data: nginxConf},
		{Name: Syslog, Path: m.Spec.Output.Syslog, Data: syslogConf},
		{Name: Unit, Path: m.Spec.Output.Unit, Data: unitFile},
	}, nil
}

// Apply renders m and installs every artifact whose on-disk content
// differs. Nothing is written if any artifact fails to render.
func Apply(m *types.RackManifest, opts Options) (*Result, error) {
	artifacts, err := Render(m)
	if err != nil {
		return nil, err
	}

	res := &Result{}
	for _, a := range artifacts {
		current, err := os.ReadFile(a.Path)
		if err != nil && !os.IsNotExist(err) {
			return res, fmt.Errorf("read %s: %w", a.Path, err)
		}
		if err == nil && bytes.Equal(current, a.Data) {
			log.Skip(fmt.Sprintf("%s config unchanged", a.Name), zap.String("path", a.Path))
			res.Unchanged = append(res.Unchanged, a.Name)
			continue
		}
		res.Changed = append(res.Changed, a.Name)
		if opts.DryRun {
			log.Info(fmt.Sprintf("Would write %s config", a.Name), zap.String("path", a.Path))
			continue
		}
		if err := WriteFileAtomic(a.Path, a.Data, 0o644); err != nil {
			return res, err
		}
		log.Ok(fmt.Sprintf("%s config written", a.Name), zap.String("path", a.Path))
	}

	if opts.DryRun {
		return res, nil
	}

	if opts.HashPath != "" {
		_, statErr := os.Stat(opts.HashPath)
		if res.HasChanged(Unit) || os.IsNotExist(statErr) {
			if err := systemd.RecordUnitFileHash(m.Spec.Output.Unit, opts.HashPath); err != nil {
				return res, fmt.Errorf("record unit hash: %w", err)
			}
			log.Debug("unit hash recorded", zap.String("path", opts.HashPath))
		}
	}

	if opts.Reload {
		if err := reload(res, opts.Services); err != nil {
			return res, err
		}
	}
	return res, nil
}

// reload applies changed artifacts to their services. Every action is
// attempted; failures are joined.
func reload(res *Result, svc Services) error {
	if svc == nil {
		svc = service.New(nil)
	}
	var errs []error
	if res.HasChanged(Unit) {
		if err := svc.DaemonReload(); err != nil {
			errs = append(errs, err)
		} else if err := svc.Restart(service.RackdUnit); err != nil {
			errs = append(errs, err)
		}
	}
	if res.HasChanged(Nginx) {
		if err := svc.Reload(service.HTTPUnit); err != nil {
			errs = append(errs, err)
		}
	}
	if res.HasChanged(Syslog) {
		if err := svc.Restart(service.SyslogUnit); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// WriteFileAtomic writes data to path through a temporary file in the same
// directory and renames it into place, so readers never see a partial file.
func WriteFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create directory %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("create temp file for %s: %w", path, err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op after a successful rename

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write %s: %w", tmpName, err)
	}
	if err := tmp.Chmod(perm); err != nil {
		tmp.Close()
		return fmt.Errorf("chmod %s: %w", tmpName, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync %s: %w", tmpName, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", tmpName, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("install %s: %w", path, err)
	}
	return nil
}
