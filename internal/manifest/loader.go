// Package manifest provides loading and validation for rackcfg v1alpha1
// rack manifests.
package manifest

import (
	"bytes"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/h3ow3d/rackcfg/internal/nginx"
	"github.com/h3ow3d/rackcfg/internal/syslog"
	"github.com/h3ow3d/rackcfg/internal/systemd"
	"github.com/h3ow3d/rackcfg/internal/types"
)

const (
	supportedAPIVersion = "rackcfg.io/v1alpha1"
	supportedKind       = "Rack"
)

// Default output locations.
const (
	DefaultNginxPath = "/var/lib/maas/http/nginx.conf"
	DefaultUnitPath  = "/lib/systemd/system/" + systemd.UnitName
)

// Load reads a manifest file from path, parses it, and validates it.
// It returns the parsed RackManifest or an error with actionable guidance.
func Load(path string) (*types.RackManifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read manifest %q: %w", path, err)
	}
	return LoadBytes(data, path)
}

// LoadBytes parses and validates a manifest from raw YAML bytes, then
// normalizes upstreams and fills default output paths.
// The source parameter is used only for error messages.
func LoadBytes(data []byte, source string) (*types.RackManifest, error) {
	var m types.RackManifest
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&m); err != nil {
		return nil, fmt.Errorf("manifest %q: YAML parse error: %w", source, err)
	}
	if err := Validate(&m, source); err != nil {
		return nil, err
	}
	Normalize(&m)
	return &m, nil
}

// Validate checks a parsed RackManifest for correctness and returns a
// descriptive error listing every issue found.
func Validate(m *types.RackManifest, source string) error {
	var errs []string

	// Schema / version checks.
	if m.APIVersion == "" {
		errs = append(errs, fmt.Sprintf("missing required field: apiVersion (expected %q)", supportedAPIVersion))
	} else if m.APIVersion != supportedAPIVersion {
		errs = append(errs, fmt.Sprintf("unsupported apiVersion %q: only %q is supported", m.APIVersion, supportedAPIVersion))
	}

	if m.Kind == "" {
		errs = append(errs, fmt.Sprintf("missing required field: kind (expected %q)", supportedKind))
	} else if m.Kind != supportedKind {
		errs = append(errs, fmt.Sprintf("unsupported kind %q: only %q is supported", m.Kind, supportedKind))
	}

	if m.Metadata.Name == "" {
		errs = append(errs, "missing required field: metadata.name")
	}

	// spec.http checks.
	for i, u := range m.Spec.HTTP.Upstreams {
		if err := validateUpstream(u); err != nil {
			errs = append(errs, fmt.Sprintf("spec.http.upstreams[%d] %q: %v", i, u, err))
		}
	}
	for _, f := range []struct{ name, val string }{
		{"spec.http.machineResources", m.Spec.HTTP.MachineResources},
		{"spec.http.resourceRoot", m.Spec.HTTP.ResourceRoot},
	} {
		switch {
		case f.val == "":
			errs = append(errs, fmt.Sprintf("missing required field: %s", f.name))
		case !filepath.IsAbs(f.val):
			errs = append(errs, fmt.Sprintf("%s: path %q must be absolute", f.name, f.val))
		case strings.ContainsAny(f.val, " \t\n;{}"):
			errs = append(errs, fmt.Sprintf("%s: path %q contains whitespace or nginx syntax characters", f.name, f.val))
		}
	}

	// spec.syslog checks. Zero values take defaults.
	sl := m.Spec.Syslog
	if sl.Port < 0 || sl.Port > 65535 {
		errs = append(errs, fmt.Sprintf("spec.syslog.port: %d out of range 1-65535", sl.Port))
	}
	names := make(map[string]bool)
	for i, f := range sl.Forwarders {
		if strings.TrimSpace(f.Name) == "" {
			errs = append(errs, fmt.Sprintf("spec.syslog.forwarders[%d]: name is required", i))
		} else if names[f.Name] {
			errs = append(errs, fmt.Sprintf("spec.syslog.forwarders[%d]: duplicate name %q", i, f.Name))
		}
		names[f.Name] = true
		if net.ParseIP(f.IP) == nil {
			errs = append(errs, fmt.Sprintf("spec.syslog.forwarders[%d]: ip %q is not a valid IP address", i, f.IP))
		}
	}

	// spec.output checks.
	for _, f := range []struct{ name, val string }{
		{"spec.output.nginx", m.Spec.Output.Nginx},
		{"spec.output.syslog", m.Spec.Output.Syslog},
		{"spec.output.unit", m.Spec.Output.Unit},
	} {
		if f.val != "" && !filepath.IsAbs(f.val) {
			errs = append(errs, fmt.Sprintf("%s: path %q must be absolute", f.name, f.val))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("manifest %q is invalid:\n  - %s", source, strings.Join(errs, "\n  - "))
	}
	return nil
}

// validateUpstream accepts host, host:port, IPv4, IPv6 and [IPv6]:port.
func validateUpstream(u string) error {
	if u == "" {
		return fmt.Errorf("must not be empty")
	}
	if strings.ContainsAny(u, " \t\n;{}") {
		return fmt.Errorf("must not contain whitespace or nginx syntax characters")
	}
	if net.ParseIP(u) != nil {
		return nil
	}
	if strings.HasPrefix(u, "[") && strings.HasSuffix(u, "]") {
		if net.ParseIP(u[1:len(u)-1]) == nil {
			return fmt.Errorf("invalid bracketed IPv6 address")
		}
		return nil
	}
	host, port, err := net.SplitHostPort(u)
	if err != nil {
		if strings.Contains(u, ":") {
			return err
		}
		return nil
	}
	if host == "" {
		return fmt.Errorf("missing host")
	}
	if p, err := strconv.Atoi(port); err != nil || p < 1 || p > 65535 {
		return fmt.Errorf("invalid port %q", port)
	}
	return nil
}

// Normalize appends the region port to upstreams that have none and fills
// default output paths. It expects a manifest that passed Validate.
func Normalize(m *types.RackManifest) {
	for i, u := range m.Spec.HTTP.Upstreams {
		m.Spec.HTTP.Upstreams[i] = normalizeUpstream(u)
	}
	if m.Spec.Output.Nginx == "" {
		m.Spec.Output.Nginx = DefaultNginxPath
	}
	if m.Spec.Output.Syslog == "" {
		m.Spec.Output.Syslog = syslog.ConfigPath()
	}
	if m.Spec.Output.Unit == "" {
		m.Spec.Output.Unit = DefaultUnitPath
	}
}

func normalizeUpstream(u string) string {
	regionPort := strconv.Itoa(nginx.RegionPort)
	if ip := net.ParseIP(u); ip != nil {
		return net.JoinHostPort(u, regionPort)
	}
	if strings.HasPrefix(u, "[") && strings.HasSuffix(u, "]") {
		return u + ":" + regionPort
	}
	if _, _, err := net.SplitHostPort(u); err == nil {
		return u
	}
	return net.JoinHostPort(u, regionPort)
}

// Substitutions converts the manifest's HTTP section into the proxy
// template substitution set.
func Substitutions(m *types.RackManifest) nginx.Substitutions {
	return nginx.Substitutions{
		UpstreamHTTP:     append([]string(nil), m.Spec.HTTP.Upstreams...),
		MachineResources: m.Spec.HTTP.MachineResources,
		ResourceRoot:     m.Spec.HTTP.ResourceRoot,
	}
}

// SyslogConfig converts the manifest's syslog section into the rsyslog
// render configuration.
func SyslogConfig(m *types.RackManifest) syslog.Config {
	c := syslog.Config{
		Port:       m.Spec.Syslog.Port,
		WriteLocal: m.Spec.Syslog.WriteLocal,
		User:       m.Spec.Syslog.User,
		Group:      m.Spec.Syslog.Group,
	}
	for _, f := range m.Spec.Syslog.Forwarders {
		c.Forwarders = append(c.Forwarders, syslog.Forwarder{Name: f.Name, IP: f.IP})
	}
	return c
}
