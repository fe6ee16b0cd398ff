// Package syslog renders the rack rsyslog configuration that receives
// machine logs and relays them to region controllers.
package syslog

import (
	"bytes"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"text/template"

	"github.com/Masterminds/sprig/v3"
)

const (
	// DefaultPort is the rsyslog listen and forward port.
	DefaultPort = 5247
	// ConfigName is the file name of the rendered configuration.
	ConfigName = "rsyslog.conf"
	// ConfigDirEnv overrides the directory the configuration is written to.
	ConfigDirEnv = "MAAS_SYSLOG_CONFIG_DIR"

	defaultConfigDir = "/var/lib/maas"
	defaultLogDir    = "/var/log/maas"
	defaultOwner     = "maas"
)

// ErrInvalidConfig is returned when a Config cannot be rendered.
var ErrInvalidConfig = errors.New("invalid syslog config")

// Forwarder is a remote rsyslog target. Name doubles as the on-disk queue
// file name.
type Forwarder struct {
	Name string
	IP   string
}

// Config holds the values the rsyslog configuration is rendered with.
type Config struct {
	Port       int
	WriteLocal bool
	User       string
	Group      string
	LogDir     string
	Forwarders []Forwarder
}

// ConfigPath returns where the configuration is written, honoring
// MAAS_SYSLOG_CONFIG_DIR.
func ConfigPath() string {
	dir := defaultConfigDir
	if v := os.Getenv(ConfigDirEnv); v != "" {
		dir = v
	}
	return filepath.Join(dir, ConfigName)
}

const configTemplate = `# Ownership of written files.
$FileOwner {{ .User }}
$FileGroup {{ .Group }}
$FileCreateMode 0644
$DirCreateMode 0755
$Umask 0022
{{- if ne .User "root" }}
$PrivDropToUser {{ .User }}
$PrivDropToGroup {{ .Group }}
{{- end }}

module(load="imtcp")
module(load="imudp")

input(type="imtcp" port={{ .Port | quote }})
input(type="imudp" port={{ .Port | quote }})

$template maasLogFormat,"%syslogtag%%msg:::sp-if-no-1st-sp%%msg:::drop-last-lf%\n"
$template remoteFile,"{{ .LogDir }}/rsyslog/%$!remote!SYSLOG_IDENTIFIER%/%HOSTNAME%/messages"
{{- range .Forwarders }}

*.* action(type="omfwd" target={{ .IP | quote }} port={{ $.Port | quote }} protocol="tcp"
    TCP_Framing="octet-counted" action.resumeRetryCount="-1"
    queue.type="LinkedList" queue.filename={{ .Name | quote }} queue.saveOnShutdown="on")
{{- end }}

# maas.log is always written locally.
if $syslogtag contains "maas" then {
    action(type="omfile" file="{{ .LogDir }}/maas.log" template="maasLogFormat")
    stop
}
{{- if .WriteLocal }}

if $inputname == "imtcp" or $inputname == "imudp" then {
    if $programname startswith "maas-enlist" then {
        set $!remote!SYSLOG_IDENTIFIER = "maas-enlist";
    } else {
        set $!remote!SYSLOG_IDENTIFIER = "maas-machine";
    }
    action(type="omfile" dynaFile="remoteFile")
}
:inputname, isequal, "imtcp" stop
:inputname, isequal, "imudp" stop
{{- end }}
`

var tmpl = template.Must(template.New(ConfigName).
	Funcs(sprig.TxtFuncMap()).
	Parse(configTemplate))

// WithDefaults fills unset fields.
func (c Config) WithDefaults() Config {
	if c.Port == 0 {
		c.Port = DefaultPort
	}
	if c.User == "" {
		c.User = defaultOwner
	}
	if c.Group == "" {
		c.Group = defaultOwner
	}
	if c.LogDir == "" {
		c.LogDir = defaultLogDir
	}
	return c
}

// Validate reports every unusable value in c.
func (c Config) Validate() error {
	var errs []string
	if c.Port < 1 || c.Port > 65535 {
		errs = append(errs, fmt.Sprintf("port %d out of range 1-65535", c.Port))
	}
	for _, f := range []struct{ name, val string }{{"user", c.User}, {"group", c.Group}} {
		if f.val == "" || strings.ContainsAny(f.val, " \t\n\"") {
			errs = append(errs, fmt.Sprintf("%s %q is not a valid account name", f.name, f.val))
		}
	}
	if !filepath.IsAbs(c.LogDir) {
		errs = append(errs, fmt.Sprintf("log dir %q must be absolute", c.LogDir))
	}
	seen := make(map[string]bool)
	for i, f := range c.Forwarders {
		if f.Name == "" || strings.ContainsAny(f.Name, " \t\n\"/") {
			errs = append(errs, fmt.Sprintf("forwarders[%d]: invalid name %q", i, f.Name))
		} else if seen[f.Name] {
			errs = append(errs, fmt.Sprintf("forwarders[%d]: duplicate name %q", i, f.Name))
		}
		seen[f.Name] = true
		if net.ParseIP(f.IP) == nil {
			errs = append(errs, fmt.Sprintf("forwarders[%d]: invalid ip %q", i, f.IP))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w:\n  - %s", ErrInvalidConfig, strings.Join(errs, "\n  - "))
	}
	return nil
}

// Render produces the rsyslog configuration for c after applying defaults.
func Render(c Config) ([]byte, error) {
	c = c.WithDefaults()
	if err := c.Validate(); err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, c); err != nil {
		return nil, fmt.Errorf("render syslog config: %w", err)
	}
	return buf.Bytes(), nil
}
