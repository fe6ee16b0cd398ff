// Package nginx renders the rack HTTP proxy configuration.
//
// The proxy listens on port 5248 and serves machine resources and boot
// images. It forwards boot requests to the rack process on localhost:5249
// and, when region upstreams are known, proxies /MAAS/ to them.
package nginx

import (
	"bytes"
	"errors"
	"fmt"
	"sort"
	"strings"
	"text/template"
	"unicode"
)

// Substitution keys accepted by FromMap.
const (
	KeyUpstreamHTTP     = "upstream_http"
	KeyMachineResources = "machine_resources"
	KeyResourceRoot     = "resource_root"
)

const (
	// ListenPort is the port the proxy listens on for IPv4 and IPv6.
	ListenPort = 5248
	// BackendPort is the local rack process port for boot and log requests.
	BackendPort = 5249
	// RegionPort is the conventional region controller HTTP port.
	RegionPort = 5240

	upstreamHeader   = "upstream maas-regions {"
	regionLocation   = "location /MAAS/ {"
	upstreamLinePref = "server "
)

var (
	// ErrMissingKey is returned when a required substitution is absent.
	ErrMissingKey = errors.New("missing substitution")
	// ErrMalformed is returned when a substitution value is unusable.
	ErrMalformed = errors.New("malformed substitution")
	// ErrInconsistentRender is returned when rendered output breaks the
	// all-or-nothing upstream gating or contains leftover placeholders.
	ErrInconsistentRender = errors.New("inconsistent render")
)

// Substitutions is the value set the proxy template is rendered with.
type Substitutions struct {
	// UpstreamHTTP lists region upstreams (host:port) in emission order.
	// Empty means no upstream block and no /MAAS/ location.
	UpstreamHTTP []string
	// MachineResources is used verbatim as the /machine-resources/ root.
	MachineResources string
	// ResourceRoot is used verbatim as the /images/ alias.
	ResourceRoot string
}

const configTemplate = `
{{- if .UpstreamHTTP -}}
upstream maas-regions {
{{- range .UpstreamHTTP }}
    server {{ . }};
{{- end }}
}

{{ end -}}
server {
    listen [::]:{{ listenPort }};
    listen {{ listenPort }};

    location /machine-resources/ {
        root {{ .MachineResources }};
        autoindex on;
        gzip on;
    }

    location /images/ {
        auth_request /log;
        alias {{ .ResourceRoot }};
        autoindex on;
    }

    location = /log {
        internal;
        proxy_pass http://localhost:{{ backendPort }}/log;
        proxy_set_header X-Original-URI $request_uri;
        proxy_set_header X-Original-Remote-IP $remote_addr;
    }
{{- if .UpstreamHTTP }}

    location /MAAS/ {
        proxy_pass http://maas-regions/MAAS/;
    }
{{- end }}

    location / {
        proxy_pass http://localhost:{{ backendPort }}/boot/;
        proxy_set_header X-Server-Addr $server_addr;
        proxy_set_header X-Server-Port $server_port;
        proxy_set_header X-Forwarded-For $remote_addr;
        proxy_set_header X-Forwarded-Port $remote_port;
    }
}
`

var tmpl = template.Must(template.New("nginx.conf").
	Option("missingkey=error").
	Funcs(template.FuncMap{
		"listenPort":  func() int { return ListenPort },
		"backendPort": func() int { return BackendPort },
	}).
	Parse(configTemplate))

// FromMap builds Substitutions from a raw key/value set. All three keys are
// required; upstream_http may be an empty list, and a null upstream_http
// (a YAML key with no value) counts as empty. Unknown keys are rejected.
// Every problem is reported; the error wraps ErrMissingKey when any key is
// absent and ErrMalformed otherwise.
func FromMap(m map[string]any) (Substitutions, error) {
	var s Substitutions
	var errs []string
	missing := false

	var unknown []string
	for k := range m {
		switch k {
		case KeyUpstreamHTTP, KeyMachineResources, KeyResourceRoot:
		default:
			unknown = append(unknown, k)
		}
	}
	sort.Strings(unknown)
	for _, k := range unknown {
		errs = append(errs, fmt.Sprintf("unknown key %q", k))
	}

	if raw, ok := m[KeyUpstreamHTTP]; ok {
		ups, err := toStrings(raw)
		if err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", KeyUpstreamHTTP, err))
		}
		s.UpstreamHTTP = ups
	} else {
		missing = true
		errs = append(errs, fmt.Sprintf("%s is required", KeyUpstreamHTTP))
	}

	for _, key := range []string{KeyMachineResources, KeyResourceRoot} {
		raw, ok := m[key]
		if !ok {
			missing = true
			errs = append(errs, fmt.Sprintf("%s is required", key))
			continue
		}
		v, ok := raw.(string)
		if !ok {
			errs = append(errs, fmt.Sprintf("%s: expected string, got %T", key, raw))
			continue
		}
		if key == KeyMachineResources {
			s.MachineResources = v
		} else {
			s.ResourceRoot = v
		}
	}

	if len(errs) == 0 {
		return s, nil
	}
	sentinel := ErrMalformed
	if missing {
		sentinel = ErrMissingKey
	}
	return s, fmt.Errorf("%w:\n  - %s", sentinel, strings.Join(errs, "\n  - "))
}

func toStrings(raw any) ([]string, error) {
	switch v := raw.(type) {
	case nil:
		return nil, nil
	case []string:
		return v, nil
	case []any:
		out := make([]string, 0, len(v))
		for i, e := range v {
			s, ok := e.(string)
			if !ok {
				return nil, fmt.Errorf("entry %d: expected string, got %T", i, e)
			}
			out = append(out, s)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("expected list of strings, got %T", raw)
	}
}

// Validate reports every unusable value in s.
func (s Substitutions) Validate() error {
	var errs []string
	for i, u := range s.UpstreamHTTP {
		if err := checkToken(u); err != nil {
			errs = append(errs, fmt.Sprintf("%s[%d] %q: %v", KeyUpstreamHTTP, i, u, err))
		}
	}
	for _, f := range []struct{ key, val string }{
		{KeyMachineResources, s.MachineResources},
		{KeyResourceRoot, s.ResourceRoot},
	} {
		if f.val == "" {
			errs = append(errs, fmt.Sprintf("%s is required", f.key))
		} else if err := checkToken(f.val); err != nil {
			errs = append(errs, fmt.Sprintf("%s %q: %v", f.key, f.val, err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w:\n  - %s", ErrMalformed, strings.Join(errs, "\n  - "))
	}
	return nil
}

// checkToken rejects values that would change the structure of the
// rendered configuration.
func checkToken(v string) error {
	if v == "" {
		return errors.New("must not be empty")
	}
	for _, r := range v {
		switch {
		case unicode.IsSpace(r), unicode.IsControl(r):
			return errors.New("must not contain whitespace or control characters")
		case r == ';' || r == '{' || r == '}':
			return fmt.Errorf("must not contain %q", r)
		}
	}
	return nil
}

// Render produces the proxy configuration for s. On any failure no output
// is returned.
func Render(s Substitutions) ([]byte, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, s); err != nil {
		return nil, fmt.Errorf("render nginx config: %w", err)
	}
	out := buf.Bytes()
	if err := Verify(out, s.UpstreamHTTP); err != nil {
		return nil, err
	}
	return out, nil
}

// Verify checks rendered output against the upstreams it was rendered
// with: the upstream block and the /MAAS/ location are both present or
// both absent, there is exactly one server line per upstream in input
// order, and no placeholder is left behind.
func Verify(out []byte, upstreams []string) error {
	text := string(out)
	if strings.Contains(text, "{{") || strings.Contains(text, "<no value>") {
		return fmt.Errorf("%w: unsubstituted placeholder in output", ErrInconsistentRender)
	}

	hasBlock := strings.Contains(text, upstreamHeader)
	hasLocation := strings.Contains(text, regionLocation)
	if hasBlock != hasLocation {
		return fmt.Errorf("%w: upstream block present=%t but /MAAS/ location present=%t",
			ErrInconsistentRender, hasBlock, hasLocation)
	}
	if hasBlock != (len(upstreams) > 0) {
		return fmt.Errorf("%w: %d upstreams but upstream block present=%t",
			ErrInconsistentRender, len(upstreams), hasBlock)
	}

	got := UpstreamServers(out)
	if len(got) != len(upstreams) {
		return fmt.Errorf("%w: %d server lines for %d upstreams",
			ErrInconsistentRender, len(got), len(upstreams))
	}
	for i := range got {
		if got[i] != upstreams[i] {
			return fmt.Errorf("%w: server line %d is %q, want %q",
				ErrInconsistentRender, i, got[i], upstreams[i])
		}
	}
	return nil
}

// UpstreamServers returns the server entries of the upstream block in
// output order.
func UpstreamServers(out []byte) []string {
	var servers []string
	inBlock := false
	for _, line := range strings.Split(string(out), "\n") {
		line = strings.TrimSpace(line)
		switch {
		case line == upstreamHeader:
			inBlock = true
		case inBlock && line == "}":
			inBlock = false
		case inBlock && strings.HasPrefix(line, upstreamLinePref) && strings.HasSuffix(line, ";"):
			servers = append(servers, strings.TrimSuffix(strings.TrimPrefix(line, upstreamLinePref), ";"))
		}
	}
	return servers
}
