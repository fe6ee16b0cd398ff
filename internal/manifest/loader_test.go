package manifest_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/h3ow3d/rackcfg/internal/manifest"
	"github.com/h3ow3d/rackcfg/internal/nginx"
)

const validManifest = `
apiVersion: rackcfg.io/v1alpha1
kind: Rack
metadata:
  name: rack-01
spec:
  http:
    upstreams:
      - 10.0.0.2
      - region.example:5240
      - fd00::2
      - "[fd00::3]"
    machineResources: /usr/share/maas/machine-resources
    resourceRoot: /var/lib/maas/boot-resources/current/
  syslog:
    port: 5247
    writeLocal: true
    forwarders:
      - name: region-1
        ip: 10.0.0.2
  output:
    nginx: /tmp/rack/nginx.conf
`

func TestLoadBytesValid(t *testing.T) {
	m, err := manifest.LoadBytes([]byte(validManifest), "test")
	if err != nil {
		t.Fatalf("LoadBytes: %v", err)
	}
	if m.APIVersion != "rackcfg.io/v1alpha1" {
		t.Errorf("APIVersion = %q, want rackcfg.io/v1alpha1", m.APIVersion)
	}
	if m.Kind != "Rack" {
		t.Errorf("Kind = %q, want Rack", m.Kind)
	}
	if m.Metadata.Name != "rack-01" {
		t.Errorf("Metadata.Name = %q, want rack-01", m.Metadata.Name)
	}
	if !m.Spec.Syslog.WriteLocal || len(m.Spec.Syslog.Forwarders) != 1 {
		t.Errorf("Syslog = %+v", m.Spec.Syslog)
	}
}

func TestLoadBytesNormalizesUpstreams(t *testing.T) {
	m, err := manifest.LoadBytes([]byte(validManifest), "test")
	if err != nil {
		t.Fatalf("LoadBytes: %v", err)
	}
	want := []string{
		"10.0.0.2:5240",
		"region.example:5240",
		"[fd00::2]:5240",
		"[fd00::3]:5240",
	}
	if diff := cmp.Diff(want, m.Spec.HTTP.Upstreams); diff != "" {
		t.Errorf("upstreams mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadBytesDefaultsOutputs(t *testing.T) {
	t.Setenv("MAAS_SYSLOG_CONFIG_DIR", "")
	m, err := manifest.LoadBytes([]byte(validManifest), "test")
	if err != nil {
		t.Fatalf("LoadBytes: %v", err)
	}
	if m.Spec.Output.Nginx != "/tmp/rack/nginx.conf" {
		t.Errorf("explicit nginx output overwritten: %q", m.Spec.Output.Nginx)
	}
	if m.Spec.Output.Syslog != "/var/lib/maas/rsyslog.conf" {
		t.Errorf("Output.Syslog = %q", m.Spec.Output.Syslog)
	}
	if m.Spec.Output.Unit != "/lib/systemd/system/maas-rackd.service" {
		t.Errorf("Output.Unit = %q", m.Spec.Output.Unit)
	}
}

func TestLoadNoUpstreams(t *testing.T) {
	yaml := strings.Replace(validManifest, `    upstreams:
      - 10.0.0.2
      - region.example:5240
      - fd00::2
      - "[fd00::3]"
`, "", 1)
	m, err := manifest.LoadBytes([]byte(yaml), "test")
	if err != nil {
		t.Fatalf("LoadBytes: %v", err)
	}
	if len(m.Spec.HTTP.Upstreams) != 0 {
		t.Errorf("Upstreams = %v, want none", m.Spec.HTTP.Upstreams)
	}
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rack.yaml")
	if err := os.WriteFile(path, []byte(validManifest), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := manifest.Load(path); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if _, err := manifest.Load("/nonexistent/path/rack.yaml"); err == nil {
		t.Error("expected error for missing file, got nil")
	}
}

func TestValidateErrors(t *testing.T) {
	cases := []struct {
		name    string
		old     string
		new     string
		wantErr string
	}{
		{"missing apiVersion", "apiVersion: rackcfg.io/v1alpha1\n", "", "apiVersion"},
		{"wrong apiVersion", "rackcfg.io/v1alpha1", "rackcfg.io/v2", "unsupported apiVersion"},
		{"missing kind", "kind: Rack\n", "", "kind"},
		{"wrong kind", "kind: Rack", "kind: Region", "unsupported kind"},
		{"missing name", "  name: rack-01\n", "", "metadata.name"},
		{"missing machineResources", "    machineResources: /usr/share/maas/machine-resources\n", "", "spec.http.machineResources"},
		{"relative resourceRoot", "resourceRoot: /var/lib", "resourceRoot: var/lib", "must be absolute"},
		{"upstream with semicolon", "- 10.0.0.2\n", "- \"10.0.0.2;\"\n", "spec.http.upstreams[0]"},
		{"upstream bad port", "region.example:5240", "region.example:99999", "invalid port"},
		{"upstream bad brackets", `"[fd00::3]"`, `"[region]"`, "bracketed"},
		{"bad forwarder ip", "ip: 10.0.0.2", "ip: region", "not a valid IP"},
		{"bad syslog port", "port: 5247", "port: 70000", "out of range"},
		{"relative output", "nginx: /tmp/rack/nginx.conf", "nginx: nginx.conf", "spec.output.nginx"},
		{"unknown field", "writeLocal: true", "writeLocal: true\n    extra: 1", "YAML parse error"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			yaml := strings.Replace(validManifest, tc.old, tc.new, 1)
			_, err := manifest.LoadBytes([]byte(yaml), "test")
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if !strings.Contains(err.Error(), tc.wantErr) {
				t.Errorf("error should mention %q, got: %v", tc.wantErr, err)
			}
		})
	}
}

func TestValidateReportsAllErrors(t *testing.T) {
	yaml := `
apiVersion: wrong
kind: wrong
metadata: {}
spec:
  http: {}
`
	_, err := manifest.LoadBytes([]byte(yaml), "multi")
	if err == nil {
		t.Fatal("expected error")
	}
	for _, want := range []string{"apiVersion", "kind", "metadata.name", "machineResources", "resourceRoot"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("aggregated error missing %q: %v", want, err)
		}
	}
}

func TestSubstitutionsRender(t *testing.T) {
	m, err := manifest.LoadBytes([]byte(validManifest), "test")
	if err != nil {
		t.Fatalf("LoadBytes: %v", err)
	}
	out, err := nginx.Render(manifest.Substitutions(m))
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if diff := cmp.Diff(m.Spec.HTTP.Upstreams, nginx.UpstreamServers(out)); diff != "" {
		t.Errorf("server lines mismatch (-want +got):\n%s", diff)
	}
}

func TestSyslogConfig(t *testing.T) {
	m, err := manifest.LoadBytes([]byte(validManifest), "test")
	if err != nil {
		t.Fatalf("LoadBytes: %v", err)
	}
	c := manifest.SyslogConfig(m)
	if c.Port != 5247 || !c.WriteLocal {
		t.Errorf("SyslogConfig = %+v", c)
	}
	if len(c.Forwarders) != 1 || c.Forwarders[0].Name != "region-1" || c.Forwarders[0].IP != "10.0.0.2" {
		t.Errorf("Forwarders = %+v", c.Forwarders)
	}
}
