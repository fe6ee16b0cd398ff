package rack_test

import (
	"os"
	"path/filepath"
	"testing"

	rack "github.com/h3ow3d/rackcfg/internal"
)

func TestDefaultXDGDirs_Structure(t *testing.T) {
	dirs := rack.DefaultXDGDirs()

	if dirs.Config == "" {
		t.Error("Config must not be empty")
	}
	if dirs.State == "" {
		t.Error("State must not be empty")
	}
}

func TestXDGDirs_SubPaths(t *testing.T) {
	dirs := rack.XDGDirs{
		Config: "/tmp/cfg/rackcfg",
		State:  "/tmp/state/rackcfg",
	}

	cases := []struct {
		name string
		got  string
		want string
	}{
		{"ManifestFile", dirs.ManifestFile(), "/tmp/cfg/rackcfg/rack.yaml"},
		{"UnitHashFile", dirs.UnitHashFile(), "/tmp/state/rackcfg/unit-file.sha256"},
	}
	for _, tc := range cases {
		if tc.got != tc.want {
			t.Errorf("%s = %q, want %q", tc.name, tc.got, tc.want)
		}
	}
}

func TestXDGDirs_XDGEnvOverride(t *testing.T) {
	tmp := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(tmp, "config"))
	t.Setenv("XDG_STATE_HOME", filepath.Join(tmp, "state"))

	dirs := rack.DefaultXDGDirs()

	if dirs.Config != filepath.Join(tmp, "config", "rackcfg") {
		t.Errorf("Config = %q, want %q", dirs.Config, filepath.Join(tmp, "config", "rackcfg"))
	}
	if dirs.State != filepath.Join(tmp, "state", "rackcfg") {
		t.Errorf("State = %q, want %q", dirs.State, filepath.Join(tmp, "state", "rackcfg"))
	}
}

func TestResolveManifest(t *testing.T) {
	dirs := rack.XDGDirs{Config: "/tmp/cfg/rackcfg", State: "/tmp/state/rackcfg"}

	t.Setenv(rack.ManifestEnv, "")
	if got := dirs.ResolveManifest(""); got != "/tmp/cfg/rackcfg/rack.yaml" {
		t.Errorf("default = %q", got)
	}

	t.Setenv(rack.ManifestEnv, "/etc/rackcfg/rack.yaml")
	if got := dirs.ResolveManifest(""); got != "/etc/rackcfg/rack.yaml" {
		t.Errorf("env = %q", got)
	}
	if got := dirs.ResolveManifest("./rack.yaml"); got != "./rack.yaml" {
		t.Errorf("flag = %q", got)
	}
}

func TestEnsureDirs_CreatesAll(t *testing.T) {
	tmp := t.TempDir()
	dirs := rack.XDGDirs{
		Config: filepath.Join(tmp, "config", "rackcfg"),
		State:  filepath.Join(tmp, "state", "rackcfg"),
	}

	if err := dirs.EnsureDirs(); err != nil {
		t.Fatalf("EnsureDirs: %v", err)
	}
	for _, d := range []string{dirs.Config, dirs.State} {
		info, err := os.Stat(d)
		if err != nil {
			t.Errorf("expected directory %s to exist: %v", d, err)
			continue
		}
		if !info.IsDir() {
			t.Errorf("%s is not a directory", d)
		}
	}
}

func TestEnsureDirs_Idempotent(t *testing.T) {
	tmp := t.TempDir()
	dirs := rack.XDGDirs{
		Config: filepath.Join(tmp, "config", "rackcfg"),
		State:  filepath.Join(tmp, "state", "rackcfg"),
	}

	if err := dirs.EnsureDirs(); err != nil {
		t.Fatalf("first EnsureDirs: %v", err)
	}
	if err := dirs.EnsureDirs(); err != nil {
		t.Fatalf("second EnsureDirs (idempotency): %v", err)
	}
}
