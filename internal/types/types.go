// Package types defines the typed model for rackcfg manifests (v1alpha1).
package types

// RackManifest is the top-level structure of a v1alpha1 rack manifest.
type RackManifest struct {
	APIVersion string     `yaml:"apiVersion"`
	Kind       string     `yaml:"kind"`
	Metadata   ObjectMeta `yaml:"metadata"`
	Spec       RackSpec   `yaml:"spec"`
}

// ObjectMeta holds identity metadata for a rack manifest.
type ObjectMeta struct {
	Name        string            `yaml:"name"`
	Labels      map[string]string `yaml:"labels"`
	Annotations map[string]string `yaml:"annotations"`
}

// RackSpec is the spec section of a RackManifest.
type RackSpec struct {
	HTTP   HTTPSpec   `yaml:"http"`
	Syslog SyslogSpec `yaml:"syslog"`
	Output OutputSpec `yaml:"output"`
}

// HTTPSpec feeds the rack HTTP proxy configuration.
type HTTPSpec struct {
	// Upstreams are region controller addresses, host or host:port.
	Upstreams        []string `yaml:"upstreams"`
	MachineResources string   `yaml:"machineResources"`
	ResourceRoot     string   `yaml:"resourceRoot"`
}

// SyslogSpec feeds the rack rsyslog configuration.
type SyslogSpec struct {
	Port       int         `yaml:"port"`
	WriteLocal bool        `yaml:"writeLocal"`
	User       string      `yaml:"user"`
	Group      string      `yaml:"group"`
	Forwarders []Forwarder `yaml:"forwarders"`
}

// Forwarder is a remote syslog target.
type Forwarder struct {
	Name string `yaml:"name"`
	IP   string `yaml:"ip"`
}

// OutputSpec holds the destination paths of the rendered artifacts.
type OutputSpec struct {
	Nginx  string `yaml:"nginx"`
	Syslog string `yaml:"syslog"`
	Unit   string `yaml:"unit"`
}
