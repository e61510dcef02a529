package manifest

import "time"

// ContainerSpec is the per-container configuration surface described in
// spec.md §4.4, shared by the primary container (RunSpec embeds it) and
// every service. Fields map 1:1 to the options table in §4.4.
type ContainerSpec struct {
	Image string     `yaml:"image,omitempty"`
	Build *BuildSpec `yaml:"build,omitempty"`

	Cmd          string             `yaml:"cmd,omitempty"`
	Cmds         []string           `yaml:"cmds,omitempty"`
	Provisioners []ProvisionerSpec  `yaml:"provisioners,omitempty"`
	Shell        string             `yaml:"shell,omitempty"`
	Cwd          string             `yaml:"cwd,omitempty"`
	User         string             `yaml:"user,omitempty"`

	Hostname   string   `yaml:"hostname,omitempty"`
	DNS        []string `yaml:"dns,omitempty"`
	DNSSearch  []string `yaml:"dns_search,omitempty"`
	ExtraHosts []string `yaml:"extra_hosts,omitempty"`

	Env map[string]string `yaml:"env,omitempty"`

	// Files maps a local-file alias registered in the build context to
	// "<target>[:rw]". Only aliases are resolved; a key that is not a
	// registered alias, such as a relative source path, is rejected.
	Files map[string]string `yaml:"files,omitempty"`

	// CachesRaw accepts either {target: key} or {target: [keys...]} as
	// written in the manifest; call NormalizeCaches to populate Caches from it.
	CachesRaw any `yaml:"caches,omitempty"`
	// Caches is {target_path: [keys...]}, normalized from CachesRaw.
	Caches map[string][]string `yaml:"-"`

	// Ports maps container port to host port, honored per spec.md §4.4.
	Ports map[string]string `yaml:"ports,omitempty"`

	VolumesFrom []string `yaml:"volumes_from,omitempty"`
	SSHKeys     []string `yaml:"ssh-keys,omitempty"`

	WaitFor []WaitFor `yaml:"wait_for,omitempty"`

	Systemd    *bool    `yaml:"systemd,omitempty"`
	CapAdd     []string `yaml:"cap_add,omitempty"`
	Privileged bool     `yaml:"privileged,omitempty"`
	Platform   string   `yaml:"platform,omitempty"`

	InjectSSHAgent bool     `yaml:"inject-ssh-agent,omitempty"`
	Containers     []string `yaml:"containers,omitempty"`
}

// HasCommandOverride reports whether the image's default CMD should be
// replaced with a shell invocation assembled from Cmd/Cmds/Provisioners.
func (c *ContainerSpec) HasCommandOverride() bool {
	return c.Cmd != "" || len(c.Cmds) > 0 || len(c.Provisioners) > 0
}

// WaitFor is a readiness gate: the named port must accept a TCP connection
// within Timeout (default 600s) before dependents may proceed.
type WaitFor struct {
	Port    int           `yaml:"port"`
	Timeout time.Duration `yaml:"timeout,omitempty"`
}

// DefaultWaitForTimeout is applied when a WaitFor entry omits Timeout.
const DefaultWaitForTimeout = 600 * time.Second

// EffectiveTimeout returns w.Timeout, defaulting per spec.md §4.4.
func (w WaitFor) EffectiveTimeout() time.Duration {
	if w.Timeout <= 0 {
		return DefaultWaitForTimeout
	}
	return w.Timeout
}

// ServiceSpec is a named linked container started before the primary.
type ServiceSpec struct {
	Name string `yaml:"-"`
	ContainerSpec `yaml:",inline"`
}

// RunSpec is the primary container's configuration plus its linked
// services, in declaration order (spec.md §4.4 ordering invariant).
type RunSpec struct {
	ContainerSpec `yaml:",inline"`

	Services []ServiceSpec `yaml:"services,omitempty"`
}
