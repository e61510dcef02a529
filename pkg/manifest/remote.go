package manifest

// RemoteSpec delegates a step to a host reachable over SSH instead of
// running it in a local container (spec.md §4.3 "Remote stage"). When set,
// it replaces Build/Run entirely — the loader rejects a step carrying both.
type RemoteSpec struct {
	// Host is either an alias resolved through the user's ssh config
	// (pkg/remotehost, kevinburke/ssh_config) or a literal user@host.
	Host string `yaml:"host"`

	Cmd  string   `yaml:"cmd,omitempty"`
	Cmds []string `yaml:"cmds,omitempty"`

	// Workdir is the directory on the remote host the command runs in;
	// created if missing.
	Workdir string `yaml:"workdir,omitempty"`

	Env map[string]string `yaml:"env,omitempty"`

	// Artifacts lists glob patterns, relative to Workdir, to fetch back
	// over SFTP once the command completes.
	Artifacts []string `yaml:"artifacts,omitempty"`
}

// HasCommand reports whether a command was given beyond the bare host
// connection.
func (r *RemoteSpec) HasCommand() bool {
	return r.Cmd != "" || len(r.Cmds) > 0
}
