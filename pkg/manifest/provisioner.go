package manifest

import (
	"fmt"

	"github.com/mgutz/str"
	"gopkg.in/yaml.v3"
)

// ProvisionerSpec is one entry in a container's provisioning sequence
// (spec.md §4.4), run after Cmd/Cmds. Exactly one of Shell or Salt should
// be set; the loader rejects entries with both or neither.
type ProvisionerSpec struct {
	Shell *ShellProvisioner `yaml:"shell,omitempty"`
	Salt  *SaltProvisioner  `yaml:"salt,omitempty"`
}

// ShellProvisioner appends Path and its arguments as one line of the
// container's shell script, so Path must already exist inside the
// container; no local file is resolved or copied in. Written as a
// mapping ({path, args}) or, per spec.md §4.4's "script path or path+args"
// shorthand, as a single string that is split shell-style into a path plus
// its arguments.
type ShellProvisioner struct {
	Path string   `yaml:"path"`
	Args []string `yaml:"args,omitempty"`
}

// UnmarshalYAML accepts the mapping form normally, or a bare scalar like
// "provision.sh --env prod", split into Path/Args the way the teacher
// splits a raw command string into argv (pkg/commands/os.go RunCommandObject).
func (s *ShellProvisioner) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		argv := str.ToArgv(node.Value)
		if len(argv) == 0 {
			return fmt.Errorf("shell provisioner string form must not be empty")
		}
		s.Path = argv[0]
		s.Args = argv[1:]
		return nil
	}
	type plain ShellProvisioner
	return node.Decode((*plain)(s))
}

// SaltProvisioner adds a masterless `salt-call --local state.apply` line
// to the container's shell script. States and Pillar are decoded from the
// manifest but are not rendered or written into the container.
type SaltProvisioner struct {
	States map[string]any `yaml:"states"`
	Pillar map[string]any `yaml:"pillar,omitempty"`
}

// IsSet reports whether exactly one provisioner kind is populated.
func (p ProvisionerSpec) IsSet() bool {
	return (p.Shell != nil) != (p.Salt != nil)
}
