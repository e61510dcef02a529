// Package manifest holds the data model the engine consumes: the
// "normalized structure" spec.md §6 says the (out-of-scope) templating
// front-end hands the engine — {version, global_options, steps}. The engine
// never evaluates an expression or merges multiple files; by the time a
// Manifest reaches pkg/scheduler or pkg/runner every value is final.
package manifest

// Manifest is the fully-resolved build manifest the engine drives.
type Manifest struct {
	Version       string        `yaml:"version"`
	GlobalOptions GlobalOptions `yaml:"global_options,omitempty"`
	Steps         []*Step       `yaml:"steps"`
}

// GlobalOptions carries manifest-level defaults that are not engine
// configuration (that lives in pkg/config) but travel with the build
// definition itself, e.g. env vars applied to every step.
type GlobalOptions struct {
	Env map[string]string `yaml:"env,omitempty"`
}

// Status is a Step's place in the C7 state machine.
type Status int

const (
	StatusPending Status = iota
	StatusReady
	StatusRunning
	StatusSucceeded
	StatusFailed
	StatusSkipped
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusReady:
		return "ready"
	case StatusRunning:
		return "running"
	case StatusSucceeded:
		return "succeeded"
	case StatusFailed:
		return "failed"
	case StatusSkipped:
		return "skipped"
	default:
		return "unknown"
	}
}

// Step is a named unit of work in the build DAG. Exactly one of Build-only,
// Run, or Remote describes what the step does; Commit/Push/PypiPush are
// optional terminal sub-records layered on top of a build or run result.
type Step struct {
	Name    string   `yaml:"-"`
	Depends []string `yaml:"depends,omitempty"`

	Build  *BuildSpec  `yaml:"build,omitempty"`
	Run    *RunSpec    `yaml:"run,omitempty"`
	Remote *RemoteSpec `yaml:"remote,omitempty"`

	Commit *CommitSpec `yaml:"commit,omitempty"`
	Push   *PushSpec   `yaml:"push,omitempty"`

	// Artifacts maps a path (joined onto /source; glob patterns are not
	// expanded) to its capture descriptor.
	Artifacts map[string]ArtifactSpec `yaml:"artifacts,omitempty"`

	// Xfail inverts success: the step succeeds only when the underlying
	// command exits nonzero.
	Xfail bool `yaml:"xfail,omitempty"`

	Status Status `yaml:"-"`
}

// IsBuildOnly reports whether the step only builds an image (no run stage).
func (s *Step) IsBuildOnly() bool { return s.Build != nil && s.Run == nil && s.Remote == nil }

// IsRunOnly reports whether the step runs a pre-existing image with no
// build stage of its own.
func (s *Step) IsRunOnly() bool { return s.Build == nil && s.Run != nil }

// IsBuildAndRun reports whether the step builds then runs that image.
func (s *Step) IsBuildAndRun() bool { return s.Build != nil && s.Run != nil }

// IsRemote reports whether the step delegates to a remote host, which
// replaces every other stage per spec.md §4.3.
func (s *Step) IsRemote() bool { return s.Remote != nil }

// ProducesImage reports whether successful completion of this step yields
// an image other steps may reference (spec.md §8 invariant on S -> T).
func (s *Step) ProducesImage() bool {
	return s.Build != nil || s.Commit != nil || s.Push != nil
}
