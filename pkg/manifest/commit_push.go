package manifest

// CommitSpec names the image a step's final container state is committed
// to, per spec.md §4.3 "Commit stage". Tags are templated with the build
// id by the caller; this package only stores what the manifest wrote.
type CommitSpec struct {
	Repository string   `yaml:"repository"`
	Tags       []string `yaml:"tags,omitempty"`

	// AddBuildTag, when true (the default — nil means true), adds a tag
	// derived from the build id alongside any explicit Tags.
	AddBuildTag *bool `yaml:"add_build_tag,omitempty"`
}

// EffectiveAddBuildTag resolves the *bool default per spec.md §4.3.
func (c *CommitSpec) EffectiveAddBuildTag() bool {
	if c.AddBuildTag == nil {
		return true
	}
	return *c.AddBuildTag
}

// WillHaveAnyTag reports whether the resolved image will carry at least
// one tag, accounting for the build-id tag when enabled. A commit spec
// that resolves to zero tags is rejected at validation time (open
// question #1): silently tagging ":latest" is never the right default for
// an artifact an operator plans to push.
func (c *CommitSpec) WillHaveAnyTag() bool {
	return c.EffectiveAddBuildTag() || len(c.Tags) > 0
}

// PushSpec pushes a committed (or built) image to a registry, per
// spec.md §4.3 "Push stage". It shares the same tag-resolution rules as
// CommitSpec, including the rejection of an empty tag set.
type PushSpec struct {
	Repository string   `yaml:"repository"`
	Tags       []string `yaml:"tags,omitempty"`

	AddBuildTag *bool `yaml:"add_build_tag,omitempty"`

	// Platforms is decoded from the manifest but not read by the push
	// stage, which pushes each resolved repository:tag as is.
	Platforms []string `yaml:"platforms,omitempty"`
}

func (p *PushSpec) EffectiveAddBuildTag() bool {
	if p.AddBuildTag == nil {
		return true
	}
	return *p.AddBuildTag
}

func (p *PushSpec) WillHaveAnyTag() bool {
	return p.EffectiveAddBuildTag() || len(p.Tags) > 0
}
