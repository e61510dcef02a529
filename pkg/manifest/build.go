package manifest

// BuildSpec resolves to a Dockerfile-driven image build (spec.md §4.3
// "Build stage"). String-only manifest entries ("path/to/dir") decode to
// BuildSpec{Path: "path/to/dir"}; the map form sets any of the remaining
// fields.
type BuildSpec struct {
	// Path, when set, is overlaid into the build context before Inject.
	Path string `yaml:"path,omitempty"`
	// Inject maps a glob (relative to the manifest directory) to a
	// destination inside the build context. Injected files override Path
	// files at the same destination. A destination ending in "/" or "."
	// names a directory.
	Inject map[string]string `yaml:"inject,omitempty"`

	Dockerfile string `yaml:"dockerfile,omitempty"`

	// Import, when set, loads a prebuilt image archive verbatim; every
	// other field on this struct is then ignored.
	Import string `yaml:"import,omitempty"`

	NoCache   bool              `yaml:"no_cache,omitempty"`
	CacheFrom []string          `yaml:"cache_from,omitempty"`
	CacheTo   []string          `yaml:"cache_to,omitempty"`
	Pull      *bool             `yaml:"pull,omitempty"`
	Platforms []string          `yaml:"platforms,omitempty"`
	Buildargs map[string]string `yaml:"buildargs,omitempty"`
	Target    string            `yaml:"target,omitempty"`
}

// IsMultiPlatform reports whether this build must go through C6's
// multi-platform path.
func (b *BuildSpec) IsMultiPlatform() bool { return len(b.Platforms) > 1 }

// HasContext reports whether a build context (beyond the Dockerfile alone)
// should be assembled, per spec.md §4.3: "If neither path nor inject is
// provided, only the Dockerfile is sent."
func (b *BuildSpec) HasContext() bool { return b.Path != "" || len(b.Inject) > 0 }
