package manifest

// ArtifactSpec is one entry in a step's `artifacts:` map, keyed by a path
// joined onto the container's /source (not onto the step's cwd). The key is
// copied out as one path; glob patterns in it are not expanded.
type ArtifactSpec struct {
	// Format is "archived", "uncompressed", or left empty for a single
	// file, which is streamed out. An empty Format is treated as a single
	// file whether the path is a file or a directory.
	Format string `yaml:"format,omitempty"`

	// Type selects "tar" (default) or "zip" when Format is "archived".
	Type string `yaml:"type,omitempty"`

	// Compression names a codec (gz|bz2|xz|lzma|lzip|lzop|z); ignored for
	// zip. Defaults to gz for a tar archive.
	Compression string `yaml:"compression,omitempty"`

	Rename string `yaml:"rename,omitempty"`

	// Push controls inclusion in the artifacts.json sidecar; defaults to
	// true (nil means true, matching the commit/push AddBuildTag pattern).
	Push *bool `yaml:"push,omitempty"`

	Metadata map[string]string `yaml:"metadata,omitempty"`
}

// EffectivePush resolves the *bool default.
func (a *ArtifactSpec) EffectivePush() bool {
	if a.Push == nil {
		return true
	}
	return *a.Push
}
