package artifacts

// Format is the top-level archive policy for one artifact pattern.
type Format string

const (
	// FormatFile streams a single file out, optionally renamed.
	FormatFile Format = "file"
	// FormatArchived tars (or zips) a directory.
	FormatArchived Format = "archived"
	// FormatUncompressed mirrors a directory verbatim into results.
	FormatUncompressed Format = "uncompressed"
)

// ArchiveType selects the container format for FormatArchived.
type ArchiveType string

const (
	ArchiveTar ArchiveType = "tar"
	ArchiveZip ArchiveType = "zip"
)

// Descriptor is one entry of an Artifact Record (spec.md §3): a source
// glob, resolved inside the container's /source tree, mapped to an output
// policy.
type Descriptor struct {
	// Glob is joined onto /source (not onto the step's CWD) and copied out
	// as one path; glob patterns in it are not expanded.
	Glob string

	Format      Format
	ArchiveType ArchiveType
	Compression Codec

	// Rename overrides the produced file's base name.
	Rename string

	// Push controls inclusion in the artifacts.json sidecar; false
	// still captures the file but omits its sidecar entry.
	Push bool

	Metadata map[string]string
}

// EffectiveArchiveType defaults to tar, per spec.md §4.6.
func (d Descriptor) EffectiveArchiveType() ArchiveType {
	if d.ArchiveType == "" {
		return ArchiveTar
	}
	return d.ArchiveType
}

// EffectiveCompression defaults to gzip for tar archives and is ignored
// for zip, per spec.md §4.6 ("zip via type: zip (compression ignored)").
func (d Descriptor) EffectiveCompression() Codec {
	if d.EffectiveArchiveType() == ArchiveZip {
		return CodecNone
	}
	if d.Compression == "" && d.Format == FormatArchived {
		return CodecGzip
	}
	return d.Compression
}

// OutputName returns the produced file's base name, honoring Rename and
// appending the conventional archive+compression suffix.
func (d Descriptor) OutputName(defaultName string) string {
	name := defaultName
	if d.Rename != "" {
		name = d.Rename
	}
	if d.Format != FormatArchived {
		return name
	}
	if d.EffectiveArchiveType() == ArchiveZip {
		return name + ".zip"
	}
	suffix := ".tar"
	if c := d.EffectiveCompression(); c != CodecNone {
		suffix += "." + string(c)
	}
	return name + suffix
}
