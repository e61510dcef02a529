// Package config handles engine configuration: the process-level AppConfig
// (debug flag, version stamps, config directory) and the user-editable
// UserConfig (cache root, registry mirrors, per-platform builder mapping),
// following the teacher's app_config.go/user_config.go split.
package config

// UserConfig holds the options an operator edits in config.yml. Unlike a
// manifest (which describes one build), this describes how the engine
// behaves across every build it runs on a given host.
type UserConfig struct {
	// Cache configures pkg/cache's on-disk store.
	Cache CacheConfig `yaml:"cache,omitempty"`

	// Registry configures default push/pull behavior against image
	// registries.
	Registry RegistryConfig `yaml:"registry,omitempty"`

	// Platforms maps a platform string (e.g. "linux/arm64") to the name
	// of a builder. pkg/imageops looks the platform up only to log when no
	// builder is pinned; the builder name is not passed to the runtime, so
	// every platform is built through the same ContainerRuntime.
	Platforms map[string]string `yaml:"platforms,omitempty"`

	// Build holds engine-wide defaults applied to every step unless a
	// manifest overrides them.
	Build BuildDefaults `yaml:"build,omitempty"`
}

// CacheConfig configures the host-side cache store (C2).
type CacheConfig struct {
	// Root is the directory cache archives are stored under. Defaults to
	// ~/.buildrunner/caches.
	Root string `yaml:"root,omitempty"`
}

// RegistryConfig configures default registry behavior.
type RegistryConfig struct {
	// Mirror is loaded from config.yml and merged like every other field;
	// no pull or push path reads it, so image references always go to the
	// registry they name.
	Mirror string `yaml:"mirror,omitempty"`

	// DefaultRepository is prefixed onto bare commit/push repository
	// names, i.e. names that contain no "/" at all.
	DefaultRepository string `yaml:"defaultRepository,omitempty"`
}

// BuildDefaults are engine-wide defaults layered under manifest values.
type BuildDefaults struct {
	// DisableMultiPlatform forces every build onto the single-platform
	// path regardless of what a manifest's `platforms` list requests —
	// useful on a host without a configured multi-arch builder.
	DisableMultiPlatform bool `yaml:"disableMultiPlatform,omitempty"`

	// TempDir overrides the directory used for scratch build contexts,
	// source snapshots, and artifact staging. Defaults to os.TempDir().
	TempDir string `yaml:"tempDir,omitempty"`

	// DefaultShell is used to wrap Cmd/Cmds when a container doesn't
	// specify one of its own.
	DefaultShell string `yaml:"defaultShell,omitempty"`
}

// GetDefaultConfig returns the engine's baked-in defaults, merged under
// whatever the user's config.yml supplies. Following the teacher's
// "don't default a boolean to true" note: every bool here defaults false,
// since omitempty would otherwise silently drop an explicit false set by
// the user during the merge.
func GetDefaultConfig() UserConfig {
	return UserConfig{
		Cache: CacheConfig{},
		Registry: RegistryConfig{},
		Platforms: map[string]string{},
		Build: BuildDefaults{
			DefaultShell: "/bin/sh",
		},
	}
}
