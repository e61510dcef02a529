package config

import (
	"os"
	"path/filepath"

	"github.com/OpenPeeDeeP/xdg"
	"github.com/imdario/mergo"
	yaml "github.com/jesseduffield/yaml"
)

// AppConfig carries the process-level identity of a buildrunner
// invocation: version stamps baked in at link time, the debug flag, and
// where on disk its config/cache directories live. It is distinct from
// UserConfig, which is the merged, user-editable engine configuration.
type AppConfig struct {
	Debug     bool
	Version   string
	Commit    string
	BuildDate string

	// BuildID identifies one invocation of the engine; pkg/buildctx
	// derives docker tags and result paths from it.
	BuildID string

	ConfigDir  string
	UserConfig *UserConfig
}

// NewAppConfig discovers the config directory, loads config.yml merged
// over the built-in defaults, and returns a ready-to-use AppConfig.
func NewAppConfig(version, commit, buildDate, buildID string, debug bool) (*AppConfig, error) {
	configDir, err := findOrCreateConfigDir()
	if err != nil {
		return nil, err
	}

	userConfig, err := loadUserConfigWithDefaults(configDir)
	if err != nil {
		return nil, err
	}

	return &AppConfig{
		Debug:      debug || os.Getenv("DEBUG") == "TRUE",
		Version:    version,
		Commit:     commit,
		BuildDate:  buildDate,
		BuildID:    buildID,
		ConfigDir:  configDir,
		UserConfig: userConfig,
	}, nil
}

func configDir() string {
	if dir := os.Getenv("BUILDRUNNER_CONFIG_DIR"); dir != "" {
		return dir
	}
	dirs := xdg.New("", "buildrunner")
	return dirs.ConfigHome()
}

func findOrCreateConfigDir() (string, error) {
	dir := configDir()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	return dir, nil
}

// ConfigFilename is the path to the user-editable config.yml.
func (c *AppConfig) ConfigFilename() string {
	return filepath.Join(c.ConfigDir, "config.yml")
}

// CacheRoot resolves UserConfig.Cache.Root, defaulting to
// ~/.buildrunner/caches when the user hasn't set one.
func (c *AppConfig) CacheRoot() string {
	if c.UserConfig.Cache.Root != "" {
		return c.UserConfig.Cache.Root
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".buildrunner", "caches")
}

func loadUserConfigWithDefaults(configDir string) (*UserConfig, error) {
	base := GetDefaultConfig()
	return loadUserConfig(configDir, &base)
}

// loadUserConfig reads config.yml (creating an empty one if absent) and
// merges it over base — base's zero values lose to any value the file
// sets, matching the teacher's merge-over-defaults approach but using
// mergo rather than a bespoke merge, since buildrunner's config tree is
// deep enough that mergo's reflection-driven merge pulls its weight.
func loadUserConfig(configDir string, base *UserConfig) (*UserConfig, error) {
	fileName := filepath.Join(configDir, "config.yml")

	if _, err := os.Stat(fileName); err != nil {
		if !os.IsNotExist(err) {
			return nil, err
		}
		if f, err := os.Create(fileName); err != nil {
			return nil, err
		} else {
			f.Close()
		}
	}

	content, err := os.ReadFile(fileName)
	if err != nil {
		return nil, err
	}

	var fromFile UserConfig
	if err := yaml.Unmarshal(content, &fromFile); err != nil {
		return nil, err
	}

	if err := mergo.Merge(base, fromFile, mergo.WithOverride); err != nil {
		return nil, err
	}

	return base, nil
}

// WriteToUserConfig applies a mutation to the on-disk config.yml,
// reloading it fresh (not merged over defaults) so that unset fields
// aren't persisted as explicit zero values.
func (c *AppConfig) WriteToUserConfig(mutate func(*UserConfig) error) error {
	var current UserConfig
	content, err := os.ReadFile(c.ConfigFilename())
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	if err := yaml.Unmarshal(content, &current); err != nil {
		return err
	}
	if err := mutate(&current); err != nil {
		return err
	}

	f, err := os.OpenFile(c.ConfigFilename(), os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	return yaml.NewEncoder(f).Encode(current)
}
