package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadUserConfigMergesOverDefaults(t *testing.T) {
	dir := t.TempDir()
	err := os.WriteFile(filepath.Join(dir, "config.yml"), []byte(`
registry:
  mirror: mirror.example.com
build:
  disableMultiPlatform: true
`), 0o644)
	require.NoError(t, err)

	cfg, err := loadUserConfigWithDefaults(dir)
	require.NoError(t, err)

	assert.Equal(t, "mirror.example.com", cfg.Registry.Mirror)
	assert.True(t, cfg.Build.DisableMultiPlatform)
	assert.Equal(t, "/bin/sh", cfg.Build.DefaultShell)
}

func TestCacheRootDefaultsUnderHomeDir(t *testing.T) {
	ac := &AppConfig{ConfigDir: "/tmp/buildrunner-test", UserConfig: &UserConfig{}}
	home, _ := os.UserHomeDir()
	assert.Equal(t, filepath.Join(home, ".buildrunner", "caches"), ac.CacheRoot())

	ac.UserConfig.Cache.Root = "/var/cache/buildrunner"
	assert.Equal(t, "/var/cache/buildrunner", ac.CacheRoot())
}
