package imageops

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/buildrunner/buildrunner/pkg/config"
	"github.com/buildrunner/buildrunner/pkg/manifest"
	"github.com/buildrunner/buildrunner/pkg/runtime"
)

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}

func TestBuildSinglePlatformProducesOneImage(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "Dockerfile", "FROM scratch\n")

	rt := runtime.NewMock()
	ops := New(rt, &config.UserConfig{}, logrus.NewEntry(logrus.New()))

	result, err := ops.Build(context.Background(), "build", &manifest.BuildSpec{}, dir, []string{"app:v1"})
	require.NoError(t, err)
	assert.Len(t, result.ImageIDs, 1)
}

func TestBuildMultiPlatformFansOutPerPlatform(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "Dockerfile", "FROM scratch\n")

	rt := runtime.NewMock()
	ops := New(rt, &config.UserConfig{}, logrus.NewEntry(logrus.New()))

	spec := &manifest.BuildSpec{Platforms: []string{"linux/amd64", "linux/arm64"}}
	result, err := ops.Build(context.Background(), "build", spec, dir, []string{"app:v1"})
	require.NoError(t, err)
	assert.Len(t, result.ImageIDs, 2)
	assert.Contains(t, result.ImageIDs, "linux/amd64")
	assert.Contains(t, result.ImageIDs, "linux/arm64")
}

func TestBuildMultiPlatformRejectedWhenDisabled(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "Dockerfile", "FROM scratch\n")

	rt := runtime.NewMock()
	cfg := &config.UserConfig{Build: config.BuildDefaults{DisableMultiPlatform: true}}
	ops := New(rt, cfg, logrus.NewEntry(logrus.New()))

	spec := &manifest.BuildSpec{Platforms: []string{"linux/amd64", "linux/arm64"}}
	_, err := ops.Build(context.Background(), "build", spec, dir, []string{"app:v1"})
	assert.Error(t, err)
}

func TestCommitAppliesBuildTagByDefault(t *testing.T) {
	rt := runtime.NewMock()
	ops := New(rt, &config.UserConfig{}, logrus.NewEntry(logrus.New()))

	id, tags, err := ops.Commit(context.Background(), "build", "container-1", &manifest.CommitSpec{Repository: "myapp"}, "main-abc1234-123")
	require.NoError(t, err)
	assert.NotEmpty(t, id)
	assert.Equal(t, []string{"main-abc1234-123"}, tags)
}

func TestCommitCombinesExplicitAndBuildTags(t *testing.T) {
	rt := runtime.NewMock()
	ops := New(rt, &config.UserConfig{}, logrus.NewEntry(logrus.New()))

	addBuildTag := true
	spec := &manifest.CommitSpec{Repository: "myapp", Tags: []string{"latest"}, AddBuildTag: &addBuildTag}
	_, tags, err := ops.Commit(context.Background(), "build", "container-1", spec, "main-abc1234-123")
	require.NoError(t, err)
	assert.Equal(t, []string{"latest", "main-abc1234-123"}, tags)
}

func TestPushQualifiesBareRepositoryWithDefault(t *testing.T) {
	rt := runtime.NewMock()
	cfg := &config.UserConfig{Registry: config.RegistryConfig{DefaultRepository: "registry.example.com/team"}}
	ops := New(rt, cfg, logrus.NewEntry(logrus.New()))

	tags, err := ops.Push(context.Background(), "build", &manifest.PushSpec{Repository: "myapp"}, "main-abc1234-123")
	require.NoError(t, err)
	assert.Equal(t, []string{"main-abc1234-123"}, tags)
	assert.Equal(t, "registry.example.com/team/myapp", ops.qualify("myapp"))
}
