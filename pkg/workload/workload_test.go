package workload

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/buildrunner/buildrunner/pkg/buildctx"
	"github.com/buildrunner/buildrunner/pkg/cache"
	"github.com/buildrunner/buildrunner/pkg/config"
	"github.com/buildrunner/buildrunner/pkg/manifest"
	"github.com/buildrunner/buildrunner/pkg/runtime"
	"github.com/buildrunner/buildrunner/pkg/vcsinfo"
)

func newTestBuildCtx(t *testing.T) *buildctx.Context {
	t.Helper()
	cfg := &config.AppConfig{ConfigDir: t.TempDir(), UserConfig: &config.UserConfig{}}
	bc, err := buildctx.New(cfg, logrus.NewEntry(logrus.New()), buildctx.Options{
		Branch: "main", ShortSHA: "abc1234", StepNames: []string{"build"},
	})
	require.NoError(t, err)
	t.Cleanup(func() { bc.Close() })
	return bc
}

func TestBuildStartsServicesBeforePrimaryInOrder(t *testing.T) {
	rt := runtime.NewMock()
	bc := newTestBuildCtx(t)

	run := &manifest.RunSpec{
		ContainerSpec: manifest.ContainerSpec{Image: "app:latest"},
		Services: []manifest.ServiceSpec{
			{Name: "db", ContainerSpec: manifest.ContainerSpec{Image: "postgres:16"}},
		},
	}

	g, err := Build(context.Background(), Options{
		Step: "build", Run: run, BuildCtx: bc, Runtime: rt,
		VCS: vcsinfo.Info{Branch: "main"}, Log: logrus.NewEntry(logrus.New()),
	})
	require.NoError(t, err)
	defer g.Close(context.Background())

	require.Len(t, g.Services, 1)
	assert.Equal(t, "db", g.Services[0].Name)
	assert.NotEmpty(t, g.Primary.ID)
	assert.True(t, rt.Containers[g.Services[0].ID].Started)
	assert.True(t, rt.Containers[g.Primary.ID].Started)
}

func TestBuildRejectsVolumesFromLaterService(t *testing.T) {
	rt := runtime.NewMock()
	bc := newTestBuildCtx(t)

	run := &manifest.RunSpec{
		ContainerSpec: manifest.ContainerSpec{Image: "app:latest", VolumesFrom: []string{"cache"}},
		Services: []manifest.ServiceSpec{
			{Name: "cache", ContainerSpec: manifest.ContainerSpec{Image: "redis:7"}},
		},
	}

	_, err := Build(context.Background(), Options{
		Step: "build", Run: run, BuildCtx: bc, Runtime: rt,
		VCS: vcsinfo.Info{}, Log: logrus.NewEntry(logrus.New()),
	})
	assert.NoError(t, err) // cache is declared before the primary, so this is allowed
}

func TestBuildRestoresAndRecordsCacheMount(t *testing.T) {
	rt := runtime.NewMock()
	bc := newTestBuildCtx(t)

	store := cache.NewStore(t.TempDir())
	seed := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(seed, "hit.txt"), []byte("cached"), 0o644))
	require.NoError(t, store.Save("deps-v1", seed))

	run := &manifest.RunSpec{
		ContainerSpec: manifest.ContainerSpec{
			Image:     "app:latest",
			CachesRaw: map[string]any{"/root/.cache": "deps-v1"},
		},
	}

	g, err := Build(context.Background(), Options{
		Step: "build", Run: run, BuildCtx: bc, Runtime: rt, Cache: store,
		VCS: vcsinfo.Info{}, Log: logrus.NewEntry(logrus.New()),
	})
	require.NoError(t, err)
	defer g.Close(context.Background())

	require.Len(t, g.Caches, 1)
	data, err := os.ReadFile(filepath.Join(g.Caches[0].Dir, "hit.txt"))
	require.NoError(t, err)
	assert.Equal(t, "cached", string(data))

	g.SaveCaches(store)
	_, ok, err := store.Restore([]string{"deps-v1"}, t.TempDir())
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestBuildRejectsUnknownVolumesFrom(t *testing.T) {
	rt := runtime.NewMock()
	bc := newTestBuildCtx(t)

	run := &manifest.RunSpec{
		ContainerSpec: manifest.ContainerSpec{Image: "app:latest", VolumesFrom: []string{"ghost"}},
	}

	_, err := Build(context.Background(), Options{
		Step: "build", Run: run, BuildCtx: bc, Runtime: rt,
		VCS: vcsinfo.Info{}, Log: logrus.NewEntry(logrus.New()),
	})
	assert.Error(t, err)
}
