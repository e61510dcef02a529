package runner

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/buildrunner/buildrunner/pkg/buildctx"
	"github.com/buildrunner/buildrunner/pkg/config"
	"github.com/buildrunner/buildrunner/pkg/imageops"
	"github.com/buildrunner/buildrunner/pkg/manifest"
	"github.com/buildrunner/buildrunner/pkg/runtime"
	"github.com/buildrunner/buildrunner/pkg/scan"
	"github.com/buildrunner/buildrunner/pkg/vcsinfo"
)

func newOpts(t *testing.T, rt *runtime.Mock) (Options, *buildctx.Context) {
	t.Helper()
	cfg := &config.AppConfig{ConfigDir: t.TempDir(), UserConfig: &config.UserConfig{}}
	bc, err := buildctx.New(cfg, logrus.NewEntry(logrus.New()), buildctx.Options{
		Branch: "main", ShortSHA: "abc1234", StepNames: []string{"build"},
	})
	require.NoError(t, err)
	t.Cleanup(func() { bc.Close() })

	log := logrus.NewEntry(logrus.New())
	return Options{
		Runtime:  rt,
		Images:   imageops.New(rt, cfg.UserConfig, log),
		VCS:      vcsinfo.Info{Branch: "main"},
		Scanner:  scan.NoopScanner{Log: log},
		Uploader: scan.NoopUploader{Log: log},
		BuildCtx: bc,
		Log:      log,
	}, bc
}

func TestRunRunOnlyStepSucceeds(t *testing.T) {
	rt := runtime.NewMock()
	opts, _ := newOpts(t, rt)

	step := &manifest.Step{
		Name: "build",
		Run:  &manifest.RunSpec{ContainerSpec: manifest.ContainerSpec{Image: "app:latest"}},
	}

	res := Run(context.Background(), opts, step)
	assert.Equal(t, manifest.StatusSucceeded, res.Status)
	assert.Equal(t, 0, res.ExitCode)
}

func TestRunXfailInvertsNonZeroExit(t *testing.T) {
	rt := runtime.NewMock()
	rt.ExitCodes["buildrunner-build"] = 3
	opts, _ := newOpts(t, rt)

	step := &manifest.Step{
		Name:  "build",
		Run:   &manifest.RunSpec{ContainerSpec: manifest.ContainerSpec{Image: "app:latest", Cmd: "exit 3"}},
		Xfail: true,
	}

	res := Run(context.Background(), opts, step)
	assert.Equal(t, manifest.StatusSucceeded, res.Status)
}

func TestRunXfailFalseFailsOnNonZeroExit(t *testing.T) {
	rt := runtime.NewMock()
	rt.ExitCodes["buildrunner-build"] = 3
	opts, _ := newOpts(t, rt)

	step := &manifest.Step{
		Name: "build",
		Run:  &manifest.RunSpec{ContainerSpec: manifest.ContainerSpec{Image: "app:latest", Cmd: "exit 3"}},
	}

	res := Run(context.Background(), opts, step)
	assert.Equal(t, manifest.StatusFailed, res.Status)
	assert.Error(t, res.FailureErr)
}

func TestRunBuildOnlyPublishesImage(t *testing.T) {
	dirDockerfile := t.TempDir()
	rt := runtime.NewMock()
	opts, bc := newOpts(t, rt)
	opts.ManifestDir = dirDockerfile

	require.NoError(t, os.WriteFile(filepath.Join(dirDockerfile, "Dockerfile"), []byte("FROM scratch\n"), 0o644))

	step := &manifest.Step{Name: "build", Build: &manifest.BuildSpec{}}
	res := Run(context.Background(), opts, step)
	require.Equal(t, manifest.StatusSucceeded, res.Status)

	_, ok := bc.Image("build")
	assert.True(t, ok)
}

