package session

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/buildrunner/buildrunner/pkg/buildctx"
	"github.com/buildrunner/buildrunner/pkg/config"
	"github.com/buildrunner/buildrunner/pkg/imageops"
	"github.com/buildrunner/buildrunner/pkg/manifest"
	"github.com/buildrunner/buildrunner/pkg/runner"
	"github.com/buildrunner/buildrunner/pkg/runtime"
	"github.com/buildrunner/buildrunner/pkg/scan"
)

func newSession(t *testing.T, rt *runtime.Mock, stepNames []string) (*Session, *buildctx.Context) {
	t.Helper()
	cfg := &config.AppConfig{ConfigDir: t.TempDir(), UserConfig: &config.UserConfig{}}
	log := logrus.NewEntry(logrus.New())
	bc, err := buildctx.New(cfg, log, buildctx.Options{Branch: "main", ShortSHA: "abc1234", StepNames: stepNames})
	require.NoError(t, err)
	t.Cleanup(func() { bc.Close() })

	opts := Options{
		RunnerOpts: runner.Options{
			Runtime:  rt,
			Images:   imageops.New(rt, cfg.UserConfig, log),
			Scanner:  scan.NoopScanner{Log: log},
			Uploader: scan.NoopUploader{Log: log},
			BuildCtx: bc,
			Log:      log,
		},
		BuildCtx: bc,
		Runtime:  rt,
		Log:      log,
	}
	return New(opts), bc
}

func TestRunStopsSchedulingAfterFailure(t *testing.T) {
	rt := runtime.NewMock()
	rt.ExitCodes["buildrunner-b"] = 1
	s, bc := newSession(t, rt, []string{"a", "b", "c"})

	m := &manifest.Manifest{
		Version: "2.0",
		Steps: []*manifest.Step{
			{Name: "a", Run: &manifest.RunSpec{ContainerSpec: manifest.ContainerSpec{Image: "x"}}},
			{Name: "b", Depends: []string{"a"}, Run: &manifest.RunSpec{ContainerSpec: manifest.ContainerSpec{Image: "x"}}},
			{Name: "c", Depends: []string{"b"}, Run: &manifest.RunSpec{ContainerSpec: manifest.ContainerSpec{Image: "x"}}},
		},
	}

	code, report, err := s.Run(context.Background(), m)
	require.NoError(t, err)
	assert.Equal(t, ExitStepFailure, code)
	assert.Equal(t, "failed", report.Status)

	byName := map[string]string{}
	for _, sr := range report.Steps {
		byName[sr.Name] = sr.Status
	}
	want := map[string]string{"a": "succeeded", "b": "failed", "c": "skipped"}
	if d := cmp.Diff(want, byName); d != "" {
		t.Fatalf("step statuses mismatch (-want +got):\n%s", d)
	}

	data, err := os.ReadFile(filepath.Join(bc.ResultsDir, "build.json"))
	require.NoError(t, err)
	var decoded BuildReport
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, "failed", decoded.Status)
}

func TestRunAllStepsSucceed(t *testing.T) {
	rt := runtime.NewMock()
	s, _ := newSession(t, rt, []string{"a", "b"})

	m := &manifest.Manifest{
		Version: "2.0",
		Steps: []*manifest.Step{
			{Name: "a", Run: &manifest.RunSpec{ContainerSpec: manifest.ContainerSpec{Image: "x"}}},
			{Name: "b", Depends: []string{"a"}, Run: &manifest.RunSpec{ContainerSpec: manifest.ContainerSpec{Image: "x"}}},
		},
	}

	code, report, err := s.Run(context.Background(), m)
	require.NoError(t, err)
	assert.Equal(t, ExitSuccess, code)
	assert.Equal(t, "succeeded", report.Status)
}

func TestRunRejectsCycleAsConfigurationError(t *testing.T) {
	rt := runtime.NewMock()
	s, _ := newSession(t, rt, []string{"a", "b"})

	m := &manifest.Manifest{
		Version: "2.0",
		Steps: []*manifest.Step{
			{Name: "a", Depends: []string{"b"}, Run: &manifest.RunSpec{ContainerSpec: manifest.ContainerSpec{Image: "x"}}},
			{Name: "b", Depends: []string{"a"}, Run: &manifest.RunSpec{ContainerSpec: manifest.ContainerSpec{Image: "x"}}},
		},
	}

	code, _, err := s.Run(context.Background(), m)
	assert.Equal(t, ExitConfiguration, code)
	assert.Error(t, err)
}
