// Package session implements C9: walking a scheduler plan through the step
// runner sequentially, stopping new scheduling on the first non-xfail
// failure, running global LIFO teardown, and emitting build.json.
// Grounded on the teacher's pkg/app/app.go, which owns the equivalent
// single long-lived "drive everything, tear down on exit" responsibility
// for an interactive session instead of a batch build.
package session

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/buildrunner/buildrunner/pkg/buildctx"
	"github.com/buildrunner/buildrunner/pkg/buildrerr"
	"github.com/buildrunner/buildrunner/pkg/manifest"
	"github.com/buildrunner/buildrunner/pkg/runner"
	"github.com/buildrunner/buildrunner/pkg/runtime"
	"github.com/buildrunner/buildrunner/pkg/scheduler"
	"github.com/buildrunner/buildrunner/pkg/source"
)

// Exit codes, per spec.md §6: distinct codes for a plain failure,
// cancellation, and configuration errors, so calling scripts can tell them
// apart without parsing output.
const (
	ExitSuccess       = 0
	ExitStepFailure   = 1
	ExitCancelled     = 130
	ExitConfiguration = 78
)

// StepReport is one step's recorded outcome in build.json.
type StepReport struct {
	Name     string   `json:"name"`
	Status   string   `json:"status"`
	ExitCode int      `json:"exitCode"`
	Image    string   `json:"image,omitempty"`
	Tags     []string `json:"tags,omitempty"`
	Error    string   `json:"error,omitempty"`
}

// BuildReport is the top-level build.json document.
type BuildReport struct {
	BuildID   string       `json:"buildId"`
	DockerTag string       `json:"dockerTag"`
	StartedAt time.Time    `json:"startedAt"`
	Duration  string       `json:"duration"`
	Status    string       `json:"status"`
	Steps     []StepReport `json:"steps"`
}

// Options bundles a session's fixed collaborators.
type Options struct {
	ManifestDir string
	Subset      []string

	Push              bool
	LocalImages       bool
	CleanupImages     bool
	PublishPorts      bool
	KeepStepArtifacts bool

	RunnerOpts runner.Options

	BuildCtx *buildctx.Context
	Snapshot *source.Snapshot
	Runtime  runtime.ContainerRuntime
	Log      *logrus.Entry
}

// Session drives one build from a loaded manifest to completion.
type Session struct {
	opts Options
}

func New(opts Options) *Session { return &Session{opts: opts} }

// Run schedules m, drives each step through pkg/runner in order, and
// returns the process exit code plus a completed BuildReport. On the
// first non-xfail step failure, scheduling stops and teardown proceeds —
// independent already-scheduled steps are not rolled back, but nothing
// new is started.
func (s *Session) Run(ctx context.Context, m *manifest.Manifest) (int, *BuildReport, error) {
	start := time.Now()
	report := &BuildReport{
		BuildID:   s.opts.BuildCtx.BuildID,
		DockerTag: s.opts.BuildCtx.DockerTag,
		StartedAt: start,
	}

	var teardown []func(context.Context) error
	defer func() {
		for i := len(teardown) - 1; i >= 0; i-- {
			if err := teardown[i](context.Background()); err != nil {
				s.opts.Log.WithError(err).Warn("global teardown step failed")
			}
		}
	}()
	if s.opts.Snapshot != nil {
		teardown = append(teardown, func(context.Context) error { return s.opts.Snapshot.Close() })
	}
	teardown = append(teardown, func(context.Context) error { return s.opts.BuildCtx.Close() })
	if s.opts.Runtime != nil {
		teardown = append(teardown, func(context.Context) error { return s.opts.Runtime.Close() })
	}

	plan, err := scheduler.Schedule(m, s.opts.Subset)
	if err != nil {
		report.Status = "configuration_error"
		return ExitConfiguration, report, err
	}

	byName := make(map[string]*manifest.Step, len(m.Steps))
	for _, step := range m.Steps {
		byName[step.Name] = step
	}

	overallStatus := "succeeded"
	cancelled := false

	for _, name := range plan.Order {
		select {
		case <-ctx.Done():
			cancelled = true
		default:
		}
		step := byName[name]
		if cancelled || overallStatus == "failed" {
			step.Status = manifest.StatusSkipped
			report.Steps = append(report.Steps, StepReport{Name: name, Status: "skipped"})
			continue
		}

		if blockedByFailedDependency(step, byName) {
			step.Status = manifest.StatusSkipped
			report.Steps = append(report.Steps, StepReport{Name: name, Status: "skipped"})
			continue
		}

		res := runner.Run(ctx, s.opts.RunnerOpts, step)
		step.Status = res.Status

		sr := StepReport{Name: name, Status: res.Status.String(), ExitCode: res.ExitCode, Image: res.ImageRef, Tags: res.Tags}
		if res.FailureErr != nil {
			sr.Error = res.FailureErr.Error()
		}
		report.Steps = append(report.Steps, sr)

		if res.Status == manifest.StatusFailed {
			if buildrerr.HasKind(res.FailureErr, buildrerr.Cancellation) {
				cancelled = true
				overallStatus = "cancelled"
			} else {
				overallStatus = "failed"
			}
		}
	}

	if cancelled && overallStatus != "failed" {
		overallStatus = "cancelled"
	}

	report.Status = overallStatus
	report.Duration = time.Since(start).String()

	if err := s.writeReport(report); err != nil {
		s.opts.Log.WithError(err).Warn("failed to write build.json")
	}

	switch overallStatus {
	case "succeeded":
		return ExitSuccess, report, nil
	case "cancelled":
		return ExitCancelled, report, nil
	default:
		return ExitStepFailure, report, nil
	}
}

// blockedByFailedDependency reports whether any of step's explicit
// `depends` entries failed or was skipped, per spec.md §8's "if S failed,
// T does not execute" invariant. Implicit image-reference dependencies are
// not consulted here.
func blockedByFailedDependency(step *manifest.Step, byName map[string]*manifest.Step) bool {
	for _, dep := range step.Depends {
		d, ok := byName[dep]
		if !ok {
			continue
		}
		if d.Status == manifest.StatusFailed || d.Status == manifest.StatusSkipped {
			return true
		}
	}
	return false
}

func (s *Session) writeReport(report *BuildReport) error {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(s.opts.BuildCtx.ResultsDir, "build.json"), data, 0o644)
}
