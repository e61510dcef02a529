// Package runner implements C7: driving one step through
// pending → building? → running? → capturing? → committing? → pushing? →
// done|failed, funneling every stage's error through a single failure
// path that still runs teardown, per spec.md §4.3. Grounded on the
// teacher's own multi-stage command sequencing in pkg/commands
// (OSCommand.RunCommand chains plus its error-return-then-cleanup
// convention), generalized from "one docker CLI invocation" to "a whole
// step's stage sequence."
package runner

import (
	"context"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"

	"github.com/buildrunner/buildrunner/pkg/artifacts"
	"github.com/buildrunner/buildrunner/pkg/buildctx"
	"github.com/buildrunner/buildrunner/pkg/buildrerr"
	"github.com/buildrunner/buildrunner/pkg/cache"
	"github.com/buildrunner/buildrunner/pkg/imageops"
	"github.com/buildrunner/buildrunner/pkg/manifest"
	"github.com/buildrunner/buildrunner/pkg/remotehost"
	"github.com/buildrunner/buildrunner/pkg/runtime"
	"github.com/buildrunner/buildrunner/pkg/scan"
	"github.com/buildrunner/buildrunner/pkg/source"
	"github.com/buildrunner/buildrunner/pkg/vcsinfo"
	"github.com/buildrunner/buildrunner/pkg/workload"
)

// Options carries everything constant across a build that Run needs but
// isn't the step itself.
type Options struct {
	ManifestDir       string
	Push              bool
	LocalImages       bool
	CleanupImages     bool
	KeepStepArtifacts bool

	Runtime  runtime.ContainerRuntime
	Images   *imageops.Ops
	Snapshot *source.Snapshot
	Remote   remotehost.Runner
	Cache    *cache.Store
	VCS      vcsinfo.Info
	Scanner  scan.VulnerabilityScanner
	Uploader scan.PackageIndexUploader

	BuildCtx *buildctx.Context
	Log      *logrus.Entry
}

// Result is one step's outcome, recorded into the session's build report.
type Result struct {
	Step       string
	Status     manifest.Status
	ExitCode   int
	ImageRef   string
	Tags       []string
	FailureErr error
}

// Run drives step through its applicable stages and always runs its
// cleanup stack before returning, regardless of outcome.
func Run(ctx context.Context, opts Options, step *manifest.Step) *Result {
	log := opts.Log.WithField("step", step.Name)
	res := &Result{Step: step.Name}

	var cleanup []func(context.Context) error
	defer func() {
		for i := len(cleanup) - 1; i >= 0; i-- {
			if err := cleanup[i](ctx); err != nil {
				log.WithError(err).Warn("cleanup step failed")
			}
		}
	}()

	if step.IsRemote() {
		return runRemote(ctx, opts, step, res, log)
	}

	var runImage string

	if step.Build != nil {
		step.Status = manifest.StatusRunning
		tags := buildTags(opts, step)
		buildResult, err := opts.Images.Build(ctx, step.Name, step.Build, opts.ManifestDir, tags)
		if err != nil {
			return fail(res, step, err)
		}
		if id, ok := buildResult.ImageIDs[""]; ok {
			runImage = id
		}
		if step.Run == nil {
			opts.BuildCtx.PublishImage(step.Name, buildctx.ImageRef{Ref: runImage, Platforms: buildResult.Platforms})
		}
	}

	var containerID string
	var exitCode int

	if step.Run != nil {
		run := step.Run
		if run.Image == "" {
			run.Image = runImage
		}
		pull := !opts.LocalImages
		if _, published := opts.BuildCtx.Image(run.Image); published {
			pull = false
		}
		if err := opts.Runtime.PullImage(ctx, run.Image, pull); err != nil {
			log.WithError(err).Debug("pull skipped or failed; continuing with local image if present")
		}

		graph, err := workload.Build(ctx, workload.Options{
			Step: step.Name, Run: run, BuildCtx: opts.BuildCtx, Snapshot: opts.Snapshot,
			VCS: opts.VCS, Runtime: opts.Runtime, Cache: opts.Cache, Log: log,
		})
		if err != nil {
			return fail(res, step, err)
		}
		cleanup = append(cleanup, graph.Close)
		containerID = graph.Primary.ID

		code, err := opts.Runtime.WaitContainer(ctx, containerID)
		if err != nil {
			return fail(res, step, buildrerr.Wrap(buildrerr.Resource, step.Name, "run", err))
		}
		exitCode = code

		succeeded := code == 0
		if step.Xfail {
			succeeded = code != 0
		}
		if !succeeded {
			return fail(res, step, buildrerr.New(buildrerr.Execution, step.Name, "run",
				"container exited with an unexpected status for its xfail setting"))
		}

		graph.SaveCaches(opts.Cache)

		if len(step.Artifacts) > 0 {
			arch := &artifacts.Archiver{
				Source:      opts.Runtime,
				ContainerID: containerID,
				ResultsDir:  opts.BuildCtx.ResultsDir,
				Step:        step.Name,
				Log:         log,
			}
			if err := arch.Capture(ctx, toDescriptors(step.Artifacts)); err != nil {
				return fail(res, step, err)
			}
			opts.BuildCtx.PublishArtifacts(step.Name, step.Name)
		}
	}

	if step.Commit != nil || step.Push != nil {
		var resultImageID string
		needsPushTagging := false

		switch {
		case containerID != "":
			// spec.md §4.3: the run container's final state, committed
			// first. Use the commit spec's tags when given; otherwise
			// borrow the push spec's, since a push-only step with a run
			// stage still needs something to commit the container into.
			spec := step.Commit
			if spec == nil {
				spec = &manifest.CommitSpec{Repository: step.Push.Repository, Tags: step.Push.Tags, AddBuildTag: step.Push.AddBuildTag}
			}
			id, tags, err := opts.Images.Commit(ctx, step.Name, containerID, spec, opts.BuildCtx.DockerTag)
			if err != nil {
				return fail(res, step, err)
			}
			resultImageID = id
			res.Tags = append(res.Tags, tags...)
			opts.BuildCtx.PublishImage(step.Name, buildctx.ImageRef{Ref: spec.Repository})

		case step.Commit != nil:
			resultImageID = runImage
			tags, err := opts.Images.TagExisting(ctx, step.Name, resultImageID, step.Commit.Repository, step.Commit.Tags, step.Commit.EffectiveAddBuildTag(), opts.BuildCtx.DockerTag)
			if err != nil {
				return fail(res, step, err)
			}
			res.Tags = append(res.Tags, tags...)
			opts.BuildCtx.PublishImage(step.Name, buildctx.ImageRef{Ref: step.Commit.Repository})

		default:
			resultImageID = runImage
			needsPushTagging = true
		}

		if step.Push != nil && opts.Push {
			report, err := opts.Scanner.Scan(ctx, step.Name, step.Push.Repository)
			if err != nil || !report.Clean {
				return fail(res, step, buildrerr.New(buildrerr.Integration, step.Name, "push", "vulnerability scan did not pass"))
			}
			if needsPushTagging {
				if _, err := opts.Images.TagExisting(ctx, step.Name, resultImageID, step.Push.Repository, step.Push.Tags, step.Push.EffectiveAddBuildTag(), opts.BuildCtx.DockerTag); err != nil {
					return fail(res, step, err)
				}
			}
			tags, err := opts.Images.Push(ctx, step.Name, step.Push, opts.BuildCtx.DockerTag)
			if err != nil {
				return fail(res, step, err)
			}
			res.Tags = append(res.Tags, tags...)
		}
	}

	res.Status = manifest.StatusSucceeded
	res.ExitCode = exitCode
	res.ImageRef = runImage
	return res
}

func runRemote(ctx context.Context, opts Options, step *manifest.Step, res *Result, log *logrus.Entry) *Result {
	result, err := opts.Remote.Run(ctx, step.Name, step.Remote)
	if err != nil {
		return fail(res, step, err)
	}
	succeeded := result.ExitCode == 0
	if step.Xfail {
		succeeded = result.ExitCode != 0
	}
	if !succeeded {
		return fail(res, step, buildrerr.New(buildrerr.Execution, step.Name, "remote",
			"remote command exited with an unexpected status for its xfail setting"))
	}

	if len(result.Artifacts) > 0 {
		stepDir := filepath.Join(opts.BuildCtx.ResultsDir, step.Name)
		if err := os.MkdirAll(stepDir, 0o755); err != nil {
			return fail(res, step, buildrerr.Wrap(buildrerr.Internal, step.Name, "remote", err))
		}
		for rel, data := range result.Artifacts {
			if err := os.WriteFile(filepath.Join(stepDir, filepath.Base(rel)), data, 0o644); err != nil {
				return fail(res, step, buildrerr.Wrap(buildrerr.Resource, step.Name, "remote", err))
			}
		}
		opts.BuildCtx.PublishArtifacts(step.Name, step.Name)
	}

	res.Status = manifest.StatusSucceeded
	res.ExitCode = result.ExitCode
	return res
}

func fail(res *Result, step *manifest.Step, err error) *Result {
	res.Status = manifest.StatusFailed
	res.FailureErr = err
	return res
}

func buildTags(opts Options, step *manifest.Step) []string {
	if step.Commit == nil && step.Push == nil {
		return []string{opts.BuildCtx.DockerTag}
	}
	return nil
}

func toDescriptors(m map[string]manifest.ArtifactSpec) []artifacts.Descriptor {
	out := make([]artifacts.Descriptor, 0, len(m))
	for glob, spec := range m {
		format := artifacts.FormatFile
		switch spec.Format {
		case "archived":
			format = artifacts.FormatArchived
		case "uncompressed":
			format = artifacts.FormatUncompressed
		}
		archiveType := artifacts.ArchiveTar
		if spec.Type == "zip" {
			archiveType = artifacts.ArchiveZip
		}
		out = append(out, artifacts.Descriptor{
			Glob:        glob,
			Format:      format,
			ArchiveType: archiveType,
			Compression: artifacts.Codec(spec.Compression),
			Rename:      spec.Rename,
			Push:        spec.EffectivePush(),
			Metadata:    spec.Metadata,
		})
	}
	return out
}
