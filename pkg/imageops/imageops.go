// Package imageops implements C6: building images (single- and
// multi-platform), committing a container's state to one, tagging, and
// pushing, per spec.md §4.3/§4.6. Grounded on the teacher's Image type
// (pkg/commands/image.go), generalized from "list/remove images a human is
// looking at" to "drive image lifecycle as one stage of a build."
package imageops

import (
	"archive/tar"
	"bytes"
	"context"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/buildrunner/buildrunner/pkg/buildrerr"
	"github.com/buildrunner/buildrunner/pkg/config"
	"github.com/buildrunner/buildrunner/pkg/manifest"
	"github.com/buildrunner/buildrunner/pkg/runtime"
)

// BuilderChooser picks one builder name from a candidate list. New installs
// RandomChooser as Ops.Chooser, but Build never calls Ops.Chooser: every
// platform is built through the same ContainerRuntime, with no builder
// selection.
type BuilderChooser func(candidates []string) string

// RandomChooser is the production default.
func RandomChooser(candidates []string) string {
	if len(candidates) == 0 {
		return ""
	}
	return candidates[rand.Intn(len(candidates))]
}

// Ops drives C6's operations against one ContainerRuntime for the lifetime
// of a build.
type Ops struct {
	Runtime runtime.ContainerRuntime
	Config  *config.UserConfig
	Log     *logrus.Entry
	Chooser BuilderChooser
}

// New returns an Ops with the production random builder chooser.
func New(rt runtime.ContainerRuntime, cfg *config.UserConfig, log *logrus.Entry) *Ops {
	return &Ops{Runtime: rt, Config: cfg, Log: log, Chooser: RandomChooser}
}

// BuildResult is what a build stage produces: one image ID per platform
// actually built (single entry keyed by "" for a non-multi-platform build).
type BuildResult struct {
	ImageIDs  map[string]string
	Platforms []string
}

// Build runs spec's build stage: assembles a context tar from Path/Inject,
// and either performs a single daemon build or fans out into one
// BuildImage call per requested platform on the same runtime.
func (o *Ops) Build(ctx context.Context, step string, spec *manifest.BuildSpec, manifestDir string, tags []string) (*BuildResult, error) {
	if spec.Import != "" {
		return nil, buildrerr.New(buildrerr.Configuration, step, "build", "import is not yet wired to a runtime loader")
	}

	contextTar, err := assembleContext(spec, manifestDir)
	if err != nil {
		return nil, buildrerr.Wrap(buildrerr.Resource, step, "build", err)
	}

	pull := spec.Pull == nil || *spec.Pull

	if !spec.IsMultiPlatform() {
		platform := ""
		if len(spec.Platforms) == 1 {
			platform = spec.Platforms[0]
		}
		id, err := o.Runtime.BuildImage(ctx, runtime.BuildOptions{
			ContextTar: bytes.NewReader(contextTar),
			Dockerfile: spec.Dockerfile,
			Tags:       tags,
			BuildArgs:  toPtrMap(spec.Buildargs),
			Target:     spec.Target,
			NoCache:    spec.NoCache,
			Pull:       pull,
			CacheFrom:  spec.CacheFrom,
			Platform:   platform,
		})
		if err != nil {
			return nil, buildrerr.Wrap(buildrerr.Resource, step, "build", err)
		}
		return &BuildResult{ImageIDs: map[string]string{"": id}, Platforms: spec.Platforms}, nil
	}

	if o.Config.Build.DisableMultiPlatform {
		return nil, buildrerr.New(buildrerr.Configuration, step, "build", "manifest requests multiple platforms but multi-platform builds are disabled")
	}

	ids := map[string]string{}
	for _, platform := range spec.Platforms {
		builder := o.Config.Platforms[platform]
		if builder == "" {
			o.Log.WithField("platform", platform).Debug("no builder pinned for platform")
		}
		id, err := o.Runtime.BuildImage(ctx, runtime.BuildOptions{
			ContextTar: bytes.NewReader(contextTar),
			Dockerfile: spec.Dockerfile,
			Tags:       platformTag(tags, platform),
			BuildArgs:  toPtrMap(spec.Buildargs),
			Target:     spec.Target,
			NoCache:    spec.NoCache,
			Pull:       pull,
			CacheFrom:  spec.CacheFrom,
			Platform:   platform,
		})
		if err != nil {
			return nil, buildrerr.Wrap(buildrerr.Resource, step, "build", fmt.Errorf("platform %s: %w", platform, err))
		}
		ids[platform] = id
	}
	return &BuildResult{ImageIDs: ids, Platforms: spec.Platforms}, nil
}

// Commit commits containerID to an image named by spec, applying every
// resolved tag, per spec.md §4.3's commit stage.
func (o *Ops) Commit(ctx context.Context, step string, containerID string, spec *manifest.CommitSpec, buildTag string) (string, []string, error) {
	tags := resolveTags(spec.Tags, spec.EffectiveAddBuildTag(), buildTag)
	repo := o.qualify(spec.Repository)

	var imageID string
	for i, tag := range tags {
		if i == 0 {
			id, err := o.Runtime.CommitContainer(ctx, containerID, runtime.CommitOptions{Repository: repo, Tag: tag})
			if err != nil {
				return "", nil, buildrerr.Wrap(buildrerr.Resource, step, "commit", err)
			}
			imageID = id
			continue
		}
		if err := o.Runtime.TagImage(ctx, imageID, repo+":"+tag); err != nil {
			return "", nil, buildrerr.Wrap(buildrerr.Resource, step, "commit", err)
		}
	}
	return imageID, tags, nil
}

// TagExisting applies every resolved tag directly to an already-built
// image, for the build-only-plus-commit case where there is no run
// container to `docker commit` — spec.md §4.3's "else the build stage's
// image" branch.
func (o *Ops) TagExisting(ctx context.Context, step, imageID, repository string, explicitTags []string, addBuildTag bool, buildTag string) ([]string, error) {
	tags := resolveTags(explicitTags, addBuildTag, buildTag)
	repo := o.qualify(repository)
	for _, tag := range tags {
		if err := o.Runtime.TagImage(ctx, imageID, repo+":"+tag); err != nil {
			return nil, buildrerr.Wrap(buildrerr.Resource, step, "commit", err)
		}
	}
	return tags, nil
}

// Push pushes every resolved tag of repo to its registry.
func (o *Ops) Push(ctx context.Context, step string, spec *manifest.PushSpec, buildTag string) ([]string, error) {
	tags := resolveTags(spec.Tags, spec.EffectiveAddBuildTag(), buildTag)
	repo := o.qualify(spec.Repository)

	for _, tag := range tags {
		if err := o.Runtime.PushImage(ctx, repo+":"+tag); err != nil {
			return nil, buildrerr.Wrap(buildrerr.Integration, step, "push", err)
		}
	}
	return tags, nil
}

// qualify prefixes repo with the configured default repository when repo
// contains no "/".
func (o *Ops) qualify(repo string) string {
	if o.Config.Registry.DefaultRepository == "" || strings.Contains(repo, "/") {
		return repo
	}
	return o.Config.Registry.DefaultRepository + "/" + repo
}

func resolveTags(explicit []string, addBuildTag bool, buildTag string) []string {
	tags := append([]string(nil), explicit...)
	if addBuildTag {
		tags = append(tags, buildTag)
	}
	return tags
}

func platformTag(base []string, platform string) []string {
	suffix := strings.ReplaceAll(platform, "/", "-")
	out := make([]string, len(base))
	for i, t := range base {
		out[i] = t + "-" + suffix
	}
	return out
}

func toPtrMap(m map[string]string) map[string]*string {
	if m == nil {
		return nil
	}
	out := make(map[string]*string, len(m))
	for k, v := range m {
		v := v
		out[k] = &v
	}
	return out
}

// assembleContext builds a tar stream from spec.Path overlaid with Inject
// globs (inject wins on conflicting destinations), or just a lone
// Dockerfile when spec.HasContext() is false, per spec.md §4.3.
func assembleContext(spec *manifest.BuildSpec, manifestDir string) ([]byte, error) {
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)

	if spec.HasContext() {
		if spec.Path != "" {
			if err := addTree(tw, filepath.Join(manifestDir, spec.Path), ""); err != nil {
				return nil, err
			}
		}
		destinations := make([]string, 0, len(spec.Inject))
		for dest := range spec.Inject {
			destinations = append(destinations, dest)
		}
		sort.Strings(destinations)
		for _, dest := range destinations {
			glob := spec.Inject[dest]
			matches, err := filepath.Glob(filepath.Join(manifestDir, glob))
			if err != nil {
				return nil, err
			}
			for _, m := range matches {
				if err := addFile(tw, m, filepath.Join(dest, filepath.Base(m))); err != nil {
					return nil, err
				}
			}
		}
	}

	dockerfilePath := spec.Dockerfile
	if dockerfilePath == "" {
		dockerfilePath = filepath.Join(manifestDir, "Dockerfile")
	} else if !filepath.IsAbs(dockerfilePath) {
		dockerfilePath = filepath.Join(manifestDir, dockerfilePath)
	}
	if err := addFile(tw, dockerfilePath, "Dockerfile"); err != nil {
		return nil, err
	}

	if err := tw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func addTree(tw *tar.Writer, root, prefix string) error {
	return filepath.Walk(root, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		dest := filepath.Join(prefix, rel)
		if info.IsDir() {
			return nil
		}
		return addFile(tw, p, dest)
	})
}

func addFile(tw *tar.Writer, src, dest string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	info, err := os.Stat(src)
	if err != nil {
		return err
	}
	hdr := &tar.Header{Name: filepath.ToSlash(dest), Mode: int64(info.Mode().Perm()), Size: int64(len(data))}
	if err := tw.WriteHeader(hdr); err != nil {
		return err
	}
	_, err = tw.Write(data)
	return err
}
