// Package buildctx holds the one piece of state every other engine package
// shares for the lifetime of an invocation: the build id, where results
// land on disk, the env overlay every container receives, and the
// cross-step registries that let a later step see an earlier step's
// published image or artifacts. It is the Go shape of spec.md §3's
// "Build Context".
package buildctx

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/buildrunner/buildrunner/pkg/config"
)

// ImageRef describes one image produced by a step's build/commit/push
// stage, published into the cross-step registry on success.
type ImageRef struct {
	Ref       string
	Platforms []string
}

// SSHIdentity is one loaded private key, kept only in memory for the
// lifetime of the build; pkg/sshagentproxy is the only consumer that ever
// reads KeyMaterial.
type SSHIdentity struct {
	Alias       string
	KeyMaterial []byte
	Passphrase  string
}

// Context is the shared, mutable-by-insertion state object threaded
// through C5-C9. Mutation is restricted to the insert-after-success
// operations below; reads are safe for concurrent use since within-step
// container fan-out (§5) can read the registries while another
// goroutine streams logs.
type Context struct {
	BuildID   string
	DockerTag string
	Epoch     int64
	UID       int
	GID       int

	ResultsDir string
	TempDir    string

	Env map[string]string

	Config *config.AppConfig
	Log    *logrus.Entry

	mu        sync.RWMutex
	images    map[string]ImageRef
	artifacts map[string]string
	sshPool   map[string]SSHIdentity
	fileAlias map[string]string

	steps []string
}

// Options seeds values a fresh Context can't derive on its own: the VCS
// probe's output (branch/commit/modified) feeds BuildID/DockerTag, and the
// CLI supplies the step name list and build number.
type Options struct {
	BuildNumber string
	Branch      string
	ShortSHA    string
	Modified    bool
	Epoch       int64
	StepNames   []string
}

// New derives the build id and docker tag per the glossary's definition —
// branch, short commit id, a modified marker, and epoch seconds — creates
// the results directory if it is missing (existing contents are left in
// place), and returns a ready-to-use Context.
func New(cfg *config.AppConfig, log *logrus.Entry, opts Options) (*Context, error) {
	epoch := opts.Epoch
	if epoch == 0 {
		epoch = time.Now().Unix()
	}

	tag := buildDockerTag(opts.Branch, opts.ShortSHA, opts.Modified, epoch)

	resultsDir := filepath.Join(".", "buildrunner.results")
	if err := os.MkdirAll(resultsDir, 0o755); err != nil {
		return nil, fmt.Errorf("create results directory: %w", err)
	}

	tempDir := cfg.UserConfig.Build.TempDir
	if tempDir == "" {
		tempDir = os.TempDir()
	}
	scratch, err := os.MkdirTemp(tempDir, "buildrunner-"+cfg.BuildID+"-")
	if err != nil {
		return nil, fmt.Errorf("create scratch directory: %w", err)
	}

	return &Context{
		BuildID:    cfg.BuildID,
		DockerTag:  tag,
		Epoch:      epoch,
		UID:        os.Getuid(),
		GID:        os.Getgid(),
		ResultsDir: resultsDir,
		TempDir:    scratch,
		Env:        map[string]string{},
		Config:     cfg,
		Log:        log,
		images:     map[string]ImageRef{},
		artifacts:  map[string]string{},
		sshPool:    map[string]SSHIdentity{},
		fileAlias:  map[string]string{},
		steps:      opts.StepNames,
	}, nil
}

func buildDockerTag(branch, shortSHA string, modified bool, epoch int64) string {
	tag := fmt.Sprintf("%s-%s", sanitizeTagComponent(branch), shortSHA)
	if modified {
		tag += "-dirty"
	}
	return fmt.Sprintf("%s-%d", tag, epoch)
}

func sanitizeTagComponent(s string) string {
	out := make([]rune, 0, len(s))
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			out = append(out, r)
		default:
			out = append(out, '-')
		}
	}
	if len(out) == 0 {
		return "unknown"
	}
	return string(out)
}

// PublishImage records the image produced by step's commit/push (or bare
// build) stage. Per spec.md §5's ordering guarantee, this is only called
// once the stage has fully succeeded.
func (c *Context) PublishImage(step string, ref ImageRef) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.images[step] = ref
}

// Image looks up the image published by a prior step, if any.
func (c *Context) Image(step string) (ImageRef, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ref, ok := c.images[step]
	return ref, ok
}

// PublishArtifacts records where step's captured artifacts live relative
// to ResultsDir.
func (c *Context) PublishArtifacts(step, subpath string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.artifacts[step] = subpath
}

// Artifacts looks up a prior step's artifact subpath, if any.
func (c *Context) Artifacts(step string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.artifacts[step]
	return p, ok
}

// AddSSHIdentity loads one private key into the in-memory pool, keyed by
// alias, for later lookup by pkg/sshagentproxy.
func (c *Context) AddSSHIdentity(id SSHIdentity) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sshPool[id.Alias] = id
}

// SSHIdentity returns the loaded key material for alias, if present.
func (c *Context) SSHIdentity(alias string) (SSHIdentity, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	id, ok := c.sshPool[alias]
	return id, ok
}

// AddFileAlias registers an alias resolvable to an absolute host path or
// inline content, consulted when a container's `files` map references it.
func (c *Context) AddFileAlias(alias, hostPathOrContent string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fileAlias[alias] = hostPathOrContent
}

// FileAlias resolves a previously registered file alias.
func (c *Context) FileAlias(alias string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.fileAlias[alias]
	return v, ok
}

// StepNames returns the full declared step list, in declaration order —
// used to populate the BUILDRUNNER_STEPS injected env var.
func (c *Context) StepNames() []string {
	return append([]string(nil), c.steps...)
}

// Close removes the per-invocation scratch directory. Session-level
// teardown calls this after every step's own cleanup stack has run.
func (c *Context) Close() error {
	if c.TempDir == "" {
		return nil
	}
	return os.RemoveAll(c.TempDir)
}
