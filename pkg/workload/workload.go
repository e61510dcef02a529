// Package workload implements C5: turning a step's RunSpec into a running
// container graph — primary container plus its services, in declaration
// order — with its injected env vars, mounts, ports, and wait-for gates.
// The injected set is BUILDRUNNER_BUILD_ID, BUILDRUNNER_STEP,
// BUILDRUNNER_DOCKER_TAG, BUILDRUNNER_STEPS (primary only) and the
// VCSINFO_* fields of vcsinfo.Info other than the modified-path list and
// timestamp. It is grounded on the teacher's Container type
// (pkg/commands/container.go), which owns the same "assemble
// docker-API-shaped options from a higher-level spec" responsibility.
package workload

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/docker/go-units"
	"github.com/sirupsen/logrus"

	"github.com/buildrunner/buildrunner/pkg/buildctx"
	"github.com/buildrunner/buildrunner/pkg/buildrerr"
	"github.com/buildrunner/buildrunner/pkg/cache"
	"github.com/buildrunner/buildrunner/pkg/manifest"
	"github.com/buildrunner/buildrunner/pkg/runtime"
	"github.com/buildrunner/buildrunner/pkg/source"
	"github.com/buildrunner/buildrunner/pkg/sshagentproxy"
	"github.com/buildrunner/buildrunner/pkg/utils"
	"github.com/buildrunner/buildrunner/pkg/vcsinfo"
)

// CacheMount is one cache target still on disk after a workload starts,
// kept so the step runner can save it back to the store once the step
// succeeds, per spec.md §4.7's save-on-success rule.
type CacheMount struct {
	Dir  string
	Keys []string
}

// Container is one started container belonging to a workload, named for
// its role ("" for the primary, the service name otherwise).
type Container struct {
	Name        string
	ID          string
	NetworkID   string
	isPrimary   bool
}

// Graph is every container belonging to one step's run stage, started in
// declaration order (services first, then the primary), torn down in
// reverse via Close.
type Graph struct {
	StepName  string
	Network   string
	Primary   *Container
	Services  []*Container
	Caches    []CacheMount

	rt      runtime.ContainerRuntime
	log     *logrus.Entry
	cleanup []func(context.Context) error
	agents  []*sshagentproxy.Proxy
}

// SaveCaches writes every cache mount back to the store under its primary
// key, called by the step runner once the step has succeeded. A save
// failure is logged, not fatal — a stale cache costs a slower next build,
// not a broken one.
func (g *Graph) SaveCaches(store *cache.Store) {
	if store == nil {
		return
	}
	for _, c := range g.Caches {
		if len(c.Keys) == 0 {
			continue
		}
		if size, err := cache.DirSize(c.Dir); err == nil {
			g.log.WithField("key", c.Keys[0]).WithField("size", units.HumanSize(float64(size))).Debug("saving cache")
		}
		if err := store.Save(c.Keys[0], c.Dir); err != nil {
			g.log.WithError(err).WithField("key", c.Keys[0]).Warn("cache save failed")
		}
	}
}

// Options bundles everything Build needs beyond the RunSpec itself.
type Options struct {
	Step      string
	Run       *manifest.RunSpec
	BuildCtx  *buildctx.Context
	Snapshot  *source.Snapshot
	VCS       vcsinfo.Info
	Runtime   runtime.ContainerRuntime
	Cache     *cache.Store
	Log       *logrus.Entry
}

// Build starts every service in declaration order, waits out each one's
// wait_for gates, then starts the primary, returning a Graph the caller
// execs commands against. On any failure already-started containers and
// networks are torn down before the error is returned.
func Build(ctx context.Context, opts Options) (*Graph, error) {
	netID, err := opts.Runtime.CreateNetwork(ctx, networkName(opts.Step))
	if err != nil {
		return nil, buildrerr.Wrap(buildrerr.Resource, opts.Step, "workload", err)
	}

	g := &Graph{StepName: opts.Step, Network: netID, rt: opts.Runtime, log: opts.Log}
	g.cleanup = append(g.cleanup, func(ctx context.Context) error { return opts.Runtime.RemoveNetwork(ctx, netID) })

	started := map[string]bool{}

	for i := range opts.Run.Services {
		svc := &opts.Run.Services[i]
		c, err := g.startOne(ctx, opts, svc.Name, &svc.ContainerSpec, false, started)
		if err != nil {
			g.Close(ctx)
			return nil, err
		}
		g.Services = append(g.Services, c)
		started[svc.Name] = true

		if err := g.awaitReady(ctx, c, svc.WaitFor); err != nil {
			g.Close(ctx)
			return nil, err
		}
	}

	primary, err := g.startOne(ctx, opts, "", &opts.Run.ContainerSpec, true, started)
	if err != nil {
		g.Close(ctx)
		return nil, err
	}
	g.Primary = primary

	if err := g.awaitReady(ctx, primary, opts.Run.WaitFor); err != nil {
		g.Close(ctx)
		return nil, err
	}

	return g, nil
}

func (g *Graph) startOne(ctx context.Context, opts Options, name string, spec *manifest.ContainerSpec, isPrimary bool, priorServices map[string]bool) (*Container, error) {
	if err := spec.NormalizeCaches(); err != nil {
		return nil, buildrerr.Wrap(buildrerr.Configuration, opts.Step, "workload", err)
	}

	binds, err := g.mounts(opts, spec, isPrimary)
	if err != nil {
		return nil, err
	}

	env := injectedEnv(opts, isPrimary)
	for k, v := range spec.Env {
		env[k] = v
	}

	var agentSocket string
	if spec.InjectSSHAgent && len(spec.SSHKeys) > 0 {
		proxy, err := sshagentproxy.Start(opts.BuildCtx, spec.SSHKeys)
		if err != nil {
			return nil, buildrerr.Wrap(buildrerr.Configuration, opts.Step, "workload", err)
		}
		g.agents = append(g.agents, proxy)
		g.cleanup = append(g.cleanup, func(context.Context) error { return proxy.Close() })
		agentSocket = proxy.SocketPath()
		binds = append(binds, agentSocket+":/run/buildrunner-ssh-agent.sock")
		env[sshagentproxy.SocketEnvVar] = "/run/buildrunner-ssh-agent.sock"
	}

	var volumesFrom []string
	for _, from := range spec.VolumesFrom {
		if !priorServices[from] {
			return nil, buildrerr.New(buildrerr.Configuration, opts.Step, "workload",
				fmt.Sprintf("volumes_from %q must name an earlier service", from))
		}
		volumesFrom = append(volumesFrom, from)
	}
	binds = append(binds, volumesFrom...)

	defaultShell := ""
	if c := opts.BuildCtx.Config; c != nil && c.UserConfig != nil {
		defaultShell = c.UserConfig.Build.DefaultShell
	}
	cmd := commandFor(spec, defaultShell)

	containerName := containerName(opts.Step, name)
	id, err := opts.Runtime.CreateContainer(ctx, runtime.ContainerOptions{
		Name:         containerName,
		Image:        spec.Image,
		Cmd:          cmd,
		Env:          mapToList(env),
		WorkingDir:   spec.Cwd,
		User:         spec.User,
		Hostname:     spec.Hostname,
		DNS:          spec.DNS,
		DNSSearch:    spec.DNSSearch,
		ExtraHosts:   spec.ExtraHosts,
		Binds:        binds,
		PortBindings: spec.Ports,
		NetworkID:    g.Network,
		CapAdd:       spec.CapAdd,
		Privileged:   spec.Privileged,
		Labels:       map[string]string{"buildrunner.step": opts.Step},
	})
	if err != nil {
		return nil, buildrerr.Wrap(buildrerr.Resource, opts.Step, "workload", err)
	}
	g.cleanup = append(g.cleanup, func(ctx context.Context) error { return opts.Runtime.RemoveContainer(ctx, id) })

	if err := opts.Runtime.StartContainer(ctx, id); err != nil {
		return nil, buildrerr.Wrap(buildrerr.Resource, opts.Step, "workload", err)
	}

	return &Container{Name: name, ID: id, NetworkID: g.Network, isPrimary: isPrimary}, nil
}

// mounts assembles the bind list: /source (RW for the primary, RO for
// services), /artifacts from every upstream step (RO), cache targets, and
// explicit `files` entries, per spec.md §4.4.
func (g *Graph) mounts(opts Options, spec *manifest.ContainerSpec, isPrimary bool) ([]string, error) {
	var binds []string

	sourceMode := "ro"
	if isPrimary {
		sourceMode = "rw"
	}
	if opts.Snapshot != nil {
		binds = append(binds, fmt.Sprintf("%s:/source:%s", opts.Snapshot.Path, sourceMode))
	}

	if isPrimary {
		for _, step := range opts.BuildCtx.StepNames() {
			if step == opts.Step {
				continue
			}
			if subpath, ok := opts.BuildCtx.Artifacts(step); ok {
				binds = append(binds, fmt.Sprintf("%s:/artifacts/%s:ro",
					filepath.Join(opts.BuildCtx.ResultsDir, subpath), step))
			}
		}
	}

	for target, keys := range spec.Caches {
		if len(keys) == 0 {
			continue
		}
		cacheDir := filepath.Join(opts.BuildCtx.TempDir, "cache-mounts", sanitizeMountName(target))
		if err := os.MkdirAll(cacheDir, 0o755); err != nil {
			return nil, buildrerr.Wrap(buildrerr.Resource, opts.Step, "workload", err)
		}
		if opts.Cache != nil {
			if _, _, err := opts.Cache.Restore(keys, cacheDir); err != nil {
				return nil, err
			}
		}
		g.Caches = append(g.Caches, CacheMount{Dir: cacheDir, Keys: keys})
		binds = append(binds, fmt.Sprintf("%s:%s:rw", cacheDir, target))
	}

	for source, target := range spec.Files {
		mode := "ro"
		dest := target
		if strings.HasSuffix(target, ":rw") {
			mode = "rw"
			dest = strings.TrimSuffix(target, ":rw")
		}
		resolved, ok := opts.BuildCtx.FileAlias(source)
		if !ok {
			return nil, buildrerr.New(buildrerr.Configuration, opts.Step, "workload",
				fmt.Sprintf("files: unknown alias or path %q", source))
		}
		binds = append(binds, fmt.Sprintf("%s:%s:%s", resolved, dest, mode))
	}

	return binds, nil
}

// awaitReady polls each wait_for port on the container's network address
// until it accepts a TCP connection or its timeout elapses.
func (g *Graph) awaitReady(ctx context.Context, c *Container, waits []manifest.WaitFor) error {
	if len(waits) == 0 {
		return nil
	}
	ip, err := g.rt.InspectContainerIP(ctx, c.ID, c.NetworkID)
	if err != nil {
		return buildrerr.Wrap(buildrerr.Resource, g.StepName, "wait-for", err)
	}

	for _, w := range waits {
		deadline := time.Now().Add(w.EffectiveTimeout())
		addr := fmt.Sprintf("%s:%d", ip, w.Port)
		for {
			if dialable(ctx, addr) {
				break
			}
			if time.Now().After(deadline) {
				return buildrerr.New(buildrerr.Execution, g.StepName, "wait-for",
					fmt.Sprintf("timed out waiting for %s", addr))
			}
			select {
			case <-ctx.Done():
				return buildrerr.Wrap(buildrerr.Cancellation, g.StepName, "wait-for", ctx.Err())
			case <-time.After(200 * time.Millisecond):
			}
		}
	}
	return nil
}

// Close tears down every resource this graph allocated, LIFO, per
// spec.md §5, continuing past individual failures to maximize cleanup.
func (g *Graph) Close(ctx context.Context) error {
	var firstErr error
	for i := len(g.cleanup) - 1; i >= 0; i-- {
		if err := g.cleanup[i](ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	g.cleanup = nil
	return firstErr
}

func injectedEnv(opts Options, isPrimary bool) map[string]string {
	env := map[string]string{
		"BUILDRUNNER_BUILD_ID":  opts.BuildCtx.BuildID,
		"BUILDRUNNER_STEP":      opts.Step,
		"BUILDRUNNER_DOCKER_TAG": opts.BuildCtx.DockerTag,
		"VCSINFO_NAME":          opts.VCS.Name,
		"VCSINFO_BRANCH":        opts.VCS.Branch,
		"VCSINFO_NUMBER":        strconv.Itoa(opts.VCS.Number),
		"VCSINFO_ID":            opts.VCS.ID,
		"VCSINFO_SHORT_ID":      opts.VCS.ShortID,
		"VCSINFO_RELEASE":       opts.VCS.Release,
		"VCSINFO_MODIFIED":      strconv.FormatBool(opts.VCS.Modified),
	}
	if isPrimary {
		env["BUILDRUNNER_STEPS"] = strings.Join(opts.BuildCtx.StepNames(), ",")
	}
	for k, v := range opts.BuildCtx.Env {
		env[k] = v
	}
	return env
}

func commandFor(spec *manifest.ContainerSpec, defaultShell string) []string {
	if !spec.HasCommandOverride() {
		return nil
	}
	shell := spec.Shell
	if shell == "" {
		shell = defaultShell
	}
	if shell == "" {
		shell = "/bin/sh"
	}

	var script strings.Builder
	if spec.Cmd != "" {
		script.WriteString(spec.Cmd + "\n")
	}
	for _, c := range spec.Cmds {
		script.WriteString(c + "\n")
	}
	for _, p := range spec.Provisioners {
		switch {
		case p.Shell != nil:
			script.WriteString(p.Shell.Path)
			for _, a := range p.Shell.Args {
				script.WriteString(" " + a)
			}
			script.WriteString("\n")
		case p.Salt != nil:
			script.WriteString("salt-call --local state.apply\n")
		}
	}

	return []string{shell, "-c", script.String()}
}

func mapToList(m map[string]string) []string {
	keys := utils.SortedKeys(m)
	out := make([]string, 0, len(m))
	for _, k := range keys {
		out = append(out, k+"="+m[k])
	}
	return out
}

func containerName(step, service string) string {
	if service == "" {
		return "buildrunner-" + step
	}
	return "buildrunner-" + step + "-" + service
}

func networkName(step string) string { return "buildrunner-net-" + step }

func sanitizeMountName(target string) string {
	return strings.NewReplacer("/", "_", ":", "_").Replace(strings.TrimPrefix(target, "/"))
}
