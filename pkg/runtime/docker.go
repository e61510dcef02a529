package runtime

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	"github.com/docker/go-connections/nat"
	ggcrname "github.com/google/go-containerregistry/pkg/name"
	"github.com/sirupsen/logrus"

	"github.com/buildrunner/buildrunner/pkg/buildrerr"
	"github.com/buildrunner/buildrunner/pkg/utils"
)

const apiVersion = "1.45"

// DockerRuntime is the default ContainerRuntime, built directly on
// github.com/docker/docker/client the way the teacher's DockerCommand
// wraps the same client for its own container/image operations.
type DockerRuntime struct {
	Client *client.Client
	Log    *logrus.Entry
	tunnel io.Closer
}

// NewDockerRuntime builds a client from the environment (DOCKER_HOST,
// DOCKER_TLS_VERIFY, DOCKER_CERT_PATH), transparently tunneling over SSH
// first when DOCKER_HOST uses the ssh:// scheme — mirroring the teacher's
// handleSSHDockerHost/createDockerHostTunnel pair in pkg/commands/docker.go.
func NewDockerRuntime(log *logrus.Entry) (*DockerRuntime, error) {
	tunnel, err := handleSSHDockerHost(context.Background())
	if err != nil {
		return nil, buildrerr.Wrap(buildrerr.Resource, "", "runtime-init", err)
	}

	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithVersion(apiVersion))
	if err != nil {
		tunnel.Close()
		return nil, buildrerr.Wrap(buildrerr.Resource, "", "runtime-init", err)
	}

	return &DockerRuntime{Client: cli, Log: log, tunnel: tunnel}, nil
}

func (d *DockerRuntime) Close() error {
	return utils.CloseMany([]io.Closer{d.tunnel, d.Client})
}

func (d *DockerRuntime) BuildImage(ctx context.Context, opts BuildOptions) (string, error) {
	resp, err := d.Client.ImageBuild(ctx, opts.ContextTar, imageBuildOptions(opts))
	if err != nil {
		return "", buildrerr.Wrap(buildrerr.Resource, "", "build-image", err)
	}
	defer resp.Body.Close()

	imageID, err := scanImageIDFromBuildOutput(resp.Body, d.Log)
	if err != nil {
		return "", buildrerr.Wrap(buildrerr.Resource, "", "build-image", err)
	}
	return imageID, nil
}

func imageBuildOptions(opts BuildOptions) client.ImageBuildOptions {
	dockerfile := opts.Dockerfile
	if dockerfile == "" {
		dockerfile = "Dockerfile"
	}
	return client.ImageBuildOptions{
		Tags:        opts.Tags,
		Dockerfile:  dockerfile,
		BuildArgs:   opts.BuildArgs,
		Target:      opts.Target,
		NoCache:     opts.NoCache,
		PullParent:  opts.Pull,
		CacheFrom:   opts.CacheFrom,
		Platform:    opts.Platform,
		Remove:      true,
		ForceRemove: true,
	}
}

// scanImageIDFromBuildOutput reads the streamed JSON build log, forwarding
// each line to Log at debug level and recovering the final image ID from
// the last line carrying an aux "ID" field.
func scanImageIDFromBuildOutput(r io.Reader, log *logrus.Entry) (string, error) {
	var imageID string
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		log.Debug(line)
		if id, ok := extractImageID(line); ok {
			imageID = id
		}
		if strings.Contains(line, `"error"`) {
			return "", fmt.Errorf("build failed: %s", line)
		}
	}
	if err := scanner.Err(); err != nil {
		return "", err
	}
	if imageID == "" {
		return "", fmt.Errorf("build output never reported an image id")
	}
	return imageID, nil
}

func extractImageID(line string) (string, bool) {
	const marker = `"ID":"`
	idx := strings.Index(line, marker)
	if idx < 0 {
		return "", false
	}
	rest := line[idx+len(marker):]
	end := strings.Index(rest, `"`)
	if end < 0 {
		return "", false
	}
	return rest[:end], true
}

func (d *DockerRuntime) PullImage(ctx context.Context, ref string, pull bool) error {
	if !pull {
		return nil
	}
	rc, err := d.Client.ImagePull(ctx, ref, image.PullOptions{})
	if err != nil {
		return buildrerr.Wrap(buildrerr.Resource, "", "pull-image", err)
	}
	defer rc.Close()
	_, err = io.Copy(io.Discard, rc)
	return err
}

func (d *DockerRuntime) CreateContainer(ctx context.Context, opts ContainerOptions) (string, error) {
	cfg := &container.Config{
		Image:      opts.Image,
		Cmd:        opts.Cmd,
		Env:        opts.Env,
		WorkingDir: opts.WorkingDir,
		User:       opts.User,
		Hostname:   opts.Hostname,
		Labels:     opts.Labels,
		Tty:        false,
	}

	portBindings, exposed := natPortBindings(opts.PortBindings)
	hostCfg := &container.HostConfig{
		Binds:        opts.Binds,
		DNS:          opts.DNS,
		DNSSearch:    opts.DNSSearch,
		ExtraHosts:   opts.ExtraHosts,
		CapAdd:       opts.CapAdd,
		Privileged:   opts.Privileged,
		PortBindings: portBindings,
	}
	cfg.ExposedPorts = exposed

	var netCfg *network.NetworkingConfig
	if opts.NetworkID != "" {
		netCfg = &network.NetworkingConfig{
			EndpointsConfig: map[string]*network.EndpointSettings{
				opts.NetworkID: {},
			},
		}
	}

	resp, err := d.Client.ContainerCreate(ctx, cfg, hostCfg, netCfg, nil, opts.Name)
	if err != nil {
		return "", buildrerr.Wrap(buildrerr.Resource, "", "create-container", err)
	}
	return resp.ID, nil
}

func natPortBindings(ports map[string]string) (nat.PortMap, nat.PortSet) {
	if len(ports) == 0 {
		return nil, nil
	}
	bindings := nat.PortMap{}
	exposed := nat.PortSet{}
	for containerPort, hostPort := range ports {
		p := nat.Port(containerPort + "/tcp")
		exposed[p] = struct{}{}
		bindings[p] = []nat.PortBinding{{HostPort: hostPort}}
	}
	return bindings, exposed
}

func (d *DockerRuntime) StartContainer(ctx context.Context, containerID string) error {
	if err := d.Client.ContainerStart(ctx, containerID, container.StartOptions{}); err != nil {
		return buildrerr.Wrap(buildrerr.Resource, "", "start-container", err)
	}
	return nil
}

func (d *DockerRuntime) WaitContainer(ctx context.Context, containerID string) (int, error) {
	statusCh, errCh := d.Client.ContainerWait(ctx, containerID, container.WaitConditionNotRunning)
	select {
	case err := <-errCh:
		if err != nil {
			return 0, buildrerr.Wrap(buildrerr.Resource, "", "wait-container", err)
		}
		return 0, nil
	case status := <-statusCh:
		return int(status.StatusCode), nil
	}
}

func (d *DockerRuntime) StreamLogs(ctx context.Context, containerID string) (io.ReadCloser, error) {
	rc, err := d.Client.ContainerLogs(ctx, containerID, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Follow:     true,
	})
	if err != nil {
		return nil, buildrerr.Wrap(buildrerr.Resource, "", "stream-logs", err)
	}
	return rc, nil
}

func (d *DockerRuntime) Exec(ctx context.Context, containerID string, cmd []string, env []string) (int, error) {
	created, err := d.Client.ContainerExecCreate(ctx, containerID, container.ExecOptions{
		Cmd:          cmd,
		Env:          env,
		AttachStdout: true,
		AttachStderr: true,
	})
	if err != nil {
		return 0, buildrerr.Wrap(buildrerr.Execution, "", "exec", err)
	}

	attach, err := d.Client.ContainerExecAttach(ctx, created.ID, container.ExecAttachOptions{})
	if err != nil {
		return 0, buildrerr.Wrap(buildrerr.Execution, "", "exec", err)
	}
	defer attach.Close()

	scanner := bufio.NewScanner(attach.Reader)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		d.Log.Debug(scanner.Text())
	}

	inspect, err := d.Client.ContainerExecInspect(ctx, created.ID)
	if err != nil {
		return 0, buildrerr.Wrap(buildrerr.Execution, "", "exec", err)
	}
	return inspect.ExitCode, nil
}

func (d *DockerRuntime) CopyFromContainer(ctx context.Context, containerID, srcPath string) (io.ReadCloser, error) {
	rc, _, err := d.Client.CopyFromContainer(ctx, containerID, srcPath)
	if err != nil {
		return nil, buildrerr.Wrap(buildrerr.Resource, "", "copy-from-container", err)
	}
	return rc, nil
}

func (d *DockerRuntime) CopyToContainer(ctx context.Context, containerID, dstPath string, tarStream io.Reader) error {
	err := d.Client.CopyToContainer(ctx, containerID, dstPath, tarStream, container.CopyToContainerOptions{})
	if err != nil {
		return buildrerr.Wrap(buildrerr.Resource, "", "copy-to-container", err)
	}
	return nil
}

func (d *DockerRuntime) CommitContainer(ctx context.Context, containerID string, opts CommitOptions) (string, error) {
	ref := opts.Repository
	if opts.Tag != "" {
		ref = opts.Repository + ":" + opts.Tag
	}
	resp, err := d.Client.ContainerCommit(ctx, containerID, container.CommitOptions{Reference: ref})
	if err != nil {
		return "", buildrerr.Wrap(buildrerr.Resource, "", "commit-container", err)
	}
	return resp.ID, nil
}

func (d *DockerRuntime) TagImage(ctx context.Context, imageID, ref string) error {
	if _, err := ggcrname.NewTag(ref, ggcrname.WeakValidation); err != nil {
		return buildrerr.Wrap(buildrerr.Configuration, "", "tag-image", err)
	}
	if err := d.Client.ImageTag(ctx, imageID, ref); err != nil {
		return buildrerr.Wrap(buildrerr.Resource, "", "tag-image", err)
	}
	return nil
}

func (d *DockerRuntime) PushImage(ctx context.Context, ref string) error {
	if _, err := ggcrname.NewTag(ref, ggcrname.WeakValidation); err != nil {
		return buildrerr.Wrap(buildrerr.Configuration, "", "push-image", err)
	}
	rc, err := d.Client.ImagePush(ctx, ref, image.PushOptions{})
	if err != nil {
		return buildrerr.Wrap(buildrerr.Integration, "", "push-image", err)
	}
	defer rc.Close()
	if _, err := io.Copy(io.Discard, rc); err != nil {
		return buildrerr.Wrap(buildrerr.Integration, "", "push-image", err)
	}
	return nil
}

func (d *DockerRuntime) InspectContainerIP(ctx context.Context, containerID, network string) (string, error) {
	info, err := d.Client.ContainerInspect(ctx, containerID)
	if err != nil {
		return "", buildrerr.Wrap(buildrerr.Resource, "", "inspect-container", err)
	}
	if info.NetworkSettings == nil {
		return "", fmt.Errorf("container %s has no network settings", containerID)
	}
	if net, ok := info.NetworkSettings.Networks[network]; ok {
		return net.IPAddress, nil
	}
	return info.NetworkSettings.IPAddress, nil
}

func (d *DockerRuntime) RemoveContainer(ctx context.Context, containerID string) error {
	err := d.Client.ContainerRemove(ctx, containerID, container.RemoveOptions{Force: true})
	if err != nil && !client.IsErrNotFound(err) {
		return buildrerr.Wrap(buildrerr.Resource, "", "remove-container", err)
	}
	return nil
}

func (d *DockerRuntime) RemoveImage(ctx context.Context, imageID string) error {
	_, err := d.Client.ImageRemove(ctx, imageID, image.RemoveOptions{Force: true})
	if err != nil && !client.IsErrNotFound(err) {
		return buildrerr.Wrap(buildrerr.Resource, "", "remove-image", err)
	}
	return nil
}

func (d *DockerRuntime) CreateNetwork(ctx context.Context, name string) (string, error) {
	resp, err := d.Client.NetworkCreate(ctx, name, network.CreateOptions{Driver: "bridge"})
	if err != nil {
		return "", buildrerr.Wrap(buildrerr.Resource, "", "create-network", err)
	}
	return resp.ID, nil
}

func (d *DockerRuntime) RemoveNetwork(ctx context.Context, networkID string) error {
	if err := d.Client.NetworkRemove(ctx, networkID); err != nil && !client.IsErrNotFound(err) {
		return buildrerr.Wrap(buildrerr.Resource, "", "remove-network", err)
	}
	return nil
}
