// Package runtime defines the ContainerRuntime contract the engine builds
// workloads through, plus a docker/docker-client-backed default
// implementation. spec.md places "the container runtime client" out of
// scope as an external collaborator referenced via a contract; this
// package is that contract, grounded on the teacher's DockerCommand,
// Container, and Image wrapper types.
package runtime

import (
	"context"
	"io"
)

// ContainerRuntime is everything C5/C6/C7 need from a container engine:
// image build/pull/tag/push, container lifecycle, exec, and file transfer
// in and out of a container's filesystem.
type ContainerRuntime interface {
	// BuildImage streams a tar build context to the daemon and returns
	// the resulting image ID. platform is empty for the daemon default.
	BuildImage(ctx context.Context, opts BuildOptions) (imageID string, err error)

	// PullImage pulls ref, honoring pull as a no-op when false.
	PullImage(ctx context.Context, ref string, pull bool) error

	// CreateContainer creates (but does not start) a container.
	CreateContainer(ctx context.Context, opts ContainerOptions) (containerID string, err error)

	// StartContainer starts a previously created container.
	StartContainer(ctx context.Context, containerID string) error

	// WaitContainer blocks until the container exits and returns its
	// exit code.
	WaitContainer(ctx context.Context, containerID string) (exitCode int, err error)

	// StreamLogs returns a reader of combined stdout/stderr, closed by
	// the caller.
	StreamLogs(ctx context.Context, containerID string) (io.ReadCloser, error)

	// Exec runs cmd inside a running container and returns its exit
	// code once the command completes.
	Exec(ctx context.Context, containerID string, cmd []string, env []string) (exitCode int, err error)

	// CopyFromContainer streams srcPath (file or directory) out of a
	// container as a tar stream.
	CopyFromContainer(ctx context.Context, containerID, srcPath string) (io.ReadCloser, error)

	// CopyToContainer writes a tar stream into a container at dstPath.
	CopyToContainer(ctx context.Context, containerID, dstPath string, tarStream io.Reader) error

	// CommitContainer commits a container's current filesystem state to
	// a new image and returns its ID.
	CommitContainer(ctx context.Context, containerID string, opts CommitOptions) (imageID string, err error)

	// TagImage applies an additional tag to an existing local image.
	TagImage(ctx context.Context, imageID, ref string) error

	// PushImage pushes ref (which must already be tagged locally) to
	// its registry.
	PushImage(ctx context.Context, ref string) error

	// InspectContainerIP returns the container's address on the given
	// network, used by wait-for polling.
	InspectContainerIP(ctx context.Context, containerID, network string) (string, error)

	// RemoveContainer force-removes a container, ignoring "not found".
	RemoveContainer(ctx context.Context, containerID string) error

	// RemoveImage removes a local image, ignoring "not found".
	RemoveImage(ctx context.Context, imageID string) error

	// CreateNetwork creates a bridge network for one workload.
	CreateNetwork(ctx context.Context, name string) (networkID string, err error)

	// RemoveNetwork removes a previously created network.
	RemoveNetwork(ctx context.Context, networkID string) error

	// Close releases any resources (SSH tunnels, client connections)
	// held by the runtime for the lifetime of the build.
	Close() error
}

// BuildOptions configures a single-platform image build.
type BuildOptions struct {
	ContextTar io.Reader
	Dockerfile string
	Tags       []string
	BuildArgs  map[string]*string
	Target     string
	NoCache    bool
	Pull       bool
	CacheFrom  []string
	Platform   string
}

// ContainerOptions configures container creation.
type ContainerOptions struct {
	Name         string
	Image        string
	Cmd          []string
	Env          []string
	WorkingDir   string
	User         string
	Hostname     string
	DNS          []string
	DNSSearch    []string
	ExtraHosts   []string
	Binds        []string
	PortBindings map[string]string
	NetworkID    string
	CapAdd       []string
	Privileged   bool
	Labels       map[string]string
}

// CommitOptions configures an image commit.
type CommitOptions struct {
	Repository string
	Tag        string
}
