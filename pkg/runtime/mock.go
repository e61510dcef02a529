package runtime

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// Mock is an in-memory ContainerRuntime used by package tests elsewhere in
// the engine (pkg/workload, pkg/runner) so they can exercise scheduling
// and lifecycle logic without a live daemon. Grounded on the teacher's own
// pkg/commands/runtime_mock.go, which plays the identical role for its GUI
// tests.
type Mock struct {
	mu         sync.Mutex
	Containers map[string]*MockContainer
	Images     map[string]bool
	Networks   map[string]bool

	// ExitCodes maps a container name (not ID) to the exit code
	// WaitContainer should report; defaults to 0.
	ExitCodes map[string]int
}

type MockContainer struct {
	ID      string
	Options ContainerOptions
	Started bool
}

func NewMock() *Mock {
	return &Mock{
		Containers: map[string]*MockContainer{},
		Images:     map[string]bool{},
		Networks:   map[string]bool{},
		ExitCodes:  map[string]int{},
	}
}

func (m *Mock) BuildImage(ctx context.Context, opts BuildOptions) (string, error) {
	id := uuid.NewString()
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Images[id] = true
	for _, tag := range opts.Tags {
		m.Images[tag] = true
	}
	return id, nil
}

func (m *Mock) PullImage(ctx context.Context, ref string, pull bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Images[ref] = true
	return nil
}

func (m *Mock) CreateContainer(ctx context.Context, opts ContainerOptions) (string, error) {
	id := uuid.NewString()
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Containers[id] = &MockContainer{ID: id, Options: opts}
	return id, nil
}

func (m *Mock) StartContainer(ctx context.Context, containerID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.Containers[containerID]
	if !ok {
		return fmt.Errorf("no such container: %s", containerID)
	}
	c.Started = true
	return nil
}

func (m *Mock) WaitContainer(ctx context.Context, containerID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.Containers[containerID]
	if !ok {
		return 0, fmt.Errorf("no such container: %s", containerID)
	}
	return m.ExitCodes[c.Options.Name], nil
}

func (m *Mock) StreamLogs(ctx context.Context, containerID string) (io.ReadCloser, error) {
	return io.NopCloser(strings.NewReader("")), nil
}

func (m *Mock) Exec(ctx context.Context, containerID string, cmd []string, env []string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.Containers[containerID]
	if !ok {
		return 0, fmt.Errorf("no such container: %s", containerID)
	}
	return m.ExitCodes[c.Options.Name], nil
}

func (m *Mock) CopyFromContainer(ctx context.Context, containerID, srcPath string) (io.ReadCloser, error) {
	return io.NopCloser(strings.NewReader("")), nil
}

func (m *Mock) CopyToContainer(ctx context.Context, containerID, dstPath string, tarStream io.Reader) error {
	_, err := io.Copy(io.Discard, tarStream)
	return err
}

func (m *Mock) CommitContainer(ctx context.Context, containerID string, opts CommitOptions) (string, error) {
	id := uuid.NewString()
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Images[id] = true
	return id, nil
}

func (m *Mock) TagImage(ctx context.Context, imageID, ref string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Images[ref] = true
	return nil
}

func (m *Mock) PushImage(ctx context.Context, ref string) error { return nil }

func (m *Mock) InspectContainerIP(ctx context.Context, containerID, network string) (string, error) {
	return "127.0.0.1", nil
}

func (m *Mock) RemoveContainer(ctx context.Context, containerID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.Containers, containerID)
	return nil
}

func (m *Mock) RemoveImage(ctx context.Context, imageID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.Images, imageID)
	return nil
}

func (m *Mock) CreateNetwork(ctx context.Context, name string) (string, error) {
	id := uuid.NewString()
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Networks[id] = true
	return id, nil
}

func (m *Mock) RemoveNetwork(ctx context.Context, networkID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.Networks, networkID)
	return nil
}

func (m *Mock) Close() error { return nil }

var _ ContainerRuntime = (*Mock)(nil)
