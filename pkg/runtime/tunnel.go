package runtime

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/url"
	"os"
	"os/exec"
	"path/filepath"
	"syscall"
	"time"
)

// handleSSHDockerHost rewrites DOCKER_HOST to a local unix socket tunneled
// over SSH when it uses the ssh:// scheme, returning a closer that tears
// the tunnel down. Grounded directly on the teacher's
// handleSSHDockerHost/createDockerHostTunnel in pkg/commands/docker.go —
// the only change is the function names and the buildrunner-prefixed temp
// directory.
func handleSSHDockerHost(ctx context.Context) (io.Closer, error) {
	const key = "DOCKER_HOST"
	u, err := url.Parse(os.Getenv(key))
	if err != nil {
		return noopCloser{}, nil
	}

	if u.Scheme != "ssh" {
		return noopCloser{}, nil
	}

	tunnel, err := createDockerHostTunnel(ctx, u.Host)
	if err != nil {
		return noopCloser{}, fmt.Errorf("tunnel ssh docker host: %w", err)
	}
	if err := os.Setenv(key, tunnel.SocketPath); err != nil {
		return noopCloser{}, fmt.Errorf("override DOCKER_HOST to tunneled socket: %w", err)
	}
	return tunnel, nil
}

type noopCloser struct{}

func (noopCloser) Close() error { return nil }

// TunneledDockerHost owns the background `ssh -L` process forwarding the
// remote docker socket to a local one.
type TunneledDockerHost struct {
	SocketPath string
	cmd        *exec.Cmd
}

func (t *TunneledDockerHost) Close() error {
	return syscall.Kill(-t.cmd.Process.Pid, syscall.SIGKILL)
}

func createDockerHostTunnel(ctx context.Context, remoteHost string) (*TunneledDockerHost, error) {
	socketDir, err := os.MkdirTemp("", "buildrunner-sshtunnel-")
	if err != nil {
		return nil, fmt.Errorf("create ssh tunnel tmp dir: %w", err)
	}
	localSocket := filepath.Join(socketDir, "dockerhost.sock")

	cmd, err := tunnelSSH(ctx, remoteHost, localSocket)
	if err != nil {
		return nil, fmt.Errorf("tunnel docker host over ssh: %w", err)
	}

	const socketTunnelTimeout = 8 * time.Second
	waitCtx, cancel := context.WithTimeout(ctx, socketTunnelTimeout)
	defer cancel()

	if err := retrySocketDial(waitCtx, localSocket); err != nil {
		return nil, fmt.Errorf("ssh tunneled socket never became available: %w", err)
	}

	return &TunneledDockerHost{
		SocketPath: (&url.URL{Scheme: "unix", Path: localSocket}).String(),
		cmd:        cmd,
	}, nil
}

func retrySocketDial(ctx context.Context, socketPath string) error {
	t := time.NewTicker(200 * time.Millisecond)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
		if err := tryDial(ctx, socketPath); err == nil {
			return nil
		}
	}
}

func tryDial(ctx context.Context, socketPath string) error {
	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "unix", socketPath)
	if err != nil {
		return err
	}
	return conn.Close()
}

func tunnelSSH(ctx context.Context, host, localSocket string) (*exec.Cmd, error) {
	cmd := exec.CommandContext(ctx, "ssh", "-L", localSocket+":/var/run/docker.sock", host, "-N")
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	if err := cmd.Start(); err != nil {
		return nil, err
	}
	return cmd, nil
}
