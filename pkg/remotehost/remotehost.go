// Package remotehost implements the remote stage's RemoteHostRunner
// contract: run a command over SSH on a host resolved through the user's
// ssh config (or a literal user@host), then fetch back any requested
// artifacts over SFTP. Grounded on the tunnelSSH helper in
// pkg/runtime/tunnel.go, which already drives an `ssh` child
// process for the Docker-host-over-SSH case; this package generalizes the
// same approach to running an arbitrary remote command.
package remotehost

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path"
	"path/filepath"
	"strings"

	"github.com/kevinburke/ssh_config"
	"github.com/pkg/sftp"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/ssh"

	"github.com/buildrunner/buildrunner/pkg/buildrerr"
	"github.com/buildrunner/buildrunner/pkg/manifest"
)

// Result is what a remote stage produces.
type Result struct {
	ExitCode  int
	Artifacts map[string][]byte // relative path -> contents, for the caller to stage under results/
}

// Runner is the contract C7's remote stage drives. The default
// implementation shells out to the host's own `ssh`/sftp client config
// resolution instead of re-implementing ~/.ssh/config parsing from
// scratch, then uses golang.org/x/crypto/ssh directly for the SFTP
// artifact pull since that doesn't need an interactive terminal.
type Runner interface {
	Run(ctx context.Context, step string, spec *manifest.RemoteSpec) (*Result, error)
}

// SSHRunner is the production Runner.
type SSHRunner struct {
	Log *logrus.Entry
}

func NewSSHRunner(log *logrus.Entry) *SSHRunner { return &SSHRunner{Log: log} }

func (r *SSHRunner) Run(ctx context.Context, step string, spec *manifest.RemoteSpec) (*Result, error) {
	host, user, port := resolveHost(spec.Host)

	script := assembleScript(spec)
	args := []string{"-o", "BatchMode=yes"}
	if port != "" {
		args = append(args, "-p", port)
	}
	target := host
	if user != "" {
		target = user + "@" + host
	}
	args = append(args, target)
	if spec.Workdir != "" {
		args = append(args, fmt.Sprintf("mkdir -p %s && cd %s && %s", spec.Workdir, spec.Workdir, script))
	} else {
		args = append(args, script)
	}

	cmd := exec.CommandContext(ctx, "ssh", args...)
	cmd.Env = append(os.Environ(), envList(spec.Env)...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	exitCode := 0
	if err := cmd.Run(); err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		} else {
			return nil, buildrerr.Wrap(buildrerr.Integration, step, "remote", err)
		}
	}
	r.Log.WithFields(logrus.Fields{"step": step, "host": target}).Debug(stdout.String())
	if stderr.Len() > 0 {
		r.Log.WithFields(logrus.Fields{"step": step, "host": target}).Debug(stderr.String())
	}

	artifacts := map[string][]byte{}
	if len(spec.Artifacts) > 0 {
		fetched, err := r.fetchArtifacts(ctx, spec, target)
		if err != nil {
			return nil, buildrerr.Wrap(buildrerr.Integration, step, "remote", err)
		}
		artifacts = fetched
	}

	return &Result{ExitCode: exitCode, Artifacts: artifacts}, nil
}

func assembleScript(spec *manifest.RemoteSpec) string {
	var parts []string
	if spec.Cmd != "" {
		parts = append(parts, spec.Cmd)
	}
	parts = append(parts, spec.Cmds...)
	return strings.Join(parts, " && ")
}

func envList(env map[string]string) []string {
	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, k+"="+v)
	}
	return out
}

// resolveHost looks up alias in the user's ssh config the way the
// teacher's own SSH tunnel code resolves a Docker host alias, falling back
// to treating the value as a literal [user@]host.
func resolveHost(alias string) (host, user, port string) {
	if strings.Contains(alias, "@") {
		parts := strings.SplitN(alias, "@", 2)
		user, alias = parts[0], parts[1]
	}

	cfgPath := filepath.Join(os.Getenv("HOME"), ".ssh", "config")
	f, err := os.Open(cfgPath)
	if err != nil {
		return alias, user, port
	}
	defer f.Close()

	cfg, err := ssh_config.Decode(f)
	if err != nil {
		return alias, user, port
	}

	if resolved, err := cfg.Get(alias, "HostName"); err == nil && resolved != "" {
		host = resolved
	} else {
		host = alias
	}
	if resolvedUser, err := cfg.Get(alias, "User"); err == nil && resolvedUser != "" && user == "" {
		user = resolvedUser
	}
	if resolvedPort, err := cfg.Get(alias, "Port"); err == nil {
		port = resolvedPort
	}
	return host, user, port
}

// fetchArtifacts opens a direct SSH+SFTP session (independent of the
// interactive `ssh` child process above) to pull back every glob match
// under spec.Workdir.
func (r *SSHRunner) fetchArtifacts(ctx context.Context, spec *manifest.RemoteSpec, target string) (map[string][]byte, error) {
	user, host := splitTarget(target)

	authMethod, err := sshAgentAuth()
	if err != nil {
		return nil, err
	}

	conn, err := ssh.Dial("tcp", host+":22", &ssh.ClientConfig{
		User:            user,
		Auth:            []ssh.AuthMethod{authMethod},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
	})
	if err != nil {
		return nil, fmt.Errorf("dial %s for artifact fetch: %w", host, err)
	}
	defer conn.Close()

	client, err := sftp.NewClient(conn)
	if err != nil {
		return nil, err
	}
	defer client.Close()

	out := map[string][]byte{}
	for _, glob := range spec.Artifacts {
		full := glob
		if spec.Workdir != "" {
			full = path.Join(spec.Workdir, glob)
		}
		matches, err := client.Glob(full)
		if err != nil {
			return nil, err
		}
		for _, m := range matches {
			f, err := client.Open(m)
			if err != nil {
				return nil, err
			}
			data, err := io.ReadAll(f)
			f.Close()
			if err != nil {
				return nil, err
			}
			rel := strings.TrimPrefix(m, spec.Workdir+"/")
			out[rel] = data
		}
	}
	return out, nil
}

func splitTarget(target string) (user, host string) {
	if idx := strings.Index(target, "@"); idx >= 0 {
		return target[:idx], target[idx+1:]
	}
	return "", target
}

// sshAgentAuth authenticates artifact fetch sessions against the caller's
// own SSH agent rather than buildrunner's identity pool — the remote stage
// runs on the host, not inside a workload, so it uses the operator's
// ambient SSH_AUTH_SOCK the same way a plain `ssh` invocation would.
func sshAgentAuth() (ssh.AuthMethod, error) {
	sock := os.Getenv("SSH_AUTH_SOCK")
	if sock == "" {
		return nil, fmt.Errorf("SSH_AUTH_SOCK is not set; remote artifact fetch needs an ssh-agent")
	}
	conn, err := dialAgent(sock)
	if err != nil {
		return nil, err
	}
	return ssh.PublicKeysCallback(agentSigners(conn)), nil
}
