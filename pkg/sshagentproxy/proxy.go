// Package sshagentproxy implements C4: given a set of identity aliases,
// load each private key, start an agent holding exactly those keys, and
// expose it over a per-workload UNIX socket. Adapted from the teacher's
// vendored github.com/containers/buildah/pkg/sshagent, which solves the
// identical "forward a restricted, read-only agent into a container"
// problem for buildah's own --ssh flag; the adaptation here sources key
// material from the build's in-memory identity pool (pkg/buildctx)
// instead of host file paths, and drops the SELinux socket labeling
// buildah needs but a Docker-backed runtime does not.
package sshagentproxy

import (
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"

	"github.com/buildrunner/buildrunner/pkg/buildctx"
	"github.com/buildrunner/buildrunner/pkg/buildrerr"
)

// SocketEnvVar is the variable name every container with an agent
// forwarded into it receives, pointing at the mounted socket path.
const SocketEnvVar = "SSH_AUTH_SOCK"

// Proxy is one running agent, scoped to a single workload and restricted
// to exactly the keys it was started with.
type Proxy struct {
	agent     agent.Agent
	listener  net.Listener
	wg        sync.WaitGroup
	shutdown  chan struct{}
	serveDir  string
	servePath string
}

// Start loads each aliased identity from ctx's SSH identity pool, starts
// a read-only agent holding them, and listens on a fresh socket under a
// workload-scoped temp directory. Private key bytes are parsed into the
// agent's keyring and never written to disk or passed to the container.
func Start(ctx *buildctx.Context, aliases []string) (*Proxy, error) {
	keyring := agent.NewKeyring()
	for _, alias := range aliases {
		id, ok := ctx.SSHIdentity(alias)
		if !ok {
			return nil, buildrerr.New(buildrerr.Configuration, "", "ssh-agent", fmt.Sprintf("unknown ssh identity alias %q", alias))
		}
		key, err := parsePrivateKey(id)
		if err != nil {
			return nil, buildrerr.Wrap(buildrerr.Configuration, "", "ssh-agent", fmt.Errorf("identity %q: %w", alias, err))
		}
		if err := keyring.Add(agent.AddedKey{PrivateKey: key}); err != nil {
			return nil, buildrerr.Wrap(buildrerr.Internal, "", "ssh-agent", err)
		}
	}

	p := &Proxy{agent: &readOnlyAgent{keyring}, shutdown: make(chan struct{})}

	serveDir, err := os.MkdirTemp(ctx.TempDir, "ssh-agent-")
	if err != nil {
		return nil, buildrerr.Wrap(buildrerr.Resource, "", "ssh-agent", err)
	}
	if err := os.Chmod(serveDir, 0o700); err != nil {
		return nil, buildrerr.Wrap(buildrerr.Resource, "", "ssh-agent", err)
	}

	servePath := filepath.Join(serveDir, "ssh_auth_sock")
	listener, err := net.Listen("unix", servePath)
	if err != nil {
		os.RemoveAll(serveDir)
		return nil, buildrerr.Wrap(buildrerr.Resource, "", "ssh-agent", err)
	}

	p.serveDir = serveDir
	p.servePath = servePath
	p.listener = listener
	p.serve()

	return p, nil
}

func (p *Proxy) serve() {
	go func() {
		for {
			conn, err := p.listener.Accept()
			if err != nil {
				select {
				case <-p.shutdown:
					return
				default:
					continue
				}
			}
			p.wg.Add(1)
			go func() {
				defer p.wg.Done()
				if err := agent.ServeAgent(p.agent, conn); err != nil && err != io.EOF {
					// connection closed or protocol error; nothing more to do
				}
			}()
			go func() {
				time.Sleep(2 * time.Second)
				conn.Close()
			}()
		}
	}()
}

// SocketPath is the host path to bind-mount into the container.
func (p *Proxy) SocketPath() string { return p.servePath }

// Close shuts down the agent and removes its socket directory.
func (p *Proxy) Close() error {
	close(p.shutdown)
	p.listener.Close()
	p.wg.Wait()
	return os.RemoveAll(p.serveDir)
}

func parsePrivateKey(id buildctx.SSHIdentity) (any, error) {
	if id.Passphrase != "" {
		return ssh.ParseRawPrivateKeyWithPassphrase(id.KeyMaterial, []byte(id.Passphrase))
	}
	return ssh.ParseRawPrivateKey(id.KeyMaterial)
}

// readOnlyAgent rejects Add/Remove/Lock/Extension so a compromised
// container process can observe signing operations but can never mutate
// the host's loaded identities.
type readOnlyAgent struct {
	agent.Agent
}

func (a *readOnlyAgent) Add(agent.AddedKey) error {
	return fmt.Errorf("adding keys to a forwarded agent is not allowed")
}

func (a *readOnlyAgent) Remove(ssh.PublicKey) error {
	return fmt.Errorf("removing keys from a forwarded agent is not allowed")
}

func (a *readOnlyAgent) RemoveAll() error {
	return fmt.Errorf("removing keys from a forwarded agent is not allowed")
}

func (a *readOnlyAgent) Lock([]byte) error {
	return fmt.Errorf("locking a forwarded agent is not allowed")
}
