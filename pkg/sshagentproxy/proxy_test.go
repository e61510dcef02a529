package sshagentproxy

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"net"
	"testing"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/buildrunner/buildrunner/pkg/buildctx"
	"github.com/buildrunner/buildrunner/pkg/config"
)

func generateEd25519PEM(t *testing.T) []byte {
	t.Helper()
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	block, err := ssh.MarshalPrivateKey(priv, "")
	require.NoError(t, err)
	return pem.EncodeToMemory(block)
}

func TestStartServesOnlyConfiguredKey(t *testing.T) {
	cfg := &config.AppConfig{ConfigDir: t.TempDir(), UserConfig: &config.UserConfig{}}
	ctx, err := buildctx.New(cfg, logrus.NewEntry(logrus.New()), buildctx.Options{Branch: "main", ShortSHA: "abc1234"})
	require.NoError(t, err)
	defer ctx.Close()

	ctx.AddSSHIdentity(buildctx.SSHIdentity{Alias: "deploy", KeyMaterial: generateEd25519PEM(t)})

	p, err := Start(ctx, []string{"deploy"})
	require.NoError(t, err)
	defer p.Close()

	conn, err := net.Dial("unix", p.SocketPath())
	require.NoError(t, err)
	defer conn.Close()

	client := agent.NewClient(conn)
	keys, err := client.List()
	require.NoError(t, err)
	require.Len(t, keys, 1)

	err = client.Add(agent.AddedKey{PrivateKey: keys})
	require.Error(t, err)
}

func TestStartFailsOnUnknownAlias(t *testing.T) {
	cfg := &config.AppConfig{ConfigDir: t.TempDir(), UserConfig: &config.UserConfig{}}
	ctx, err := buildctx.New(cfg, logrus.NewEntry(logrus.New()), buildctx.Options{Branch: "main", ShortSHA: "abc1234"})
	require.NoError(t, err)
	defer ctx.Close()

	_, err = Start(ctx, []string{"missing"})
	require.Error(t, err)
}
