package remotehost

import (
	"net"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
)

func dialAgent(sock string) (net.Conn, error) {
	return net.Dial("unix", sock)
}

func agentSigners(conn net.Conn) func() ([]ssh.Signer, error) {
	client := agent.NewClient(conn)
	return client.Signers
}
