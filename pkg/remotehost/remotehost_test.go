package remotehost

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/buildrunner/buildrunner/pkg/manifest"
)

func TestAssembleScriptJoinsCmdAndCmds(t *testing.T) {
	spec := &manifest.RemoteSpec{Cmd: "make build", Cmds: []string{"make test", "make package"}}
	assert.Equal(t, "make build && make test && make package", assembleScript(spec))
}

func TestAssembleScriptHandlesCmdsOnly(t *testing.T) {
	spec := &manifest.RemoteSpec{Cmds: []string{"make test"}}
	assert.Equal(t, "make test", assembleScript(spec))
}

func TestResolveHostLiteralUserAtHost(t *testing.T) {
	host, user, port := resolveHost("deploy@build.example.com")
	assert.Equal(t, "build.example.com", host)
	assert.Equal(t, "deploy", user)
	assert.Equal(t, "", port)
}

func TestSplitTarget(t *testing.T) {
	user, host := splitTarget("deploy@build.example.com")
	assert.Equal(t, "deploy", user)
	assert.Equal(t, "build.example.com", host)
}
