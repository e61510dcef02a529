package manifest

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func mustUnmarshal(t *testing.T, doc string) *Manifest {
	t.Helper()
	var m Manifest
	require.NoError(t, yaml.Unmarshal([]byte(doc), &m))
	return &m
}

func TestManifestUnmarshalPreservesStepOrder(t *testing.T) {
	m := mustUnmarshal(t, `
version: "2.0"
steps:
  build:
    build:
      path: .
  test:
    depends: [build]
    run:
      image: golang:1.24
      cmd: go test ./...
  publish:
    depends: [test]
    run:
      image: golang:1.24
    commit:
      repository: registry.example.com/app
`)

	require.Len(t, m.Steps, 3)
	assert.Equal(t, "build", m.Steps[0].Name)
	assert.Equal(t, "test", m.Steps[1].Name)
	assert.Equal(t, "publish", m.Steps[2].Name)
	assert.True(t, m.Steps[0].IsBuildOnly())
	assert.True(t, m.Steps[1].IsRunOnly())
	assert.NoError(t, m.Validate())
}

func TestNormalizeCachesBothForms(t *testing.T) {
	m := mustUnmarshal(t, `
version: "2.0"
steps:
  build:
    run:
      image: golang:1.24
      cmd: go build ./...
      caches:
        /root/.cache/go-build: go-build-v1
        /go/pkg/mod: [mod-v1, mod-v2]
`)

	caches := m.Steps[0].Run.Caches
	assert.Equal(t, []string{"go-build-v1"}, caches["/root/.cache/go-build"])
	assert.Equal(t, []string{"mod-v1", "mod-v2"}, caches["/go/pkg/mod"])
}

func TestValidateRejectsUnknownDependency(t *testing.T) {
	m := mustUnmarshal(t, `
version: "2.0"
steps:
  test:
    depends: [missing]
    run:
      image: golang:1.24
      cmd: go test ./...
`)

	err := m.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown step "missing"`)
}

func TestValidateRejectsDependsBelowMinVersion(t *testing.T) {
	m := mustUnmarshal(t, `
version: "1.0"
steps:
  build:
    run:
      image: golang:1.24
      cmd: go build ./...
  test:
    depends: [build]
    run:
      image: golang:1.24
      cmd: go test ./...
`)

	err := m.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "does not support depends")
}

func TestValidateRejectsCommitWithNoResolvableTag(t *testing.T) {
	f := false
	m := mustUnmarshal(t, `
version: "2.0"
steps:
  build:
    build:
      path: .
`)
	m.Steps[0].Commit = &CommitSpec{Repository: "registry.example.com/app", AddBuildTag: &f}

	err := m.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "resolves to no tags")
}

func TestValidateRejectsRemoteCombinedWithRun(t *testing.T) {
	m := mustUnmarshal(t, `
version: "2.0"
steps:
  deploy:
    remote:
      host: deploy-host
      cmd: ./deploy.sh
    run:
      image: golang:1.24
      cmd: go build ./...
`)

	err := m.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "remote cannot be combined")
}

func TestServicesPreserveOrderAndName(t *testing.T) {
	m := mustUnmarshal(t, `
version: "2.0"
steps:
  integration:
    run:
      image: app:latest
      cmd: ./run-tests.sh
      services:
        postgres:
          image: postgres:16
        redis:
          image: redis:7
`)

	svcs := m.Steps[0].Run.Services
	require.Len(t, svcs, 2)
	assert.Equal(t, "postgres", svcs[0].Name)
	assert.Equal(t, "redis", svcs[1].Name)
}
