package scheduler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/buildrunner/buildrunner/pkg/manifest"
)

func mustManifest(t *testing.T, doc string) *manifest.Manifest {
	t.Helper()
	var m manifest.Manifest
	require.NoError(t, yaml.Unmarshal([]byte(doc), &m))
	return &m
}

func TestScheduleRespectsDependsAndIsStable(t *testing.T) {
	m := mustManifest(t, `
version: "2.0"
steps:
  a:
    build: { path: . }
  c:
    build: { path: . }
  b:
    depends: [a, c]
    run:
      image: alpine
      cmd: echo hi
`)

	plan, err := Schedule(m, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "c", "b"}, plan.Order)
}

func TestScheduleDetectsCycle(t *testing.T) {
	m := mustManifest(t, `
version: "2.0"
steps:
  a:
    depends: [b]
    build: { path: . }
  b:
    depends: [a]
    build: { path: . }
`)

	_, err := Schedule(m, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cycle")
}

func TestScheduleSubsetPrunesUnrelatedSteps(t *testing.T) {
	m := mustManifest(t, `
version: "2.0"
steps:
  a:
    build: { path: . }
  b:
    depends: [a]
    build: { path: . }
  unrelated:
    build: { path: . }
`)

	plan, err := Schedule(m, []string{"b"})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a", "b"}, plan.Order)
}

func TestScheduleUnknownSubsetNameFails(t *testing.T) {
	m := mustManifest(t, `
version: "2.0"
steps:
  a:
    build: { path: . }
`)

	_, err := Schedule(m, []string{"missing"})
	require.Error(t, err)
}

func TestScheduleSubsetKeepsImplicitImageProducer(t *testing.T) {
	m := mustManifest(t, `
version: "2.0"
steps:
  base:
    build: { path: . }
    commit:
      repository: myrepo/base
  app:
    run:
      image: base
      cmd: echo hi
  unrelated:
    build: { path: . }
`)

	plan, err := Schedule(m, []string{"app"})
	require.NoError(t, err)
	assert.Equal(t, []string{"base", "app"}, plan.Order)
}

func TestScheduleImplicitEdgeFromImageReference(t *testing.T) {
	m := mustManifest(t, `
version: "2.0"
steps:
  base:
    build: { path: . }
    commit:
      repository: myrepo/base
  app:
    run:
      image: base
      cmd: echo hi
`)

	plan, err := Schedule(m, nil)
	require.NoError(t, err)
	require.Equal(t, []string{"base", "app"}, plan.Order)
}
