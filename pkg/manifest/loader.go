package manifest

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/buildrunner/buildrunner/pkg/buildrerr"
)

// Loader is the contract the engine depends on to obtain a Manifest.
// spec.md §6 places templating and schema evaluation out of scope; a
// Loader only has to turn already-resolved YAML bytes into a validated
// Manifest. Callers that need templating sit in front of this interface.
type Loader interface {
	Load(path string) (*Manifest, error)
}

// YAMLLoader is the default Loader: it reads a single YAML file from disk
// and validates it. It performs no templating, includes, or variable
// substitution — those are the out-of-scope front end's job per spec.md.
type YAMLLoader struct{}

// NewYAMLLoader constructs the default Loader.
func NewYAMLLoader() *YAMLLoader { return &YAMLLoader{} }

func (l *YAMLLoader) Load(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, buildrerr.Wrap(buildrerr.Configuration, "", "load-manifest", fmt.Errorf("read %s: %w", path, err))
	}

	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, buildrerr.Wrap(buildrerr.Configuration, "", "parse-manifest", fmt.Errorf("parse %s: %w", path, err))
	}

	if err := m.Validate(); err != nil {
		return nil, buildrerr.Wrap(buildrerr.Configuration, "", "validate-manifest", err)
	}

	return &m, nil
}
