package manifest

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// UnmarshalYAML decodes the `steps` block as a mapping of name to step body
// rather than a sequence, preserving declaration order — pkg/scheduler's
// stable tie-break (spec.md §4.2) depends on that order surviving the
// round trip, which a plain map[string]*Step would lose.
func (m *Manifest) UnmarshalYAML(node *yaml.Node) error {
	var raw struct {
		Version       string        `yaml:"version"`
		GlobalOptions GlobalOptions `yaml:"global_options"`
		Steps         yaml.Node     `yaml:"steps"`
	}
	if err := node.Decode(&raw); err != nil {
		return err
	}

	m.Version = raw.Version
	m.GlobalOptions = raw.GlobalOptions

	if raw.Steps.Kind == 0 {
		return nil
	}
	if raw.Steps.Kind != yaml.MappingNode {
		return fmt.Errorf("steps: expected a mapping of step name to step body")
	}

	m.Steps = make([]*Step, 0, len(raw.Steps.Content)/2)
	for i := 0; i < len(raw.Steps.Content); i += 2 {
		keyNode := raw.Steps.Content[i]
		valNode := raw.Steps.Content[i+1]

		step := &Step{Name: keyNode.Value}
		if err := valNode.Decode(step); err != nil {
			return fmt.Errorf("step %q: %w", keyNode.Value, err)
		}
		step.Name = keyNode.Value

		if step.Run != nil {
			if err := step.Run.NormalizeCaches(); err != nil {
				return fmt.Errorf("step %q: run: %w", keyNode.Value, err)
			}
			for si := range step.Run.Services {
				svc := &step.Run.Services[si]
				if svc.Name == "" {
					return fmt.Errorf("step %q: services entries must be a mapping of name to container spec", keyNode.Value)
				}
				if err := svc.NormalizeCaches(); err != nil {
					return fmt.Errorf("step %q: services[%s]: %w", keyNode.Value, svc.Name, err)
				}
			}
		}

		m.Steps = append(m.Steps, step)
	}

	return nil
}
