package manifest

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// UnmarshalYAML decodes RunSpec's embedded ContainerSpec fields normally,
// then separately decodes `services` as a mapping of name to container
// spec — services are named exactly like steps are, so the same
// order-preserving mapping approach applies (see Manifest.UnmarshalYAML).
func (r *RunSpec) UnmarshalYAML(node *yaml.Node) error {
	if err := node.Decode(&r.ContainerSpec); err != nil {
		return err
	}

	if node.Kind != yaml.MappingNode {
		return nil
	}

	for i := 0; i < len(node.Content); i += 2 {
		if node.Content[i].Value != "services" {
			continue
		}
		svcNode := node.Content[i+1]
		if svcNode.Kind != yaml.MappingNode {
			return fmt.Errorf("services: expected a mapping of service name to container spec")
		}
		r.Services = make([]ServiceSpec, 0, len(svcNode.Content)/2)
		for j := 0; j < len(svcNode.Content); j += 2 {
			name := svcNode.Content[j].Value
			var cs ContainerSpec
			if err := svcNode.Content[j+1].Decode(&cs); err != nil {
				return fmt.Errorf("services[%s]: %w", name, err)
			}
			r.Services = append(r.Services, ServiceSpec{Name: name, ContainerSpec: cs})
		}
	}

	return nil
}
