package manifest

import "fmt"

// NormalizeCaches turns CachesRaw — which a manifest author may write as
// either {target: "key"} or {target: ["key1", "key2"]} — into the single
// {target: [keys...]} shape the rest of the engine (and pkg/cache) expects.
// spec.md §3's Cache Entry invariant ("a single in-container target path
// may be associated with an ordered list of cache keys") is what makes the
// single-string form just sugar for a one-element list.
func (c *ContainerSpec) NormalizeCaches() error {
	if c.CachesRaw == nil {
		return nil
	}

	raw, ok := c.CachesRaw.(map[string]any)
	if !ok {
		return fmt.Errorf("caches: expected a mapping of target path to key or key list, got %T", c.CachesRaw)
	}

	normalized := make(map[string][]string, len(raw))
	for target, v := range raw {
		switch val := v.(type) {
		case string:
			normalized[target] = []string{val}
		case []any:
			keys := make([]string, 0, len(val))
			for _, k := range val {
				s, ok := k.(string)
				if !ok {
					return fmt.Errorf("caches[%s]: key list must contain only strings, got %T", target, k)
				}
				keys = append(keys, s)
			}
			if len(keys) == 0 {
				return fmt.Errorf("caches[%s]: key list must not be empty", target)
			}
			normalized[target] = keys
		default:
			return fmt.Errorf("caches[%s]: expected a string or list of strings, got %T", target, v)
		}
	}

	c.Caches = normalized
	return nil
}
