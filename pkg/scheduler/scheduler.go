// Package scheduler implements C8: turning a manifest's step list into a
// total order that respects declared and implicit dependencies, with a
// stable tie-break and cycle detection, per spec.md §4.1.
package scheduler

import (
	"fmt"
	"sort"

	"github.com/buildrunner/buildrunner/pkg/buildrerr"
	"github.com/buildrunner/buildrunner/pkg/manifest"
)

// Plan is the scheduler's output: the names of the steps selected to run
// (after subset pruning), in execution order.
type Plan struct {
	Order []string
}

// Schedule runs a Kahn-style topological sort over m.Steps. Ties between
// simultaneously-ready nodes are broken by declaration order (the index a
// step appears at in m.Steps), giving a deterministic order across runs of
// the same manifest. This tie-break is also what gives subset schedules
// their declaration-order guarantee per spec.md §4.1(iii): once pruned to
// only the named steps and their transitive dependencies (selectClosure),
// the topological sort above already respects relative declaration order
// among whatever survives pruning.
func Schedule(m *manifest.Manifest, subset []string) (*Plan, error) {
	index := make(map[string]int, len(m.Steps))
	byName := make(map[string]*manifest.Step, len(m.Steps))
	for i, s := range m.Steps {
		index[s.Name] = i
		byName[s.Name] = s
	}

	for _, name := range subset {
		if _, ok := byName[name]; !ok {
			return nil, buildrerr.New(buildrerr.Configuration, "", "schedule", fmt.Sprintf("unknown step in subset: %q", name))
		}
	}

	selected := byName
	if len(subset) > 0 {
		selected = selectClosure(byName, subset)
	}

	edges, err := buildEdges(selected)
	if err != nil {
		return nil, err
	}

	order, err := kahn(selected, edges, index)
	if err != nil {
		return nil, err
	}

	return &Plan{Order: order}, nil
}

// selectClosure walks backward from each subset member through `depends`
// edges and implicit image-reference edges, pruning every step not
// reachable as an ancestor of the subset — spec.md §4.1(iii)'s "prunes
// unreferenced steps and their unreached descendants" (descendants of the
// pruned set, not of the subset itself). Implicit producers must be
// walked here, against the full step map, because buildEdges only ever
// connects nodes already present in its input — a producer pruned before
// buildEdges runs can never be added back by it.
func selectClosure(byName map[string]*manifest.Step, subset []string) map[string]*manifest.Step {
	keep := make(map[string]bool, len(byName))
	var visit func(name string)
	visit = func(name string) {
		if keep[name] {
			return
		}
		keep[name] = true
		s := byName[name]
		for _, dep := range s.Depends {
			visit(dep)
		}
		for _, ref := range implicitImageRefs(s) {
			if ref == name {
				continue
			}
			if _, ok := byName[ref]; ok {
				visit(ref)
			}
		}
	}
	for _, name := range subset {
		visit(name)
	}

	out := make(map[string]*manifest.Step, len(keep))
	for name := range keep {
		out[name] = byName[name]
	}
	return out
}

// buildEdges collects explicit `depends` edges plus implicit edges formed
// when a step's run image or a service image names another step
// (spec.md §4.1(ii)).
func buildEdges(steps map[string]*manifest.Step) (map[string][]string, error) {
	edges := make(map[string][]string, len(steps))
	for name, s := range steps {
		deps := append([]string(nil), s.Depends...)
		for _, ref := range implicitImageRefs(s) {
			if ref == name {
				continue
			}
			if _, ok := steps[ref]; ok && !contains(deps, ref) {
				deps = append(deps, ref)
			}
		}
		edges[name] = deps
	}
	return edges, nil
}

// implicitImageRefs reports step names this step's image references might
// point at: the run image and every service image, each treated as a
// forward edge from the step of that name. A build's base image (its
// Dockerfile FROM line) is not inspected.
func implicitImageRefs(s *manifest.Step) []string {
	var refs []string
	if s.Run != nil && s.Run.Image != "" {
		refs = append(refs, s.Run.Image)
	}
	if s.Run != nil {
		for _, svc := range s.Run.Services {
			if svc.Image != "" {
				refs = append(refs, svc.Image)
			}
		}
	}
	return refs
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// kahn performs the topological sort. Ready nodes (indegree zero) are kept
// in a slice sorted by declaration index so the lowest-index ready node is
// always picked next, giving the stable tie-break spec.md §4.1 requires.
func kahn(steps map[string]*manifest.Step, edges map[string][]string, index map[string]int) ([]string, error) {
	indegree := make(map[string]int, len(steps))
	dependents := make(map[string][]string, len(steps))
	for name := range steps {
		indegree[name] = 0
	}
	for name, deps := range edges {
		indegree[name] = len(deps)
		for _, dep := range deps {
			dependents[dep] = append(dependents[dep], name)
		}
	}

	var ready []string
	for name, deg := range indegree {
		if deg == 0 {
			ready = append(ready, name)
		}
	}
	sort.Slice(ready, func(i, j int) bool { return index[ready[i]] < index[ready[j]] })

	var order []string
	for len(ready) > 0 {
		next := ready[0]
		ready = ready[1:]
		order = append(order, next)

		var newlyReady []string
		for _, dependent := range dependents[next] {
			indegree[dependent]--
			if indegree[dependent] == 0 {
				newlyReady = append(newlyReady, dependent)
			}
		}
		if len(newlyReady) > 0 {
			ready = append(ready, newlyReady...)
			sort.Slice(ready, func(i, j int) bool { return index[ready[i]] < index[ready[j]] })
		}
	}

	if len(order) != len(steps) {
		return nil, cycleError(steps, indegree)
	}

	return order, nil
}

// cycleError names at least one step still blocked after the sort
// stalls — necessarily part of (or downstream of) a cycle.
func cycleError(steps map[string]*manifest.Step, indegree map[string]int) error {
	var stuck []string
	for name, deg := range indegree {
		if deg > 0 {
			stuck = append(stuck, name)
		}
	}
	sort.Strings(stuck)
	return buildrerr.New(buildrerr.Configuration, stuck[0], "schedule", fmt.Sprintf("dependency cycle involving: %v", stuck))
}
