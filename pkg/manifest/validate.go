package manifest

import (
	"fmt"

	ggcrname "github.com/google/go-containerregistry/pkg/name"
	"github.com/hashicorp/go-multierror"
)

// minDependsVersion is the lowest manifest version that may use `depends`;
// spec.md §4.1 ties explicit ordering to the version where the scheduler's
// DAG semantics (as opposed to a strictly sequential list) were introduced.
const minDependsVersion = "2.0"

// Validate checks the structural invariants spec.md §4.1/§9 place on a
// manifest before it reaches pkg/scheduler: unique step names, depends
// referencing real steps, depends gated on manifest version, remote steps
// not mixed with build/run, and commit/push tag sets that can't resolve to
// nothing.
func (m *Manifest) Validate() error {
	var errs *multierror.Error

	seen := make(map[string]bool, len(m.Steps))
	names := make(map[string]bool, len(m.Steps))
	for _, s := range m.Steps {
		if s.Name == "" {
			errs = multierror.Append(errs, fmt.Errorf("step has no name"))
			continue
		}
		if seen[s.Name] {
			errs = multierror.Append(errs, fmt.Errorf("duplicate step name %q", s.Name))
		}
		seen[s.Name] = true
		names[s.Name] = true
	}

	hasDepends := false
	for _, s := range m.Steps {
		if len(s.Depends) > 0 {
			hasDepends = true
		}
		for _, dep := range s.Depends {
			if !names[dep] {
				errs = multierror.Append(errs, fmt.Errorf("step %q depends on unknown step %q", s.Name, dep))
			}
			if dep == s.Name {
				errs = multierror.Append(errs, fmt.Errorf("step %q depends on itself", s.Name))
			}
		}

		if s.Remote != nil && (s.Build != nil || s.Run != nil) {
			errs = multierror.Append(errs, fmt.Errorf("step %q: remote cannot be combined with build or run", s.Name))
		}
		if s.Build == nil && s.Run == nil && s.Remote == nil {
			errs = multierror.Append(errs, fmt.Errorf("step %q: must have at least one of build, run, remote", s.Name))
		}

		if s.Commit != nil {
			if !s.Commit.WillHaveAnyTag() {
				errs = multierror.Append(errs, fmt.Errorf("step %q: commit resolves to no tags (add_build_tag is false and tags is empty)", s.Name))
			}
			if _, err := ggcrname.NewRepository(s.Commit.Repository, ggcrname.WeakValidation); err != nil {
				errs = multierror.Append(errs, fmt.Errorf("step %q: commit.repository %q: %w", s.Name, s.Commit.Repository, err))
			}
		}
		if s.Push != nil {
			if !s.Push.WillHaveAnyTag() {
				errs = multierror.Append(errs, fmt.Errorf("step %q: push resolves to no tags (add_build_tag is false and tags is empty)", s.Name))
			}
			if _, err := ggcrname.NewRepository(s.Push.Repository, ggcrname.WeakValidation); err != nil {
				errs = multierror.Append(errs, fmt.Errorf("step %q: push.repository %q: %w", s.Name, s.Push.Repository, err))
			}
		}

		if s.Run != nil {
			for i, p := range s.Run.Provisioners {
				if !p.IsSet() {
					errs = multierror.Append(errs, fmt.Errorf("step %q: provisioners[%d] must set exactly one of shell or salt", s.Name, i))
				}
			}
			for i, svc := range s.Run.Services {
				if svc.Name == "" {
					errs = multierror.Append(errs, fmt.Errorf("step %q: services[%d] has no name", s.Name, i))
				}
			}
		}
	}

	if hasDepends && versionLess(m.Version, minDependsVersion) {
		errs = multierror.Append(errs, fmt.Errorf("manifest version %q does not support depends (requires >= %s)", m.Version, minDependsVersion))
	}

	return errs.ErrorOrNil()
}

// versionLess does a best-effort "major.minor" numeric compare; manifest
// versions are not a general semver field so this only needs to handle the
// X.Y shape used throughout spec.md's examples.
func versionLess(a, b string) bool {
	aMaj, aMin := splitVersion(a)
	bMaj, bMin := splitVersion(b)
	if aMaj != bMaj {
		return aMaj < bMaj
	}
	return aMin < bMin
}

func splitVersion(v string) (int, int) {
	var maj, min int
	_, err := fmt.Sscanf(v, "%d.%d", &maj, &min)
	if err != nil {
		return 0, 0
	}
	return maj, min
}
