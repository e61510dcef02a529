// Package vcsinfo defines the VCSInfoProbe contract — one of spec.md §1's
// out-of-scope external collaborators — plus a git-shell-out default
// implementation, grounded on the teacher's OSCommand pattern
// (pkg/commands/os.go) of shelling out and parsing trimmed stdout.
package vcsinfo

import (
	"context"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/buildrunner/buildrunner/pkg/utils"
)

// Info is the VCSINFO_* environment set injected into every container,
// per spec.md §4.4.
type Info struct {
	Name          string
	Branch        string
	Number        int
	ID            string
	ShortID       string
	Release       string
	Modified      bool
	ModifiedPaths []string
	ModTime       time.Time
}

// Probe is the contract the engine depends on for repository metadata.
type Probe interface {
	Probe(ctx context.Context, dir string) (Info, error)
}

// GitProbe shells out to `git` the way the teacher's OSCommand wraps
// external CLI invocations, trimming and parsing their stdout rather than
// linking a git implementation into the binary.
type GitProbe struct{}

func (GitProbe) Probe(ctx context.Context, dir string) (Info, error) {
	branch, err := runGit(ctx, dir, "rev-parse", "--abbrev-ref", "HEAD")
	if err != nil {
		return Info{}, err
	}
	id, err := runGit(ctx, dir, "rev-parse", "HEAD")
	if err != nil {
		return Info{}, err
	}
	shortID, err := runGit(ctx, dir, "rev-parse", "--short", "HEAD")
	if err != nil {
		return Info{}, err
	}
	countStr, err := runGit(ctx, dir, "rev-list", "--count", "HEAD")
	if err != nil {
		return Info{}, err
	}
	count, _ := strconv.Atoi(countStr)

	status, err := runGit(ctx, dir, "status", "--porcelain")
	if err != nil {
		return Info{}, err
	}

	name, err := runGit(ctx, dir, "rev-parse", "--show-toplevel")
	if err != nil {
		name = dir
	}

	return Info{
		Name:          lastPathComponent(name),
		Branch:        branch,
		Number:        count,
		ID:            id,
		ShortID:       shortID,
		Release:       branch,
		Modified:      status != "",
		ModifiedPaths: utils.SplitLines(status),
		ModTime:       time.Now(),
	}, nil
}

func runGit(ctx context.Context, dir string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir
	out, err := cmd.Output()
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}

func lastPathComponent(p string) string {
	p = strings.TrimRight(p, "/")
	if idx := strings.LastIndex(p, "/"); idx >= 0 {
		return p[idx+1:]
	}
	return p
}

var _ Probe = GitProbe{}
