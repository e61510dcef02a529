// Package source implements C3: an immutable, read-only snapshot of the
// working tree, rebuilt at most once per invocation and shared by every
// container that mounts /source, honoring a per-repo ignore list.
package source

import (
	"bufio"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/buildrunner/buildrunner/pkg/buildrerr"
)

// defaultIgnoreFile mirrors the convention of a project-root dotfile
// naming exclusions, analogous to a .dockerignore.
const defaultIgnoreFile = ".buildrunnerignore"

// Snapshot is a filtered copy of the working tree, materialized once into
// a scratch directory and bind-mounted into every workload for the rest of
// the build. It is a plain directory copy, not content-addressed.
type Snapshot struct {
	// Path is the host directory containing the filtered tree; callers
	// bind-mount this read-write into the primary container and
	// read-only into services, per spec.md §4.4.
	Path string

	root    string
	ignores []string
	log     *logrus.Entry
}

// Build walks root once, copying every file not matched by the ignore
// list into a fresh scratch directory, and returns a Snapshot backed by
// it. Subsequent calls in the same process should reuse the returned
// value rather than calling Build again — spec.md §4.8's "rebuilt at most
// once per invocation."
func Build(root, scratchDir string, log *logrus.Entry) (*Snapshot, error) {
	ignores, err := loadIgnoreList(root)
	if err != nil {
		return nil, buildrerr.Wrap(buildrerr.Resource, "", "source-snapshot", err)
	}

	dest := filepath.Join(scratchDir, "source")
	if err := os.MkdirAll(dest, 0o755); err != nil {
		return nil, buildrerr.Wrap(buildrerr.Resource, "", "source-snapshot", err)
	}

	snap := &Snapshot{Path: dest, root: root, ignores: ignores, log: log}
	if err := snap.copyTree(); err != nil {
		return nil, buildrerr.Wrap(buildrerr.Resource, "", "source-snapshot", err)
	}
	return snap, nil
}

func (s *Snapshot) copyTree() error {
	return filepath.Walk(s.root, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(s.root, p)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		if s.isIgnored(rel) {
			if info.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		target := filepath.Join(s.Path, rel)
		if info.IsDir() {
			return os.MkdirAll(target, 0o755)
		}
		if info.Mode()&os.ModeSymlink != 0 {
			linkDest, err := os.Readlink(p)
			if err != nil {
				return err
			}
			return os.Symlink(linkDest, target)
		}
		return copyFile(p, target, info.Mode())
	})
}

func (s *Snapshot) isIgnored(rel string) bool {
	for _, pattern := range s.ignores {
		if ok, _ := filepath.Match(pattern, rel); ok {
			return true
		}
		if ok, _ := filepath.Match(pattern, filepath.Base(rel)); ok {
			return true
		}
	}
	return false
}

func loadIgnoreList(root string) ([]string, error) {
	f, err := os.Open(filepath.Join(root, defaultIgnoreFile))
	if err != nil {
		if os.IsNotExist(err) {
			return []string{".git"}, nil
		}
		return nil, err
	}
	defer f.Close()

	patterns := []string{".git"}
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		patterns = append(patterns, line)
	}
	return patterns, scanner.Err()
}

func copyFile(src, dst string, mode os.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode)
	if err != nil {
		return err
	}
	defer out.Close()

	_, err = io.Copy(out, in)
	return err
}

// Close removes the materialized snapshot tree. The session calls this
// once, after every step that might still read /source has finished.
func (s *Snapshot) Close() error {
	return os.RemoveAll(s.Path)
}
