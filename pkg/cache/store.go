// Package cache implements C2: host-side, archive-backed cache
// directories under a caches root, with prefix-matched restore and
// newest-wins tie-break, per spec.md §4.7.
package cache

import (
	"archive/tar"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/buildrunner/buildrunner/pkg/buildrerr"
)

// Store manages cache archives under Root (default ~/.buildrunner/caches,
// resolved by the caller from config.AppConfig.CacheRoot).
type Store struct {
	Root string
}

func NewStore(root string) *Store { return &Store{Root: root} }

// Save tars srcDir (a directory already extracted from the finished
// container, e.g. by pkg/workload) into <root>/<key>.tar, writing to a
// sibling temp file and renaming atomically so concurrent builds never
// observe a partial archive.
func (s *Store) Save(key, srcDir string) error {
	if err := os.MkdirAll(s.Root, 0o755); err != nil {
		return buildrerr.Wrap(buildrerr.Resource, "", "cache-save", err)
	}

	tmp, err := os.CreateTemp(s.Root, ".tmp-"+sanitizeKey(key)+"-")
	if err != nil {
		return buildrerr.Wrap(buildrerr.Resource, "", "cache-save", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if err := tarDir(srcDir, tmp); err != nil {
		tmp.Close()
		return buildrerr.Wrap(buildrerr.Resource, "", "cache-save", err)
	}
	if err := tmp.Close(); err != nil {
		return buildrerr.Wrap(buildrerr.Resource, "", "cache-save", err)
	}

	dst := filepath.Join(s.Root, sanitizeKey(key)+".tar")
	if err := os.Rename(tmpPath, dst); err != nil {
		return buildrerr.Wrap(buildrerr.Resource, "", "cache-save", err)
	}
	return nil
}

// Restore walks keys in order: exact match first, then newest
// prefix-match; the first key with any match wins. If nothing matches any
// key, ok is false and the caller leaves the target empty per spec.md
// §4.7.
func (s *Store) Restore(keys []string, destDir string) (matchedKey string, ok bool, err error) {
	for _, key := range keys {
		archivePath, found, ferr := s.resolve(key)
		if ferr != nil {
			return "", false, buildrerr.Wrap(buildrerr.Resource, "", "cache-restore", ferr)
		}
		if !found {
			continue
		}
		if err := extractArchive(archivePath, destDir); err != nil {
			return "", false, buildrerr.Wrap(buildrerr.Resource, "", "cache-restore", err)
		}
		return key, true, nil
	}
	return "", false, nil
}

// resolve finds the archive for key: exact match, else the newest
// mtime among files prefixed by key.
func (s *Store) resolve(key string) (string, bool, error) {
	exact := filepath.Join(s.Root, sanitizeKey(key)+".tar")
	if info, err := os.Stat(exact); err == nil && !info.IsDir() {
		return exact, true, nil
	} else if err != nil && !os.IsNotExist(err) {
		return "", false, err
	}

	entries, err := os.ReadDir(s.Root)
	if err != nil {
		if os.IsNotExist(err) {
			return "", false, nil
		}
		return "", false, err
	}

	prefix := sanitizeKey(key)
	var best string
	var bestMTime int64
	for _, e := range entries {
		if e.IsDir() || !strings.HasPrefix(e.Name(), prefix) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if mtime := info.ModTime().Unix(); best == "" || mtime > bestMTime {
			best = e.Name()
			bestMTime = mtime
		}
	}
	if best == "" {
		return "", false, nil
	}
	return filepath.Join(s.Root, best), true, nil
}

// Wipe removes every file under Root, per spec.md §4.7's standalone
// cache-wipe operation.
func (s *Store) Wipe(ctx context.Context) error {
	entries, err := os.ReadDir(s.Root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return buildrerr.Wrap(buildrerr.Resource, "", "cache-wipe", err)
	}
	for _, e := range entries {
		if err := os.RemoveAll(filepath.Join(s.Root, e.Name())); err != nil {
			return buildrerr.Wrap(buildrerr.Resource, "", "cache-wipe", err)
		}
	}
	return nil
}

func sanitizeKey(key string) string {
	return strings.ReplaceAll(key, string(filepath.Separator), "_")
}

// DirSize sums the apparent size of every regular file under dir, for
// logging how much a cache save is about to write out.
func DirSize(dir string) (int64, error) {
	var total int64
	err := filepath.Walk(dir, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() {
			total += info.Size()
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return total, nil
}

func tarDir(srcDir string, w io.Writer) error {
	tw := tar.NewWriter(w)
	defer tw.Close()

	return filepath.Walk(srcDir, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(srcDir, p)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		hdr, err := tar.FileInfoHeader(info, "")
		if err != nil {
			return err
		}
		hdr.Name = rel
		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		f, err := os.Open(p)
		if err != nil {
			return err
		}
		defer f.Close()
		_, err = io.Copy(tw, f)
		return err
	})
}

func extractArchive(archivePath, destDir string) error {
	f, err := os.Open(archivePath)
	if err != nil {
		return err
	}
	defer f.Close()

	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return err
	}

	tr := tar.NewReader(f)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		target := filepath.Join(destDir, hdr.Name)
		if !strings.HasPrefix(target, filepath.Clean(destDir)+string(os.PathSeparator)) && target != filepath.Clean(destDir) {
			return fmt.Errorf("cache archive entry %q escapes destination", hdr.Name)
		}
		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o755); err != nil {
				return err
			}
		default:
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return err
			}
			out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, os.FileMode(hdr.Mode))
			if err != nil {
				return err
			}
			if _, err := io.Copy(out, tr); err != nil {
				out.Close()
				return err
			}
			out.Close()
		}
	}
}
