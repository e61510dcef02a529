package artifacts

import (
	"archive/tar"
	"archive/zip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/docker/go-units"
	"github.com/sirupsen/logrus"

	"github.com/buildrunner/buildrunner/pkg/buildrerr"
)

// Source is the subset of a ContainerRuntime the archiver needs: reading a
// path out of a container as a tar stream. Declared locally (rather than
// importing pkg/runtime) to keep this package's dependency graph a leaf,
// matching the teacher's habit of small per-concern interfaces.
type Source interface {
	CopyFromContainer(ctx context.Context, containerID, srcPath string) (io.ReadCloser, error)
}

// Entry is one produced output recorded in artifacts.json.
type Entry struct {
	Glob     string            `json:"glob"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Archiver captures artifacts for one step into <resultsDir>/<step>/.
type Archiver struct {
	Source      Source
	ContainerID string
	ResultsDir  string
	Step        string
	Log         *logrus.Entry

	entries map[string]Entry
}

// Capture extracts and writes every descriptor's source. Descriptors are
// processed independently; the first fatal error (typically a path
// escape) aborts the remaining ones since artifact capture only runs
// after a successful step and any failure here should be loud.
func (a *Archiver) Capture(ctx context.Context, descriptors []Descriptor) error {
	if a.entries == nil {
		a.entries = map[string]Entry{}
	}
	stepDir := filepath.Join(a.ResultsDir, a.Step)
	if err := os.MkdirAll(stepDir, 0o755); err != nil {
		return buildrerr.Wrap(buildrerr.Internal, a.Step, "capture", err)
	}

	for _, d := range descriptors {
		if err := a.captureOne(ctx, stepDir, d); err != nil {
			return err
		}
	}

	return a.writeSidecar(stepDir)
}

func (a *Archiver) captureOne(ctx context.Context, stepDir string, d Descriptor) error {
	if err := rejectEscape(d.Glob); err != nil {
		return buildrerr.Wrap(buildrerr.Configuration, a.Step, "capture", err)
	}

	rc, err := a.Source.CopyFromContainer(ctx, a.ContainerID, path.Join("/source", d.Glob))
	if err != nil {
		return buildrerr.Wrap(buildrerr.Resource, a.Step, "capture", err)
	}
	defer rc.Close()

	base := path.Base(d.Glob)
	outName := d.OutputName(base)
	outPath := filepath.Join(stepDir, outName)

	switch d.Format {
	case FormatFile:
		if err := writeSingleFileFromTar(rc, outPath); err != nil {
			return buildrerr.Wrap(buildrerr.Resource, a.Step, "capture", err)
		}
	case FormatUncompressed:
		if err := extractTarTree(rc, outPath); err != nil {
			return buildrerr.Wrap(buildrerr.Resource, a.Step, "capture", err)
		}
	default: // FormatArchived
		if err := a.reArchive(rc, outPath, d); err != nil {
			return buildrerr.Wrap(buildrerr.Resource, a.Step, "capture", err)
		}
	}

	if info, err := os.Stat(outPath); err == nil {
		a.Log.WithField("artifact", outName).WithField("size", units.HumanSize(float64(info.Size()))).Debug("captured artifact")
	}

	if d.Push {
		a.entries[outName] = Entry{Glob: d.Glob, Metadata: d.Metadata}
	}
	return nil
}

// reArchive re-packages the tar stream docker hands back into the
// requested archive type and compression.
func (a *Archiver) reArchive(src io.Reader, outPath string, d Descriptor) error {
	out, err := os.Create(outPath)
	if err != nil {
		return err
	}
	defer out.Close()

	tr := tar.NewReader(src)

	if d.EffectiveArchiveType() == ArchiveZip {
		zw := zip.NewWriter(out)
		defer zw.Close()
		return copyTarToZip(tr, zw)
	}

	cw, err := NewCompressWriter(out, d.EffectiveCompression())
	if err != nil {
		return err
	}
	defer cw.Close()

	tw := tar.NewWriter(cw)
	defer tw.Close()
	return copyTarToTar(tr, tw)
}

func copyTarToTar(tr *tar.Reader, tw *tar.Writer) error {
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}
		if _, err := io.Copy(tw, tr); err != nil {
			return err
		}
	}
}

func copyTarToZip(tr *tar.Reader, zw *zip.Writer) error {
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		if hdr.Typeflag == tar.TypeDir {
			continue
		}
		w, err := zw.Create(hdr.Name)
		if err != nil {
			return err
		}
		if _, err := io.Copy(w, tr); err != nil {
			return err
		}
	}
}

func writeSingleFileFromTar(src io.Reader, outPath string) error {
	tr := tar.NewReader(src)
	if _, err := tr.Next(); err != nil {
		return err
	}
	out, err := os.Create(outPath)
	if err != nil {
		return err
	}
	defer out.Close()
	_, err = io.Copy(out, tr)
	return err
}

func extractTarTree(src io.Reader, outDir string) error {
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return err
	}
	tr := tar.NewReader(src)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		target := filepath.Join(outDir, hdr.Name)
		if err := rejectEscape(hdr.Name); err != nil {
			return err
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
			f, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, os.FileMode(hdr.Mode))
			if err != nil {
				return err
			}
			if _, err := io.Copy(f, tr); err != nil {
				f.Close()
				return err
			}
			f.Close()
		}
	}
}

// rejectEscape enforces spec.md §4.6's "refuses to archive files outside
// /source" rule against a relative (or absolute, resolved against
// /source) glob/path.
func rejectEscape(p string) error {
	cleaned := path.Join("/source", p)
	if cleaned != "/source" && !strings.HasPrefix(cleaned, "/source/") {
		return fmt.Errorf("artifact path %q escapes /source", p)
	}
	return nil
}

func (a *Archiver) writeSidecar(stepDir string) error {
	data, err := json.MarshalIndent(a.entries, "", "  ")
	if err != nil {
		return buildrerr.Wrap(buildrerr.Internal, a.Step, "capture", err)
	}
	return os.WriteFile(filepath.Join(stepDir, "artifacts.json"), data, 0o644)
}
