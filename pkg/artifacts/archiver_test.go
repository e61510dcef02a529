package artifacts

import (
	"archive/tar"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	files map[string]string
}

func (f *fakeSource) CopyFromContainer(ctx context.Context, containerID, srcPath string) (io.ReadCloser, error) {
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	content := f.files[srcPath]
	hdr := &tar.Header{Name: filepath.Base(srcPath), Mode: 0o644, Size: int64(len(content))}
	if err := tw.WriteHeader(hdr); err != nil {
		return nil, err
	}
	if _, err := tw.Write([]byte(content)); err != nil {
		return nil, err
	}
	tw.Close()
	return io.NopCloser(&buf), nil
}

func TestCaptureSingleFile(t *testing.T) {
	dir := t.TempDir()
	a := &Archiver{
		Source:      &fakeSource{files: map[string]string{"/source/out.bin": "hello"}},
		ContainerID: "c1",
		ResultsDir:  dir,
		Step:        "build",
		Log:         logrus.NewEntry(logrus.New()),
	}

	err := a.Capture(context.Background(), []Descriptor{
		{Glob: "out.bin", Format: FormatFile, Push: true},
	})
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(dir, "build", "out.bin"))
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))

	sidecar, err := os.ReadFile(filepath.Join(dir, "build", "artifacts.json"))
	require.NoError(t, err)
	var entries map[string]Entry
	require.NoError(t, json.Unmarshal(sidecar, &entries))
	assert.Contains(t, entries, "out.bin")
}

func TestCaptureRejectsPathEscape(t *testing.T) {
	dir := t.TempDir()
	a := &Archiver{
		Source:      &fakeSource{},
		ContainerID: "c1",
		ResultsDir:  dir,
		Step:        "build",
		Log:         logrus.NewEntry(logrus.New()),
	}

	err := a.Capture(context.Background(), []Descriptor{
		{Glob: "../../etc/passwd", Format: FormatFile},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "escapes /source")
}

func TestDescriptorOutputNameDefaultsToGzipTar(t *testing.T) {
	d := Descriptor{Format: FormatArchived}
	assert.Equal(t, "results.tar.gz", d.OutputName("results"))
}

func TestDescriptorOutputNameZipIgnoresCompression(t *testing.T) {
	d := Descriptor{Format: FormatArchived, ArchiveType: ArchiveZip, Compression: CodecBzip2}
	assert.Equal(t, "results.zip", d.OutputName("results"))
}
