// Package artifacts implements C1: extracting files and directories out of
// a finished container into a per-step results tree, applying the
// configured archive/compression policy, and writing the artifacts.json
// metadata sidecar. Codec choices follow the compression algorithms the
// teacher's vendored go.podman.io/image pulls in (pgzip, ulikunitz/xz,
// dsnet/compress for the bzip2 writer stdlib's compress/bzip2 lacks).
package artifacts

import (
	"fmt"
	"io"

	"github.com/dsnet/compress/bzip2"
	"github.com/klauspost/compress/zstd"
	"github.com/klauspost/pgzip"
	"github.com/ulikunitz/xz"
	"github.com/ulikunitz/xz/lzma"
)

// Codec is a compression algorithm recognized in a Descriptor's
// Compression field, per spec.md §4.6 "gz|bz2|xz|lzma|lzip|lzop|z".
type Codec string

const (
	CodecNone Codec = ""
	CodecGzip Codec = "gz"
	CodecBzip2 Codec = "bz2"
	CodecXz    Codec = "xz"
	CodecLzma  Codec = "lzma"
	CodecLzip  Codec = "lzip"
	CodecLzop  Codec = "lzop"
	CodecZ     Codec = "z"
	CodecZstd  Codec = "zstd"
)

// NewCompressWriter wraps w with the writer side of codec. lzip and lzop
// have no maintained pure-Go implementation in the example corpus (lzip is
// a distinct container format around LZMA that ulikunitz/xz doesn't speak,
// and lzop wraps LZO, for which no pack library exists); both are
// implemented as thin wrappers that shell out to the system `lzip`/`lzop`
// binaries, matching the precedent the teacher sets for git and rsync:
// tools it treats as ambient host binaries rather than vendoring.
func NewCompressWriter(w io.Writer, codec Codec) (io.WriteCloser, error) {
	switch codec {
	case CodecNone:
		return nopWriteCloser{w}, nil
	case CodecGzip:
		return pgzip.NewWriter(w), nil
	case CodecBzip2:
		return bzip2.NewWriter(w, &bzip2.WriterConfig{Level: bzip2.DefaultCompression})
	case CodecXz:
		return xz.NewWriter(w)
	case CodecLzma:
		return lzma.NewWriter(w)
	case CodecZstd:
		return zstd.NewWriter(w)
	case CodecZ:
		return newCompressWriter(w)
	case CodecLzip:
		return newExternalCompressWriter(w, "lzip", "-c")
	case CodecLzop:
		return newExternalCompressWriter(w, "lzop", "-c")
	default:
		return nil, fmt.Errorf("unsupported compression codec %q", codec)
	}
}

// NewDecompressReader wraps r with the reader side of codec.
func NewDecompressReader(r io.Reader, codec Codec) (io.ReadCloser, error) {
	switch codec {
	case CodecNone:
		return io.NopCloser(r), nil
	case CodecGzip:
		return pgzip.NewReader(r)
	case CodecBzip2:
		return bzip2.NewReader(r, nil)
	case CodecXz:
		xr, err := xz.NewReader(r)
		if err != nil {
			return nil, err
		}
		return io.NopCloser(xr), nil
	case CodecLzma:
		lr, err := lzma.NewReader(r)
		if err != nil {
			return nil, err
		}
		return io.NopCloser(lr), nil
	case CodecZstd:
		zr, err := zstd.NewReader(r)
		if err != nil {
			return nil, err
		}
		return zstdReadCloser{zr}, nil
	case CodecZ:
		return newDecompressReader(r)
	case CodecLzip:
		return newExternalDecompressReader(r, "lzip", "-dc")
	case CodecLzop:
		return newExternalDecompressReader(r, "lzop", "-dc")
	default:
		return nil, fmt.Errorf("unsupported compression codec %q", codec)
	}
}

type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }

// zstdReadCloser adapts *zstd.Decoder (whose Close takes no error) to
// io.ReadCloser.
type zstdReadCloser struct{ *zstd.Decoder }

func (z zstdReadCloser) Close() error {
	z.Decoder.Close()
	return nil
}
