package compress

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

const (
	TypeNone = "none"
	TypeGzip = "gzip"
	TypeZstd = "zstd"
	TypeLZ4  = "lz4"
)

const DefaultLevel = 6

var (
	magicGzip = []byte{0x1f, 0x8b}
	magicZstd = []byte{0x28, 0xb5, 0x2f, 0xfd}
	magicLZ4  = []byte{0x04, 0x22, 0x4d, 0x18}
)

// Normalize maps user input to a known compression type.
func Normalize(kind string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "", TypeNone:
		return TypeNone, nil
	case TypeGzip, "gz":
		return TypeGzip, nil
	case TypeZstd, "zst":
		return TypeZstd, nil
	case TypeLZ4:
		return TypeLZ4, nil
	default:
		return "", fmt.Errorf("unsupported compression: %s", kind)
	}
}

// WrapWriter wraps w with the given compression. level is on the 1-9 scale and
// is mapped onto each codec's own range.
func WrapWriter(kind string, w io.Writer, level int) (io.WriteCloser, error) {
	if level < 1 || level > 9 {
		level = DefaultLevel
	}
	switch kind {
	case "", TypeNone:
		return nopWriteCloser{w}, nil
	case TypeGzip:
		return gzip.NewWriterLevel(w, level)
	case TypeZstd:
		return zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(level)))
	case TypeLZ4:
		zw := lz4.NewWriter(w)
		if err := zw.Apply(lz4.CompressionLevelOption(lz4Level(level))); err != nil {
			return nil, err
		}
		return zw, nil
	default:
		return nil, fmt.Errorf("unsupported compression: %s", kind)
	}
}

func WrapReader(kind string, r io.Reader) (io.ReadCloser, error) {
	switch kind {
	case "", TypeNone:
		return io.NopCloser(r), nil
	case TypeGzip:
		return gzip.NewReader(r)
	case TypeZstd:
		dec, err := zstd.NewReader(r)
		if err != nil {
			return nil, err
		}
		return zstdReadCloser{Decoder: dec}, nil
	case TypeLZ4:
		return io.NopCloser(lz4.NewReader(r)), nil
	default:
		return nil, fmt.Errorf("unsupported compression: %s", kind)
	}
}

// Extension returns the archive suffix for a compression type.
func Extension(kind string) string {
	switch kind {
	case TypeGzip:
		return ".tar.gz"
	case TypeZstd:
		return ".tar.zst"
	case TypeLZ4:
		return ".tar.lz4"
	default:
		return ".tar"
	}
}

// FromName infers the compression from an archive file name. ok is false when
// the suffix is not a recognised archive suffix.
func FromName(name string) (kind string, ok bool) {
	lower := strings.ToLower(name)
	switch {
	case strings.HasSuffix(lower, ".tar.gz"), strings.HasSuffix(lower, ".tgz"):
		return TypeGzip, true
	case strings.HasSuffix(lower, ".tar.zst"):
		return TypeZstd, true
	case strings.HasSuffix(lower, ".tar.lz4"):
		return TypeLZ4, true
	case strings.HasSuffix(lower, ".tar"):
		return TypeNone, true
	default:
		return "", false
	}
}

// Detect determines the compression of the file at path, by name first and
// then by its leading magic bytes.
func Detect(path string) (string, error) {
	if kind, ok := FromName(path); ok {
		return kind, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	head, err := bufio.NewReader(f).Peek(4)
	if err != nil && err != io.EOF && len(head) == 0 {
		return "", err
	}
	return Sniff(head), nil
}

// Sniff inspects leading bytes; unknown content is assumed to be a plain tar.
func Sniff(head []byte) string {
	switch {
	case bytes.HasPrefix(head, magicGzip):
		return TypeGzip
	case bytes.HasPrefix(head, magicZstd):
		return TypeZstd
	case bytes.HasPrefix(head, magicLZ4):
		return TypeLZ4
	default:
		return TypeNone
	}
}

func lz4Level(level int) lz4.CompressionLevel {
	switch {
	case level <= 1:
		return lz4.Fast
	case level <= 3:
		return lz4.Level3
	case level <= 5:
		return lz4.Level5
	case level <= 7:
		return lz4.Level7
	default:
		return lz4.Level9
	}
}

type nopWriteCloser struct{ io.Writer }

func (n nopWriteCloser) Close() error { return nil }

type zstdReadCloser struct{ *zstd.Decoder }

func (z zstdReadCloser) Close() error {
	z.Decoder.Close()
	return nil
}
