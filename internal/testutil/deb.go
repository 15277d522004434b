package testutil

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"io"
	"os"
	"sort"
	"testing"
	"time"

	"github.com/blakesmith/ar"
	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/require"
	"github.com/ulikunitz/xz"
)

// Compression selects the tarball compressor of a fixture package.
type Compression string

// Supported fixture compressors.
const (
	CompressionNone Compression = ""
	CompressionGzip Compression = ".gz"
	CompressionXZ   Compression = ".xz"
	CompressionZstd Compression = ".zst"
)

// fixtureModTime keeps fixture archives byte-identical across runs.
const fixtureModTime = 1700000000

// ControlFixture is a minimal valid control file for package name.
func ControlFixture(name string) []byte {
	return []byte("Package: " + name + `
Version: 1.0-4
Section: devel
Priority: optional
Architecture: all
Maintainer: Oleg Shokin <o.shokin@example.com>
Description: Run Python snippets
`)
}

// Deb describes a fixture package.
type Deb struct {
	// Control maps control tarball entries (control, postinst...) to contents.
	Control map[string][]byte
	// Data maps installed paths (usr/bin/x) to contents.
	Data map[string][]byte
	// Compression applies to both tarballs.
	Compression Compression
}

// WriteDeb writes a package archive the way dpkg-deb lays it out.
func WriteDeb(t *testing.T, dest string, deb Deb) {
	t.Helper()

	f, err := os.Create(dest)
	require.NoError(t, err)

	defer func() {
		require.NoError(t, f.Close())
	}()

	WriteDebTo(t, f, deb)
}

// WriteDebTo writes a package archive to w.
func WriteDebTo(t *testing.T, w io.Writer, deb Deb) {
	t.Helper()

	writer := ar.NewWriter(w)
	require.NoError(t, writer.WriteGlobalHeader())

	arPutFile(t, writer, "debian-binary", []byte("2.0\n"))
	arPutFile(t, writer, "control.tar"+string(deb.Compression), compress(t, deb.Compression, tarballPack(t, deb.Control)))
	arPutFile(t, writer, "data.tar"+string(deb.Compression), compress(t, deb.Compression, tarballPack(t, deb.Data)))
}

func arPutFile(t *testing.T, w *ar.Writer, name string, body []byte) {
	t.Helper()

	hdr := &ar.Header{
		Name:    name,
		ModTime: time.Unix(fixtureModTime, 0),
		Mode:    0o644,
		Size:    int64(len(body)),
	}
	require.NoError(t, w.WriteHeader(hdr))

	_, err := w.Write(body)
	require.NoError(t, err)
}

func tarballPack(t *testing.T, files map[string][]byte) []byte {
	t.Helper()

	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}

	sort.Strings(names)

	var buf bytes.Buffer

	tw := tar.NewWriter(&buf)
	require.NoError(t, tw.WriteHeader(&tar.Header{Name: "./", Typeflag: tar.TypeDir, Mode: 0o755}))

	for _, name := range names {
		hdr := &tar.Header{
			Name:     "./" + name,
			Typeflag: tar.TypeReg,
			Mode:     0o644,
			Size:     int64(len(files[name])),
		}
		require.NoError(t, tw.WriteHeader(hdr))

		_, err := tw.Write(files[name])
		require.NoError(t, err)
	}

	require.NoError(t, tw.Close())

	return buf.Bytes()
}

func compress(t *testing.T, c Compression, data []byte) []byte {
	t.Helper()

	var (
		buf bytes.Buffer
		w   io.WriteCloser
		err error
	)

	switch c {
	case CompressionNone:
		return data
	case CompressionGzip:
		w = gzip.NewWriter(&buf)
	case CompressionXZ:
		w, err = xz.NewWriter(&buf)
	case CompressionZstd:
		w, err = zstd.NewWriter(&buf)
	default:
		t.Fatalf("unknown compression %q", c)
	}

	require.NoError(t, err)

	_, err = w.Write(data)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	return buf.Bytes()
}
