package archive

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/blakesmith/ar"
	"github.com/stretchr/testify/require"

	"github.com/oshokin/debpack/internal/testutil"
)

func fixture() testutil.Deb {
	return testutil.Deb{
		Control: map[string][]byte{
			"control":  testutil.ControlFixture("python-runner"),
			"postinst": []byte("#!/bin/sh\nglib-compile-schemas /usr/share/glib-2.0/schemas\n"),
		},
		Data: map[string][]byte{
			"usr/bin/python_runner":                        []byte("#!/usr/bin/python3\n"),
			"usr/share/applications/python-runner.desktop": []byte("[Desktop Entry]\n"),
		},
	}
}

// TestInspectCompressions reads every tarball compressor dpkg-deb can emit.
func TestInspectCompressions(t *testing.T) {
	t.Parallel()

	for _, c := range []testutil.Compression{
		testutil.CompressionNone,
		testutil.CompressionGzip,
		testutil.CompressionXZ,
		testutil.CompressionZstd,
	} {
		c := c
		t.Run("tar"+string(c), func(t *testing.T) {
			t.Parallel()

			deb := fixture()
			deb.Compression = c

			path := filepath.Join(t.TempDir(), "python_runner.deb")
			testutil.WriteDeb(t, path, deb)

			summary, err := Inspect(path)
			require.NoError(t, err)
			require.Equal(t, FormatVersion, summary.FormatVersion)
			require.Equal(t, []string{"debian-binary", "control.tar" + string(c), "data.tar" + string(c)}, summary.Members)
			require.Equal(t, "python-runner", summary.Control.Name())
			require.Equal(t, "1.0-4", summary.Control.Version())
			require.ElementsMatch(t, []string{"control", "postinst"}, summary.ControlFiles)
			require.Equal(t, []string{
				"/usr/bin/python_runner",
				"/usr/share/applications/python-runner.desktop",
			}, summary.DataFiles)
			require.Len(t, summary.Checksum, 128)
			require.Positive(t, summary.Size)
		})
	}
}

// TestInspectNotArchive rejects a file without the ar magic.
func TestInspectNotArchive(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "python_runner.deb")
	require.NoError(t, os.WriteFile(path, []byte("PK\x03\x04 not a deb"), 0o644))

	_, err := Inspect(path)
	require.ErrorIs(t, err, ErrNotArchive)
}

// TestInspectMissingFile surfaces the open error.
func TestInspectMissingFile(t *testing.T) {
	t.Parallel()

	_, err := Inspect(filepath.Join(t.TempDir(), "missing.deb"))
	require.ErrorIs(t, err, os.ErrNotExist)
}

// TestInspectWrongFirstMember rejects ar archives that are not packages.
func TestInspectWrongFirstMember(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer

	w := ar.NewWriter(&buf)
	require.NoError(t, w.WriteGlobalHeader())
	require.NoError(t, w.WriteHeader(&ar.Header{Name: "libfoo.o", ModTime: time.Unix(1700000000, 0), Mode: 0o644, Size: 2}))
	_, err := w.Write([]byte("ok"))
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "libfoo.deb")
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))

	_, err = Inspect(path)
	require.ErrorIs(t, err, ErrNotDebian)
}

// TestInspectMissingControlField rejects a package whose control lacks Maintainer.
func TestInspectMissingControlField(t *testing.T) {
	t.Parallel()

	deb := fixture()
	deb.Control["control"] = []byte("Package: python-runner\nVersion: 1.0-4\nArchitecture: all\nDescription: x\n")

	path := filepath.Join(t.TempDir(), "python_runner.deb")
	testutil.WriteDeb(t, path, deb)

	_, err := Inspect(path)
	require.Error(t, err)
	require.Contains(t, err.Error(), "Maintainer")
}
