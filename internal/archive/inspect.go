package archive

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"crypto/sha512"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/blakesmith/ar"
	"github.com/klauspost/compress/zstd"
	"github.com/ulikunitz/xz"

	"github.com/oshokin/debpack/internal/domain/debian"
)

const (
	// arMagic starts every ar container.
	arMagic = "!<arch>\n"

	// FormatVersion is the only debian-binary content dpkg produces today.
	FormatVersion = "2.0"

	memberBinary  = "debian-binary"
	memberControl = "control.tar"
	memberData    = "data.tar"
)

var (
	// ErrNotArchive is returned when the file is not an ar container.
	ErrNotArchive = errors.New("not an ar archive")
	// ErrNotDebian is returned when the ar members do not form a Debian package.
	ErrNotDebian = errors.New("not a debian binary package")
	// ErrUnsupportedFormat is returned for a debian-binary major version other than 2.
	ErrUnsupportedFormat = errors.New("unsupported package format version")
	// ErrUnsupportedCompression is returned for tarball compressors the reader cannot open.
	ErrUnsupportedCompression = errors.New("unsupported member compression")
)

// Summary describes a built package archive.
type Summary struct {
	// Path is the inspected file.
	Path string
	// Size is the archive size in bytes.
	Size int64
	// Checksum is the hex SHA-512 of the archive.
	Checksum string
	// FormatVersion is the content of debian-binary.
	FormatVersion string
	// Members are the ar member names in archive order.
	Members []string
	// Control is the parsed control paragraph.
	Control *debian.Control
	// ControlFiles lists the control tarball entries (control, md5sums, maintainer scripts).
	ControlFiles []string
	// DataFiles lists the regular files installed by the package.
	DataFiles []string
}

// Inspect opens a .deb and validates its structure.
func Inspect(path string) (*Summary, error) {
	f, err := os.Open(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}

	defer func() {
		_ = f.Close()
	}()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat archive: %w", err)
	}

	checksum, err := fileChecksum(f)
	if err != nil {
		return nil, err
	}

	if err = checkMagic(f); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	summary, err := read(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	summary.Path = path
	summary.Size = info.Size()
	summary.Checksum = checksum

	return summary, nil
}

// read walks the ar members of a package.
func read(r io.Reader) (*Summary, error) {
	var (
		summary = new(Summary)
		reader  = ar.NewReader(r)
	)

	for {
		header, err := reader.Next()
		if errors.Is(err, io.EOF) {
			break
		}

		if err != nil {
			return nil, fmt.Errorf("read member header: %w", err)
		}

		name := strings.TrimSuffix(header.Name, "/")
		summary.Members = append(summary.Members, name)

		switch {
		case len(summary.Members) == 1:
			if name != memberBinary {
				return nil, fmt.Errorf("first member is %q: %w", name, ErrNotDebian)
			}

			if err = readFormatVersion(summary, reader); err != nil {
				return nil, err
			}
		case strings.HasPrefix(name, "_"):
			// Members reserved for dpkg extensions.
		case strings.HasPrefix(name, memberControl):
			if err = readControl(summary, name, reader); err != nil {
				return nil, err
			}
		case strings.HasPrefix(name, memberData):
			if summary.Control == nil {
				return nil, fmt.Errorf("%s before %s: %w", name, memberControl, ErrNotDebian)
			}

			if err = readData(summary, name, reader); err != nil {
				return nil, err
			}
		}
	}

	if summary.Control == nil || summary.DataFiles == nil {
		return nil, fmt.Errorf("members %v: %w", summary.Members, ErrNotDebian)
	}

	return summary, nil
}

func readFormatVersion(summary *Summary, r io.Reader) error {
	content, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("read %s: %w", memberBinary, err)
	}

	summary.FormatVersion = strings.TrimSpace(string(content))
	if !strings.HasPrefix(summary.FormatVersion, "2.") {
		return fmt.Errorf("%q: %w", summary.FormatVersion, ErrUnsupportedFormat)
	}

	return nil
}

func readControl(summary *Summary, member string, r io.Reader) error {
	return walkTarball(member, r, func(name string, hdr *tar.Header, body io.Reader) error {
		summary.ControlFiles = append(summary.ControlFiles, name)

		if name != debian.ControlFilename {
			return nil
		}

		control, err := debian.ParseControl(body)
		if err != nil {
			return err
		}

		summary.Control = control

		return nil
	})
}

func readData(summary *Summary, member string, r io.Reader) error {
	summary.DataFiles = []string{}

	err := walkTarball(member, r, func(name string, hdr *tar.Header, _ io.Reader) error {
		if hdr.Typeflag == tar.TypeDir {
			return nil
		}

		summary.DataFiles = append(summary.DataFiles, "/"+name)

		return nil
	})
	if err != nil {
		return err
	}

	sort.Strings(summary.DataFiles)

	return nil
}

// walkTarball decompresses a member and calls fn for every entry.
func walkTarball(member string, r io.Reader, fn func(name string, hdr *tar.Header, body io.Reader) error) error {
	decompressed, closeFn, err := decompress(member, r)
	if err != nil {
		return err
	}

	defer closeFn()

	tr := tar.NewReader(decompressed)

	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}

		if err != nil {
			return fmt.Errorf("read %s: %w", member, err)
		}

		name := strings.TrimPrefix(strings.TrimPrefix(hdr.Name, "./"), "/")
		if name == "" || name == "." {
			continue
		}

		if err = fn(strings.TrimSuffix(name, "/"), hdr, tr); err != nil {
			return fmt.Errorf("%s: %w", member, err)
		}
	}
}

// decompress picks a decompressor from the member name suffix.
func decompress(member string, r io.Reader) (io.Reader, func(), error) {
	noop := func() {}

	switch filepath.Ext(member) {
	case ".tar":
		return r, noop, nil
	case ".gz":
		gzr, err := gzip.NewReader(r)
		if err != nil {
			return nil, nil, fmt.Errorf("open %s: %w", member, err)
		}

		return gzr, func() { _ = gzr.Close() }, nil
	case ".xz":
		xzr, err := xz.NewReader(r)
		if err != nil {
			return nil, nil, fmt.Errorf("open %s: %w", member, err)
		}

		return xzr, noop, nil
	case ".zst":
		zr, err := zstd.NewReader(r)
		if err != nil {
			return nil, nil, fmt.Errorf("open %s: %w", member, err)
		}

		return zr, zr.Close, nil
	default:
		return nil, nil, fmt.Errorf("%s: %w", member, ErrUnsupportedCompression)
	}
}

func checkMagic(f *os.File) error {
	magic := make([]byte, len(arMagic))
	if _, err := io.ReadFull(f, magic); err != nil || !bytes.Equal(magic, []byte(arMagic)) {
		return ErrNotArchive
	}

	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("rewind archive: %w", err)
	}

	return nil
}

func fileChecksum(f *os.File) (string, error) {
	hasher := sha512.New()
	if _, err := io.Copy(hasher, f); err != nil {
		return "", fmt.Errorf("calculate checksum: %w", err)
	}

	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return "", fmt.Errorf("rewind archive: %w", err)
	}

	return hex.EncodeToString(hasher.Sum(nil)), nil
}
