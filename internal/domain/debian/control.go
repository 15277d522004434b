package debian

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/julien-sobczak/deb822"
)

// ControlDir is the metadata directory of a package source tree.
const ControlDir = "DEBIAN"

// ControlFilename is the file holding the binary package paragraph.
const ControlFilename = "control"

// RequiredFields must be present in every binary package control file.
//
//nolint:gochecknoglobals // Read-only list.
var RequiredFields = []string{"Package", "Version", "Architecture", "Maintainer", "Description"}

var (
	// ErrNoControl is returned when a source tree has no DEBIAN/control file.
	ErrNoControl = errors.New("control file not found")
	// ErrEmptyControl is returned when the control file holds no paragraph.
	ErrEmptyControl = errors.New("control file is empty")
	// ErrMissingField is returned when a required field is absent or blank.
	ErrMissingField = errors.New("missing required control field")
)

// Control is the first paragraph of a control file.
type Control struct {
	Paragraph deb822.Paragraph
}

// Name returns the Package field.
func (c *Control) Name() string {
	return c.Paragraph.Value("Package")
}

// Version returns the Version field.
func (c *Control) Version() string {
	return c.Paragraph.Value("Version")
}

// Architecture returns the Architecture field.
func (c *Control) Architecture() string {
	return c.Paragraph.Value("Architecture")
}

// Field returns any field by name.
func (c *Control) Field(name string) string {
	return c.Paragraph.Value(name)
}

// String renders the control paragraph in deb822 form.
func (c *Control) String() string {
	formatter := deb822.NewFormatter()
	formatter.SetFoldedFields("Description")

	return formatter.Format(deb822.Document{Paragraphs: []deb822.Paragraph{c.Paragraph}})
}

// Validate reports the first required field that is missing.
func (c *Control) Validate() error {
	for _, field := range RequiredFields {
		if strings.TrimSpace(c.Paragraph.Value(field)) == "" {
			return fmt.Errorf("%s: %w", field, ErrMissingField)
		}
	}

	return nil
}

// ParseControl reads a control file and validates its required fields.
func ParseControl(r io.Reader) (*Control, error) {
	parser, err := deb822.NewParser(r)
	if err != nil {
		return nil, fmt.Errorf("open control parser: %w", err)
	}

	document, err := parser.Parse()
	if err != nil {
		return nil, fmt.Errorf("parse control: %w", err)
	}

	if len(document.Paragraphs) == 0 {
		return nil, ErrEmptyControl
	}

	control := &Control{Paragraph: document.Paragraphs[0]}
	if err = control.Validate(); err != nil {
		return nil, err
	}

	return control, nil
}

// LoadControl reads DEBIAN/control from a package source tree.
func LoadControl(sourceDir string) (*Control, error) {
	path := filepath.Join(sourceDir, ControlDir, ControlFilename)

	f, err := os.Open(filepath.Clean(path))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%s: %w", path, ErrNoControl)
		}

		return nil, fmt.Errorf("open control: %w", err)
	}

	defer func() {
		_ = f.Close()
	}()

	control, err := ParseControl(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	return control, nil
}
