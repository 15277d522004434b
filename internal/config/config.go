package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/oshokin/debpack/internal/logger"
)

// Config holds the settings shared by every debpack subcommand.
type Config struct {
	// SourceDir is the package source tree. Empty means the parent of the
	// invocation directory.
	SourceDir string `yaml:"source_dir,omitempty"`
	// OutputDir is the directory, relative to SourceDir, receiving the artifact.
	OutputDir string `yaml:"output_dir"`
	// PackageFile is the artifact file name.
	PackageFile string `yaml:"package_file"`
	// Packager is the packaging tool invoked with --build.
	Packager string `yaml:"packager"`
	// Installer is the install tool invoked with -i.
	Installer string `yaml:"installer"`
	// PrivilegeCommand prefixes the install tool when not running as root.
	PrivilegeCommand string `yaml:"privilege_command"`
	// Timeout bounds every tool invocation. Zero disables the limit.
	Timeout time.Duration `yaml:"timeout"`
	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level"`
	// CreateOutputDir creates OutputDir when it is missing.
	CreateOutputDir bool `yaml:"create_output_dir"`
	// VerifyArtifact inspects the built archive before installing it.
	VerifyArtifact bool `yaml:"verify_artifact"`
	// CheckPackageManager refuses to install while dpkg or apt is running.
	CheckPackageManager bool `yaml:"check_package_manager"`
}

const (
	// DefaultConfigFilename is the default settings filename.
	DefaultConfigFilename = "debpack.yaml"

	// DefaultOutputDir is the build directory under the source tree.
	DefaultOutputDir = "build"

	// DefaultPackageFile is the artifact name of the companion python-runner project.
	DefaultPackageFile = "python_runner.deb"

	// DefaultPackager builds the archive.
	DefaultPackager = "dpkg-deb"

	// DefaultInstaller installs the archive.
	DefaultInstaller = "dpkg"

	// DefaultPrivilegeCommand elevates the installer.
	DefaultPrivilegeCommand = "sudo"

	// DefaultLogLevel is used when the settings do not name one.
	DefaultLogLevel = "info"

	// DefaultFilePermissions is the file permission for saved settings.
	DefaultFilePermissions = 0o644

	packageFileExtension = ".deb"
)

var (
	// errConfigIsNotSet is returned when a nil configuration is provided.
	errConfigIsNotSet = errors.New("configuration is not set")
	// errBadPackageFile is returned for an artifact name that is not a bare *.deb file name.
	errBadPackageFile = errors.New("package file must be a file name ending in .deb")
	// errBadOutputDir is returned when the output directory escapes the source tree.
	errBadOutputDir = errors.New("output directory must be relative to the source directory")
	// errToolRequired is returned when a tool name is blank.
	errToolRequired = errors.New("tool name must be provided")
	// errBadLogLevel is returned for an unknown log level.
	errBadLogLevel = errors.New("unknown log level")
)

// Default returns the settings used when no file is present.
func Default() *Config {
	return &Config{
		OutputDir:           DefaultOutputDir,
		PackageFile:         DefaultPackageFile,
		Packager:            DefaultPackager,
		Installer:           DefaultInstaller,
		PrivilegeCommand:    DefaultPrivilegeCommand,
		LogLevel:            DefaultLogLevel,
		CreateOutputDir:     true,
		VerifyArtifact:      true,
		CheckPackageManager: true,
	}
}

// Load reads configuration from the provided path and validates it.
// A missing file at the default path yields Default().
func Load(path string) (*Config, error) {
	isDefaultPath := path == "" || path == DefaultConfigFilename
	if path == "" {
		path = DefaultConfigFilename
	}

	cfg := Default()

	contents, err := os.ReadFile(filepath.Clean(path))
	switch {
	case err == nil:
		if err = yaml.Unmarshal(contents, cfg); err != nil {
			return nil, fmt.Errorf("unmarshal settings: %w", err)
		}
	case errors.Is(err, os.ErrNotExist) && isDefaultPath:
	default:
		return nil, fmt.Errorf("read settings: %w", err)
	}

	if err = Validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Save writes the settings to the provided path.
func Save(path string, cfg *Config) error {
	if cfg == nil {
		return errConfigIsNotSet
	}

	if path == "" {
		path = DefaultConfigFilename
	}

	if err := Validate(cfg); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}

	if err := os.WriteFile(filepath.Clean(path), data, DefaultFilePermissions); err != nil {
		return fmt.Errorf("write settings: %w", err)
	}

	return nil
}

// Validate checks the settings and fills blank fields with defaults.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errConfigIsNotSet
	}

	if cfg.OutputDir == "" {
		cfg.OutputDir = DefaultOutputDir
	}

	if cfg.PackageFile == "" {
		cfg.PackageFile = DefaultPackageFile
	}

	if cfg.LogLevel == "" {
		cfg.LogLevel = DefaultLogLevel
	}

	if strings.ContainsRune(cfg.PackageFile, '/') ||
		!strings.HasSuffix(cfg.PackageFile, packageFileExtension) ||
		cfg.PackageFile == packageFileExtension {
		return fmt.Errorf("%q: %w", cfg.PackageFile, errBadPackageFile)
	}

	if filepath.IsAbs(cfg.OutputDir) || !filepath.IsLocal(cfg.OutputDir) {
		return fmt.Errorf("%q: %w", cfg.OutputDir, errBadOutputDir)
	}

	for field, value := range map[string]string{
		"packager":          cfg.Packager,
		"installer":         cfg.Installer,
		"privilege_command": cfg.PrivilegeCommand,
	} {
		if strings.TrimSpace(value) == "" {
			return fmt.Errorf("%s: %w", field, errToolRequired)
		}
	}

	if _, ok := logger.ParseLogLevel(cfg.LogLevel); !ok {
		return fmt.Errorf("%q: %w", cfg.LogLevel, errBadLogLevel)
	}

	if cfg.Timeout < 0 {
		cfg.Timeout = 0
	}

	return nil
}

// ArtifactPath returns the artifact location for the given source tree.
func (c *Config) ArtifactPath(sourceDir string) string {
	return filepath.Join(sourceDir, c.OutputDir, c.PackageFile)
}

// ResolveSourceDir returns the absolute source tree: SourceDir when set,
// otherwise the parent of invocationDir.
func (c *Config) ResolveSourceDir(invocationDir string) (string, error) {
	if c.SourceDir == "" {
		return filepath.Dir(invocationDir), nil
	}

	abs, err := filepath.Abs(c.SourceDir)
	if err != nil {
		return "", fmt.Errorf("resolve source directory: %w", err)
	}

	return abs, nil
}
