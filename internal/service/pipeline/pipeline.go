package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/oshokin/debpack/internal/config"
	"github.com/oshokin/debpack/internal/domain/debian"
	"github.com/oshokin/debpack/internal/execute"
	"github.com/oshokin/debpack/internal/logger"
	"github.com/oshokin/debpack/internal/service/guard"
)

// Mode selects which steps a run performs.
type Mode int

const (
	// ModeAll builds and installs.
	ModeAll Mode = iota
	// ModeBuild builds and verifies the artifact only.
	ModeBuild
	// ModeInstall installs an existing artifact only.
	ModeInstall
)

// String implements fmt.Stringer.
func (m Mode) String() string {
	switch m {
	case ModeAll:
		return "build+install"
	case ModeBuild:
		return "build"
	case ModeInstall:
		return "install"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

const outputDirMode os.FileMode = 0o755

var (
	// ErrArtifactMismatch is returned when the built archive names another package.
	ErrArtifactMismatch = errors.New("built archive does not match the source control file")
	// ErrArtifactMissing is returned when there is nothing to install.
	ErrArtifactMissing = errors.New("package archive not found")
)

// Options contains inputs for the pipeline entry point.
type Options struct {
	// ConfigPath is the settings file; a missing default file means defaults.
	ConfigPath string
	// Mode selects the steps to run.
	Mode Mode
	// SourceDir overrides the source tree (default: parent of the working directory).
	SourceDir string
	// OutputDir overrides the output directory name.
	OutputDir string
	// PackageFile overrides the artifact file name.
	PackageFile string
	// ArtifactPath installs this archive instead of the configured one (ModeInstall).
	ArtifactPath string
	// LogLevel overrides the configured log level.
	LogLevel string

	// Stdout receives the diagnostic directory line; os.Stdout when nil.
	Stdout io.Writer
	// Runner executes tools; built from the settings when nil.
	Runner execute.Runner
	// Guard checks for concurrent runs; the live process table when nil.
	Guard *guard.Guard
}

// pipeline holds the resolved state of a single run.
// It is unexported; callers use Run.
type pipeline struct {
	cfg    *config.Config
	mode   Mode
	stdout io.Writer
	runner execute.Runner
	guard  *guard.Guard

	// invocationDir is the working directory at startup.
	invocationDir string
	// sourceDir is the package source tree.
	sourceDir string
	// artifactPath is the archive built or installed.
	artifactPath string
	// control is the parsed source control file (build modes only).
	control *debian.Control
}

// Run executes the packaging workflow. The returned error carries the failing
// tool's exit status, see execute.ExitCode.
func Run(ctx context.Context, opts *Options) error {
	ctx = logger.WithName(ctx, "debpack")
	ctx = logger.WithKV(ctx, "run_id", uuid.NewString())

	p, err := newPipeline(ctx, opts)
	if err != nil {
		return err
	}

	marker, err := p.guard.Acquire(ctx, p.artifactPath)
	if err != nil {
		return err
	}

	defer func() {
		if releaseErr := marker.Release(); releaseErr != nil {
			logger.WarnKV(ctx, "Unable to remove run marker", "error", releaseErr)
		}
	}()

	if err = p.Run(ctx); err != nil {
		logger.ErrorKV(ctx, "Run failed", "mode", p.mode, "error", err)
		return err
	}

	logger.InfoKV(ctx, "Run completed", "mode", p.mode, "artifact", p.artifactPath)

	return nil
}

// newPipeline loads settings, applies overrides and resolves the paths.
func newPipeline(ctx context.Context, opts *Options) (*pipeline, error) {
	if opts == nil {
		opts = new(Options)
	}

	cfg, err := loadConfig(opts)
	if err != nil {
		return nil, err
	}

	level, _ := logger.ParseLogLevel(cfg.LogLevel)
	logger.SetLevel(level)

	p := &pipeline{
		cfg:    cfg,
		mode:   opts.Mode,
		stdout: opts.Stdout,
		runner: opts.Runner,
		guard:  opts.Guard,
	}

	if p.stdout == nil {
		p.stdout = os.Stdout
	}

	if p.runner == nil {
		p.runner = execute.NewExecRunner(
			execute.WithPrivilegeCommand(cfg.PrivilegeCommand),
			execute.WithTimeout(cfg.Timeout),
		)
	}

	if p.guard == nil {
		p.guard = guard.New()
	}

	if err = p.resolvePaths(ctx, opts.ArtifactPath); err != nil {
		return nil, err
	}

	return p, nil
}

func loadConfig(opts *Options) (*config.Config, error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}

	if opts.SourceDir != "" {
		cfg.SourceDir = opts.SourceDir
	}

	if opts.OutputDir != "" {
		cfg.OutputDir = opts.OutputDir
	}

	if opts.PackageFile != "" {
		cfg.PackageFile = opts.PackageFile
	}

	if opts.LogLevel != "" {
		cfg.LogLevel = opts.LogLevel
	}

	if err = config.Validate(cfg); err != nil {
		return nil, fmt.Errorf("validate settings: %w", err)
	}

	return cfg, nil
}

// resolvePaths captures the invocation directory, prints it and moves to the
// source tree.
func (p *pipeline) resolvePaths(ctx context.Context, artifactOverride string) error {
	wd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("resolve working directory: %w", err)
	}

	p.invocationDir = wd

	if _, err = fmt.Fprintln(p.stdout, p.invocationDir); err != nil {
		return fmt.Errorf("print working directory: %w", err)
	}

	if p.sourceDir, err = p.cfg.ResolveSourceDir(p.invocationDir); err != nil {
		return err
	}

	if err = os.Chdir(p.sourceDir); err != nil {
		return fmt.Errorf("change directory: %w", err)
	}

	p.artifactPath = p.cfg.ArtifactPath(p.sourceDir)
	if artifactOverride != "" {
		// Relative overrides are relative to where the user typed them.
		if !filepath.IsAbs(artifactOverride) {
			artifactOverride = filepath.Join(p.invocationDir, artifactOverride)
		}

		p.artifactPath = filepath.Clean(artifactOverride)
	}

	logger.DebugKV(ctx, "Resolved paths",
		"invocation_dir", p.invocationDir,
		"source_dir", p.sourceDir,
		"artifact", p.artifactPath,
	)

	return nil
}

// Run performs the steps selected by the mode.
func (p *pipeline) Run(ctx context.Context) error {
	if p.mode != ModeInstall {
		if err := p.build(ctx); err != nil {
			return fmt.Errorf("build package: %w", err)
		}
	}

	if p.mode != ModeBuild {
		if err := p.install(ctx); err != nil {
			return fmt.Errorf("install package: %w", err)
		}
	}

	return nil
}
