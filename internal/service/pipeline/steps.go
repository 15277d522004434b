package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/oshokin/debpack/internal/archive"
	"github.com/oshokin/debpack/internal/domain/debian"
	"github.com/oshokin/debpack/internal/execute"
	"github.com/oshokin/debpack/internal/logger"
)

// build validates the source tree, runs the packaging tool and verifies the result.
func (p *pipeline) build(ctx context.Context) error {
	logger.InfoKV(ctx, "Reading package metadata", "source_dir", p.sourceDir)

	control, err := debian.LoadControl(p.sourceDir)
	if err != nil {
		return err
	}

	p.control = control

	if err = p.ensureOutputDir(ctx); err != nil {
		return err
	}

	logger.InfoKV(ctx, "Building package",
		"package", control.Name(),
		"version", control.Version(),
		"maintainer", control.Field("Maintainer"),
		"artifact", p.artifactPath,
	)

	cmd := execute.Command{
		Name: p.cfg.Packager,
		Args: []string{"--build", p.sourceDir, p.artifactPath},
		Dir:  p.sourceDir,
	}

	if _, err = p.runner.Run(ctx, cmd); err != nil {
		return err
	}

	if !p.cfg.VerifyArtifact {
		return nil
	}

	summary, err := p.verify(ctx)
	if err != nil {
		return err
	}

	if summary.Control.Name() != control.Name() || summary.Control.Version() != control.Version() {
		return fmt.Errorf("%s %s, want %s %s: %w",
			summary.Control.Name(), summary.Control.Version(),
			control.Name(), control.Version(),
			ErrArtifactMismatch)
	}

	return nil
}

// ensureOutputDir creates the output directory when allowed.
func (p *pipeline) ensureOutputDir(ctx context.Context) error {
	dir := filepath.Dir(p.artifactPath)

	info, err := os.Stat(dir)
	switch {
	case err == nil && info.IsDir():
		return nil
	case err == nil:
		return fmt.Errorf("output directory %s: %w", dir, os.ErrExist)
	case !errors.Is(err, os.ErrNotExist) || !p.cfg.CreateOutputDir:
		return fmt.Errorf("output directory: %w", err)
	}

	logger.InfoKV(ctx, "Creating output directory", "path", dir)

	if err = os.MkdirAll(dir, outputDirMode); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}

	return nil
}

// verify inspects the artifact and logs its identity.
func (p *pipeline) verify(ctx context.Context) (*archive.Summary, error) {
	summary, err := archive.Inspect(p.artifactPath)
	if err != nil {
		return nil, fmt.Errorf("verify artifact: %w", err)
	}

	logger.InfoKV(ctx, "Package archive verified",
		"package", summary.Control.Name(),
		"version", summary.Control.Version(),
		"architecture", summary.Control.Architecture(),
		"files", len(summary.DataFiles),
		"size", summary.Size,
		"sha512", summary.Checksum,
	)

	return summary, nil
}

// install runs the install tool with elevated privileges.
func (p *pipeline) install(ctx context.Context) error {
	if _, err := os.Stat(p.artifactPath); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%s: %w", p.artifactPath, ErrArtifactMissing)
		}

		return fmt.Errorf("stat artifact: %w", err)
	}

	// The build step already verified a fresh artifact.
	if p.mode == ModeInstall && p.cfg.VerifyArtifact {
		if _, err := p.verify(ctx); err != nil {
			return err
		}
	}

	if p.cfg.CheckPackageManager {
		if err := p.guard.CheckPackageManager(ctx); err != nil {
			return err
		}
	}

	logger.InfoKV(ctx, "Installing package", "artifact", p.artifactPath)

	cmd := execute.Command{
		Name:       p.cfg.Installer,
		Args:       []string{"-i", p.artifactPath},
		Dir:        p.sourceDir,
		Privileged: true,
	}

	if _, err := p.runner.Run(ctx, cmd); err != nil {
		return err
	}

	return nil
}
