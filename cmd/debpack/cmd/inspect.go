package cmd

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/oshokin/debpack/internal/archive"
	"github.com/oshokin/debpack/internal/config"
)

// inspectCmd prints what a built archive contains.
var inspectCmd = &cobra.Command{
	Use:   "inspect [package.deb]",
	Short: "Show the metadata and files of a built package",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path, err := inspectTarget(args)
		if err != nil {
			return err
		}

		summary, err := archive.Inspect(path)
		if err != nil {
			return err
		}

		return printSummary(cmd.OutOrStdout(), summary)
	},
}

// inspectTarget returns the argument or the configured artifact path.
func inspectTarget(args []string) (string, error) {
	if len(args) == 1 {
		return args[0], nil
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return "", err
	}

	if sourceDir != "" {
		cfg.SourceDir = sourceDir
	}

	if outputDir != "" {
		cfg.OutputDir = outputDir
	}

	if packageFile != "" {
		cfg.PackageFile = packageFile
	}

	if err = config.Validate(cfg); err != nil {
		return "", err
	}

	wd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("resolve working directory: %w", err)
	}

	src, err := cfg.ResolveSourceDir(wd)
	if err != nil {
		return "", err
	}

	return cfg.ArtifactPath(src), nil
}

func printSummary(w io.Writer, s *archive.Summary) error {
	var b strings.Builder

	fmt.Fprintf(&b, "File:     %s\n", s.Path)
	fmt.Fprintf(&b, "Size:     %d bytes\n", s.Size)
	fmt.Fprintf(&b, "SHA512:   %s\n", s.Checksum)
	fmt.Fprintf(&b, "Format:   %s\n", s.FormatVersion)
	fmt.Fprintf(&b, "Members:  %s\n", strings.Join(s.Members, ", "))
	fmt.Fprintf(&b, "Control:  %s\n\n", strings.Join(s.ControlFiles, ", "))
	b.WriteString(s.Control.String())
	fmt.Fprintf(&b, "\nFiles (%d):\n", len(s.DataFiles))

	for _, name := range s.DataFiles {
		b.WriteString("  ")
		b.WriteString(name)
		b.WriteByte('\n')
	}

	_, err := io.WriteString(w, b.String())

	return err
}
