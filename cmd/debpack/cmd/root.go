package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/oshokin/debpack/internal/config"
	"github.com/oshokin/debpack/internal/execute"
	"github.com/oshokin/debpack/internal/service/pipeline"
	"github.com/oshokin/debpack/internal/version"
)

// exitCodeFailure is used for errors that did not come from a tool.
const exitCodeFailure = 1

var (
	// configPath to the configuration YAML file.
	configPath string
	// sourceDir overrides the package source tree.
	sourceDir string
	// outputDir overrides the artifact directory under the source tree.
	outputDir string
	// packageFile overrides the artifact file name.
	packageFile string
	// logLevel overrides the configured log level.
	logLevel string

	// rootCmd builds the package from the parent directory and installs it.
	rootCmd = &cobra.Command{
		Use:   "debpack",
		Short: "Build a Debian package from the parent directory and install it",
		Long: "debpack prints the current directory, moves to its parent, builds the package tree found there " +
			"with dpkg-deb into build/python_runner.deb and installs the result with sudo dpkg -i. " +
			"The run stops at the first tool that fails and exits with that tool's status.\n\n" +
			"Note: dpkg-deb packages everything under the source tree, including build/ and the " +
			"current directory, so those files are installed under / as well.",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runPipeline(cmd, pipeline.ModeAll, "")
		},
	}

	// buildCmd stops after building and verifying the archive.
	buildCmd = &cobra.Command{
		Use:   "build",
		Short: "Build and verify the package without installing it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runPipeline(cmd, pipeline.ModeBuild, "")
		},
	}

	// installCmd installs an already built archive.
	installCmd = &cobra.Command{
		Use:   "install [package.deb]",
		Short: "Install a built package with elevated privileges",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var artifact string
			if len(args) == 1 {
				artifact = args[0]
			}

			return runPipeline(cmd, pipeline.ModeInstall, artifact)
		},
	}
)

// Execute runs the debpack CLI and exits with the failing tool's status on error.
func Execute() {
	version.AttachCobraVersionCommand(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(execute.ExitCode(err, exitCodeFailure))
	}
}

func runPipeline(cmd *cobra.Command, mode pipeline.Mode, artifact string) error {
	// Setup graceful shutdown handling.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	options := &pipeline.Options{
		ConfigPath:   configPath,
		Mode:         mode,
		SourceDir:    sourceDir,
		OutputDir:    outputDir,
		PackageFile:  packageFile,
		ArtifactPath: artifact,
		LogLevel:     logLevel,
		Stdout:       cmd.OutOrStdout(),
	}

	return pipeline.Run(ctx, options)
}

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&configPath, "config", "c", config.DefaultConfigFilename, "path to configuration file")
	flags.StringVarP(&sourceDir, "source", "s", "", "package source tree (default: parent of the current directory)")
	flags.StringVar(&outputDir, "output-dir", "", "artifact directory under the source tree (default \"build\")")
	flags.StringVar(&packageFile, "package-file", "", "artifact file name (default \"python_runner.deb\")")
	flags.StringVarP(&logLevel, "log-level", "l", "", "log level: debug, info, warn, error")

	rootCmd.AddCommand(buildCmd, installCmd, inspectCmd, configCmd)
}
