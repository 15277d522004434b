package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/oshokin/debpack/internal/config"
)

var (
	// forceOverwrite allows `config init` to replace an existing file.
	forceOverwrite bool

	errConfigExists = errors.New("settings file already exists, use --force to overwrite")

	configCmd = &cobra.Command{
		Use:   "config",
		Short: "Manage the settings file",
	}

	configInitCmd = &cobra.Command{
		Use:   "init",
		Short: "Write a settings file with the default values",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if _, err := os.Stat(configPath); err == nil && !forceOverwrite {
				return fmt.Errorf("%s: %w", configPath, errConfigExists)
			}

			if err := config.Save(configPath, config.Default()); err != nil {
				return err
			}

			_, err := fmt.Fprintf(cmd.OutOrStdout(), "Settings written to %s\n", configPath)

			return err
		},
	}
)

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	configInitCmd.Flags().BoolVarP(&forceOverwrite, "force", "f", false, "overwrite an existing settings file")
	configCmd.AddCommand(configInitCmd)
}
