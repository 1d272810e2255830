package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/storeaudit/storeaudit/internal/config"
)

func newInitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a configuration file with every default spelled out",
		Long: `Write the default configuration to ~/.storeaudit/config.yaml, or to the
path given with --config, so it can be edited.

Examples:
  # Create the default config
  storeaudit init

  # Replace an existing config
  storeaudit init --force --config ./storeaudit.yaml`,
		Args: cobra.NoArgs,
		RunE: runInit,
	}
	cmd.Flags().Bool("force", false, "overwrite an existing config file")
	return cmd
}

func runInit(cmd *cobra.Command, args []string) error {
	setupLogging()

	force, _ := cmd.Flags().GetBool("force")

	path := cfgFile
	if path == "" {
		p, err := config.DefaultPath()
		if err != nil {
			return err
		}
		path = p
	}

	if _, err := os.Stat(path); err == nil && !force {
		return fmt.Errorf("config already exists: %s (use --force to overwrite)", path)
	}

	if err := config.Write(path, config.Default()); err != nil {
		return err
	}
	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Config written: %s\n", path)
	return nil
}
