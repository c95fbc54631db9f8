package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/utlibraries/crate/internal/config"
)

var initForce bool

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create the crate home directory and a default config file",
	Long: `Create the crate home directory and write a default config file.

The written file documents every setting with its default value. API
keys use ${ENV_VAR} syntax and are resolved from the environment when
the config loads.

Examples:
  crate init           # Write ~/.crate/config.yaml
  crate init --force   # Overwrite an existing config file`,
	RunE: func(cmd *cobra.Command, args []string) error {
		h, err := getHome()
		if err != nil {
			return err
		}

		if h.ConfigExists() && !initForce {
			return fmt.Errorf("config already exists at %s (use --force to overwrite)", h.ConfigPath())
		}

		if err := config.WriteDefault(h.ConfigPath()); err != nil {
			return err
		}

		fmt.Printf("Wrote default config to %s\n", h.ConfigPath())
		return nil
	},
}

func init() {
	initCmd.Flags().BoolVar(&initForce, "force", false, "Overwrite an existing config file")
	rootCmd.AddCommand(initCmd)
}
