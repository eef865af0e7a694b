package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/pders01/pollsync/internal/config"
)

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configGenerateCmd, configShowCmd)
	configGenerateCmd.Flags().StringVarP(&configOut, "output", "o", "", "file to write (default ~/.config/pollsync/config.toml)")
}

var configOut string

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Generate or inspect the configuration",
}

var configGenerateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Write the default configuration file",
	// config loading is skipped so a broken file can be replaced
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return nil },
	RunE: func(cmd *cobra.Command, args []string) error {
		path := configOut
		if path == "" {
			home, err := os.UserHomeDir()
			if err != nil {
				return err
			}
			path = filepath.Join(home, ".config", "pollsync", "config.toml")
		}
		if err := config.GenerateDefaultConfig(path); err != nil {
			return fmt.Errorf("generating config: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Generated default configuration at: %s\n", path)
		return nil
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration as TOML",
	RunE: func(cmd *cobra.Command, args []string) error {
		out, err := config.Render(conf)
		if err != nil {
			return err
		}
		_, err = cmd.OutOrStdout().Write(out)
		return err
	},
}
