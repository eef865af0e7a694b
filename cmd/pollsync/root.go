package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/pders01/pollsync/internal/config"
	"github.com/pders01/pollsync/internal/debuglog"
)

var (
	rootCmd = &cobra.Command{
		Use:   "pollsync",
		Short: "Offline-first sync agent for the survey client",

		// All child commands will use this
		PersistentPreRunE: func(cmd *cobra.Command, args []string) (err error) {
			conf, err = loadConfig()
			if err != nil {
				return
			}
			return setupLogging(conf)
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			_ = debuglog.Close()
		},
		SilenceErrors: true,
		SilenceUsage:  true,
	}

	conf *config.Config

	cfgFile  string
	dbPath   string
	logLevel string
	logFile  string
)

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "configuration file path")
	flags.StringVar(&dbPath, "db", "", "database file (overrides config)")
	flags.StringVar(&logLevel, "log-level", "", "log level: off, error, warn, info, debug")
	flags.StringVar(&logFile, "log-file", "", `log file, "-" for stderr`)
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}
	if dbPath != "" {
		cfg.Database.Path = dbPath
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	if logFile != "" {
		cfg.Log.File = logFile
	}
	return cfg, nil
}

func setupLogging(cfg *config.Config) error {
	if err := debuglog.Setup(debuglog.ParseLogLevel(cfg.Log.Level), cfg.Log.File); err != nil {
		return fmt.Errorf("setting up logging: %w", err)
	}
	return nil
}
