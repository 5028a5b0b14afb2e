// ABOUTME: Root cobra command and shared setup
// ABOUTME: Loads configuration and builds the logger for every subcommand
package cli

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/harperreed/leadbridge/config"
	"github.com/harperreed/leadbridge/logging"
)

type rootFlags struct {
	configFile string
	dbPath     string
	logLevel   string
}

// NewRootCommand builds the leadbridge command tree.
func NewRootCommand(version string) *cobra.Command {
	flags := &rootFlags{}

	root := &cobra.Command{
		Use:           "leadbridge",
		Short:         "Two-way lead sync between Google Sheets and AmoCRM",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&flags.configFile, "config", "", "YAML config file")
	root.PersistentFlags().StringVar(&flags.dbPath, "db-path", "", "State database path (default: "+config.DefaultStateDB()+")")
	root.PersistentFlags().StringVar(&flags.logLevel, "log-level", "", "Override LOG_LEVEL (debug, info, warn, error)")

	root.AddCommand(
		newServeCommand(flags),
		newImportCommand(flags),
		newStatusCommand(flags),
		newMCPCommand(flags),
	)

	return root
}

type environment struct {
	cfg      *config.Config
	logger   *slog.Logger
	closeLog func() error
}

// setup loads configuration, applies flag overrides and builds the logger.
// validate selects which required keys are checked: nil skips validation.
func setup(flags *rootFlags, validate *bool) (*environment, error) {
	cfg, err := config.Load(flags.configFile)
	if err != nil {
		return nil, err
	}
	if flags.dbPath != "" {
		cfg.StateDB = flags.dbPath
	}
	if flags.logLevel != "" {
		cfg.Log.Level = flags.logLevel
	}
	if validate != nil {
		if err := cfg.Validate(*validate); err != nil {
			return nil, err
		}
	}

	logger, closeLog, err := logging.New(logging.Options{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		File:   cfg.Log.File,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}
	slog.SetDefault(logger)

	return &environment{cfg: cfg, logger: logger, closeLog: closeLog}, nil
}

func boolPtr(b bool) *bool {
	return &b
}
