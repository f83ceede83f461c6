package main

import (
	"log/slog"
	"strings"

	"github.com/spf13/cobra"
	"github.com/ubuygold/stockmeta/internal/config"
	"github.com/ubuygold/stockmeta/internal/logger"
)

type commandContext struct {
	configFlag *string
	debugFlag  *bool
}

// load reads the configuration and builds the logger. Config warnings are logged.
func (c *commandContext) load() (*config.Config, *slog.Logger, error) {
	path := strings.TrimSpace(*c.configFlag)
	if path == "" {
		path = "config.yaml"
	}
	cfg, warnings, err := config.LoadConfig(path)
	if err != nil {
		return nil, nil, err
	}
	if *c.debugFlag {
		cfg.Debug = true
	}
	log := logger.New(cfg.Debug)
	for _, w := range warnings {
		log.Warn(w)
	}
	return cfg, log, nil
}

func newRootCommand() *cobra.Command {
	var configFlag string
	var debugFlag bool
	ctx := &commandContext{configFlag: &configFlag, debugFlag: &debugFlag}

	rootCmd := &cobra.Command{
		Use:           "stockmeta",
		Short:         "Microstock metadata generator and trend service",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
	rootCmd.PersistentFlags().StringVarP(&configFlag, "config", "c", "config.yaml", "Configuration file path")
	rootCmd.PersistentFlags().BoolVar(&debugFlag, "debug", false, "Enable debug logging")

	rootCmd.AddCommand(newServeCommand(ctx))
	rootCmd.AddCommand(newKeysCommand(ctx))
	rootCmd.AddCommand(newUsersCommand(ctx))
	rootCmd.AddCommand(newBatchCommand(ctx))
	rootCmd.AddCommand(newScrapeCommand(ctx))
	rootCmd.AddCommand(newImportLegacyCommand(ctx))
	return rootCmd
}
