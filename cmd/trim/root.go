package main

import (
	"log/slog"

	"github.com/spf13/cobra"

	"silence-trimmer/internal/config"
	"silence-trimmer/internal/logging"
	"silence-trimmer/internal/media"
)

// commandContext lazily loads configuration shared by every subcommand.
type commandContext struct {
	configFlag *string
	verbose    *bool

	cfg    *config.Config
	logger *slog.Logger
}

func newCommandContext(configFlag *string, verbose *bool) *commandContext {
	return &commandContext{configFlag: configFlag, verbose: verbose}
}

func (c *commandContext) ensureConfig() (config.Config, error) {
	if c.cfg != nil {
		return *c.cfg, nil
	}
	path := ""
	if c.configFlag != nil {
		path = *c.configFlag
	}
	var (
		cfg config.Config
		err error
	)
	if path != "" {
		cfg, err = config.LoadFrom(path)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return config.Config{}, err
	}
	c.cfg = &cfg
	return cfg, nil
}

func (c *commandContext) engine() (*media.Engine, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	return media.New(cfg), nil
}

// log returns a stderr logger when --verbose is set and a silent one otherwise.
func (c *commandContext) log() *slog.Logger {
	if c.logger != nil {
		return c.logger
	}
	c.logger = logging.Discard()
	if c.verbose != nil && *c.verbose {
		if l, err := logging.New("debug", "text", nil); err == nil {
			c.logger = l
		}
	}
	return c.logger
}

func newRootCommand() *cobra.Command {
	var configFlag string
	var verbose bool

	ctx := newCommandContext(&configFlag, &verbose)

	rootCmd := &cobra.Command{
		Use:           "trim",
		Short:         "Remove silent sections from videos",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			_, err := ctx.ensureConfig()
			return err
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	rootCmd.PersistentFlags().StringVarP(&configFlag, "config", "c", "", "Configuration file path (defaults to $TRIM_CONFIG)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Log scheduler activity to stderr")

	rootCmd.AddCommand(newProbeCommand(ctx))
	rootCmd.AddCommand(newDetectCommand(ctx))
	rootCmd.AddCommand(newProcessCommand(ctx))

	return rootCmd
}
