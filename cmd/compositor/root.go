package main

import (
	"strings"
	"sync"

	"github.com/nextconvert/compositor/internal/modules/platform"
	"github.com/nextconvert/compositor/internal/shared/config"
	"github.com/nextconvert/compositor/internal/shared/logging"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

type commandContext struct {
	logLevel *string
	profiles *string

	once     sync.Once
	config   *config.Config
	logger   *zap.Logger
	registry *platform.Registry
	err      error
}

func (c *commandContext) ensure() error {
	c.once.Do(func() {
		cfg, err := config.Load()
		if err != nil {
			c.err = err
			return
		}
		if c.profiles != nil && strings.TrimSpace(*c.profiles) != "" {
			cfg.Render.ProfilesFile = strings.TrimSpace(*c.profiles)
		}
		level := cfg.LogLevel
		if c.logLevel != nil && *c.logLevel != "" {
			level = *c.logLevel
		}

		logger, err := logging.NewLogger(level, cfg.Environment)
		if err != nil {
			c.err = err
			return
		}
		registry, err := platform.LoadOverrides(cfg.Render.ProfilesFile, platform.DefaultRegistry())
		if err != nil {
			c.err = err
			return
		}

		c.config = cfg
		c.logger = logger
		c.registry = registry
	})
	return c.err
}

func newRootCommand() *cobra.Command {
	var logLevel, profiles string
	ctx := &commandContext{logLevel: &logLevel, profiles: &profiles}

	rootCmd := &cobra.Command{
		Use:           "compositor",
		Short:         "Render short-form video compositions",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return ctx.ensure()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&profiles, "profiles", "", "TOML file with extra platform profiles")

	rootCmd.AddCommand(newRenderCommand(ctx))
	rootCmd.AddCommand(newGraphCommand(ctx))
	rootCmd.AddCommand(newPlatformsCommand(ctx))

	return rootCmd
}
