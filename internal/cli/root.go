// Package cli holds the paddock cobra commands.
package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/okian/paddock/internal/config"
	"github.com/okian/paddock/pkg/logger"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	ConfigPath string
	LogLevel   string
	LogFormat  string
	DataDir    string

	// Config is loaded by the root pre-run hook.
	Config *config.Config
}

// Execute runs the root command.
func Execute(ctx context.Context) error {
	return NewRootCommand().ExecuteContext(ctx)
}

// NewRootCommand creates the root command for the paddock CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "paddock",
		Short: "paddock - race card merge, scoring and alerts",
		Long: `paddock converges partial race cards from many sources into one record per
race, scores each race from weighted signals, and either ranks the races for the
desktop view or alerts on them from the mobile loop.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return opts.load(cmd)
		},
	}

	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", "", "YAML config file (default $PADDOCK_CONFIG)")
	cmd.PersistentFlags().StringVar(&opts.LogLevel, "log-level", "", "log level (debug|info|warn|error)")
	cmd.PersistentFlags().StringVar(&opts.LogFormat, "log-format", "", "log format (text|json)")
	cmd.PersistentFlags().StringVar(&opts.DataDir, "data-dir", "", "directory for snapshots, alert state and the journal")

	cmd.AddCommand(NewDesktopCommand(opts))
	cmd.AddCommand(NewMobileCommand(opts))
	cmd.AddCommand(NewScoreCommand(opts))
	cmd.AddCommand(NewReportCommand(opts))
	cmd.AddCommand(NewPasteCommand(opts))
	cmd.AddCommand(NewSourcesCommand(opts))

	return cmd
}

// load resolves the config and initializes logging. Flags win over the file
// and the environment.
func (o *RootOptions) load(cmd *cobra.Command) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	var (
		cfg *config.Config
		err error
	)
	if o.ConfigPath != "" {
		cfg, err = config.LoadFrom(ctx, o.ConfigPath)
	} else {
		cfg, err = config.Load(ctx)
	}
	if err != nil {
		return err
	}

	if o.LogLevel != "" {
		cfg.LogLevel = o.LogLevel
	}
	if o.LogFormat != "" {
		cfg.LogFormat = o.LogFormat
	}
	if o.DataDir != "" {
		cfg.DataDir = o.DataDir
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	if err := logger.InitWith(cmd.ErrOrStderr(), cfg.LogFormat); err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}
	if err := logger.SetLevelString(cfg.LogLevel); err != nil {
		logger.Get().Warn(ctx, "invalid log_level; falling back to info",
			logger.String("log_level", cfg.LogLevel), logger.Error(err))
		_ = logger.SetLevelString("info")
	}

	o.Config = cfg
	return nil
}
