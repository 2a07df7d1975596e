package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/spf13/cobra"

	"github.com/okian/paddock/internal/adapters/alertstate"
	"github.com/okian/paddock/internal/adapters/notify"
	"github.com/okian/paddock/internal/adapters/sources"
	service "github.com/okian/paddock/internal/app"
	"github.com/okian/paddock/internal/config"
	"github.com/okian/paddock/internal/domain/alert"
	"github.com/okian/paddock/pkg/logger"
)

// MobileOptions holds flags for the mobile command.
type MobileOptions struct {
	*RootOptions
	Once bool
}

// NewMobileCommand creates the mobile command.
func NewMobileCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &MobileOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "mobile",
		Short: "Poll sources, score races and send alerts",
		Long: `Run the mobile monitor: every check_interval it fetches each configured
source, merges the documents, scores every race that changed and notifies
races that pass the alert rule.

Example:
  paddock mobile --config ~/.config/paddock.yaml
  paddock mobile --once`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runMobile(cmd, opts)
		},
	}

	cmd.Flags().BoolVar(&opts.Once, "once", false, "run a single cycle, print its report and exit")

	return cmd
}

func runMobile(cmd *cobra.Command, opts *MobileOptions) error {
	cfg := opts.Config
	log := logger.Named("mobile")

	ctx, stop := withSignals(cmd.Context())
	defer stop()

	reg, err := buildRegistry(cfg)
	if err != nil {
		return err
	}
	if reg.Len() == 0 {
		log.Warn(ctx, "no sources configured")
	}

	alerts := alert.NewEngine(cfg.AlertRule(),
		alertstate.NewFileStore(cfg.DataDir, alertstate.WithLogger(logger.Named("alertstate"))),
		buildNotifier(cfg),
		alert.WithLogger(logger.Named("alert")))

	j, err := openJournal(cfg)
	if err != nil {
		return fmt.Errorf("open journal: %w", err)
	}
	defer func() {
		if j == nil {
			return
		}
		if err := j.Close(); err != nil {
			log.Error(ctx, "journal close failed", logger.Error(err))
		}
	}()

	pipeline := newPipeline(cfg, persistentMerge(cfg, j)...)
	mon := service.NewMonitor(reg, pipeline, alerts,
		service.WithInterval(config.Seconds(cfg.Monitor.CheckIntervalSeconds)),
		service.WithFetchConcurrency(cfg.Monitor.FetchConcurrency),
		service.WithMonitorLogger(log))

	if err := mon.Open(ctx); err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := mon.Close(closeCtx); err != nil {
			log.Error(closeCtx, "monitor close failed", logger.Error(err))
		}
	}()

	if opts.Once {
		report, err := mon.Cycle(ctx)
		if err != nil {
			return err
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	}

	log.Info(ctx, "monitor started",
		logger.Int("sources", reg.Len()),
		logger.Int("check_interval_seconds", cfg.Monitor.CheckIntervalSeconds))
	return mon.Run(ctx)
}

// buildFetcher wires the resilient fetcher from the fetch settings.
func buildFetcher(cfg *config.Config) *sources.Fetcher {
	fc := cfg.Fetch
	return sources.NewFetcher(
		sources.WithHTTPClient(&http.Client{Timeout: config.Seconds(fc.TimeoutSeconds)}),
		sources.WithRateLimit(fc.RateLimitRPS, fc.Burst),
		sources.WithRetry(fc.MaxRetries, 0, 0),
		sources.WithBreaker(fc.BreakerFailures, config.Seconds(fc.BreakerOpenSeconds)),
		sources.WithUserAgent(fc.UserAgent),
		sources.WithFetchLogger(logger.Named("fetch")),
	)
}

// buildRegistry registers one adapter per configured source.
func buildRegistry(cfg *config.Config) (*sources.Registry, error) {
	specs, err := cfg.Specs()
	if err != nil {
		return nil, err
	}
	reg, err := sources.Build(specs, buildFetcher(cfg))
	if err != nil {
		return nil, fmt.Errorf("build sources: %w", err)
	}
	return reg, nil
}

// buildNotifier always logs, and adds the command and webhook transports
// when configured.
func buildNotifier(cfg *config.Config) alert.Notifier {
	nc := cfg.Notify
	multi := notify.Multi{notify.NewLogNotifier(logger.Named("notify"))}

	switch {
	case nc.Command != "":
		multi = append(multi, notify.NewCommandNotifier(nc.Command, nc.Args, config.Seconds(nc.TimeoutSeconds)))
	case nc.Termux:
		multi = append(multi, notify.NewCommandNotifier("termux-notification", notify.TermuxArgs, config.Seconds(nc.TimeoutSeconds)))
	}
	if nc.WebhookURL != "" {
		client := &http.Client{Timeout: config.Seconds(nc.TimeoutSeconds)}
		multi = append(multi, notify.NewWebhookNotifier(nc.WebhookURL, client))
	}
	return multi
}
