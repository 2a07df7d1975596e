package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/okian/paddock/internal/adapters/http/api"
	"github.com/okian/paddock/internal/adapters/http/swagger"
	"github.com/okian/paddock/internal/adapters/paste"
	service "github.com/okian/paddock/internal/app"
	"github.com/okian/paddock/pkg/logger"
)

// HTTP server timeout constants.
const (
	readTimeout       = 10 * time.Second
	writeTimeout      = 10 * time.Second
	idleTimeout       = 60 * time.Second
	readHeaderTimeout = 5 * time.Second
	shutdownTimeout   = 30 * time.Second
)

// inboxSource is the source ID given to cards dropped in the inbox.
const inboxSource = "inbox"

// DesktopOptions holds flags for the desktop command.
type DesktopOptions struct {
	*RootOptions
	Addr  string
	Inbox string
}

// NewDesktopCommand creates the desktop command.
func NewDesktopCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &DesktopOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "desktop",
		Short: "Serve the ranking API and accept pasted race cards",
		Long: `Start the desktop service: the HTTP API (documents, paste, ranked report),
API docs under /api-docs, and an optional inbox directory watched for dropped
race cards.

Example:
  paddock desktop --addr :9080 --inbox ~/paddock/inbox`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runDesktop(cmd.Context(), opts)
		},
	}

	cmd.Flags().StringVar(&opts.Addr, "addr", "", "HTTP listen address (default from config)")
	cmd.Flags().StringVar(&opts.Inbox, "inbox", "", "directory watched for dropped race cards")

	return cmd
}

func runDesktop(parent context.Context, opts *DesktopOptions) error {
	cfg := opts.Config
	if opts.Addr != "" {
		cfg.Addr = opts.Addr
	}
	if opts.Inbox != "" {
		cfg.InboxDir = opts.Inbox
	}
	log := logger.Named("desktop")

	ctx, stop := withSignals(parent)
	defer stop()

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

	svcOpts := []service.Option{
		service.WithLogger(logger.Named("service")),
		service.WithQueueSize(cfg.QueueSize),
		service.WithDedupeSize(cfg.DedupeSize),
		service.WithPasteTier(cfg.Tier()),
		service.WithLocation(cfg.Location()),
	}
	if j != nil {
		svcOpts = append(svcOpts, service.WithJournal(j))
	}
	svc := service.New(newPipeline(cfg, persistentMerge(cfg, j)...), svcOpts...)
	if err := svc.Start(ctx); err != nil {
		return fmt.Errorf("failed to start service: %w", err)
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := svc.Stop(stopCtx); err != nil {
			log.Error(stopCtx, "service stop failed", logger.Error(err))
		}
	}()

	if cfg.InboxDir != "" {
		w, err := paste.NewWatcher(cfg.InboxDir, inboxHandler(svc), paste.WithLogger(logger.Named("inbox")))
		if err != nil {
			return fmt.Errorf("watch inbox: %w", err)
		}
		defer func() { _ = w.Close() }()
		go func() {
			if err := w.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Error(ctx, "inbox watcher stopped", logger.Error(err))
			}
		}()
	}

	mux := http.NewServeMux()
	swagger.Register(ctx, mux)
	api.NewServer(svc, svc, cfg.MaxReportLimit).Register(ctx, mux)

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadTimeout:       readTimeout,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       idleTimeout,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info(ctx, "starting HTTP server", logger.String("addr", cfg.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("HTTP server failed: %w", err)
		}
	}
	log.Info(ctx, "shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error(shutdownCtx, "server shutdown failed", logger.Error(err))
	}
	log.Info(shutdownCtx, "server stopped")
	return nil
}

// inboxHandler submits a dropped file. Unrecognized files are logged by the
// watcher and skipped.
func inboxHandler(svc *service.Service) paste.Handler {
	return func(ctx context.Context, name string, data []byte) error {
		results, err := svc.SubmitPayload(ctx, inboxSource, data)
		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		logger.Named("inbox").Info(ctx, "card submitted",
			logger.String("file", name), logger.Int("documents", len(results)))
		return nil
	}
}
