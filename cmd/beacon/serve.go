package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	goutils "github.com/jkaninda/go-utils"
	"github.com/spf13/cobra"

	"go.opentelemetry.io/otel/trace"

	"github.com/nordvik/beacon/internal/agent"
	"github.com/nordvik/beacon/internal/config"
	"github.com/nordvik/beacon/internal/dispatch"
	"github.com/nordvik/beacon/internal/httpapi"
	"github.com/nordvik/beacon/internal/notification"
	"github.com/nordvik/beacon/internal/observability"
	"github.com/nordvik/beacon/internal/ratelimit"
	"github.com/nordvik/beacon/internal/scheduler"
	"github.com/nordvik/beacon/internal/storage"
)

var (
	serveConfigPath string
	servePort       string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the Beacon server (scheduler, dispatcher, HTTP API)",
	RunE:  runServe,
}

func init() {
	// Register flags on both root and serve so that
	// `beacon --config path` and `beacon serve --config path` both work.
	for _, cmd := range []*cobra.Command{rootCmd, serveCmd} {
		cmd.Flags().StringVar(&serveConfigPath, "config", config.DefaultConfigPath(), "path to config file")
		cmd.Flags().StringVar(&servePort, "port", "", "override HTTP listen address (e.g. :8080)")
	}
}

// runServe starts the full server: storage, notification channels, the
// suggestion dispatch cycle, the execution scheduler, and the HTTP API.
func runServe(_ *cobra.Command, _ []string) error {
	cfgPath := goutils.Env("BEACON_CONFIG", serveConfigPath)
	cfg, err := config.Load(cfgPath)
	if err != nil {
		// A missing file at the conventional location means "run with
		// defaults"; an explicit path that does not exist is an error.
		if !errors.Is(err, os.ErrNotExist) || cfgPath != config.DefaultConfigPath() {
			return err
		}
		cfg = config.Default()
	}

	// Apply CLI overrides.
	if servePort != "" {
		cfg.Server.ListenAddr = servePort
	}

	logger := newLogger(cfg.Logging)
	logger.Info("starting beacon",
		slog.String("addr", cfg.Server.Addr()),
		slog.String("driver", cfg.StorageDriverName()),
	)

	// Signal-aware context.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	obs, err := observability.New(cfg.Observability, logger)
	if err != nil {
		return err
	}
	defer obs.Shutdown(context.Background())

	store, err := openStore(cfg, logger)
	if err != nil {
		return err
	}
	defer store.Close()
	if err := store.Migrate(ctx); err != nil {
		return fmt.Errorf("migrating database: %w", err)
	}
	obs.Health.AddCheck("database", store.Ping)

	dispatcher := buildDispatcher(cfg, obs, logger)

	// Suggestion delivery cycle.
	cycle := dispatch.New(store.Suggestions(), dispatcher, dispatch.NewMetrics(obs.Registry), logger,
		dispatch.Config{
			PollInterval: cfg.Dispatch.Poll(),
			MaxPerCycle:  cfg.Dispatch.PerCycle(),
			SendTimeout:  cfg.Dispatch.SendTimeout(),
		})
	cancelDispatch := cycle.Start(ctx)
	defer cancelDispatch()

	// Run workload: overdue scan, upcoming digest, delivered-row pruning.
	engine := agent.New(store.Suggestions(), store.Schedule(), logger, agent.Config{
		DigestWindow: cfg.Maintenance.DigestWindow(),
		Retention:    cfg.Maintenance.Retention(),
	})

	// Live run-event feed for WebSocket subscribers.
	hub := httpapi.NewHub(logger)

	loop := scheduler.New(store.Schedule(), store.Runs(), engine, dispatcher,
		scheduler.NewMetrics(obs.Registry), logger,
		scheduler.Config{
			TickInterval: cfg.Scheduler.Tick(),
			RunTimeout:   cfg.Scheduler.RunTimeout(),
		}).WithObserver(hub)
	cancelLoop, err := loop.Start(ctx)
	if err != nil {
		return fmt.Errorf("starting scheduler: %w", err)
	}
	defer cancelLoop()

	limiter := ratelimit.NewLimiter(ratelimit.Config{
		RequestsPerMinute: cfg.Server.RateLimit(),
	})

	var tracer trace.Tracer
	if obs.Tracer != nil {
		tracer = obs.Tracer.Tracer()
	}

	gw := httpapi.NewGateway(httpapi.Config{
		ListenAddr:      cfg.Server.Addr(),
		EnableDocs:      true,
		APIKeys:         cfg.Server.APIKeys,
		MetricsRegistry: obs.Registry,
		HealthChecker:   obs.Health,
		Metrics:         obs.HTTP,
		Tracer:          tracer,
	}, loop, store.Suggestions(), store.Runs(), dispatcher, limiter, logger).WithStream(hub)

	errs := make(chan error, 1)
	go func() {
		errs <- gw.Start(ctx)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errs:
		if err != nil {
			logger.Error("http api exited with error", slog.String("error", err.Error()))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout())
	defer cancel()
	if err := gw.Stop(shutdownCtx); err != nil {
		logger.Error("stopping http api", slog.String("error", err.Error()))
	}

	return nil
}

// newLogger builds the structured logger from config. Logs go to stderr so
// stdout stays clean for command output.
func newLogger(cfg config.LoggingConfig) *slog.Logger {
	level := slog.LevelInfo
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Format == "text" {
		handler = slog.NewTextHandler(os.Stderr, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	}
	return slog.New(handler)
}

// openStore maps the file config onto the storage backend.
func openStore(cfg *config.Config, logger *slog.Logger) (*storage.Store, error) {
	sc := storage.Config{Driver: cfg.StorageDriverName()}
	switch sc.Driver {
	case "postgres":
		sc.DSN = cfg.Storage.Postgres.DSN
	default:
		sc.Path = cfg.DatabasePath()
		if cfg.Storage != nil && cfg.Storage.SQLite != nil {
			sc.JournalMode = cfg.Storage.SQLite.JournalMode
		}
	}
	return storage.Open(sc, logger)
}

// buildDispatcher registers every delivery channel. Channels with no
// credentials still register; they report themselves unconfigured at send
// time so the dispatcher can skip them per target.
func buildDispatcher(cfg *config.Config, obs *observability.Observability, logger *slog.Logger) *notification.Dispatcher {
	d := notification.NewDispatcher(cfg.Notification.SendTimeout(), notification.NewMetrics(obs.Registry), logger)

	d.RegisterSender(notification.NewWebhookSender(logger))

	ntfyServer, ntfyToken := "", ""
	if cfg.Notification.Ntfy != nil {
		ntfyServer = cfg.Notification.Ntfy.Server
		ntfyToken = cfg.Notification.Ntfy.AuthToken
	}
	d.RegisterSender(notification.NewNtfySender(ntfyServer, ntfyToken, logger))

	slackToken := ""
	if cfg.Notification.Slack != nil {
		slackToken = cfg.Notification.Slack.BotToken
	}
	d.RegisterSender(notification.NewSlackSender(slackToken, logger))

	smtp := notification.SMTPConfig{}
	if cfg.Notification.SMTP != nil {
		smtp = notification.SMTPConfig{
			Host:     cfg.Notification.SMTP.Host,
			Port:     cfg.Notification.SMTP.Port,
			Username: cfg.Notification.SMTP.Username,
			Password: cfg.Notification.SMTP.Password,
			From:     cfg.Notification.SMTP.From,
			TLS:      cfg.Notification.SMTP.TLS,
		}
	}
	d.RegisterSender(notification.NewEmailSender(smtp, logger))

	return d
}
