package main

import (
	"errors"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/shineum/contact-relay/internal/health"
	"github.com/shineum/contact-relay/internal/listener"
	"github.com/shineum/contact-relay/internal/pgnotify"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Listen for new contact submissions and email them",
	Long: `Connect to PostgreSQL, LISTEN on the configured channel, and send an email
for every notification. The connection is rebuilt automatically when it fails.

Examples:
  # Run with environment configuration
  DATABASE_URL=postgres://... contact-relay run

  # Run with a YAML base configuration and a dotenv file
  contact-relay run --config relay.yaml --env-file .env.production`,
	Args: cobra.NoArgs,
	RunE: runRelay,
}

// errShutdown reports that the database connection could not be released
// cleanly; main exits with status 1.
var errShutdown = errors.New("shutdown failed")

func runRelay(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", "error", err)
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	r, err := newRelay(ctx, cfg)
	if err != nil {
		slog.Error("failed to set up email provider", "error", err)
		return err
	}

	dial, err := pgnotify.NewDialer(pgnotify.DialerConfig{
		URL:    cfg.Database.URL,
		Strict: cfg.Production(),
		CAFile: cfg.TLS.CAFile,
	})
	if err != nil {
		slog.Error("failed to configure database connection", "error", err)
		return err
	}

	mgr := listener.New(listener.Config{
		Channel:        cfg.Database.Channel,
		Dial:           dial,
		Policy:         buildPolicy(cfg.Retry),
		ProbeInterval:  cfg.Database.ProbeInterval,
		ProbeTimeout:   cfg.Database.ProbeTimeout,
		ConnectTimeout: cfg.Database.ConnectTimeout,
		OnConnect:      pgnotify.RequireColumnHook("contact_messages", "subject"),
	})
	mgr.OnEvent(r.HandleNotification)

	opsDone := make(chan struct{})
	if cfg.Metrics.Listen != "" {
		ops := health.New(health.ServerConfig{
			ListenAddr: cfg.Metrics.Listen,
			Ready:      mgr.IsListening,
		})
		go func() {
			defer close(opsDone)
			if err := ops.ListenAndServe(ctx); err != nil {
				slog.Error("ops server error", "error", err)
			}
		}()
	} else {
		close(opsDone)
	}

	slog.Info("starting contact-relay",
		"version", version,
		"channel", cfg.Database.Channel,
		"runtime_env", cfg.RuntimeEnv,
		"retry_strategy", cfg.Retry.Strategy,
		"metrics_listen", cfg.Metrics.Listen,
	)

	runErr := mgr.Run(ctx)
	stop()
	<-opsDone

	if runErr != nil {
		slog.Error("error during shutdown", "error", runErr)
		return errors.Join(errShutdown, runErr)
	}

	slog.Info("contact-relay stopped")
	return nil
}
