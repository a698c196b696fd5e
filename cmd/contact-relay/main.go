// Package main is the entry point for the contact notification relay.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/time/rate"

	"github.com/shineum/contact-relay/internal/config"
	"github.com/shineum/contact-relay/internal/listener"
	"github.com/shineum/contact-relay/internal/provider"
	"github.com/shineum/contact-relay/internal/provider/graph"
	"github.com/shineum/contact-relay/internal/provider/ses"
	"github.com/shineum/contact-relay/internal/provider/smtp"
	"github.com/shineum/contact-relay/internal/provider/stdout"
	"github.com/shineum/contact-relay/internal/relay"
)

// verifyTimeout bounds the startup provider check.
const verifyTimeout = 15 * time.Second

var (
	// configPath is the optional YAML configuration file.
	configPath string
	// envFile is the optional dotenv file loaded before the environment is read.
	envFile string
	version = "dev"
)

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "contact-relay",
	Short: "Forward contact form submissions from PostgreSQL to email",
	Long: `contact-relay listens on a PostgreSQL notification channel for new contact
form submissions and forwards each one as an email.

Without a subcommand it behaves like "contact-relay run".`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runRelay,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to YAML configuration file (optional)")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", "", "path to a dotenv file (default .env when present)")
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(recentCmd)
	rootCmd.AddCommand(replayCmd)
}

// loadConfig loads the dotenv file, then configuration from the YAML file
// (with env override) or from environment variables only, and installs the
// logger.
func loadConfig() (*config.Config, error) {
	if err := config.LoadEnvFile(envFile); err != nil {
		return nil, err
	}

	var (
		cfg *config.Config
		err error
	)
	if configPath != "" {
		cfg, err = config.LoadFromFile(configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	setupLogger(cfg.Logging.Level)
	return cfg, nil
}

// setupLogger configures the global slog logger with JSON output and the
// specified log level.
func setupLogger(level string) {
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLevel(level),
	})
	slog.SetDefault(slog.New(handler))
}

func parseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// selectProvider builds the email delivery backend chosen by the
// configuration and returns it with its configuration name.
func selectProvider(ctx context.Context, cfg *config.Config) (provider.Provider, string, error) {
	name, err := cfg.ResolveProvider()
	if err != nil {
		return nil, "", err
	}

	switch name {
	case config.ProviderSMTP:
		slog.Info("using SMTP provider",
			"host", cfg.SMTP.Host,
			"port", cfg.SMTP.Port,
			"user", cfg.SMTP.Username,
		)
		p, err := smtp.New(smtp.Config{
			Host:     cfg.SMTP.Host,
			Port:     cfg.SMTP.Port,
			Username: cfg.SMTP.Username,
			Password: cfg.SMTP.Password,
			Strict:   cfg.Production(),
			CAFile:   cfg.TLS.CAFile,
		})
		if err != nil {
			return nil, "", fmt.Errorf("failed to create SMTP provider: %w", err)
		}
		return p, name, nil

	case config.ProviderSES:
		slog.Info("using AWS SES provider",
			"region", cfg.SES.Region,
			"sender", cfg.SES.Sender,
		)
		p, err := ses.New(ctx, ses.SESProviderConfig{
			Region:          cfg.SES.Region,
			AccessKeyID:     cfg.SES.AccessKeyID,
			SecretAccessKey: cfg.SES.SecretAccessKey,
			Sender:          cfg.SES.Sender,
		})
		if err != nil {
			return nil, "", fmt.Errorf("failed to create SES provider: %w", err)
		}
		return p, name, nil

	case config.ProviderGraph:
		slog.Info("using Microsoft Graph provider",
			"sender", cfg.Graph.Sender,
		)
		return graph.New(graph.GraphProviderConfig{
			TenantID:     cfg.Graph.TenantID,
			ClientID:     cfg.Graph.ClientID,
			ClientSecret: cfg.Graph.ClientSecret,
			Sender:       cfg.Graph.Sender,
		}), name, nil

	default:
		slog.Info("no provider configured, using stdout provider")
		return stdout.New(), config.ProviderStdout, nil
	}
}

// verifyProvider checks provider credentials when the backend supports it.
// A failure is logged; delivery is still attempted per notification.
func verifyProvider(ctx context.Context, p provider.Provider) {
	v, ok := p.(provider.Verifier)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(ctx, verifyTimeout)
	defer cancel()

	if err := v.Verify(ctx); err != nil {
		slog.Error("email provider verification failed", "provider", p.Name(), "error", err)
		return
	}
	slog.Info("email provider ready", "provider", p.Name())
}

// newRelay builds the notification pipeline for cfg.
func newRelay(ctx context.Context, cfg *config.Config) (*relay.Relay, error) {
	prov, name, err := selectProvider(ctx, cfg)
	if err != nil {
		return nil, err
	}
	verifyProvider(ctx, prov)

	return relay.New(relay.Config{
		Provider:    prov,
		From:        cfg.Sender(name),
		FromName:    cfg.Mail.FromName,
		To:          cfg.Mail.Recipient,
		SendTimeout: cfg.Mail.SendTimeout,
		Limiter:     sendLimiter(cfg.Mail.RatePerMinute),
	}), nil
}

// sendLimiter allows perMinute provider calls per minute, with a burst of the
// same size. Zero disables limiting.
func sendLimiter(perMinute int) *rate.Limiter {
	if perMinute <= 0 {
		return nil
	}
	return rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), perMinute)
}

// buildPolicy turns the retry settings into a reconnect policy.
func buildPolicy(rc config.RetryConfig) listener.Policy {
	fixed := listener.FixedPolicy{
		Connect:        rc.Connect,
		Subscribe:      rc.Subscribe,
		ConnectionLost: rc.ConnectionLost,
		Probe:          rc.Probe,
	}
	if rc.Strategy == config.RetryExponential {
		return listener.ExponentialPolicy{Base: fixed, Max: rc.Max}
	}
	return fixed
}

// nowFunc stamps replayed payloads.
var nowFunc = time.Now
