// Package cli provides common initialization shared by cmd/famfin and
// cmd/rates-worker.
package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"famfin/internal/amqp"
	"famfin/internal/apiclient"
	"famfin/internal/backend"
	"famfin/internal/config"
	"famfin/internal/finance"
	"famfin/internal/log"
	"famfin/internal/middleware/trace"
	"famfin/internal/rates"
	"famfin/internal/sheets"
	"famfin/internal/sheets/google"
	"famfin/internal/sheets/memory"
)

// SetupLogger builds the logger described by cfg and installs it as the
// slog default.
func SetupLogger(cfg *config.Config) (*log.Logger, error) {
	level, err := log.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	logConfig := log.DefaultConfig()
	logConfig.Level = level
	logConfig.Format = cfg.LogFormat
	logger := log.New(logConfig)
	log.SetDefault(logger)
	return logger, nil
}

// LoadEnvFile loads the .env file for local development.
// Errors are ignored silently as this is optional in production.
func LoadEnvFile() {
	_ = godotenv.Load()
}

// LoadAndValidateConfig loads configuration from the environment and
// validates it.
func LoadAndValidateConfig() (*config.Config, error) {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// logoutPublishTimeout bounds a forced-logout broadcast when the broker is slow.
const logoutPublishTimeout = 5 * time.Second

// App holds the wired services of one process.
type App struct {
	Config      *config.Config
	Logger      *log.Logger
	Credentials *backend.CredentialResult
	Client      *apiclient.Client
	Trace       *trace.Transport
	// Broadcaster is nil when AMQP is not configured or unreachable.
	Broadcaster *amqp.Broadcaster

	Auth         *finance.AuthService
	Accounts     *finance.AccountService
	Transactions *finance.TransactionService
	Settings     *finance.SettingsService
	Rates        *rates.Service
	Dashboard    *finance.DashboardService

	unsubscribe func()
}

// NewApp opens the credential slot, builds the API client and the services
// on top of it. Forced logouts are broadcast when a Broadcaster is available.
func NewApp(ctx context.Context, cfg *config.Config, logger *log.Logger) (*App, error) {
	creds, err := backend.NewCredentialStore(cfg, logger)
	if err != nil {
		return nil, err
	}

	transport := trace.NewTransport(nil, logger)
	client, err := apiclient.New(apiclient.Options{
		BaseURL:     cfg.APIBaseURL,
		RefreshPath: cfg.RefreshPath,
		Store:       creds.Store,
		Timeout:     cfg.HTTPTimeout,
		Transport:   transport,
		Logger:      logger,
	})
	if err != nil {
		_ = creds.Cleanup()
		return nil, fmt.Errorf("create api client: %w", err)
	}

	app := &App{
		Config:      cfg,
		Logger:      logger,
		Credentials: creds,
		Client:      client,
		Trace:       transport,
	}

	var publisher finance.LogoutPublisher
	if cfg.AMQPURL != "" {
		b, err := amqp.NewBroadcaster(ctx, cfg.AMQPURL, cfg.AMQPExchange, logger)
		if err != nil {
			logger.Warn("Logout broadcast disabled, broker unreachable", log.FieldError, err)
		} else {
			app.Broadcaster = b
			publisher = b
		}
	}

	app.Auth = finance.NewAuthService(client, publisher, logger)
	app.Accounts = finance.NewAccountService(client, logger)
	app.Transactions = finance.NewTransactionService(client, logger)
	app.Settings = finance.NewSettingsService(client)
	app.Rates = rates.NewService(client, cfg.RatesCacheSize, cfg.RatesUpdateHour, logger)
	app.Dashboard = finance.NewDashboardService(app.Accounts, app.Transactions, app.Rates, logger)

	app.unsubscribe = client.OnForcedLogout(func(ev apiclient.ForcedLogout) {
		logger.Warn("Session ended, sign in again", log.FieldError, ev.Reason)
		pubCtx, cancel := context.WithTimeout(context.Background(), logoutPublishTimeout)
		defer cancel()
		app.Auth.PublishForcedLogout(pubCtx)
	})
	return app, nil
}

// Exporter returns the Google Sheets exporter, or an in-memory one for a
// dry run.
func (a *App) Exporter(ctx context.Context, dryRun bool) (sheets.TransactionExporter, error) {
	if dryRun {
		return memory.New(), nil
	}
	if !a.Config.SheetsEnabled() {
		return nil, fmt.Errorf("spreadsheet export not configured: set GOOGLE_SPREADSHEET_ID")
	}
	return google.NewFromConfig(ctx, a.Config.GoogleSpreadsheetID, a.Config.GoogleSheetName, a.Logger)
}

// Close releases the broker connection and the credential slot.
func (a *App) Close() {
	m := a.Trace.GetMetrics()
	a.Logger.Debug("API usage",
		"requests", m.TotalRequests,
		"failed", m.FailedRequests,
		"avg_response_us", m.AverageResponseTime)
	if a.unsubscribe != nil {
		a.unsubscribe()
	}
	if a.Broadcaster != nil {
		if err := a.Broadcaster.Close(); err != nil {
			a.Logger.Warn("Failed to close AMQP connection", log.FieldError, err)
		}
	}
	if err := a.Credentials.Cleanup(); err != nil {
		a.Logger.Warn("Failed to close credential store", log.FieldError, err)
	}
}

// GracefulShutdown sets up signal handling for graceful shutdown.
// Returns a context that will be cancelled on shutdown signals,
// and a channel that signals when shutdown is complete.
func GracefulShutdown(logger *log.Logger, timeout time.Duration, cleanup func()) (context.Context, <-chan struct{}) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigChan
		logger.Info("Shutdown signal received", "signal", sig.String(), log.FieldOperation, log.OpShutdown)

		cancel()

		finished := make(chan struct{})
		go func() {
			if cleanup != nil {
				cleanup()
			}
			close(finished)
		}()

		select {
		case <-finished:
			logger.Info("Shutdown complete")
		case <-time.After(timeout):
			logger.Warn("Shutdown timeout reached")
		}
		close(done)
	}()

	return ctx, done
}

// WaitForShutdown blocks until the context is cancelled.
func WaitForShutdown(ctx context.Context, done <-chan struct{}) {
	<-ctx.Done()
	<-done
}
