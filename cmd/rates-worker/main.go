package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"famfin/internal/cache"
	"famfin/internal/cli"
	"famfin/internal/log"
	"famfin/internal/rates"
	"famfin/internal/worker"
)

func main() {
	cli.LoadEnvFile()

	cfg, err := cli.LoadAndValidateConfig()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	logger, err := cli.SetupLogger(cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	logger.Info("Starting rates-worker", log.FieldOperation, log.OpStartup, "bases", cfg.RateBases())

	startupCtx, cancelStartup := context.WithTimeout(context.Background(), 30*time.Second)
	app, err := cli.NewApp(startupCtx, cfg, logger)
	cancelStartup()
	if err != nil {
		logger.Error("Failed to initialize", log.FieldError, err)
		os.Exit(1)
	}

	cacheManager := cache.NewManager(logger)
	cacheManager.Register(app.Rates.Cache())
	cacheManager.StartCleanup(time.Hour)

	var wg sync.WaitGroup
	ctx, done := cli.GracefulShutdown(logger, 30*time.Second, func() {
		wg.Wait()
		cacheManager.Stop()
		app.Close()
	})

	sessions := worker.NewSessionWorker(app.Credentials.Store, logger)
	if _, err := sessions.StartupCheck(ctx); err != nil {
		logger.Warn("No usable credential, rate requests will fail until someone signs in", log.FieldError, err)
	}

	scheduler := rates.NewScheduler(app.Rates, cfg.RateBases(), cfg.RatesUpdateHour, logger)

	// Warm the cache so the first requests after startup do not wait.
	if n := scheduler.RefreshAll(ctx); n == 0 {
		logger.Warn("Initial exchange rate load failed for every base")
	}

	run := func(name string, fn func(context.Context) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error(name+" stopped", log.FieldError, err)
			}
		}()
	}

	run("Rates scheduler", scheduler.Run)

	if app.Credentials.Watch != nil {
		run("Credential watch", app.Credentials.Watch)
	}

	if app.Broadcaster != nil {
		run("Logout consumer", func(ctx context.Context) error {
			return app.Broadcaster.ConsumeLogout(ctx, sessions.HandleLogoutMessage(ctx))
		})
	} else {
		logger.Info("Skipping logout consumption, no AMQP broker configured")
	}

	cli.WaitForShutdown(ctx, done)
}
