package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	httphandler "github.com/ericfisherdev/ordersync/internal/adapter/driving/http"
	"github.com/ericfisherdev/ordersync/internal/application"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the scheduler, queue workers and admin API",
		Args:  cobra.NoArgs,
		RunE:  runServe,
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	// 1. Setup signal-based context (SIGINT, SIGTERM).
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. Wire every component.
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	cfg := a.cfg
	a.logger.Info("config loaded",
		"listen_addr", cfg.ListenAddr,
		"db_path", cfg.DBPath,
		"queue_backend", cfg.QueueBackend,
		"cron", cfg.CronSpec,
		"maturation_offset", cfg.MaturationOffset,
		"workers", cfg.Workers,
	)

	// 3. Start queue workers. They settle in-flight jobs before returning.
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := a.queue.Run(ctx); err != nil {
			a.logger.Error("queue workers stopped", "error", err)
			stop()
		}
	}()

	// 4. Start the daily cycle trigger.
	if err := a.scheduler.Start(ctx); err != nil {
		stop()
		wg.Wait()
		return err
	}

	// 5. Create HTTP handler and start the admin API.
	health := application.NewHealthService(a.db, a.queue, a.tokens)
	handler := httphandler.NewServeMux(
		httphandler.NewHandler(a.queue, a.scheduler, a.tokens, a.orders, a.stats, health, a.logger),
		httphandler.TokenSigner{Key: []byte(cfg.AdminJWTSecret)},
		a.logger,
	)
	if cfg.AdminJWTSecret == "" {
		a.logger.Warn("ORDERSYNC_ADMIN_JWT_SECRET not set, admin API is unauthenticated")
	}

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		a.logger.Info("http server starting", "addr", cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("http server error", "error", err)
			stop()
		}
	}()

	a.logger.Info("ordersync started")

	// 6. Wait for shutdown signal.
	<-ctx.Done()
	a.logger.Info("shutting down")

	// 7. Graceful shutdown: HTTP first, then the trigger, then the workers.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("http server shutdown error", "error", err)
	}
	a.scheduler.Stop()
	wg.Wait()

	a.logger.Info("shutdown complete")
	return nil
}
