package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	oauth "github.com/giantswarm/authserver"
	"github.com/giantswarm/authserver/instrumentation"
	"github.com/giantswarm/authserver/internal/config"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the authorization server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.serve(cmd.Context())
		},
	}
	cmd.Flags().String("addr", ":8080", "Address to listen on")
	_ = a.v.BindPFlag(config.KeyListenAddr, cmd.Flags().Lookup("addr"))
	return cmd
}

func (a *app) serve(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	inst, err := instrumentation.New(instrumentation.Config{
		ServiceVersion:  version,
		Enabled:         a.cfg.MetricsEnabled,
		MetricsExporter: metricsExporter(a.cfg.MetricsEnabled),
		LogClientIPs:    a.cfg.LogClientIPs,
	})
	if err != nil {
		return fmt.Errorf("initializing instrumentation: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := inst.Shutdown(shutdownCtx); err != nil {
			a.logger.Warn("Failed to shut down instrumentation", "error", err)
		}
	}()

	store, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer store.Close()
	store.SetInstrumentation(inst)

	srv, err := a.newServer(store, inst)
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}
	if srv.RateLimiter != nil {
		defer srv.RateLimiter.Stop()
	}

	sweeper := srv.NewSweeper()
	sweeper.Start(ctx)
	defer sweeper.Stop()

	mux := http.NewServeMux()
	mux.Handle("/", oauth.NewHandler(srv, a.logger).Routes())
	if a.cfg.MetricsEnabled {
		mux.Handle("/metrics", promhttp.Handler())
	}

	httpServer := &http.Server{
		Addr:              a.cfg.ListenAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("Starting server",
			"addr", a.cfg.ListenAddr,
			"issuer", a.cfg.Issuer,
			"environment", a.env.Get().String())
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server crashed: %w", err)
		}
	case <-ctx.Done():
	}
	a.logger.Info("Shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	a.logger.Info("Server exited")
	return nil
}

func metricsExporter(enabled bool) string {
	if enabled {
		return instrumentation.ExporterPrometheus
	}
	return ""
}
