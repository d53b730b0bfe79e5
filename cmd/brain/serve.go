package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/nidhogg/aibrain/internal/api"
	"github.com/nidhogg/aibrain/internal/config"
	"github.com/nidhogg/aibrain/internal/telemetry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	var port int
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and chat gateways",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := opts.load()
			if err != nil {
				return err
			}
			defer logger.Sync()
			if port > 0 {
				cfg.Server.Port = port
			}
			return serve(cmd.Context(), cfg, logger)
		},
	}
	cmd.Flags().IntVarP(&port, "port", "p", 0, "override server.port")
	return cmd
}

func serve(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	logger.Info("starting AI brain", zap.String("version", Version))

	shutdownTracing, err := telemetry.Setup(ctx, cfg.Telemetry, cfg.Server.ServiceName, Version, logger)
	if err != nil {
		return err
	}

	a, err := build(ctx, cfg, logger, buildOptions{gateways: true, persistence: true})
	if err != nil {
		return err
	}
	defer a.close()
	a.persistRoster(ctx)

	// Adapters connect in the background.
	go func() {
		n := a.gateway.ConnectAll(ctx)
		logger.Info("gateways connected", zap.Int("connected", n), zap.Strings("registered", a.gateway.Adapters()))
	}()

	handler := api.NewHandler(a.workflow, a.router, a.sessions, a.limiter, logger)
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           handler.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("AI brain listening",
			zap.Int("port", cfg.Server.Port),
			zap.Strings("agents", a.router.Roles()),
			zap.String("routing", a.router.Policy()))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	}

	logger.Info("shutting down AI brain")
	wait := time.Duration(cfg.Server.ShutdownWaitMS) * time.Millisecond
	shutdownCtx, cancel := context.WithTimeout(context.Background(), wait)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		logger.Warn("tracing shutdown", zap.Error(err))
	}
	return nil
}
