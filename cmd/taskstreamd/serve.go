package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/opendeepresearch/taskstream/internal/app"
	"github.com/opendeepresearch/taskstream/internal/config"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "run the HTTP/SSE server and background retention sweeper",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger, err := buildLogger(cfg.Logging)
	if err != nil {
		return err
	}
	defer logger.Sync()

	container, err := app.New(cfg, logger, nil)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := container.Start(ctx); err != nil {
		return err
	}

	mux := http.NewServeMux()
	container.Server.RegisterRoutes(mux)
	healthHandler := healthHTTPHandler(container)
	healthHandler.RegisterRoutes(mux)
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{Addr: cfg.Server.Addr, Handler: mux}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("taskstreamd: listening", zap.String("addr", cfg.Server.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-sigCh:
		logger.Info("taskstreamd: shutting down", zap.String("signal", sig.String()))
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("taskstreamd: http shutdown error", zap.Error(err))
	}
	container.Shutdown(shutdownCtx)
	return nil
}
