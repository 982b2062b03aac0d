package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/invitegen/edgegate/internal/config"
	"github.com/invitegen/edgegate/internal/server"
	"github.com/invitegen/edgegate/pkg/logger"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the gateway",
	Long: `Start the gateway and serve until SIGINT or SIGTERM.

On a signal the server stops accepting connections, drains in-flight
requests for up to SERVER_SHUTDOWN_TIMEOUT, flushes audit counts and
closes its stores.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func loadConfig() (*config.Config, *logger.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	if logLevel != "" {
		cfg.App.LogLevel = logLevel
	}
	log := logger.New(os.Stdout, cfg.App.LogLevel).With("service", "edgegate")
	return cfg, log, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, log, err := loadConfig()
	if err != nil {
		return err
	}

	srv, err := server.New(cfg, log)
	if err != nil {
		return fmt.Errorf("failed to initialise server: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case err := <-errCh:
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return err
	case sig := <-sigCh:
		log.Info("received signal", "signal", sig.String())
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}
	return <-errCh
}
