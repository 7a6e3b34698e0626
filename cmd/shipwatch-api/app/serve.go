package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	appbuilder "github.com/shipwatch/tracking-server/internal/app"
	"github.com/shipwatch/tracking-server/internal/config"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the tracking API server",
	Long: `Start the tracking API server to serve package tracking queries.

The server requires a configuration file (--config) that specifies:
- Upstream courier API credentials (customer id and signing key)
- Cache, sync, and retry settings
- An optional PostgreSQL manifest store (in-memory is used when omitted)

See examples/ directory for sample configurations.`,
	RunE: runServe,
}

// Kubernetes-friendly shutdown time.
const defaultGracefulTimeout = 30 * time.Second

func init() {
	serveCmd.Flags().String("address", ":8080", "Address to listen on")
	serveCmd.Flags().String("config", "", "Path to configuration file (YAML format, required)")

	if err := viper.BindPFlag("address", serveCmd.Flags().Lookup("address")); err != nil {
		slog.Error("Failed to bind address flag", "error", err)
		os.Exit(1)
	}
	if err := viper.BindPFlag("config", serveCmd.Flags().Lookup("config")); err != nil {
		slog.Error("Failed to bind config flag", "error", err)
		os.Exit(1)
	}

	if err := serveCmd.MarkFlagRequired("config"); err != nil {
		slog.Error("Failed to mark config flag as required", "error", err)
		os.Exit(1)
	}
}

func runServe(_ *cobra.Command, _ []string) error {
	ctx := context.Background()
	address := viper.GetString("address")
	configPath := viper.GetString("config")

	cfg, err := config.LoadConfig(config.WithConfigPath(configPath))
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	slog.Info("Loaded configuration",
		"path", configPath,
		"service", cfg.ServiceName,
		"store", storeKind(cfg))

	trackingApp, err := appbuilder.NewTrackingApp(ctx,
		appbuilder.WithConfig(cfg),
		appbuilder.WithAddress(address),
	)
	if err != nil {
		return fmt.Errorf("failed to build application: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("Server listening", "address", address)
		errCh <- trackingApp.Start()
	}()

	// Wait for an interrupt signal or a startup failure.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		slog.Info("Shutting down server", "signal", sig.String())
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	}

	if err := trackingApp.Stop(defaultGracefulTimeout); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
		return err
	}

	slog.Info("Server shutdown complete")
	return nil
}

func storeKind(cfg *config.Config) string {
	if cfg.Database != nil {
		return "postgres"
	}
	return "in-memory"
}
