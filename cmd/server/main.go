package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/ignite/campaign-mailer/internal/api"
	"github.com/ignite/campaign-mailer/internal/app"
	"github.com/ignite/campaign-mailer/internal/config"
	"github.com/ignite/campaign-mailer/internal/pkg/logger"
)

var version = "dev"

// checkPortAvailable verifies that the target port is not already in use.
func checkPortAvailable(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("address %s is already in use: %w", addr, err)
	}
	return ln.Close()
}

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to the YAML config file (empty for defaults)")
	flag.Parse()

	if _, err := os.Stat(*configPath); *configPath != "" && errors.Is(err, os.ErrNotExist) {
		logger.Warn("Config file not found, using defaults", "path", *configPath)
		*configPath = ""
	}

	cfg, err := config.LoadFromEnv(*configPath)
	if err != nil {
		logger.Error("Failed to load config", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := app.New(ctx, cfg)
	if err != nil {
		logger.Error("Failed to initialize", "error", err)
		os.Exit(1)
	}
	defer a.Close()

	handlers := api.NewHandlers(a.Runner, a.Store, a.ProviderConfig(), app.VerifyProvider)
	health := api.NewHealthChecker(a.Store, a.Redis, version)
	router := api.SetupRoutes(handlers, health, api.RouteOptions{
		AllowedOrigins: cfg.Server.AllowedOrigins,
		Metrics:        a.Metrics,
		MetricsPath:    cfg.Metrics.Path,
	})
	server := api.NewServer(router)

	addr := cfg.Server.Addr()
	if err := checkPortAvailable(addr); err != nil {
		logger.Error("Cannot start server", "error", err)
		os.Exit(1)
	}

	// Setup graceful shutdown
	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		logger.Info("Starting server", "addr", addr, "version", version)
		if err := server.ListenAndServe(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Server error", "error", err)
			done <- syscall.SIGTERM
		}
	}()

	<-done
	logger.Info("Shutting down...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout())
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server shutdown error", "error", err)
	}
	logger.Info("Server stopped")
}
