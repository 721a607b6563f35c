// Package main runs the zkVM gateway: it loads configuration, rebuilds the program
// registry and serves the HTTP API until SIGINT or SIGTERM.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/R3E-Network/zkgate/internal/artifacts"
	"github.com/R3E-Network/zkgate/internal/backends"
	"github.com/R3E-Network/zkgate/internal/catalog"
	"github.com/R3E-Network/zkgate/internal/catalog/memory"
	"github.com/R3E-Network/zkgate/internal/catalog/postgres"
	"github.com/R3E-Network/zkgate/internal/catalog/redis"
	"github.com/R3E-Network/zkgate/internal/config"
	"github.com/R3E-Network/zkgate/internal/dispatch"
	"github.com/R3E-Network/zkgate/internal/events"
	"github.com/R3E-Network/zkgate/internal/hostinfo"
	"github.com/R3E-Network/zkgate/internal/httpapi"
	"github.com/R3E-Network/zkgate/internal/loader"
	"github.com/R3E-Network/zkgate/internal/logging"
	"github.com/R3E-Network/zkgate/internal/middleware"
	"github.com/R3E-Network/zkgate/internal/registry"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	envFile := flag.String("env", "", "Optional .env file to load before reading ZKGATE_* settings")
	flag.Parse()

	if *envFile != "" {
		if err := godotenv.Load(*envFile); err != nil {
			log.Fatalf("Failed to load %s: %v", *envFile, err)
		}
	} else {
		_ = godotenv.Load()
	}

	settings, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load settings: %v", err)
	}

	logger := logging.New(httpapi.ServiceName, settings.LogLevel, settings.LogFormat)
	if err := run(settings, logger); err != nil {
		logger.WithError(err).Fatal("Gateway stopped")
	}
}

func run(settings *config.Settings, logger *logging.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	entry := logger.WithContext(ctx)

	gateway, usedDefault, err := config.LoadGatewayOrDefault(settings.GatewayConfig)
	if err != nil {
		return err
	}
	if usedDefault {
		entry.WithField("path", settings.GatewayConfig).Warn("Gateway config not found; every vendor runs on the mock backend")
	}

	cat, err := openCatalog(ctx, settings)
	if err != nil {
		return err
	}
	defer cat.Close()

	store, err := artifacts.NewStore(settings.ProgramsDir)
	if err != nil {
		return err
	}
	factories, err := backends.Factories(gateway)
	if err != nil {
		return err
	}

	ring := events.NewRingBuffer(settings.EventBuffer)
	reg := registry.New()
	programs := loader.New(reg, store, cat, factories,
		loader.WithEvents(ring),
		loader.WithLogger(logger),
	)

	restored, err := programs.Rebuild(ctx)
	if err != nil {
		return fmt.Errorf("rebuild registry: %w", err)
	}
	builtins := programs.LoadBuiltins(ctx, backends.Builtins(gateway))
	entry.WithFields(map[string]interface{}{
		"catalog":  settings.CatalogDriver,
		"restored": restored,
		"builtins": builtins,
		"vendors":  gateway.VendorNames(),
	}).Info("Program registry ready")

	svc := dispatch.NewService(reg, gateway.Dispatch,
		dispatch.WithLogger(logger),
		dispatch.WithEvents(ring),
	)
	defer svc.Close()

	limiter := middleware.NewRateLimiter(settings.RateLimitRPS, settings.RateLimitBurst, logger)
	if limiter.Enabled() {
		if err := limiter.StartSweeper(middleware.DefaultSweepSchedule); err != nil {
			return err
		}
		defer limiter.Stop()
	}
	authm := middleware.NewAuthMiddleware(settings.JWTSecret, logger)
	if authm.Enabled() {
		limiter.KeyBySubject(authm.Subject)
	} else {
		entry.Warn("ZKGATE_JWT_SECRET not set; admin routes are open")
	}

	var cors *middleware.CORSMiddleware
	if origins := middleware.ParseOrigins(settings.CORSOrigins); len(origins) > 0 {
		cors = middleware.NewCORSMiddleware(origins)
	}

	router := httpapi.NewRouter(httpapi.Deps{
		Registry:     reg,
		Dispatch:     svc,
		Loader:       programs,
		Host:         hostinfo.NewCollector(),
		Events:       ring,
		Logger:       logger,
		Auth:         authm,
		RateLimiter:  limiter,
		CORS:         cors,
		MaxBodyBytes: settings.MaxBodyBytes,
		Version:      version,
	})

	// Proving can run for a long time; the per-operation timeouts in the gateway
	// config bound requests instead of the server's write timeout.
	server := &http.Server{
		Addr:              settings.Addr,
		Handler:           router,
		ReadHeaderTimeout: 30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		entry.WithField("addr", settings.Addr).Info("Gateway listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigCh:
		entry.WithField("signal", sig.String()).Info("Shutting down")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(ctx, settings.ShutdownTimeout)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		entry.WithError(err).Warn("Shutdown error")
	}
	return nil
}

func openCatalog(ctx context.Context, settings *config.Settings) (catalog.Catalog, error) {
	switch settings.CatalogDriver {
	case catalog.DriverPostgres:
		store, err := postgres.Open(ctx, settings.PostgresDSN)
		if err != nil {
			return nil, err
		}
		return store, nil
	case catalog.DriverRedis:
		store, err := redis.Open(ctx, settings.RedisURL, settings.RedisPrefix)
		if err != nil {
			return nil, err
		}
		return store, nil
	default:
		return memory.New(), nil
	}
}
