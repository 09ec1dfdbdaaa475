package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"chat-relay/backend/internal/api"
	"chat-relay/backend/internal/grpc"
	"chat-relay/backend/internal/repository"
	"chat-relay/backend/pkg/config"
	"chat-relay/backend/pkg/di"
	"chat-relay/backend/pkg/logger"
	"chat-relay/backend/pkg/router"
	"chat-relay/backend/pkg/secrets"
	"chat-relay/backend/shared/observability"
)

func main() {
	// Loads .env through godotenv before reading the environment
	cfg := config.New()

	// Initialize structured logger
	logConfig := logger.DefaultConfig()
	logConfig.Level = cfg.Logging.Level
	logConfig.JSON = cfg.Logging.Format != "text"

	log := logger.New(logConfig)
	logger.SetGlobal(log)

	if v := os.Getenv("APP_VERSION"); v != "" {
		api.Version = v
	}
	log.Info("Starting application", "version", api.Version, "env", cfg.Server.Env)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := observability.SetupTracing(cfg.Observability.ServiceName, cfg.Observability.TracingEnabled)
	if err != nil {
		log.LogError(err, "Failed to set up tracing")
		os.Exit(1)
	}
	shutdownMetrics, err := observability.SetupMetrics(cfg.Observability.ServiceName)
	if err != nil {
		log.LogError(err, "Failed to set up OpenTelemetry metrics")
		os.Exit(1)
	}

	vaultManager, err := secrets.NewVaultManager(secrets.VaultConfig{
		Enabled:     cfg.Vault.Enabled,
		Address:     cfg.Vault.Address,
		Token:       cfg.Vault.Token,
		Namespace:   cfg.Vault.Namespace,
		Mount:       cfg.Vault.Mount,
		SecretsPath: cfg.Vault.SecretsPath,
		Timeout:     10 * time.Second,
		MaxRetries:  2,
	}, log)
	if err != nil {
		log.LogError(err, "Failed to initialize secrets manager")
		os.Exit(1)
	}
	defer vaultManager.Close()

	cfg.Database.Password = vaultManager.GetSecretWithDefault(ctx, secrets.KeyDBPassword, cfg.Database.Password)

	// Initialize database
	db, err := config.NewDB(cfg, log)
	if err != nil {
		log.LogError(err, "Failed to initialize database")
		os.Exit(1)
	}

	// Auto-migrate the schema
	if err := repository.AutoMigrate(db); err != nil {
		log.LogError(err, "Failed to migrate database")
		os.Exit(1)
	}

	// Initialize dependency injection container
	container, err := di.New(ctx, cfg, db, log, di.Options{Secrets: vaultManager})
	if err != nil {
		log.LogError(err, "Failed to initialize dependency container")
		os.Exit(1)
	}
	defer container.Close()

	container.Health.Start(ctx)

	// Initialize and setup router
	r := router.New(container)
	r.SetupRoutes()
	r.Start(ctx)

	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           r.Engine,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      cfg.Server.Timeout,
	}

	go func() {
		log.Info("Server starting", "port", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.LogError(err, "Server failed to start")
			stop()
		}
	}()

	var grpcServer *grpc.Server
	if cfg.Server.GRPCPort != "" {
		grpcServer = grpc.NewServer(container.Health, log)
		go func() {
			if err := grpcServer.ListenAndServe(cfg.Server.GRPCPort); err != nil {
				log.LogError(err, "gRPC server failed")
				stop()
			}
		}()
	}

	// Block until we receive a signal
	<-ctx.Done()
	log.Info("Shutting down server...")

	// Create a deadline to wait for
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.LogError(err, "Server forced to shutdown")
	}
	if grpcServer != nil {
		grpcServer.Stop()
	}
	if err := shutdownMetrics(shutdownCtx); err != nil {
		log.LogError(err, "Failed to flush metrics")
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		log.LogError(err, "Failed to flush traces")
	}
	if sqlDB, err := db.DB(); err == nil {
		_ = sqlDB.Close()
	}

	log.Info("Server exited gracefully")
}
