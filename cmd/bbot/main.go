package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"bbot/internal/binance"
	"bbot/internal/config"
	"bbot/internal/database"
	"bbot/internal/engine"
	"bbot/internal/indicator"
	"bbot/internal/logger"
	"bbot/internal/server"
	"go.uber.org/zap"
)

func main() {
	// Load application configuration
	cfg, err := config.LoadConfig("./configs")
	if err != nil {
		// We can't use the logger here because it's not initialized yet.
		panic(fmt.Sprintf("could not load config: %v", err))
	}

	// Initialize logger
	log, err := logger.NewLogger(cfg.Logger.Level, cfg.Logger.Format)
	if err != nil {
		panic(err)
	}
	defer log.Sync()
	log.Info("Configuration loaded", zap.String("mode", cfg.App.Mode))

	// Initialize database
	db, err := database.NewDatabase(cfg.Database.DSN)
	if err != nil {
		log.Fatal("Failed to connect to database", zap.Error(err))
	}
	log.Info("Database connection successful and schema migrated.")

	// Initialize Binance REST client
	restClient := binance.NewRestClient(&cfg.Binance, log)
	if _, err := restClient.GetServerTime(); err != nil {
		// The engine can start without Binance; bots just get skipped until
		// the connection comes back.
		log.Warn("Could not reach Binance API, continuing anyway", zap.Error(err))
	} else {
		log.Info("Successfully connected to Binance API.")
	}

	// Wire up the engine
	state := engine.NewRunState(cfg.Engine.StartRunning)
	executor := engine.NewExecutor(db, log, cfg.App.Simulated())
	processor := engine.NewProcessor(db, log, executor)
	syncService := indicator.NewService(db, restClient, log)
	scheduler := engine.NewScheduler(log, cfg.Engine, db, restClient, state, engine.NewClock(), syncService, processor)

	// Setup context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		sigchan := make(chan os.Signal, 1)
		signal.Notify(sigchan, syscall.SIGINT, syscall.SIGTERM)
		<-sigchan
		log.Info("Shutdown signal received, gracefully shutting down...")
		cancel()
	}()

	// Start the HTTP API
	apiServer := server.NewServer(log, &cfg, db, restClient, state, executor, syncService)
	apiServer.Start()

	// Run the engine loop until cancelled
	scheduler.Run(ctx)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := apiServer.Stop(shutdownCtx); err != nil {
		log.Error("API server shutdown failed", zap.Error(err))
	}

	log.Info("Bot engine has been shut down.")
}
