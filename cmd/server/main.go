package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/Inouye165/React-Photo-App-sub008/internal/audit"
	"github.com/Inouye165/React-Photo-App-sub008/internal/config"
	"github.com/Inouye165/React-Photo-App-sub008/internal/events"
	"github.com/Inouye165/React-Photo-App-sub008/internal/jobs"
	"github.com/Inouye165/React-Photo-App-sub008/internal/server"
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	// Setup logger
	logger, err := zap.NewDevelopment()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		return 1
	}
	defer logger.Sync()

	// Load config
	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("failed to load config", zap.Error(err))
		return 1
	}

	logger.Info("configuration loaded",
		zap.String("port", cfg.Server.Port),
		zap.String("dbPath", cfg.Server.DBPath),
		zap.Bool("eventsEnabled", cfg.Server.Events.Enabled),
		zap.Int("maxConnsPerUser", cfg.Server.Events.MaxConnsPerUser),
		zap.Int("heartbeatMs", cfg.Server.Events.HeartbeatMS),
		zap.Bool("auditEnabled", cfg.Server.Audit.Enabled),
	)

	// Open job store
	store, err := jobs.OpenSQLite(cfg.Server.DBPath)
	if err != nil {
		logger.Error("failed to open job store", zap.Error(err))
		return 1
	}
	defer store.Close()

	// Audit trail with daily rotation
	var trail audit.Sink = audit.Nop{}
	var scheduler *cron.Cron
	if cfg.Server.Audit.Enabled {
		t, err := audit.NewTrail(cfg.Server.Audit.Directory, logger)
		if err != nil {
			logger.Error("failed to open audit trail", zap.Error(err))
			return 1
		}
		trail = t
		defer t.Close()

		scheduler = cron.New()
		if _, err := scheduler.AddFunc("0 0 * * *", t.Rotate); err != nil {
			logger.Error("failed to schedule audit rotation", zap.Error(err))
			return 1
		}
		scheduler.Start()
		defer scheduler.Stop()
	}

	// Event broadcaster
	broadcaster := events.NewBroadcaster(events.Options{
		MaxConnsPerUser:   cfg.Server.Events.MaxConnsPerUser,
		HeartbeatInterval: time.Duration(cfg.Server.Events.HeartbeatMS) * time.Millisecond,
		Logger:            logger,
	})
	defer broadcaster.Close()

	// Create router
	srv := server.NewServer(store, broadcaster, trail, &cfg.Server, logger)
	router := server.NewRouter(srv, logger)

	httpServer := &http.Server{
		Addr:        ":" + cfg.Server.Port,
		Handler:     router,
		ReadTimeout: 30 * time.Second,
		// No WriteTimeout: push connections stay open indefinitely.
	}

	// Start server in goroutine
	go func() {
		logger.Info("starting server", zap.String("addr", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", zap.Error(err))
		}
	}()

	// Wait for interrupt
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
		return 1
	}

	logger.Info("server stopped")
	return 0
}
