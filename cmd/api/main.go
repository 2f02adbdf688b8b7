package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/hacktisch/mailcow-status-tracker/internal/config"
	"github.com/hacktisch/mailcow-status-tracker/internal/db"
	"github.com/hacktisch/mailcow-status-tracker/internal/extract"
	"github.com/hacktisch/mailcow-status-tracker/internal/fetch"
	"github.com/hacktisch/mailcow-status-tracker/internal/handlers"
	"github.com/hacktisch/mailcow-status-tracker/internal/ingest"
	"github.com/hacktisch/mailcow-status-tracker/internal/mailer"
	"github.com/hacktisch/mailcow-status-tracker/internal/metrics"
	"github.com/hacktisch/mailcow-status-tracker/internal/prune"
	"github.com/hacktisch/mailcow-status-tracker/internal/router"
	"github.com/hacktisch/mailcow-status-tracker/internal/scheduler"
	"github.com/hacktisch/mailcow-status-tracker/internal/store"
	"github.com/hacktisch/mailcow-status-tracker/internal/syncer"
	"github.com/hacktisch/mailcow-status-tracker/internal/webhook"
)

func main() {
	// Configure logging
	logrus.SetFormatter(&logrus.JSONFormatter{})
	if level, err := logrus.ParseLevel(os.Getenv("LOG_LEVEL")); err == nil {
		logrus.SetLevel(level)
	} else {
		logrus.SetLevel(logrus.InfoLevel)
	}

	logrus.Info("Starting Mailcow Status Tracker")

	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		logrus.Fatalf("Failed to load configuration: %v", err)
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		logrus.Fatalf("Configuration validation failed: %v", err)
	}

	// Initialize database
	database, err := db.Init(cfg.Database)
	if err != nil {
		logrus.Fatalf("Failed to initialize database: %v", err)
	}

	// Initialize metrics
	m := metrics.NewMetrics()

	// Assemble the sync pipeline
	st := store.New(database)
	fetcher := fetch.NewHTTPLogFetcher(&cfg.LogSource)
	extractor := extract.New()
	engine := ingest.New(st)
	dispatcher := webhook.New(st, &cfg.Webhook, m)
	pruner := prune.New(st, cfg.Retention.Days)
	sync := syncer.New(fetcher, extractor, engine, dispatcher, pruner, m)

	if !dispatcher.Configured() {
		logrus.Warn("No webhook destination configured; pending statuses will be flagged as skipped")
	}

	// Initialize mailer
	sender, err := mailer.New(&cfg.SMTP, cfg.Tracking.AppOrigin, st)
	if err != nil {
		logrus.Fatalf("Failed to create mailer: %v", err)
	}

	// Initialize scheduler
	sched := scheduler.NewScheduler(&cfg.Scheduler, sync)

	// Initialize HTTP handlers
	h := handlers.NewHandlers(st, sync, sender, sched, cfg.Auth.Password)

	// Setup HTTP server
	r := router.SetupRouter(h)
	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Start scheduler
	if err := sched.Start(); err != nil {
		logrus.Fatalf("Failed to start scheduler: %v", err)
	}

	// Start HTTP server in a goroutine
	go func() {
		logrus.Infof("Starting HTTP server on port %s", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logrus.Fatalf("HTTP server error: %v", err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logrus.Info("Shutting down server...")

	// Create shutdown context with timeout
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Stop scheduler
	if err := sched.Stop(); err != nil {
		logrus.Errorf("Failed to stop scheduler: %v", err)
	}

	// Wait for in-flight sync cycles to finish
	sched.Wait()

	// Shutdown HTTP server
	if err := server.Shutdown(ctx); err != nil {
		logrus.Errorf("HTTP server shutdown error: %v", err)
	}

	// Close fetcher
	if err := fetcher.Close(); err != nil {
		logrus.Errorf("Failed to close fetcher: %v", err)
	}

	logrus.Info("Server stopped gracefully")
}
