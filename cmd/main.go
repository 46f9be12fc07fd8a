package main

import (
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/Niranjan945/email-aggregator/internal/classify"
	"github.com/Niranjan945/email-aggregator/internal/classify/ai"
	"github.com/Niranjan945/email-aggregator/internal/config"
	"github.com/Niranjan945/email-aggregator/internal/database"
	"github.com/Niranjan945/email-aggregator/internal/live"
	"github.com/Niranjan945/email-aggregator/internal/notify"
	"github.com/Niranjan945/email-aggregator/internal/queue"
	"github.com/Niranjan945/email-aggregator/internal/services"
	"github.com/sirupsen/logrus"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("Failed to load configuration: %v", err)
	}

	logger := newLogger(cfg.LogLevel)

	// Ensure data directory exists
	if dir := filepath.Dir(cfg.DatabasePath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			logger.Fatalf("Failed to create data directory: %v", err)
		}
	}

	// Initialize database
	db, err := database.Initialize(cfg.DatabasePath)
	if err != nil {
		logger.Fatalf("Failed to initialize database: %v", err)
	}

	logService := services.NewLogServiceWithLevel(db, cfg.LogLevel)
	accounts := services.NewAccountService(db, cfg)

	aiClient := ai.NewClient()
	if cfg.AIAPIKey != "" {
		aiClient.Configure(cfg.AIProvider, cfg.AIAPIKey, cfg.AIModel, cfg.AIBaseURL)
	}
	engine := classify.NewEngine(aiClient, logger)

	store := services.NewEmailStore(db, engine, logger)
	hub := live.NewHub()
	sink := notify.NewSlackSink(cfg.SlackWebhookURL)
	notifier := services.NewNotifyService(store, hub, sink, logService, logger)
	fetcher := services.NewFetchService(accounts, store, notifier, logService, logger)

	dispatcher := queue.NewDirectDispatcher(func(accountRef string, limit int) {
		if _, err := fetcher.FetchRecent(accountRef, limit); err != nil {
			logger.WithFields(logrus.Fields{
				"component": "queue",
				"account":   accountRef,
				"error":     err.Error(),
			}).Warn("dispatched fetch failed")
		}
	}, logger)

	watcher := services.NewWatchService(accounts, dispatcher, logService, logger, nil)
	scheduler := services.NewSyncScheduler(accounts, fetcher, logger, cfg.SyncInterval())

	scheduler.Start()

	// Bring up a watch for every account that is already registered
	active, err := accounts.ListActiveAccounts()
	if err != nil {
		logger.WithField("error", err.Error()).Warn("failed to list accounts for watch startup")
	}
	for _, account := range active {
		if err := watcher.Start(account.ID); err != nil {
			logger.WithFields(logrus.Fields{
				"account_id": account.ID,
				"email":      account.Email,
				"error":      err.Error(),
			}).Warn("failed to start watch")
		}
	}

	logger.WithFields(logrus.Fields{
		"database": cfg.DatabasePath,
		"interval": cfg.SyncInterval().String(),
		"accounts": len(active),
	}).Info("email aggregator started")

	// Block until shutdown signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutting down")
	scheduler.Stop()
	watcher.StopAll()
}

// newLogger builds the process logger at the configured level
func newLogger(level string) *logrus.Logger {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})
	parsed, err := logrus.ParseLevel(strings.ToLower(level))
	if err != nil {
		parsed = logrus.InfoLevel
	}
	logger.SetLevel(parsed)
	return logger
}
