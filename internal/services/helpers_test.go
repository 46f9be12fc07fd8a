package services

import (
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/Niranjan945/email-aggregator/internal/classify"
	"github.com/Niranjan945/email-aggregator/internal/classify/ai"
	"github.com/Niranjan945/email-aggregator/internal/config"
	"github.com/Niranjan945/email-aggregator/internal/database/models"
	"github.com/Niranjan945/email-aggregator/internal/live"
	"github.com/Niranjan945/email-aggregator/internal/notify"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// setupTestDB creates a temporary sqlite database with all models migrated
func setupTestDB(t *testing.T) (*gorm.DB, func()) {
	t.Helper()

	tmpFile, err := os.CreateTemp("", "aggregator_test_*.db")
	if err != nil {
		t.Fatalf("Failed to create temp file: %v", err)
	}
	tmpFile.Close()

	db, err := gorm.Open(sqlite.Open(tmpFile.Name()), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		os.Remove(tmpFile.Name())
		t.Fatalf("Failed to open database: %v", err)
	}

	if err := db.AutoMigrate(&models.EmailAccount{}, &models.Email{}, &models.Log{}); err != nil {
		os.Remove(tmpFile.Name())
		t.Fatalf("Failed to migrate: %v", err)
	}

	cleanup := func() {
		sqlDB, _ := db.DB()
		if sqlDB != nil {
			sqlDB.Close()
		}
		os.Remove(tmpFile.Name())
	}

	return db, cleanup
}

func quietLogger() *logrus.Logger {
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	return log
}

func testConfig() *config.Config {
	return &config.Config{
		LogLevel:            "INFO",
		EncryptionKey:       "test-encryption-key",
		IMAPHost:            "imap.example.com",
		IMAPPort:            993,
		SyncIntervalSeconds: 120,
	}
}

// fallbackEngine builds an engine with an unconfigured AI client, so
// every classification takes the deterministic path
func fallbackEngine() *classify.Engine {
	return classify.NewEngine(ai.NewClient(), quietLogger())
}

// seedAccount inserts a ready-to-use active account
func seedAccount(t *testing.T, db *gorm.DB, cfg *config.Config, email string) *models.EmailAccount {
	t.Helper()

	accounts := NewAccountService(db, cfg)
	account := &models.EmailAccount{
		Email:    email,
		Provider: "gmail",
		IMAPHost: cfg.IMAPHost,
		IMAPPort: cfg.IMAPPort,
		Username: email,
		AuthType: models.AuthTypePassword,
		UseSSL:   true,
		Active:   true,
	}
	if err := accounts.CreateAccount(account, "app-password"); err != nil {
		t.Fatalf("Failed to seed account: %v", err)
	}
	return account
}

var errSinkDown = errors.New("sink down")

// recordingSink captures notifications; failFirst makes the first call error
type recordingSink struct {
	mu        sync.Mutex
	messages  []string
	failFirst bool
	calls     int
}

func (s *recordingSink) Notify(msg notify.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.failFirst && s.calls == 1 {
		return errSinkDown
	}
	s.messages = append(s.messages, msg.Subject)
	return nil
}

func (s *recordingSink) sent() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.messages...)
}

// noopPublisher satisfies live.Publisher and discards events
type noopPublisher struct{}

func (noopPublisher) Publish(event live.Event) {}

var testDate = time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
