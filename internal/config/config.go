package config

import (
	"crypto/sha256"
	"encoding/json"
	"os"
	"strconv"
	"time"
)

// Config holds the application configuration
type Config struct {
	DatabasePath  string `json:"database_path"`
	LogLevel      string `json:"log_level"`
	EncryptionKey string `json:"encryption_key"` // used to encrypt mailbox secrets at rest

	// Default bootstrap account, used when a fetch is requested and no
	// account exists yet (convenience path, not required for correctness).
	DefaultEmail  string `json:"default_email"`
	DefaultSecret string `json:"default_secret"`
	IMAPHost      string `json:"imap_host"`
	IMAPPort      int    `json:"imap_port"`

	// AI classification service
	AIProvider string `json:"ai_provider"`
	AIAPIKey   string `json:"ai_api_key"`
	AIModel    string `json:"ai_model"`
	AIBaseURL  string `json:"ai_base_url"`

	// OAuth2 (XOAUTH2 accounts)
	GoogleClientID     string `json:"google_client_id"`
	GoogleClientSecret string `json:"google_client_secret"`

	// Notification sink
	SlackWebhookURL string `json:"slack_webhook_url"`

	// Poll fallback interval in seconds
	SyncIntervalSeconds int `json:"sync_interval_seconds"`
}

// Default configuration values
const (
	DefaultDatabasePath        = "data/aggregator.db"
	DefaultLogLevel            = "INFO"
	DefaultIMAPHost            = "imap.gmail.com"
	DefaultIMAPPort            = 993
	DefaultAIProvider          = "openai"
	DefaultAIModel             = "gpt-3.5-turbo"
	DefaultSyncIntervalSeconds = 120
	DefaultEncryptionKey       = "email-aggregator-default-key-change-in-production"
)

// Load loads configuration from environment variables and config file
// Priority: Environment variables > Config file > Default values
func Load() (*Config, error) {
	cfg := &Config{
		DatabasePath:        DefaultDatabasePath,
		LogLevel:            DefaultLogLevel,
		EncryptionKey:       DefaultEncryptionKey,
		IMAPHost:            DefaultIMAPHost,
		IMAPPort:            DefaultIMAPPort,
		AIProvider:          DefaultAIProvider,
		AIModel:             DefaultAIModel,
		SyncIntervalSeconds: DefaultSyncIntervalSeconds,
	}

	// Config file is optional
	_ = cfg.loadFromFile()

	cfg.loadFromEnv()

	return cfg, nil
}

// loadFromFile loads configuration from config.json file
func (c *Config) loadFromFile() error {
	data, err := os.ReadFile("config.json")
	if err != nil {
		return err
	}
	return json.Unmarshal(data, c)
}

// loadFromEnv loads configuration from environment variables
func (c *Config) loadFromEnv() {
	if val := os.Getenv("ONEBOX_DATABASE_PATH"); val != "" {
		c.DatabasePath = val
	}
	if val := os.Getenv("ONEBOX_LOG_LEVEL"); val != "" {
		c.LogLevel = val
	}
	if val := os.Getenv("ONEBOX_ENCRYPTION_KEY"); val != "" {
		c.EncryptionKey = val
	}
	if val := os.Getenv("ONEBOX_DEFAULT_EMAIL"); val != "" {
		c.DefaultEmail = val
	}
	if val := os.Getenv("ONEBOX_DEFAULT_SECRET"); val != "" {
		c.DefaultSecret = val
	}
	if val := os.Getenv("ONEBOX_IMAP_HOST"); val != "" {
		c.IMAPHost = val
	}
	if val := os.Getenv("ONEBOX_IMAP_PORT"); val != "" {
		if port, err := strconv.Atoi(val); err == nil {
			c.IMAPPort = port
		}
	}
	if val := os.Getenv("ONEBOX_AI_PROVIDER"); val != "" {
		c.AIProvider = val
	}
	if val := os.Getenv("ONEBOX_AI_API_KEY"); val != "" {
		c.AIAPIKey = val
	}
	if val := os.Getenv("ONEBOX_AI_MODEL"); val != "" {
		c.AIModel = val
	}
	if val := os.Getenv("ONEBOX_AI_BASE_URL"); val != "" {
		c.AIBaseURL = val
	}
	if val := os.Getenv("ONEBOX_GOOGLE_CLIENT_ID"); val != "" {
		c.GoogleClientID = val
	}
	if val := os.Getenv("ONEBOX_GOOGLE_CLIENT_SECRET"); val != "" {
		c.GoogleClientSecret = val
	}
	if val := os.Getenv("ONEBOX_SLACK_WEBHOOK_URL"); val != "" {
		c.SlackWebhookURL = val
	}
	if val := os.Getenv("ONEBOX_SYNC_INTERVAL_SECONDS"); val != "" {
		if secs, err := strconv.Atoi(val); err == nil && secs > 0 {
			c.SyncIntervalSeconds = secs
		}
	}
}

// SyncInterval returns the poll fallback interval as a duration
func (c *Config) SyncInterval() time.Duration {
	return time.Duration(c.SyncIntervalSeconds) * time.Second
}

// GetEncryptionKey returns the 32-byte key for secret encryption
func (c *Config) GetEncryptionKey() []byte {
	hash := sha256.Sum256([]byte(c.EncryptionKey))
	return hash[:]
}
