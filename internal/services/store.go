package services

import (
	"encoding/json"
	"errors"

	"github.com/Niranjan945/email-aggregator/internal/classify"
	"github.com/Niranjan945/email-aggregator/internal/database/models"
	"github.com/Niranjan945/email-aggregator/internal/imapclient"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// ErrEmailNotFound indicates the email was not found
var ErrEmailNotFound = errors.New("email not found")

// EmailStore owns the "save once" semantics: it checks the idempotency
// key (account id + message id) before writing a normalized record.
type EmailStore struct {
	db         *gorm.DB
	engine     *classify.Engine
	logService *LogService
	log        *logrus.Logger
}

// NewEmailStore creates a new EmailStore instance
func NewEmailStore(db *gorm.DB, engine *classify.Engine, log *logrus.Logger) *EmailStore {
	if log == nil {
		log = logrus.New()
	}
	return &EmailStore{
		db:         db,
		engine:     engine,
		logService: NewLogService(db),
		log:        log,
	}
}

// SaveBatch persists a batch of fetched messages for one account.
// Records whose message id already exists are kept unchanged. New records
// are classified synchronously, then persisted. Returns the full resulting
// set (for listing) and the strict subset of newly created records;
// downstream notification must be driven off that subset only.
// One record's persistence failure never aborts the batch.
func (s *EmailStore) SaveBatch(accountID uint, fetched []imapclient.FetchedMessage) ([]models.Email, []models.Email, error) {
	saved := make([]models.Email, 0, len(fetched))
	var created []models.Email

	for _, msg := range fetched {
		var existing models.Email
		err := s.db.Where("account_id = ? AND message_id = ?", accountID, msg.MessageID).First(&existing).Error
		if err == nil {
			saved = append(saved, existing)
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			s.log.WithFields(logrus.Fields{
				"component":  "store",
				"message_id": msg.MessageID,
				"error":      err.Error(),
			}).Error("dedup lookup failed")
			continue
		}

		// Category and confidence are set before the record is ready
		result := s.engine.Classify(msg.Subject, msg.Body, msg.From)

		toAddrsJSON, _ := json.Marshal(msg.To)

		email := models.Email{
			AccountID:      accountID,
			MessageID:      msg.MessageID,
			ThreadID:       msg.ThreadID,
			Subject:        msg.Subject,
			FromAddr:       msg.From,
			ToAddrs:        string(toAddrsJSON),
			Date:           msg.Date,
			Body:           msg.Body,
			HTMLBody:       msg.HTMLBody,
			HasAttachments: msg.HasAttachments,
			Category:       result.Category,
			Confidence:     result.Confidence,
		}

		if err := s.db.Create(&email).Error; err != nil {
			s.log.WithFields(logrus.Fields{
				"component":  "store",
				"message_id": msg.MessageID,
				"error":      err.Error(),
			}).Error("failed to persist email")
			s.logService.LogError(accountID, models.LogModuleEmail, "save", "Failed to save email", map[string]interface{}{
				"message_id": msg.MessageID,
				"error":      err.Error(),
			})
			continue
		}

		saved = append(saved, email)
		created = append(created, email)
	}

	if len(created) > 0 {
		s.logService.LogInfo(accountID, models.LogModuleEmail, "save_batch", "Email batch saved", map[string]interface{}{
			"total":   len(fetched),
			"created": len(created),
			"skipped": len(fetched) - len(created),
		})
	}

	return saved, created, nil
}

// GetEmailByID retrieves an email by ID
func (s *EmailStore) GetEmailByID(id uint) (*models.Email, error) {
	var email models.Email
	if err := s.db.First(&email, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrEmailNotFound
		}
		return nil, err
	}
	return &email, nil
}

// GetEmailByMessageID retrieves an email by its idempotency key
func (s *EmailStore) GetEmailByMessageID(accountID uint, messageID string) (*models.Email, error) {
	var email models.Email
	if err := s.db.Where("account_id = ? AND message_id = ?", accountID, messageID).First(&email).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrEmailNotFound
		}
		return nil, err
	}
	return &email, nil
}

// MarkNotified sets the notified flag after a successful external notification
func (s *EmailStore) MarkNotified(emailID uint) error {
	return s.db.Model(&models.Email{}).Where("id = ?", emailID).Update("notified", true).Error
}

// CountEmails returns the total number of stored emails
func (s *EmailStore) CountEmails() (int64, error) {
	var count int64
	err := s.db.Model(&models.Email{}).Count(&count).Error
	return count, err
}

// Stats summarizes stored emails for the read-side consumers
type Stats struct {
	Total      int64            `json:"total"`
	Unread     int64            `json:"unread"`
	Starred    int64            `json:"starred"`
	Categories map[string]int64 `json:"categories"`
}

// GetStats aggregates email counts by category plus read/star counters
func (s *EmailStore) GetStats() (*Stats, error) {
	stats := &Stats{Categories: make(map[string]int64)}

	if err := s.db.Model(&models.Email{}).Count(&stats.Total).Error; err != nil {
		return nil, err
	}
	if err := s.db.Model(&models.Email{}).Where("is_read = ?", false).Count(&stats.Unread).Error; err != nil {
		return nil, err
	}
	if err := s.db.Model(&models.Email{}).Where("is_starred = ?", true).Count(&stats.Starred).Error; err != nil {
		return nil, err
	}

	var rows []struct {
		Category string
		Count    int64
	}
	if err := s.db.Model(&models.Email{}).
		Select("category, count(*) as count").
		Group("category").
		Scan(&rows).Error; err != nil {
		return nil, err
	}
	for _, row := range rows {
		name := row.Category
		if name == "" {
			name = "Uncategorized"
		}
		stats.Categories[name] = row.Count
	}

	return stats, nil
}
