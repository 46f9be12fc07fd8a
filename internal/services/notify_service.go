package services

import (
	"time"

	"github.com/Niranjan945/email-aggregator/internal/database/models"
	"github.com/Niranjan945/email-aggregator/internal/live"
	"github.com/Niranjan945/email-aggregator/internal/notify"
	"github.com/sirupsen/logrus"
)

// defaultBurstDelay spaces out webhook calls in a burst to respect
// sink-side rate limits
const defaultBurstDelay = 1 * time.Second

// actionableCategories is the fixed subset of categories that warrant an
// external notification
var actionableCategories = map[models.Category]bool{
	models.CategoryInterested:    true,
	models.CategoryMeetingBooked: true,
}

// IsActionable reports whether a category is in the external-notification subset
func IsActionable(category models.Category) bool {
	return actionableCategories[category]
}

// NotifyService fans newly saved records out to the live-update channel
// and, selectively, to the external notification sink.
type NotifyService struct {
	store      *EmailStore
	publisher  live.Publisher
	sink       notify.Sink
	logService *LogService
	log        *logrus.Logger
	burstDelay time.Duration
}

// NewNotifyService creates a new NotifyService instance
func NewNotifyService(store *EmailStore, publisher live.Publisher, sink notify.Sink, logService *LogService, log *logrus.Logger) *NotifyService {
	if log == nil {
		log = logrus.New()
	}
	return &NotifyService{
		store:      store,
		publisher:  publisher,
		sink:       sink,
		logService: logService,
		log:        log,
		burstDelay: defaultBurstDelay,
	}
}

// SetBurstDelay overrides the inter-call delay (used by tests)
func (s *NotifyService) SetBurstDelay(d time.Duration) {
	s.burstDelay = d
}

// FanOut processes newly created records: every record is published to
// the live-update channel for its account scope; records whose category
// is actionable (or all of them, when force is set) are additionally sent
// to the external sink. Each sink call is independent: one failure never
// blocks the others. notified is set only after a successful call, so
// failed sends stay retryable.
func (s *NotifyService) FanOut(emails []models.Email, force bool) {
	sent := 0
	for _, email := range emails {
		s.publisher.Publish(live.Event{
			AccountID:  email.AccountID,
			EmailID:    email.ID,
			MessageID:  email.MessageID,
			From:       email.FromAddr,
			Subject:    email.Subject,
			Category:   string(email.Category),
			Confidence: email.Confidence,
			Date:       email.Date,
		})

		if !force && !IsActionable(email.Category) {
			continue
		}

		if sent > 0 && s.burstDelay > 0 {
			time.Sleep(s.burstDelay)
		}
		sent++

		if err := s.sink.Notify(notify.Message{
			From:       email.FromAddr,
			Subject:    email.Subject,
			Category:   string(email.Category),
			Confidence: email.Confidence,
			Preview:    email.Body,
			Date:       email.Date,
		}); err != nil {
			s.log.WithFields(logrus.Fields{
				"component": "notify",
				"email_id":  email.ID,
				"error":     err.Error(),
			}).Warn("external notification failed")
			s.logService.LogWarn(email.AccountID, models.LogModuleNotify, "send", "External notification failed", map[string]interface{}{
				"email_id": email.ID,
				"error":    err.Error(),
			})
			continue
		}

		if err := s.store.MarkNotified(email.ID); err != nil {
			s.log.WithFields(logrus.Fields{
				"component": "notify",
				"email_id":  email.ID,
				"error":     err.Error(),
			}).Warn("failed to mark email notified")
		}
	}
}
