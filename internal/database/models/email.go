package models

import (
	"time"
)

// Category is the closed set of labels the classifier can assign.
type Category string

const (
	// CategoryInterested marks business inquiries and positive responses
	CategoryInterested Category = "Interested"
	// CategoryNotInterested marks rejections and declines
	CategoryNotInterested Category = "Not Interested"
	// CategoryMeetingBooked marks meeting confirmations and calendar invites
	CategoryMeetingBooked Category = "Meeting Booked"
	// CategorySpam marks promotional and unsolicited content
	CategorySpam Category = "Spam"
	// CategoryOutOfOffice marks automated absence replies
	CategoryOutOfOffice Category = "Out of Office"
)

// AllCategories lists every valid category.
func AllCategories() []Category {
	return []Category{
		CategoryInterested,
		CategoryNotInterested,
		CategoryMeetingBooked,
		CategorySpam,
		CategoryOutOfOffice,
	}
}

// IsValid reports whether the category is a member of the fixed set.
func (c Category) IsValid() bool {
	switch c {
	case CategoryInterested, CategoryNotInterested, CategoryMeetingBooked,
		CategorySpam, CategoryOutOfOffice:
		return true
	}
	return false
}

// Email represents an ingested, normalized mail message.
// MessageID is the idempotency key, unique per account.
type Email struct {
	ID             uint      `gorm:"primaryKey" json:"id"`
	AccountID      uint      `gorm:"index:idx_emails_account_message,unique;not null" json:"account_id"`
	MessageID      string    `gorm:"index:idx_emails_account_message,unique;size:255;not null" json:"message_id"`
	ThreadID       string    `gorm:"size:255" json:"thread_id,omitempty"`
	Subject        string    `gorm:"size:500" json:"subject"`
	FromAddr       string    `gorm:"size:255" json:"from"`
	ToAddrs        string    `gorm:"type:text" json:"to"` // JSON array stored as string
	Date           time.Time `gorm:"index" json:"date"`
	Body           string    `gorm:"type:text" json:"body"`
	HTMLBody       string    `gorm:"type:text" json:"html_body"`
	HasAttachments bool      `gorm:"default:false" json:"has_attachments"`
	Category       Category  `gorm:"size:50;index" json:"category"`
	Confidence     float64   `gorm:"default:0" json:"confidence"`
	IsRead         bool      `gorm:"default:false" json:"is_read"`
	IsStarred      bool      `gorm:"default:false" json:"is_starred"`
	Notified       bool      `gorm:"default:false" json:"notified"`
	CreatedAt      time.Time `json:"created_at"`
}
