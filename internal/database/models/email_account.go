package models

import (
	"time"
)

// AuthType represents how an account authenticates against the mail server
type AuthType string

const (
	// AuthTypePassword uses traditional password authentication
	AuthTypePassword AuthType = "password"
	// AuthTypeOAuth2 uses XOAUTH2 token authentication
	AuthTypeOAuth2 AuthType = "oauth2"
)

// EmailAccount represents a remote mailbox being ingested
type EmailAccount struct {
	ID                uint       `gorm:"primaryKey" json:"id"`
	Email             string     `gorm:"size:255;not null;index" json:"email"`
	Provider          string     `gorm:"size:50;default:gmail" json:"provider"`
	IMAPHost          string     `gorm:"size:255;not null" json:"imap_host"`
	IMAPPort          int        `gorm:"not null;default:993" json:"imap_port"`
	Username          string     `gorm:"size:255;not null" json:"username"`
	SecretEncrypted   string     `gorm:"size:500;not null" json:"-"`
	AuthType          AuthType   `gorm:"size:20;default:password" json:"auth_type"`
	OAuthRefreshToken string     `gorm:"column:oauth_refresh_token;size:1000" json:"-"`
	OAuthAccessToken  string     `gorm:"column:oauth_access_token;size:1000" json:"-"`
	OAuthTokenExpiry  time.Time  `gorm:"column:oauth_token_expiry" json:"-"`
	UseSSL            bool       `gorm:"default:true" json:"use_ssl"`
	Active            bool       `gorm:"default:true" json:"active"`
	LastSyncAt        *time.Time `json:"last_sync_at"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`

	// Relations
	Emails []Email `gorm:"foreignKey:AccountID" json:"emails,omitempty"`
}
