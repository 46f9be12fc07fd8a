package services

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/Niranjan945/email-aggregator/internal/config"
	"github.com/Niranjan945/email-aggregator/internal/database/models"
	"github.com/Niranjan945/email-aggregator/internal/imapclient"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"gorm.io/gorm"
)

var (
	// ErrAccountNotFound indicates the email account was not found
	ErrAccountNotFound = errors.New("email account not found")
	// ErrNoDefaultCredentials indicates no bootstrap credentials are configured
	ErrNoDefaultCredentials = errors.New("no default credentials configured")
	// ErrEncryptionFailed indicates secret encryption failed
	ErrEncryptionFailed = errors.New("secret encryption failed")
	// ErrDecryptionFailed indicates secret decryption failed
	ErrDecryptionFailed = errors.New("secret decryption failed")
	// ErrTokenRefreshFailed indicates the OAuth token could not be refreshed
	ErrTokenRefreshFailed = errors.New("OAuth token refresh failed")
)

// AccountService owns mailbox account records and their credentials
type AccountService struct {
	db            *gorm.DB
	cfg           *config.Config
	encryptionKey []byte // 32 bytes for AES-256
	logService    *LogService
}

// NewAccountService creates a new AccountService instance
func NewAccountService(db *gorm.DB, cfg *config.Config) *AccountService {
	key := make([]byte, 32)
	copy(key, cfg.GetEncryptionKey())
	return &AccountService{
		db:            db,
		cfg:           cfg,
		encryptionKey: key,
		logService:    NewLogService(db),
	}
}

// encryptSecret encrypts a mailbox secret using AES-256-GCM
func (s *AccountService) encryptSecret(secret string) (string, error) {
	block, err := aes.NewCipher(s.encryptionKey)
	if err != nil {
		return "", ErrEncryptionFailed
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", ErrEncryptionFailed
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", ErrEncryptionFailed
	}

	ciphertext := gcm.Seal(nonce, nonce, []byte(secret), nil)
	return base64.StdEncoding.EncodeToString(ciphertext), nil
}

// decryptSecret decrypts a mailbox secret using AES-256-GCM
func (s *AccountService) decryptSecret(encrypted string) (string, error) {
	ciphertext, err := base64.StdEncoding.DecodeString(encrypted)
	if err != nil {
		return "", ErrDecryptionFailed
	}

	block, err := aes.NewCipher(s.encryptionKey)
	if err != nil {
		return "", ErrDecryptionFailed
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", ErrDecryptionFailed
	}

	nonceSize := gcm.NonceSize()
	if len(ciphertext) < nonceSize {
		return "", ErrDecryptionFailed
	}

	nonce, ciphertext := ciphertext[:nonceSize], ciphertext[nonceSize:]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", ErrDecryptionFailed
	}

	return string(plaintext), nil
}

// GetAccountByID retrieves an account by its numeric id
func (s *AccountService) GetAccountByID(id uint) (*models.EmailAccount, error) {
	var account models.EmailAccount
	if err := s.db.First(&account, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}
	return &account, nil
}

// GetAccountByEmail retrieves an account by its mailbox address
func (s *AccountService) GetAccountByEmail(email string) (*models.EmailAccount, error) {
	var account models.EmailAccount
	if err := s.db.Where("email = ?", email).First(&account).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}
	return &account, nil
}

// ResolveAccount resolves an account reference: a numeric id, else a
// mailbox address, else ("" or "default") the sole active account. When
// nothing exists and bootstrap credentials are configured, a default
// account is created as a convenience path.
func (s *AccountService) ResolveAccount(ref string) (*models.EmailAccount, error) {
	if ref != "" && ref != "default" {
		if id, err := strconv.ParseUint(ref, 10, 32); err == nil {
			if account, err := s.GetAccountByID(uint(id)); err == nil {
				return account, nil
			}
		}
		return s.GetAccountByEmail(ref)
	}

	var account models.EmailAccount
	if err := s.db.Where("active = ?", true).First(&account).Error; err == nil {
		return &account, nil
	}

	return s.createDefaultAccount()
}

// createDefaultAccount bootstraps an account from config-supplied credentials
func (s *AccountService) createDefaultAccount() (*models.EmailAccount, error) {
	if s.cfg.DefaultEmail == "" || s.cfg.DefaultSecret == "" {
		return nil, ErrNoDefaultCredentials
	}

	encrypted, err := s.encryptSecret(s.cfg.DefaultSecret)
	if err != nil {
		return nil, err
	}

	account := &models.EmailAccount{
		Email:           s.cfg.DefaultEmail,
		Provider:        "gmail",
		IMAPHost:        s.cfg.IMAPHost,
		IMAPPort:        s.cfg.IMAPPort,
		Username:        s.cfg.DefaultEmail,
		SecretEncrypted: encrypted,
		AuthType:        models.AuthTypePassword,
		UseSSL:          true,
		Active:          true,
	}

	if err := s.db.Create(account).Error; err != nil {
		return nil, err
	}

	s.logService.LogInfo(account.ID, models.LogModuleAccount, "bootstrap", "Default account created", map[string]interface{}{
		"email": account.Email,
	})

	return account, nil
}

// CreateAccount stores a new account with its secret encrypted at rest
func (s *AccountService) CreateAccount(account *models.EmailAccount, secret string) error {
	encrypted, err := s.encryptSecret(secret)
	if err != nil {
		return err
	}
	account.SecretEncrypted = encrypted
	return s.db.Create(account).Error
}

// Credentials builds session credentials for an account, refreshing the
// OAuth access token first when it has expired.
func (s *AccountService) Credentials(account *models.EmailAccount) (imapclient.Credentials, error) {
	creds := imapclient.Credentials{
		Host:     account.IMAPHost,
		Port:     account.IMAPPort,
		Username: account.Username,
		UseSSL:   account.UseSSL,
	}

	if account.AuthType == models.AuthTypeOAuth2 {
		token := account.OAuthAccessToken
		if token == "" || account.OAuthTokenExpiry.Before(time.Now()) {
			refreshed, err := s.refreshOAuthToken(account)
			if err != nil {
				return imapclient.Credentials{}, err
			}
			token = refreshed
		}
		creds.AccessToken = token
		return creds, nil
	}

	secret, err := s.decryptSecret(account.SecretEncrypted)
	if err != nil {
		return imapclient.Credentials{}, err
	}
	creds.Secret = secret
	return creds, nil
}

// refreshOAuthToken exchanges the stored refresh token for a fresh access
// token and persists it.
func (s *AccountService) refreshOAuthToken(account *models.EmailAccount) (string, error) {
	if account.OAuthRefreshToken == "" {
		return "", fmt.Errorf("%w: no refresh token", ErrTokenRefreshFailed)
	}
	if s.cfg.GoogleClientID == "" || s.cfg.GoogleClientSecret == "" {
		return "", fmt.Errorf("%w: OAuth client not configured", ErrTokenRefreshFailed)
	}

	conf := &oauth2.Config{
		ClientID:     s.cfg.GoogleClientID,
		ClientSecret: s.cfg.GoogleClientSecret,
		Endpoint:     google.Endpoint,
	}

	src := conf.TokenSource(context.Background(), &oauth2.Token{
		RefreshToken: account.OAuthRefreshToken,
	})
	token, err := src.Token()
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrTokenRefreshFailed, err)
	}

	updates := map[string]interface{}{
		"oauth_access_token": token.AccessToken,
		"oauth_token_expiry": token.Expiry,
	}
	if err := s.db.Model(&models.EmailAccount{}).Where("id = ?", account.ID).Updates(updates).Error; err != nil {
		return "", err
	}
	account.OAuthAccessToken = token.AccessToken
	account.OAuthTokenExpiry = token.Expiry

	return token.AccessToken, nil
}

// MarkSynced updates the account's last sync timestamp
func (s *AccountService) MarkSynced(accountID uint, at time.Time) error {
	return s.db.Model(&models.EmailAccount{}).Where("id = ?", accountID).Update("last_sync_at", at).Error
}

// SetActive toggles an account's active flag
func (s *AccountService) SetActive(accountID uint, active bool) error {
	return s.db.Model(&models.EmailAccount{}).Where("id = ?", accountID).Update("active", active).Error
}

// ListActiveAccounts returns all accounts with the active flag set
func (s *AccountService) ListActiveAccounts() ([]models.EmailAccount, error) {
	var accounts []models.EmailAccount
	if err := s.db.Where("active = ?", true).Find(&accounts).Error; err != nil {
		return nil, err
	}
	return accounts, nil
}
