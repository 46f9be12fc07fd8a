package services

import (
	"sync"
	"time"

	"github.com/Niranjan945/email-aggregator/internal/database/models"
	"github.com/Niranjan945/email-aggregator/internal/imapclient"
	"github.com/sirupsen/logrus"
)

const (
	// defaultFetchLimit is used when a caller passes a non-positive limit
	defaultFetchLimit = 10
	// maxFetchAttempts bounds retries per FetchRecent call
	maxFetchAttempts = 2
	// retryDelay is the fixed wait between attempts
	retryDelay = 3 * time.Second
)

// FetchFunc performs one bounded protocol fetch. Injectable for tests;
// the default is imapclient.FetchRecent.
type FetchFunc func(creds imapclient.Credentials, accountKey string, limit int, log *logrus.Logger) ([]imapclient.FetchedMessage, error)

// FetchService orchestrates the "fetch recent N" use case: it resolves
// the target account, guards against concurrent fetches per account,
// retries transient failures, and hands raw records to the store.
type FetchService struct {
	accounts   *AccountService
	store      *EmailStore
	notifier   *NotifyService
	logService *LogService
	log        *logrus.Logger

	fetchFn FetchFunc

	// inFlight holds one entry per account with a fetch in progress.
	// Entries are set/cleared atomically and cleared on every exit path.
	inFlight sync.Map

	mu            sync.Mutex
	lastFetchTime time.Time

	retryDelay time.Duration
}

// NewFetchService creates a new FetchService instance
func NewFetchService(accounts *AccountService, store *EmailStore, notifier *NotifyService, logService *LogService, log *logrus.Logger) *FetchService {
	if log == nil {
		log = logrus.New()
	}
	return &FetchService{
		accounts:   accounts,
		store:      store,
		notifier:   notifier,
		logService: logService,
		log:        log,
		fetchFn:    imapclient.FetchRecent,
		retryDelay: retryDelay,
	}
}

// SetFetchFunc replaces the protocol fetch implementation (used by tests)
func (s *FetchService) SetFetchFunc(fn FetchFunc) {
	s.fetchFn = fn
}

// SetRetryDelay overrides the inter-attempt delay (used by tests)
func (s *FetchService) SetRetryDelay(d time.Duration) {
	s.retryDelay = d
}

// FetchRecent fetches the most recent limit messages for the referenced
// account, persists them exactly once, and returns the persisted records
// (old or new). If a fetch for the account is already running, it returns
// an empty result immediately without queuing. Connection, auth and
// timeout errors are surfaced after retry exhaustion.
func (s *FetchService) FetchRecent(accountRef string, limit int) ([]models.Email, error) {
	if limit <= 0 {
		limit = defaultFetchLimit
	}

	account, err := s.accounts.ResolveAccount(accountRef)
	if err != nil {
		return nil, err
	}

	// Single-flight guard: concurrent callers are turned away, not queued
	if _, loaded := s.inFlight.LoadOrStore(account.ID, struct{}{}); loaded {
		s.log.WithFields(logrus.Fields{
			"component":  "fetch",
			"account_id": account.ID,
		}).Info("fetch already in progress, skipping")
		return []models.Email{}, nil
	}
	defer s.inFlight.Delete(account.ID)

	syncStartedAt := time.Now()

	creds, err := s.accounts.Credentials(account)
	if err != nil {
		return nil, err
	}

	fetched, err := s.fetchWithRetry(creds, account, limit)
	if err != nil {
		s.logService.LogError(account.ID, models.LogModuleEmail, "fetch", "Fetch failed after retries", map[string]interface{}{
			"error": err.Error(),
		})
		return nil, err
	}

	saved, created, err := s.store.SaveBatch(account.ID, fetched)
	if err != nil {
		return nil, err
	}

	if err := s.accounts.MarkSynced(account.ID, syncStartedAt); err != nil {
		s.log.WithFields(logrus.Fields{
			"component":  "fetch",
			"account_id": account.ID,
			"error":      err.Error(),
		}).Warn("failed to update last sync time")
	}

	s.mu.Lock()
	s.lastFetchTime = time.Now()
	s.mu.Unlock()

	s.log.WithFields(logrus.Fields{
		"component":  "fetch",
		"account_id": account.ID,
		"fetched":    len(fetched),
		"created":    len(created),
	}).Info("fetch completed")

	if len(created) > 0 {
		// Fan-out is best effort and must not hold up the caller
		go s.notifier.FanOut(created, false)
	}

	return saved, nil
}

// fetchWithRetry runs the protocol fetch with a fixed small number of
// attempts and a fixed inter-attempt delay. The first success wins; after
// exhaustion the last error is surfaced.
func (s *FetchService) fetchWithRetry(creds imapclient.Credentials, account *models.EmailAccount, limit int) ([]imapclient.FetchedMessage, error) {
	var lastErr error

	for attempt := 1; attempt <= maxFetchAttempts; attempt++ {
		fetched, err := s.fetchFn(creds, account.Email, limit, s.log)
		if err == nil {
			return fetched, nil
		}
		lastErr = err

		s.log.WithFields(logrus.Fields{
			"component":  "fetch",
			"account_id": account.ID,
			"attempt":    attempt,
			"error":      err.Error(),
		}).Warn("fetch attempt failed")

		if attempt < maxFetchAttempts {
			time.Sleep(s.retryDelay)
		}
	}

	return nil, lastErr
}

// Health is a snapshot of the ingestion pipeline state
type Health struct {
	Accounts      int64      `json:"accounts"`
	Emails        int64      `json:"emails"`
	LastFetch     *time.Time `json:"last_fetch,omitempty"`
	FetchInFlight bool       `json:"fetch_in_progress"`
}

// HealthCheck reports counters and in-flight state for monitoring
func (s *FetchService) HealthCheck() (*Health, error) {
	accounts, err := s.accounts.ListActiveAccounts()
	if err != nil {
		return nil, err
	}
	emails, err := s.store.CountEmails()
	if err != nil {
		return nil, err
	}

	health := &Health{
		Accounts: int64(len(accounts)),
		Emails:   emails,
	}

	s.mu.Lock()
	if !s.lastFetchTime.IsZero() {
		t := s.lastFetchTime
		health.LastFetch = &t
	}
	s.mu.Unlock()

	s.inFlight.Range(func(_, _ interface{}) bool {
		health.FetchInFlight = true
		return false
	})

	return health, nil
}
