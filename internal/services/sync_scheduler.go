package services

import (
	"sync"
	"time"

	"github.com/Niranjan945/email-aggregator/internal/database/models"
	"github.com/sirupsen/logrus"
)

// firstSyncDelay defers the initial cycle so startup settles before any fetch
const firstSyncDelay = 10 * time.Second

// SyncScheduler drives recurring fetches for all active accounts
type SyncScheduler struct {
	accounts *AccountService
	fetcher  *FetchService
	log      *logrus.Logger
	interval time.Duration
	stopChan chan struct{}
	running  bool
	mu       sync.Mutex
	syncing  sync.Mutex // guards against overlapping cycles
}

// NewSyncScheduler creates a new sync scheduler
func NewSyncScheduler(accounts *AccountService, fetcher *FetchService, log *logrus.Logger, interval time.Duration) *SyncScheduler {
	if log == nil {
		log = logrus.New()
	}
	return &SyncScheduler{
		accounts: accounts,
		fetcher:  fetcher,
		log:      log,
		interval: interval,
		stopChan: make(chan struct{}),
	}
}

// Start begins the periodic sync loop
func (s *SyncScheduler) Start() {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.mu.Unlock()

	s.log.WithFields(logrus.Fields{
		"component": "scheduler",
		"interval":  s.interval.String(),
	}).Info("sync scheduler starting")

	go func() {
		select {
		case <-time.After(firstSyncDelay):
			s.syncAllAccounts()
		case <-s.stopChan:
			return
		}

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				s.syncAllAccounts()
			case <-s.stopChan:
				s.log.WithField("component", "scheduler").Info("sync scheduler stopping")
				return
			}
		}
	}()
}

// Stop halts the periodic sync loop
func (s *SyncScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}

	close(s.stopChan)
	s.running = false
}

// syncAllAccounts runs one cycle over every active account. If the
// previous cycle has not finished, this cycle is skipped.
func (s *SyncScheduler) syncAllAccounts() {
	if !s.syncing.TryLock() {
		s.log.WithField("component", "scheduler").Warn("previous sync cycle still running, skipping")
		return
	}
	defer s.syncing.Unlock()

	accounts, err := s.accounts.ListActiveAccounts()
	if err != nil {
		s.log.WithFields(logrus.Fields{
			"component": "scheduler",
			"error":     err.Error(),
		}).Error("failed to list accounts")
		return
	}

	if len(accounts) == 0 {
		return
	}

	s.log.WithFields(logrus.Fields{
		"component": "scheduler",
		"accounts":  len(accounts),
	}).Info("running sync cycle")

	// Accounts sync concurrently and independently. The fetch layer's
	// per-account single-flight guard already prevents one account from
	// fetching twice, so an account mid-fetch simply yields empty here.
	var wg sync.WaitGroup
	for _, account := range accounts {
		wg.Add(1)
		go func(acc models.EmailAccount) {
			defer wg.Done()
			s.syncOneAccount(acc)
		}(account)
	}
	wg.Wait()
}

// syncOneAccount fetches one account and records the outcome
func (s *SyncScheduler) syncOneAccount(account models.EmailAccount) {
	saved, err := s.fetcher.FetchRecent(account.Email, defaultFetchLimit)
	if err != nil {
		s.log.WithFields(logrus.Fields{
			"component":  "scheduler",
			"account_id": account.ID,
			"email":      account.Email,
			"error":      err.Error(),
		}).Warn("scheduled fetch failed")
		return
	}

	if len(saved) > 0 {
		s.log.WithFields(logrus.Fields{
			"component":  "scheduler",
			"account_id": account.ID,
			"email":      account.Email,
			"emails":     len(saved),
		}).Debug("scheduled fetch completed")
	}
}
