package services

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/Niranjan945/email-aggregator/internal/imapclient"
	"github.com/sirupsen/logrus"
)

// TestSyncCycleFetchesEveryActiveAccount tests one scheduler cycle across
// multiple accounts
func TestSyncCycleFetchesEveryActiveAccount(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	cfg := testConfig()
	seedAccount(t, db, cfg, "one@example.com")
	seedAccount(t, db, cfg, "two@example.com")
	inactive := seedAccount(t, db, cfg, "off@example.com")

	accounts := NewAccountService(db, cfg)
	if err := accounts.SetActive(inactive.ID, false); err != nil {
		t.Fatalf("SetActive failed: %v", err)
	}

	store := NewEmailStore(db, fallbackEngine(), quietLogger())
	notifier := NewNotifyService(store, noopPublisher{}, &recordingSink{}, NewLogService(db), quietLogger())
	notifier.SetBurstDelay(0)
	fetcher := NewFetchService(accounts, store, notifier, NewLogService(db), quietLogger())
	fetcher.SetRetryDelay(time.Millisecond)

	var fetches int32
	fetcher.SetFetchFunc(func(creds imapclient.Credentials, accountKey string, limit int, log *logrus.Logger) ([]imapclient.FetchedMessage, error) {
		atomic.AddInt32(&fetches, 1)
		if accountKey == "off@example.com" {
			t.Errorf("inactive account must not be synced")
		}
		return nil, nil
	})

	scheduler := NewSyncScheduler(accounts, fetcher, quietLogger(), time.Hour)
	scheduler.syncAllAccounts()

	if got := atomic.LoadInt32(&fetches); got != 2 {
		t.Errorf("expected 2 fetches, got %d", got)
	}
}

// TestSchedulerStartStopIdempotent tests the lifecycle guards
func TestSchedulerStartStopIdempotent(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	cfg := testConfig()
	accounts := NewAccountService(db, cfg)
	store := NewEmailStore(db, fallbackEngine(), quietLogger())
	notifier := NewNotifyService(store, noopPublisher{}, &recordingSink{}, NewLogService(db), quietLogger())
	fetcher := NewFetchService(accounts, store, notifier, NewLogService(db), quietLogger())

	scheduler := NewSyncScheduler(accounts, fetcher, quietLogger(), time.Hour)

	scheduler.Start()
	scheduler.Start() // second start is a no-op

	scheduler.Stop()
	scheduler.Stop() // second stop must not close the channel twice
}
