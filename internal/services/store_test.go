package services

import (
	"fmt"
	"testing"

	"github.com/Niranjan945/email-aggregator/internal/database/models"
	"github.com/Niranjan945/email-aggregator/internal/imapclient"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

func fetchedMessage(messageID, subject, body string) imapclient.FetchedMessage {
	return imapclient.FetchedMessage{
		MessageID: messageID,
		Subject:   subject,
		From:      "alice@example.com",
		To:        []string{"me@example.com"},
		Date:      testDate,
		Body:      body,
	}
}

// TestSaveBatchDeduplicates tests that a batch containing already-stored
// message ids only creates records for the new ones
func TestSaveBatchDeduplicates(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	cfg := testConfig()
	account := seedAccount(t, db, cfg, "me@example.com")
	store := NewEmailStore(db, fallbackEngine(), quietLogger())

	first := []imapclient.FetchedMessage{
		fetchedMessage("<m1@example.com>", "Hello", "First message body."),
		fetchedMessage("<m2@example.com>", "World", "Second message body."),
	}
	saved, created, err := store.SaveBatch(account.ID, first)
	if err != nil {
		t.Fatalf("SaveBatch failed: %v", err)
	}
	if len(saved) != 2 || len(created) != 2 {
		t.Fatalf("expected 2 saved / 2 created, got %d / %d", len(saved), len(created))
	}

	// Second batch: 5 messages, 2 of which were already stored
	second := []imapclient.FetchedMessage{
		fetchedMessage("<m1@example.com>", "Hello", "First message body."),
		fetchedMessage("<m2@example.com>", "World", "Second message body."),
		fetchedMessage("<m3@example.com>", "Third", "Third message body."),
		fetchedMessage("<m4@example.com>", "Fourth", "Fourth message body."),
		fetchedMessage("<m5@example.com>", "Fifth", "Fifth message body."),
	}
	saved, created, err = store.SaveBatch(account.ID, second)
	if err != nil {
		t.Fatalf("SaveBatch failed: %v", err)
	}
	if len(saved) != 5 {
		t.Errorf("expected 5 saved, got %d", len(saved))
	}
	if len(created) != 3 {
		t.Errorf("expected 3 created, got %d", len(created))
	}

	count, err := store.CountEmails()
	if err != nil {
		t.Fatalf("CountEmails failed: %v", err)
	}
	if count != 5 {
		t.Errorf("expected 5 stored emails, got %d", count)
	}
}

// TestSaveBatchReplayCreatesNothing tests that replaying an identical
// batch yields an empty created subset
func TestSaveBatchReplayCreatesNothing(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	cfg := testConfig()
	account := seedAccount(t, db, cfg, "me@example.com")
	store := NewEmailStore(db, fallbackEngine(), quietLogger())

	batch := []imapclient.FetchedMessage{
		fetchedMessage("<a@example.com>", "One", "Body one."),
		fetchedMessage("<b@example.com>", "Two", "Body two."),
	}

	if _, _, err := store.SaveBatch(account.ID, batch); err != nil {
		t.Fatalf("SaveBatch failed: %v", err)
	}

	saved, created, err := store.SaveBatch(account.ID, batch)
	if err != nil {
		t.Fatalf("SaveBatch replay failed: %v", err)
	}
	if len(created) != 0 {
		t.Errorf("expected 0 created on replay, got %d", len(created))
	}
	if len(saved) != 2 {
		t.Errorf("expected 2 saved on replay, got %d", len(saved))
	}
}

// TestSaveBatchSameMessageIDAcrossAccounts tests that the idempotency key
// is scoped per account
func TestSaveBatchSameMessageIDAcrossAccounts(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	cfg := testConfig()
	first := seedAccount(t, db, cfg, "one@example.com")
	second := seedAccount(t, db, cfg, "two@example.com")
	store := NewEmailStore(db, fallbackEngine(), quietLogger())

	batch := []imapclient.FetchedMessage{fetchedMessage("<shared@example.com>", "Shared", "Same message id.")}

	if _, created, err := store.SaveBatch(first.ID, batch); err != nil || len(created) != 1 {
		t.Fatalf("first account: created=%d err=%v", len(created), err)
	}
	if _, created, err := store.SaveBatch(second.ID, batch); err != nil || len(created) != 1 {
		t.Fatalf("second account: created=%d err=%v", len(created), err)
	}
}

// TestSaveBatchClassifiesBeforePersist tests that stored records carry a
// valid category and bounded confidence
func TestSaveBatchClassifiesBeforePersist(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	cfg := testConfig()
	account := seedAccount(t, db, cfg, "me@example.com")
	store := NewEmailStore(db, fallbackEngine(), quietLogger())

	batch := []imapclient.FetchedMessage{
		fetchedMessage("<ooo@example.com>", "Out of office", "I am on vacation until Friday."),
	}
	_, created, err := store.SaveBatch(account.ID, batch)
	if err != nil {
		t.Fatalf("SaveBatch failed: %v", err)
	}
	if len(created) != 1 {
		t.Fatalf("expected 1 created, got %d", len(created))
	}

	email := created[0]
	if email.Category != models.CategoryOutOfOffice {
		t.Errorf("expected category %q, got %q", models.CategoryOutOfOffice, email.Category)
	}
	if email.Confidence <= 0 || email.Confidence > 0.95 {
		t.Errorf("confidence out of bounds: %v", email.Confidence)
	}

	stored, err := store.GetEmailByMessageID(account.ID, "<ooo@example.com>")
	if err != nil {
		t.Fatalf("GetEmailByMessageID failed: %v", err)
	}
	if stored.Category != email.Category {
		t.Errorf("persisted category %q differs from returned %q", stored.Category, email.Category)
	}
}

// TestMarkNotified tests the notified flag transition
func TestMarkNotified(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	cfg := testConfig()
	account := seedAccount(t, db, cfg, "me@example.com")
	store := NewEmailStore(db, fallbackEngine(), quietLogger())

	_, created, err := store.SaveBatch(account.ID, []imapclient.FetchedMessage{
		fetchedMessage("<n@example.com>", "Interested", "We are interested in your proposal."),
	})
	if err != nil || len(created) != 1 {
		t.Fatalf("SaveBatch: created=%d err=%v", len(created), err)
	}
	if created[0].Notified {
		t.Fatal("new record must not start notified")
	}

	if err := store.MarkNotified(created[0].ID); err != nil {
		t.Fatalf("MarkNotified failed: %v", err)
	}

	stored, err := store.GetEmailByID(created[0].ID)
	if err != nil {
		t.Fatalf("GetEmailByID failed: %v", err)
	}
	if !stored.Notified {
		t.Error("expected notified flag set")
	}
}

// TestGetStats tests category aggregation
func TestGetStats(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	cfg := testConfig()
	account := seedAccount(t, db, cfg, "me@example.com")
	store := NewEmailStore(db, fallbackEngine(), quietLogger())

	batch := []imapclient.FetchedMessage{
		fetchedMessage("<s1@example.com>", "Out of office", "On vacation."),
		fetchedMessage("<s2@example.com>", "Out of office", "Away from my desk."),
		fetchedMessage("<s3@example.com>", "Inquiry", "We are interested in a collaboration."),
	}
	if _, _, err := store.SaveBatch(account.ID, batch); err != nil {
		t.Fatalf("SaveBatch failed: %v", err)
	}

	stats, err := store.GetStats()
	if err != nil {
		t.Fatalf("GetStats failed: %v", err)
	}
	if stats.Total != 3 {
		t.Errorf("expected total 3, got %d", stats.Total)
	}
	if stats.Unread != 3 {
		t.Errorf("expected unread 3, got %d", stats.Unread)
	}
	if stats.Categories[string(models.CategoryOutOfOffice)] != 2 {
		t.Errorf("expected 2 out-of-office, got %d", stats.Categories[string(models.CategoryOutOfOffice)])
	}
	if stats.Categories[string(models.CategoryInterested)] != 1 {
		t.Errorf("expected 1 interested, got %d", stats.Categories[string(models.CategoryInterested)])
	}
}

// TestProperty_SaveBatchIdempotent tests that for any batch, saving it
// twice never grows the table beyond the distinct message id count
func TestProperty_SaveBatchIdempotent(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 20
	properties := gopter.NewProperties(parameters)

	properties.Property("replayed_batch_never_duplicates", prop.ForAll(
		func(n int) bool {
			db, cleanup := setupTestDB(t)
			defer cleanup()

			cfg := testConfig()
			account := seedAccount(t, db, cfg, "me@example.com")
			store := NewEmailStore(db, fallbackEngine(), quietLogger())

			batch := make([]imapclient.FetchedMessage, 0, n)
			for i := 0; i < n; i++ {
				batch = append(batch, fetchedMessage(
					fmt.Sprintf("<msg-%d@example.com>", i),
					fmt.Sprintf("Subject %d", i),
					"Property test body.",
				))
			}

			if _, _, err := store.SaveBatch(account.ID, batch); err != nil {
				return false
			}
			if _, created, err := store.SaveBatch(account.ID, batch); err != nil || len(created) != 0 {
				return false
			}

			count, err := store.CountEmails()
			return err == nil && count == int64(n)
		},
		gen.IntRange(0, 10),
	))

	properties.TestingRun(t)
}
