package live

import (
	"testing"
	"time"
)

func testEvent(accountID uint, emailID uint) Event {
	return Event{
		AccountID: accountID,
		EmailID:   emailID,
		MessageID: "<m@example.com>",
		Subject:   "hello",
		Category:  "Interested",
		Date:      time.Now(),
	}
}

// TestHubDeliversToAccountScope tests that events only reach subscribers
// of the same account
func TestHubDeliversToAccountScope(t *testing.T) {
	hub := NewHub()

	mine, cancelMine := hub.Subscribe(1)
	defer cancelMine()
	other, cancelOther := hub.Subscribe(2)
	defer cancelOther()

	hub.Publish(testEvent(1, 10))

	select {
	case event := <-mine:
		if event.EmailID != 10 {
			t.Errorf("unexpected event %+v", event)
		}
	default:
		t.Fatal("expected event for account 1")
	}

	select {
	case event := <-other:
		t.Errorf("account 2 must not receive account 1's event: %+v", event)
	default:
	}
}

// TestHubFanOut tests delivery to multiple subscribers of one account
func TestHubFanOut(t *testing.T) {
	hub := NewHub()

	first, cancelFirst := hub.Subscribe(1)
	defer cancelFirst()
	second, cancelSecond := hub.Subscribe(1)
	defer cancelSecond()

	hub.Publish(testEvent(1, 42))

	for name, ch := range map[string]<-chan Event{"first": first, "second": second} {
		select {
		case event := <-ch:
			if event.EmailID != 42 {
				t.Errorf("%s subscriber got unexpected event %+v", name, event)
			}
		default:
			t.Errorf("%s subscriber missed the event", name)
		}
	}
}

// TestHubPublishNeverBlocks tests that a full subscriber buffer is
// skipped instead of stalling the publisher
func TestHubPublishNeverBlocks(t *testing.T) {
	hub := NewHub()

	_, cancel := hub.Subscribe(1)
	defer cancel()

	done := make(chan struct{})
	go func() {
		// More events than the subscriber buffer holds
		for i := 0; i < 100; i++ {
			hub.Publish(testEvent(1, uint(i)))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on a slow consumer")
	}
}

// TestHubCancelClosesChannel tests subscription teardown
func TestHubCancelClosesChannel(t *testing.T) {
	hub := NewHub()

	ch, cancel := hub.Subscribe(1)
	cancel()

	if _, ok := <-ch; ok {
		t.Error("expected closed channel after cancel")
	}

	// Publishing after cancel must not panic or deliver
	hub.Publish(testEvent(1, 1))

	// Cancel is safe to call twice
	cancel()
}
