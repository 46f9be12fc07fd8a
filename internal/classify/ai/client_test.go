package ai

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
)

var testCategories = []string{"Interested", "Not Interested", "Meeting Booked", "Spam", "Out of Office"}

func newTestClient(ts *httptest.Server) *Client {
	client := NewClient()
	client.Configure("custom", "test-key", "test-model", ts.URL)
	return client
}

// TestCategorizeNotConfigured tests the unconfigured sentinel
func TestCategorizeNotConfigured(t *testing.T) {
	client := NewClient()
	_, err := client.Categorize("subject", "body", testCategories)
	if !errors.Is(err, ErrNotConfigured) {
		t.Errorf("expected ErrNotConfigured, got %v", err)
	}
}

// TestCategorizeSuccess tests that the model's answer token is returned trimmed
func TestCategorizeSuccess(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer test-key" {
			t.Errorf("unexpected auth header %q", auth)
		}
		fmt.Fprint(w, `{"choices":[{"message":{"role":"assistant","content":"  Interested \n"}}]}`)
	}))
	defer ts.Close()

	token, err := newTestClient(ts).Categorize("Partnership", "We'd like to talk.", testCategories)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if token != "Interested" {
		t.Errorf("expected trimmed token %q, got %q", "Interested", token)
	}
}

// TestCategorizeRateLimited tests the 429 sentinel
func TestCategorizeRateLimited(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "slow down", http.StatusTooManyRequests)
	}))
	defer ts.Close()

	_, err := newTestClient(ts).Categorize("subject", "body", testCategories)
	if !errors.Is(err, ErrRateLimited) {
		t.Errorf("expected ErrRateLimited, got %v", err)
	}
}

// TestCategorizeAuthFailed tests the 401/403 sentinel
func TestCategorizeAuthFailed(t *testing.T) {
	for _, status := range []int{http.StatusUnauthorized, http.StatusForbidden} {
		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "bad key", status)
		}))

		_, err := newTestClient(ts).Categorize("subject", "body", testCategories)
		if !errors.Is(err, ErrAuthFailed) {
			t.Errorf("status %d: expected ErrAuthFailed, got %v", status, err)
		}
		ts.Close()
	}
}

// TestCategorizeServerError tests that other failure statuses map to the
// generic call-failed sentinel
func TestCategorizeServerError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer ts.Close()

	_, err := newTestClient(ts).Categorize("subject", "body", testCategories)
	if !errors.Is(err, ErrAPICallFailed) {
		t.Errorf("expected ErrAPICallFailed, got %v", err)
	}
}

// TestCategorizeInvalidResponse tests malformed and empty responses
func TestCategorizeInvalidResponse(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"malformed json", `{"choices": not json`},
		{"no choices", `{"choices":[]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				fmt.Fprint(w, tt.body)
			}))
			defer ts.Close()

			_, err := newTestClient(ts).Categorize("subject", "body", testCategories)
			if !errors.Is(err, ErrInvalidResponse) {
				t.Errorf("expected ErrInvalidResponse, got %v", err)
			}
		})
	}
}

// TestCategorizeErrorField tests that an in-band API error is surfaced
func TestCategorizeErrorField(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"choices":[],"error":{"message":"model overloaded"}}`)
	}))
	defer ts.Close()

	_, err := newTestClient(ts).Categorize("subject", "body", testCategories)
	if !errors.Is(err, ErrAPICallFailed) {
		t.Errorf("expected ErrAPICallFailed, got %v", err)
	}
}

// TestConfigureDefaults tests provider defaulting
func TestConfigureDefaults(t *testing.T) {
	client := NewClient()
	client.Configure("openai", "key", "", "")
	if client.baseURL != "https://api.openai.com/v1" {
		t.Errorf("unexpected openai base URL %q", client.baseURL)
	}
	if client.model != "gpt-3.5-turbo" {
		t.Errorf("unexpected default model %q", client.model)
	}

	client.Configure("claude", "key", "", "")
	if client.baseURL != "https://api.anthropic.com/v1" {
		t.Errorf("unexpected claude base URL %q", client.baseURL)
	}

	client.Configure("custom", "key", "m", "https://llm.internal/v1/")
	if client.baseURL != "https://llm.internal/v1" {
		t.Errorf("expected trailing slash trimmed, got %q", client.baseURL)
	}
}
