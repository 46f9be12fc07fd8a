// Package local implements the deterministic rule-based fallback
// classifier and the confidence estimator. It never touches the network,
// so it is always available when the AI path degrades.
package local

import (
	"regexp"
	"strings"

	"github.com/Niranjan945/email-aggregator/internal/database/models"
)

// Confidence scoring constants
const (
	// ConfidenceBase is the starting confidence for any classification
	ConfidenceBase = 0.6
	// ConfidenceCeiling caps confidence strictly below 1.0
	ConfidenceCeiling = 0.95
)

// rule maps a category to the phrases that select it. Rules are checked
// in order: more specific categories (an automated absence reply) come
// before generic ones (an expression of interest), so a templated
// "out of office" reply containing "interested" is not misclassified.
type rule struct {
	category models.Category
	phrases  []string
}

var fallbackRules = []rule{
	{models.CategoryOutOfOffice, []string{
		"out of office", "vacation", "auto-reply", "autoreply",
		"away from", "annual leave", "currently unavailable",
	}},
	{models.CategoryMeetingBooked, []string{
		"meeting", "schedule", "calendar", "appointment", "invite",
	}},
	{models.CategoryNotInterested, []string{
		"not interested", "decline", "reject", "no thank", "unsubscribe me",
	}},
	{models.CategoryInterested, []string{
		"interested", "inquiry", "collaboration", "proposal", "sounds good",
	}},
	{models.CategorySpam, []string{
		"unsubscribe", "promotion", "deal", "offer", "discount",
		"limited time", "act now", "winner",
	}},
}

// Patterns indicating automated/bulk senders
var automatedSenderPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)no-?reply`),
	regexp.MustCompile(`(?i)do-?not-?reply`),
	regexp.MustCompile(`(?i)mailer-daemon`),
	regexp.MustCompile(`(?i)notification@`),
	regexp.MustCompile(`(?i)automated`),
}

// Categorize applies the ordered rule set to subject and body.
// Deterministic: identical input always yields the identical category.
func Categorize(subject, body string) models.Category {
	text := strings.ToLower(subject + " " + normalizeBody(body))

	for _, r := range fallbackRules {
		for _, phrase := range r.phrases {
			if strings.Contains(text, phrase) {
				return r.category
			}
		}
	}

	return models.CategoryInterested
}

// EstimateConfidence computes a [0, 0.95] certainty estimate for an
// assigned category. Starts from a base value and adds fixed increments
// for corroborating signals.
func EstimateConfidence(subject, body, from string, category models.Category) float64 {
	confidence := ConfidenceBase

	if len(subject) > 10 {
		confidence += 0.1
	}
	if len(body) > 50 {
		confidence += 0.1
	}
	if from != "" && !IsAutomatedSender(from) {
		confidence += 0.1
	}

	confidence += categoryBonus(strings.ToLower(subject), strings.ToLower(body), strings.ToLower(from), category)

	if confidence > ConfidenceCeiling {
		confidence = ConfidenceCeiling
	}
	if confidence < 0 {
		confidence = 0
	}
	return confidence
}

// categoryBonus adds increments for category-specific keyword hits
func categoryBonus(subject, body, from string, category models.Category) float64 {
	switch category {
	case models.CategoryMeetingBooked:
		if strings.Contains(subject, "meeting") || strings.Contains(body, "calendar") {
			return 0.15
		}
	case models.CategoryInterested:
		if strings.Contains(body, "interested") || strings.Contains(body, "discuss") {
			return 0.15
		}
	case models.CategorySpam:
		if strings.Contains(subject, "offer") || strings.Contains(from, "noreply") {
			return 0.2
		}
	case models.CategoryOutOfOffice:
		if strings.Contains(subject, "out of office") || strings.Contains(body, "out of office") ||
			strings.Contains(body, "vacation") {
			return 0.2
		}
	case models.CategoryNotInterested:
		if strings.Contains(body, "not interested") || strings.Contains(body, "decline") {
			return 0.1
		}
	}
	return 0
}

// IsAutomatedSender checks if the address looks like a bulk/no-reply sender
func IsAutomatedSender(from string) bool {
	for _, pattern := range automatedSenderPatterns {
		if pattern.MatchString(from) {
			return true
		}
	}
	return false
}

var (
	htmlTagPattern    = regexp.MustCompile(`<[^>]*>`)
	whitespacePattern = regexp.MustCompile(`\s+`)
)

// normalizeBody strips HTML tags and collapses whitespace
func normalizeBody(body string) string {
	body = htmlTagPattern.ReplaceAllString(body, " ")
	body = whitespacePattern.ReplaceAllString(body, " ")
	return strings.TrimSpace(body)
}
