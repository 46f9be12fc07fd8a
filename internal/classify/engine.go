// Package classify implements the two-tier classification engine:
// a model-backed primary path with a deterministic rule-based fallback.
package classify

import (
	"strings"

	"github.com/Niranjan945/email-aggregator/internal/classify/ai"
	"github.com/Niranjan945/email-aggregator/internal/classify/local"
	"github.com/Niranjan945/email-aggregator/internal/database/models"
	"github.com/sirupsen/logrus"
)

// Result is a classification outcome. Confidence is within [0, 0.95].
type Result struct {
	Category   models.Category
	Confidence float64
	// FellBack records whether the deterministic fallback produced the category
	FellBack bool
}

// Engine classifies emails. Classify never returns an error: any failure
// on the primary path degrades to the fallback rules.
type Engine struct {
	aiClient *ai.Client
	log      *logrus.Logger
}

// NewEngine creates a classification engine. The AI client may be
// unconfigured, in which case every call takes the fallback path.
func NewEngine(aiClient *ai.Client, log *logrus.Logger) *Engine {
	if aiClient == nil {
		aiClient = ai.NewClient()
	}
	if log == nil {
		log = logrus.New()
	}
	return &Engine{aiClient: aiClient, log: log}
}

// Classify labels an email with a category from the fixed set and a
// confidence estimate. Total: any (subject, body, from) input, including
// empty strings, yields a valid category and a confidence in [0, 0.95].
func (e *Engine) Classify(subject, body, from string) Result {
	category, fellBack := e.categorize(subject, body)
	confidence := local.EstimateConfidence(subject, body, from, category)

	return Result{
		Category:   category,
		Confidence: confidence,
		FellBack:   fellBack,
	}
}

// categorize runs the primary path and degrades to the fallback on any
// error or unrecognized token.
func (e *Engine) categorize(subject, body string) (models.Category, bool) {
	if !e.aiClient.IsConfigured() {
		return local.Categorize(subject, body), true
	}

	token, err := e.aiClient.Categorize(subject, body, categoryTokens())
	if err != nil {
		e.log.WithFields(logrus.Fields{
			"component": "classify",
			"error":     err.Error(),
		}).Warn("AI categorization failed, using fallback")
		return local.Categorize(subject, body), true
	}

	category := models.Category(strings.TrimSpace(token))
	if !category.IsValid() {
		e.log.WithFields(logrus.Fields{
			"component": "classify",
			"token":     token,
		}).Warn("AI returned unrecognized category, using fallback")
		return local.Categorize(subject, body), true
	}

	return category, false
}

// categoryTokens lists the valid category names for the AI prompt
func categoryTokens() []string {
	all := models.AllCategories()
	tokens := make([]string, len(all))
	for i, c := range all {
		tokens[i] = string(c)
	}
	return tokens
}
