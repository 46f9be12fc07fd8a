// Package queue decouples fetch triggers from fetch execution. An
// external at-least-once queue may implement Dispatcher; the core ships
// a direct in-process fallback so it never hard-depends on one being
// available.
package queue

import (
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Priority levels for fetch jobs
const (
	PriorityNormal = "normal"
	PriorityHigh   = "high"
)

// FetchJob asks for a "fetch recent" run on one account
type FetchJob struct {
	ID         string    `json:"id"`
	AccountRef string    `json:"account_ref"`
	Limit      int       `json:"limit"`
	Priority   string    `json:"priority"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// Dispatcher enqueues fetch jobs. Implementations provide at-least-once
// semantics at best; the pipeline's idempotent store makes duplicate
// deliveries harmless.
type Dispatcher interface {
	Enqueue(job FetchJob) (string, error)
}

// Runner executes one fetch job synchronously
type Runner func(accountRef string, limit int)

// DirectDispatcher runs jobs immediately in their own goroutine, the
// fallback used when no external queue backend is configured.
type DirectDispatcher struct {
	run Runner
	log *logrus.Logger
}

// NewDirectDispatcher creates a dispatcher that executes jobs in-process
func NewDirectDispatcher(run Runner, log *logrus.Logger) *DirectDispatcher {
	if log == nil {
		log = logrus.New()
	}
	return &DirectDispatcher{run: run, log: log}
}

// Enqueue fires the job asynchronously and returns its id
func (d *DirectDispatcher) Enqueue(job FetchJob) (string, error) {
	if job.ID == "" {
		job.ID = "direct-" + uuid.NewString()
	}
	job.EnqueuedAt = time.Now()

	d.log.WithFields(logrus.Fields{
		"component":   "queue",
		"job_id":      job.ID,
		"account_ref": job.AccountRef,
		"priority":    job.Priority,
	}).Info("dispatching fetch job directly")

	go d.run(job.AccountRef, job.Limit)

	return job.ID, nil
}
