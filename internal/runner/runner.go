// Package runner drives bulk contact imports: one sequential loop per job,
// controlled through a live in-process context and checkpointed to the job
// store after every item.
package runner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"loops-console/internal/models"
	"loops-console/internal/telemetry"
)

var (
	// ErrJobNotFound is returned for control or start calls with an unknown id.
	ErrJobNotFound = errors.New("job not found")
	// ErrContextExists guards the at-most-one-context-per-job invariant.
	ErrContextExists = errors.New("job already has a live context")
	// ErrContextLost is returned when resuming a job whose context does not
	// exist in this process (typically after a restart).
	ErrContextLost = errors.New("job cannot be resumed in this process")
	// ErrNotResumable is returned when resuming a finished job.
	ErrNotResumable = errors.New("job cannot be resumed")
	// ErrUnknownAction is returned for control actions other than pause,
	// resume and stop.
	ErrUnknownAction = errors.New("unknown control action")
)

// JobStore is the slice of the store the runner needs. Advance must be
// atomic per job id with respect to concurrent readers.
type JobStore interface {
	ImportJob(id string) (models.ImportJob, bool)
	AdvanceImportJob(id, status string, processed *int, entry *models.ImportLogEntry) error
}

// MailAPI creates a contact on the platform, satisfied by *loops.Client.
type MailAPI interface {
	CreateContact(ctx context.Context, apiKey, email string) (json.RawMessage, error)
}

// ContactRecorder mirrors successfully imported emails into local storage.
// Recording failures are logged, never fatal to the import.
type ContactRecorder interface {
	CreateContact(ctx context.Context, email, accountID string) (models.Contact, error)
}

// Runner processes import jobs. Multiple jobs run concurrently, each in its
// own goroutine; within a job, items are strictly sequential.
type Runner struct {
	store    JobStore
	mail     MailAPI
	contacts ContactRecorder
	registry *Registry
}

// New constructs a Runner. contacts may be nil when no local contact
// mirroring is wanted.
func New(store JobStore, mail MailAPI, contacts ContactRecorder, registry *Registry) *Runner {
	return &Runner{store: store, mail: mail, contacts: contacts, registry: registry}
}

// Registry exposes the context registry, mainly for tests and diagnostics.
func (r *Runner) Registry() *Registry {
	return r.registry
}

// StartParams carries everything the loop needs; the email list and API key
// are snapshotted here and never re-read from the account store.
type StartParams struct {
	JobID     string
	AccountID string
	APIKey    string
	Emails    []string
	Delay     time.Duration
}

// Start registers a context for the job and launches its processing loop.
// It returns as soon as the goroutine is spawned; no item has been processed
// yet when it does.
func (r *Runner) Start(p StartParams) error {
	job, ok := r.store.ImportJob(p.JobID)
	if !ok {
		return ErrJobNotFound
	}
	jc := &Context{
		jobID:     p.JobID,
		accountID: p.AccountID,
		apiKey:    p.APIKey,
		emails:    p.Emails,
		delay:     p.Delay,
		desired:   models.StatusRunning,
	}
	if err := r.registry.Register(p.JobID, jc); err != nil {
		return err
	}
	telemetry.ImportsStarted.Inc()
	go r.run(context.Background(), jc, job.ProcessedEmails)
	return nil
}

// run owns the loop slot for a job. When a loop exits through a pause
// checkpoint, run re-reads the desired status after releasing the slot: a
// resume or stop that landed during the wind-down (its own goroutine bounced
// off the live-loop guard) is taken over here instead of being lost.
func (r *Runner) run(ctx context.Context, jc *Context, from int) {
	for {
		if !jc.acquireLoop() {
			// A loop is already live for this job; it will pick up the
			// current desired status at its next checkpoint.
			return
		}
		pausedExit := r.loop(ctx, jc, from)
		jc.releaseLoop()
		if !pausedExit {
			return
		}
		switch jc.Desired() {
		case models.StatusRunning:
			// The loop clamps from to the stored processed count on re-entry.
		case models.StatusStopped:
			if err := r.store.AdvanceImportJob(jc.jobID, models.StatusStopped, nil, nil); err != nil {
				log.Printf("[runner] job %s: mark stopped: %v", jc.jobID, err)
			}
			r.registry.Discard(jc.jobID)
			return
		default:
			return
		}
	}
}

// loop processes emails from index `from` until exhaustion or a pause/stop
// checkpoint. It is the only writer of per-item progress for its job and it
// reports true only when it exited on a pause checkpoint.
//
// Every status write here uses the desired status read at that moment, never
// a hardcoded running: a pause or stop confirmed while an item was in flight
// must not be overwritten by that item's advance.
func (r *Runner) loop(ctx context.Context, jc *Context, from int) bool {
	telemetry.ActiveImports.Inc()
	defer telemetry.ActiveImports.Dec()

	if err := r.store.AdvanceImportJob(jc.jobID, jc.Desired(), nil, nil); err != nil {
		log.Printf("[runner] job %s: mark %s: %v", jc.jobID, jc.Desired(), err)
		return false
	}

	// The store's processed count is authoritative and monotone; never start
	// behind it, or an item would be imported twice.
	if job, ok := r.store.ImportJob(jc.jobID); ok && job.ProcessedEmails > from {
		from = job.ProcessedEmails
	}

	total := len(jc.emails)
	for i := from; i < total; i++ {
		// Checkpoint: re-read the desired status before every item.
		if desired := jc.Desired(); desired == models.StatusPaused || desired == models.StatusStopped {
			checkpoint := i
			if err := r.store.AdvanceImportJob(jc.jobID, desired, &checkpoint, nil); err != nil {
				log.Printf("[runner] job %s: checkpoint %s: %v", jc.jobID, desired, err)
			}
			if desired == models.StatusStopped {
				r.registry.Discard(jc.jobID)
				return false
			}
			return true
		}

		entry := r.processOne(ctx, jc, jc.emails[i])
		next := i + 1
		if err := r.store.AdvanceImportJob(jc.jobID, jc.Desired(), &next, &entry); err != nil {
			log.Printf("[runner] job %s: advance to %d: %v", jc.jobID, next, err)
			return false
		}

		if jc.delay > 0 && next < total {
			timer := time.NewTimer(jc.delay)
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				return false
			}
		}
	}

	done := total
	if err := r.store.AdvanceImportJob(jc.jobID, models.StatusCompleted, &done, nil); err != nil {
		log.Printf("[runner] job %s: mark completed: %v", jc.jobID, err)
	}
	r.registry.Discard(jc.jobID)
	return false
}

// processOne performs the platform call for a single email and builds its
// log entry. A failed item counts as processed; a panic inside the step is
// recorded as that item's failure so the job always reaches a terminal state.
func (r *Runner) processOne(ctx context.Context, jc *Context, email string) (entry models.ImportLogEntry) {
	entry = models.ImportLogEntry{Email: email, Timestamp: time.Now().UTC()}
	defer func() {
		if p := recover(); p != nil {
			log.Printf("[runner] job %s: panic importing %s: %v", jc.jobID, email, p)
			entry.Status = models.LogFailed
			entry.Message = fmt.Sprintf("unexpected error: %v", p)
			telemetry.ImportFailed.Inc()
		}
	}()

	if _, err := r.mail.CreateContact(ctx, jc.apiKey, email); err != nil {
		entry.Status = models.LogFailed
		entry.Message = err.Error()
		telemetry.ImportFailed.Inc()
		return entry
	}

	if r.contacts != nil {
		if _, err := r.contacts.CreateContact(ctx, email, jc.accountID); err != nil {
			log.Printf("[runner] job %s: record contact %s: %v", jc.jobID, email, err)
		}
	}

	entry.Status = models.LogSuccess
	entry.Message = email + " added successfully"
	telemetry.ImportSuccess.Inc()
	return entry
}
