package store

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"loops-console/internal/models"
)

// MemoryStore holds import jobs for the lifetime of the process. Jobs are
// intentionally not persisted: a restart loses in-flight jobs and that is a
// documented property of the system, not a bug to fix here.
//
// AdvanceImportJob is the only mutator of status/processed/logs after
// creation and applies all three under one lock, so a reader never observes
// a processed count without its matching log entry.
type MemoryStore struct {
	mu   sync.RWMutex
	jobs map[string]*models.ImportJob
}

// NewMemoryStore creates an empty job store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{jobs: make(map[string]*models.ImportJob)}
}

// CreateImportJob records a new pending job and returns a copy of it.
func (s *MemoryStore) CreateImportJob(accountID string, totalEmails int) models.ImportJob {
	s.mu.Lock()
	defer s.mu.Unlock()

	job := &models.ImportJob{
		ID:          uuid.New().String(),
		AccountID:   accountID,
		TotalEmails: totalEmails,
		Status:      models.StatusPending,
		CreatedAt:   time.Now().UTC(),
		Logs:        []models.ImportLogEntry{},
	}
	s.jobs[job.ID] = job
	return copyJob(job)
}

// ImportJob returns a copy of the job, or false if the id is unknown.
func (s *MemoryStore) ImportJob(id string) (models.ImportJob, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	job, ok := s.jobs[id]
	if !ok {
		return models.ImportJob{}, false
	}
	return copyJob(job), true
}

// ImportJobs lists jobs, newest first, optionally filtered by account.
func (s *MemoryStore) ImportJobs(accountID string) []models.ImportJob {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.ImportJob, 0, len(s.jobs))
	for _, job := range s.jobs {
		if accountID != "" && job.AccountID != accountID {
			continue
		}
		out = append(out, copyJob(job))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

// AdvanceImportJob atomically updates a job's status, optionally its
// processed count, and optionally appends one log entry. When the new status
// is terminal (completed or stopped), completedAt is stamped in the same
// update. Returns ErrJobNotFound for an unknown id.
//
// Terminal states are sticky: once a job is completed or stopped its status
// never changes, though a late advance for an item that was in flight when
// the job was stopped still records its processed count and log entry.
func (s *MemoryStore) AdvanceImportJob(id, status string, processed *int, entry *models.ImportLogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return ErrJobNotFound
	}
	if terminal(job.Status) {
		status = job.Status
	}
	job.Status = status
	if processed != nil {
		job.ProcessedEmails = *processed
	}
	if entry != nil {
		job.Logs = append(job.Logs, *entry)
	}
	if terminal(status) && job.CompletedAt == nil {
		now := time.Now().UTC()
		job.CompletedAt = &now
	}
	return nil
}

func terminal(status string) bool {
	return status == models.StatusCompleted || status == models.StatusStopped
}

func copyJob(job *models.ImportJob) models.ImportJob {
	out := *job
	out.Logs = make([]models.ImportLogEntry, len(job.Logs))
	copy(out.Logs, job.Logs)
	if job.CompletedAt != nil {
		t := *job.CompletedAt
		out.CompletedAt = &t
	}
	return out
}
