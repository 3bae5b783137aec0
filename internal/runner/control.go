package runner

import (
	"context"
	"fmt"

	"loops-console/internal/models"
)

// Control actions accepted by Apply.
const (
	ActionPause  = "pause"
	ActionResume = "resume"
	ActionStop   = "stop"
)

// ControlResult is the outcome of a control call: the job's resulting status
// and a human-readable message.
type ControlResult struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// Control applies a pause/resume/stop action to a job. It is the only
// external mutator of a job's desired running state.
//
// Pause on an already-paused job and resume on an already-running job are
// no-ops reporting the current status. Stop is terminal: a stopped job can
// never be resumed. Resume on a paused job whose context is gone (process
// restarted) fails with ErrContextLost.
func (r *Runner) Control(ctx context.Context, jobID, action string) (ControlResult, error) {
	job, ok := r.store.ImportJob(jobID)
	if !ok {
		return ControlResult{}, ErrJobNotFound
	}

	switch action {
	case ActionPause:
		return r.pause(job)
	case ActionResume:
		return r.resume(job)
	case ActionStop:
		return r.stop(job)
	default:
		return ControlResult{}, fmt.Errorf("%w: %q", ErrUnknownAction, action)
	}
}

// pause flips the desired status; a live loop confirms it in the store at
// its next advance, together with the matching processed count. The store is
// written here only when no loop is live to do it.
func (r *Runner) pause(job models.ImportJob) (ControlResult, error) {
	switch job.Status {
	case models.StatusRunning, models.StatusPending:
		if jc, ok := r.registry.Lookup(job.ID); ok {
			if jc.Desired() == models.StatusPaused {
				return ControlResult{Status: models.StatusPaused, Message: "Job is already paused."}, nil
			}
			jc.SetDesired(models.StatusPaused)
			if jc.loopLive() {
				return ControlResult{Status: models.StatusPaused, Message: "Job paused successfully."}, nil
			}
		}
		if err := r.store.AdvanceImportJob(job.ID, models.StatusPaused, nil, nil); err != nil {
			return ControlResult{}, err
		}
		return ControlResult{Status: models.StatusPaused, Message: "Job paused successfully."}, nil
	case models.StatusPaused:
		return ControlResult{Status: models.StatusPaused, Message: "Job is already paused."}, nil
	default:
		// Finished jobs have no context; pause is a no-op.
		return ControlResult{Status: job.Status, Message: fmt.Sprintf("Job is %s; nothing to pause.", job.Status)}, nil
	}
}

// resume decides off the context's desired status, not the store snapshot:
// right after a pause the store may still read running while the pause is
// only pending in the context, and a resume in that window must cancel the
// pause rather than report a no-op.
func (r *Runner) resume(job models.ImportJob) (ControlResult, error) {
	switch job.Status {
	case models.StatusPaused, models.StatusRunning, models.StatusPending:
		jc, ok := r.registry.Lookup(job.ID)
		if !ok {
			if job.Status == models.StatusPaused {
				return ControlResult{}, ErrContextLost
			}
			return ControlResult{Status: job.Status, Message: "Job is already running."}, nil
		}
		if jc.Desired() == models.StatusRunning {
			return ControlResult{Status: models.StatusRunning, Message: "Job is already running."}, nil
		}
		jc.SetDesired(models.StatusRunning)
		if err := r.store.AdvanceImportJob(job.ID, models.StatusRunning, nil, nil); err != nil {
			return ControlResult{}, err
		}
		// Re-enter the loop from the persisted offset. If the paused loop is
		// still winding down, the new goroutine yields to it.
		go r.run(context.Background(), jc, job.ProcessedEmails)
		return ControlResult{Status: models.StatusRunning, Message: "Job resumed successfully."}, nil
	default:
		return ControlResult{}, fmt.Errorf("%w: job is %s", ErrNotResumable, job.Status)
	}
}

// stop is terminal. With a live loop the terminal status lands at the loop's
// next advance so the in-flight item's outcome is recorded with it; without
// one it is persisted here.
func (r *Runner) stop(job models.ImportJob) (ControlResult, error) {
	switch job.Status {
	case models.StatusCompleted, models.StatusStopped:
		return ControlResult{Status: job.Status, Message: fmt.Sprintf("Job is already %s.", job.Status)}, nil
	}
	live := false
	if jc, ok := r.registry.Lookup(job.ID); ok {
		jc.SetDesired(models.StatusStopped)
		live = jc.loopLive()
		r.registry.Discard(job.ID)
	}
	if !live {
		if err := r.store.AdvanceImportJob(job.ID, models.StatusStopped, nil, nil); err != nil {
			return ControlResult{}, err
		}
	}
	return ControlResult{Status: models.StatusStopped, Message: "Job stopped successfully."}, nil
}
