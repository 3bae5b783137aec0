package runner

import (
	"sync"
	"time"
)

// Context is the live control-plane companion of one active import job: the
// email list and credential snapshot taken at submission, plus the mutable
// desired status that the control gateway writes and the loop reads at every
// per-item checkpoint.
//
// Contexts exist only in the submitting process. After a restart the job
// record may still read running or paused, but its context is gone and the
// job can no longer be resumed; that limitation is deliberate.
type Context struct {
	jobID     string
	accountID string
	apiKey    string
	emails    []string
	delay     time.Duration

	mu      sync.Mutex
	desired string
	looping bool
}

// Desired reports the current desired status.
func (c *Context) Desired() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.desired
}

// SetDesired updates the desired status. The loop observes the change no
// later than its next checkpoint.
func (c *Context) SetDesired(status string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.desired = status
}

// acquireLoop claims the single loop slot for this context. It returns false
// when a loop is already live, which keeps a resume issued before the paused
// loop has wound down from spawning a second concurrent runner.
func (c *Context) acquireLoop() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.looping {
		return false
	}
	c.looping = true
	return true
}

func (c *Context) releaseLoop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.looping = false
}

// loopLive reports whether a loop currently owns this context's slot. When it
// does, the control gateway leaves status persistence to the loop's next
// advance so the stored status always changes together with the processed
// count that goes with it.
func (c *Context) loopLive() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.looping
}

// Registry owns the live contexts, at most one per job id.
type Registry struct {
	mu   sync.Mutex
	live map[string]*Context
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{live: make(map[string]*Context)}
}

// Register installs a context for a job. Registering a job that already has
// a live context fails with ErrContextExists.
func (r *Registry) Register(jobID string, jc *Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.live[jobID]; ok {
		return ErrContextExists
	}
	r.live[jobID] = jc
	return nil
}

// Lookup returns the live context for a job, if any.
func (r *Registry) Lookup(jobID string) (*Context, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	jc, ok := r.live[jobID]
	return jc, ok
}

// Discard removes a job's context. Discarding an absent id is a no-op.
func (r *Registry) Discard(jobID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.live, jobID)
}

// Len reports the number of live contexts.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.live)
}
