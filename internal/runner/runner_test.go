package runner

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"loops-console/internal/models"
	"loops-console/internal/store"
)

// fakeMail scripts the platform API: per-email errors, optional per-call
// gating so tests control exactly when each item completes, and a record of
// every call in order.
type fakeMail struct {
	mu      sync.Mutex
	calls   []string
	failFor map[string]error
	panicOn string
	// When gate is non-nil, every call signals started and then blocks until
	// a token is received.
	gate    chan struct{}
	started chan string
}

func (f *fakeMail) CreateContact(ctx context.Context, apiKey, email string) (json.RawMessage, error) {
	f.mu.Lock()
	f.calls = append(f.calls, email)
	f.mu.Unlock()

	if f.started != nil {
		f.started <- email
	}
	if f.gate != nil {
		<-f.gate
	}
	if f.panicOn == email {
		panic("scripted panic for " + email)
	}
	if err, ok := f.failFor[email]; ok {
		return nil, err
	}
	return json.RawMessage(`{"success":true}`), nil
}

func (f *fakeMail) callLog() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.calls))
	copy(out, f.calls)
	return out
}

type apiError struct{ msg string }

func (e *apiError) Error() string { return e.msg }

func newHarness(t *testing.T, mail *fakeMail) (*Runner, *store.MemoryStore) {
	t.Helper()
	st := store.NewMemoryStore()
	return New(st, mail, nil, NewRegistry()), st
}

func startJob(t *testing.T, r *Runner, st *store.MemoryStore, emails []string, delay time.Duration) models.ImportJob {
	t.Helper()
	job := st.CreateImportJob("acct-1", len(emails))
	require.NoError(t, r.Start(StartParams{
		JobID:     job.ID,
		AccountID: "acct-1",
		APIKey:    "key",
		Emails:    emails,
		Delay:     delay,
	}))
	return job
}

func waitForStatus(t *testing.T, st *store.MemoryStore, jobID, status string) models.ImportJob {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		job, ok := st.ImportJob(jobID)
		require.True(t, ok)
		if job.Status == status {
			return job
		}
		select {
		case <-deadline:
			t.Fatalf("job never reached %s, currently %s (processed %d)", status, job.Status, job.ProcessedEmails)
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestRunCompletesInOrder(t *testing.T) {
	mail := &fakeMail{}
	r, st := newHarness(t, mail)

	job := startJob(t, r, st, []string{"a@x.com", "b@x.com"}, 0)
	final := waitForStatus(t, st, job.ID, models.StatusCompleted)

	assert.Equal(t, 2, final.ProcessedEmails)
	require.Len(t, final.Logs, 2)
	assert.Equal(t, "a@x.com", final.Logs[0].Email)
	assert.Equal(t, models.LogSuccess, final.Logs[0].Status)
	assert.Equal(t, "a@x.com added successfully", final.Logs[0].Message)
	assert.Equal(t, "b@x.com", final.Logs[1].Email)
	assert.Equal(t, models.LogSuccess, final.Logs[1].Status)
	require.NotNil(t, final.CompletedAt)

	assert.Equal(t, []string{"a@x.com", "b@x.com"}, mail.callLog())
	assert.Equal(t, 0, r.Registry().Len(), "context discarded on completion")
}

func TestPerItemFailureContinues(t *testing.T) {
	mail := &fakeMail{failFor: map[string]error{
		"b@x.com": &apiError{msg: "loops: API error 400 (/contacts/create): duplicate contact"},
	}}
	r, st := newHarness(t, mail)

	job := startJob(t, r, st, []string{"a@x.com", "b@x.com", "c@x.com"}, 0)
	final := waitForStatus(t, st, job.ID, models.StatusCompleted)

	assert.Equal(t, 3, final.ProcessedEmails)
	require.Len(t, final.Logs, 3)
	assert.Equal(t, models.LogSuccess, final.Logs[0].Status)
	assert.Equal(t, models.LogFailed, final.Logs[1].Status)
	assert.Contains(t, final.Logs[1].Message, "duplicate")
	assert.Equal(t, models.LogSuccess, final.Logs[2].Status)
}

func TestPanicInItemStepIsItemFailure(t *testing.T) {
	mail := &fakeMail{panicOn: "b@x.com"}
	r, st := newHarness(t, mail)

	job := startJob(t, r, st, []string{"a@x.com", "b@x.com", "c@x.com"}, 0)
	final := waitForStatus(t, st, job.ID, models.StatusCompleted)

	assert.Equal(t, 3, final.ProcessedEmails)
	require.Len(t, final.Logs, 3)
	assert.Equal(t, models.LogFailed, final.Logs[1].Status)
	assert.Contains(t, final.Logs[1].Message, "unexpected error")
	assert.Equal(t, models.LogSuccess, final.Logs[2].Status)
}

func TestPauseCheckpointsAndResumeContinues(t *testing.T) {
	mail := &fakeMail{gate: make(chan struct{}), started: make(chan string, 8)}
	r, st := newHarness(t, mail)
	ctx := context.Background()

	job := startJob(t, r, st, []string{"a@x.com", "b@x.com", "c@x.com"}, 0)

	// Item a is in flight; pause lands before its checkpoint frees item b.
	require.Equal(t, "a@x.com", <-mail.started)
	res, err := r.Control(ctx, job.ID, ActionPause)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPaused, res.Status)

	mail.gate <- struct{}{} // let item a finish
	paused := waitForStatus(t, st, job.ID, models.StatusPaused)
	assert.Equal(t, 1, paused.ProcessedEmails)
	require.Len(t, paused.Logs, 1)
	assert.Equal(t, "a@x.com", paused.Logs[0].Email)

	// No further items while paused.
	time.Sleep(30 * time.Millisecond)
	still, _ := st.ImportJob(job.ID)
	assert.Equal(t, 1, still.ProcessedEmails)
	assert.Equal(t, []string{"a@x.com"}, mail.callLog())

	// Resume picks up from index 1; no reprocessing, no skipping.
	res, err = r.Control(ctx, job.ID, ActionResume)
	require.NoError(t, err)
	assert.Equal(t, models.StatusRunning, res.Status)

	require.Equal(t, "b@x.com", <-mail.started)
	mail.gate <- struct{}{}
	require.Equal(t, "c@x.com", <-mail.started)
	mail.gate <- struct{}{}

	final := waitForStatus(t, st, job.ID, models.StatusCompleted)
	assert.Equal(t, 3, final.ProcessedEmails)
	require.Len(t, final.Logs, 3)
	assert.Equal(t, paused.Logs[0], final.Logs[0], "prefix unchanged by pause/resume")
	assert.Equal(t, []string{"a@x.com", "b@x.com", "c@x.com"}, mail.callLog())
}

func TestPauseIsIdempotent(t *testing.T) {
	mail := &fakeMail{gate: make(chan struct{}), started: make(chan string, 8)}
	r, st := newHarness(t, mail)
	ctx := context.Background()

	job := startJob(t, r, st, []string{"a@x.com", "b@x.com"}, 0)
	require.Equal(t, "a@x.com", <-mail.started)

	_, err := r.Control(ctx, job.ID, ActionPause)
	require.NoError(t, err)
	mail.gate <- struct{}{}
	waitForStatus(t, st, job.ID, models.StatusPaused)

	res, err := r.Control(ctx, job.ID, ActionPause)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPaused, res.Status)
	assert.Contains(t, res.Message, "already paused")

	// Clean up: stop the job so no goroutine lingers.
	_, err = r.Control(ctx, job.ID, ActionStop)
	require.NoError(t, err)
}

func TestResumeOnRunningIsNoop(t *testing.T) {
	mail := &fakeMail{gate: make(chan struct{}), started: make(chan string, 8)}
	r, st := newHarness(t, mail)
	ctx := context.Background()

	job := startJob(t, r, st, []string{"a@x.com"}, 0)
	require.Equal(t, "a@x.com", <-mail.started)
	waitForStatus(t, st, job.ID, models.StatusRunning)

	res, err := r.Control(ctx, job.ID, ActionResume)
	require.NoError(t, err)
	assert.Equal(t, models.StatusRunning, res.Status)
	assert.Contains(t, res.Message, "already running")

	mail.gate <- struct{}{}
	waitForStatus(t, st, job.ID, models.StatusCompleted)
}

func TestStopIsTerminal(t *testing.T) {
	mail := &fakeMail{gate: make(chan struct{}), started: make(chan string, 8)}
	r, st := newHarness(t, mail)
	ctx := context.Background()

	job := startJob(t, r, st, []string{"a@x.com", "b@x.com", "c@x.com"}, 0)
	require.Equal(t, "a@x.com", <-mail.started)

	res, err := r.Control(ctx, job.ID, ActionStop)
	require.NoError(t, err)
	assert.Equal(t, models.StatusStopped, res.Status)

	mail.gate <- struct{}{}
	final := waitForStatus(t, st, job.ID, models.StatusStopped)
	assert.Equal(t, 1, final.ProcessedEmails)
	require.NotNil(t, final.CompletedAt)
	assert.Equal(t, 0, r.Registry().Len(), "context discarded on stop")

	_, err = r.Control(ctx, job.ID, ActionResume)
	assert.ErrorIs(t, err, ErrNotResumable)

	still, _ := st.ImportJob(job.ID)
	assert.Equal(t, models.StatusStopped, still.Status)
	assert.Equal(t, []string{"a@x.com"}, mail.callLog(), "no item processed after stop")
}

// A resume issued while a pause is still pending (the item it interrupted is
// in flight) cancels the pause instead of reporting a no-op off the stale
// store status.
func TestResumeCancelsPendingPause(t *testing.T) {
	mail := &fakeMail{gate: make(chan struct{}), started: make(chan string, 8)}
	r, st := newHarness(t, mail)
	ctx := context.Background()

	job := startJob(t, r, st, []string{"a@x.com", "b@x.com"}, 0)
	require.Equal(t, "a@x.com", <-mail.started)

	_, err := r.Control(ctx, job.ID, ActionPause)
	require.NoError(t, err)

	res, err := r.Control(ctx, job.ID, ActionResume)
	require.NoError(t, err)
	assert.Equal(t, models.StatusRunning, res.Status)
	assert.Contains(t, res.Message, "resumed")

	mail.gate <- struct{}{}
	require.Equal(t, "b@x.com", <-mail.started)
	mail.gate <- struct{}{}

	final := waitForStatus(t, st, job.ID, models.StatusCompleted)
	assert.Equal(t, 2, final.ProcessedEmails)
	assert.Equal(t, []string{"a@x.com", "b@x.com"}, mail.callLog())
}

// A resume that lands in the inter-item delay after a pause took effect is
// honored: the still-live loop picks the change up at its next checkpoint.
func TestResumeDuringInterItemDelay(t *testing.T) {
	mail := &fakeMail{gate: make(chan struct{}), started: make(chan string, 8)}
	r, st := newHarness(t, mail)
	ctx := context.Background()

	job := startJob(t, r, st, []string{"a@x.com", "b@x.com"}, 300*time.Millisecond)
	require.Equal(t, "a@x.com", <-mail.started)

	_, err := r.Control(ctx, job.ID, ActionPause)
	require.NoError(t, err)
	mail.gate <- struct{}{}

	paused := waitForStatus(t, st, job.ID, models.StatusPaused)
	assert.Equal(t, 1, paused.ProcessedEmails)

	res, err := r.Control(ctx, job.ID, ActionResume)
	require.NoError(t, err)
	assert.Equal(t, models.StatusRunning, res.Status)
	assert.Contains(t, res.Message, "resumed")

	require.Equal(t, "b@x.com", <-mail.started)
	mail.gate <- struct{}{}

	final := waitForStatus(t, st, job.ID, models.StatusCompleted)
	assert.Equal(t, 2, final.ProcessedEmails)
	assert.Equal(t, []string{"a@x.com", "b@x.com"}, mail.callLog(), "no item reprocessed")
}

// pauseCheckpointGate blocks the loop inside its pause-checkpoint store write
// so tests can land control actions in the wind-down window, after the loop
// has committed to exiting but before it has released its slot.
type pauseCheckpointGate struct {
	*store.MemoryStore
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func (s *pauseCheckpointGate) AdvanceImportJob(id, status string, processed *int, entry *models.ImportLogEntry) error {
	if status == models.StatusPaused && processed != nil && entry == nil {
		s.once.Do(func() {
			close(s.entered)
			<-s.release
		})
	}
	return s.MemoryStore.AdvanceImportJob(id, status, processed, entry)
}

func windDownHarness(t *testing.T, mail *fakeMail) (*Runner, *store.MemoryStore, *pauseCheckpointGate, models.ImportJob) {
	t.Helper()
	st := store.NewMemoryStore()
	gate := &pauseCheckpointGate{
		MemoryStore: st,
		entered:     make(chan struct{}),
		release:     make(chan struct{}),
	}
	r := New(gate, mail, nil, NewRegistry())

	job := st.CreateImportJob("acct-1", 2)
	require.NoError(t, r.Start(StartParams{
		JobID:     job.ID,
		AccountID: "acct-1",
		APIKey:    "key",
		Emails:    []string{"a@x.com", "b@x.com"},
	}))
	return r, st, gate, job
}

// A resume that lands while the paused loop is winding down must not be lost
// when its own goroutine bounces off the live-loop guard: the exiting loop
// re-reads the desired status and takes the resume over.
func TestResumeDuringPauseWindDown(t *testing.T) {
	mail := &fakeMail{gate: make(chan struct{}), started: make(chan string, 8)}
	r, st, gate, job := windDownHarness(t, mail)
	ctx := context.Background()

	require.Equal(t, "a@x.com", <-mail.started)
	_, err := r.Control(ctx, job.ID, ActionPause)
	require.NoError(t, err)
	mail.gate <- struct{}{}

	// The loop is now blocked inside its pause-checkpoint write.
	<-gate.entered
	res, err := r.Control(ctx, job.ID, ActionResume)
	require.NoError(t, err)
	assert.Equal(t, models.StatusRunning, res.Status)
	close(gate.release)

	require.Equal(t, "b@x.com", <-mail.started)
	mail.gate <- struct{}{}

	final := waitForStatus(t, st, job.ID, models.StatusCompleted)
	assert.Equal(t, 2, final.ProcessedEmails)
	assert.Equal(t, []string{"a@x.com", "b@x.com"}, mail.callLog())
}

// A stop in the same wind-down window is confirmed by the exiting loop.
func TestStopDuringPauseWindDown(t *testing.T) {
	mail := &fakeMail{gate: make(chan struct{}), started: make(chan string, 8)}
	r, st, gate, job := windDownHarness(t, mail)
	ctx := context.Background()

	require.Equal(t, "a@x.com", <-mail.started)
	_, err := r.Control(ctx, job.ID, ActionPause)
	require.NoError(t, err)
	mail.gate <- struct{}{}

	<-gate.entered
	res, err := r.Control(ctx, job.ID, ActionStop)
	require.NoError(t, err)
	assert.Equal(t, models.StatusStopped, res.Status)
	close(gate.release)

	final := waitForStatus(t, st, job.ID, models.StatusStopped)
	assert.Equal(t, 1, final.ProcessedEmails)
	require.NotNil(t, final.CompletedAt)
	assert.Equal(t, 0, r.Registry().Len())
	assert.Equal(t, []string{"a@x.com"}, mail.callLog(), "no item processed after stop")
}

func TestControlUnknownJob(t *testing.T) {
	r, _ := newHarness(t, &fakeMail{})
	_, err := r.Control(context.Background(), "nope", ActionPause)
	assert.ErrorIs(t, err, ErrJobNotFound)
}

func TestControlUnknownAction(t *testing.T) {
	mail := &fakeMail{}
	r, st := newHarness(t, mail)
	job := startJob(t, r, st, []string{"a@x.com"}, 0)
	waitForStatus(t, st, job.ID, models.StatusCompleted)

	_, err := r.Control(context.Background(), job.ID, "restart")
	assert.ErrorIs(t, err, ErrUnknownAction)
}

// A paused job whose context is gone (process restart) cannot be resumed.
func TestResumeWithoutContextFails(t *testing.T) {
	r, st := newHarness(t, &fakeMail{})
	job := st.CreateImportJob("acct-1", 3)
	one := 1
	require.NoError(t, st.AdvanceImportJob(job.ID, models.StatusPaused, &one, &models.ImportLogEntry{Email: "a@x.com", Status: models.LogSuccess}))

	_, err := r.Control(context.Background(), job.ID, ActionResume)
	assert.ErrorIs(t, err, ErrContextLost)
}

func TestStartUnknownJob(t *testing.T) {
	r, _ := newHarness(t, &fakeMail{})
	err := r.Start(StartParams{JobID: "nope", Emails: []string{"a@x.com"}})
	assert.ErrorIs(t, err, ErrJobNotFound)
}

func TestRegisterTwiceFails(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register("j1", &Context{}))
	assert.ErrorIs(t, reg.Register("j1", &Context{}), ErrContextExists)

	reg.Discard("j1")
	assert.NoError(t, reg.Register("j1", &Context{}))
}

// Invariants hold at every observation point while jobs run concurrently.
func TestInvariantsUnderConcurrentJobs(t *testing.T) {
	mail := &fakeMail{}
	r, st := newHarness(t, mail)

	emails := make([]string, 50)
	for i := range emails {
		emails[i] = "user" + string(rune('a'+i%26)) + "@x.com"
	}

	jobA := startJob(t, r, st, emails, 0)
	jobB := startJob(t, r, st, emails, 0)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			for _, id := range []string{jobA.ID, jobB.ID} {
				job, ok := st.ImportJob(id)
				if !ok {
					t.Error("job disappeared")
					return
				}
				if len(job.Logs) != job.ProcessedEmails || job.ProcessedEmails > job.TotalEmails {
					t.Errorf("invariant violated: logs=%d processed=%d total=%d", len(job.Logs), job.ProcessedEmails, job.TotalEmails)
					return
				}
				if job.Status == models.StatusCompleted && job.ProcessedEmails != job.TotalEmails {
					t.Errorf("completed with %d of %d processed", job.ProcessedEmails, job.TotalEmails)
					return
				}
			}
			a, _ := st.ImportJob(jobA.ID)
			b, _ := st.ImportJob(jobB.ID)
			if a.Status == models.StatusCompleted && b.Status == models.StatusCompleted {
				return
			}
		}
	}()

	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("jobs did not finish")
	}

	for _, id := range []string{jobA.ID, jobB.ID} {
		final, _ := st.ImportJob(id)
		assert.Equal(t, len(emails), final.ProcessedEmails)
		for i, entry := range final.Logs {
			assert.Equal(t, emails[i], entry.Email, "log order matches input order")
		}
	}
}

// The contact recorder mirrors only successful imports.
func TestContactRecorderCalledOnSuccessOnly(t *testing.T) {
	mail := &fakeMail{failFor: map[string]error{"b@x.com": &apiError{msg: "bad"}}}
	rec := &fakeRecorder{}
	st := store.NewMemoryStore()
	r := New(st, mail, rec, NewRegistry())

	job := st.CreateImportJob("acct-1", 2)
	require.NoError(t, r.Start(StartParams{JobID: job.ID, AccountID: "acct-1", APIKey: "k", Emails: []string{"a@x.com", "b@x.com"}}))
	waitForStatus(t, st, job.ID, models.StatusCompleted)

	assert.Equal(t, []string{"a@x.com"}, rec.recorded())
}

type fakeRecorder struct {
	mu     sync.Mutex
	emails []string
}

func (f *fakeRecorder) CreateContact(ctx context.Context, email, accountID string) (models.Contact, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.emails = append(f.emails, email)
	return models.Contact{Email: email, AccountID: accountID}, nil
}

func (f *fakeRecorder) recorded() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.emails))
	copy(out, f.emails)
	return out
}
