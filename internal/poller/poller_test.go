package poller

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/cartella-shop/cartella/internal/domain"
	"github.com/cartella-shop/cartella/internal/gateway"
)

// ─── Fakes ──────────────────────────────────────────────────────────────────

// fakeClock is a manually advanced clock.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

// scriptedSource returns canned responses in order, repeating the last.
type scriptedSource struct {
	mu        sync.Mutex
	responses []response
	calls     int
}

type response struct {
	status domain.IngestionStatus
	err    error
}

func (s *scriptedSource) GetEntryStatus(ctx context.Context, remoteID string) (domain.IngestionStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.calls
	if i >= len(s.responses) {
		i = len(s.responses) - 1
	}
	s.calls++
	r := s.responses[i]
	return r.status, r.err
}

func (s *scriptedSource) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// recordingStore captures the final status per entry.
type recordingStore struct {
	mu       sync.Mutex
	statuses map[string]domain.SyncStatus
}

func newRecordingStore() *recordingStore {
	return &recordingStore{statuses: make(map[string]domain.SyncStatus)}
}

func (r *recordingStore) SetStatus(ctx context.Context, localID string, status domain.SyncStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statuses[localID] = status
	return nil
}

func (r *recordingStore) get(localID string) (domain.SyncStatus, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.statuses[localID]
	return s, ok
}

func testPoller(clock *fakeClock, source StatusSource, store EntryStore, mutate func(*Config)) *Poller {
	cfg := DefaultConfig()
	cfg.InitialDelay = 5 * time.Second
	cfg.MaxDelay = time.Hour // Keep backoff growth visible in tests
	cfg.Now = clock.Now
	if mutate != nil {
		mutate(&cfg)
	}
	return New(cfg, source, store)
}

// step advances the clock past every pending task and processes them.
func step(p *Poller, clock *fakeClock, d time.Duration) {
	clock.Advance(d)
	p.pollDue(context.Background())
}

// ─── Tests ──────────────────────────────────────────────────────────────────

func TestTrack_CoalescesDuplicates(t *testing.T) {
	clock := newFakeClock()
	p := testPoller(clock, &scriptedSource{responses: []response{{status: domain.IngestProcessing}}}, newRecordingStore(), nil)

	p.Track("kb-1", "prod-1")
	p.Track("kb-1", "prod-1")
	p.Track("kb-1", "prod-1")

	if got := p.ActiveCount(); got != 1 {
		t.Errorf("ActiveCount = %d, want 1 (duplicates coalesced)", got)
	}
}

func TestPoll_ReadyMarksSynced(t *testing.T) {
	clock := newFakeClock()
	store := newRecordingStore()
	src := &scriptedSource{responses: []response{{status: domain.IngestReady}}}
	p := testPoller(clock, src, store, nil)

	p.Track("kb-1", "prod-1")
	step(p, clock, 5*time.Second)

	if got, ok := store.get("prod-1"); !ok || got != domain.SyncSynced {
		t.Errorf("entry status = %v (set=%v), want SYNCED", got, ok)
	}
	if p.ActiveCount() != 0 {
		t.Error("terminal task not removed")
	}
}

func TestPoll_UnprocessableMarksError(t *testing.T) {
	clock := newFakeClock()
	store := newRecordingStore()
	src := &scriptedSource{responses: []response{
		{status: domain.IngestProcessing},
		{status: domain.IngestUnprocessable},
	}}
	p := testPoller(clock, src, store, nil)

	p.Track("kb-1", "doc-1")
	step(p, clock, 5*time.Second)  // processing
	step(p, clock, 10*time.Second) // unprocessable

	if got, _ := store.get("doc-1"); got != domain.SyncError {
		t.Errorf("entry status = %s, want ERROR", got)
	}
	if p.ActiveCount() != 0 {
		t.Error("terminal task not removed")
	}
}

// Rate-limited 4 times then Ready. The delay must grow
// strictly on every rate-limited response and the task must end Ready
// with no error surfaced.
func TestPoll_RateLimitedBackoffThenReady(t *testing.T) {
	clock := newFakeClock()
	store := newRecordingStore()
	rl := response{err: &gateway.RemoteError{Op: "entry_status", Outcome: gateway.OutcomeRateLimited, StatusCode: 429}}
	src := &scriptedSource{responses: []response{rl, rl, rl, rl, {status: domain.IngestReady}}}
	p := testPoller(clock, src, store, nil)

	p.Track("kb-1", "doc-1")

	var delays []time.Duration
	for i := 0; i < 4; i++ {
		p.mu.Lock()
		task := p.tasks["kb-1"]
		wait := task.NextPollAt.Sub(clock.Now())
		p.mu.Unlock()
		step(p, clock, wait)
		p.mu.Lock()
		delays = append(delays, p.tasks["kb-1"].CurrentDelay)
		p.mu.Unlock()
	}

	for i := 1; i < len(delays); i++ {
		if delays[i] <= delays[i-1] {
			t.Errorf("delay did not strictly increase on rate limit: %v", delays)
			break
		}
	}

	// Final poll: Ready.
	p.mu.Lock()
	wait := p.tasks["kb-1"].NextPollAt.Sub(clock.Now())
	p.mu.Unlock()
	step(p, clock, wait)

	if got, _ := store.get("doc-1"); got != domain.SyncSynced {
		t.Errorf("entry status = %s, want SYNCED", got)
	}
	if p.ActiveCount() != 0 {
		t.Error("task still active after terminal status")
	}
}

func TestPoll_RateLimitBacksOffHarderThanTransient(t *testing.T) {
	clock := newFakeClock()
	store := newRecordingStore()

	run := func(errOutcome gateway.Outcome) time.Duration {
		src := &scriptedSource{responses: []response{
			{err: &gateway.RemoteError{Op: "entry_status", Outcome: errOutcome}},
		}}
		p := testPoller(clock, src, store, nil)
		p.Track("kb-x", "doc-x")
		step(p, clock, 5*time.Second)
		p.mu.Lock()
		defer p.mu.Unlock()
		return p.tasks["kb-x"].CurrentDelay
	}

	transient := run(gateway.OutcomeServerError)
	limited := run(gateway.OutcomeRateLimited)
	if limited <= transient {
		t.Errorf("rate-limited delay %v not larger than transient delay %v", limited, transient)
	}
}

// A task that never reaches a terminal status self-terminates within
// the attempt ceiling and marks the entry Error.
func TestPoll_ExhaustionTerminates(t *testing.T) {
	clock := newFakeClock()
	store := newRecordingStore()
	src := &scriptedSource{responses: []response{{status: domain.IngestProcessing}}}
	p := testPoller(clock, src, store, func(c *Config) { c.MaxAttempts = 5 })

	p.Track("kb-1", "doc-1")
	for i := 0; i < 10; i++ {
		step(p, clock, time.Hour) // Well past any backoff
		if p.ActiveCount() == 0 {
			break
		}
	}

	if p.ActiveCount() != 0 {
		t.Fatal("task never self-terminated")
	}
	if src.callCount() > 5 {
		t.Errorf("polled %d times, budget was 5", src.callCount())
	}
	if got, _ := store.get("doc-1"); got != domain.SyncError {
		t.Errorf("entry status = %s, want ERROR after exhaustion", got)
	}
}

func TestPoll_UnrecoverableStopsImmediately(t *testing.T) {
	clock := newFakeClock()
	store := newRecordingStore()
	src := &scriptedSource{responses: []response{
		{err: &gateway.RemoteError{Op: "entry_status", Outcome: gateway.OutcomeClientError, StatusCode: 404}},
	}}
	p := testPoller(clock, src, store, nil)

	p.Track("kb-1", "doc-1")
	step(p, clock, 5*time.Second)

	if got, _ := store.get("doc-1"); got != domain.SyncError {
		t.Errorf("entry status = %s, want ERROR", got)
	}
	if p.ActiveCount() != 0 {
		t.Error("unrecoverable task not removed")
	}
	if src.callCount() != 1 {
		t.Errorf("polled %d times after unrecoverable error, want 1", src.callCount())
	}
}

// Cancellation is observed at the next wake-up: the source is never
// queried again and no status is written.
func TestCancel_ObservedAtNextWake(t *testing.T) {
	clock := newFakeClock()
	store := newRecordingStore()
	src := &scriptedSource{responses: []response{{status: domain.IngestProcessing}}}
	p := testPoller(clock, src, store, nil)

	p.Track("kb-1", "doc-1")
	p.Cancel("kb-1")

	step(p, clock, time.Hour)

	if p.ActiveCount() != 0 {
		t.Error("cancelled task still tracked")
	}
	if src.callCount() != 0 {
		t.Errorf("cancelled task was polled %d times, want 0", src.callCount())
	}
	if _, ok := store.get("doc-1"); ok {
		t.Error("cancelled task wrote a status")
	}
}

func TestCancel_UnknownRemoteIsNoop(t *testing.T) {
	clock := newFakeClock()
	p := testPoller(clock, &scriptedSource{responses: []response{{status: domain.IngestReady}}}, newRecordingStore(), nil)
	p.Cancel("never-tracked") // Must not panic or add state
	if p.ActiveCount() != 0 {
		t.Error("Cancel created a task")
	}
}

// Run respects context cancellation.
func TestRun_StopsOnContextCancel(t *testing.T) {
	clock := newFakeClock()
	p := testPoller(clock, &scriptedSource{responses: []response{{status: domain.IngestProcessing}}}, newRecordingStore(),
		func(c *Config) { c.IdleWait = 10 * time.Millisecond })

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.Run(ctx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop after context cancellation")
	}
}
