// Package poller tracks asynchronous ingestion of file-backed knowledge
// entries. The remote service indexes uploads on its own schedule with
// no completion signal, so each entry gets a bounded, backoff-scheduled
// polling task that ends in a terminal status or an exhausted budget.
//
// One scheduler goroutine drives every task; per-task state (attempt
// count, next-fire time, current delay) lives in an explicit struct so
// backoff and cancellation are testable without timing the real clock.
// At most one task exists per remote ID — duplicate submissions coalesce.
package poller

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/cartella-shop/cartella/internal/domain"
	"github.com/cartella-shop/cartella/internal/gateway"
	"github.com/cartella-shop/cartella/internal/infra/observability"
)

// StatusSource queries the remote ingestion state of an entry.
// *gateway.Client implements it.
type StatusSource interface {
	GetEntryStatus(ctx context.Context, remoteID string) (domain.IngestionStatus, error)
}

// EntryStore receives the final sync status. *sqlite.DB implements it.
type EntryStore interface {
	SetStatus(ctx context.Context, localID string, status domain.SyncStatus) error
}

// Config controls polling cadence and budget.
type Config struct {
	// InitialDelay is the wait before the first status poll.
	InitialDelay time.Duration

	// MaxDelay caps the backoff growth.
	MaxDelay time.Duration

	// BackoffFactor multiplies the delay after an in-flight status or
	// an ordinary transient failure.
	BackoffFactor float64

	// RateLimitFactor multiplies the delay after a 429 — deliberately
	// larger, the endpoint is telling us to go away.
	RateLimitFactor float64

	// MaxAttempts is the retry budget before the task self-terminates
	// and marks the entry Error.
	MaxAttempts int

	// IdleWait bounds the scheduler's sleep when no task is due.
	IdleWait time.Duration

	// Now is an injectable clock for testing.
	Now func() time.Time
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		InitialDelay:    5 * time.Second,
		MaxDelay:        5 * time.Minute,
		BackoffFactor:   2.0,
		RateLimitFactor: 3.0,
		MaxAttempts:     20,
		IdleWait:        time.Minute,
		Now:             time.Now,
	}
}

// Task is the per-entry polling state.
type Task struct {
	RemoteID     string
	LocalID      string
	Attempt      int
	NextPollAt   time.Time
	CurrentDelay time.Duration
	cancelled    bool
}

// Poller is the ingestion status poller.
type Poller struct {
	mu      sync.Mutex
	cfg     Config
	source  StatusSource
	entries EntryStore
	tasks   map[string]*Task
	wake    chan struct{}
}

// New creates a poller. Call Run to start the scheduler.
func New(cfg Config, source StatusSource, entries EntryStore) *Poller {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.BackoffFactor < 1 {
		cfg.BackoffFactor = 2.0
	}
	if cfg.RateLimitFactor < 1 {
		cfg.RateLimitFactor = 3.0
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 20
	}
	if cfg.IdleWait <= 0 {
		cfg.IdleWait = time.Minute
	}
	return &Poller{
		cfg:     cfg,
		source:  source,
		entries: entries,
		tasks:   make(map[string]*Task),
		wake:    make(chan struct{}, 1),
	}
}

// ─── Submission ─────────────────────────────────────────────────────────────

// Track starts polling the given remote entry. A task already tracking
// the remote ID absorbs the call — duplicates are coalesced.
func (p *Poller) Track(remoteID, localID string) {
	p.mu.Lock()
	if _, exists := p.tasks[remoteID]; exists {
		p.mu.Unlock()
		return
	}
	p.tasks[remoteID] = &Task{
		RemoteID:     remoteID,
		LocalID:      localID,
		NextPollAt:   p.cfg.Now().Add(p.cfg.InitialDelay),
		CurrentDelay: p.cfg.InitialDelay,
	}
	p.mu.Unlock()

	observability.PollerActiveTasks.Inc()
	log.Printf("[poller] tracking %s (entry %s), first poll in %s", remoteID, localID, p.cfg.InitialDelay)
	p.kick()
}

// Cancel stops polling the remote entry. The cancellation is observed
// at the task's next scheduled wake-up, not preemptively.
func (p *Poller) Cancel(remoteID string) {
	p.mu.Lock()
	if t, ok := p.tasks[remoteID]; ok {
		t.cancelled = true
	}
	p.mu.Unlock()
	p.kick()
}

// ActiveCount returns the number of tracked tasks.
func (p *Poller) ActiveCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.tasks)
}

// kick nudges the scheduler without blocking.
func (p *Poller) kick() {
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

// ─── Scheduler ──────────────────────────────────────────────────────────────

// Run drives the polling loop until ctx is cancelled. Poll-interval
// waits are the only suspension points; no lock is held across a poll.
func (p *Poller) Run(ctx context.Context) {
	log.Printf("[poller] scheduler started")
	for {
		wait := p.nextWait()
		select {
		case <-ctx.Done():
			log.Printf("[poller] scheduler stopped: %v", ctx.Err())
			return
		case <-p.wake:
		case <-time.After(wait):
		}
		p.pollDue(ctx)
	}
}

// nextWait returns how long the scheduler should sleep: until the
// earliest due task, bounded by IdleWait.
func (p *Poller) nextWait() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()

	wait := p.cfg.IdleWait
	now := p.cfg.Now()
	for _, t := range p.tasks {
		d := t.NextPollAt.Sub(now)
		if d < 0 {
			d = 0
		}
		if d < wait {
			wait = d
		}
	}
	return wait
}

// pollDue processes every task whose next-fire time has arrived, and
// drops cancelled tasks.
func (p *Poller) pollDue(ctx context.Context) {
	now := p.cfg.Now()

	p.mu.Lock()
	var due []*Task
	for id, t := range p.tasks {
		if t.cancelled {
			delete(p.tasks, id)
			observability.PollerActiveTasks.Dec()
			log.Printf("[poller] task %s cancelled", id)
			continue
		}
		if !t.NextPollAt.After(now) {
			due = append(due, t)
		}
	}
	p.mu.Unlock()

	for _, t := range due {
		p.poll(ctx, t)
	}
}

// poll performs one status query and advances the task's state machine.
func (p *Poller) poll(ctx context.Context, t *Task) {
	status, err := p.source.GetEntryStatus(ctx, t.RemoteID)

	if err != nil {
		outcome := gateway.OutcomeOf(err)
		if !outcome.Transient() {
			// 4xx other than 429: the entry is gone or rejected; no
			// amount of waiting fixes that.
			observability.PollerPolls.WithLabelValues("unrecoverable").Inc()
			log.Printf("[poller] %s unrecoverable: %v", t.RemoteID, err)
			p.finish(ctx, t, domain.SyncError)
			return
		}

		factor := p.cfg.BackoffFactor
		result := "transient_error"
		if outcome == gateway.OutcomeRateLimited {
			factor = p.cfg.RateLimitFactor
			result = "rate_limited"
		}
		observability.PollerPolls.WithLabelValues(result).Inc()
		p.reschedule(t, factor)
		return
	}

	switch {
	case status == domain.IngestReady:
		observability.PollerPolls.WithLabelValues("ready").Inc()
		log.Printf("[poller] %s ready after %d attempts", t.RemoteID, t.Attempt+1)
		p.finish(ctx, t, domain.SyncSynced)
	case status == domain.IngestUnprocessable:
		observability.PollerPolls.WithLabelValues("unprocessable").Inc()
		log.Printf("[poller] %s unprocessable, operator attention needed", t.RemoteID)
		p.finish(ctx, t, domain.SyncError)
	default:
		observability.PollerPolls.WithLabelValues("in_flight").Inc()
		p.reschedule(t, p.cfg.BackoffFactor)
	}
}

// reschedule advances the backoff state, terminating the task if the
// attempt budget is spent.
func (p *Poller) reschedule(t *Task, factor float64) {
	t.Attempt++
	if t.Attempt >= p.cfg.MaxAttempts {
		observability.PollerExhausted.Inc()
		log.Printf("[poller] %s: %v after %d attempts", t.RemoteID, domain.ErrPollingExhausted, t.Attempt)
		p.finish(context.Background(), t, domain.SyncError)
		return
	}

	next := time.Duration(float64(t.CurrentDelay) * factor)
	if next > p.cfg.MaxDelay {
		next = p.cfg.MaxDelay
	}
	t.CurrentDelay = next

	p.mu.Lock()
	t.NextPollAt = p.cfg.Now().Add(next)
	p.mu.Unlock()
}

// finish records the terminal sync status and removes the task.
func (p *Poller) finish(ctx context.Context, t *Task, status domain.SyncStatus) {
	if err := p.entries.SetStatus(ctx, t.LocalID, status); err != nil {
		log.Printf("[poller] set status %s=%s: %v", t.LocalID, status, err)
	}

	p.mu.Lock()
	if _, ok := p.tasks[t.RemoteID]; ok {
		delete(p.tasks, t.RemoteID)
		observability.PollerActiveTasks.Dec()
	}
	p.mu.Unlock()
}
