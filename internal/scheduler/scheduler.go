// Package scheduler fires stream refreshes on their recurring intervals
// from a single background loop.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/TobiSchelling/trendpulse/internal/database"
)

// Defaults for zero Options fields.
const (
	DefaultTick     = time.Second
	DefaultWorkers  = 4
	DefaultDebounce = 500 * time.Millisecond
)

// JobFunc refreshes one stream.
type JobFunc func(ctx context.Context, streamID int64) error

// Lister lists every known stream.
type Lister interface {
	ListStreams(ctx context.Context) ([]database.Stream, error)
}

// Options tune a Scheduler.
type Options struct {
	// Tick is how often the loop checks for due triggers.
	Tick time.Duration
	// Workers bounds how many jobs run at once.
	Workers int
	// Debounce delays a reconcile after database changes are seen.
	Debounce time.Duration
}

// trigger is the recurring schedule of one stream.
type trigger struct {
	interval time.Duration
	next     time.Time
}

// Scheduler owns the trigger table and the loop that services it. The
// zero value is not usable; call New.
type Scheduler struct {
	lister Lister
	job    JobFunc
	tick   time.Duration
	now    func() time.Time

	debounce time.Duration
	sem      chan struct{}

	mu       sync.Mutex
	triggers map[int64]*trigger
	inFlight map[int64]bool
	running  bool
	jobCtx   context.Context
	stopCh   chan struct{}
	loopDone chan struct{}
	wg       sync.WaitGroup
}

// New creates a stopped scheduler.
func New(lister Lister, job JobFunc, opts Options) *Scheduler {
	if opts.Tick <= 0 || opts.Tick > DefaultTick {
		opts.Tick = DefaultTick
	}
	if opts.Workers <= 0 {
		opts.Workers = DefaultWorkers
	}
	if opts.Debounce <= 0 {
		opts.Debounce = DefaultDebounce
	}
	return &Scheduler{
		lister:   lister,
		job:      job,
		tick:     opts.Tick,
		now:      time.Now,
		debounce: opts.Debounce,
		sem:      make(chan struct{}, opts.Workers),
		triggers: make(map[int64]*trigger),
		inFlight: make(map[int64]bool),
	}
}

// Start registers a trigger for every known stream and starts the loop.
// Existing streams are not run immediately. A stream that was never
// refreshed, or whose interval has already elapsed since its last refresh,
// fires on the first tick.
//
// Jobs run detached from ctx's cancellation; cancelling ctx stops the loop
// but lets running jobs finish.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return errors.New("scheduler already running")
	}
	s.mu.Unlock()

	streams, err := s.lister.ListStreams(ctx)
	if err != nil {
		return fmt.Errorf("loading streams: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return errors.New("scheduler already running")
	}
	now := s.now()
	for _, st := range streams {
		interval := st.Frequency.Interval()
		next := now
		if st.LastUpdated != nil {
			next = st.LastUpdated.Add(interval)
			if next.Before(now) {
				next = now
			}
		}
		s.triggers[st.ID] = &trigger{interval: interval, next: next}
	}

	s.running = true
	s.jobCtx = context.WithoutCancel(ctx)
	s.stopCh = make(chan struct{})
	s.loopDone = make(chan struct{})
	go s.loop(ctx, s.stopCh, s.loopDone)

	slog.Info("scheduler started", "streams", len(streams), "tick", s.tick, "workers", cap(s.sem))
	return nil
}

// Shutdown stops the loop and waits for running jobs until ctx is done.
// Jobs are never cancelled; when ctx expires first they are abandoned.
func (s *Scheduler) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	close(s.stopCh)
	loopDone := s.loopDone
	s.mu.Unlock()

	select {
	case <-loopDone:
	case <-ctx.Done():
		return fmt.Errorf("waiting for scheduler loop: %w", ctx.Err())
	}

	jobsDone := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(jobsDone)
	}()
	select {
	case <-jobsDone:
		slog.Info("scheduler stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for running jobs: %w", ctx.Err())
	}
}

// Schedule installs a fresh trigger for st, replacing any existing one, and
// submits one immediate run that leaves the trigger's schedule alone.
func (s *Scheduler) Schedule(st database.Stream) {
	interval := st.Frequency.Interval()

	s.mu.Lock()
	s.triggers[st.ID] = &trigger{interval: interval, next: s.now().Add(interval)}
	s.mu.Unlock()

	slog.Info("stream scheduled", "stream", st.ID, "interval", interval)
	s.submit(st.ID, "scheduled")
}

// Reschedule is Schedule; calling it repeatedly never leaves more than one
// trigger for st.
func (s *Scheduler) Reschedule(st database.Stream) {
	s.Schedule(st)
}

// Remove drops the trigger for streamID. A run already in progress
// finishes but is not repeated.
func (s *Scheduler) Remove(streamID int64) {
	s.mu.Lock()
	_, ok := s.triggers[streamID]
	delete(s.triggers, streamID)
	s.mu.Unlock()

	if ok {
		slog.Info("stream unscheduled", "stream", streamID)
	}
}

// Next returns when streamID is next due.
func (s *Scheduler) Next(streamID int64) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tr, ok := s.triggers[streamID]
	if !ok {
		return time.Time{}, false
	}
	return tr.next, true
}

// Len returns the number of registered triggers.
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.triggers)
}

// Reconcile aligns the trigger table with the stored streams: new streams
// are scheduled, streams whose frequency changed are rescheduled and
// deleted streams are removed.
func (s *Scheduler) Reconcile(ctx context.Context) error {
	streams, err := s.lister.ListStreams(ctx)
	if err != nil {
		return fmt.Errorf("listing streams: %w", err)
	}

	var changed []database.Stream
	seen := make(map[int64]bool, len(streams))

	s.mu.Lock()
	for _, st := range streams {
		seen[st.ID] = true
		tr, ok := s.triggers[st.ID]
		if !ok || tr.interval != st.Frequency.Interval() {
			changed = append(changed, st)
		}
	}
	var removed []int64
	for id := range s.triggers {
		if !seen[id] {
			removed = append(removed, id)
		}
	}
	s.mu.Unlock()

	for _, id := range removed {
		s.Remove(id)
	}
	for _, st := range changed {
		s.Schedule(st)
	}
	if len(changed) > 0 || len(removed) > 0 {
		slog.Debug("reconciled streams", "scheduled", len(changed), "removed", len(removed))
	}
	return nil
}

func (s *Scheduler) loop(ctx context.Context, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-ticker.C:
			s.fire(s.now())
		}
	}
}

// fire submits every trigger due at now and re-arms it.
func (s *Scheduler) fire(now time.Time) {
	var due []int64

	s.mu.Lock()
	for id, tr := range s.triggers {
		if now.Before(tr.next) {
			continue
		}
		tr.next = tr.next.Add(tr.interval)
		if !tr.next.After(now) {
			tr.next = now.Add(tr.interval)
		}
		due = append(due, id)
	}
	s.mu.Unlock()

	for _, id := range due {
		s.submit(id, "due")
	}
}

// submit hands one run of streamID to a worker. A stream that is already
// running is skipped.
func (s *Scheduler) submit(streamID int64, reason string) {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	if s.inFlight[streamID] {
		s.mu.Unlock()
		slog.Info("stream still refreshing, skipping run", "stream", streamID, "reason", reason)
		return
	}
	s.inFlight[streamID] = true
	s.wg.Add(1)
	ctx := s.jobCtx
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()
		defer func() {
			s.mu.Lock()
			delete(s.inFlight, streamID)
			s.mu.Unlock()
		}()

		s.sem <- struct{}{}
		defer func() { <-s.sem }()

		s.execute(ctx, streamID, reason)
	}()
}

// execute runs the job, containing failures and panics.
func (s *Scheduler) execute(ctx context.Context, streamID int64, reason string) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("refresh panicked", "stream", streamID, "panic", r)
		}
	}()

	start := time.Now()
	if err := s.job(ctx, streamID); err != nil {
		slog.Error("scheduled refresh failed", "stream", streamID, "reason", reason, "err", err)
		return
	}
	slog.Debug("scheduled refresh done", "stream", streamID, "reason", reason, "took", time.Since(start))
}
