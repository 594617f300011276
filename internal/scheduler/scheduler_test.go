package scheduler

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TobiSchelling/trendpulse/internal/database"
	"github.com/TobiSchelling/trendpulse/internal/topic"
)

type memLister struct {
	mu      sync.Mutex
	streams []database.Stream
}

func (l *memLister) ListStreams(context.Context) ([]database.Stream, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]database.Stream(nil), l.streams...), nil
}

func (l *memLister) set(streams ...database.Stream) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.streams = streams
}

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
	return c.t
}

// recorder is a job that counts runs per stream and optionally blocks
// until released.
type recorder struct {
	mu        sync.Mutex
	runs      map[int64]int
	active    int
	maxActive int
	block     chan struct{}
	fail      func(id int64) error
}

func newRecorder() *recorder {
	return &recorder{runs: make(map[int64]int)}
}

func (r *recorder) job(_ context.Context, id int64) error {
	r.mu.Lock()
	r.active++
	if r.active > r.maxActive {
		r.maxActive = r.active
	}
	block := r.block
	r.mu.Unlock()

	if block != nil {
		<-block
	}

	r.mu.Lock()
	r.active--
	r.runs[id]++
	fail := r.fail
	r.mu.Unlock()

	if fail != nil {
		return fail(id)
	}
	return nil
}

func (r *recorder) count(id int64) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.runs[id]
}

func (r *recorder) total() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, c := range r.runs {
		n += c
	}
	return n
}

func stream(id int64, f topic.Frequency) database.Stream {
	return database.Stream{ID: id, Query: "q", Frequency: f}
}

type harness struct {
	s     *Scheduler
	clock *clock
	rec   *recorder
	list  *memLister
}

func startHarness(t *testing.T, opts Options, streams ...database.Stream) *harness {
	t.Helper()
	h := &harness{
		clock: &clock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)},
		rec:   newRecorder(),
		list:  &memLister{streams: streams},
	}
	// Tests drive fire directly.
	if opts.Tick == 0 {
		opts.Tick = time.Hour
	}
	h.s = New(h.list, h.rec.job, opts)
	h.s.now = h.clock.Now
	require.NoError(t, h.s.Start(context.Background()))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		h.s.Shutdown(ctx)
	})
	return h
}

const settle = 100 * time.Millisecond

// waitIdle waits until no run is in flight, so a new submission is not
// skipped as a duplicate.
func (h *harness) waitIdle(t *testing.T) {
	t.Helper()
	require.Eventually(t, func() bool {
		h.s.mu.Lock()
		defer h.s.mu.Unlock()
		return len(h.s.inFlight) == 0
	}, time.Second, 5*time.Millisecond)
}

func TestStartRegistersWithoutRunning(t *testing.T) {
	h := startHarness(t, Options{}, stream(1, topic.Hourly), stream(2, topic.Weekly))
	start := h.clock.Now()

	assert.Equal(t, 2, h.s.Len())
	next, ok := h.s.Next(1)
	require.True(t, ok)
	assert.Equal(t, start, next, "never refreshed, due at once")
	next, _ = h.s.Next(2)
	assert.Equal(t, start, next)
	assert.Never(t, func() bool { return h.rec.total() > 0 }, settle, 10*time.Millisecond)

	h.s.fire(start)
	require.Eventually(t, func() bool {
		return h.rec.count(1) == 1 && h.rec.count(2) == 1
	}, time.Second, 5*time.Millisecond)
	next, _ = h.s.Next(1)
	assert.Equal(t, start.Add(time.Hour), next)
	next, _ = h.s.Next(2)
	assert.Equal(t, start.Add(7*24*time.Hour), next)
}

func TestStartCatchesUpOverdueStreams(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	overdue := base.Add(-2 * time.Hour)
	recent := base.Add(-30 * time.Minute)
	a, b := stream(1, topic.Hourly), stream(2, topic.Hourly)
	a.LastUpdated = &overdue
	b.LastUpdated = &recent

	h := startHarness(t, Options{}, a, b)
	next, _ := h.s.Next(1)
	assert.Equal(t, base, next)
	next, _ = h.s.Next(2)
	assert.Equal(t, base.Add(30*time.Minute), next)

	h.s.fire(h.clock.Now())
	require.Eventually(t, func() bool { return h.rec.count(1) == 1 }, time.Second, 5*time.Millisecond)
	assert.Zero(t, h.rec.count(2))
}

func TestScheduleRunsImmediately(t *testing.T) {
	h := startHarness(t, Options{})
	h.s.Schedule(stream(7, topic.Daily))

	require.Eventually(t, func() bool { return h.rec.count(7) == 1 }, time.Second, 5*time.Millisecond)
	next, ok := h.s.Next(7)
	require.True(t, ok)
	assert.Equal(t, h.clock.Now().Add(24*time.Hour), next, "immediate run leaves the trigger alone")
}

func TestScheduleTwiceKeepsOneTrigger(t *testing.T) {
	h := startHarness(t, Options{})
	release := make(chan struct{})
	h.rec.block = release
	st := stream(3, topic.Hourly)

	h.s.Schedule(st)
	h.s.Schedule(st)
	close(release)
	h.waitIdle(t)

	assert.Equal(t, 1, h.s.Len())
	assert.Equal(t, 1, h.rec.count(3), "second immediate run skipped while the first is in flight")

	// One interval later the stream fires once, not once per Schedule call.
	now := h.clock.Advance(time.Hour)
	h.s.fire(now)
	require.Eventually(t, func() bool { return h.rec.count(3) == 2 }, time.Second, 5*time.Millisecond)
	assert.Never(t, func() bool { return h.rec.count(3) > 2 }, settle, 10*time.Millisecond)
	next, _ := h.s.Next(3)
	assert.Equal(t, now.Add(time.Hour), next)
}

func TestRescheduleReplacesTrigger(t *testing.T) {
	h := startHarness(t, Options{})
	st := stream(3, topic.Hourly)

	h.s.Schedule(st)
	require.Eventually(t, func() bool { return h.rec.count(3) == 1 }, time.Second, 5*time.Millisecond)
	h.waitIdle(t)
	h.s.Reschedule(st)
	require.Eventually(t, func() bool { return h.rec.count(3) == 2 }, time.Second, 5*time.Millisecond)
	h.waitIdle(t)
	assert.Equal(t, 1, h.s.Len())

	// One interval later exactly one recurring run fires.
	now := h.clock.Advance(time.Hour)
	h.s.fire(now)
	h.s.fire(now)
	require.Eventually(t, func() bool { return h.rec.count(3) == 3 }, time.Second, 5*time.Millisecond)
	assert.Never(t, func() bool { return h.rec.count(3) > 3 }, settle, 10*time.Millisecond)
}

func TestRemoveStopsRecurringRuns(t *testing.T) {
	h := startHarness(t, Options{}, stream(1, topic.Hourly))

	h.s.Remove(1)
	assert.Zero(t, h.s.Len())
	_, ok := h.s.Next(1)
	assert.False(t, ok)

	h.s.fire(h.clock.Advance(48 * time.Hour))
	assert.Never(t, func() bool { return h.rec.total() > 0 }, settle, 10*time.Millisecond)
}

func TestRemoveThenScheduleUsesNewTrigger(t *testing.T) {
	h := startHarness(t, Options{}, stream(1, topic.Hourly))

	h.clock.Advance(20 * time.Minute)
	h.s.Remove(1)
	h.s.Schedule(stream(1, topic.Daily))

	next, ok := h.s.Next(1)
	require.True(t, ok)
	assert.Equal(t, h.clock.Now().Add(24*time.Hour), next)
	require.Eventually(t, func() bool { return h.rec.count(1) == 1 }, time.Second, 5*time.Millisecond)
	h.waitIdle(t)

	// The old hourly trigger would have been due by now.
	h.s.fire(h.clock.Advance(time.Hour))
	assert.Never(t, func() bool { return h.rec.count(1) > 1 }, settle, 10*time.Millisecond)
}

func TestSingleFlightPerStream(t *testing.T) {
	h := startHarness(t, Options{})
	h.rec.block = make(chan struct{})

	h.s.Schedule(stream(1, topic.Hourly))
	require.Eventually(t, func() bool {
		h.rec.mu.Lock()
		defer h.rec.mu.Unlock()
		return h.rec.active == 1
	}, time.Second, 5*time.Millisecond)

	// Due while the first run is still going.
	h.s.fire(h.clock.Advance(time.Hour))
	close(h.rec.block)

	require.Eventually(t, func() bool { return h.rec.count(1) == 1 }, time.Second, 5*time.Millisecond)
	assert.Never(t, func() bool { return h.rec.count(1) > 1 }, settle, 10*time.Millisecond)

	next, _ := h.s.Next(1)
	assert.Equal(t, h.clock.Now().Add(time.Hour), next, "skipped run still re-arms")
}

func TestWorkersBoundConcurrency(t *testing.T) {
	var streams []database.Stream
	for id := int64(1); id <= 5; id++ {
		streams = append(streams, stream(id, topic.Hourly))
	}
	h := startHarness(t, Options{Workers: 2}, streams...)
	h.rec.block = make(chan struct{})

	h.s.fire(h.clock.Advance(time.Hour))
	require.Eventually(t, func() bool {
		h.rec.mu.Lock()
		defer h.rec.mu.Unlock()
		return h.rec.active == 2
	}, time.Second, 5*time.Millisecond)
	close(h.rec.block)

	require.Eventually(t, func() bool { return h.rec.total() == 5 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 2, h.rec.maxActive)
}

func TestFailuresDoNotStopTheLoop(t *testing.T) {
	h := startHarness(t, Options{}, stream(1, topic.Hourly), stream(2, topic.Hourly))
	h.rec.fail = func(id int64) error {
		if id == 1 {
			panic("boom")
		}
		return errors.New("upstream down")
	}

	h.s.fire(h.clock.Advance(time.Hour))
	require.Eventually(t, func() bool { return h.rec.total() == 2 }, time.Second, 5*time.Millisecond)
	h.waitIdle(t)

	h.s.fire(h.clock.Advance(time.Hour))
	require.Eventually(t, func() bool { return h.rec.total() == 4 }, time.Second, 5*time.Millisecond)
}

func TestShutdownWaitsForRunningJobs(t *testing.T) {
	h := startHarness(t, Options{})
	h.rec.block = make(chan struct{})
	h.s.Schedule(stream(1, topic.Hourly))

	require.Eventually(t, func() bool {
		h.rec.mu.Lock()
		defer h.rec.mu.Unlock()
		return h.rec.active == 1
	}, time.Second, 5*time.Millisecond)

	go func() {
		time.Sleep(50 * time.Millisecond)
		close(h.rec.block)
	}()
	require.NoError(t, h.s.Shutdown(context.Background()))
	assert.Equal(t, 1, h.rec.count(1))

	// Stopped schedulers accept triggers but run nothing.
	h.s.Schedule(stream(2, topic.Hourly))
	assert.Never(t, func() bool { return h.rec.count(2) > 0 }, settle, 10*time.Millisecond)
}

func TestShutdownIsBounded(t *testing.T) {
	h := startHarness(t, Options{})
	block := make(chan struct{})
	h.rec.block = block
	defer close(block)
	h.s.Schedule(stream(1, topic.Hourly))

	require.Eventually(t, func() bool {
		h.rec.mu.Lock()
		defer h.rec.mu.Unlock()
		return h.rec.active == 1
	}, time.Second, 5*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := h.s.Shutdown(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestStartTwiceFails(t *testing.T) {
	h := startHarness(t, Options{})
	assert.Error(t, h.s.Start(context.Background()))
}

func TestReconcile(t *testing.T) {
	h := startHarness(t, Options{}, stream(1, topic.Hourly), stream(2, topic.Hourly))

	h.list.set(stream(2, topic.Weekly), stream(3, topic.Daily))
	require.NoError(t, h.s.Reconcile(context.Background()))

	assert.Equal(t, 2, h.s.Len())
	_, ok := h.s.Next(1)
	assert.False(t, ok, "deleted stream removed")
	next, _ := h.s.Next(2)
	assert.Equal(t, h.clock.Now().Add(7*24*time.Hour), next, "frequency change rescheduled")

	require.Eventually(t, func() bool {
		return h.rec.count(2) == 1 && h.rec.count(3) == 1
	}, time.Second, 5*time.Millisecond)
	assert.Zero(t, h.rec.count(1))

	// Nothing changed, nothing runs.
	require.NoError(t, h.s.Reconcile(context.Background()))
	assert.Never(t, func() bool { return h.rec.total() > 2 }, settle, 10*time.Millisecond)
}

func TestWatchReconcilesOnDatabaseWrite(t *testing.T) {
	h := startHarness(t, Options{Debounce: 10 * time.Millisecond})
	dbPath := filepath.Join(t.TempDir(), "trendpulse.db")
	require.NoError(t, os.WriteFile(dbPath, nil, 0o644))

	ctx, cancel := context.WithCancel(context.Background())
	watchDone := make(chan error, 1)
	go func() { watchDone <- h.s.Watch(ctx, dbPath, time.Hour) }()

	h.list.set(stream(9, topic.Daily))
	require.Eventually(t, func() bool {
		// Keep writing until the watcher is registered and notices.
		_ = os.WriteFile(dbPath+"-wal", []byte("x"), 0o644)
		return h.rec.count(9) == 1
	}, 5*time.Second, 20*time.Millisecond)
	assert.Equal(t, 1, h.s.Len())

	cancel()
	select {
	case err := <-watchDone:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("watch did not return after cancel")
	}
}
