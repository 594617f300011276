package llm

import (
	"context"
	"sync"
	"time"
)

// Window is a sliding-window rate limiter: at most limit calls start within
// any span. Safe for concurrent use; a waiting caller holds no lock.
type Window struct {
	mu      sync.Mutex
	limit   int
	span    time.Duration
	stamps  []time.Time
	retryAt time.Time

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// NewWindow returns a limiter allowing perMinute calls per minute.
func NewWindow(perMinute int) *Window {
	if perMinute <= 0 {
		perMinute = 1
	}
	return &Window{
		limit: perMinute,
		span:  time.Minute,
		now:   time.Now,
		sleep: sleepCtx,
	}
}

// Wait blocks until a call may start and records it. It returns early with
// ctx's error if ctx ends first.
func (w *Window) Wait(ctx context.Context) error {
	for {
		w.mu.Lock()
		now := w.now()
		expired := 0
		for expired < len(w.stamps) && now.Sub(w.stamps[expired]) >= w.span {
			expired++
		}
		w.stamps = w.stamps[expired:]

		var wait time.Duration
		switch {
		case now.Before(w.retryAt):
			wait = w.retryAt.Sub(now)
		case len(w.stamps) >= w.limit:
			wait = w.span - now.Sub(w.stamps[0])
		default:
			w.stamps = append(w.stamps, now)
			w.mu.Unlock()
			return nil
		}
		w.mu.Unlock()

		if err := w.sleep(ctx, wait); err != nil {
			return err
		}
	}
}

// Backoff holds every caller until d from now. Used when the API answers
// 429 with a Retry-After hint.
func (w *Window) Backoff(d time.Duration) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if until := w.now().Add(d); until.After(w.retryAt) {
		w.retryAt = until
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
