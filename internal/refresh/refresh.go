// Package refresh runs one update of a topic stream: it assembles prior
// summaries into context, asks the search API for what is new, retries
// transient failures and records the result.
package refresh

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/TobiSchelling/trendpulse/internal/database"
	"github.com/TobiSchelling/trendpulse/internal/history"
	"github.com/TobiSchelling/trendpulse/internal/llm"
	"github.com/TobiSchelling/trendpulse/internal/tokens"
)

// Defaults for a Refresher built with New.
const (
	DefaultMaxAttempts = 3
	DefaultRetryDelay  = 5 * time.Second
)

// State is the progress of one run.
type State int

const (
	Pending State = iota
	InFlight
	Succeeded
	RetryableFailure
	FatalFailure
)

func (s State) String() string {
	switch s {
	case Pending:
		return "pending"
	case InFlight:
		return "in flight"
	case Succeeded:
		return "succeeded"
	case RetryableFailure:
		return "retryable failure"
	case FatalFailure:
		return "fatal failure"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transition follows s.
func (s State) Terminal() bool {
	return s == Succeeded || s == FatalFailure
}

// Store is the persistence a run needs. *database.Session implements it.
type Store interface {
	GetStream(ctx context.Context, id int64) (*database.Stream, error)
	RecentSummaries(ctx context.Context, streamID int64, limit int) ([]database.Summary, error)
	RecordSummary(ctx context.Context, sum *database.Summary, refreshedAt time.Time) error
	PruneSummaries(ctx context.Context, streamID int64, keep int) (int64, error)
	GetSummary(ctx context.Context, id int64) (*database.Summary, error)
	Close() error
}

// OpenFunc acquires a Store for the duration of one run.
type OpenFunc func(ctx context.Context) (Store, error)

// SessionOpener opens a dedicated database session per run.
func SessionOpener(db *database.DB) OpenFunc {
	return func(ctx context.Context) (Store, error) {
		s, err := db.Session(ctx)
		if err != nil {
			return nil, err
		}
		return s, nil
	}
}

// Outcome describes a finished run.
type Outcome struct {
	RunID    string
	StreamID int64
	State    State
	Attempts int
	Summary  *database.Summary // nil unless State is Succeeded
}

// Refresher performs refreshes. It is safe for concurrent use as long as
// its fields are not modified while runs are active.
type Refresher struct {
	open      OpenFunc
	searcher  llm.Searcher
	assembler *history.Assembler
	budgeter  *tokens.Budgeter

	MaxAttempts   int
	RetryDelay    time.Duration
	KeepSummaries int // 0 keeps every summary

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// New creates a Refresher with default retry settings.
func New(open OpenFunc, searcher llm.Searcher, assembler *history.Assembler) *Refresher {
	return &Refresher{
		open:        open,
		searcher:    searcher,
		assembler:   assembler,
		budgeter:    assembler.Budgeter,
		MaxAttempts: DefaultMaxAttempts,
		RetryDelay:  DefaultRetryDelay,
		now:         time.Now,
		sleep:       sleepCtx,
	}
}

// Run refreshes one stream. The summary and the stream's last_updated are
// written together or not at all; on failure neither changes.
func (r *Refresher) Run(ctx context.Context, streamID int64) (*Outcome, error) {
	out := &Outcome{RunID: newRunID(), StreamID: streamID, State: Pending}
	log := slog.With("stream", streamID, "run", out.RunID)

	store, err := r.open(ctx)
	if err != nil {
		out.State = FatalFailure
		return out, fmt.Errorf("opening store: %w", err)
	}
	defer store.Close()

	st, err := store.GetStream(ctx, streamID)
	if err != nil {
		out.State = FatalFailure
		return out, err
	}

	prior, err := r.assembleContext(ctx, store, st)
	if err != nil {
		out.State = FatalFailure
		return out, err
	}

	req := llm.Request{
		Query:       BuildQuery(st, prior != ""),
		Context:     prior,
		Model:       st.Model,
		Detail:      st.Detail,
		Recency:     st.Recency,
		Temperature: st.Temperature,
	}
	if st.SystemPrompt != nil {
		req.SystemPrompt = *st.SystemPrompt
	}
	log.Info("refreshing stream", "model", st.Model, "context_tokens", r.budgeter.Count(prior))

	res, err := r.retry(ctx, log, out, func() (*llm.Result, error) {
		return r.searcher.Search(ctx, req)
	})
	if err != nil {
		return out, fmt.Errorf("refreshing stream %d: %w", streamID, err)
	}

	answer := res.Answer
	if isEmptyAnswer(answer) {
		if prior == "" {
			out.State = FatalFailure
			return out, fmt.Errorf("refreshing stream %d: %w", streamID,
				&llm.Error{Kind: llm.KindProcessing, Err: errors.New("empty answer")})
		}
		log.Warn("empty answer, recording no new information")
		answer = llm.NoNewInfoMessage
	}

	sum := &database.Summary{
		StreamID:               streamID,
		Content:                answer,
		Sources:                res.Sources,
		Model:                  res.Model,
		RunID:                  out.RunID,
		PromptTokens:           res.Usage.PromptTokens,
		CompletionTokens:       res.Usage.CompletionTokens,
		TotalTokens:            res.Usage.TotalTokens,
		EstimatedContentTokens: r.budgeter.Count(answer),
	}
	if err := store.RecordSummary(ctx, sum, r.now()); err != nil {
		out.State = FatalFailure
		return out, fmt.Errorf("recording summary of stream %d: %w", streamID, err)
	}
	out.State = Succeeded
	out.Summary = sum
	log.Info("stream refreshed", "summary", sum.ID, "attempts", out.Attempts,
		"sources", len(sum.Sources), "tokens", sum.TotalTokens)

	if r.KeepSummaries > 0 {
		n, err := store.PruneSummaries(ctx, streamID, r.KeepSummaries)
		if err != nil {
			log.Warn("pruning summaries failed", "err", err)
		} else if n > 0 {
			log.Debug("pruned summaries", "removed", n)
		}
	}
	return out, nil
}

// FollowUp asks a question about an existing summary. Nothing is stored.
func (r *Refresher) FollowUp(ctx context.Context, summaryID int64, question string) (*llm.Result, error) {
	out := &Outcome{RunID: newRunID(), State: Pending}
	log := slog.With("summary", summaryID, "run", out.RunID)

	store, err := r.open(ctx)
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}
	sum, st, err := summaryWithStream(ctx, store, summaryID)
	store.Close()
	if err != nil {
		return nil, err
	}
	out.StreamID = sum.StreamID

	res, err := r.retry(ctx, log, out, func() (*llm.Result, error) {
		return r.searcher.FollowUp(ctx, st.Query, question, sum.Content)
	})
	if err != nil {
		return nil, fmt.Errorf("follow-up on summary %d: %w", summaryID, err)
	}
	return res, nil
}

func summaryWithStream(ctx context.Context, store Store, summaryID int64) (*database.Summary, *database.Stream, error) {
	sum, err := store.GetSummary(ctx, summaryID)
	if err != nil {
		return nil, nil, err
	}
	st, err := store.GetStream(ctx, sum.StreamID)
	if err != nil {
		return nil, nil, err
	}
	return sum, st, nil
}

// assembleContext fetches the history the stream's policy asks for and
// joins it within the token cap.
func (r *Refresher) assembleContext(ctx context.Context, store Store, st *database.Stream) (string, error) {
	n := r.assembler.FetchCount(st.ContextPolicy)
	if n == 0 {
		return "", nil
	}
	recent, err := store.RecentSummaries(ctx, st.ID, n)
	if err != nil {
		return "", fmt.Errorf("loading history of stream %d: %w", st.ID, err)
	}
	contents := make([]string, len(recent))
	for i, s := range recent {
		contents[i] = s.Content
	}
	return r.assembler.Assemble(contents, n), nil
}

// retry calls fn until it succeeds, fails with a non-retryable error or
// MaxAttempts is reached, updating out as it goes.
func (r *Refresher) retry(ctx context.Context, log *slog.Logger, out *Outcome, fn func() (*llm.Result, error)) (*llm.Result, error) {
	attempts := r.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}

	for {
		out.State = InFlight
		out.Attempts++
		res, err := fn()
		if err == nil {
			return res, nil
		}

		if !llm.IsRetryable(err) {
			out.State = FatalFailure
			log.Error("refresh failed", "attempt", out.Attempts, "err", err)
			return nil, err
		}
		if out.Attempts >= attempts {
			out.State = FatalFailure
			log.Error("refresh failed, attempts exhausted", "attempt", out.Attempts, "err", err)
			return nil, fmt.Errorf("after %d attempts: %w", out.Attempts, err)
		}

		out.State = RetryableFailure
		log.Warn("refresh attempt failed, retrying", "attempt", out.Attempts, "delay", r.RetryDelay, "err", err)
		if err := r.sleep(ctx, r.RetryDelay); err != nil {
			out.State = FatalFailure
			return nil, err
		}
	}
}

func newRunID() string {
	entropy := ulid.Monotonic(rand.Reader, 0)
	return ulid.MustNew(ulid.Timestamp(time.Now()), entropy).String()
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
