package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
)

var summaryColumns = []string{
	"id", "topic_stream_id", "content", "sources", "model", "run_id",
	"prompt_tokens", "completion_tokens", "total_tokens", "estimated_content_tokens", "created_at",
}

// newestFirst is the canonical summary read order.
const newestFirst = "created_at DESC, id DESC"

func scanSummary(row rowScanner) (*Summary, error) {
	var (
		s         Summary
		sources   *string
		model     *string
		createdAt string
	)
	if err := row.Scan(&s.ID, &s.StreamID, &s.Content, &sources, &model, &s.RunID,
		&s.PromptTokens, &s.CompletionTokens, &s.TotalTokens, &s.EstimatedContentTokens, &createdAt); err != nil {
		return nil, err
	}
	if model != nil {
		s.Model = *model
	}
	if sources != nil && *sources != "" {
		if err := json.Unmarshal([]byte(*sources), &s.Sources); err != nil {
			return nil, fmt.Errorf("summary %d sources: %w", s.ID, err)
		}
	}
	t, err := parseTime(createdAt)
	if err != nil {
		return nil, fmt.Errorf("summary %d created_at: %w", s.ID, err)
	}
	s.CreatedAt = t
	return &s, nil
}

func (s *store) querySummaries(ctx context.Context, b sq.SelectBuilder) ([]Summary, error) {
	query, args, err := b.ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var summaries []Summary
	for rows.Next() {
		sum, err := scanSummary(rows)
		if err != nil {
			return nil, err
		}
		summaries = append(summaries, *sum)
	}
	return summaries, rows.Err()
}

// RecentSummaries returns up to limit summaries of a stream, newest first.
func (s *store) RecentSummaries(ctx context.Context, streamID int64, limit int) ([]Summary, error) {
	if limit <= 0 {
		return nil, nil
	}
	return s.querySummaries(ctx, sq.Select(summaryColumns...).From("summaries").
		Where(sq.Eq{"topic_stream_id": streamID}).
		OrderBy(newestFirst).
		Limit(uint64(limit)))
}

// ListSummaries returns every summary of a stream, newest first.
func (s *store) ListSummaries(ctx context.Context, streamID int64) ([]Summary, error) {
	return s.querySummaries(ctx, sq.Select(summaryColumns...).From("summaries").
		Where(sq.Eq{"topic_stream_id": streamID}).
		OrderBy(newestFirst))
}

// GetSummary returns one summary or ErrNotFound.
func (s *store) GetSummary(ctx context.Context, id int64) (*Summary, error) {
	query, args, err := sq.Select(summaryColumns...).From("summaries").
		Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return nil, err
	}
	sum, err := scanSummary(s.q.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("summary %d: %w", id, ErrNotFound)
	}
	return sum, err
}

// RecordSummary stores the result of a refresh and sets the stream's
// last_updated to refreshedAt in one transaction. sum.ID and sum.CreatedAt
// are filled in.
func (s *store) RecordSummary(ctx context.Context, sum *Summary, refreshedAt time.Time) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx,
			"UPDATE topic_streams SET last_updated = ? WHERE id = ?",
			formatTime(refreshedAt), sum.StreamID,
		)
		if err != nil {
			return fmt.Errorf("updating last_updated of stream %d: %w", sum.StreamID, err)
		}
		if n, _ := result.RowsAffected(); n == 0 {
			return fmt.Errorf("stream %d: %w", sum.StreamID, ErrNotFound)
		}
		return insertSummary(ctx, tx, sum, refreshedAt)
	})
}

// AddSummary appends a summary without marking the stream refreshed.
func (s *store) AddSummary(ctx context.Context, sum *Summary) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		var exists int
		err := tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM topic_streams WHERE id = ?", sum.StreamID).Scan(&exists)
		if err != nil {
			return err
		}
		if exists == 0 {
			return fmt.Errorf("stream %d: %w", sum.StreamID, ErrNotFound)
		}
		return insertSummary(ctx, tx, sum, time.Now())
	})
}

// insertSummary writes sum with a creation time no earlier than the
// stream's newest summary, so history order survives clock steps.
func insertSummary(ctx context.Context, tx *sql.Tx, sum *Summary, at time.Time) error {
	var newest *string
	err := tx.QueryRowContext(ctx,
		"SELECT MAX(created_at) FROM summaries WHERE topic_stream_id = ?", sum.StreamID,
	).Scan(&newest)
	if err != nil {
		return fmt.Errorf("reading newest summary: %w", err)
	}
	if prev, err := parseNullTime(newest); err == nil && prev != nil && at.Before(*prev) {
		at = *prev
	}

	sources := sum.Sources
	if sources == nil {
		sources = []string{}
	}
	sourcesJSON, err := json.Marshal(sources)
	if err != nil {
		return err
	}

	query, args, err := sq.Insert("summaries").
		Columns("topic_stream_id", "content", "sources", "model", "run_id",
			"prompt_tokens", "completion_tokens", "total_tokens", "estimated_content_tokens", "created_at").
		Values(sum.StreamID, sum.Content, string(sourcesJSON), sum.Model, sum.RunID,
			sum.PromptTokens, sum.CompletionTokens, sum.TotalTokens, sum.EstimatedContentTokens, formatTime(at)).
		ToSql()
	if err != nil {
		return err
	}
	result, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("inserting summary: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return err
	}
	sum.ID = id
	sum.CreatedAt = at.UTC()
	return nil
}

// DeleteSummary removes one summary.
func (s *store) DeleteSummary(ctx context.Context, id int64) error {
	result, err := s.q.ExecContext(ctx, "DELETE FROM summaries WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting summary %d: %w", id, err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("summary %d: %w", id, ErrNotFound)
	}
	return nil
}

// PruneSummaries deletes all but the newest keep summaries of a stream and
// returns how many were removed. keep <= 0 removes nothing.
func (s *store) PruneSummaries(ctx context.Context, streamID int64, keep int) (int64, error) {
	if keep <= 0 {
		return 0, nil
	}
	newest := sq.Select("id").From("summaries").
		Where(sq.Eq{"topic_stream_id": streamID}).
		OrderBy(newestFirst).
		Limit(uint64(keep))
	keepSQL, keepArgs, err := newest.ToSql()
	if err != nil {
		return 0, err
	}

	query, args, err := sq.Delete("summaries").
		Where(sq.Eq{"topic_stream_id": streamID}).
		Where(sq.Expr("id NOT IN ("+keepSQL+")", keepArgs...)).
		ToSql()
	if err != nil {
		return 0, err
	}
	result, err := s.q.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("pruning summaries of stream %d: %w", streamID, err)
	}
	return result.RowsAffected()
}

// BackfillTokenEstimates sets estimated_content_tokens from count for every
// summary that has none and returns how many rows changed.
func (s *store) BackfillTokenEstimates(ctx context.Context, count func(string) int) (int, error) {
	type pending struct {
		id      int64
		content string
	}

	var updated int
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx,
			"SELECT id, content FROM summaries WHERE estimated_content_tokens = 0 AND content != ''")
		if err != nil {
			return err
		}
		var todo []pending
		for rows.Next() {
			var p pending
			if err := rows.Scan(&p.id, &p.content); err != nil {
				rows.Close()
				return err
			}
			todo = append(todo, p)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}

		for _, p := range todo {
			n := count(p.content)
			if n <= 0 {
				continue
			}
			if _, err := tx.ExecContext(ctx,
				"UPDATE summaries SET estimated_content_tokens = ? WHERE id = ?", n, p.id); err != nil {
				return fmt.Errorf("updating summary %d: %w", p.id, err)
			}
			updated++
		}
		return nil
	})
	return updated, err
}

// GetStats returns aggregate database statistics.
func (s *store) GetStats(ctx context.Context) (*Stats, error) {
	st := &Stats{}

	queries := []struct {
		sql  string
		dest *int
	}{
		{"SELECT COUNT(*) FROM topic_streams", &st.Streams},
		{"SELECT COUNT(*) FROM topic_streams WHERE last_updated IS NOT NULL", &st.RefreshedStreams},
		{"SELECT COUNT(*) FROM summaries", &st.Summaries},
		{"SELECT COALESCE(SUM(total_tokens), 0) FROM summaries", &st.TotalTokens},
		{"SELECT COALESCE(SUM(estimated_content_tokens), 0) FROM summaries", &st.EstimatedContentTokens},
	}

	for _, q := range queries {
		if err := s.q.QueryRowContext(ctx, q.sql).Scan(q.dest); err != nil {
			return nil, err
		}
	}
	return st, nil
}
