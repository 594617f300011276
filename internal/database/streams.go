package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"

	"github.com/TobiSchelling/trendpulse/internal/topic"
)

var streamColumns = []string{
	"id", "query", "update_frequency", "detail_level", "model_type", "recency_filter",
	"temperature", "system_prompt", "context_policy", "created_at", "updated_at", "last_updated",
}

type rowScanner interface {
	Scan(dest ...any) error
}

// scanStream reads one stream row, parsing the stored enum strings.
func scanStream(row rowScanner) (*Stream, error) {
	var (
		s                                    Stream
		freq, detail, model, recency, policy string
		createdAt, updatedAt                 string
		lastUpdated                          *string
	)
	if err := row.Scan(&s.ID, &s.Query, &freq, &detail, &model, &recency,
		&s.Temperature, &s.SystemPrompt, &policy, &createdAt, &updatedAt, &lastUpdated); err != nil {
		return nil, err
	}

	var err error
	if s.Frequency, err = topic.ParseFrequency(freq); err != nil {
		return nil, fmt.Errorf("stream %d: %w", s.ID, err)
	}
	if s.Detail, err = topic.ParseDetailLevel(detail); err != nil {
		return nil, fmt.Errorf("stream %d: %w", s.ID, err)
	}
	if s.Model, err = topic.ParseModel(model); err != nil {
		return nil, fmt.Errorf("stream %d: %w", s.ID, err)
	}
	if s.Recency, err = topic.ParseRecency(recency); err != nil {
		return nil, fmt.Errorf("stream %d: %w", s.ID, err)
	}
	if s.ContextPolicy, err = topic.ParseContextPolicy(policy); err != nil {
		return nil, fmt.Errorf("stream %d: %w", s.ID, err)
	}
	if s.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("stream %d created_at: %w", s.ID, err)
	}
	if s.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, fmt.Errorf("stream %d updated_at: %w", s.ID, err)
	}
	if s.LastUpdated, err = parseNullTime(lastUpdated); err != nil {
		return nil, fmt.Errorf("stream %d last_updated: %w", s.ID, err)
	}
	return &s, nil
}

// CreateStream inserts a stream and fills in its ID and timestamps.
func (s *store) CreateStream(ctx context.Context, st *Stream) error {
	now := time.Now()
	var prompt any
	if st.SystemPrompt != nil && *st.SystemPrompt != "" {
		prompt = *st.SystemPrompt
	}
	if st.ContextPolicy == "" {
		st.ContextPolicy = topic.ContextLast1
	}

	query, args, err := sq.Insert("topic_streams").
		Columns("query", "update_frequency", "detail_level", "model_type", "recency_filter",
			"temperature", "system_prompt", "context_policy", "created_at", "updated_at").
		Values(st.Query, string(st.Frequency), string(st.Detail), string(st.Model), string(st.Recency),
			st.Temperature, prompt, string(st.ContextPolicy), formatTime(now), formatTime(now)).
		ToSql()
	if err != nil {
		return err
	}

	result, err := s.q.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("inserting stream: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return err
	}
	st.ID = id
	st.CreatedAt = now.UTC()
	st.UpdatedAt = now.UTC()
	st.LastUpdated = nil
	return nil
}

// GetStream returns the stream with the given ID or ErrNotFound.
func (s *store) GetStream(ctx context.Context, id int64) (*Stream, error) {
	query, args, err := sq.Select(streamColumns...).From("topic_streams").
		Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return nil, err
	}

	st, err := scanStream(s.q.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("stream %d: %w", id, ErrNotFound)
	}
	return st, err
}

// ListStreams returns all streams ordered by ID.
func (s *store) ListStreams(ctx context.Context) ([]Stream, error) {
	query, args, err := sq.Select(streamColumns...).From("topic_streams").
		OrderBy("id").ToSql()
	if err != nil {
		return nil, err
	}

	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var streams []Stream
	for rows.Next() {
		st, err := scanStream(rows)
		if err != nil {
			return nil, err
		}
		streams = append(streams, *st)
	}
	return streams, rows.Err()
}

// UpdateStream applies the non-nil fields of u and returns the updated
// stream.
func (s *store) UpdateStream(ctx context.Context, id int64, u StreamUpdate) (*Stream, error) {
	if u.Empty() {
		return s.GetStream(ctx, id)
	}

	set := map[string]any{"updated_at": formatTime(time.Now())}
	if u.Query != nil {
		set["query"] = *u.Query
	}
	if u.Frequency != nil {
		set["update_frequency"] = string(*u.Frequency)
	}
	if u.Detail != nil {
		set["detail_level"] = string(*u.Detail)
	}
	if u.Model != nil {
		set["model_type"] = string(*u.Model)
	}
	if u.Recency != nil {
		set["recency_filter"] = string(*u.Recency)
	}
	if u.Temperature != nil {
		set["temperature"] = *u.Temperature
	}
	if u.SystemPrompt != nil {
		if *u.SystemPrompt == "" {
			set["system_prompt"] = nil
		} else {
			set["system_prompt"] = *u.SystemPrompt
		}
	}
	if u.ContextPolicy != nil {
		set["context_policy"] = string(*u.ContextPolicy)
	}

	query, args, err := sq.Update("topic_streams").SetMap(set).
		Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return nil, err
	}
	result, err := s.q.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("updating stream %d: %w", id, err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return nil, fmt.Errorf("stream %d: %w", id, ErrNotFound)
	}
	return s.GetStream(ctx, id)
}

// DeleteStream removes a stream and all of its summaries.
func (s *store) DeleteStream(ctx context.Context, id int64) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		// Databases from the previous service lack the cascade.
		if _, err := tx.ExecContext(ctx, "DELETE FROM summaries WHERE topic_stream_id = ?", id); err != nil {
			return fmt.Errorf("deleting summaries of stream %d: %w", id, err)
		}
		result, err := tx.ExecContext(ctx, "DELETE FROM topic_streams WHERE id = ?", id)
		if err != nil {
			return fmt.Errorf("deleting stream %d: %w", id, err)
		}
		if n, _ := result.RowsAffected(); n == 0 {
			return fmt.Errorf("stream %d: %w", id, ErrNotFound)
		}
		return nil
	})
}
