package database

import (
	"time"

	"github.com/TobiSchelling/trendpulse/internal/topic"
)

// Stream is a user-defined query refreshed on a fixed interval.
type Stream struct {
	ID            int64
	Query         string
	Frequency     topic.Frequency
	Detail        topic.DetailLevel
	Model         topic.Model
	Recency       topic.Recency
	Temperature   float64
	SystemPrompt  *string
	ContextPolicy topic.ContextPolicy
	CreatedAt     time.Time
	UpdatedAt     time.Time
	LastUpdated   *time.Time
}

// StreamUpdate holds the fields to change on a stream; nil fields are left
// as they are.
type StreamUpdate struct {
	Query         *string
	Frequency     *topic.Frequency
	Detail        *topic.DetailLevel
	Model         *topic.Model
	Recency       *topic.Recency
	Temperature   *float64
	SystemPrompt  *string // "" clears the prompt
	ContextPolicy *topic.ContextPolicy
}

// Empty reports whether the update changes nothing.
func (u StreamUpdate) Empty() bool {
	return u.Query == nil && u.Frequency == nil && u.Detail == nil && u.Model == nil &&
		u.Recency == nil && u.Temperature == nil && u.SystemPrompt == nil && u.ContextPolicy == nil
}

// ChangesSchedule reports whether the update affects when the stream runs.
func (u StreamUpdate) ChangesSchedule() bool {
	return u.Frequency != nil
}

// Summary is one persisted refresh result. Summaries are never modified
// after insert.
type Summary struct {
	ID                     int64
	StreamID               int64
	Content                string
	Sources                []string
	Model                  string
	RunID                  string
	PromptTokens           int
	CompletionTokens       int
	TotalTokens            int
	EstimatedContentTokens int
	CreatedAt              time.Time
}

// Stats contains aggregate database statistics.
type Stats struct {
	Streams                int
	RefreshedStreams       int
	Summaries              int
	TotalTokens            int
	EstimatedContentTokens int
}
