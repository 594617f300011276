// Package topic defines the closed value sets a topic stream is configured
// with. Values arrive as free-form strings from the CLI and the database and
// are parsed here once, so the rest of the code only ever sees valid variants.
package topic

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrInvalidValue is returned (wrapped) by every Parse function.
var ErrInvalidValue = errors.New("invalid value")

func invalid(field, value string, allowed []string) error {
	return fmt.Errorf("%w for %s: %q (expected one of %s)", ErrInvalidValue, field, value, strings.Join(allowed, ", "))
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// Frequency is how often a stream is refreshed.
type Frequency string

const (
	Hourly Frequency = "hourly"
	Daily  Frequency = "daily"
	Weekly Frequency = "weekly"
)

var frequencies = []string{string(Hourly), string(Daily), string(Weekly)}

// ParseFrequency parses a refresh interval class.
func ParseFrequency(s string) (Frequency, error) {
	switch f := Frequency(normalize(s)); f {
	case Hourly, Daily, Weekly:
		return f, nil
	}
	return "", invalid("update frequency", s, frequencies)
}

// Interval returns the recurring trigger interval for the frequency.
func (f Frequency) Interval() time.Duration {
	switch f {
	case Hourly:
		return time.Hour
	case Weekly:
		return 7 * 24 * time.Hour
	default:
		return 24 * time.Hour
	}
}

// DetailLevel controls how long and how broadly researched a summary is.
type DetailLevel string

const (
	Brief         DetailLevel = "brief"
	Detailed      DetailLevel = "detailed"
	Comprehensive DetailLevel = "comprehensive"
)

var detailLevels = []string{string(Brief), string(Detailed), string(Comprehensive)}

// DetailLevels lists every detail level in ascending order.
func DetailLevels() []DetailLevel {
	return []DetailLevel{Brief, Detailed, Comprehensive}
}

// ParseDetailLevel parses a detail level.
func ParseDetailLevel(s string) (DetailLevel, error) {
	switch d := DetailLevel(normalize(s)); d {
	case Brief, Detailed, Comprehensive:
		return d, nil
	}
	return "", invalid("detail level", s, detailLevels)
}

// Model is a generation model offered by the search API.
type Model string

const (
	Sonar             Model = "sonar"
	SonarPro          Model = "sonar-pro"
	SonarReasoning    Model = "sonar-reasoning"
	SonarReasoningPro Model = "sonar-reasoning-pro"
	SonarDeepResearch Model = "sonar-deep-research"
	R1                Model = "r1-1776"
)

var models = []string{
	string(Sonar), string(SonarPro), string(SonarReasoning),
	string(SonarReasoningPro), string(SonarDeepResearch), string(R1),
}

// ParseModel parses a model identifier. Enum-style names ("SONAR_PRO") are
// accepted as well.
func ParseModel(s string) (Model, error) {
	switch m := Model(strings.ReplaceAll(normalize(s), "_", "-")); m {
	case Sonar, SonarPro, SonarReasoning, SonarReasoningPro, SonarDeepResearch, R1:
		return m, nil
	}
	return "", invalid("model", s, models)
}

// IsReasoning reports whether the model spends hidden thinking tokens before
// producing visible output.
func (m Model) IsReasoning() bool {
	switch m {
	case SonarReasoning, SonarReasoningPro, SonarDeepResearch, R1:
		return true
	}
	return false
}

// IsOffline reports whether the model runs without live web search. Offline
// models never receive search options and never report sources.
func (m Model) IsOffline() bool {
	return m == R1
}

// IsDeepResearch reports whether the model is the long-running research class.
func (m Model) IsDeepResearch() bool {
	return m == SonarDeepResearch
}

// ContextPolicy controls how much summary history feeds a refresh.
type ContextPolicy string

const (
	ContextNone            ContextPolicy = "none"
	ContextLast1           ContextPolicy = "last_1"
	ContextLast3           ContextPolicy = "last_3"
	ContextLast5           ContextPolicy = "last_5"
	ContextAllWithinBudget ContextPolicy = "all_within_budget"
)

var contextPolicies = []string{
	string(ContextNone), string(ContextLast1), string(ContextLast3),
	string(ContextLast5), string(ContextAllWithinBudget),
}

// ParseContextPolicy parses a context policy. Hyphenated spellings
// ("last-3") are accepted as well.
func ParseContextPolicy(s string) (ContextPolicy, error) {
	switch p := ContextPolicy(strings.ReplaceAll(normalize(s), "-", "_")); p {
	case ContextNone, ContextLast1, ContextLast3, ContextLast5, ContextAllWithinBudget:
		return p, nil
	}
	return "", invalid("context policy", s, contextPolicies)
}

// FetchCount returns how many prior summaries the policy fetches before the
// token cap is applied. allWithinBudget is the bounded candidate count used
// for ContextAllWithinBudget.
func (p ContextPolicy) FetchCount(allWithinBudget int) int {
	switch p {
	case ContextLast1:
		return 1
	case ContextLast3:
		return 3
	case ContextLast5:
		return 5
	case ContextAllWithinBudget:
		return allWithinBudget
	default:
		return 0
	}
}

// Recency restricts search results to a trailing time window.
type Recency string

const (
	LastHour  Recency = "1h"
	LastDay   Recency = "1d"
	LastWeek  Recency = "1w"
	LastMonth Recency = "1m"
	LastYear  Recency = "1y"
	AllTime   Recency = "all_time"
)

var recencies = []string{
	string(LastHour), string(LastDay), string(LastWeek),
	string(LastMonth), string(LastYear), string(AllTime),
}

// ParseRecency parses a recency filter. The API spellings (hour, day, ...)
// are accepted too.
func ParseRecency(s string) (Recency, error) {
	switch v := normalize(s); v {
	case "hour":
		return LastHour, nil
	case "day":
		return LastDay, nil
	case "week":
		return LastWeek, nil
	case "month":
		return LastMonth, nil
	case "year":
		return LastYear, nil
	case "all", "all-time":
		return AllTime, nil
	default:
		switch r := Recency(v); r {
		case LastHour, LastDay, LastWeek, LastMonth, LastYear, AllTime:
			return r, nil
		}
	}
	return "", invalid("recency filter", s, recencies)
}

// APIValue returns the search_recency_filter value, or "" for AllTime.
func (r Recency) APIValue() string {
	switch r {
	case LastHour:
		return "hour"
	case LastDay:
		return "day"
	case LastWeek:
		return "week"
	case LastMonth:
		return "month"
	case LastYear:
		return "year"
	default:
		return ""
	}
}

// Phrase describes the window in prose for prompts.
func (r Recency) Phrase() string {
	switch r {
	case LastHour:
		return "the past hour"
	case LastDay:
		return "the past day"
	case LastWeek:
		return "the past week"
	case LastMonth:
		return "the past month"
	case LastYear:
		return "the past year"
	default:
		return ""
	}
}
