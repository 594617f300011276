// Package history assembles prior summaries of a stream into the context
// passed to the next refresh.
package history

import (
	"strings"

	"github.com/TobiSchelling/trendpulse/internal/tokens"
	"github.com/TobiSchelling/trendpulse/internal/topic"
)

// Defaults used when an Assembler field is left zero.
const (
	DefaultTokenCap             = 20000
	DefaultMinFragmentTokens    = 50
	DefaultAllWithinBudgetFetch = 15
	DefaultSeparator            = "\n\n---\n\n"
)

// Assembler builds a token-capped, oldest-first context string.
type Assembler struct {
	Budgeter *tokens.Budgeter
	// TokenCap is the hard limit on the assembled context.
	TokenCap int
	// MinFragmentTokens is the smallest remaining budget worth filling with
	// a truncated summary. Remainders at or below it are dropped.
	MinFragmentTokens int
	// AllWithinBudgetFetch bounds the candidates fetched for
	// topic.ContextAllWithinBudget.
	AllWithinBudgetFetch int
	Separator            string
}

// New returns an Assembler with default limits.
func New(b *tokens.Budgeter) *Assembler {
	return &Assembler{
		Budgeter:             b,
		TokenCap:             DefaultTokenCap,
		MinFragmentTokens:    DefaultMinFragmentTokens,
		AllWithinBudgetFetch: DefaultAllWithinBudgetFetch,
		Separator:            DefaultSeparator,
	}
}

// FetchCount returns how many recent summaries to load for policy.
func (a *Assembler) FetchCount(policy topic.ContextPolicy) int {
	n := a.AllWithinBudgetFetch
	if n <= 0 {
		n = DefaultAllWithinBudgetFetch
	}
	return policy.FetchCount(n)
}

// Assemble joins up to n of the given summaries, which must be ordered
// newest first, into one oldest-first string of at most TokenCap tokens. When
// the next summary does not fit, it is truncated into the remaining budget if
// that budget exceeds MinFragmentTokens, and assembly stops. It returns "" when
// n <= 0 or nothing fits.
func (a *Assembler) Assemble(newestFirst []string, n int) string {
	limit := a.TokenCap
	if n <= 0 || limit <= 0 || len(newestFirst) == 0 {
		return ""
	}
	if n > len(newestFirst) {
		n = len(newestFirst)
	}

	chronological := make([]string, 0, n)
	for i := n - 1; i >= 0; i-- {
		if strings.TrimSpace(newestFirst[i]) == "" {
			continue
		}
		chronological = append(chronological, newestFirst[i])
	}

	sep := a.Separator
	sepCost := a.Budgeter.Count(sep)

	var parts []string
	total := 0
	for _, item := range chronological {
		cost := a.Budgeter.Count(item)
		if len(parts) > 0 {
			cost += sepCost
		}
		if total+cost <= limit {
			parts = append(parts, item)
			total += cost
			continue
		}

		remaining := limit - total
		if len(parts) > 0 {
			remaining -= sepCost
		}
		if remaining > a.MinFragmentTokens {
			if fragment := a.Budgeter.Truncate(item, remaining); fragment != "" {
				parts = append(parts, fragment)
			}
		}
		break
	}

	if len(parts) == 0 {
		return ""
	}
	out := strings.Join(parts, sep)
	// Per-item counts are not strictly additive under BPE; enforce the cap on
	// the joined text.
	if a.Budgeter.Count(out) > limit {
		out = a.Budgeter.Truncate(out, limit)
	}
	return out
}

// AssemblePolicy is Assemble with the fetch count derived from policy.
func (a *Assembler) AssemblePolicy(newestFirst []string, policy topic.ContextPolicy) string {
	return a.Assemble(newestFirst, a.FetchCount(policy))
}
