// Package tokens counts and truncates text in model tokens.
package tokens

import (
	"log/slog"
	"sync"
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"
	tiktoken_loader "github.com/pkoukk/tiktoken-go-loader"
)

// TruncationMarker is appended to text that was cut to fit a budget.
const TruncationMarker = "..."

// charsPerToken is the approximation used when no encoder is available.
const charsPerToken = 4

// Encoder converts between text and token ids.
type Encoder interface {
	Encode(text string) []int
	Decode(tokens []int) string
}

// Budgeter counts and truncates text. The zero value and a nil *Budgeter both
// use the character heuristic. A Budgeter is safe for concurrent use.
type Budgeter struct {
	mu  sync.Mutex
	enc Encoder
}

var (
	defaultOnce     sync.Once
	defaultBudgeter *Budgeter
)

// Default returns the process-wide budgeter backed by the cl100k_base
// encoding, falling back to p50k_base and then to the character heuristic.
func Default() *Budgeter {
	defaultOnce.Do(func() {
		tiktoken.SetBpeLoader(tiktoken_loader.NewOfflineLoader())
		for _, name := range []string{"cl100k_base", "p50k_base"} {
			enc, err := tiktoken.GetEncoding(name)
			if err != nil {
				slog.Warn("tokenizer encoding unavailable", "encoding", name, "err", err)
				continue
			}
			defaultBudgeter = New(tiktokenEncoder{enc})
			slog.Debug("tokenizer ready", "encoding", name)
			return
		}
		slog.Error("no tokenizer encoding available, token counts are approximate")
		defaultBudgeter = NewHeuristic()
	})
	return defaultBudgeter
}

// New returns a budgeter using enc. A nil enc selects the heuristic.
func New(enc Encoder) *Budgeter {
	return &Budgeter{enc: enc}
}

// NewHeuristic returns a budgeter that estimates one token per four characters.
func NewHeuristic() *Budgeter {
	return &Budgeter{}
}

// Count returns the number of tokens in text.
func (b *Budgeter) Count(text string) int {
	if text == "" {
		return 0
	}
	if b == nil || b.enc == nil {
		return heuristicCount(text)
	}
	n, ok := b.encodedLen(text)
	if !ok {
		return heuristicCount(text)
	}
	return n
}

// Truncate returns a prefix of text that fits in maxTokens tokens, with
// TruncationMarker appended when anything was cut. The marker counts against
// the budget. It returns text unchanged when it already fits, and "" with no
// marker when maxTokens <= 0 or is too small to hold the marker itself.
func (b *Budgeter) Truncate(text string, maxTokens int) string {
	if text == "" || maxTokens <= 0 {
		return ""
	}
	if b.Count(text) <= maxTokens {
		return text
	}

	budget := maxTokens - b.Count(TruncationMarker)
	for ; budget > 0; budget-- {
		out := b.prefix(text, budget) + TruncationMarker
		if b.Count(out) <= maxTokens {
			return out
		}
	}
	return ""
}

// prefix returns the longest leading part of text with at most n tokens.
func (b *Budgeter) prefix(text string, n int) string {
	if b == nil || b.enc == nil {
		return runePrefix(text, n*charsPerToken)
	}
	out, ok := b.decodedPrefix(text, n)
	if !ok {
		return runePrefix(text, n*charsPerToken)
	}
	return out
}

func (b *Budgeter) encodedLen(text string) (n int, ok bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	defer func() {
		if r := recover(); r != nil {
			slog.Error("tokenizer failed to encode, using approximation", "panic", r)
			ok = false
		}
	}()
	return len(b.enc.Encode(text)), true
}

func (b *Budgeter) decodedPrefix(text string, n int) (out string, ok bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	defer func() {
		if r := recover(); r != nil {
			slog.Warn("tokenizer failed to decode prefix, using approximation", "panic", r)
			ok = false
		}
	}()
	ids := b.enc.Encode(text)
	if len(ids) > n {
		ids = ids[:n]
	}
	out = b.enc.Decode(ids)
	// A cut through a multi-byte character decodes to a replacement rune;
	// drop tokens until the prefix is clean.
	for out != "" && (!utf8.ValidString(out) || hasTrailingReplacement(out)) {
		if len(ids) == 0 {
			return "", true
		}
		ids = ids[:len(ids)-1]
		out = b.enc.Decode(ids)
	}
	return out, true
}

func hasTrailingReplacement(s string) bool {
	r, _ := utf8.DecodeLastRuneInString(s)
	return r == utf8.RuneError
}

func heuristicCount(text string) int {
	return utf8.RuneCountInString(text) / charsPerToken
}

func runePrefix(text string, n int) string {
	if n <= 0 {
		return ""
	}
	i := 0
	for pos := range text {
		if i == n {
			return text[:pos]
		}
		i++
	}
	return text
}

type tiktokenEncoder struct {
	tk *tiktoken.Tiktoken
}

func (e tiktokenEncoder) Encode(text string) []int {
	return e.tk.Encode(text, nil, nil)
}

func (e tiktokenEncoder) Decode(tokens []int) string {
	return e.tk.Decode(tokens)
}
