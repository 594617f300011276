// Package llm is the client for the generative search API: it builds chat
// requests, throttles them, classifies failures and normalizes answers.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/TobiSchelling/trendpulse/internal/topic"
)

// NoNewInfoMessage replaces answers that say nothing changed.
const NoNewInfoMessage = "No new information is available since the last update."

var noNewInfoPatterns = []string{
	"no new information",
	"no additional information",
	"no recent updates",
	"no further information",
	"no significant updates",
	"information remains the same",
	"no notable changes",
}

// Searcher produces summaries. *Client implements it; tests substitute
// fakes.
type Searcher interface {
	Search(ctx context.Context, req Request) (*Result, error)
	FollowUp(ctx context.Context, query, question, summary string) (*Result, error)
}

// Request is one refresh call.
type Request struct {
	Query        string
	Context      string // prior summaries, "" for none
	Model        topic.Model
	Detail       topic.DetailLevel
	Recency      topic.Recency
	Temperature  float64
	SystemPrompt string // "" selects DefaultSystemPrompt
}

// Usage is the provider's token accounting.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Result is a normalized answer.
type Result struct {
	Answer    string
	Sources   []string
	Model     string // as reported by the API
	Usage     Usage
	NoNewInfo bool
}

type webSearchOptions struct {
	SearchContextSize string `json:"search_context_size"`
}

type chatRequest struct {
	Model               string            `json:"model"`
	Messages            []Message         `json:"messages"`
	MaxTokens           int               `json:"max_tokens"`
	Temperature         float64           `json:"temperature"`
	TopP                float64           `json:"top_p,omitempty"`
	SearchRecencyFilter string            `json:"search_recency_filter,omitempty"`
	WebSearchOptions    *webSearchOptions `json:"web_search_options,omitempty"`
}

type chatResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		Citations []Citation `json:"citations"`
	} `json:"choices"`
	Citations     []Citation `json:"citations"`
	SearchResults []Citation `json:"search_results"`
	Usage         Usage      `json:"usage"`
}

// Client calls the chat completions endpoint. It is safe for concurrent
// use; all calls share one rate window.
type Client struct {
	settings Settings
	client   *http.Client
	limiter  *Window
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.client = hc }
}

// WithWindow replaces the rate window built from Settings.
func WithWindow(w *Window) Option {
	return func(c *Client) { c.limiter = w }
}

// NewClient creates a client. Per-call timeouts come from Settings, so the
// HTTP client itself has none.
func NewClient(s Settings, opts ...Option) *Client {
	c := &Client{
		settings: s,
		client:   &http.Client{},
		limiter:  NewWindow(s.RequestsPerMinute),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// IsConfigured checks if the API key is set.
func (c *Client) IsConfigured() bool {
	return c.settings.APIKey != ""
}

// Search asks the model for a summary of req.Query, continuing from
// req.Context when set.
func (c *Client) Search(ctx context.Context, req Request) (*Result, error) {
	payload := chatRequest{
		Model:       string(req.Model),
		Messages:    BuildMessages(req.Query, req.Context, req.SystemPrompt),
		MaxTokens:   c.settings.MaxTokens(req.Detail, req.Model),
		Temperature: req.Temperature,
		TopP:        c.settings.TopP,
	}
	// Offline models cannot search, so they get no search options at all.
	if !req.Model.IsOffline() {
		payload.WebSearchOptions = &webSearchOptions{SearchContextSize: c.settings.SearchContextSize(req.Detail)}
		payload.SearchRecencyFilter = req.Recency.APIValue()
	}

	slog.Debug("search request",
		"model", req.Model, "max_tokens", payload.MaxTokens, "offline", req.Model.IsOffline(),
		"recency", payload.SearchRecencyFilter, "with_context", req.Context != "")

	resp, err := c.complete(ctx, payload, c.settings.Timeout(req.Model))
	if err != nil {
		return nil, err
	}
	return normalize(resp, req.Model, true)
}

// FollowUp answers a question about an existing summary of the stream
// asking query. The exchange is not part of any stream's history.
func (c *Client) FollowUp(ctx context.Context, query, question, summary string) (*Result, error) {
	payload := chatRequest{
		Model:            string(FollowUpModel),
		Messages:         followUpMessages(query, question, summary),
		MaxTokens:        FollowUpMaxTokens,
		Temperature:      followUpTemp,
		TopP:             c.settings.TopP,
		WebSearchOptions: &webSearchOptions{SearchContextSize: followUpContext},
	}
	resp, err := c.complete(ctx, payload, c.settings.Timeout(FollowUpModel))
	if err != nil {
		return nil, err
	}
	return normalize(resp, FollowUpModel, false)
}

// complete performs one throttled POST and decodes the response.
func (c *Client) complete(ctx context.Context, payload chatRequest, timeout time.Duration) (*chatResponse, error) {
	if !c.IsConfigured() {
		return nil, &Error{Kind: KindClient, Err: errors.New("API key not configured")}
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return nil, &Error{Kind: KindClient, Err: fmt.Errorf("marshaling request: %w", err)}
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, &Error{Kind: KindNetwork, Err: fmt.Errorf("waiting for rate limit: %w", err)}
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	url := strings.TrimRight(c.settings.BaseURL, "/") + "/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return nil, &Error{Kind: KindClient, Err: fmt.Errorf("creating request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.settings.APIKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, &Error{Kind: KindNetwork, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody+1))
		if resp.StatusCode == http.StatusTooManyRequests {
			if wait := retryAfter(resp.Header.Get("Retry-After")); wait > 0 {
				c.limiter.Backoff(wait)
			}
		}
		apiErr := statusError(resp.StatusCode, body)
		slog.Warn("search API error", "status", resp.StatusCode, "kind", apiErr.Kind.String())
		return nil, apiErr
	}

	var out chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		if ctx.Err() != nil {
			return nil, &Error{Kind: KindNetwork, Status: resp.StatusCode, Err: fmt.Errorf("reading response: %w", err)}
		}
		return nil, &Error{Kind: KindProcessing, Status: resp.StatusCode, Err: fmt.Errorf("decoding response: %w", err)}
	}
	return &out, nil
}

// normalize turns a raw response into a Result. detectNoNewInfo enables the
// canonical "nothing new" replacement used for refreshes.
func normalize(resp *chatResponse, model topic.Model, detectNoNewInfo bool) (*Result, error) {
	if len(resp.Choices) == 0 {
		return nil, &Error{Kind: KindProcessing, Err: errors.New("response has no choices")}
	}
	choice := resp.Choices[0]

	res := &Result{
		Answer: choice.Message.Content,
		Model:  resp.Model,
		Usage:  resp.Usage,
	}
	if res.Model == "" {
		res.Model = string(model)
	}
	if detectNoNewInfo && HasNoNewInfo(res.Answer) {
		res.Answer = NoNewInfoMessage
		res.NoNewInfo = true
	}

	switch {
	case model.IsOffline():
		res.Sources = []string{}
	case len(resp.Citations) > 0:
		res.Sources = citationURLs(resp.Citations)
	case len(choice.Citations) > 0:
		res.Sources = citationURLs(choice.Citations)
	case len(resp.SearchResults) > 0:
		res.Sources = citationURLs(resp.SearchResults)
	default:
		res.Sources = ExtractSources(res.Answer)
	}
	return res, nil
}

// HasNoNewInfo reports whether answer says nothing has changed.
func HasNoNewInfo(answer string) bool {
	lower := strings.ToLower(answer)
	for _, p := range noNewInfoPatterns {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}

// retryAfter parses a Retry-After header given in seconds.
func retryAfter(v string) time.Duration {
	secs, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil || secs <= 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}
