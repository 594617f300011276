package llm

import (
	"fmt"

	"github.com/TobiSchelling/trendpulse/internal/topic"
)

// DefaultSystemPrompt is used when a stream has no instruction of its own.
const DefaultSystemPrompt = "You are a helpful assistant that summarizes recent information about the user's query. " +
	"Focus on developments and news from the specified time period. " +
	"Present the key findings clearly and concisely, citing sources. " +
	"Please format your response using markdown for better readability. " +
	"Use markdown formatting for headings, lists, links, emphasis, and any code snippets or tables. " +
	"Include citations with proper markdown hyperlinks."

// followUpSystemPrompt frames questions about an existing summary.
const followUpSystemPrompt = "You are an AI assistant helping to explore a topic based on a previous summary. " +
	"Format your response using markdown for better readability. " +
	"Use markdown formatting for headings, lists, links, emphasis, and any code snippets or tables. " +
	"Include citations with proper markdown hyperlinks."

// topicIntroTurn stands in for the user turn that produced the prior context,
// keeping roles alternating.
const topicIntroTurn = "Please summarize information about the following topic."

// Follow-up questions always use this configuration.
const (
	FollowUpModel     = topic.SonarReasoning
	FollowUpMaxTokens = 4000
	followUpTemp      = 0.2
	followUpContext   = "high"
)

// Message is one chat turn.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// BuildMessages returns the turns for a refresh. Without prior context the
// query is the only user turn. With context, the API requires strict
// user/assistant alternation after the system turn, so the context is
// replayed as an assistant answer to a synthetic user turn.
func BuildMessages(query, context, systemPrompt string) []Message {
	if systemPrompt == "" {
		systemPrompt = DefaultSystemPrompt
	}
	msgs := []Message{{Role: "system", Content: systemPrompt}}
	if context == "" {
		return append(msgs, Message{Role: "user", Content: query})
	}
	return append(msgs,
		Message{Role: "user", Content: topicIntroTurn},
		Message{Role: "assistant", Content: context},
		Message{Role: "user", Content: "Now provide me with the latest updates on: " + query},
	)
}

func followUpMessages(query, question, summary string) []Message {
	framed := fmt.Sprintf("Based on the following summary about '%s':\n\n%s", query, summary)
	return []Message{
		{Role: "system", Content: followUpSystemPrompt},
		{Role: "user", Content: framed + "\n\nFollow-up question: " + question},
	}
}
