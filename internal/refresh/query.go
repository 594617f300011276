package refresh

import (
	"strings"

	"github.com/TobiSchelling/trendpulse/internal/database"
	"github.com/TobiSchelling/trendpulse/internal/topic"
)

// noContentSentinel is what an answer degenerates to when the API returned
// a choice without text.
const noContentSentinel = "No content available"

// BuildQuery returns the user query sent for a refresh of st. withContext
// reports whether prior summaries accompany the request.
func BuildQuery(st *database.Stream, withContext bool) string {
	var b strings.Builder
	if withContext {
		b.WriteString("Provide ONLY NEW information about ")
		b.WriteString(st.Query)
		b.WriteString(" that wasn't in the previous summary. Focus on recent developments, news, and updates")
	} else {
		switch st.Detail {
		case topic.Brief:
			b.WriteString("Give a brief summary of ")
		case topic.Detailed:
			b.WriteString("Give a detailed analysis of ")
		}
		b.WriteString(st.Query)
	}

	if phrase := st.Recency.Phrase(); phrase != "" {
		b.WriteString(" focusing on information from ")
		b.WriteString(phrase)
	}
	b.WriteString(". Format your response using markdown for better readability.")

	if withContext {
		b.WriteString(" DO NOT repeat information that was already covered previously.")
	}
	return b.String()
}

// isEmptyAnswer reports whether answer carries no content.
func isEmptyAnswer(answer string) bool {
	a := strings.TrimSpace(answer)
	return a == "" || a == noContentSentinel
}
