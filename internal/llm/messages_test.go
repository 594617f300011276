package llm

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TobiSchelling/trendpulse/internal/topic"
)

func TestBuildMessagesWithoutContext(t *testing.T) {
	msgs := BuildMessages("latest on fusion", "", "")
	require.Len(t, msgs, 2)
	assert.Equal(t, Message{Role: "system", Content: DefaultSystemPrompt}, msgs[0])
	assert.Equal(t, Message{Role: "user", Content: "latest on fusion"}, msgs[1])
}

func TestBuildMessagesWithContextAlternates(t *testing.T) {
	msgs := BuildMessages("fusion", "Earlier: ITER delays.", "Be terse.")
	require.Len(t, msgs, 4)

	roles := make([]string, len(msgs))
	for i, m := range msgs {
		roles[i] = m.Role
	}
	assert.Equal(t, []string{"system", "user", "assistant", "user"}, roles)
	assert.Equal(t, "Be terse.", msgs[0].Content)
	assert.Equal(t, "Earlier: ITER delays.", msgs[2].Content)
	assert.Contains(t, msgs[3].Content, "fusion")
}

func TestSettingsMaxTokens(t *testing.T) {
	s := DefaultSettings()
	assert.Equal(t, 512, s.MaxTokens(topic.Brief, topic.Sonar))
	assert.Equal(t, 850, s.MaxTokens(topic.Detailed, topic.SonarPro))
	assert.Equal(t, 1200, s.MaxTokens(topic.Comprehensive, topic.Sonar))
	assert.Equal(t, 2500, s.MaxTokens(topic.Brief, topic.SonarReasoning))
	assert.Equal(t, 5000, s.MaxTokens(topic.Detailed, topic.R1))
	assert.Equal(t, 8000, s.MaxTokens(topic.Comprehensive, topic.SonarDeepResearch))

	s.StandardMaxTokens = map[topic.DetailLevel]int{topic.Brief: 300}
	assert.Equal(t, 300, s.MaxTokens(topic.Brief, topic.Sonar))
	assert.Equal(t, 850, s.MaxTokens(topic.Detailed, topic.Sonar), "missing entries fall back")
}

func TestSettingsTimeout(t *testing.T) {
	s := DefaultSettings()
	assert.Equal(t, 40*time.Minute, s.Timeout(topic.SonarDeepResearch))
	assert.Equal(t, 120*time.Second, s.Timeout(topic.Sonar))

	s.DefaultTimeout = 0
	assert.Equal(t, 120*time.Second, s.Timeout(topic.SonarPro))
}

func TestSettingsSearchContextSize(t *testing.T) {
	s := DefaultSettings()
	assert.Equal(t, "low", s.SearchContextSize(topic.Brief))
	assert.Equal(t, "high", s.SearchContextSize(topic.Comprehensive))
	assert.Equal(t, "medium", Settings{}.SearchContextSize(topic.DetailLevel("other")))
}
