package services

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"

	"github.com/arnold/goalcoach-api/internal/models"
)

// fakeModel replies with a fixed completion and records the last prompt.
type fakeModel struct {
	reply    string
	err      error
	messages []llms.MessageContent
}

func (m *fakeModel) GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	m.messages = messages
	if m.err != nil {
		return nil, m.err
	}
	return &llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: m.reply}}}, nil
}

func (m *fakeModel) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, m, prompt, options...)
}

func TestGenerateGoalContent(t *testing.T) {
	model := &fakeModel{reply: validContent}
	gen := NewLLMGenerator(model)

	goalID := uuid.New()
	content, err := gen.GenerateGoalContent(context.Background(), GoalContentRequest{Title: "Emergency fund", GoalID: goalID})
	require.NoError(t, err)
	assert.Len(t, content.Tasks, 2)
	require.Len(t, model.messages, 2)
	assert.Equal(t, llms.ChatMessageTypeSystem, model.messages[0].Role)
}

func TestGenerateGoalContentPropagatesErrors(t *testing.T) {
	gen := NewLLMGenerator(&fakeModel{err: errors.New("rate limited")})
	_, err := gen.GenerateGoalContent(context.Background(), GoalContentRequest{Title: "x", GoalID: uuid.New()})
	assert.ErrorContains(t, err, "rate limited")

	gen = NewLLMGenerator(&fakeModel{reply: `{"tasks":[]}`})
	_, err = gen.GenerateGoalContent(context.Background(), GoalContentRequest{Title: "x", GoalID: uuid.New()})
	assert.ErrorIs(t, err, ErrInvalidPayload)
}

func TestSummarizeTasks(t *testing.T) {
	gen := NewLLMGenerator(&fakeModel{reply: `"` + strings.Repeat("save ", 60) + `"`})
	out, err := gen.SummarizeTasks(context.Background(), []TaskBrief{{Title: "a"}})
	require.NoError(t, err)
	assert.LessOrEqual(t, len([]rune(out)), MaxSummaryLength)
	assert.False(t, strings.HasPrefix(out, `"`))

	_, err = gen.SummarizeTasks(context.Background(), nil)
	assert.Error(t, err)
}

func TestRespondUsesConversationChain(t *testing.T) {
	model := &fakeModel{reply: "Start with a small weekly transfer."}
	gen := NewLLMGenerator(model)

	history := []models.ChatMessage{
		{Sender: "user-1", Content: "I want to save"},
		{Sender: models.SenderAI, Content: "Great, how much?"},
	}
	out, err := gen.Respond(context.Background(), ChatRequest{Message: "About $50 a week", History: history})
	require.NoError(t, err)
	assert.Equal(t, "Start with a small weekly transfer.", out)

	var prompt strings.Builder
	for _, mc := range model.messages {
		for _, part := range mc.Parts {
			if text, ok := part.(llms.TextContent); ok {
				prompt.WriteString(text.Text)
			}
		}
	}
	assert.Contains(t, prompt.String(), "About $50 a week")
	assert.Contains(t, prompt.String(), "Great, how much?")
}

func TestRespondKeepsCoachPromptOnLongThreads(t *testing.T) {
	model := &fakeModel{reply: "Keep going."}
	gen := NewLLMGenerator(model)

	var history []models.ChatMessage
	history = append(history, models.ChatMessage{Sender: "user-1", Content: "oldest question"})
	for i := 0; i < 2*historyWindow+3; i++ {
		sender := "user-1"
		if i%2 == 0 {
			sender = models.SenderAI
		}
		history = append(history, models.ChatMessage{Sender: sender, Content: "turn"})
	}
	_, err := gen.Respond(context.Background(), ChatRequest{Message: "latest", ConciseMode: true, History: history})
	require.NoError(t, err)

	var prompt strings.Builder
	for _, mc := range model.messages {
		for _, part := range mc.Parts {
			if text, ok := part.(llms.TextContent); ok {
				prompt.WriteString(text.Text)
			}
		}
	}
	assert.True(t, strings.HasPrefix(prompt.String(), coachPrompt))
	assert.Contains(t, prompt.String(), concisePrompt)
	assert.Contains(t, prompt.String(), "Human: latest")
	assert.NotContains(t, prompt.String(), "oldest question")
}

func TestHunyuanMessagesWindow(t *testing.T) {
	var history []models.ChatMessage
	for i := 0; i < 14; i++ {
		sender := "user-1"
		if i%2 == 1 {
			sender = models.SenderAI
		}
		history = append(history, models.ChatMessage{Sender: sender, Content: "turn"})
	}
	msgs := hunyuanMessages(ChatRequest{Message: "next", ConciseMode: true, History: history})

	require.Len(t, msgs, historyWindow+2)
	assert.Equal(t, "system", *msgs[0].Role)
	assert.Contains(t, *msgs[0].Content, concisePrompt)
	assert.Equal(t, "user", *msgs[len(msgs)-1].Role)
	assert.Equal(t, "next", *msgs[len(msgs)-1].Content)
	assert.Equal(t, "assistant", *msgs[2].Role)
}
