package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/chains"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
	"github.com/tmc/langchaingo/memory"
	"github.com/tmc/langchaingo/prompts"

	"github.com/arnold/goalcoach-api/internal/models"
)

const (
	contentPrompt = `You are a financial coach. Break the user's financial goal into 3 to 6 concrete, ordered tasks.
Reply with JSON only, shaped exactly as:
{"tasks":[{"title":"","description":"","article_content":""}],"quizzes":[{"title":"","questions":[{"question":"","options":["",""],"correct_option":0}],"task_index":0}],"goal_id":""}
article_content is a short educational article in markdown. Add at most one quiz per task; task_index is the zero-based task it belongs to.`

	summaryPrompt = `Summarize the following tasks of a financial goal in one sentence of at most 200 characters. Reply with the sentence only.`

	coachPrompt = `You are a friendly, practical financial coach. Give clear, actionable guidance about budgeting, saving, debt and investing. You are not a licensed advisor; say so when asked for regulated advice.`

	concisePrompt = `Keep answers under 80 words.`

	conversationTemplate = `

Current conversation:
{{.history}}
Human: {{.input}}
AI:`

	historyWindow = 10
)

// Apology is stored as the assistant's turn when no reply could be generated.
const Apology = "Sorry, I couldn't generate a response right now. Please try again."

type ContentGenerator interface {
	GenerateGoalContent(ctx context.Context, req GoalContentRequest) (*GoalContent, error)
}

type SummaryGenerator interface {
	SummarizeTasks(ctx context.Context, tasks []TaskBrief) (string, error)
}

type ChatRequest struct {
	Message     string
	ThreadID    string
	ConciseMode bool
	History     []models.ChatMessage
}

type ChatResponder interface {
	Respond(ctx context.Context, req ChatRequest) (string, error)
}

// LLMGenerator serves content, summaries and chat from one langchaingo
// model. Any OpenAI-compatible endpoint works through LLM_BASE_URL.
type LLMGenerator struct {
	llm llms.Model
}

func NewOpenAILLM(token, model, baseURL string) (*openai.LLM, error) {
	opts := []openai.Option{
		openai.WithToken(token),
		openai.WithModel(model),
	}
	if baseURL != "" {
		opts = append(opts, openai.WithBaseURL(baseURL))
	}
	return openai.New(opts...)
}

func NewLLMGenerator(llm llms.Model) *LLMGenerator {
	return &LLMGenerator{llm: llm}
}

func (g *LLMGenerator) complete(ctx context.Context, system, human string, options ...llms.CallOption) (string, error) {
	resp, err := g.llm.GenerateContent(ctx, []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, system),
		llms.TextParts(llms.ChatMessageTypeHuman, human),
	}, options...)
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("model returned no choices")
	}
	return resp.Choices[0].Content, nil
}

func (g *LLMGenerator) GenerateGoalContent(ctx context.Context, req GoalContentRequest) (*GoalContent, error) {
	human := fmt.Sprintf("Goal: %s\nDetails: %s\ngoal_id: %s", req.Title, req.Description, req.GoalID)
	raw, err := g.complete(ctx, contentPrompt, human, llms.WithJSONMode(), llms.WithTemperature(0.4))
	if err != nil {
		return nil, fmt.Errorf("generate goal content: %w", err)
	}
	return ParseGoalContent(raw, req.GoalID)
}

func (g *LLMGenerator) SummarizeTasks(ctx context.Context, tasks []TaskBrief) (string, error) {
	if len(tasks) == 0 {
		return "", errors.New("no tasks to summarize")
	}
	var b strings.Builder
	for i, t := range tasks {
		fmt.Fprintf(&b, "%d. %s: %s\n", i+1, t.Title, t.Description)
	}
	out, err := g.complete(ctx, summaryPrompt, b.String(), llms.WithMaxTokens(80))
	if err != nil {
		return "", fmt.Errorf("summarize tasks: %w", err)
	}
	out = strings.Trim(strings.TrimSpace(out), `"`)
	if out == "" {
		return "", errors.New("empty summary")
	}
	return truncate(out, MaxSummaryLength), nil
}

// Respond replays the thread into a window memory and runs a conversation
// chain for the new message. The coach prompt lives in the chain template so
// the window never pushes it out.
func (g *LLMGenerator) Respond(ctx context.Context, req ChatRequest) (string, error) {
	chatMemory := memory.NewConversationWindowBuffer(historyWindow)
	for _, m := range req.History {
		var err error
		if m.FromAI() {
			err = chatMemory.ChatHistory.AddAIMessage(ctx, m.Content)
		} else {
			err = chatMemory.ChatHistory.AddUserMessage(ctx, m.Content)
		}
		if err != nil {
			return "", fmt.Errorf("load chat history: %w", err)
		}
	}

	maxTokens := 600
	if req.ConciseMode {
		maxTokens = 200
	}
	chain := chains.NewConversation(g.llm, chatMemory)
	chain.Prompt = prompts.NewPromptTemplate(
		systemPrompt(req.ConciseMode)+conversationTemplate,
		[]string{"history", "input"},
	)
	resp, err := chains.Run(ctx, chain, req.Message, chains.WithMaxTokens(maxTokens))
	if err != nil {
		return "", fmt.Errorf("chat response: %w", err)
	}
	resp = strings.TrimSpace(resp)
	if resp == "" {
		return "", errors.New("empty chat response")
	}
	return resp, nil
}

func systemPrompt(concise bool) string {
	if concise {
		return coachPrompt + " " + concisePrompt
	}
	return coachPrompt
}
