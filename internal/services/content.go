package services

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/arnold/goalcoach-api/internal/models"
	"github.com/arnold/goalcoach-api/internal/validate"
)

var ErrInvalidPayload = errors.New("generated payload does not match schema")

type GoalContentRequest struct {
	Title       string    `json:"title"`
	Description string    `json:"description"`
	GoalID      uuid.UUID `json:"goal_id"`
}

type GeneratedTask struct {
	Title          string `json:"title" validate:"required,max=200"`
	Description    string `json:"description"`
	ArticleContent string `json:"article_content"`
}

type GeneratedQuestion struct {
	Question      string   `json:"question"`
	Options       []string `json:"options"`
	CorrectOption int      `json:"correct_option"`
}

type GeneratedQuiz struct {
	Title     string              `json:"title" validate:"required"`
	Questions []GeneratedQuestion `json:"questions" validate:"min=1"`
	TaskIndex int                 `json:"task_index" validate:"gte=0"`
}

type GoalContent struct {
	Tasks   []GeneratedTask `json:"tasks" validate:"min=1,max=20,dive"`
	Quizzes []GeneratedQuiz `json:"quizzes" validate:"dive"`
	GoalID  string          `json:"goal_id"`
}

// ModelQuestions converts the generated questions to the stored shape.
func (q GeneratedQuiz) ModelQuestions() []models.Question {
	out := make([]models.Question, len(q.Questions))
	for i, gq := range q.Questions {
		out[i] = models.Question{Question: gq.Question, Options: gq.Options, CorrectOption: gq.CorrectOption}
	}
	return out
}

// ParseGoalContent decodes model output strictly. Unknown fields, missing
// tasks, out-of-range quiz references and invalid answer indexes are all
// rejected with ErrInvalidPayload.
func ParseGoalContent(raw string, goalID uuid.UUID) (*GoalContent, error) {
	dec := json.NewDecoder(bytes.NewReader([]byte(stripCodeFence(raw))))
	dec.DisallowUnknownFields()

	var content GoalContent
	if err := dec.Decode(&content); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if err := validate.Struct(content); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	for i, quiz := range content.Quizzes {
		if quiz.TaskIndex >= len(content.Tasks) {
			return nil, fmt.Errorf("%w: quiz %d references task %d of %d", ErrInvalidPayload, i, quiz.TaskIndex, len(content.Tasks))
		}
		for j, q := range quiz.ModelQuestions() {
			if err := validate.Struct(q); err != nil {
				return nil, fmt.Errorf("%w: quiz %d question %d: %v", ErrInvalidPayload, i, j, err)
			}
		}
	}
	if content.GoalID != "" && content.GoalID != goalID.String() {
		return nil, fmt.Errorf("%w: goal_id %q does not match", ErrInvalidPayload, content.GoalID)
	}
	content.GoalID = goalID.String()
	return &content, nil
}

func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimPrefix(s, "json")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
