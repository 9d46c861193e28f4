package services

import (
	"strings"
	"unicode/utf8"
)

// MaxSummaryLength caps task summaries, in characters.
const MaxSummaryLength = 200

type TaskBrief struct {
	Title       string `json:"title"`
	Description string `json:"description"`
}

// FallbackSummary lists task titles when the summary generator fails.
func FallbackSummary(tasks []TaskBrief) string {
	titles := make([]string, 0, len(tasks))
	for _, t := range tasks {
		if t.Title != "" {
			titles = append(titles, t.Title)
		}
	}
	if len(titles) == 0 {
		return ""
	}
	return truncate("Includes tasks: "+strings.Join(titles, ", "), MaxSummaryLength)
}

func truncate(s string, max int) string {
	s = strings.TrimSpace(s)
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	runes := []rune(s)
	return strings.TrimSpace(string(runes[:max-3])) + "..."
}
