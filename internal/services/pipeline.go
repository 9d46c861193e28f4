package services

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/arnold/goalcoach-api/internal/models"
	"github.com/arnold/goalcoach-api/internal/realtime"
)

const DefaultPipelineTimeout = 2 * time.Minute

// Pipeline fills a freshly created goal with generated tasks, quizzes, a
// summary and an image. The content and image branches run concurrently
// and never cancel each other.
type Pipeline struct {
	DB        *gorm.DB
	Hub       *realtime.Hub
	Content   ContentGenerator
	Summaries SummaryGenerator
	Images    ImageGenerator
	Timeout   time.Duration

	wg sync.WaitGroup
}

// Start runs Populate in the background, detached from the request.
func (p *Pipeline) Start(goal models.Goal) {
	timeout := p.Timeout
	if timeout <= 0 {
		timeout = DefaultPipelineTimeout
	}
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		if err := p.Populate(ctx, goal); err != nil {
			log.Printf("pipeline: goal %s: %v", goal.ID, err)
		}
	}()
}

// Wait blocks until every started pipeline has returned.
func (p *Pipeline) Wait() { p.wg.Wait() }

func (p *Pipeline) Populate(ctx context.Context, goal models.Goal) error {
	var g errgroup.Group
	g.Go(func() error { return p.populateContent(ctx, goal) })
	g.Go(func() error { return p.populateImage(ctx, goal) })
	return g.Wait()
}

func (p *Pipeline) populateContent(ctx context.Context, goal models.Goal) error {
	if p.Content == nil {
		return nil
	}
	req := GoalContentRequest{Title: goal.Title, GoalID: goal.ID}
	if goal.Description != nil {
		req.Description = *goal.Description
	}

	content, err := p.Content.GenerateGoalContent(ctx, req)
	if err != nil {
		Notify(p.DB, goal.UserID, NotifyContentFailed, "Couldn't build your plan",
			fmt.Sprintf("We couldn't generate tasks for %q. You can add them yourself.", goal.Title),
			map[string]interface{}{"goalId": goal.ID.String()})
		return fmt.Errorf("content: %w", err)
	}

	tasks, err := p.saveContent(ctx, goal, content)
	if err != nil {
		return fmt.Errorf("save content: %w", err)
	}
	p.publish(goal, realtime.EventTasksPopulated, tasks)

	briefs := make([]TaskBrief, len(tasks))
	for i, t := range tasks {
		briefs[i] = TaskBrief{Title: t.Title, Description: t.Description}
	}
	summary := ""
	if p.Summaries != nil {
		summary, err = p.Summaries.SummarizeTasks(ctx, briefs)
		if err != nil {
			log.Printf("pipeline: summary for goal %s: %v", goal.ID, err)
		}
	}
	if summary == "" {
		summary = FallbackSummary(briefs)
	}
	if summary == "" {
		return nil
	}

	err = p.DB.WithContext(ctx).Model(&models.Goal{}).
		Where("id = ?", goal.ID).
		Update("task_summary", summary).Error
	if err != nil {
		return fmt.Errorf("save summary: %w", err)
	}
	p.publish(goal, realtime.EventSummaryAttached, map[string]string{"taskSummary": summary})

	Notify(p.DB, goal.UserID, NotifyTasksReady, "Your plan is ready",
		fmt.Sprintf("%d tasks were added to %q.", len(tasks), goal.Title),
		map[string]interface{}{"goalId": goal.ID.String()})
	return nil
}

// saveContent inserts tasks after any existing ones, then attaches each
// quiz to the task its index points at.
func (p *Pipeline) saveContent(ctx context.Context, goal models.Goal, content *GoalContent) ([]models.Task, error) {
	var tasks []models.Task
	err := p.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing int64
		if err := tx.Model(&models.Task{}).Where("goal_id = ?", goal.ID).Count(&existing).Error; err != nil {
			return err
		}

		tasks = make([]models.Task, len(content.Tasks))
		for i, gt := range content.Tasks {
			tasks[i] = models.Task{
				GoalID:      goal.ID,
				Title:       gt.Title,
				Description: gt.Description,
				OrderNumber: int(existing) + i,
			}
			if gt.ArticleContent != "" {
				article := gt.ArticleContent
				tasks[i].ArticleContent = &article
			}
		}
		if err := tx.Create(&tasks).Error; err != nil {
			return err
		}

		seen := make(map[int]bool)
		for _, gq := range content.Quizzes {
			if seen[gq.TaskIndex] {
				continue
			}
			seen[gq.TaskIndex] = true
			quiz := models.Quiz{
				TaskID:    tasks[gq.TaskIndex].ID,
				Title:     gq.Title,
				Questions: gq.ModelQuestions(),
			}
			if err := tx.Create(&quiz).Error; err != nil {
				return err
			}
		}
		return nil
	})
	return tasks, err
}

func (p *Pipeline) populateImage(ctx context.Context, goal models.Goal) error {
	if p.Images == nil {
		return nil
	}
	if _, err := p.Images.GenerateGoalImage(ctx, goal.ID, goal.Title); err != nil {
		return fmt.Errorf("image: %w", err)
	}
	return nil
}

func (p *Pipeline) publish(goal models.Goal, eventType string, data interface{}) {
	if p.Hub == nil {
		return
	}
	p.Hub.Publish(realtime.UserTopic(goal.UserID), realtime.Event{
		Type: eventType,
		ID:   goal.ID.String(),
		Data: data,
	})
}
