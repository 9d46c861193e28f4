package imagepoll

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/arnold/goalcoach-api/internal/models"
)

// Record is the slice of a goal row the poller reads.
type Record struct {
	ID           uuid.UUID
	UserID       uuid.UUID
	Title        string
	ImageURL     string
	ImageLoading bool
}

type Store interface {
	GoalImage(ctx context.Context, id uuid.UUID) (Record, error)
	LoadingGoals(ctx context.Context) ([]Record, error)
	// StopLoading clears the loading flag, filling in fallbackURL only when
	// the row has no image URL.
	StopLoading(ctx context.Context, id uuid.UUID, fallbackURL string) error
}

type GormStore struct {
	db *gorm.DB
}

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

func toRecord(g models.Goal) Record {
	rec := Record{
		ID:           g.ID,
		UserID:       g.UserID,
		Title:        g.Title,
		ImageLoading: g.ImageLoading,
	}
	if g.ImageURL != nil {
		rec.ImageURL = *g.ImageURL
	}
	return rec
}

func (s *GormStore) GoalImage(ctx context.Context, id uuid.UUID) (Record, error) {
	var goal models.Goal
	err := s.db.WithContext(ctx).
		Select("id", "user_id", "title", "image_url", "image_loading").
		Where("id = ?", id).
		First(&goal).Error
	if err != nil {
		return Record{}, err
	}
	return toRecord(goal), nil
}

func (s *GormStore) LoadingGoals(ctx context.Context) ([]Record, error) {
	var goals []models.Goal
	err := s.db.WithContext(ctx).
		Select("id", "user_id", "title", "image_url", "image_loading").
		Where("image_loading = ?", true).
		Find(&goals).Error
	if err != nil {
		return nil, err
	}
	recs := make([]Record, len(goals))
	for i, g := range goals {
		recs[i] = toRecord(g)
	}
	return recs, nil
}

func (s *GormStore) StopLoading(ctx context.Context, id uuid.UUID, fallbackURL string) error {
	return s.db.WithContext(ctx).
		Model(&models.Goal{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"image_loading": false,
			"image_url":     gorm.Expr("COALESCE(NULLIF(image_url, ''), ?)", fallbackURL),
		}).Error
}
